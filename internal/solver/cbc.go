/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package solver

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/friendsincode/forgeplan/internal/milp"
)

// CBC drives the COIN-OR cbc command-line binary.
type CBC struct {
	// Bin overrides the binary path. Empty means "cbc" on PATH.
	Bin string
}

func (c *CBC) Name() string { return "cbc" }

func (c *CBC) bin() string {
	if c.Bin != "" {
		return c.Bin
	}
	return "cbc"
}

func (c *CBC) Solve(ctx context.Context, m *milp.Model, opts Options) (*Result, error) {
	dir, cleanup, err := workDir(opts)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	lpPath := filepath.Join(dir, "model.lp")
	solPath := filepath.Join(dir, "solution.txt")
	if err := writeLPFile(lpPath, m); err != nil {
		return nil, err
	}

	args := []string{lpPath}
	if opts.TimeLimit > 0 {
		args = append(args, "-seconds", strconv.Itoa(int(opts.TimeLimit.Seconds())))
	}
	if opts.Threads > 0 {
		args = append(args, "-threads", strconv.Itoa(opts.Threads))
	}
	args = append(args, "solve", "solu", solPath)

	if opts.TimeLimit > 0 {
		// The context backstops a hung binary; the solver's own limit plus
		// slack covers normal termination.
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit+30*time.Second)
		defer cancel()
	}

	log.Debug().Str("backend", "cbc").Str("lp", lpPath).Msg("invoking solver")
	start := time.Now()
	cmd := exec.CommandContext(ctx, c.bin(), args...)
	stdout, err := cmd.Output()
	runtime := time.Since(start)
	if err != nil {
		return nil, fmt.Errorf("cbc: %w", err)
	}

	res, err := parseCBCSolution(solPath)
	if err != nil {
		return nil, err
	}
	res.Bound = cbcBestBound(string(stdout), res)
	res.Runtime = runtime
	res.Backend = c.Name()
	return res, nil
}

// parseCBCSolution reads cbc's "solu" output: a status line followed by one
// row per nonzero variable.
func parseCBCSolution(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("cbc solution: %w", err)
	}
	defer f.Close()

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	if !sc.Scan() {
		return nil, fmt.Errorf("cbc solution: empty file %s", path)
	}
	header := sc.Text()

	res := &Result{Status: cbcStatus(header), Values: map[string]float64{}}
	if obj, ok := cbcObjective(header); ok {
		res.Objective = obj
	}
	if !res.Status.Usable() {
		return res, nil
	}

	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		// row index, name, value, reduced cost
		if len(fields) < 3 {
			continue
		}
		// A time-limited incumbent prefixes rows with "**".
		if fields[0] == "**" {
			fields = fields[1:]
		}
		if len(fields) < 3 {
			continue
		}
		val, err := strconv.ParseFloat(fields[2], 64)
		if err != nil {
			continue
		}
		res.Values[fields[1]] = val
	}
	return res, sc.Err()
}

func cbcStatus(header string) Status {
	h := strings.ToLower(header)
	switch {
	case strings.HasPrefix(h, "optimal"):
		return StatusOptimal
	case strings.Contains(h, "time") && strings.Contains(h, "stopped"):
		return StatusTimeLimit
	case strings.Contains(h, "infeasible"):
		return StatusInfeasible
	case strings.Contains(h, "unbounded"):
		return StatusUnbounded
	default:
		return StatusError
	}
}

func cbcObjective(header string) (float64, bool) {
	const marker = "objective value"
	i := strings.Index(strings.ToLower(header), marker)
	if i < 0 {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(header[i+len(marker):]), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// cbcBestBound digs the dual bound out of the solver log. Falls back to the
// objective itself when the run proved optimality.
func cbcBestBound(stdout string, res *Result) float64 {
	const marker = "best possible"
	for _, line := range strings.Split(stdout, "\n") {
		i := strings.Index(strings.ToLower(line), marker)
		if i < 0 {
			continue
		}
		rest := strings.TrimSpace(line[i+len(marker):])
		rest = strings.TrimLeft(rest, ":= ")
		if j := strings.IndexAny(rest, ", )"); j > 0 {
			rest = rest[:j]
		}
		if v, err := strconv.ParseFloat(rest, 64); err == nil {
			return v
		}
	}
	if res.Status == StatusOptimal {
		return res.Objective
	}
	return 0
}

func workDir(opts Options) (string, func(), error) {
	if opts.WorkDir != "" {
		if err := os.MkdirAll(opts.WorkDir, 0o755); err != nil {
			return "", nil, fmt.Errorf("solver workdir: %w", err)
		}
		return opts.WorkDir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "forgeplan-solve-*")
	if err != nil {
		return "", nil, fmt.Errorf("solver workdir: %w", err)
	}
	cleanup := func() {
		if !opts.KeepFiles {
			os.RemoveAll(dir)
		}
	}
	return dir, cleanup, nil
}

func writeLPFile(path string, m *milp.Model) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("write lp: %w", err)
	}
	if err := WriteLP(f, m); err != nil {
		f.Close()
		return fmt.Errorf("write lp: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("write lp: %w", err)
	}
	return nil
}
