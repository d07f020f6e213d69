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

// GLPK drives the glpsol command-line binary.
type GLPK struct {
	Bin string
}

func (g *GLPK) Name() string { return "glpk" }

func (g *GLPK) bin() string {
	if g.Bin != "" {
		return g.Bin
	}
	return "glpsol"
}

func (g *GLPK) Solve(ctx context.Context, m *milp.Model, opts Options) (*Result, error) {
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

	args := []string{"--lp", lpPath, "-o", solPath}
	if opts.TimeLimit > 0 {
		args = append(args, "--tmlim", strconv.Itoa(int(opts.TimeLimit.Seconds())))
	}

	if opts.TimeLimit > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.TimeLimit+30*time.Second)
		defer cancel()
	}

	log.Debug().Str("backend", "glpk").Str("lp", lpPath).Msg("invoking solver")
	start := time.Now()
	cmd := exec.CommandContext(ctx, g.bin(), args...)
	if _, err := cmd.Output(); err != nil {
		return nil, fmt.Errorf("glpsol: %w", err)
	}
	runtime := time.Since(start)

	res, err := parseGLPKSolution(solPath)
	if err != nil {
		return nil, err
	}
	res.Runtime = runtime
	res.Backend = g.Name()
	return res, nil
}

// parseGLPKSolution reads glpsol's plain-text report. Long column names wrap
// onto their own line with the values following on the next.
func parseGLPKSolution(path string) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("glpk solution: %w", err)
	}
	defer f.Close()

	res := &Result{Status: StatusError, Values: map[string]float64{}}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	inColumns := false
	var pendingName string
	for sc.Scan() {
		line := sc.Text()
		trimmed := strings.TrimSpace(line)

		switch {
		case strings.HasPrefix(trimmed, "Status:"):
			res.Status = glpkStatus(trimmed)
		case strings.HasPrefix(trimmed, "Objective:"):
			if v, ok := glpkObjective(trimmed); ok {
				res.Objective = v
				res.Bound = v
			}
		case strings.HasPrefix(trimmed, "No.") && strings.Contains(trimmed, "Column name"):
			inColumns = true
		case inColumns && strings.HasPrefix(trimmed, "No.") && strings.Contains(trimmed, "Row name"):
			inColumns = false
		case inColumns && trimmed == "":
			inColumns = false
		case inColumns:
			if strings.HasPrefix(trimmed, "---") {
				continue
			}
			fields := strings.Fields(trimmed)
			if pendingName != "" {
				if name, val, ok := glpkColumnValue(append([]string{"0", pendingName}, fields...)); ok {
					res.Values[name] = val
				}
				pendingName = ""
				continue
			}
			if len(fields) == 2 {
				// Wrapped long name, values follow on the next line.
				pendingName = fields[1]
				continue
			}
			if name, val, ok := glpkColumnValue(fields); ok {
				res.Values[name] = val
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	if !res.Status.Usable() {
		res.Values = map[string]float64{}
	}
	return res, nil
}

// glpkColumnValue pulls (name, activity) from a column row. Integer columns
// carry a "*" marker between name and activity.
func glpkColumnValue(fields []string) (string, float64, bool) {
	if len(fields) < 3 {
		return "", 0, false
	}
	name := fields[1]
	rest := fields[2:]
	if rest[0] == "*" {
		rest = rest[1:]
	}
	if len(rest) == 0 {
		return "", 0, false
	}
	v, err := strconv.ParseFloat(rest[0], 64)
	if err != nil {
		return "", 0, false
	}
	return name, v, true
}

func glpkStatus(line string) Status {
	s := strings.ToUpper(line)
	switch {
	// NON-OPTIMAL and INFEASIBLE both contain the shorter keywords, and
	// "HAS NO PRIMAL FEASIBLE SOLUTION" contains FEASIBLE, so order
	// matters here.
	case strings.Contains(s, "NON-OPTIMAL"):
		return StatusTimeLimit
	case strings.Contains(s, "INFEASIBLE"),
		strings.Contains(s, "NO PRIMAL FEASIBLE"),
		strings.Contains(s, "NO DUAL FEASIBLE"),
		strings.Contains(s, "EMPTY"):
		return StatusInfeasible
	case strings.Contains(s, "OPTIMAL"):
		return StatusOptimal
	case strings.Contains(s, "FEASIBLE"):
		return StatusTimeLimit
	case strings.Contains(s, "UNBOUNDED"):
		return StatusUnbounded
	default:
		return StatusError
	}
}

func glpkObjective(line string) (float64, bool) {
	// "Objective:  obj = 140 (MINimum)"
	i := strings.Index(line, "=")
	if i < 0 {
		return 0, false
	}
	rest := strings.TrimSpace(line[i+1:])
	if j := strings.IndexByte(rest, ' '); j > 0 {
		rest = rest[:j]
	}
	v, err := strconv.ParseFloat(rest, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

// Probe checks that a backend binary is actually invocable, used by the
// serve command to report configuration problems at startup instead of on
// the first plan run.
func Probe(ctx context.Context, s Solver) error {
	var bin string
	switch b := s.(type) {
	case *CBC:
		bin = b.bin()
	case *GLPK:
		bin = b.bin()
	default:
		return nil
	}
	if _, err := exec.LookPath(bin); err != nil {
		return fmt.Errorf("solver backend %s: %w", s.Name(), err)
	}
	return nil
}
