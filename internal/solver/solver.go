/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package solver runs an assembled model through an external MILP backend.
// The backend is an opaque oracle: it receives the model in CPLEX LP format,
// returns a status, an objective, a bound and a variable assignment, and is
// never retried or second-guessed.
package solver

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/friendsincode/forgeplan/internal/milp"
)

// Status is the solver's verdict on a model.
type Status string

const (
	StatusOptimal    Status = "optimal"
	StatusTimeLimit  Status = "time_limit"
	StatusInfeasible Status = "infeasible"
	StatusUnbounded  Status = "unbounded"
	StatusError      Status = "error"
)

// Usable reports whether the result carries a variable assignment worth
// extracting. A time-limited run still exposes its incumbent.
func (s Status) Usable() bool {
	return s == StatusOptimal || s == StatusTimeLimit
}

// Result is everything a backend reports about one solve.
type Result struct {
	Status    Status
	Objective float64
	Bound     float64
	Values    map[string]float64
	Runtime   time.Duration
	Backend   string
}

// Options tune one solve without touching the model.
type Options struct {
	TimeLimit time.Duration
	Threads   int
	// WorkDir receives the LP and solution files. Empty means a fresh
	// temporary directory that is removed after the solve.
	WorkDir string
	// KeepFiles leaves the LP and solution files in place for inspection.
	KeepFiles bool
}

// Solver executes a model with a concrete backend.
type Solver interface {
	Name() string
	Solve(ctx context.Context, m *milp.Model, opts Options) (*Result, error)
}

// New returns the backend registered under the given name.
func New(backend string) (Solver, error) {
	switch backend {
	case "cbc", "":
		return &CBC{}, nil
	case "glpk":
		return &GLPK{}, nil
	default:
		return nil, fmt.Errorf("unknown solver backend %q", backend)
	}
}

// Backends lists the registered backend names.
func Backends() []string {
	names := []string{"cbc", "glpk"}
	sort.Strings(names)
	return names
}
