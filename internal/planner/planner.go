/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package planner drives one plan run end to end: dataset preparation,
// model assembly, the solver call, and result extraction.
package planner

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/friendsincode/forgeplan/internal/capacity"
	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/milp"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/results"
	"github.com/friendsincode/forgeplan/internal/solver"
	"github.com/friendsincode/forgeplan/internal/telemetry"
)

// Planner is safe for concurrent use; all per-run state lives on the stack.
type Planner struct {
	norm *normalize.Normalizer

	// NewSolver is swappable for tests. Defaults to the backend registry.
	NewSolver func(backend string) (solver.Solver, error)
}

func New(norm *normalize.Normalizer) *Planner {
	return &Planner{norm: norm, NewSolver: solver.New}
}

// RunOutcome bundles everything one run produced, including the artifacts a
// caller may want to persist.
type RunOutcome struct {
	Report      *results.Report
	Scenario    Scenario
	Periods     []string
	Machines    []string
	Diagnostics []dataset.Diagnostic
	BuildTime   time.Duration
	SolveTime   time.Duration
}

// Run executes a scenario against a bundle. Structural infeasibility comes
// back as an error; solver-declared infeasibility comes back as a report
// with that status.
func (pl *Planner) Run(ctx context.Context, bundle *dataset.Bundle, sc Scenario) (*RunOutcome, error) {
	sc.Normalize()
	if err := sc.Validate(); err != nil {
		return nil, err
	}

	buildStart := time.Now()
	in, diags, err := pl.Prepare(bundle, sc)
	if err != nil {
		return nil, err
	}

	build, err := milp.BuildModel(*in)
	if err != nil {
		return nil, err
	}
	buildTime := time.Since(buildStart)

	telemetry.ModelBuildDuration.Observe(buildTime.Seconds())
	telemetry.ModelVariables.Observe(float64(len(build.Model.Vars)))
	telemetry.ModelConstraints.Observe(float64(len(build.Model.Constraints)))

	log.Info().
		Int("periods", len(in.Periods)).
		Int("machines", len(in.Machines)).
		Int("variables", len(build.Model.Vars)).
		Int("constraints", len(build.Model.Constraints)).
		Str("solver", sc.Solver).
		Msg("model built")

	s, err := pl.NewSolver(sc.Solver)
	if err != nil {
		return nil, err
	}
	res, err := s.Solve(ctx, build.Model, solver.Options{
		TimeLimit: sc.TimeLimit,
		Threads:   sc.Threads,
	})
	if err != nil {
		return nil, fmt.Errorf("solve: %w", err)
	}

	telemetry.SolverDuration.WithLabelValues(s.Name(), string(res.Status)).Observe(res.Runtime.Seconds())

	log.Info().
		Str("status", string(res.Status)).
		Float64("objective", res.Objective).
		Dur("runtime", res.Runtime).
		Msg("solve finished")

	if res.Status.Usable() {
		if viols := build.Model.Violations(res.Values, 1e-4); len(viols) > 0 {
			log.Warn().
				Int("count", len(viols)).
				Str("first", viols[0].String()).
				Msg("solver returned a point that fails the model's own constraints")
		}
	}

	return &RunOutcome{
		Report:      results.Extract(build, res),
		Scenario:    sc,
		Periods:     in.Periods,
		Machines:    in.Machines,
		Diagnostics: diags,
		BuildTime:   buildTime,
		SolveTime:   res.Runtime,
	}, nil
}

// Prepare turns a bundle plus scenario into a ready model input. Exposed
// separately so callers can inspect the assembled input without solving.
func (pl *Planner) Prepare(bundle *dataset.Bundle, sc Scenario) (*milp.BuildInput, []dataset.Diagnostic, error) {
	if len(bundle.Demand) == 0 {
		return nil, nil, &dataset.DataError{Source: "demand", Msg: "no demand records loaded"}
	}

	start, err := dataset.CanonicalPeriod(sc.StartPeriod)
	if err != nil {
		return nil, nil, err
	}
	end, err := dataset.CanonicalPeriod(sc.EndPeriod)
	if err != nil {
		return nil, nil, err
	}

	if err := bundle.ExtendHorizon(end, sc.ExtendPolicy); err != nil {
		return nil, nil, err
	}

	periods := horizonPeriods(bundle.Periods, start, end)
	if len(periods) == 0 {
		return nil, nil, &dataset.DataError{
			Source: "demand",
			Msg:    fmt.Sprintf("no periods between %s and %s", start, end),
		}
	}

	machines := sc.Machines
	if len(machines) == 0 {
		machines = bundle.Machines()
	}

	stepHours, integer, err := capacity.StepSize(sc.Granularity, sc.BucketHours, sc.Shifts)
	if err != nil {
		return nil, nil, err
	}

	caps := make(map[string][]float64, len(machines))
	hours := sc.Shifts.HoursPerPeriod()
	for _, m := range machines {
		perPeriod := make([]float64, len(periods))
		for i := range periods {
			perPeriod[i] = hours
		}
		caps[m] = perPeriod
	}

	setupHours := make(map[string]float64, len(machines))
	for _, m := range machines {
		setupHours[m] = sc.setupHoursFor(m)
	}

	initialState := make(map[string]normalize.Key, len(sc.InitialState))
	for m, raw := range sc.InitialState {
		initialState[m] = pl.norm.Normalize(raw)
	}

	demand := make(map[normalize.Key]map[string]float64, len(bundle.Demand))
	for p, series := range bundle.Demand {
		demand[p] = series
	}

	in := &milp.BuildInput{
		Periods:           periods,
		Machines:          machines,
		Demand:            demand,
		Productivity:      bundle.Productivity,
		InitialStock:      bundle.InitialInventory(start),
		UnitCost:          bundle.Costs,
		Capacity:          caps,
		StepHours:         stepHours,
		IntegerSteps:      integer,
		MaxBacklogAge:     sc.MaxBacklogAge,
		CoverageMonths:    sc.CoverageMonths,
		Weights:           sc.Weights,
		SetupHours:        setupHours,
		DefaultSetupHours: sc.SetupHoursLow,
		BigMPolicy:        sc.BigMPolicy,
		AllowLostSales:    sc.AllowLostSales,
		InitialState:      initialState,
		Operators:         sc.Operators,
	}
	return in, bundle.MatchDiagnostics(), nil
}

func horizonPeriods(all []string, start, end string) []string {
	out := make([]string, 0, len(all))
	for _, p := range all {
		if p >= start && p <= end {
			out = append(out, p)
		}
	}
	return out
}
