/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sweep

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/milp"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/solver"
)

func sweepBundle() *dataset.Bundle {
	b := dataset.NewBundle()
	top := normalize.Key{Model: "TOP", Finish: "LISO"}
	b.Demand[top] = dataset.Series{
		"2026-01-01": 100,
		"2026-02-01": 120,
	}
	b.Productivity[top] = map[string]float64{"11": 10}
	b.Costs[top] = 2.5
	b.Inventory[top] = dataset.Series{"2026-01-01": 30}
	b.Periods = []string{"2026-01-01", "2026-02-01"}
	return b
}

type countingSolver struct {
	mu    sync.Mutex
	calls int
}

func (s *countingSolver) Name() string { return "fake" }

func (s *countingSolver) Solve(ctx context.Context, m *milp.Model, opts solver.Options) (*solver.Result, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	return &solver.Result{
		Status:  solver.StatusOptimal,
		Values:  map[string]float64{},
		Backend: "fake",
	}, nil
}

func sweepConfig() *Config {
	fixed := planner.DefaultScenario()
	fixed.StartPeriod = "2026-01-01"
	fixed.EndPeriod = "2026-02-01"
	fixed.AllowLostSales = true
	fixed.TimeLimit = time.Minute
	return &Config{
		Name:  "test",
		Fixed: fixed,
		Axes: map[string][]any{
			"max_backlog_age": {1, 2},
			"weight_backlog":  {0.1, 0.5},
		},
	}
}

func TestRunnerSolvesAllPoints(t *testing.T) {
	fake := &countingSolver{}
	pl := planner.New(normalize.New())
	pl.NewSolver = func(string) (solver.Solver, error) { return fake, nil }

	runner := NewRunner(pl, 3, nil, zerolog.Nop())

	var seen []int
	runner.OnResult = func(row RowResult) {
		seen = append(seen, row.Index)
	}

	out, err := runner.Run(context.Background(), sweepBundle(), sweepConfig())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(out.Rows))
	}
	if fake.calls != 4 {
		t.Errorf("solver calls = %d, want 4", fake.calls)
	}
	if len(seen) != 4 {
		t.Errorf("OnResult saw %d rows, want 4", len(seen))
	}

	// Rows come back in grid order regardless of completion order.
	for i, row := range out.Rows {
		if row.Index != i {
			t.Errorf("rows[%d].Index = %d", i, row.Index)
		}
		if row.Status != string(solver.StatusOptimal) {
			t.Errorf("rows[%d].Status = %q", i, row.Status)
		}
		if row.Err != nil {
			t.Errorf("rows[%d].Err = %v", i, row.Err)
		}
	}
}

func TestRunnerPerPointFailureDoesNotAbort(t *testing.T) {
	pl := planner.New(normalize.New())
	pl.NewSolver = func(string) (solver.Solver, error) { return &countingSolver{}, nil }

	cfg := sweepConfig()
	// A bad fixed scenario makes every point fail validation.
	cfg.Fixed.Granularity = "bogus"

	runner := NewRunner(pl, 2, nil, zerolog.Nop())
	out, err := runner.Run(context.Background(), sweepBundle(), cfg)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(out.Rows) != 4 {
		t.Fatalf("rows = %d, want 4", len(out.Rows))
	}
	for _, row := range out.Rows {
		if row.Status != "error" || row.Err == nil {
			t.Errorf("row %d = %+v, want error status", row.Index, row)
		}
	}
}

func TestRunnerPublishesLifecycleEvents(t *testing.T) {
	fake := &countingSolver{}
	pl := planner.New(normalize.New())
	pl.NewSolver = func(string) (solver.Solver, error) { return fake, nil }

	bus := events.NewBus()
	started := bus.Subscribe(events.EventSweepStarted)
	completed := bus.Subscribe(events.EventSweepCompleted)

	runner := NewRunner(pl, 1, bus, zerolog.Nop())
	if _, err := runner.Run(context.Background(), sweepBundle(), sweepConfig()); err != nil {
		t.Fatalf("Run: %v", err)
	}

	select {
	case payload := <-started:
		if payload["points"] != 4 {
			t.Errorf("started payload = %v", payload)
		}
	default:
		t.Error("no sweep.started event published")
	}
	select {
	case payload := <-completed:
		if payload["points"] != 4 {
			t.Errorf("completed payload = %v", payload)
		}
	default:
		t.Error("no sweep.completed event published")
	}
}

func TestOutcomeWriteCSV(t *testing.T) {
	out := &Outcome{
		Name: "test",
		Rows: []RowResult{
			{
				Index:        0,
				Overrides:    map[string]any{"max_backlog_age": 1},
				Status:       "optimal",
				TotalCost:    1200.5,
				Bound:        1180.25,
				ServiceLevel: 0.95,
				Elapsed:      2 * time.Second,
			},
			{
				Index:     1,
				Overrides: map[string]any{"max_backlog_age": 2},
				Status:    "error",
				Err:       context.DeadlineExceeded,
			},
		},
	}

	var sb strings.Builder
	if err := out.WriteCSV(&sb); err != nil {
		t.Fatalf("WriteCSV: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(sb.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), sb.String())
	}
	if !strings.HasPrefix(lines[0], "scenario_id,max_backlog_age,status,objective_cost,bound,") {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.HasPrefix(lines[1], "0,1,optimal,1200.5,1180.25,0.95,") {
		t.Errorf("row 0 = %q", lines[1])
	}
	if !strings.Contains(lines[2], "context deadline exceeded") {
		t.Errorf("row 1 = %q", lines[2])
	}
}
