/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package sweep

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"runtime"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/telemetry"
)

// RowResult is the condensed outcome of one grid point.
type RowResult struct {
	Index        int
	Overrides    map[string]any
	Status       string
	Objective    float64
	Bound        float64
	ServiceLevel float64
	TotalCost    float64
	LostDemand   float64
	AvgInventory float64
	AvgUtilized  float64
	SetupHours   float64
	Elapsed      time.Duration
	Err          error
}

// Outcome aggregates a finished sweep.
type Outcome struct {
	Name    string
	Rows    []RowResult
	Elapsed time.Duration
}

// Runner executes sweep campaigns with a bounded worker pool.
type Runner struct {
	planner *planner.Planner
	workers int
	bus     events.EventBus
	logger  zerolog.Logger

	// OnResult, when set, is invoked for each finished grid point in
	// completion order. Used to persist incremental progress.
	OnResult func(RowResult)
}

// NewRunner creates a sweep runner. workers <= 0 selects one worker per
// CPU, which matches solving being CPU-bound.
func NewRunner(pl *planner.Planner, workers int, bus events.EventBus, logger zerolog.Logger) *Runner {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	return &Runner{
		planner: pl,
		workers: workers,
		bus:     bus,
		logger:  logger.With().Str("component", "sweep").Logger(),
	}
}

// Run solves every grid point of the configuration against the bundle.
// The error return covers setup problems only; per-point failures land in
// their row and never abort the rest of the grid.
func (r *Runner) Run(ctx context.Context, bundle *dataset.Bundle, cfg *Config) (*Outcome, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	points := cfg.Points()
	start := time.Now()

	r.logger.Info().
		Str("name", cfg.Name).
		Int("points", len(points)).
		Int("workers", r.workers).
		Msg("sweep started")
	r.publish(events.EventSweepStarted, events.Payload{
		"name":   cfg.Name,
		"points": len(points),
	})

	jobs := make(chan Point)
	rowsCh := make(chan RowResult)

	var wg sync.WaitGroup
	for i := 0; i < r.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for point := range jobs {
				telemetry.SweepQueueDepth.Dec()
				rowsCh <- r.solvePoint(ctx, bundle, cfg, point)
			}
		}()
	}

	go func() {
		defer close(jobs)
		for _, point := range points {
			telemetry.SweepQueueDepth.Inc()
			select {
			case jobs <- point:
			case <-ctx.Done():
				telemetry.SweepQueueDepth.Dec()
				return
			}
		}
	}()

	go func() {
		wg.Wait()
		close(rowsCh)
	}()

	rows := make([]RowResult, 0, len(points))
	for row := range rowsCh {
		rows = append(rows, row)
		telemetry.SweepPointsTotal.WithLabelValues(row.Status).Inc()
		if r.OnResult != nil {
			r.OnResult(row)
		}
		r.publish(events.EventSweepProgress, events.Payload{
			"name":      cfg.Name,
			"index":     row.Index,
			"status":    row.Status,
			"completed": len(rows),
			"total":     len(points),
		})
	}

	if err := ctx.Err(); err != nil {
		r.publish(events.EventSweepFailed, events.Payload{"name": cfg.Name, "error": err.Error()})
		return nil, err
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Index < rows[j].Index })

	elapsed := time.Since(start)
	r.logger.Info().
		Str("name", cfg.Name).
		Int("points", len(rows)).
		Dur("elapsed", elapsed).
		Msg("sweep finished")
	r.publish(events.EventSweepCompleted, events.Payload{
		"name":    cfg.Name,
		"points":  len(rows),
		"elapsed": elapsed.String(),
	})

	return &Outcome{Name: cfg.Name, Rows: rows, Elapsed: elapsed}, nil
}

// solvePoint runs one grid point on a private copy of the bundle.
func (r *Runner) solvePoint(ctx context.Context, bundle *dataset.Bundle, cfg *Config, point Point) RowResult {
	row := RowResult{Index: point.Index, Overrides: point.Overrides}

	sc, err := cfg.Scenario(point)
	if err != nil {
		row.Status = "error"
		row.Err = err
		return row
	}

	pointStart := time.Now()
	outcome, err := r.planner.Run(ctx, bundle.Clone(), sc)
	row.Elapsed = time.Since(pointStart)
	if err != nil {
		r.logger.Error().Err(err).Int("index", point.Index).Str("point", point.Label()).Msg("grid point failed")
		row.Status = "error"
		row.Err = err
		return row
	}

	report := outcome.Report
	row.Status = string(report.Status)
	row.Objective = report.Objective
	row.Bound = report.Bound
	if report.KPIs != nil {
		row.ServiceLevel = report.KPIs.ServiceLevel
		row.TotalCost = report.KPIs.TotalCost
		row.AvgInventory = report.KPIs.AvgInventory
	}
	for _, d := range report.Demand {
		row.LostDemand += d.Lost
	}
	if len(report.Summary) > 0 {
		total := 0.0
		for _, s := range report.Summary {
			total += s.Utilization
		}
		row.AvgUtilized = total / float64(len(report.Summary))
	}
	for _, s := range report.Setups {
		row.SetupHours += s.Hours
	}

	r.logger.Info().
		Int("index", point.Index).
		Str("point", point.Label()).
		Str("status", row.Status).
		Float64("objective", row.Objective).
		Dur("elapsed", row.Elapsed).
		Msg("grid point solved")
	return row
}

func (r *Runner) publish(eventType events.EventType, payload events.Payload) {
	if r.bus != nil {
		r.bus.Publish(eventType, payload)
	}
}

// WriteCSV renders the outcome as the flat results table, one row per
// grid point, axis overrides as leading columns.
func (o *Outcome) WriteCSV(w io.Writer) error {
	axes := map[string]bool{}
	for _, row := range o.Rows {
		for name := range row.Overrides {
			axes[name] = true
		}
	}
	axisNames := make([]string, 0, len(axes))
	for name := range axes {
		axisNames = append(axisNames, name)
	}
	sort.Strings(axisNames)

	header := append([]string{"scenario_id"}, axisNames...)
	header = append(header,
		"status", "objective_cost", "bound", "service_level", "total_lost_demand",
		"avg_inventory", "avg_utilization", "total_setup_hours", "elapsed_seconds", "error",
	)

	cw := csv.NewWriter(w)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("write csv header: %w", err)
	}

	for _, row := range o.Rows {
		record := []string{strconv.Itoa(row.Index)}
		for _, name := range axisNames {
			if v, ok := row.Overrides[name]; ok {
				record = append(record, fmt.Sprintf("%v", v))
			} else {
				record = append(record, "")
			}
		}
		errMsg := ""
		if row.Err != nil {
			errMsg = row.Err.Error()
		}
		record = append(record,
			row.Status,
			formatFloat(row.TotalCost),
			formatFloat(row.Bound),
			formatFloat(row.ServiceLevel),
			formatFloat(row.LostDemand),
			formatFloat(row.AvgInventory),
			formatFloat(row.AvgUtilized),
			formatFloat(row.SetupHours),
			formatFloat(row.Elapsed.Seconds()),
			errMsg,
		)
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write csv row %d: %w", row.Index, err)
		}
	}

	cw.Flush()
	return cw.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
