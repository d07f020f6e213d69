/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package executor runs submitted plan runs and sweep jobs in the
// background so API requests return immediately after queuing.
package executor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/forgeplan/internal/cache"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/storage"
	"github.com/friendsincode/forgeplan/internal/sweep"
	"github.com/friendsincode/forgeplan/internal/telemetry"
)

// ErrQueueFull is returned when the job queue cannot accept more work.
var ErrQueueFull = errors.New("executor: job queue full")

const queueCapacity = 64

type jobKind int

const (
	jobRun jobKind = iota
	jobSweep
)

type job struct {
	kind jobKind
	id   string
}

// Service executes queued plan runs and sweep jobs. A small pool of
// workers solves runs one at a time; sweeps parallelize internally.
type Service struct {
	db           *gorm.DB
	planner      *planner.Planner
	store        storage.ObjectStore
	cache        *cache.Cache
	bus          events.EventBus
	workers      int
	sweepWorkers int
	logger       zerolog.Logger

	jobs chan job
	wg   sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	running bool
}

// New creates the executor. workers bounds concurrent plan runs,
// sweepWorkers bounds concurrent solves inside one sweep.
func New(db *gorm.DB, pl *planner.Planner, store storage.ObjectStore, c *cache.Cache, bus events.EventBus, workers, sweepWorkers int, logger zerolog.Logger) *Service {
	if workers <= 0 {
		workers = 2
	}
	return &Service{
		db:           db,
		planner:      pl,
		store:        store,
		cache:        c,
		bus:          bus,
		workers:      workers,
		sweepWorkers: sweepWorkers,
		logger:       logger.With().Str("component", "executor").Logger(),
		jobs:         make(chan job, queueCapacity),
	}
}

// Start launches the worker pool.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return errors.New("executor already running")
	}

	ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	for i := 0; i < s.workers; i++ {
		s.wg.Add(1)
		go s.workerLoop(ctx)
	}

	s.logger.Info().Int("workers", s.workers).Msg("executor started")
	return nil
}

// Stop cancels in-flight work and waits for the workers to exit.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.cancel()
	s.running = false
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info().Msg("executor stopped")
}

// EnqueueRun queues a pending plan run for execution.
func (s *Service) EnqueueRun(runID string) error {
	return s.enqueue(job{kind: jobRun, id: runID})
}

// EnqueueSweep queues a pending sweep job for execution.
func (s *Service) EnqueueSweep(sweepID string) error {
	return s.enqueue(job{kind: jobSweep, id: sweepID})
}

func (s *Service) enqueue(j job) error {
	select {
	case s.jobs <- j:
		return nil
	default:
		return ErrQueueFull
	}
}

func (s *Service) workerLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case j := <-s.jobs:
			switch j.kind {
			case jobRun:
				s.executeRun(ctx, j.id)
			case jobSweep:
				s.executeSweep(ctx, j.id)
			}
		}
	}
}

func (s *Service) executeRun(ctx context.Context, runID string) {
	ctx, span := telemetry.StartSpan(ctx, "executor", "executeRun")
	defer span.End()

	var run models.PlanRun
	if err := s.db.WithContext(ctx).First(&run, "id = ?", runID).Error; err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("load run failed")
		return
	}
	if run.Status != models.RunPending {
		s.logger.Warn().Str("run_id", runID).Str("status", string(run.Status)).Msg("run not pending, skipping")
		return
	}

	now := time.Now()
	if err := s.db.WithContext(ctx).Model(&run).Updates(map[string]any{
		"status":     models.RunRunning,
		"started_at": now,
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("mark run running failed")
		return
	}
	s.bus.Publish(events.EventRunStarted, events.Payload{
		"run_id":     run.ID,
		"dataset_id": run.DatasetID,
		"name":       run.Name,
	})

	var sc planner.Scenario
	if err := json.Unmarshal(run.Scenario, &sc); err != nil {
		s.failRun(ctx, &run, fmt.Errorf("decode scenario: %w", err))
		return
	}

	telemetry.AddSpanAttributes(span, map[string]any{
		"run_id":     run.ID,
		"dataset_id": run.DatasetID,
		"solver":     sc.Solver,
	})

	bundle, err := s.loadBundle(ctx, run.DatasetID)
	if err != nil {
		telemetry.RecordError(span, err)
		s.failRun(ctx, &run, err)
		return
	}

	outcome, err := s.planner.Run(ctx, bundle, sc)
	if err != nil {
		telemetry.RecordError(span, err)
		s.failRun(ctx, &run, err)
		return
	}

	rep := outcome.Report
	reportJSON, err := json.Marshal(rep)
	if err != nil {
		s.failRun(ctx, &run, fmt.Errorf("encode report: %w", err))
		return
	}

	updates := map[string]any{
		"status":        models.RunCompleted,
		"solver_status": string(rep.Status),
		"objective":     rep.Objective,
		"bound":         rep.Bound,
		"report":        reportJSON,
		"build_millis":  outcome.BuildTime.Milliseconds(),
		"solve_millis":  outcome.SolveTime.Milliseconds(),
		"finished_at":   time.Now(),
	}
	if rep.KPIs != nil {
		updates["service_level"] = rep.KPIs.ServiceLevel
		updates["total_cost"] = rep.KPIs.TotalCost
	}
	if err := s.db.WithContext(ctx).Model(&run).Updates(updates).Error; err != nil {
		s.logger.Error().Err(err).Str("run_id", runID).Msg("persist run result failed")
		return
	}

	// The raw report goes to object storage as well so it survives row
	// trimming and can be fetched without the database.
	if err := s.store.Put(ctx, storage.RunArtifactKey(run.ID, "report.json"), reportJSON); err != nil {
		s.logger.Warn().Err(err).Str("run_id", runID).Msg("store report artifact failed")
	}

	if s.cache != nil {
		summary := &cache.CachedRunSummary{
			ID:           run.ID,
			DatasetID:    run.DatasetID,
			Status:       string(models.RunCompleted),
			SolverStatus: string(rep.Status),
			Objective:    rep.Objective,
		}
		if rep.KPIs != nil {
			summary.ServiceLevel = rep.KPIs.ServiceLevel
			summary.TotalCost = rep.KPIs.TotalCost
		}
		_ = s.cache.SetRunSummary(ctx, summary)
		_ = s.cache.SetReport(ctx, run.ID, reportJSON)
	}

	telemetry.PlanRunsTotal.WithLabelValues(string(rep.Status)).Inc()

	payload := events.Payload{
		"run_id":        run.ID,
		"dataset_id":    run.DatasetID,
		"solver_status": string(rep.Status),
		"objective":     rep.Objective,
	}
	if rep.KPIs != nil {
		payload["service_level"] = rep.KPIs.ServiceLevel
		payload["total_cost"] = rep.KPIs.TotalCost
	}
	s.bus.Publish(events.EventRunCompleted, payload)
	s.bus.Publish(events.EventReportUpdated, events.Payload{"run_id": run.ID})

	s.logger.Info().
		Str("run_id", run.ID).
		Str("solver_status", string(rep.Status)).
		Float64("objective", rep.Objective).
		Msg("run completed")
}

func (s *Service) failRun(ctx context.Context, run *models.PlanRun, cause error) {
	s.logger.Error().Err(cause).Str("run_id", run.ID).Msg("run failed")

	if err := s.db.WithContext(ctx).Model(run).Updates(map[string]any{
		"status":      models.RunFailed,
		"error":       cause.Error(),
		"finished_at": time.Now(),
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("run_id", run.ID).Msg("mark run failed failed")
	}

	telemetry.PlanRunsTotal.WithLabelValues("failed").Inc()
	s.bus.Publish(events.EventRunFailed, events.Payload{
		"run_id":     run.ID,
		"dataset_id": run.DatasetID,
		"error":      cause.Error(),
	})
}

func (s *Service) executeSweep(ctx context.Context, sweepID string) {
	var sj models.SweepJob
	if err := s.db.WithContext(ctx).First(&sj, "id = ?", sweepID).Error; err != nil {
		s.logger.Error().Err(err).Str("sweep_id", sweepID).Msg("load sweep failed")
		return
	}
	if sj.Status != models.RunPending {
		s.logger.Warn().Str("sweep_id", sweepID).Str("status", string(sj.Status)).Msg("sweep not pending, skipping")
		return
	}

	var cfg sweep.Config
	if err := json.Unmarshal(sj.Config, &cfg); err != nil {
		s.failSweep(ctx, &sj, fmt.Errorf("decode sweep config: %w", err))
		return
	}
	if cfg.Workers <= 0 {
		cfg.Workers = s.sweepWorkers
	}
	if err := cfg.Validate(); err != nil {
		s.failSweep(ctx, &sj, err)
		return
	}

	total := len(cfg.Points())
	if err := s.db.WithContext(ctx).Model(&sj).Updates(map[string]any{
		"status":     models.RunRunning,
		"total_runs": total,
		"started_at": time.Now(),
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("sweep_id", sweepID).Msg("mark sweep running failed")
		return
	}

	bundle, err := s.loadBundle(ctx, sj.DatasetID)
	if err != nil {
		s.failSweep(ctx, &sj, err)
		return
	}

	runner := sweep.NewRunner(s.planner, cfg.Workers, s.bus, s.logger)
	runner.OnResult = func(row sweep.RowResult) {
		s.persistSweepRow(ctx, sj.ID, row)
	}

	outcome, err := runner.Run(ctx, bundle, &cfg)
	if err != nil {
		s.failSweep(ctx, &sj, err)
		return
	}

	var buf bytes.Buffer
	if err := outcome.WriteCSV(&buf); err != nil {
		s.failSweep(ctx, &sj, fmt.Errorf("export results: %w", err))
		return
	}
	if err := s.store.Put(ctx, storage.SweepArtifactKey(sj.ID, "results.csv"), buf.Bytes()); err != nil {
		s.logger.Warn().Err(err).Str("sweep_id", sj.ID).Msg("store sweep csv failed")
	}

	if s.cache != nil {
		rows := make([]cache.CachedSweepRow, 0, len(outcome.Rows))
		for _, row := range outcome.Rows {
			cached := cache.CachedSweepRow{
				Label:        sweep.Point{Index: row.Index, Overrides: row.Overrides}.Label(),
				SolverStatus: row.Status,
				Objective:    row.Objective,
				ServiceLevel: row.ServiceLevel,
				TotalCost:    row.TotalCost,
			}
			rows = append(rows, cached)
		}
		_ = s.cache.SetSweepRows(ctx, sj.ID, rows)
	}

	if err := s.db.WithContext(ctx).Model(&sj).Updates(map[string]any{
		"status":         models.RunCompleted,
		"completed_runs": len(outcome.Rows),
		"finished_at":    time.Now(),
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("sweep_id", sj.ID).Msg("persist sweep result failed")
		return
	}

	s.logger.Info().
		Str("sweep_id", sj.ID).
		Int("points", len(outcome.Rows)).
		Dur("elapsed", outcome.Elapsed).
		Msg("sweep completed")
}

func (s *Service) persistSweepRow(ctx context.Context, sweepID string, row sweep.RowResult) {
	params, err := json.Marshal(row.Overrides)
	if err != nil {
		params = []byte("{}")
	}

	rec := models.SweepResult{
		ID:           uuid.NewString(),
		SweepJobID:   sweepID,
		RunIndex:     row.Index,
		Params:       params,
		SolverStatus: row.Status,
		Objective:    row.Objective,
		Bound:        row.Bound,
		ServiceLevel: row.ServiceLevel,
		TotalCost:    row.TotalCost,
		SolveMillis:  row.Elapsed.Milliseconds(),
	}
	if row.Err != nil {
		rec.Error = row.Err.Error()
	}

	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		s.logger.Error().Err(err).Str("sweep_id", sweepID).Int("index", row.Index).Msg("persist sweep row failed")
		return
	}

	s.db.WithContext(ctx).Model(&models.SweepJob{}).
		Where("id = ?", sweepID).
		UpdateColumn("completed_runs", gorm.Expr("completed_runs + 1"))
}

func (s *Service) failSweep(ctx context.Context, sj *models.SweepJob, cause error) {
	s.logger.Error().Err(cause).Str("sweep_id", sj.ID).Msg("sweep failed")

	if err := s.db.WithContext(ctx).Model(sj).Updates(map[string]any{
		"status":      models.RunFailed,
		"error":       cause.Error(),
		"finished_at": time.Now(),
	}).Error; err != nil {
		s.logger.Error().Err(err).Str("sweep_id", sj.ID).Msg("mark sweep failed failed")
	}

	s.bus.Publish(events.EventSweepFailed, events.Payload{
		"sweep_id":   sj.ID,
		"dataset_id": sj.DatasetID,
		"error":      cause.Error(),
	})
}
