/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/milp"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/solver"
	"github.com/friendsincode/forgeplan/internal/storage"
)

type stubSolver struct{}

func (s *stubSolver) Name() string { return "stub" }

func (s *stubSolver) Solve(ctx context.Context, m *milp.Model, opts solver.Options) (*solver.Result, error) {
	return &solver.Result{Status: solver.StatusOptimal, Objective: 42, Backend: "stub"}, nil
}

type testHarness struct {
	db    *gorm.DB
	store storage.ObjectStore
	bus   *events.Bus
	svc   *Service
}

func newHarness(t *testing.T) *testHarness {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.Dataset{},
		&models.DatasetFile{},
		&models.PlanRun{},
		&models.SweepJob{},
		&models.SweepResult{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	logger := zerolog.Nop()
	store, err := storage.NewFilesystemStore(t.TempDir(), logger)
	if err != nil {
		t.Fatalf("filesystem store: %v", err)
	}
	bus := events.NewBus()

	pl := planner.New(normalize.New())
	pl.NewSolver = func(string) (solver.Solver, error) {
		return &stubSolver{}, nil
	}

	return &testHarness{
		db:    db,
		store: store,
		bus:   bus,
		svc:   New(db, pl, store, nil, bus, 1, 1, logger),
	}
}

func (h *testHarness) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	if err := h.svc.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	t.Cleanup(func() {
		cancel()
		h.svc.Stop()
	})
}

// seedDataset stores the three source tables and their file records.
func (h *testHarness) seedDataset(t *testing.T) string {
	t.Helper()
	datasetID := uuid.NewString()
	if err := h.db.Create(&models.Dataset{ID: datasetID, Name: "plant"}).Error; err != nil {
		t.Fatalf("create dataset: %v", err)
	}

	files := []struct{ kind, name, content string }{
		{"demand", "demand.csv", "PRODUCT,2026-01-01,2026-02-01\nTOP,100,120\n"},
		{"productivity", "productivity.csv", "MODELO,TIPO,11,14\nTOP,LISO,10,8\n"},
		{"costs", "costs.csv", "MODELO;TIPO;UNIT_COST\nTOP;LISO;2,5\n"},
	}
	for _, f := range files {
		key := storage.DatasetKey(datasetID, f.name)
		if err := h.store.Put(context.Background(), key, []byte(f.content)); err != nil {
			t.Fatalf("store %s: %v", f.kind, err)
		}
		rec := &models.DatasetFile{
			ID:         uuid.NewString(),
			DatasetID:  datasetID,
			Kind:       f.kind,
			Filename:   f.name,
			StorageKey: key,
		}
		if err := h.db.Create(rec).Error; err != nil {
			t.Fatalf("file record %s: %v", f.kind, err)
		}
	}
	return datasetID
}

func (h *testHarness) seedRun(t *testing.T, datasetID string) string {
	t.Helper()
	sc := planner.Scenario{StartPeriod: "2026-01-01", EndPeriod: "2026-02-01"}
	raw, err := json.Marshal(sc)
	if err != nil {
		t.Fatalf("marshal scenario: %v", err)
	}
	run := &models.PlanRun{
		ID:        uuid.NewString(),
		DatasetID: datasetID,
		Name:      "test",
		Scenario:  raw,
		Status:    models.RunPending,
	}
	if err := h.db.Create(run).Error; err != nil {
		t.Fatalf("create run: %v", err)
	}
	return run.ID
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("condition never became true")
}

func TestExecuteRunPersistsReport(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	datasetID := h.seedDataset(t)
	runID := h.seedRun(t, datasetID)

	if err := h.svc.EnqueueRun(runID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var run models.PlanRun
	waitFor(t, func() bool {
		if err := h.db.First(&run, "id = ?", runID).Error; err != nil {
			return false
		}
		return run.Status == models.RunCompleted || run.Status == models.RunFailed
	})

	if run.Status != models.RunCompleted {
		t.Fatalf("status = %s, error = %s", run.Status, run.Error)
	}
	if run.SolverStatus != "optimal" || run.Objective != 42 {
		t.Errorf("solver outcome = %s / %v", run.SolverStatus, run.Objective)
	}
	if len(run.Report) == 0 {
		t.Error("no report persisted")
	}
	if run.FinishedAt == nil {
		t.Error("finished_at not set")
	}

	// The raw report is archived to object storage too.
	blob, err := h.store.Get(context.Background(), storage.RunArtifactKey(runID, "report.json"))
	if err != nil {
		t.Fatalf("report artifact: %v", err)
	}
	var archived map[string]any
	if err := json.Unmarshal(blob, &archived); err != nil {
		t.Fatalf("archived report is not JSON: %v", err)
	}
}

func TestExecuteRunFailsOnEmptyDataset(t *testing.T) {
	h := newHarness(t)
	h.start(t)

	datasetID := uuid.NewString()
	if err := h.db.Create(&models.Dataset{ID: datasetID, Name: "empty"}).Error; err != nil {
		t.Fatalf("create dataset: %v", err)
	}
	runID := h.seedRun(t, datasetID)

	if err := h.svc.EnqueueRun(runID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var run models.PlanRun
	waitFor(t, func() bool {
		if err := h.db.First(&run, "id = ?", runID).Error; err != nil {
			return false
		}
		return run.Status == models.RunFailed || run.Status == models.RunCompleted
	})
	if run.Status != models.RunFailed {
		t.Fatalf("status = %s, want failed", run.Status)
	}
	if run.Error == "" {
		t.Error("failed run carries no error message")
	}
}

func TestEnqueueQueueFull(t *testing.T) {
	h := newHarness(t)
	// Service never started, so nothing drains the queue.

	var err error
	for i := 0; i < queueCapacity+1; i++ {
		err = h.svc.EnqueueRun(fmt.Sprintf("run-%d", i))
		if i < queueCapacity && err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("err = %v, want ErrQueueFull", err)
	}
}

func TestExecuteSweepPersistsRows(t *testing.T) {
	h := newHarness(t)
	h.start(t)
	datasetID := h.seedDataset(t)

	cfg := map[string]any{
		"name":  "grid",
		"fixed": map[string]string{"start_period": "2026-01-01", "end_period": "2026-02-01"},
		"axes": map[string][]any{
			"coverage_months": {0.0, 1.0},
		},
	}
	raw, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal config: %v", err)
	}
	sj := &models.SweepJob{
		ID:        uuid.NewString(),
		DatasetID: datasetID,
		Name:      "grid",
		Config:    raw,
		Status:    models.RunPending,
	}
	if err := h.db.Create(sj).Error; err != nil {
		t.Fatalf("create sweep: %v", err)
	}

	if err := h.svc.EnqueueSweep(sj.ID); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	var loaded models.SweepJob
	waitFor(t, func() bool {
		if err := h.db.First(&loaded, "id = ?", sj.ID).Error; err != nil {
			return false
		}
		return loaded.Status == models.RunCompleted || loaded.Status == models.RunFailed
	})
	if loaded.Status != models.RunCompleted {
		t.Fatalf("status = %s, error = %s", loaded.Status, loaded.Error)
	}
	if loaded.TotalRuns != 2 || loaded.CompletedRuns != 2 {
		t.Errorf("runs = %d/%d, want 2/2", loaded.CompletedRuns, loaded.TotalRuns)
	}

	var rows []models.SweepResult
	if err := h.db.Order("run_index asc").Find(&rows, "sweep_job_id = ?", sj.ID).Error; err != nil {
		t.Fatalf("load rows: %v", err)
	}
	if len(rows) != 2 {
		t.Fatalf("rows = %d, want 2", len(rows))
	}

	if _, err := h.store.Get(context.Background(), storage.SweepArtifactKey(sj.ID, "results.csv")); err != nil {
		t.Fatalf("csv artifact: %v", err)
	}
}
