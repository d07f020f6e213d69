/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/sweep"
)

func waitForSweep(t *testing.T, env *testEnv, sweepID string) models.SweepJob {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var sj models.SweepJob
		if err := env.db.First(&sj, "id = ?", sweepID).Error; err != nil {
			t.Fatalf("load sweep: %v", err)
		}
		switch sj.Status {
		case models.RunCompleted:
			return sj
		case models.RunFailed:
			t.Fatalf("sweep failed: %s", sj.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("sweep %s never completed", sweepID)
	return models.SweepJob{}
}

func testSweepConfig() sweep.Config {
	return sweep.Config{
		Fixed: testSubmitScenario(),
		Axes: map[string][]any{
			"coverage_months":  {0.0, 1.0},
			"allow_lost_sales": {false, true},
		},
	}
}

func TestSweepSubmitAndExecute(t *testing.T) {
	env := newTestEnv(t)
	env.startExecutor(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/sweeps", token, sweepSubmitRequest{
		DatasetID: ds.ID,
		Name:      "coverage-grid",
		Config:    testSweepConfig(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	submitted := decodeBody[sweepSummary](t, rec)
	if submitted.TotalRuns != 4 {
		t.Errorf("total runs = %d, want 4", submitted.TotalRuns)
	}

	sj := waitForSweep(t, env, submitted.ID)
	if sj.CompletedRuns != 4 {
		t.Errorf("completed runs = %d, want 4", sj.CompletedRuns)
	}

	results := env.request(t, http.MethodGet, "/api/v1/sweeps/"+submitted.ID+"/results", token, nil)
	if results.Code != http.StatusOK {
		t.Fatalf("results status = %d: %s", results.Code, results.Body.String())
	}
	rows := decodeBody[[]models.SweepResult](t, results)
	if len(rows) != 4 {
		t.Fatalf("result rows = %d, want 4", len(rows))
	}
	for _, row := range rows {
		if row.SolverStatus != "optimal" {
			t.Errorf("row %d status = %q", row.RunIndex, row.SolverStatus)
		}
	}

	csv := env.request(t, http.MethodGet, "/api/v1/sweeps/"+submitted.ID+"/results.csv", token, nil)
	if csv.Code != http.StatusOK {
		t.Fatalf("csv status = %d: %s", csv.Code, csv.Body.String())
	}
	if ct := csv.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("content type = %q", ct)
	}
	// Header plus one line per grid point.
	lines := strings.Split(strings.TrimSpace(csv.Body.String()), "\n")
	if len(lines) != 5 {
		t.Errorf("csv lines = %d, want 5", len(lines))
	}
}

func TestSweepSubmitRejectsEmptyAxes(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	cfg := testSweepConfig()
	cfg.Axes = nil
	rec := env.request(t, http.MethodPost, "/api/v1/sweeps", token, sweepSubmitRequest{
		DatasetID: ds.ID,
		Config:    cfg,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestSweepSubmitRejectsUnknownAxis(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	cfg := testSweepConfig()
	cfg.Axes = map[string][]any{"warp_factor": {1.0}}
	rec := env.request(t, http.MethodPost, "/api/v1/sweeps", token, sweepSubmitRequest{
		DatasetID: ds.ID,
		Config:    cfg,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestSweepDelete(t *testing.T) {
	env := newTestEnv(t)
	env.startExecutor(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/sweeps", token, sweepSubmitRequest{
		DatasetID: ds.ID,
		Config:    testSweepConfig(),
	})
	submitted := decodeBody[sweepSummary](t, rec)
	waitForSweep(t, env, submitted.ID)

	del := env.request(t, http.MethodDelete, "/api/v1/sweeps/"+submitted.ID, token, nil)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", del.Code, del.Body.String())
	}
	var jobs, rows int64
	env.db.Model(&models.SweepJob{}).Where("id = ?", submitted.ID).Count(&jobs)
	env.db.Model(&models.SweepResult{}).Where("sweep_job_id = ?", submitted.ID).Count(&rows)
	if jobs != 0 || rows != 0 {
		t.Errorf("rows survived delete: jobs=%d results=%d", jobs, rows)
	}
}

func TestSweepResultsCSVNotReady(t *testing.T) {
	env := newTestEnv(t)
	// Executor not started; the artifact never materializes.
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/sweeps", token, sweepSubmitRequest{
		DatasetID: ds.ID,
		Config:    testSweepConfig(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d", rec.Code)
	}
	submitted := decodeBody[sweepSummary](t, rec)

	csv := env.request(t, http.MethodGet, "/api/v1/sweeps/"+submitted.ID+"/results.csv", token, nil)
	if csv.Code != http.StatusConflict {
		t.Fatalf("csv status = %d, want 409", csv.Code)
	}
}
