/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/planner"
)

func waitForRun(t *testing.T, env *testEnv, runID string, want models.RunStatus) models.PlanRun {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		var run models.PlanRun
		if err := env.db.First(&run, "id = ?", runID).Error; err != nil {
			t.Fatalf("load run: %v", err)
		}
		if run.Status == want {
			return run
		}
		if run.Status == models.RunFailed && want != models.RunFailed {
			t.Fatalf("run failed: %s", run.Error)
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("run %s never reached %s", runID, want)
	return models.PlanRun{}
}

func testSubmitScenario() planner.Scenario {
	return planner.Scenario{StartPeriod: "2026-01-01", EndPeriod: "2026-03-01"}
}

func TestRunSubmitAndExecute(t *testing.T) {
	env := newTestEnv(t)
	env.startExecutor(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/runs", token, runSubmitRequest{
		DatasetID: ds.ID,
		Name:      "baseline",
		Scenario:  testSubmitScenario(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d: %s", rec.Code, rec.Body.String())
	}
	submitted := decodeBody[runSummary](t, rec)
	if submitted.Status != models.RunPending {
		t.Errorf("submitted status = %s, want pending", submitted.Status)
	}

	run := waitForRun(t, env, submitted.ID, models.RunCompleted)
	if run.SolverStatus != "optimal" {
		t.Errorf("solver status = %q, want optimal", run.SolverStatus)
	}
	if len(run.Report) == 0 {
		t.Error("completed run carries no report")
	}

	report := env.request(t, http.MethodGet, "/api/v1/runs/"+submitted.ID+"/report", token, nil)
	if report.Code != http.StatusOK {
		t.Fatalf("report status = %d: %s", report.Code, report.Body.String())
	}
	body := decodeBody[map[string]any](t, report)
	if body["status"] != "optimal" {
		t.Errorf("report status field = %v", body["status"])
	}
}

func TestRunSubmitRejectsBadScenario(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	sc := testSubmitScenario()
	sc.EndPeriod = "2025-01-01" // before start
	rec := env.request(t, http.MethodPost, "/api/v1/runs", token, runSubmitRequest{
		DatasetID: ds.ID,
		Scenario:  sc,
	})
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
}

func TestRunSubmitUnknownDataset(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)

	rec := env.request(t, http.MethodPost, "/api/v1/runs", token, runSubmitRequest{
		DatasetID: "11111111-1111-1111-1111-111111111111",
		Scenario:  testSubmitScenario(),
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestRunReportNotReady(t *testing.T) {
	env := newTestEnv(t)
	// Executor deliberately not started so the run stays pending.
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/runs", token, runSubmitRequest{
		DatasetID: ds.ID,
		Scenario:  testSubmitScenario(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d", rec.Code)
	}
	submitted := decodeBody[runSummary](t, rec)

	report := env.request(t, http.MethodGet, "/api/v1/runs/"+submitted.ID+"/report", token, nil)
	if report.Code != http.StatusConflict {
		t.Fatalf("report status = %d, want 409", report.Code)
	}
	body := decodeBody[map[string]any](t, report)
	if body["error"] != "report_not_ready" {
		t.Errorf("error = %v", body["error"])
	}
}

func TestRunListFiltersByStatus(t *testing.T) {
	env := newTestEnv(t)
	env.startExecutor(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/runs", token, runSubmitRequest{
		DatasetID: ds.ID,
		Scenario:  testSubmitScenario(),
	})
	if rec.Code != http.StatusAccepted {
		t.Fatalf("submit status = %d", rec.Code)
	}
	submitted := decodeBody[runSummary](t, rec)
	waitForRun(t, env, submitted.ID, models.RunCompleted)

	list := env.request(t, http.MethodGet, "/api/v1/runs?status=completed", token, nil)
	if list.Code != http.StatusOK {
		t.Fatalf("list status = %d", list.Code)
	}
	runs := decodeBody[[]runSummary](t, list)
	if len(runs) != 1 {
		t.Fatalf("completed runs = %d, want 1", len(runs))
	}

	empty := env.request(t, http.MethodGet, "/api/v1/runs?status=failed", token, nil)
	if got := decodeBody[[]runSummary](t, empty); len(got) != 0 {
		t.Errorf("failed runs = %d, want 0", len(got))
	}
}

func TestRunSummaryEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.startExecutor(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/runs", token, runSubmitRequest{
		DatasetID: ds.ID,
		Scenario:  testSubmitScenario(),
	})
	submitted := decodeBody[runSummary](t, rec)
	waitForRun(t, env, submitted.ID, models.RunCompleted)

	sum := env.request(t, http.MethodGet, "/api/v1/runs/"+submitted.ID+"/summary", token, nil)
	if sum.Code != http.StatusOK {
		t.Fatalf("summary status = %d: %s", sum.Code, sum.Body.String())
	}
	body := decodeBody[map[string]any](t, sum)
	if body["status"] != "completed" {
		t.Errorf("status = %v, want completed", body["status"])
	}
	if body["solver_status"] != "optimal" {
		t.Errorf("solver_status = %v, want optimal", body["solver_status"])
	}
	if body["dataset_id"] != ds.ID {
		t.Errorf("dataset_id = %v, want %s", body["dataset_id"], ds.ID)
	}

	missing := env.request(t, http.MethodGet, "/api/v1/runs/22222222-2222-2222-2222-222222222222/summary", token, nil)
	if missing.Code != http.StatusNotFound {
		t.Fatalf("missing run summary status = %d, want 404", missing.Code)
	}
}

func TestRunDelete(t *testing.T) {
	env := newTestEnv(t)
	env.startExecutor(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodPost, "/api/v1/runs", token, runSubmitRequest{
		DatasetID: ds.ID,
		Scenario:  testSubmitScenario(),
	})
	submitted := decodeBody[runSummary](t, rec)
	waitForRun(t, env, submitted.ID, models.RunCompleted)

	del := env.request(t, http.MethodDelete, "/api/v1/runs/"+submitted.ID, token, nil)
	if del.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d: %s", del.Code, del.Body.String())
	}
	var count int64
	env.db.Model(&models.PlanRun{}).Where("id = ?", submitted.ID).Count(&count)
	if count != 0 {
		t.Error("run row survived delete")
	}
}
