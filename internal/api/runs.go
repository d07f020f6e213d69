/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/forgeplan/internal/auth"
	"github.com/friendsincode/forgeplan/internal/cache"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/executor"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/storage"
)

type runSubmitRequest struct {
	DatasetID string           `json:"dataset_id"`
	Name      string           `json:"name"`
	Scenario  planner.Scenario `json:"scenario"`
}

// runSummary is the list representation; the report blob stays out of
// listings.
type runSummary struct {
	ID           string           `json:"id"`
	DatasetID    string           `json:"dataset_id"`
	Name         string           `json:"name"`
	Status       models.RunStatus `json:"status"`
	SolverStatus string           `json:"solver_status,omitempty"`
	Objective    float64          `json:"objective"`
	ServiceLevel float64          `json:"service_level"`
	TotalCost    float64          `json:"total_cost"`
	Error        string           `json:"error,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	StartedAt    *time.Time       `json:"started_at,omitempty"`
	FinishedAt   *time.Time       `json:"finished_at,omitempty"`
}

func toRunSummary(r models.PlanRun) runSummary {
	return runSummary{
		ID:           r.ID,
		DatasetID:    r.DatasetID,
		Name:         r.Name,
		Status:       r.Status,
		SolverStatus: r.SolverStatus,
		Objective:    r.Objective,
		ServiceLevel: r.ServiceLevel,
		TotalCost:    r.TotalCost,
		Error:        r.Error,
		CreatedAt:    r.CreatedAt,
		StartedAt:    r.StartedAt,
		FinishedAt:   r.FinishedAt,
	}
}

func (a *API) handleRunsList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context()).Model(&models.PlanRun{})

	if datasetID := r.URL.Query().Get("dataset_id"); datasetID != "" {
		query = query.Where("dataset_id = ?", datasetID)
	}
	if status := r.URL.Query().Get("status"); status != "" {
		query = query.Where("status = ?", status)
	}

	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	var runs []models.PlanRun
	if err := query.Order("created_at DESC").Limit(limit).Find(&runs).Error; err != nil {
		a.logger.Error().Err(err).Msg("list runs failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]runSummary, 0, len(runs))
	for _, run := range runs {
		out = append(out, toRunSummary(run))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleRunsSubmit(w http.ResponseWriter, r *http.Request) {
	var req runSubmitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.DatasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id_required")
		return
	}

	var ds models.Dataset
	result := a.db.WithContext(r.Context()).First(&ds, "id = ?", req.DatasetID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "dataset_not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	sc := req.Scenario
	sc.Normalize()
	if err := sc.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "invalid_scenario",
			"detail": err.Error(),
		})
		return
	}

	scenarioJSON, err := json.Marshal(sc)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "encode_error")
		return
	}

	createdBy := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		createdBy = claims.UserID
	}

	name := req.Name
	if name == "" {
		name = sc.StartPeriod + ".." + sc.EndPeriod
	}

	run := models.PlanRun{
		ID:        uuid.NewString(),
		DatasetID: req.DatasetID,
		Name:      name,
		Scenario:  scenarioJSON,
		Status:    models.RunPending,
		CreatedBy: createdBy,
	}
	if err := a.db.WithContext(r.Context()).Create(&run).Error; err != nil {
		a.logger.Error().Err(err).Msg("create run failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.exec.EnqueueRun(run.ID); err != nil {
		if errors.Is(err, executor.ErrQueueFull) {
			a.db.WithContext(r.Context()).Delete(&run)
			writeError(w, http.StatusServiceUnavailable, "queue_full")
			return
		}
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}

	a.bus.Publish(events.EventRunQueued, events.Payload{
		"run_id":     run.ID,
		"dataset_id": run.DatasetID,
		"name":       run.Name,
	})
	a.publishAuditEvent(r, events.EventAuditRunSubmit, events.Payload{
		"resource_type": "run",
		"resource_id":   run.ID,
		"dataset_id":    run.DatasetID,
		"solver":        sc.Solver,
	})

	writeJSON(w, http.StatusAccepted, toRunSummary(run))
}

func (a *API) handleRunsGet(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id_required")
		return
	}

	var run models.PlanRun
	result := a.db.WithContext(r.Context()).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var scenario json.RawMessage
	if len(run.Scenario) > 0 {
		scenario = json.RawMessage(run.Scenario)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"run":          toRunSummary(run),
		"scenario":     scenario,
		"bound":        run.Bound,
		"build_millis": run.BuildMillis,
		"solve_millis": run.SolveMillis,
	})
}

// handleRunSummary serves the headline numbers of a run. Completed runs are
// answered from the summary cache when possible; the database fallback
// repopulates it.
func (a *API) handleRunSummary(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id_required")
		return
	}

	if a.cache != nil {
		if summary, ok := a.cache.GetRunSummary(r.Context(), runID); ok {
			writeJSON(w, http.StatusOK, summary)
			return
		}
	}

	var run models.PlanRun
	result := a.db.WithContext(r.Context()).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	summary := &cache.CachedRunSummary{
		ID:           run.ID,
		DatasetID:    run.DatasetID,
		Status:       string(run.Status),
		SolverStatus: run.SolverStatus,
		Objective:    run.Objective,
		ServiceLevel: run.ServiceLevel,
		TotalCost:    run.TotalCost,
	}
	// Only settled numbers are worth caching.
	if a.cache != nil && run.Status == models.RunCompleted {
		_ = a.cache.SetRunSummary(r.Context(), summary)
	}
	writeJSON(w, http.StatusOK, summary)
}

func (a *API) handleRunReport(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id_required")
		return
	}

	if a.cache != nil {
		if report, ok := a.cache.GetReport(r.Context(), runID); ok {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write(report)
			return
		}
	}

	var run models.PlanRun
	result := a.db.WithContext(r.Context()).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if run.Status != models.RunCompleted || len(run.Report) == 0 {
		writeJSON(w, http.StatusConflict, map[string]string{
			"error":  "report_not_ready",
			"status": string(run.Status),
		})
		return
	}

	if a.cache != nil {
		_ = a.cache.SetReport(r.Context(), runID, json.RawMessage(run.Report))
	}

	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write(run.Report)
}

func (a *API) handleRunsDelete(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run_id_required")
		return
	}

	var run models.PlanRun
	result := a.db.WithContext(r.Context()).First(&run, "id = ?", runID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if run.Status == models.RunRunning {
		writeError(w, http.StatusConflict, "run_in_progress")
		return
	}

	if keys, err := a.store.List(r.Context(), storage.PrefixRuns+runID+"/"); err == nil {
		for _, key := range keys {
			_ = a.store.Delete(r.Context(), key)
		}
	}

	if err := a.db.WithContext(r.Context()).Delete(&run).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}

	if a.cache != nil {
		_ = a.cache.InvalidateReport(r.Context(), runID)
		_ = a.cache.InvalidateRunSummary(r.Context(), runID)
	}

	w.WriteHeader(http.StatusNoContent)
}

// handleScenarioDefaults returns the server's default scenario so clients
// can prefill plan forms.
func (a *API) handleScenarioDefaults(w http.ResponseWriter, r *http.Request) {
	// A stored override wins over the compiled-in default.
	var setting models.SystemSetting
	result := a.db.WithContext(r.Context()).First(&setting, "key = ?", "default_scenario")
	if result.Error == nil && len(setting.Value) > 0 {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(setting.Value)
		return
	}

	writeJSON(w, http.StatusOK, planner.DefaultScenario())
}
