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
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/executor"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/storage"
	"github.com/friendsincode/forgeplan/internal/sweep"
)

type sweepSubmitRequest struct {
	DatasetID string       `json:"dataset_id"`
	Name      string       `json:"name"`
	Config    sweep.Config `json:"config"`
}

type sweepSummary struct {
	ID            string           `json:"id"`
	DatasetID     string           `json:"dataset_id"`
	Name          string           `json:"name"`
	Status        models.RunStatus `json:"status"`
	TotalRuns     int              `json:"total_runs"`
	CompletedRuns int              `json:"completed_runs"`
	Error         string           `json:"error,omitempty"`
	CreatedAt     time.Time        `json:"created_at"`
	StartedAt     *time.Time       `json:"started_at,omitempty"`
	FinishedAt    *time.Time       `json:"finished_at,omitempty"`
}

func toSweepSummary(s models.SweepJob) sweepSummary {
	return sweepSummary{
		ID:            s.ID,
		DatasetID:     s.DatasetID,
		Name:          s.Name,
		Status:        s.Status,
		TotalRuns:     s.TotalRuns,
		CompletedRuns: s.CompletedRuns,
		Error:         s.Error,
		CreatedAt:     s.CreatedAt,
		StartedAt:     s.StartedAt,
		FinishedAt:    s.FinishedAt,
	}
}

func (a *API) handleSweepsList(w http.ResponseWriter, r *http.Request) {
	query := a.db.WithContext(r.Context()).Model(&models.SweepJob{})

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

	var jobs []models.SweepJob
	if err := query.Order("created_at DESC").Limit(limit).Find(&jobs).Error; err != nil {
		a.logger.Error().Err(err).Msg("list sweeps failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]sweepSummary, 0, len(jobs))
	for _, job := range jobs {
		out = append(out, toSweepSummary(job))
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleSweepsSubmit(w http.ResponseWriter, r *http.Request) {
	var req sweepSubmitRequest
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

	cfg := req.Config
	if cfg.Name == "" {
		cfg.Name = req.Name
	}
	if err := cfg.Validate(); err != nil {
		writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
			"error":  "invalid_sweep_config",
			"detail": err.Error(),
		})
		return
	}

	configJSON, err := json.Marshal(cfg)
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
		name = cfg.Name
	}

	job := models.SweepJob{
		ID:        uuid.NewString(),
		DatasetID: req.DatasetID,
		Name:      name,
		Config:    configJSON,
		Status:    models.RunPending,
		TotalRuns: len(cfg.Points()),
		CreatedBy: createdBy,
	}
	if err := a.db.WithContext(r.Context()).Create(&job).Error; err != nil {
		a.logger.Error().Err(err).Msg("create sweep failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if err := a.exec.EnqueueSweep(job.ID); err != nil {
		if errors.Is(err, executor.ErrQueueFull) {
			a.db.WithContext(r.Context()).Delete(&job)
			writeError(w, http.StatusServiceUnavailable, "queue_full")
			return
		}
		writeError(w, http.StatusInternalServerError, "enqueue_failed")
		return
	}

	a.publishAuditEvent(r, events.EventAuditSweepSubmit, events.Payload{
		"resource_type": "sweep",
		"resource_id":   job.ID,
		"dataset_id":    job.DatasetID,
		"points":        job.TotalRuns,
	})

	writeJSON(w, http.StatusAccepted, toSweepSummary(job))
}

func (a *API) handleSweepsGet(w http.ResponseWriter, r *http.Request) {
	sweepID := chi.URLParam(r, "sweepID")
	if sweepID == "" {
		writeError(w, http.StatusBadRequest, "sweep_id_required")
		return
	}

	var job models.SweepJob
	result := a.db.WithContext(r.Context()).First(&job, "id = ?", sweepID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	var config json.RawMessage
	if len(job.Config) > 0 {
		config = json.RawMessage(job.Config)
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"sweep":  toSweepSummary(job),
		"config": config,
	})
}

func (a *API) handleSweepResults(w http.ResponseWriter, r *http.Request) {
	sweepID := chi.URLParam(r, "sweepID")
	if sweepID == "" {
		writeError(w, http.StatusBadRequest, "sweep_id_required")
		return
	}

	if a.cache != nil {
		if rows, ok := a.cache.GetSweepRows(r.Context(), sweepID); ok {
			writeJSON(w, http.StatusOK, rows)
			return
		}
	}

	var rows []models.SweepResult
	if err := a.db.WithContext(r.Context()).
		Where("sweep_job_id = ?", sweepID).
		Order("run_index ASC").
		Find(&rows).Error; err != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, rows)
}

func (a *API) handleSweepsDelete(w http.ResponseWriter, r *http.Request) {
	sweepID := chi.URLParam(r, "sweepID")
	if sweepID == "" {
		writeError(w, http.StatusBadRequest, "sweep_id_required")
		return
	}

	var job models.SweepJob
	result := a.db.WithContext(r.Context()).First(&job, "id = ?", sweepID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	if job.Status == models.RunRunning {
		writeError(w, http.StatusConflict, "sweep_in_progress")
		return
	}

	if keys, err := a.store.List(r.Context(), storage.PrefixSweeps+sweepID+"/"); err == nil {
		for _, key := range keys {
			_ = a.store.Delete(r.Context(), key)
		}
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Delete(&models.SweepResult{}, "sweep_job_id = ?", sweepID).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	if err := tx.Delete(&job).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	tx.Commit()

	if a.cache != nil {
		_ = a.cache.InvalidateSweep(r.Context(), sweepID)
	}

	w.WriteHeader(http.StatusNoContent)
}

func (a *API) handleSweepResultsCSV(w http.ResponseWriter, r *http.Request) {
	sweepID := chi.URLParam(r, "sweepID")
	if sweepID == "" {
		writeError(w, http.StatusBadRequest, "sweep_id_required")
		return
	}

	data, err := a.store.Get(r.Context(), storage.SweepArtifactKey(sweepID, "results.csv"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "results_not_ready"})
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="sweep-`+sweepID+`.csv"`)
	_, _ = w.Write(data)
}
