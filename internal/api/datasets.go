/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/friendsincode/forgeplan/internal/auth"
	"github.com/friendsincode/forgeplan/internal/cache"
	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/storage"
)

const defaultMaxUploadMB = 64

func (a *API) handleDatasetsList(w http.ResponseWriter, r *http.Request) {
	if a.cache != nil {
		if cached, ok := a.cache.GetDatasetList(r.Context()); ok {
			writeJSON(w, http.StatusOK, cached)
			return
		}
	}

	var datasets []models.Dataset
	if err := a.db.WithContext(r.Context()).Order("name ASC").Find(&datasets).Error; err != nil {
		a.logger.Error().Err(err).Msg("list datasets failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	out := make([]cache.CachedDataset, 0, len(datasets))
	for _, d := range datasets {
		out = append(out, cache.CachedDataset{
			ID:          d.ID,
			Name:        d.Name,
			Description: d.Description,
			Products:    d.Products,
			Periods:     d.Periods,
			Machines:    d.Machines,
			UpdatedAt:   d.UpdatedAt.Unix(),
		})
	}

	if a.cache != nil {
		_ = a.cache.SetDatasetList(r.Context(), out)
	}
	writeJSON(w, http.StatusOK, out)
}

func (a *API) handleDatasetsCreate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string `json:"name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_json")
		return
	}
	if req.Name == "" {
		writeError(w, http.StatusBadRequest, "name_required")
		return
	}

	createdBy := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		createdBy = claims.UserID
	}

	ds := models.Dataset{
		ID:          uuid.NewString(),
		Name:        req.Name,
		Description: req.Description,
		CreatedBy:   createdBy,
	}
	if err := a.db.WithContext(r.Context()).Create(&ds).Error; err != nil {
		a.logger.Error().Err(err).Msg("create dataset failed")
		writeError(w, http.StatusConflict, "create_failed")
		return
	}

	if a.cache != nil {
		_ = a.cache.InvalidateDatasetList(r.Context())
	}
	a.bus.Publish(events.EventDatasetCreated, events.Payload{"dataset_id": ds.ID, "name": ds.Name})

	a.logger.Info().Str("dataset_id", ds.ID).Str("name", ds.Name).Msg("dataset created")
	writeJSON(w, http.StatusCreated, ds)
}

func (a *API) handleDatasetsGet(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	if datasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id_required")
		return
	}

	var ds models.Dataset
	result := a.db.WithContext(r.Context()).Preload("Files").First(&ds, "id = ?", datasetID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, ds)
}

// handleDatasetUpload ingests one table file into a dataset. The upload is
// parsed before anything is stored, so a malformed file never pollutes a
// dataset.
func (a *API) handleDatasetUpload(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	if datasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id_required")
		return
	}

	var ds models.Dataset
	result := a.db.WithContext(r.Context()).First(&ds, "id = ?", datasetID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	maxMB := a.maxUploadMB
	if maxMB <= 0 {
		maxMB = defaultMaxUploadMB
	}
	if err := r.ParseMultipartForm(int64(maxMB) << 20); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_multipart")
		return
	}

	kind := dataset.Kind(r.FormValue("kind"))
	if !dataset.ValidKind(kind) {
		writeError(w, http.StatusBadRequest, "invalid_kind")
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, "file_required")
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "read_failed")
		return
	}

	// Parse up front. A dataset.DataError is the client's fault.
	probe := dataset.NewBundle()
	norm := normalize.New()
	if strings.EqualFold(path.Ext(header.Filename), ".xlsx") {
		err = probe.ReadXLSX(kind, bytes.NewReader(data), norm)
	} else {
		err = probe.ReadCSV(kind, bytes.NewReader(data), norm)
	}
	if err != nil {
		var de *dataset.DataError
		if errors.As(err, &de) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  "invalid_file",
				"detail": de.Error(),
			})
			return
		}
		writeError(w, http.StatusBadRequest, "parse_failed")
		return
	}

	uploadedBy := ""
	if claims, ok := auth.ClaimsFromContext(r.Context()); ok {
		uploadedBy = claims.UserID
	}

	fileID := uuid.NewString()
	key := storage.DatasetKey(datasetID, header.Filename)
	if err := a.store.Put(r.Context(), key, data); err != nil {
		a.logger.Error().Err(err).Str("key", key).Msg("store upload failed")
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	rec := models.DatasetFile{
		ID:         fileID,
		DatasetID:  datasetID,
		Kind:       string(kind),
		Filename:   header.Filename,
		StorageKey: key,
		SizeBytes:  int64(len(data)),
		UploadedBy: uploadedBy,
	}
	if err := a.db.WithContext(r.Context()).Create(&rec).Error; err != nil {
		_ = a.store.Delete(r.Context(), key)
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	a.refreshDatasetShape(r, datasetID)

	if a.cache != nil {
		_ = a.cache.InvalidateDatasetList(r.Context())
		_ = a.cache.InvalidateDataset(r.Context(), datasetID)
	}
	a.bus.Publish(events.EventDatasetUpdated, events.Payload{
		"dataset_id": datasetID,
		"kind":       string(kind),
		"filename":   header.Filename,
	})
	a.publishAuditEvent(r, events.EventAuditDatasetUpload, events.Payload{
		"resource_type": "dataset",
		"resource_id":   datasetID,
		"kind":          string(kind),
		"filename":      header.Filename,
		"size_bytes":    rec.SizeBytes,
	})

	a.logger.Info().
		Str("dataset_id", datasetID).
		Str("kind", string(kind)).
		Str("filename", header.Filename).
		Int64("bytes", rec.SizeBytes).
		Msg("dataset file uploaded")

	writeJSON(w, http.StatusCreated, rec)
}

// refreshDatasetShape reparses the full dataset and stores its dimensions.
// Best effort; listing counters lag rather than fail an upload.
func (a *API) refreshDatasetShape(r *http.Request, datasetID string) {
	bundle, err := a.exec.BundleFor(r.Context(), datasetID)
	if err != nil {
		a.logger.Warn().Err(err).Str("dataset_id", datasetID).Msg("refresh dataset shape failed")
		return
	}
	a.db.WithContext(r.Context()).Model(&models.Dataset{}).
		Where("id = ?", datasetID).
		Updates(map[string]any{
			"products": len(bundle.Products()),
			"periods":  len(bundle.Periods),
			"machines": len(bundle.Machines()),
		})
}

func (a *API) handleDatasetFileDownload(w http.ResponseWriter, r *http.Request) {
	fileID := chi.URLParam(r, "fileID")
	if fileID == "" {
		writeError(w, http.StatusBadRequest, "file_id_required")
		return
	}

	var rec models.DatasetFile
	result := a.db.WithContext(r.Context()).First(&rec, "id = ?", fileID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	data, err := a.store.Get(r.Context(), rec.StorageKey)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "not_found")
			return
		}
		writeError(w, http.StatusInternalServerError, "storage_error")
		return
	}

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Disposition", `attachment; filename="`+rec.Filename+`"`)
	_, _ = w.Write(data)
}

// handleDatasetDiagnostics reports key match quality: products that appear
// in demand but have no machine able to produce them, and vice versa.
func (a *API) handleDatasetDiagnostics(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	if datasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id_required")
		return
	}

	bundle, err := a.exec.BundleFor(r.Context(), datasetID)
	if err != nil {
		var de *dataset.DataError
		if errors.As(err, &de) {
			writeJSON(w, http.StatusUnprocessableEntity, map[string]string{
				"error":  "invalid_dataset",
				"detail": de.Error(),
			})
			return
		}
		writeError(w, http.StatusNotFound, "dataset_unreadable")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"dataset_id":  datasetID,
		"products":    bundle.Products(),
		"machines":    bundle.Machines(),
		"periods":     bundle.Periods,
		"diagnostics": bundle.MatchDiagnostics(),
	})
}

func (a *API) handleDatasetsDelete(w http.ResponseWriter, r *http.Request) {
	datasetID := chi.URLParam(r, "datasetID")
	if datasetID == "" {
		writeError(w, http.StatusBadRequest, "dataset_id_required")
		return
	}

	var ds models.Dataset
	result := a.db.WithContext(r.Context()).First(&ds, "id = ?", datasetID)
	if errors.Is(result.Error, gorm.ErrRecordNotFound) {
		writeError(w, http.StatusNotFound, "not_found")
		return
	}
	if result.Error != nil {
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	// Stored objects go first; an interrupted delete leaves the records
	// pointing at missing objects rather than orphaning blobs.
	keys, err := a.store.List(r.Context(), storage.PrefixDatasets+datasetID+"/")
	if err == nil {
		for _, key := range keys {
			if err := a.store.Delete(r.Context(), key); err != nil {
				a.logger.Warn().Err(err).Str("key", key).Msg("delete object failed")
			}
		}
	}

	tx := a.db.WithContext(r.Context()).Begin()
	if err := tx.Delete(&models.DatasetFile{}, "dataset_id = ?", datasetID).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	if err := tx.Delete(&ds).Error; err != nil {
		tx.Rollback()
		writeError(w, http.StatusInternalServerError, "delete_failed")
		return
	}
	tx.Commit()

	if a.cache != nil {
		_ = a.cache.InvalidateDatasetList(r.Context())
		_ = a.cache.InvalidateDataset(r.Context(), datasetID)
	}
	a.bus.Publish(events.EventDatasetDeleted, events.Payload{"dataset_id": datasetID})
	a.publishAuditEvent(r, events.EventAuditDatasetDelete, events.Payload{
		"resource_type": "dataset",
		"resource_id":   datasetID,
		"name":          ds.Name,
	})

	w.WriteHeader(http.StatusNoContent)
}
