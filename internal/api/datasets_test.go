/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/storage"
)

const demandCSV = `Forecast export
PRODUCT,2026-01-01,2026-02-01,2026-03-01
BALAO 9,100,120,90
BALAO NEON 9,50,40,60
`

const productivityCSV = `Productivity matrix
MODELO,TIPO,11,14
BALAO 9,LISO,12.5,8
BALAO 9,NEON,10,6
`

const costsCSV = "MODELO;TIPO;UNIT_COST\nBALAO 9;LISO;1,75\nBALAO 9;NEON;2,10\n"

func (e *testEnv) createDataset(t *testing.T, token, name string) models.Dataset {
	t.Helper()
	rec := e.request(t, http.MethodPost, "/api/v1/datasets", token, map[string]string{
		"name": name,
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create dataset status = %d: %s", rec.Code, rec.Body.String())
	}
	return decodeBody[models.Dataset](t, rec)
}

func (e *testEnv) uploadFile(t *testing.T, token, datasetID, kind, filename, content string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if err := mw.WriteField("kind", kind); err != nil {
		t.Fatalf("write field: %v", err)
	}
	fw, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatalf("create form file: %v", err)
	}
	if _, err := io.WriteString(fw, content); err != nil {
		t.Fatalf("write file: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close writer: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/datasets/"+datasetID+"/files", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// seedPlanningDataset uploads the three tables a solve needs.
func (e *testEnv) seedPlanningDataset(t *testing.T, token string) models.Dataset {
	t.Helper()
	ds := e.createDataset(t, token, "balloon-plant")
	for _, f := range []struct{ kind, name, content string }{
		{"demand", "demand.csv", demandCSV},
		{"productivity", "productivity.csv", productivityCSV},
		{"costs", "costs.csv", costsCSV},
	} {
		if rec := e.uploadFile(t, token, ds.ID, f.kind, f.name, f.content); rec.Code != http.StatusCreated {
			t.Fatalf("upload %s status = %d: %s", f.kind, rec.Code, rec.Body.String())
		}
	}
	return ds
}

func TestDatasetUploadAndShape(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)

	ds := env.createDataset(t, token, "q1")
	rec := env.uploadFile(t, token, ds.ID, "demand", "demand.csv", demandCSV)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d: %s", rec.Code, rec.Body.String())
	}
	file := decodeBody[models.DatasetFile](t, rec)
	if file.Kind != "demand" || file.DatasetID != ds.ID {
		t.Errorf("file record = %+v", file)
	}

	// The raw bytes land in object storage under the dataset prefix.
	stored, err := env.store.Get(context.Background(), storage.DatasetKey(ds.ID, "demand.csv"))
	if err != nil {
		t.Fatalf("stored object: %v", err)
	}
	if string(stored) != demandCSV {
		t.Error("stored object does not match upload")
	}

	// Shape counters refresh on upload.
	var reloaded models.Dataset
	if err := env.db.First(&reloaded, "id = ?", ds.ID).Error; err != nil {
		t.Fatalf("reload dataset: %v", err)
	}
	if reloaded.Products != 2 || reloaded.Periods != 3 {
		t.Errorf("shape = %d products, %d periods; want 2, 3", reloaded.Products, reloaded.Periods)
	}
}

func TestDatasetUploadRejectsUnknownKind(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.createDataset(t, token, "q1")

	rec := env.uploadFile(t, token, ds.ID, "recipes", "recipes.csv", demandCSV)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestDatasetUploadRejectsMalformedFile(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.createDataset(t, token, "q1")

	rec := env.uploadFile(t, token, ds.ID, "demand", "demand.csv", "no header here\njust,junk\n")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d, want 422: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]string](t, rec)
	if body["error"] != "invalid_file" {
		t.Errorf("error = %q", body["error"])
	}

	// A rejected upload must leave no trace.
	var count int64
	env.db.Model(&models.DatasetFile{}).Where("dataset_id = ?", ds.ID).Count(&count)
	if count != 0 {
		t.Errorf("dataset files = %d, want 0", count)
	}
}

func TestDatasetListIncludesShape(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodGet, "/api/v1/datasets", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	list := decodeBody[[]map[string]any](t, rec)
	if len(list) != 1 {
		t.Fatalf("datasets = %d, want 1", len(list))
	}
	if got := list[0]["products"].(float64); got != 2 {
		t.Errorf("products = %v, want 2", got)
	}
	if got := list[0]["machines"].(float64); got != 2 {
		t.Errorf("machines = %v, want 2", got)
	}
}

func TestDatasetFileDownload(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.createDataset(t, token, "q1")

	rec := env.uploadFile(t, token, ds.ID, "demand", "demand.csv", demandCSV)
	if rec.Code != http.StatusCreated {
		t.Fatalf("upload status = %d", rec.Code)
	}
	file := decodeBody[models.DatasetFile](t, rec)

	dl := env.request(t, http.MethodGet, "/api/v1/datasets/"+ds.ID+"/files/"+file.ID, token, nil)
	if dl.Code != http.StatusOK {
		t.Fatalf("download status = %d", dl.Code)
	}
	if dl.Body.String() != demandCSV {
		t.Error("downloaded bytes differ from upload")
	}
	if cd := dl.Header().Get("Content-Disposition"); !strings.Contains(cd, "demand.csv") {
		t.Errorf("content disposition = %q", cd)
	}
}

func TestDatasetDiagnostics(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)
	ds := env.seedPlanningDataset(t, token)

	rec := env.request(t, http.MethodGet, "/api/v1/datasets/"+ds.ID+"/diagnostics", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("diagnostics status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[map[string]any](t, rec)
	if got := body["products"].(float64); got != 2 {
		t.Errorf("products = %v, want 2", got)
	}
}

func TestDatasetDeleteRequiresAdmin(t *testing.T) {
	env := newTestEnv(t)
	_, plannerToken := env.seedUser(t, "planner@example.com", models.RolePlanner)
	_, adminToken := env.seedUser(t, "admin@example.com", models.RoleAdmin)
	ds := env.createDataset(t, plannerToken, "q1")
	env.uploadFile(t, plannerToken, ds.ID, "demand", "demand.csv", demandCSV)

	rec := env.request(t, http.MethodDelete, "/api/v1/datasets/"+ds.ID, plannerToken, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("planner delete status = %d, want 403", rec.Code)
	}

	rec = env.request(t, http.MethodDelete, "/api/v1/datasets/"+ds.ID, adminToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("admin delete status = %d: %s", rec.Code, rec.Body.String())
	}

	if _, err := env.store.Get(context.Background(), storage.DatasetKey(ds.ID, "demand.csv")); err == nil {
		t.Error("stored object survived dataset delete")
	}
}
