/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/friendsincode/forgeplan/internal/audit"
	"github.com/friendsincode/forgeplan/internal/auth"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/executor"
	"github.com/friendsincode/forgeplan/internal/milp"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/solver"
	"github.com/friendsincode/forgeplan/internal/storage"
)

type stubSolver struct {
	res *solver.Result
}

func (s *stubSolver) Name() string { return "stub" }

func (s *stubSolver) Solve(ctx context.Context, m *milp.Model, opts solver.Options) (*solver.Result, error) {
	if s.res != nil {
		return s.res, nil
	}
	return &solver.Result{Status: solver.StatusOptimal, Backend: "stub"}, nil
}

type testEnv struct {
	db     *gorm.DB
	bus    *events.Bus
	store  storage.ObjectStore
	pl     *planner.Planner
	exec   *executor.Service
	api    *API
	router chi.Router
	secret []byte
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	if err := db.AutoMigrate(
		&models.User{},
		&models.APIKey{},
		&models.Dataset{},
		&models.DatasetFile{},
		&models.PlanRun{},
		&models.SweepJob{},
		&models.SweepResult{},
		&models.SystemSetting{},
		&models.AuditLog{},
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

	exec := executor.New(db, pl, store, nil, bus, 1, 1, logger)
	auditSvc := audit.NewService(db, bus, logger)

	secret := []byte("test-secret")
	a := New(db, secret, pl, exec, store, nil, auditSvc, bus, nil, logger)
	r := chi.NewRouter()
	a.Routes(r)

	return &testEnv{
		db:     db,
		bus:    bus,
		store:  store,
		pl:     pl,
		exec:   exec,
		api:    a,
		router: r,
		secret: secret,
	}
}

// startExecutor runs the background worker for tests that need jobs to
// actually execute.
func (e *testEnv) startExecutor(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	e.exec.Start(ctx)
	t.Cleanup(func() {
		cancel()
		e.exec.Stop()
	})
}

func (e *testEnv) seedUser(t *testing.T, email string, role models.RoleName) (*models.User, string) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("password123"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &models.User{
		ID:       uuid.NewString(),
		Email:    email,
		Password: string(hash),
		Role:     role,
	}
	if err := e.db.Create(user).Error; err != nil {
		t.Fatalf("create user: %v", err)
	}
	token, err := auth.Issue(e.secret, auth.Claims{UserID: user.ID, Roles: []string{string(role)}}, time.Hour)
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}
	return user, token
}

func (e *testEnv) request(t *testing.T, method, target, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &buf)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.NewDecoder(rec.Body).Decode(&out); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return out
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/v1/health", "", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	body := decodeBody[map[string]string](t, rec)
	if body["status"] != "ok" {
		t.Errorf("status field = %q, want ok", body["status"])
	}
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	rec := env.request(t, http.MethodGet, "/api/v1/datasets", "", nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestLoginAndMe(t *testing.T) {
	env := newTestEnv(t)
	user, _ := env.seedUser(t, "planner@example.com", models.RolePlanner)

	rec := env.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "planner@example.com",
		"password": "password123",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("login status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Token string       `json:"token"`
		User  userResponse `json:"user"`
	}](t, rec)
	if body.Token == "" {
		t.Fatal("login returned no token")
	}
	if body.User.ID != user.ID || body.User.Role != models.RolePlanner {
		t.Errorf("login user = %+v", body.User)
	}

	me := env.request(t, http.MethodGet, "/api/v1/auth/me", body.Token, nil)
	if me.Code != http.StatusOK {
		t.Fatalf("me status = %d", me.Code)
	}
	meBody := decodeBody[userResponse](t, me)
	if meBody.Email != "planner@example.com" {
		t.Errorf("me email = %q", meBody.Email)
	}
}

func TestLoginRejectsBadPassword(t *testing.T) {
	env := newTestEnv(t)
	env.seedUser(t, "user@example.com", models.RoleViewer)

	rec := env.request(t, http.MethodPost, "/api/v1/auth/login", "", map[string]string{
		"email":    "user@example.com",
		"password": "wrong",
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
}

func TestViewerCannotCreateDataset(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "viewer@example.com", models.RoleViewer)

	rec := env.request(t, http.MethodPost, "/api/v1/datasets", token, map[string]string{
		"name": "q1-plan",
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestViewerCannotManageUsers(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "viewer@example.com", models.RoleViewer)

	rec := env.request(t, http.MethodGet, "/api/v1/users", token, nil)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
}

func TestUserLifecycle(t *testing.T) {
	env := newTestEnv(t)
	admin, adminToken := env.seedUser(t, "admin@example.com", models.RoleAdmin)

	rec := env.request(t, http.MethodPost, "/api/v1/users", adminToken, map[string]string{
		"email":    "new@example.com",
		"password": "secret-pw",
		"role":     "planner",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	created := decodeBody[userResponse](t, rec)
	if created.Role != "planner" {
		t.Errorf("created role = %q", created.Role)
	}

	rec = env.request(t, http.MethodPatch, "/api/v1/users/"+created.ID, adminToken, map[string]string{
		"role": "viewer",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("update status = %d: %s", rec.Code, rec.Body.String())
	}
	var stored models.User
	if err := env.db.First(&stored, "id = ?", created.ID).Error; err != nil {
		t.Fatalf("load user: %v", err)
	}
	if stored.Role != models.RoleViewer {
		t.Errorf("role after update = %q", stored.Role)
	}

	// Self-delete must be refused.
	rec = env.request(t, http.MethodDelete, "/api/v1/users/"+admin.ID, adminToken, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("self delete status = %d, want 400", rec.Code)
	}

	rec = env.request(t, http.MethodDelete, "/api/v1/users/"+created.ID, adminToken, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("delete status = %d", rec.Code)
	}
}

func TestAPIKeyLifecycle(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "planner@example.com", models.RolePlanner)

	rec := env.request(t, http.MethodPost, "/api/v1/apikeys", token, map[string]any{
		"name": "ci",
	})
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d: %s", rec.Code, rec.Body.String())
	}
	body := decodeBody[struct {
		Key    string        `json:"key"`
		APIKey models.APIKey `json:"api_key"`
	}](t, rec)
	if body.Key == "" {
		t.Fatal("no plaintext key returned")
	}

	// The generated key authenticates via X-API-Key.
	req := httptest.NewRequest(http.MethodGet, "/api/v1/auth/me", nil)
	req.Header.Set("X-API-Key", body.Key)
	keyRec := httptest.NewRecorder()
	env.router.ServeHTTP(keyRec, req)
	if keyRec.Code != http.StatusOK {
		t.Fatalf("api key auth status = %d", keyRec.Code)
	}

	rec = env.request(t, http.MethodDelete, "/api/v1/apikeys/"+body.APIKey.ID, token, nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("revoke status = %d", rec.Code)
	}
}

func TestCacheFlushWithoutCache(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "admin@example.com", models.RoleAdmin)

	rec := env.request(t, http.MethodDelete, "/api/v1/system/cache", token, nil)
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestScenarioDefaults(t *testing.T) {
	env := newTestEnv(t)
	_, token := env.seedUser(t, "viewer@example.com", models.RoleViewer)

	rec := env.request(t, http.MethodGet, "/api/v1/scenario/defaults", token, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	sc := decodeBody[planner.Scenario](t, rec)
	if sc.Solver != "cbc" {
		t.Errorf("default solver = %q, want cbc", sc.Solver)
	}
}
