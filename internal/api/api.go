/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	ws "nhooyr.io/websocket"

	"github.com/friendsincode/forgeplan/internal/audit"
	"github.com/friendsincode/forgeplan/internal/auth"
	"github.com/friendsincode/forgeplan/internal/cache"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/executor"
	"github.com/friendsincode/forgeplan/internal/logbuffer"
	"github.com/friendsincode/forgeplan/internal/models"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/storage"
	"github.com/friendsincode/forgeplan/internal/telemetry"
	"github.com/friendsincode/forgeplan/internal/version"
)

// API exposes HTTP handlers.
type API struct {
	db           *gorm.DB
	jwtSecret    []byte
	planner      *planner.Planner
	exec         *executor.Service
	store        storage.ObjectStore
	cache        *cache.Cache
	auditSvc     *audit.Service
	bus          events.EventBus
	logBuffer    *logbuffer.Buffer
	updates      *version.Checker
	maxUploadMB  int
	sweepWorkers int
	logger       zerolog.Logger
}

// New creates the API router wrapper.
func New(db *gorm.DB, jwtSecret []byte, pl *planner.Planner, exec *executor.Service, store storage.ObjectStore, c *cache.Cache, auditSvc *audit.Service, bus events.EventBus, logBuf *logbuffer.Buffer, logger zerolog.Logger) *API {
	return &API{
		db:        db,
		jwtSecret: jwtSecret,
		planner:   pl,
		exec:      exec,
		store:     store,
		cache:     c,
		auditSvc:  auditSvc,
		bus:       bus,
		logBuffer: logBuf,
		logger:    logger,
	}
}

// SetMaxUploadMB overrides the default multipart upload size limit.
func (a *API) SetMaxUploadMB(mb int) {
	a.maxUploadMB = mb
}

// SetUpdateChecker attaches the release update checker. Optional; without it
// the version endpoint reports only the running version.
func (a *API) SetUpdateChecker(c *version.Checker) {
	a.updates = c
}

// Routes mounts API routes on provided router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		// Public endpoints (no auth required)
		r.Post("/auth/login", a.handleLogin)

		r.Group(func(pr chi.Router) {
			pr.Use(a.authMiddleware())

			pr.Get("/auth/me", a.handleMe)

			pr.Route("/users", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleUsersList)
				r.Post("/", a.handleUsersCreate)
				r.Patch("/{userID}", a.handleUsersUpdate)
				r.Delete("/{userID}", a.handleUsersDelete)
			})

			pr.Route("/apikeys", func(r chi.Router) {
				r.Get("/", a.handleAPIKeysList)
				r.Post("/", a.handleAPIKeysCreate)
				r.Delete("/{keyID}", a.handleAPIKeysRevoke)
			})

			pr.Route("/datasets", func(r chi.Router) {
				r.Get("/", a.handleDatasetsList)
				r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleDatasetsCreate)
				r.Route("/{datasetID}", func(r chi.Router) {
					r.Get("/", a.handleDatasetsGet)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/files", a.handleDatasetUpload)
					r.Get("/files/{fileID}", a.handleDatasetFileDownload)
					r.Get("/diagnostics", a.handleDatasetDiagnostics)
					r.With(a.requireRoles(models.RoleAdmin)).Delete("/", a.handleDatasetsDelete)
				})
			})

			pr.Route("/runs", func(r chi.Router) {
				r.Get("/", a.handleRunsList)
				r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleRunsSubmit)
				r.Route("/{runID}", func(r chi.Router) {
					r.Get("/", a.handleRunsGet)
					r.Get("/summary", a.handleRunSummary)
					r.Get("/report", a.handleRunReport)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Delete("/", a.handleRunsDelete)
				})
			})

			pr.Route("/sweeps", func(r chi.Router) {
				r.Get("/", a.handleSweepsList)
				r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Post("/", a.handleSweepsSubmit)
				r.Route("/{sweepID}", func(r chi.Router) {
					r.Get("/", a.handleSweepsGet)
					r.Get("/results", a.handleSweepResults)
					r.Get("/results.csv", a.handleSweepResultsCSV)
					r.With(a.requireRoles(models.RoleAdmin, models.RolePlanner)).Delete("/", a.handleSweepsDelete)
				})
			})

			pr.Get("/scenario/defaults", a.handleScenarioDefaults)

			// System status and logs (admin only)
			pr.Route("/system", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/status", a.handleSystemStatus)
				r.Get("/version", a.handleSystemVersion)
				r.Get("/logs", a.handleSystemLogs)
				r.Get("/logs/components", a.handleLogComponents)
				r.Get("/logs/stats", a.handleLogStats)
				r.Delete("/logs", a.handleClearLogs)
				r.Delete("/cache", a.handleFlushCache)
			})

			// Audit log routes (admin only)
			pr.Route("/audit", func(r chi.Router) {
				r.Use(a.requireRoles(models.RoleAdmin))
				r.Get("/", a.handleAuditList)
			})

			pr.Get("/events", a.handleEvents)
		})
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleEvents(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	conn, err := ws.Accept(w, r, &ws.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		a.logger.Error().Err(err).Msg("websocket accept failed")
		return
	}
	defer conn.Close(ws.StatusInternalError, "server error")

	// Track WebSocket connection
	telemetry.APIWebSocketConnections.Inc()
	defer telemetry.APIWebSocketConnections.Dec()

	eventTypes := parseEventTypes(r.URL.Query().Get("types"))
	if len(eventTypes) == 0 {
		eventTypes = []events.EventType{
			events.EventRunCompleted,
			events.EventRunFailed,
			events.EventSweepProgress,
			events.EventSweepCompleted,
			events.EventHealth,
		}
	}

	subscribers := make([]events.Subscriber, 0, len(eventTypes))
	for _, eventType := range eventTypes {
		subscribers = append(subscribers, a.bus.Subscribe(eventType))
	}
	defer func() {
		for i, eventType := range eventTypes {
			a.bus.Unsubscribe(eventType, subscribers[i])
		}
	}()

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(ws.StatusNormalClosure, "context cancelled")
			return
		case <-ticker.C:
			if err := conn.Write(ctx, ws.MessageText, []byte(`{"type":"ping"}`)); err != nil {
				a.logger.Error().Err(err).Msg("websocket ping failed")
				conn.Close(ws.StatusInternalError, "write failed")
				return
			}
		default:
			sent := false
			for i, sub := range subscribers {
				select {
				case payload := <-sub:
					if err := a.writeEvent(ctx, conn, eventTypes[i], payload); err != nil {
						a.logger.Error().Err(err).Msg("websocket write failed")
						conn.Close(ws.StatusInternalError, "write failed")
						return
					}
					sent = true
				default:
				}
			}
			if !sent {
				time.Sleep(100 * time.Millisecond)
			}
		}
	}
}

func (a *API) writeEvent(ctx context.Context, conn *ws.Conn, eventType events.EventType, payload events.Payload) error {
	data := map[string]any{
		"type":    eventType,
		"payload": payload,
	}
	bytes, err := json.Marshal(data)
	if err != nil {
		return err
	}
	return conn.Write(ctx, ws.MessageText, bytes)
}

func (a *API) authMiddleware() func(http.Handler) http.Handler {
	return auth.MiddlewareWithJWT(a.db, a.jwtSecret)
}

func (a *API) requireRoles(allowed ...models.RoleName) func(http.Handler) http.Handler {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, role := range allowed {
		allowedSet[string(role)] = struct{}{}
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := auth.ClaimsFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "unauthorized")
				return
			}
			for _, role := range claims.Roles {
				if _, exists := allowedSet[role]; exists {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, http.StatusForbidden, "insufficient_role")
		})
	}
}

// SystemStatus represents the overall system health status.
type SystemStatus struct {
	Database  ComponentStatus `json:"database"`
	Solver    ComponentStatus `json:"solver"`
	Storage   ComponentStatus `json:"storage"`
	Timestamp time.Time       `json:"timestamp"`
}

// ComponentStatus represents the status of a single system component.
type ComponentStatus struct {
	Status  string `json:"status"` // "ok", "error", "unavailable"
	Message string `json:"message,omitempty"`
}

func (a *API) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	status := SystemStatus{
		Timestamp: time.Now(),
	}

	// Check database connection
	sqlDB, err := a.db.DB()
	if err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else if err := sqlDB.PingContext(ctx); err != nil {
		status.Database = ComponentStatus{Status: "error", Message: err.Error()}
	} else {
		status.Database = ComponentStatus{Status: "ok", Message: "Connected"}
	}

	// Check the default solver backend resolves to a runnable binary
	if a.planner != nil {
		if _, err := a.planner.NewSolver(""); err != nil {
			status.Solver = ComponentStatus{Status: "error", Message: err.Error()}
		} else {
			status.Solver = ComponentStatus{Status: "ok", Message: "Available"}
		}
	} else {
		status.Solver = ComponentStatus{Status: "unavailable", Message: "Planner not available"}
	}

	// Check object storage access
	if a.store != nil {
		if err := a.store.CheckAccess(ctx); err != nil {
			status.Storage = ComponentStatus{Status: "error", Message: err.Error()}
		} else {
			status.Storage = ComponentStatus{Status: "ok", Message: "Accessible"}
		}
	} else {
		status.Storage = ComponentStatus{Status: "unavailable", Message: "Storage not available"}
	}

	writeJSON(w, http.StatusOK, status)
}

func (a *API) handleSystemVersion(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{"version": version.Version}
	if a.updates != nil {
		if info := a.updates.Info(); info != nil {
			resp["latest_version"] = info.LatestVersion
			resp["update_available"] = info.UpdateAvailable
			resp["release_url"] = info.ReleaseURL
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *API) handleSystemLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	params := logbuffer.QueryParams{
		Level:      r.URL.Query().Get("level"),
		Component:  r.URL.Query().Get("component"),
		Search:     r.URL.Query().Get("search"),
		Descending: true, // Default to newest first
	}

	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			params.Since = t
		}
	}

	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			params.Limit = n
		}
	} else {
		params.Limit = 500
	}

	if order := r.URL.Query().Get("order"); order == "asc" {
		params.Descending = false
	}

	entries := a.logBuffer.Query(params)
	writeJSON(w, http.StatusOK, map[string]any{
		"entries": entries,
		"count":   len(entries),
	})
}

func (a *API) handleLogComponents(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	components := a.logBuffer.GetComponents()
	writeJSON(w, http.StatusOK, map[string]any{
		"components": components,
	})
}

func (a *API) handleLogStats(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	stats := a.logBuffer.Stats()
	writeJSON(w, http.StatusOK, stats)
}

func (a *API) handleClearLogs(w http.ResponseWriter, r *http.Request) {
	if a.logBuffer == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Log buffer not available",
		})
		return
	}

	a.logBuffer.Clear()
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Log buffer cleared",
	})
}

// handleFlushCache drops every cached entry. Useful after out-of-band
// database edits leave the cache stale.
func (a *API) handleFlushCache(w http.ResponseWriter, r *http.Request) {
	if a.cache == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{
			"error": "Cache not available",
		})
		return
	}

	if err := a.cache.FlushAll(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "cache_flush_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success": true,
		"message": "Cache flushed",
	})
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	filters := audit.QueryFilters{}

	if userID := r.URL.Query().Get("user_id"); userID != "" {
		filters.UserID = &userID
	}
	if action := r.URL.Query().Get("action"); action != "" {
		act := models.AuditAction(action)
		filters.Action = &act
	}
	if since := r.URL.Query().Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			filters.StartTime = &t
		}
	}
	if until := r.URL.Query().Get("until"); until != "" {
		if t, err := time.Parse(time.RFC3339, until); err == nil {
			filters.EndTime = &t
		}
	}
	if limit := r.URL.Query().Get("limit"); limit != "" {
		if n, err := strconv.Atoi(limit); err == nil && n > 0 {
			filters.Limit = n
		}
	}
	if offset := r.URL.Query().Get("offset"); offset != "" {
		if n, err := strconv.Atoi(offset); err == nil && n > 0 {
			filters.Offset = n
		}
	}

	logs, total, err := a.auditSvc.Query(r.Context(), filters)
	if err != nil {
		a.logger.Error().Err(err).Msg("audit query failed")
		writeError(w, http.StatusInternalServerError, "db_error")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"entries": logs,
		"total":   total,
	})
}

func parseEventTypes(raw string) []events.EventType {
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]events.EventType, 0, len(parts))
	for _, part := range parts {
		if part == "" {
			continue
		}
		out = append(out, events.EventType(strings.TrimSpace(part)))
	}
	return out
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

// auditContext extracts user and request info for audit logging.
func (a *API) auditContext(r *http.Request) events.Payload {
	payload := events.Payload{
		"ip_address": r.RemoteAddr,
		"user_agent": r.UserAgent(),
	}

	if claims, ok := auth.ClaimsFromContext(r.Context()); ok && claims != nil {
		payload["user_id"] = claims.UserID

		var user models.User
		if err := a.db.Select("email").First(&user, "id = ?", claims.UserID).Error; err == nil {
			payload["user_email"] = user.Email
		}
	}

	return payload
}

// publishAuditEvent publishes an audit event with user and request context.
func (a *API) publishAuditEvent(r *http.Request, eventType events.EventType, data events.Payload) {
	payload := a.auditContext(r)
	for k, v := range data {
		payload[k] = v
	}
	a.bus.Publish(eventType, payload)
}
