/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/friendsincode/forgeplan/internal/api"
	"github.com/friendsincode/forgeplan/internal/audit"
	"github.com/friendsincode/forgeplan/internal/cache"
	"github.com/friendsincode/forgeplan/internal/config"
	"github.com/friendsincode/forgeplan/internal/db"
	"github.com/friendsincode/forgeplan/internal/eventbus"
	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/executor"
	"github.com/friendsincode/forgeplan/internal/logbuffer"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/solver"
	"github.com/friendsincode/forgeplan/internal/storage"
	"github.com/friendsincode/forgeplan/internal/telemetry"
	"github.com/friendsincode/forgeplan/internal/version"
)

// Server bundles the HTTP API and its supporting services.
type Server struct {
	cfg           *config.Config
	logger        zerolog.Logger
	router        chi.Router
	httpServer    *http.Server
	metricsServer *http.Server
	closers       []func() error

	db        *gorm.DB
	cache     *cache.Cache
	logBuffer *logbuffer.Buffer
	bus       events.EventBus
	store     storage.ObjectStore
	planner   *planner.Planner
	executor  *executor.Service
	auditSvc  *audit.Service
	api       *api.API
	updates   *version.Checker

	bgCancel context.CancelFunc
	bgWG     sync.WaitGroup
}

// New constructs the server and wires dependencies.
func New(cfg *config.Config, logBuf *logbuffer.Buffer, logger zerolog.Logger) (*Server, error) {
	for _, warn := range cfg.LegacyEnvWarnings {
		logger.Warn().Msg(warn)
	}

	router := chi.NewRouter()

	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(securityHeadersMiddleware)
	router.Use(telemetry.TracingMiddleware("forgeplan-api"))
	router.Use(telemetry.MetricsMiddleware)
	// Skip the request timeout for WebSocket upgrades and dataset uploads,
	// both of which can legitimately outlive it.
	router.Use(func(next http.Handler) http.Handler {
		timeout := middleware.Timeout(60 * time.Second)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Header.Get("Upgrade") == "websocket" {
				next.ServeHTTP(w, r)
				return
			}
			if r.Method == http.MethodPost && strings.HasSuffix(r.URL.Path, "/files") {
				next.ServeHTTP(w, r)
				return
			}
			timeout(next).ServeHTTP(w, r)
		})
	})

	srv := &Server{
		cfg:       cfg,
		logger:    logger,
		router:    router,
		logBuffer: logBuf,
	}

	if err := srv.initDependencies(); err != nil {
		return nil, err
	}

	srv.configureRoutes()
	srv.startBackgroundWorkers()

	addr := fmt.Sprintf("%s:%d", cfg.HTTPBind, cfg.HTTPPort)
	srv.httpServer = &http.Server{
		Addr:    addr,
		Handler: srv.router,
		// Header deadline protects against slowloris; no full-body read
		// deadline so large dataset uploads are not cut off mid-request.
		ReadHeaderTimeout: 15 * time.Second,
		ReadTimeout:       0,
		WriteTimeout:      0,
		IdleTimeout:       60 * time.Second,
	}

	return srv, nil
}

func securityHeadersMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; frame-ancestors 'none'; base-uri 'self'")

		// Only advertise HSTS for requests served over HTTPS.
		if r.TLS != nil || r.Header.Get("X-Forwarded-Proto") == "https" {
			w.Header().Set("Strict-Transport-Security", "max-age=31536000; includeSubDomains")
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) initDependencies() error {
	database, err := db.Connect(s.cfg)
	if err != nil {
		return err
	}
	if err := db.Migrate(database); err != nil {
		return err
	}
	if err := db.RegisterCallbacks(database); err != nil {
		return err
	}
	s.db = database
	s.DeferClose(func() error { return db.Close(database) })

	// Event bus: NATS when configured, Redis pubsub for multi-instance
	// Redis-only deployments, in-process otherwise.
	switch {
	case s.cfg.NATSURL != "":
		natsCfg := eventbus.DefaultNATSConfig()
		natsCfg.URL = s.cfg.NATSURL
		natsBus, err := eventbus.NewNATSBus(natsCfg, s.cfg.InstanceID, s.logger)
		if err != nil {
			return fmt.Errorf("nats event bus: %w", err)
		}
		s.bus = natsBus
		s.DeferClose(natsBus.Close)
		s.logger.Info().Str("url", s.cfg.NATSURL).Msg("NATS event bus enabled")
	case s.cfg.InstanceID != "":
		redisCfg := eventbus.DefaultRedisConfig()
		redisCfg.Addr = s.cfg.RedisAddr
		redisCfg.Password = s.cfg.RedisPassword
		redisCfg.DB = s.cfg.RedisDB
		redisBus, err := eventbus.NewRedisBus(redisCfg, s.cfg.InstanceID, s.logger)
		if err != nil {
			return fmt.Errorf("redis event bus: %w", err)
		}
		s.bus = redisBus
		s.DeferClose(redisBus.Close)
		s.logger.Info().Str("addr", s.cfg.RedisAddr).Msg("Redis event bus enabled")
	default:
		s.bus = events.NewBus()
	}

	// Redis cache for hot read paths. The API and executor run fine
	// without it.
	cacheCfg := cache.DefaultConfig()
	cacheCfg.RedisAddr = s.cfg.RedisAddr
	cacheCfg.RedisPassword = s.cfg.RedisPassword
	cacheCfg.RedisDB = s.cfg.RedisDB
	entityCache, err := cache.New(cacheCfg, s.logger)
	if err != nil {
		s.logger.Warn().Err(err).Msg("cache initialization failed, continuing without cache")
	} else {
		s.cache = entityCache
		s.DeferClose(func() error { return s.cache.Close() })
	}

	// Object storage for dataset files and run artifacts.
	if s.cfg.S3Bucket != "" {
		s3Store, err := storage.NewS3Store(context.Background(), storage.S3Config{
			AccessKeyID:     s.cfg.S3AccessKeyID,
			SecretAccessKey: s.cfg.S3SecretAccessKey,
			Region:          s.cfg.S3Region,
			Bucket:          s.cfg.S3Bucket,
			Endpoint:        s.cfg.S3Endpoint,
			UsePathStyle:    s.cfg.S3UsePathStyle,
		}, s.logger)
		if err != nil {
			return fmt.Errorf("s3 object store: %w", err)
		}
		s.store = s3Store
		s.logger.Info().Str("bucket", s.cfg.S3Bucket).Msg("S3 object storage enabled")
	} else {
		if err := os.MkdirAll(s.cfg.DataRoot, 0o755); err != nil {
			return fmt.Errorf("create data root %s: %w", s.cfg.DataRoot, err)
		}
		fsStore, err := storage.NewFilesystemStore(s.cfg.DataRoot, s.logger)
		if err != nil {
			return fmt.Errorf("filesystem object store: %w", err)
		}
		s.store = fsStore
		s.logger.Info().Str("path", s.cfg.DataRoot).Msg("filesystem object storage ready")
	}

	s.planner = planner.New(normalize.New())
	s.planner.NewSolver = s.newSolver

	// Surface a missing solver binary now rather than on the first run.
	if sv, err := s.newSolver(""); err != nil {
		return err
	} else if err := solver.Probe(context.Background(), sv); err != nil {
		s.logger.Warn().Err(err).
			Str("backend", s.cfg.SolverBackend).
			Msg("solver backend is not invocable, plan runs will fail until it is installed")
	}

	s.executor = executor.New(s.db, s.planner, s.store, s.cache, s.bus, 0, s.cfg.SweepWorkers, s.logger)
	s.auditSvc = audit.NewService(s.db, s.bus, s.logger)

	s.api = api.New(s.db, []byte(s.cfg.JWTSigningKey), s.planner, s.executor, s.store, s.cache, s.auditSvc, s.bus, s.logBuffer, s.logger)
	if s.cfg.MaxUploadSizeMB > 0 {
		s.api.SetMaxUploadMB(s.cfg.MaxUploadSizeMB)
	}

	s.updates = version.NewChecker(s.logger)
	s.api.SetUpdateChecker(s.updates)

	return nil
}

// newSolver applies the process-level solver configuration on top of the
// backend registry. An empty backend name means the configured default.
func (s *Server) newSolver(backend string) (solver.Solver, error) {
	if backend == "" {
		backend = s.cfg.SolverBackend
	}
	sv, err := solver.New(backend)
	if err != nil {
		return nil, err
	}
	if s.cfg.SolverBin != "" {
		switch impl := sv.(type) {
		case *solver.CBC:
			impl.Bin = s.cfg.SolverBin
		case *solver.GLPK:
			impl.Bin = s.cfg.SolverBin
		}
	}
	return sv, nil
}

// HTTPServer exposes the underlying net/http server.
func (s *Server) HTTPServer() *http.Server {
	return s.httpServer
}

// LogBuffer returns the server's log buffer for attaching to zerolog.
func (s *Server) LogBuffer() *logbuffer.Buffer {
	return s.logBuffer
}

// Close releases owned resources in reverse order.
func (s *Server) Close() error {
	s.stopBackgroundWorkers()
	var firstErr error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// DeferClose registers a cleanup hook.
func (s *Server) DeferClose(fn func() error) {
	s.closers = append(s.closers, fn)
}

func (s *Server) startBackgroundWorkers() {
	ctx, cancel := context.WithCancel(context.Background())
	s.bgCancel = cancel

	if err := s.executor.Start(ctx); err != nil {
		s.logger.Error().Err(err).Msg("executor start failed")
	}

	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.auditSvc.Start(ctx)
	}()

	// Release update polling; the first check blocks on an HTTP call.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		s.updates.Start(ctx)
	}()

	// Database connection pool metrics.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				db.UpdateConnectionMetrics(s.db)
			}
		}
	}()

	// Periodic health heartbeat for event stream subscribers.
	s.bgWG.Add(1)
	go func() {
		defer s.bgWG.Done()
		ticker := time.NewTicker(30 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				status := "ok"
				if sqlDB, err := s.db.DB(); err != nil || sqlDB.PingContext(ctx) != nil {
					status = "degraded"
				}
				s.bus.Publish(events.EventHealth, events.Payload{
					"status":    status,
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
			}
		}
	}()

	// Prometheus metrics on a separate listener so the scrape endpoint
	// stays off the public API port.
	if s.cfg.MetricsBind != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", telemetry.Handler())
		s.metricsServer = &http.Server{
			Addr:              s.cfg.MetricsBind,
			Handler:           mux,
			ReadHeaderTimeout: 15 * time.Second,
		}
		s.bgWG.Add(1)
		go func() {
			defer s.bgWG.Done()
			s.logger.Info().Str("addr", s.cfg.MetricsBind).Msg("metrics listener started")
			if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				s.logger.Error().Err(err).Msg("metrics listener exited")
			}
		}()
	}
}

func (s *Server) stopBackgroundWorkers() {
	if s.bgCancel == nil {
		return
	}
	if s.metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = s.metricsServer.Shutdown(shutdownCtx)
		cancel()
	}
	s.bgCancel()
	s.executor.Stop()
	s.bgWG.Wait()
	s.bgCancel = nil
}

func (s *Server) configureRoutes() {
	s.router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	s.api.Routes(s.router)
}
