/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Database metrics, observed by the gorm callbacks.
var (
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forgeplan_db_query_duration_seconds",
		Help:    "Database query duration by operation and table.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation", "table"})

	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgeplan_db_errors_total",
		Help: "Database errors by operation and kind.",
	}, []string{"operation", "kind"})

	DatabaseConnectionsActive = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forgeplan_db_connections_active",
		Help: "Open database connections.",
	})
)

// HTTP metrics, observed by the router middleware.
var (
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forgeplan_api_request_duration_seconds",
		Help:    "HTTP request duration by method, endpoint and status.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgeplan_api_requests_total",
		Help: "HTTP requests by method, endpoint and status.",
	}, []string{"method", "endpoint", "status"})

	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forgeplan_api_active_connections",
		Help: "In-flight HTTP requests.",
	})

	APIWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forgeplan_api_websocket_connections",
		Help: "Open event stream WebSocket connections.",
	})
)

// Planning metrics.
var (
	PlanRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgeplan_plan_runs_total",
		Help: "Plan runs by terminal status.",
	}, []string{"status"})

	SolverDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "forgeplan_solver_duration_seconds",
		Help:    "Wall-clock solver time by backend and reported status.",
		Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600, 1200},
	}, []string{"backend", "status"})

	ModelBuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forgeplan_model_build_duration_seconds",
		Help:    "Time spent assembling the optimization model.",
		Buckets: prometheus.DefBuckets,
	})

	ModelVariables = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forgeplan_model_variables",
		Help:    "Variable count of built models.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	})

	ModelConstraints = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "forgeplan_model_constraints",
		Help:    "Constraint count of built models.",
		Buckets: prometheus.ExponentialBuckets(64, 2, 12),
	})

	SweepPointsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "forgeplan_sweep_points_total",
		Help: "Sweep grid points by terminal status.",
	}, []string{"status"})

	SweepQueueDepth = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "forgeplan_sweep_queue_depth",
		Help: "Grid points waiting for a sweep worker.",
	})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
