/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Database backend selection.
type DatabaseBackend string

const (
	DatabasePostgres DatabaseBackend = "postgres"
	DatabaseMySQL    DatabaseBackend = "mysql"
	DatabaseSQLite   DatabaseBackend = "sqlite"
)

// Config covers process level configuration read from environment variables.
type Config struct {
	Environment string
	HTTPBind    string
	HTTPPort    int
	BaseURL     string // Public base URL (e.g., http://192.168.195.6:8080)
	DBBackend   DatabaseBackend
	DBDSN       string
	DataRoot    string // Local root for uploaded dataset files and run artifacts

	JWTSigningKey   string
	MetricsBind     string
	MaxUploadSizeMB int // Optional global multipart upload limit override (MB)

	// Solver configuration
	SolverBackend   string        // "cbc" or "glpk"
	SolverBin       string        // Override binary path; empty means PATH lookup
	SolverTimeLimit time.Duration // Default per-run time limit
	SolverThreads   int
	SolverWorkDir   string // Keep LP/solution files here instead of a temp dir
	SweepWorkers    int    // Concurrent solves during a parameter sweep

	// S3 Object Storage configuration (dataset files and run artifacts)
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3Region          string
	S3Bucket          string
	S3Endpoint        string // For S3-compatible services (MinIO, Spaces, etc.)
	S3UsePathStyle    bool   // Required for MinIO

	// Tracing configuration
	TracingEnabled    bool
	OTLPEndpoint      string
	TracingSampleRate float64

	// Multi-instance configuration
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	NATSURL       string // Empty disables the external event bus
	InstanceID    string

	LegacyEnvWarnings []string
}

// Load reads environment variables, applies defaults, and validates the result.
func Load() (*Config, error) {
	cfg := &Config{
		Environment: getEnvAny([]string{"FORGEPLAN_ENV", "FP_ENV"}, "development"),
		HTTPBind:    getEnvAny([]string{"FORGEPLAN_HTTP_BIND", "FP_HTTP_BIND"}, "0.0.0.0"),
		HTTPPort:    getEnvIntAny([]string{"FORGEPLAN_HTTP_PORT", "FP_HTTP_PORT"}, 8080),
		BaseURL:     getEnvAny([]string{"FORGEPLAN_BASE_URL", "FP_BASE_URL"}, ""),
		DBBackend:   DatabaseBackend(getEnvAny([]string{"FORGEPLAN_DB_BACKEND", "FP_DB_BACKEND"}, string(DatabasePostgres))),
		DBDSN:       getEnvAny([]string{"FORGEPLAN_DB_DSN", "FP_DB_DSN"}, ""),
		DataRoot:    getEnvAny([]string{"FORGEPLAN_DATA_ROOT", "FP_DATA_ROOT"}, "./data"),

		JWTSigningKey:   getEnvAny([]string{"FORGEPLAN_JWT_SIGNING_KEY", "FP_JWT_SIGNING_KEY"}, ""),
		MetricsBind:     getEnvAny([]string{"FORGEPLAN_METRICS_BIND", "FP_METRICS_BIND"}, "127.0.0.1:9000"),
		MaxUploadSizeMB: getEnvIntAny([]string{"FORGEPLAN_MAX_UPLOAD_SIZE_MB", "FP_MAX_UPLOAD_SIZE_MB"}, 0),

		// Solver configuration
		SolverBackend:   getEnvAny([]string{"FORGEPLAN_SOLVER_BACKEND", "FP_SOLVER_BACKEND"}, "cbc"),
		SolverBin:       getEnvAny([]string{"FORGEPLAN_SOLVER_BIN", "FP_SOLVER_BIN"}, ""),
		SolverTimeLimit: time.Duration(getEnvIntAny([]string{"FORGEPLAN_SOLVER_TIME_LIMIT_SECONDS", "FP_SOLVER_TIME_LIMIT_SECONDS"}, 300)) * time.Second,
		SolverThreads:   getEnvIntAny([]string{"FORGEPLAN_SOLVER_THREADS", "FP_SOLVER_THREADS"}, 0),
		SolverWorkDir:   getEnvAny([]string{"FORGEPLAN_SOLVER_WORK_DIR", "FP_SOLVER_WORK_DIR"}, ""),
		SweepWorkers:    getEnvIntAny([]string{"FORGEPLAN_SWEEP_WORKERS", "FP_SWEEP_WORKERS"}, 4),

		// S3 Object Storage configuration
		S3AccessKeyID:     getEnvAny([]string{"FORGEPLAN_S3_ACCESS_KEY_ID", "AWS_ACCESS_KEY_ID"}, ""),
		S3SecretAccessKey: getEnvAny([]string{"FORGEPLAN_S3_SECRET_ACCESS_KEY", "AWS_SECRET_ACCESS_KEY"}, ""),
		S3Region:          getEnvAny([]string{"FORGEPLAN_S3_REGION", "AWS_REGION"}, "us-east-1"),
		S3Bucket:          getEnvAny([]string{"FORGEPLAN_S3_BUCKET", "S3_BUCKET"}, ""),
		S3Endpoint:        getEnvAny([]string{"FORGEPLAN_S3_ENDPOINT", "S3_ENDPOINT"}, ""),
		S3UsePathStyle:    getEnvBoolAny([]string{"FORGEPLAN_S3_USE_PATH_STYLE", "S3_USE_PATH_STYLE"}, false),

		// Tracing configuration
		TracingEnabled:    getEnvBoolAny([]string{"FORGEPLAN_TRACING_ENABLED", "FP_TRACING_ENABLED"}, false),
		OTLPEndpoint:      getEnvAny([]string{"FORGEPLAN_OTLP_ENDPOINT", "FP_OTLP_ENDPOINT"}, "localhost:4317"),
		TracingSampleRate: getEnvFloatAny([]string{"FORGEPLAN_TRACING_SAMPLE_RATE", "FP_TRACING_SAMPLE_RATE"}, 1.0),

		// Multi-instance configuration
		RedisAddr:     getEnvAny([]string{"FORGEPLAN_REDIS_ADDR", "FP_REDIS_ADDR"}, "localhost:6379"),
		RedisPassword: getEnvAny([]string{"FORGEPLAN_REDIS_PASSWORD", "FP_REDIS_PASSWORD"}, ""),
		RedisDB:       getEnvIntAny([]string{"FORGEPLAN_REDIS_DB", "FP_REDIS_DB"}, 0),
		NATSURL:       getEnvAny([]string{"FORGEPLAN_NATS_URL", "FP_NATS_URL"}, ""),
		InstanceID:    getEnvAny([]string{"FORGEPLAN_INSTANCE_ID", "FP_INSTANCE_ID"}, ""),
	}

	if cfg.DBBackend != DatabasePostgres && cfg.DBBackend != DatabaseMySQL && cfg.DBBackend != DatabaseSQLite {
		return nil, fmt.Errorf("unsupported database backend %q", cfg.DBBackend)
	}

	if cfg.DBDSN == "" {
		return nil, fmt.Errorf("FORGEPLAN_DB_DSN or FP_DB_DSN must be provided")
	}

	if cfg.JWTSigningKey == "" {
		return nil, fmt.Errorf("FORGEPLAN_JWT_SIGNING_KEY or FP_JWT_SIGNING_KEY must be provided")
	}

	if cfg.SolverBackend != "cbc" && cfg.SolverBackend != "glpk" {
		return nil, fmt.Errorf("unsupported solver backend %q", cfg.SolverBackend)
	}

	if cfg.SolverTimeLimit <= 0 {
		return nil, fmt.Errorf("FORGEPLAN_SOLVER_TIME_LIMIT_SECONDS must be positive")
	}

	if cfg.SweepWorkers < 1 {
		cfg.SweepWorkers = 1
	}

	if strings.EqualFold(cfg.Environment, "production") {
		if strings.EqualFold(cfg.JWTSigningKey, "changeme") || len(cfg.JWTSigningKey) < 16 {
			return nil, fmt.Errorf("FORGEPLAN_JWT_SIGNING_KEY must be at least 16 characters and non-default in production")
		}
	}

	cfg.LegacyEnvWarnings = detectLegacyEnvWarnings()

	return cfg, nil
}

func detectLegacyEnvWarnings() []string {
	legacy := map[string]string{
		"ENVIRONMENT":         "use FORGEPLAN_ENV (or FP_ENV)",
		"JWT_SIGNING_KEY":     "use FORGEPLAN_JWT_SIGNING_KEY (or FP_JWT_SIGNING_KEY)",
		"SOLVER_BACKEND":      "use FORGEPLAN_SOLVER_BACKEND (or FP_SOLVER_BACKEND)",
		"TRACING_ENABLED":     "use FORGEPLAN_TRACING_ENABLED (or FP_TRACING_ENABLED)",
		"OTLP_ENDPOINT":       "use FORGEPLAN_OTLP_ENDPOINT (or FP_OTLP_ENDPOINT)",
		"TRACING_SAMPLE_RATE": "use FORGEPLAN_TRACING_SAMPLE_RATE (or FP_TRACING_SAMPLE_RATE)",
	}

	warnings := make([]string, 0, len(legacy))
	for key, recommendation := range legacy {
		if os.Getenv(key) != "" {
			warnings = append(warnings, fmt.Sprintf("legacy env key %s is set; %s", key, recommendation))
		}
	}
	return warnings
}

// MaxUploadSizeBytes returns the configured upload limit in bytes.
// A value of 0 means "not configured" and callers should use endpoint defaults.
func (c *Config) MaxUploadSizeBytes() int64 {
	if c == nil || c.MaxUploadSizeMB <= 0 {
		return 0
	}
	return int64(c.MaxUploadSizeMB) * 1024 * 1024
}

// getEnvAny returns the first non-empty environment variable value from keys, or def if none set.
func getEnvAny(keys []string, def string) string {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			return v
		}
	}
	return def
}

// getEnvIntAny returns the first set integer environment variable value from keys, or def.
func getEnvIntAny(keys []string, def int) int {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.Atoi(v); err == nil {
				return parsed
			}
		}
	}
	return def
}

// getEnvBoolAny returns the first set boolean environment variable value from keys, or def.
func getEnvBoolAny(keys []string, def bool) bool {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			v = strings.ToLower(strings.TrimSpace(v))
			if v == "true" || v == "1" || v == "yes" {
				return true
			}
			if v == "false" || v == "0" || v == "no" {
				return false
			}
		}
	}
	return def
}

// getEnvFloatAny returns the first set float environment variable value from keys, or def.
func getEnvFloatAny(keys []string, def float64) float64 {
	for _, k := range keys {
		if v := os.Getenv(k); v != "" {
			if parsed, err := strconv.ParseFloat(v, 64); err == nil {
				return parsed
			}
		}
	}
	return def
}
