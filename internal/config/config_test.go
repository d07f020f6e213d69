package config

import "testing"

func TestLoadReadsCriticalEnvKeys(t *testing.T) {
	t.Setenv("FORGEPLAN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("FORGEPLAN_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("FORGEPLAN_ENV", "development")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if cfg.DBDSN == "" {
		t.Fatal("expected DB DSN to be set")
	}
	if cfg.JWTSigningKey != "supersecret" {
		t.Fatalf("unexpected jwt signing key: %q", cfg.JWTSigningKey)
	}
	if cfg.SolverBackend != "cbc" {
		t.Fatalf("unexpected default solver backend: %q", cfg.SolverBackend)
	}
}

func TestLoadReportsLegacyEnvWarnings(t *testing.T) {
	t.Setenv("FORGEPLAN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("FORGEPLAN_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("JWT_SIGNING_KEY", "legacy")
	t.Setenv("TRACING_ENABLED", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load config: %v", err)
	}
	if len(cfg.LegacyEnvWarnings) == 0 {
		t.Fatal("expected legacy env warnings")
	}
}

func TestLoadRejectsUnknownSolverBackend(t *testing.T) {
	t.Setenv("FORGEPLAN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("FORGEPLAN_JWT_SIGNING_KEY", "supersecret")
	t.Setenv("FORGEPLAN_SOLVER_BACKEND", "gurobi")

	if _, err := Load(); err == nil {
		t.Fatal("expected config load to fail for an unknown solver backend")
	}
}

func TestLoadProductionRequiresStrongSigningKey(t *testing.T) {
	t.Setenv("FORGEPLAN_DB_DSN", "host=localhost user=test dbname=test sslmode=disable")
	t.Setenv("FORGEPLAN_ENV", "production")
	t.Setenv("FORGEPLAN_JWT_SIGNING_KEY", "changeme")

	if _, err := Load(); err == nil {
		t.Fatal("expected production config load to fail with a default signing key")
	}

	t.Setenv("FORGEPLAN_JWT_SIGNING_KEY", "a-long-enough-production-key")
	if _, err := Load(); err != nil {
		t.Fatalf("expected production config load with a strong key to succeed: %v", err)
	}
}
