/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package db

import (
	"fmt"

	"github.com/friendsincode/forgeplan/internal/models"
	"gorm.io/gorm"
)

// Migrate applies database schema migrations using GORM auto-migrate.
func Migrate(database *gorm.DB) error {
	if err := database.AutoMigrate(
		// Platform-level models
		&models.User{},
		&models.APIKey{},
		&models.SystemSetting{},
		&models.AuditLog{},

		// Planning data
		&models.Dataset{},
		&models.DatasetFile{},

		// Runs and sweeps
		&models.PlanRun{},
		&models.SweepJob{},
		&models.SweepResult{},
	); err != nil {
		return err
	}

	if err := applyPostgresRunStatusGuard(database); err != nil {
		return err
	}

	return nil
}

// applyPostgresRunStatusGuard rejects status strings outside the lifecycle
// enum at the database level. Cheap to re-apply, so it runs on every boot.
func applyPostgresRunStatusGuard(database *gorm.DB) error {
	if database.Dialector.Name() != "postgres" {
		return nil
	}

	stmt := `
ALTER TABLE plan_runs DROP CONSTRAINT IF EXISTS chk_plan_runs_status;
ALTER TABLE plan_runs ADD CONSTRAINT chk_plan_runs_status
  CHECK (status IN ('pending', 'running', 'completed', 'failed'));

ALTER TABLE sweep_jobs DROP CONSTRAINT IF EXISTS chk_sweep_jobs_status;
ALTER TABLE sweep_jobs ADD CONSTRAINT chk_sweep_jobs_status
  CHECK (status IN ('pending', 'running', 'completed', 'failed'));
`
	if err := database.Exec(stmt).Error; err != nil {
		return fmt.Errorf("apply postgres run status guard: %w", err)
	}

	return nil
}
