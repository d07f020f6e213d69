package models

import (
	"time"
)

// RoleName enumerates the RBAC roles.
type RoleName string

const (
	RoleAdmin   RoleName = "admin"
	RolePlanner RoleName = "planner"
	RoleViewer  RoleName = "viewer"
)

// User represents an authenticated account.
type User struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	Email     string `gorm:"uniqueIndex"`
	Password  string
	Role      RoleName `gorm:"type:varchar(16)"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Dataset groups the uploaded source tables one plan runs against.
type Dataset struct {
	ID          string `gorm:"type:uuid;primaryKey"`
	Name        string `gorm:"uniqueIndex"`
	Description string `gorm:"type:text"`
	CreatedBy   string `gorm:"type:uuid;index"`

	// Shape counters refreshed on every upload, so listings can show
	// what a dataset holds without re-parsing its files.
	Products int
	Periods  int
	Machines int

	CreatedAt time.Time
	UpdatedAt time.Time

	Files []DatasetFile `gorm:"foreignKey:DatasetID"`
}

// DatasetFile is one uploaded table (demand, productivity, costs or
// inventory balances) within a dataset. The raw bytes live in object
// storage under StorageKey; only metadata is kept here.
type DatasetFile struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	DatasetID  string `gorm:"type:uuid;index"`
	Kind       string `gorm:"type:varchar(16);index"`
	Filename   string
	StorageKey string
	SizeBytes  int64
	UploadedBy string `gorm:"type:uuid"`
	CreatedAt  time.Time
}

// RunStatus tracks a plan run through its lifecycle.
type RunStatus string

const (
	RunPending   RunStatus = "pending"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// PlanRun records one solve: the scenario it was given, the solver verdict
// and the extracted report.
type PlanRun struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	DatasetID string `gorm:"type:uuid;index"`
	Name      string `gorm:"index"`

	Scenario []byte    `gorm:"type:jsonb"` // planner.Scenario as submitted
	Status   RunStatus `gorm:"type:varchar(16);index"`
	Error    string    `gorm:"type:text"`

	SolverStatus string `gorm:"type:varchar(16)"`
	Objective    float64
	Bound        float64
	ServiceLevel float64
	TotalCost    float64
	Report       []byte `gorm:"type:jsonb"` // results.Report, set when usable

	BuildMillis int64
	SolveMillis int64

	CreatedBy  string `gorm:"type:uuid;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time
}

// SweepJob is one DOE campaign: a grid of scenario overrides solved against
// a single dataset.
type SweepJob struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	DatasetID string `gorm:"type:uuid;index"`
	Name      string

	Config        []byte    `gorm:"type:jsonb"` // sweep.Config as submitted
	Status        RunStatus `gorm:"type:varchar(16);index"`
	Error         string    `gorm:"type:text"`
	TotalRuns     int
	CompletedRuns int

	CreatedBy  string `gorm:"type:uuid;index"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
	StartedAt  *time.Time
	FinishedAt *time.Time

	Results []SweepResult `gorm:"foreignKey:SweepJobID"`
}

// SweepResult is the condensed outcome of one grid point.
type SweepResult struct {
	ID         string `gorm:"type:uuid;primaryKey"`
	SweepJobID string `gorm:"type:uuid;index"`
	RunIndex   int    `gorm:"index"`

	Params       []byte `gorm:"type:jsonb"` // the overrides of this point
	SolverStatus string `gorm:"type:varchar(16)"`
	Objective    float64
	Bound        float64
	ServiceLevel float64
	TotalCost    float64
	SolveMillis  int64
	Error        string `gorm:"type:text"`

	CreatedAt time.Time
}

// SystemSetting is a single named configuration value editable at runtime,
// e.g. the default scenario served to new plan forms.
type SystemSetting struct {
	Key       string `gorm:"primaryKey;type:varchar(64)"`
	Value     []byte `gorm:"type:jsonb"`
	UpdatedBy string `gorm:"type:uuid"`
	UpdatedAt time.Time
}
