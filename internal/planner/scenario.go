/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package planner

import (
	"fmt"
	"time"

	"github.com/friendsincode/forgeplan/internal/capacity"
	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/milp"
)

// Machines that need a long changeover keep their own setup duration; the
// rest get the short default. Both sets are overridable per scenario.
const (
	DefaultSetupHoursHigh = 7.0
	DefaultSetupHoursLow  = 3.0
)

var DefaultHighSetupMachines = []string{"11", "14"}

// Scenario is the complete, typed configuration of one plan run. Every
// field has a documented default so a zero-adjusted scenario still solves.
type Scenario struct {
	StartPeriod string `json:"start_period" yaml:"start_period"`
	EndPeriod   string `json:"end_period" yaml:"end_period"`

	// Machines restricts the run to a subset. Empty means every machine
	// present in the productivity data.
	Machines []string `json:"machines,omitempty" yaml:"machines,omitempty"`

	Granularity capacity.Granularity `json:"granularity" yaml:"granularity"`
	BucketHours float64              `json:"bucket_hours,omitempty" yaml:"bucket_hours,omitempty"`
	Shifts      capacity.Params      `json:"shifts" yaml:"shifts"`

	ExtendPolicy dataset.ExtendPolicy `json:"extend_policy" yaml:"extend_policy"`

	MaxBacklogAge  int          `json:"max_backlog_age" yaml:"max_backlog_age"`
	CoverageMonths float64      `json:"coverage_months" yaml:"coverage_months"`
	Weights        milp.Weights `json:"weights" yaml:"weights"`

	BigMPolicy     milp.BigMPolicy `json:"bigm_policy" yaml:"bigm_policy"`
	AllowLostSales bool            `json:"allow_lost_sales" yaml:"allow_lost_sales"`

	HighSetupMachines []string           `json:"high_setup_machines,omitempty" yaml:"high_setup_machines,omitempty"`
	SetupHoursHigh    float64            `json:"setup_hours_high,omitempty" yaml:"setup_hours_high,omitempty"`
	SetupHoursLow     float64            `json:"setup_hours_low,omitempty" yaml:"setup_hours_low,omitempty"`
	SetupHours        map[string]float64 `json:"setup_hours,omitempty" yaml:"setup_hours,omitempty"`

	// InitialState maps machine to the raw product key it is configured
	// for when the horizon opens.
	InitialState map[string]string `json:"initial_state,omitempty" yaml:"initial_state,omitempty"`

	Operators *milp.OperatorParams `json:"operators,omitempty" yaml:"operators,omitempty"`

	Solver    string        `json:"solver" yaml:"solver"`
	TimeLimit time.Duration `json:"time_limit" yaml:"time_limit"`
	Threads   int           `json:"threads,omitempty" yaml:"threads,omitempty"`
}

// DefaultScenario returns a scenario that solves with sensible behavior on
// any dataset; only the horizon has to be filled in.
func DefaultScenario() Scenario {
	return Scenario{
		Granularity:       capacity.GranularityHours,
		Shifts:            capacity.Params{}.Defaults(),
		ExtendPolicy:      dataset.ExtendReplicateLast,
		MaxBacklogAge:     2,
		Weights:           milp.DefaultWeights(),
		BigMPolicy:        milp.BigMGross,
		HighSetupMachines: DefaultHighSetupMachines,
		SetupHoursHigh:    DefaultSetupHoursHigh,
		SetupHoursLow:     DefaultSetupHoursLow,
		Solver:            "cbc",
		TimeLimit:         5 * time.Minute,
	}
}

// Normalize fills unset fields with their defaults. Called before Validate
// so partially-specified scenarios from the API are workable.
func (s *Scenario) Normalize() {
	d := DefaultScenario()
	if s.Granularity == "" {
		s.Granularity = d.Granularity
	}
	if s.Shifts == (capacity.Params{}) {
		s.Shifts = d.Shifts
	}
	if s.ExtendPolicy == "" {
		s.ExtendPolicy = d.ExtendPolicy
	}
	if s.BigMPolicy == "" {
		s.BigMPolicy = d.BigMPolicy
	}
	if s.Weights == (milp.Weights{}) {
		s.Weights = d.Weights
	}
	if s.HighSetupMachines == nil {
		s.HighSetupMachines = d.HighSetupMachines
	}
	if s.SetupHoursHigh == 0 {
		s.SetupHoursHigh = d.SetupHoursHigh
	}
	if s.SetupHoursLow == 0 {
		s.SetupHoursLow = d.SetupHoursLow
	}
	if s.Solver == "" {
		s.Solver = d.Solver
	}
	if s.TimeLimit == 0 {
		s.TimeLimit = d.TimeLimit
	}
}

// Validate rejects a scenario before any model is built.
func (s *Scenario) Validate() error {
	if s.StartPeriod == "" || s.EndPeriod == "" {
		return fmt.Errorf("scenario: start and end period are required")
	}
	start, err := dataset.ParsePeriod(s.StartPeriod)
	if err != nil {
		return fmt.Errorf("scenario: start period: %w", err)
	}
	end, err := dataset.ParsePeriod(s.EndPeriod)
	if err != nil {
		return fmt.Errorf("scenario: end period: %w", err)
	}
	if end.Before(start) {
		return fmt.Errorf("scenario: end period %s precedes start %s", s.EndPeriod, s.StartPeriod)
	}
	if !dataset.ValidPolicy(s.ExtendPolicy) {
		return fmt.Errorf("scenario: unknown extend policy %q", s.ExtendPolicy)
	}
	if !milp.ValidBigMPolicy(s.BigMPolicy) {
		return fmt.Errorf("scenario: unknown big-M policy %q", s.BigMPolicy)
	}
	if _, _, err := capacity.StepSize(s.Granularity, s.BucketHours, s.Shifts); err != nil {
		return fmt.Errorf("scenario: %w", err)
	}
	if s.MaxBacklogAge < 0 {
		return fmt.Errorf("scenario: max backlog age must be non-negative")
	}
	if s.CoverageMonths < 0 {
		return fmt.Errorf("scenario: coverage months must be non-negative")
	}
	if s.TimeLimit <= 0 {
		return fmt.Errorf("scenario: time limit must be positive")
	}
	return nil
}

// setupHoursFor resolves the changeover duration for one machine.
func (s *Scenario) setupHoursFor(machine string) float64 {
	if h, ok := s.SetupHours[machine]; ok {
		return h
	}
	for _, m := range s.HighSetupMachines {
		if m == machine {
			return s.SetupHoursHigh
		}
	}
	return s.SetupHoursLow
}
