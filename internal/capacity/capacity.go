/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package capacity derives available productive hours from the configured
// operating pattern and maps decision granularity onto solver step sizes.
package capacity

import "fmt"

// DefaultWeeksPerPeriod is the average number of weeks in a monthly bucket.
const DefaultWeeksPerPeriod = 4.33

// Params describes the operating pattern of the plant.
type Params struct {
	ShiftsPerDay   float64 `json:"shifts_per_day" yaml:"shifts_per_day"`
	HoursPerShift  float64 `json:"hours_per_shift" yaml:"hours_per_shift"`
	DaysPerWeek    float64 `json:"days_per_week" yaml:"days_per_week"`
	WeeksPerPeriod float64 `json:"weeks_per_period" yaml:"weeks_per_period"`
}

// Defaults fills unset fields with the standard 3x8x7 continuous pattern.
func (p Params) Defaults() Params {
	if p.ShiftsPerDay <= 0 {
		p.ShiftsPerDay = 3
	}
	if p.HoursPerShift <= 0 {
		p.HoursPerShift = 8
	}
	if p.DaysPerWeek <= 0 {
		p.DaysPerWeek = 7
	}
	if p.WeeksPerPeriod <= 0 {
		p.WeeksPerPeriod = DefaultWeeksPerPeriod
	}
	return p
}

// HoursPerPeriod returns the productive hours one machine offers per period.
func (p Params) HoursPerPeriod() float64 {
	p = p.Defaults()
	return p.ShiftsPerDay * p.HoursPerShift * p.DaysPerWeek * p.WeeksPerPeriod
}

// Hours returns the capacity of a machine for one period. Inactive machines
// contribute nothing regardless of the operating pattern.
func Hours(p Params, active bool) float64 {
	if !active {
		return 0
	}
	return p.HoursPerPeriod()
}

// Granularity selects the unit of the production decision variable.
type Granularity string

const (
	GranularityKg     Granularity = "kg"
	GranularityHours  Granularity = "hours"
	GranularityShifts Granularity = "shifts"
	GranularityDays   Granularity = "days"
	GranularityWeeks  Granularity = "weeks"
)

// StepSize converts a decision granularity into the step length in hours and
// whether production steps are integer-constrained. bucketHours only applies
// to the plain hours granularity.
func StepSize(g Granularity, bucketHours float64, p Params) (stepHours float64, integer bool, err error) {
	p = p.Defaults()
	switch g {
	case GranularityKg:
		return 1.0, false, nil
	case GranularityHours:
		if bucketHours <= 0 {
			bucketHours = 6.0
		}
		return bucketHours, true, nil
	case GranularityShifts:
		return p.HoursPerShift, true, nil
	case GranularityDays:
		return p.HoursPerShift * p.ShiftsPerDay, true, nil
	case GranularityWeeks:
		return p.HoursPerShift * p.ShiftsPerDay * p.DaysPerWeek, true, nil
	default:
		return 0, false, fmt.Errorf("unknown decision granularity %q", g)
	}
}
