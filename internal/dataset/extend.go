/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dataset

import (
	"fmt"

	"github.com/friendsincode/forgeplan/internal/normalize"
)

// ExtendPolicy selects how demand is synthesized past the last raw period.
type ExtendPolicy string

const (
	// ExtendReplicateLast repeats the last observed period value for every
	// synthesized period.
	ExtendReplicateLast ExtendPolicy = "replicate-last"
	// ExtendFromLast holds the most recent observed value forward. With
	// monthly buckets this is identical to replicate-last; it differs when
	// a product's last observation predates the global last period.
	ExtendFromLast ExtendPolicy = "extend-from-last"
	// ExtendSeasonal copies the same calendar month from the prior year,
	// falling back to the last observed value when no prior-year record
	// exists.
	ExtendSeasonal ExtendPolicy = "seasonal"
)

// ValidPolicy reports whether p names a known extension policy.
func ValidPolicy(p ExtendPolicy) bool {
	switch p {
	case ExtendReplicateLast, ExtendFromLast, ExtendSeasonal:
		return true
	}
	return false
}

// ExtendHorizon appends monthly periods until endPeriod is covered and fills
// demand for every product in every appended period. Existing records are
// never touched, so the sum of all pre-extension demand is preserved
// exactly. Every product must have at least one historical record.
func (b *Bundle) ExtendHorizon(endPeriod string, policy ExtendPolicy) error {
	if !ValidPolicy(policy) {
		return &DataError{Source: "demand", Msg: fmt.Sprintf("unknown extension policy %q", policy)}
	}
	if len(b.Periods) == 0 {
		return &DataError{Source: "demand", Msg: "no demand periods loaded"}
	}

	end, err := CanonicalPeriod(endPeriod)
	if err != nil {
		return &DataError{Source: "demand", Msg: err.Error()}
	}

	for product, series := range b.Demand {
		if len(series) == 0 {
			return fmt.Errorf("%w: %s", ErrNoHistory, product)
		}
	}

	last := b.Periods[len(b.Periods)-1]
	for last < end {
		next, err := NextPeriod(last)
		if err != nil {
			return err
		}

		for product, series := range b.Demand {
			series[next] = b.extendedValue(product, series, next, policy)
		}
		b.Periods = append(b.Periods, next)
		last = next
	}
	return nil
}

func (b *Bundle) extendedValue(product normalize.Key, series Series, period string, policy ExtendPolicy) float64 {
	switch policy {
	case ExtendSeasonal:
		if prior, err := PriorYearPeriod(period); err == nil {
			for existing, val := range series {
				if SameMonth(existing, prior) {
					return nonNegative(val)
				}
			}
		}
		return nonNegative(b.lastObserved(series))
	case ExtendReplicateLast, ExtendFromLast:
		return nonNegative(b.lastObserved(series))
	default:
		return 0
	}
}

// lastObserved returns the value of the latest period present in the series.
func (b *Bundle) lastObserved(series Series) float64 {
	best := ""
	val := 0.0
	for p, v := range series {
		if p > best {
			best = p
			val = v
		}
	}
	return val
}

func nonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}
