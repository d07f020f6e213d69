/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dataset

import (
	"fmt"
	"time"
)

// PeriodLayout is the canonical on-the-wire period format. Periods sort
// correctly as plain strings in this layout.
const PeriodLayout = "2006-01-02"

// ParsePeriod parses a period string, tolerating a few formats the raw
// exports use (full timestamps, month-only).
func ParsePeriod(s string) (time.Time, error) {
	for _, layout := range []string{PeriodLayout, "2006-01-02 15:04:05", time.RFC3339, "2006-01"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable period %q", s)
}

// CanonicalPeriod reformats any accepted period spelling into PeriodLayout.
func CanonicalPeriod(s string) (string, error) {
	t, err := ParsePeriod(s)
	if err != nil {
		return "", err
	}
	return t.Format(PeriodLayout), nil
}

// NextPeriod advances a period by one monthly bucket.
func NextPeriod(s string) (string, error) {
	t, err := ParsePeriod(s)
	if err != nil {
		return "", err
	}
	return t.AddDate(0, 1, 0).Format(PeriodLayout), nil
}

// PriorYearPeriod returns the period twelve months earlier, used by the
// seasonal extension policy.
func PriorYearPeriod(s string) (string, error) {
	t, err := ParsePeriod(s)
	if err != nil {
		return "", err
	}
	return t.AddDate(-1, 0, 0).Format(PeriodLayout), nil
}

// SameMonth reports whether two periods land in the same calendar month.
func SameMonth(a, b string) bool {
	ta, errA := ParsePeriod(a)
	tb, errB := ParsePeriod(b)
	if errA != nil || errB != nil {
		return false
	}
	return ta.Year() == tb.Year() && ta.Month() == tb.Month()
}
