/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package dataset holds the planning input bundle: demand, productivity,
// costs, and opening inventory, keyed by canonical product. It owns raw file
// ingestion, horizon extension, and the cross-table matching diagnostics.
package dataset

import (
	"errors"
	"fmt"
	"sort"

	"github.com/friendsincode/forgeplan/internal/normalize"
)

// ErrNoHistory marks a product requested for planning that has zero
// historical demand records. Extension cannot invent a series from nothing.
var ErrNoHistory = errors.New("product has no historical demand")

// DataError reports unusable input. It fails the run before any model is
// built.
type DataError struct {
	Source string // which table or file
	Msg    string
}

func (e *DataError) Error() string {
	return fmt.Sprintf("data error in %s: %s", e.Source, e.Msg)
}

// Series maps period -> quantity for one product.
type Series map[string]float64

// Bundle is the immutable planning input for one solve. All product keys are
// canonical (post-normalization).
type Bundle struct {
	// Periods is the sorted union of demand periods, contiguous after
	// horizon extension.
	Periods []string

	Demand       map[normalize.Key]Series
	Productivity map[normalize.Key]map[string]float64 // product -> machine -> units/hour
	Costs        map[normalize.Key]float64            // unit cost
	Inventory    map[normalize.Key]Series             // balance snapshots per period
	DisplayNames map[normalize.Key]string             // raw spelling for reporting
}

// NewBundle returns an empty bundle with all maps allocated.
func NewBundle() *Bundle {
	return &Bundle{
		Demand:       make(map[normalize.Key]Series),
		Productivity: make(map[normalize.Key]map[string]float64),
		Costs:        make(map[normalize.Key]float64),
		Inventory:    make(map[normalize.Key]Series),
		DisplayNames: make(map[normalize.Key]string),
	}
}

// Clone deep-copies the bundle. Horizon extension mutates the demand
// series, so concurrent runs over the same source data each take a copy.
func (b *Bundle) Clone() *Bundle {
	out := NewBundle()
	out.Periods = append([]string(nil), b.Periods...)
	for k, s := range b.Demand {
		out.Demand[k] = cloneSeries(s)
	}
	for k, rates := range b.Productivity {
		m := make(map[string]float64, len(rates))
		for machine, rate := range rates {
			m[machine] = rate
		}
		out.Productivity[k] = m
	}
	for k, c := range b.Costs {
		out.Costs[k] = c
	}
	for k, s := range b.Inventory {
		out.Inventory[k] = cloneSeries(s)
	}
	for k, name := range b.DisplayNames {
		out.DisplayNames[k] = name
	}
	return out
}

func cloneSeries(s Series) Series {
	out := make(Series, len(s))
	for p, v := range s {
		out[p] = v
	}
	return out
}

// Machines returns the sorted set of machine identifiers present in the
// productivity table.
func (b *Bundle) Machines() []string {
	seen := map[string]bool{}
	for _, rates := range b.Productivity {
		for m := range rates {
			seen[m] = true
		}
	}
	out := make([]string, 0, len(seen))
	for m := range seen {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		return machineLess(out[i], out[j])
	})
	return out
}

// Products returns the sorted product keys present in the demand table.
func (b *Bundle) Products() []normalize.Key {
	out := make([]normalize.Key, 0, len(b.Demand))
	for k := range b.Demand {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Model != out[j].Model {
			return out[i].Model < out[j].Model
		}
		return out[i].Finish < out[j].Finish
	})
	return out
}

// InitialInventory resolves the opening stock per product for a start
// period: the latest balance snapshot at or before that period, zero when
// none exists.
func (b *Bundle) InitialInventory(startPeriod string) map[normalize.Key]float64 {
	out := make(map[normalize.Key]float64, len(b.Inventory))
	for product, series := range b.Inventory {
		periods := make([]string, 0, len(series))
		for p := range series {
			periods = append(periods, p)
		}
		sort.Strings(periods)
		val := 0.0
		for _, p := range periods {
			if p > startPeriod {
				break
			}
			val = series[p]
		}
		out[product] = val
	}
	return out
}

// Diagnostic flags a non-fatal data-quality issue found while matching
// tables against each other.
type Diagnostic struct {
	Kind    string
	Product normalize.Key
	Detail  string
}

// MatchDiagnostics reports products that exist on one side of the
// demand/productivity join but not the other. These are surfaced to the
// caller so source data can be fixed; they never abort a run.
func (b *Bundle) MatchDiagnostics() []Diagnostic {
	var out []Diagnostic
	for _, product := range b.Products() {
		if _, ok := b.Productivity[product]; !ok {
			out = append(out, Diagnostic{
				Kind:    "demand-without-productivity",
				Product: product,
				Detail:  "demand exists but no machine can produce it",
			})
		}
	}
	prodKeys := make([]normalize.Key, 0, len(b.Productivity))
	for k := range b.Productivity {
		prodKeys = append(prodKeys, k)
	}
	sort.Slice(prodKeys, func(i, j int) bool {
		if prodKeys[i].Model != prodKeys[j].Model {
			return prodKeys[i].Model < prodKeys[j].Model
		}
		return prodKeys[i].Finish < prodKeys[j].Finish
	})
	for _, product := range prodKeys {
		if _, ok := b.Demand[product]; !ok {
			out = append(out, Diagnostic{
				Kind:    "productivity-without-demand",
				Product: product,
				Detail:  "machine rate exists but product has no demand",
			})
		}
	}
	return out
}

// machineLess orders numeric machine IDs numerically, everything else
// lexically after them.
func machineLess(a, b string) bool {
	ai, aNum := machineOrdinal(a)
	bi, bNum := machineOrdinal(b)
	if aNum && bNum {
		return ai < bi
	}
	if aNum != bNum {
		return aNum
	}
	return a < b
}

func machineOrdinal(s string) (int, bool) {
	n := 0
	if s == "" {
		return 0, false
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return 0, false
		}
		n = n*10 + int(r-'0')
	}
	return n, true
}
