/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dataset

import (
	"sort"
	"strconv"
	"strings"

	"github.com/friendsincode/forgeplan/internal/normalize"
)

// Kind names an ingestible table.
type Kind string

const (
	KindDemand       Kind = "demand"
	KindProductivity Kind = "productivity"
	KindCosts        Kind = "costs"
	KindInventory    Kind = "inventory"
)

// ValidKind reports whether k names an ingestible table.
func ValidKind(k Kind) bool {
	switch k {
	case KindDemand, KindProductivity, KindCosts, KindInventory:
		return true
	}
	return false
}

// MergeRows ingests one table of raw rows (CSV or spreadsheet cells) into
// the bundle. The first row that names a product column is treated as the
// header; title rows above it are skipped, matching the raw exports.
func (b *Bundle) MergeRows(kind Kind, rows [][]string, n *normalize.Normalizer) error {
	switch kind {
	case KindDemand:
		return b.mergeSeriesRows(rows, n, b.Demand, "demand")
	case KindInventory:
		return b.mergeSeriesRows(rows, n, b.Inventory, "inventory")
	case KindProductivity:
		return b.mergeProductivityRows(rows)
	case KindCosts:
		return b.mergeCostRows(rows)
	default:
		return &DataError{Source: string(kind), Msg: "unknown table kind"}
	}
}

// mergeSeriesRows handles the wide product-by-period layout shared by the
// demand forecast and inventory balance exports.
func (b *Bundle) mergeSeriesRows(rows [][]string, n *normalize.Normalizer, dest map[normalize.Key]Series, source string) error {
	header, body := splitHeader(rows, "PRODUCT", "PRODUTO")
	if header == nil {
		return &DataError{Source: source, Msg: "no product header row found"}
	}

	periods := make([]string, len(header))
	for i, col := range header[1:] {
		canon, err := CanonicalPeriod(strings.TrimSpace(col))
		if err != nil {
			return &DataError{Source: source, Msg: err.Error()}
		}
		periods[i+1] = canon
	}

	for _, row := range body {
		if len(row) == 0 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		key := n.Normalize(row[0])
		if _, ok := b.DisplayNames[key]; !ok {
			b.DisplayNames[key] = strings.TrimSpace(row[0])
		}
		series, ok := dest[key]
		if !ok {
			series = Series{}
			dest[key] = series
		}
		for i := 1; i < len(row) && i < len(periods); i++ {
			val, ok := parseNumber(row[i])
			if !ok {
				continue
			}
			series[periods[i]] = val
		}
	}

	if source == "demand" {
		b.rebuildPeriods()
	}
	return nil
}

// mergeProductivityRows handles the MODEL/FINISH matrix whose remaining
// columns are numeric machine identifiers.
func (b *Bundle) mergeProductivityRows(rows [][]string) error {
	header, body := splitHeader(rows, "MODEL", "MODELO")
	if header == nil {
		return &DataError{Source: "productivity", Msg: "no model header row found"}
	}

	machines := map[int]string{}
	for i, col := range header {
		col = strings.TrimSpace(col)
		if isHeaderWord(col, "MODEL", "MODELO") || isHeaderWord(col, "FINISH", "TIPO") {
			continue
		}
		// Machine columns carry numeric IDs, sometimes exported as floats.
		if f, err := strconv.ParseFloat(col, 64); err == nil {
			machines[i] = strconv.Itoa(int(f))
		}
	}
	if len(machines) == 0 {
		return &DataError{Source: "productivity", Msg: "no machine columns found"}
	}

	for _, row := range body {
		if len(row) < 2 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		key := normalize.Key{
			Model:  strings.ToUpper(strings.TrimSpace(row[0])),
			Finish: strings.ToUpper(strings.TrimSpace(row[1])),
		}
		rates, ok := b.Productivity[key]
		if !ok {
			rates = map[string]float64{}
			b.Productivity[key] = rates
		}
		for i, machine := range machines {
			if i >= len(row) {
				continue
			}
			rate, ok := parseNumber(row[i])
			if ok && rate > 0 {
				rates[machine] = rate
			}
		}
	}
	return nil
}

// mergeCostRows handles the MODEL/FINISH/UNIT_COST export.
func (b *Bundle) mergeCostRows(rows [][]string) error {
	header, body := splitHeader(rows, "MODEL", "MODELO")
	if header == nil {
		return &DataError{Source: "costs", Msg: "no model header row found"}
	}

	for _, row := range body {
		if len(row) < 3 || strings.TrimSpace(row[0]) == "" {
			continue
		}
		key := normalize.Key{
			Model:  strings.ToUpper(strings.TrimSpace(row[0])),
			Finish: strings.ToUpper(strings.TrimSpace(row[1])),
		}
		cost, ok := parseNumber(row[2])
		if !ok {
			return &DataError{Source: "costs", Msg: "unparseable unit cost for " + key.String()}
		}
		b.Costs[key] = cost
	}
	return nil
}

// splitHeader scans for the first row whose first cell matches one of the
// accepted header words and returns it plus the rows after it.
func splitHeader(rows [][]string, words ...string) ([]string, [][]string) {
	for i, row := range rows {
		if len(row) > 0 && isHeaderWord(strings.TrimSpace(row[0]), words...) {
			return row, rows[i+1:]
		}
	}
	return nil, nil
}

func isHeaderWord(cell string, words ...string) bool {
	for _, w := range words {
		if strings.EqualFold(cell, w) {
			return true
		}
	}
	return false
}

// parseNumber tolerates decimal commas and blank cells.
func parseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false
	}
	s = strings.ReplaceAll(s, ",", ".")
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func (b *Bundle) rebuildPeriods() {
	seen := map[string]bool{}
	for _, series := range b.Demand {
		for p := range series {
			seen[p] = true
		}
	}
	out := make([]string, 0, len(seen))
	for p := range seen {
		out = append(out, p)
	}
	sort.Strings(out)
	b.Periods = out
}
