/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package dataset

import (
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/friendsincode/forgeplan/internal/normalize"
)

func key(model, finish string) normalize.Key {
	return normalize.Key{Model: model, Finish: finish}
}

func demandBundle(t *testing.T) *Bundle {
	t.Helper()
	b := NewBundle()
	csv := strings.Join([]string{
		"Forecast export",
		"PRODUCT,2025-01-01,2025-02-01,2025-03-01",
		"BALAO 9,100,120,90",
		"BALAO NEON 9,50,40,60",
	}, "\n")
	if err := b.ReadCSV(KindDemand, strings.NewReader(csv), normalize.New()); err != nil {
		t.Fatalf("read demand: %v", err)
	}
	return b
}

func TestReadCSVDemand(t *testing.T) {
	b := demandBundle(t)

	if len(b.Periods) != 3 {
		t.Fatalf("periods = %v", b.Periods)
	}
	if got := b.Demand[key("BALAO 9", "LISO")]["2025-02-01"]; got != 120 {
		t.Errorf("plain demand = %v, want 120", got)
	}
	if got := b.Demand[key("BALAO 9", "NEON")]["2025-03-01"]; got != 60 {
		t.Errorf("neon demand = %v, want 60", got)
	}
	if b.DisplayNames[key("BALAO 9", "NEON")] != "BALAO NEON 9" {
		t.Errorf("display name = %q", b.DisplayNames[key("BALAO 9", "NEON")])
	}
}

func TestReadCSVProductivityAndCosts(t *testing.T) {
	b := demandBundle(t)

	prod := strings.Join([]string{
		"Productivity matrix",
		"MODELO,TIPO,11,14.0,20",
		"BALAO 9,LISO,12.5,,8",
		"BALAO 9,NEON,10,6,0",
	}, "\n")
	if err := b.ReadCSV(KindProductivity, strings.NewReader(prod), normalize.New()); err != nil {
		t.Fatalf("read productivity: %v", err)
	}

	costs := "MODELO;TIPO;UNIT_COST\nBALAO 9;LISO;1,75\nBALAO 9;NEON;2,10\n"
	if err := b.ReadCSV(KindCosts, strings.NewReader(costs), normalize.New()); err != nil {
		t.Fatalf("read costs: %v", err)
	}

	rates := b.Productivity[key("BALAO 9", "LISO")]
	if rates["11"] != 12.5 || rates["20"] != 8 {
		t.Errorf("rates = %v", rates)
	}
	if _, ok := rates["14"]; ok {
		t.Error("blank rate cell should not produce a machine entry")
	}
	if got := b.Productivity[key("BALAO 9", "NEON")]["14"]; got != 6 {
		t.Errorf("neon on machine 14 = %v, want 6 (float column header)", got)
	}
	if _, ok := b.Productivity[key("BALAO 9", "NEON")]["20"]; ok {
		t.Error("zero rate should be dropped")
	}
	if got := b.Costs[key("BALAO 9", "NEON")]; math.Abs(got-2.10) > 1e-9 {
		t.Errorf("decimal-comma cost = %v, want 2.10", got)
	}

	if machines := b.Machines(); len(machines) != 3 || machines[0] != "11" || machines[1] != "14" || machines[2] != "20" {
		t.Errorf("machines = %v", machines)
	}
}

func TestExtendHorizonPreservesHistoricalSum(t *testing.T) {
	for _, policy := range []ExtendPolicy{ExtendReplicateLast, ExtendFromLast, ExtendSeasonal} {
		t.Run(string(policy), func(t *testing.T) {
			b := demandBundle(t)

			sumBefore := 0.0
			for _, series := range b.Demand {
				for _, v := range series {
					sumBefore += v
				}
			}

			if err := b.ExtendHorizon("2025-07-01", policy); err != nil {
				t.Fatalf("extend: %v", err)
			}

			if len(b.Periods) != 7 {
				t.Fatalf("periods after extension = %v", b.Periods)
			}

			sumHistorical := 0.0
			for _, series := range b.Demand {
				for p, v := range series {
					if p <= "2025-03-01" {
						sumHistorical += v
					}
					if v < 0 {
						t.Errorf("negative extended demand %v at %s", v, p)
					}
				}
			}
			if math.Abs(sumHistorical-sumBefore) > 1e-9 {
				t.Errorf("historical sum changed: %v -> %v", sumBefore, sumHistorical)
			}

			// Every product covers every period after extension.
			for product, series := range b.Demand {
				for _, p := range b.Periods {
					if _, ok := series[p]; !ok {
						t.Errorf("product %s missing period %s", product, p)
					}
				}
			}
		})
	}
}

func TestExtendHorizonReplicateLastValue(t *testing.T) {
	b := demandBundle(t)
	if err := b.ExtendHorizon("2025-05-01", ExtendReplicateLast); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got := b.Demand[key("BALAO 9", "LISO")]["2025-05-01"]; got != 90 {
		t.Errorf("replicated value = %v, want 90 (last observed)", got)
	}
}

func TestExtendHorizonSeasonalUsesPriorYear(t *testing.T) {
	b := NewBundle()
	csv := strings.Join([]string{
		"PRODUCT,2024-06-01,2024-07-01,2025-05-01",
		"BALAO 9,200,350,80",
	}, "\n")
	if err := b.ReadCSV(KindDemand, strings.NewReader(csv), normalize.New()); err != nil {
		t.Fatalf("read demand: %v", err)
	}
	if err := b.ExtendHorizon("2025-07-01", ExtendSeasonal); err != nil {
		t.Fatalf("extend: %v", err)
	}
	if got := b.Demand[key("BALAO 9", "LISO")]["2025-06-01"]; got != 200 {
		t.Errorf("seasonal june = %v, want prior-year 200", got)
	}
	if got := b.Demand[key("BALAO 9", "LISO")]["2025-07-01"]; got != 350 {
		t.Errorf("seasonal july = %v, want prior-year 350", got)
	}
}

func TestExtendHorizonNoHistoryFails(t *testing.T) {
	b := demandBundle(t)
	b.Demand[key("GHOST", "LISO")] = Series{}
	err := b.ExtendHorizon("2025-06-01", ExtendReplicateLast)
	if !errors.Is(err, ErrNoHistory) {
		t.Fatalf("err = %v, want ErrNoHistory", err)
	}
}

func TestExtendHorizonRejectsUnknownPolicy(t *testing.T) {
	b := demandBundle(t)
	var de *DataError
	if err := b.ExtendHorizon("2025-06-01", ExtendPolicy("linear")); !errors.As(err, &de) {
		t.Fatalf("err = %v, want DataError", err)
	}
}

func TestInitialInventoryLatestAtOrBeforeStart(t *testing.T) {
	b := demandBundle(t)
	b.Inventory[key("BALAO 9", "LISO")] = Series{
		"2024-12-01": 40,
		"2025-01-01": 55,
		"2025-03-01": 70,
	}

	inv := b.InitialInventory("2025-02-01")
	if inv[key("BALAO 9", "LISO")] != 55 {
		t.Errorf("initial inventory = %v, want 55", inv[key("BALAO 9", "LISO")])
	}

	inv = b.InitialInventory("2024-01-01")
	if inv[key("BALAO 9", "LISO")] != 0 {
		t.Errorf("initial inventory before history = %v, want 0", inv[key("BALAO 9", "LISO")])
	}
}

func TestMatchDiagnostics(t *testing.T) {
	b := demandBundle(t)
	b.Productivity[key("BALAO 9", "LISO")] = map[string]float64{"11": 10}
	b.Productivity[key("ORPHAN", "LISO")] = map[string]float64{"11": 5}

	diags := b.MatchDiagnostics()
	var kinds []string
	for _, d := range diags {
		kinds = append(kinds, d.Kind+":"+d.Product.String())
	}
	want := map[string]bool{
		"demand-without-productivity:BALAO 9 NEON": true,
		"productivity-without-demand:ORPHAN LISO":  true,
	}
	if len(diags) != 2 {
		t.Fatalf("diagnostics = %v", kinds)
	}
	for _, k := range kinds {
		if !want[k] {
			t.Errorf("unexpected diagnostic %s", k)
		}
	}
}

func TestCanonicalPeriodFormats(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"2025-01-01", "2025-01-01"},
		{"2025-01-01 00:00:00", "2025-01-01"},
		{"2025-01", "2025-01-01"},
	}
	for _, tt := range tests {
		got, err := CanonicalPeriod(tt.in)
		if err != nil {
			t.Errorf("CanonicalPeriod(%q): %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("CanonicalPeriod(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
	if _, err := CanonicalPeriod("not a date"); err == nil {
		t.Error("expected error for garbage period")
	}
}
