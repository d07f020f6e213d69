/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package normalize

import "testing"

func TestNormalize(t *testing.T) {
	n := New()

	tests := []struct {
		name   string
		raw    string
		model  string
		finish string
	}{
		{"finish extraction", "BALAO NEON 9", "BALAO 9", "NEON"},
		{"default finish", "BALAO 9", "BALAO 9", "LISO"},
		{"prefix strip", "FESTA BALAO 9", "BALAO 9", "LISO"},
		{"alias heart", "CORACAO 11 METAL", "COR 11", "METAL"},
		{"alias decimal code", "GF 6.5 CRISTAL", "GF 65", "CRISTAL"},
		{"family collapse", "TOP FESTA 250", "TOP", "LISO"},
		{"family exact", "MAXI", "MAXI", "LISO"},
		{"multi word family", "FAT BALL 350 PEROLA", "FAT BALL", "PEROLA"},
		{"whitespace and case", "  balao   neon  9 ", "BALAO 9", "NEON"},
		{"unmapped passthrough", "ZZ UNKNOWN 42", "ZZ UNKNOWN 42", "LISO"},
		{"explicit default finish", "COR 11 LISO", "COR 11", "LISO"},
		{"bare finish token", "LISO", "", "LISO"},
		{"empty", "", "", "LISO"},
		{"finish embedded in word survives", "NEONLIGHT 5", "NEONLIGHT 5", "LISO"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := n.Normalize(tt.raw)
			if got.Model != tt.model || got.Finish != tt.finish {
				t.Errorf("Normalize(%q) = (%q, %q), want (%q, %q)",
					tt.raw, got.Model, got.Finish, tt.model, tt.finish)
			}
		})
	}
}

func TestNormalizeStringIdempotent(t *testing.T) {
	n := New()

	inputs := []string{
		"BALAO NEON 9",
		"FESTA CORACAO 11",
		"GF 6.5 CRISTAL",
		"TOP FESTA 250",
		"zz unknown 42",
		"",
		"   ",
		"PEROLA",
	}

	for _, raw := range inputs {
		once := n.NormalizeString(raw)
		twice := n.NormalizeString(once)
		if once != twice {
			t.Errorf("NormalizeString not idempotent for %q: first %q, second %q", raw, once, twice)
		}
	}
}

func TestKeyString(t *testing.T) {
	if got := (Key{Model: "BALAO 9", Finish: "NEON"}).String(); got != "BALAO 9 NEON" {
		t.Errorf("String() = %q", got)
	}
	if got := (Key{Model: "BALAO 9"}).String(); got != "BALAO 9" {
		t.Errorf("String() without finish = %q", got)
	}
	if got := (Key{Finish: "LISO"}).String(); got != "LISO" {
		t.Errorf("String() without model = %q", got)
	}
}
