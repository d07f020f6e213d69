/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package normalize canonicalizes raw product identifiers so demand,
// productivity, cost, and inventory records that refer to the same physical
// product agree on one key. Rules are an ordered, versioned list so they can
// be audited and tested independently of the ingestion pipeline.
package normalize

import (
	"strings"
)

// RulesVersion identifies the active alias ruleset. Bump when the default
// rules change so persisted datasets can record which ruleset produced them.
const RulesVersion = 3

// Key is a canonical product identifier: a model name plus a finish variant.
type Key struct {
	Model  string
	Finish string
}

// String renders the key in the canonical "MODEL FINISH" display form.
func (k Key) String() string {
	if k.Model == "" {
		return k.Finish
	}
	if k.Finish == "" {
		return k.Model
	}
	return k.Model + " " + k.Finish
}

// AliasRule rewrites one legacy spelling to its canonical form.
type AliasRule struct {
	Match   string
	Replace string
}

// Normalizer applies the canonicalization pipeline. The zero value is not
// usable; construct with New.
type Normalizer struct {
	finishes      []string
	defaultFinish string
	stripPrefixes []string
	aliases       []AliasRule
	families      []string
}

// New returns a normalizer with the production ruleset.
func New() *Normalizer {
	return &Normalizer{
		// Finish tokens are matched anywhere in the raw string and pulled
		// out into Key.Finish. Order matters: first match wins.
		finishes:      []string{"PLATINO", "NEON", "PEROLA", "METAL", "CRISTAL"},
		defaultFinish: "LISO",
		stripPrefixes: []string{"FESTA "},
		aliases: []AliasRule{
			{Match: "CORACAO", Replace: "COR"},
			{Match: "GF 6.5", Replace: "GF 65"},
		},
		// Family prefixes collapse per-size variants into one planning SKU.
		families: []string{"TOP", "MAXI", "FAT BALL"},
	}
}

// Normalize canonicalizes a raw product string. It is total: any input,
// including garbage, yields a key; unmapped names pass through upper-cased
// and whitespace-collapsed rather than failing. Downstream matching reports
// unmatched keys as diagnostics.
func (n *Normalizer) Normalize(raw string) Key {
	s := collapseSpaces(strings.ToUpper(strings.TrimSpace(raw)))

	finish := n.defaultFinish
	matched := false
	for _, f := range n.finishes {
		if containsToken(s, f) {
			finish = f
			s = collapseSpaces(removeToken(s, f))
			matched = true
			break
		}
	}
	// An explicit default-finish token still has to come out of the model
	// name, or canonical output would grow a finish on every pass.
	if !matched && containsToken(s, n.defaultFinish) {
		s = collapseSpaces(removeToken(s, n.defaultFinish))
	}

	for _, prefix := range n.stripPrefixes {
		if strings.HasPrefix(s, prefix) {
			s = strings.TrimSpace(s[len(prefix):])
		}
	}

	for _, rule := range n.aliases {
		s = strings.ReplaceAll(s, rule.Match, rule.Replace)
	}

	for _, family := range n.families {
		if s == family || strings.HasPrefix(s, family+" ") {
			s = family
			break
		}
	}

	return Key{Model: collapseSpaces(s), Finish: finish}
}

// NormalizeString is Normalize composed with Key.String. It is idempotent:
// the canonical display form maps back to itself.
func (n *Normalizer) NormalizeString(raw string) string {
	return n.Normalize(raw).String()
}

// containsToken reports whether tok appears in s as a whole word.
func containsToken(s, tok string) bool {
	idx := strings.Index(s, tok)
	for idx >= 0 {
		before := idx == 0 || s[idx-1] == ' '
		end := idx + len(tok)
		after := end == len(s) || s[end] == ' '
		if before && after {
			return true
		}
		next := strings.Index(s[idx+1:], tok)
		if next < 0 {
			return false
		}
		idx = idx + 1 + next
	}
	return false
}

// removeToken deletes the first whole-word occurrence of tok from s.
func removeToken(s, tok string) string {
	fields := strings.Fields(s)
	joined := strings.Join(fields, " ")
	// Rebuild without the token; only whole words qualify so that a finish
	// name embedded in a longer model word survives.
	out := make([]string, 0, len(fields))
	removed := false
	for _, f := range fields {
		if !removed && f == tok {
			removed = true
			continue
		}
		out = append(out, f)
	}
	if !removed {
		// Multi-word tokens ("FAT BALL" style) fall back to substring removal.
		if i := strings.Index(joined, tok); i >= 0 {
			return joined[:i] + joined[i+len(tok):]
		}
		return joined
	}
	return strings.Join(out, " ")
}

func collapseSpaces(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
