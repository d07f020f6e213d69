/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package milp builds the lot-sizing mixed-integer model: decision
// variables, objective, and constraints, with per-variable tightened bounds.
// It knows nothing about solver backends; the solver package serializes a
// Model and hands it to an external binary.
package milp

import (
	"fmt"
	"math"
	"strings"
)

// VarKind classifies a decision variable.
type VarKind int

const (
	Continuous VarKind = iota
	Integer
	Binary
)

// Variable is one column of the model.
type Variable struct {
	Name  string
	Kind  VarKind
	Lower float64
	Upper float64 // math.Inf(1) when unbounded above
}

// Term is a coefficient on a variable, addressed by column index.
type Term struct {
	Var  int
	Coef float64
}

// Relation is a constraint sense.
type Relation int

const (
	LE Relation = iota
	GE
	EQ
)

func (r Relation) String() string {
	switch r {
	case LE:
		return "<="
	case GE:
		return ">="
	default:
		return "="
	}
}

// Constraint is one row of the model.
type Constraint struct {
	Name  string
	Terms []Term
	Rel   Relation
	RHS   float64
}

// Model is a minimization MILP. Variables and constraints are append-only;
// the model is discarded after one solve.
type Model struct {
	Name        string
	Vars        []Variable
	Objective   []Term
	Constraints []Constraint

	byName map[string]int
}

// NewModel creates an empty minimization model.
func NewModel(name string) *Model {
	return &Model{Name: name, byName: make(map[string]int)}
}

// AddVariable appends a column and returns its index. Names must be unique.
func (m *Model) AddVariable(name string, kind VarKind, lower, upper float64) int {
	idx := len(m.Vars)
	m.Vars = append(m.Vars, Variable{Name: name, Kind: kind, Lower: lower, Upper: upper})
	m.byName[name] = idx
	return idx
}

// AddBinary appends a 0/1 column.
func (m *Model) AddBinary(name string) int {
	return m.AddVariable(name, Binary, 0, 1)
}

// AddConstraint appends a row.
func (m *Model) AddConstraint(name string, terms []Term, rel Relation, rhs float64) {
	m.Constraints = append(m.Constraints, Constraint{Name: name, Terms: terms, Rel: rel, RHS: rhs})
}

// AddObjectiveTerm accumulates a linear objective coefficient.
func (m *Model) AddObjectiveTerm(v int, coef float64) {
	if coef == 0 {
		return
	}
	m.Objective = append(m.Objective, Term{Var: v, Coef: coef})
}

// VarIndex looks a column up by name.
func (m *Model) VarIndex(name string) (int, bool) {
	i, ok := m.byName[name]
	return i, ok
}

// NumBinary counts binary columns, useful for logging model shape.
func (m *Model) NumBinary() int {
	n := 0
	for _, v := range m.Vars {
		if v.Kind == Binary {
			n++
		}
	}
	return n
}

// ObjectiveValue evaluates the objective at a point. Variables absent from
// values are treated as zero, matching solver outputs that omit zeros.
func (m *Model) ObjectiveValue(values map[string]float64) float64 {
	total := 0.0
	for _, t := range m.Objective {
		total += t.Coef * values[m.Vars[t.Var].Name]
	}
	return total
}

// SanitizeName makes an identifier safe for LP-format files.
func SanitizeName(s string) string {
	replacer := strings.NewReplacer(" ", "_", ":", "_", "-", "_", ".", "_", "/", "_")
	return replacer.Replace(s)
}

// varName joins name fragments with underscores after sanitizing each.
func varName(parts ...string) string {
	sanitized := make([]string, len(parts))
	for i, p := range parts {
		sanitized[i] = SanitizeName(p)
	}
	return strings.Join(sanitized, "_")
}

func (m *Model) String() string {
	return fmt.Sprintf("model %s: %d vars (%d binary), %d constraints",
		m.Name, len(m.Vars), m.NumBinary(), len(m.Constraints))
}

// Inf is the unbounded upper limit for continuous variables.
func Inf() float64 { return math.Inf(1) }
