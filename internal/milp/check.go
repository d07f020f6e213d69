/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package milp

import (
	"fmt"
	"math"
)

// Violation records one constraint or bound the point fails to satisfy.
type Violation struct {
	Name     string
	Activity float64
	Rel      Relation
	RHS      float64
}

func (v Violation) String() string {
	return fmt.Sprintf("%s: activity %.6g %s %.6g violated", v.Name, v.Activity, v.Rel, v.RHS)
}

// Violations evaluates every constraint, variable bound, and integrality
// requirement at a point and returns the failures. Variables missing from
// values are treated as zero. Used by tests and by the post-solve sanity
// check; an Optimal solution must come back empty.
func (m *Model) Violations(values map[string]float64, tol float64) []Violation {
	var out []Violation

	for _, c := range m.Constraints {
		activity := 0.0
		for _, t := range c.Terms {
			activity += t.Coef * values[m.Vars[t.Var].Name]
		}
		ok := false
		switch c.Rel {
		case LE:
			ok = activity <= c.RHS+tol
		case GE:
			ok = activity >= c.RHS-tol
		case EQ:
			ok = math.Abs(activity-c.RHS) <= tol
		}
		if !ok {
			out = append(out, Violation{Name: c.Name, Activity: activity, Rel: c.Rel, RHS: c.RHS})
		}
	}

	for _, v := range m.Vars {
		val := values[v.Name]
		if val < v.Lower-tol {
			out = append(out, Violation{Name: "bound:" + v.Name, Activity: val, Rel: GE, RHS: v.Lower})
		}
		if !math.IsInf(v.Upper, 1) && val > v.Upper+tol {
			out = append(out, Violation{Name: "bound:" + v.Name, Activity: val, Rel: LE, RHS: v.Upper})
		}
		if v.Kind != Continuous {
			if math.Abs(val-math.Round(val)) > tol {
				out = append(out, Violation{Name: "integrality:" + v.Name, Activity: val, Rel: EQ, RHS: math.Round(val)})
			}
		}
	}

	return out
}
