/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package solver

import (
	"bufio"
	"fmt"
	"io"
	"math"

	"github.com/friendsincode/forgeplan/internal/milp"
)

// WriteLP serializes a model in CPLEX LP format, the wire format both
// backends accept. Variable names must already be LP-safe, which the model
// layer guarantees.
func WriteLP(w io.Writer, m *milp.Model) error {
	bw := bufio.NewWriter(w)

	fmt.Fprintf(bw, "\\ %s\n", m.Name)
	fmt.Fprintln(bw, "Minimize")
	fmt.Fprint(bw, " obj:")
	if len(m.Objective) == 0 {
		// An empty objective still needs a valid expression.
		fmt.Fprint(bw, " 0 "+m.Vars[0].Name)
	} else {
		writeTerms(bw, m, m.Objective)
	}
	fmt.Fprintln(bw)

	fmt.Fprintln(bw, "Subject To")
	for _, c := range m.Constraints {
		fmt.Fprintf(bw, " %s:", c.Name)
		writeTerms(bw, m, c.Terms)
		fmt.Fprintf(bw, " %s %s\n", c.Rel, formatNum(c.RHS))
	}

	fmt.Fprintln(bw, "Bounds")
	for _, v := range m.Vars {
		if v.Kind == milp.Binary {
			continue // implied by the Binaries section
		}
		switch {
		case math.IsInf(v.Lower, -1) && math.IsInf(v.Upper, 1):
			fmt.Fprintf(bw, " %s free\n", v.Name)
		case math.IsInf(v.Upper, 1):
			if v.Lower != 0 {
				fmt.Fprintf(bw, " %s >= %s\n", v.Name, formatNum(v.Lower))
			}
		default:
			fmt.Fprintf(bw, " %s <= %s <= %s\n", formatNum(v.Lower), v.Name, formatNum(v.Upper))
		}
	}

	generals := make([]string, 0)
	binaries := make([]string, 0)
	for _, v := range m.Vars {
		switch v.Kind {
		case milp.Integer:
			generals = append(generals, v.Name)
		case milp.Binary:
			binaries = append(binaries, v.Name)
		}
	}
	if len(generals) > 0 {
		fmt.Fprintln(bw, "Generals")
		for _, name := range generals {
			fmt.Fprintf(bw, " %s\n", name)
		}
	}
	if len(binaries) > 0 {
		fmt.Fprintln(bw, "Binaries")
		for _, name := range binaries {
			fmt.Fprintf(bw, " %s\n", name)
		}
	}

	fmt.Fprintln(bw, "End")
	return bw.Flush()
}

func writeTerms(w io.Writer, m *milp.Model, terms []milp.Term) {
	for _, t := range terms {
		coef := t.Coef
		sign := "+"
		if coef < 0 {
			sign = "-"
			coef = -coef
		}
		fmt.Fprintf(w, " %s %s %s", sign, formatNum(coef), m.Vars[t.Var].Name)
	}
}

func formatNum(f float64) string {
	if f == math.Trunc(f) && math.Abs(f) < 1e15 {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
