/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package solver

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/friendsincode/forgeplan/internal/milp"
)

func sampleModel() *milp.Model {
	m := milp.NewModel("sample")
	x := m.AddVariable("x", milp.Continuous, 0, 20)
	h := m.AddVariable("h", milp.Integer, 0, 10)
	y := m.AddBinary("y")
	m.AddObjectiveTerm(x, 3)
	m.AddObjectiveTerm(y, 70)
	m.AddConstraint("cap", []milp.Term{{Var: x, Coef: 1}, {Var: h, Coef: 2}}, milp.LE, 16)
	m.AddConstraint("link", []milp.Term{{Var: x, Coef: 1}, {Var: y, Coef: -20}}, milp.LE, 0)
	m.AddConstraint("demand", []milp.Term{{Var: x, Coef: 1}}, milp.GE, 5)
	return m
}

func TestWriteLP(t *testing.T) {
	var sb strings.Builder
	if err := WriteLP(&sb, sampleModel()); err != nil {
		t.Fatalf("WriteLP: %v", err)
	}
	got := sb.String()

	for _, want := range []string{
		"Minimize",
		" obj: + 3 x + 70 y",
		"Subject To",
		" cap: + 1 x + 2 h <= 16",
		" link: + 1 x - 20 y <= 0",
		" demand: + 1 x >= 5",
		"Bounds",
		" 0 <= x <= 20",
		" 0 <= h <= 10",
		"Generals",
		"Binaries",
		"End",
	} {
		if !strings.Contains(got, want) {
			t.Errorf("LP output missing %q\n%s", want, got)
		}
	}

	// Binary bounds come from the Binaries section, never from Bounds.
	for _, line := range strings.Split(got, "\n") {
		if strings.Contains(line, "<=") && strings.Contains(line, " y ") && !strings.Contains(line, ":") {
			t.Errorf("binary variable leaked into Bounds: %q", line)
		}
	}
}

func TestParseCBCSolutionOptimal(t *testing.T) {
	path := writeTemp(t, "cbc.txt", `Optimal - objective value 85.00000000
      0 x                      5                       3
      1 h                      0                       0
      2 y                      1                      70
`)
	res, err := parseCBCSolution(path)
	if err != nil {
		t.Fatalf("parseCBCSolution: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Errorf("status = %v, want optimal", res.Status)
	}
	if res.Objective != 85 {
		t.Errorf("objective = %v, want 85", res.Objective)
	}
	if res.Values["x"] != 5 || res.Values["y"] != 1 {
		t.Errorf("values = %v", res.Values)
	}
}

func TestParseCBCSolutionTimeLimit(t *testing.T) {
	path := writeTemp(t, "cbc.txt", `Stopped on time limit - objective value 90.00000000
**      0 x                      6                       3
**      2 y                      1                      70
`)
	res, err := parseCBCSolution(path)
	if err != nil {
		t.Fatalf("parseCBCSolution: %v", err)
	}
	if res.Status != StatusTimeLimit {
		t.Errorf("status = %v, want time_limit", res.Status)
	}
	if !res.Status.Usable() {
		t.Error("time-limited incumbent should be usable")
	}
	if res.Values["x"] != 6 {
		t.Errorf("values = %v, want incumbent x=6", res.Values)
	}
}

func TestParseCBCSolutionInfeasible(t *testing.T) {
	path := writeTemp(t, "cbc.txt", "Infeasible - objective value 0.00000000\n")
	res, err := parseCBCSolution(path)
	if err != nil {
		t.Fatalf("parseCBCSolution: %v", err)
	}
	if res.Status != StatusInfeasible {
		t.Errorf("status = %v, want infeasible", res.Status)
	}
	if len(res.Values) != 0 {
		t.Errorf("infeasible result carries values: %v", res.Values)
	}
}

func TestParseGLPKSolution(t *testing.T) {
	path := writeTemp(t, "glpk.txt", `Problem:    sample
Rows:       3
Columns:    3 (2 integer, 1 binary)
Status:     INTEGER OPTIMAL
Objective:  obj = 85 (MINimum)

   No.   Row name        Activity     Lower bound   Upper bound
------ ------------    ------------- ------------- -------------
     1 cap                         5                          16

   No. Column name       Activity     Lower bound   Upper bound
------ ------------    ------------- ------------- -------------
     1 x                           5             0            20
     2 h            *              0             0            10
     3 a_rather_long_column_name_that_wraps
                    *              1             0             1

End of output
`)
	res, err := parseGLPKSolution(path)
	if err != nil {
		t.Fatalf("parseGLPKSolution: %v", err)
	}
	if res.Status != StatusOptimal {
		t.Errorf("status = %v, want optimal", res.Status)
	}
	if res.Objective != 85 {
		t.Errorf("objective = %v, want 85", res.Objective)
	}
	if res.Values["x"] != 5 {
		t.Errorf("x = %v, want 5", res.Values["x"])
	}
	if res.Values["h"] != 0 {
		t.Errorf("h = %v, want 0", res.Values["h"])
	}
	if res.Values["a_rather_long_column_name_that_wraps"] != 1 {
		t.Errorf("wrapped column = %v, want 1", res.Values["a_rather_long_column_name_that_wraps"])
	}
	// Row activities must not be mistaken for columns.
	if _, ok := res.Values["cap"]; ok {
		t.Error("row activity parsed as a variable value")
	}
}

func TestProbeMissingBinary(t *testing.T) {
	g := &GLPK{Bin: "/nonexistent/glpsol-for-this-test"}
	if err := Probe(context.Background(), g); err == nil {
		t.Fatal("Probe with a missing binary returned nil")
	}
}

func TestParseGLPKStatuses(t *testing.T) {
	cases := []struct {
		line string
		want Status
	}{
		{"Status:     OPTIMAL", StatusOptimal},
		{"Status:     INTEGER OPTIMAL", StatusOptimal},
		{"Status:     INTEGER NON-OPTIMAL", StatusTimeLimit},
		{"Status:     INTEGER EMPTY", StatusInfeasible},
		{"Status:     PROBLEM HAS NO PRIMAL FEASIBLE SOLUTION", StatusInfeasible},
		{"Status:     PROBLEM HAS NO DUAL FEASIBLE SOLUTION", StatusInfeasible},
		{"Status:     FEASIBLE", StatusTimeLimit},
		{"Status:     UNBOUNDED", StatusUnbounded},
		{"Status:     UNDEFINED", StatusError},
	}
	for _, tc := range cases {
		if got := glpkStatus(tc.line); got != tc.want {
			t.Errorf("glpkStatus(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestCBCStatuses(t *testing.T) {
	cases := []struct {
		line string
		want Status
	}{
		{"Optimal - objective value 1.0", StatusOptimal},
		{"Stopped on time limit - objective value 2.0", StatusTimeLimit},
		{"Infeasible - objective value 0.0", StatusInfeasible},
		{"Unbounded", StatusUnbounded},
		{"something went wrong", StatusError},
	}
	for _, tc := range cases {
		if got := cbcStatus(tc.line); got != tc.want {
			t.Errorf("cbcStatus(%q) = %v, want %v", tc.line, got, tc.want)
		}
	}
}

func TestCBCBestBound(t *testing.T) {
	stdout := "Result - Stopped on time limit, objective 100.5, best possible 92.25\n"
	res := &Result{Status: StatusTimeLimit, Objective: 100.5}
	if got := cbcBestBound(stdout, res); got != 92.25 {
		t.Errorf("bound = %v, want 92.25", got)
	}

	res = &Result{Status: StatusOptimal, Objective: 85}
	if got := cbcBestBound("no bound here", res); got != 85 {
		t.Errorf("optimal bound = %v, want objective 85", got)
	}
}

func TestNewBackendRegistry(t *testing.T) {
	for _, name := range []string{"cbc", "glpk", ""} {
		s, err := New(name)
		if err != nil {
			t.Errorf("New(%q): %v", name, err)
		}
		if s == nil {
			t.Errorf("New(%q) returned nil solver", name)
		}
	}
	if _, err := New("gurobi"); err == nil {
		t.Error("expected an error for an unregistered backend")
	}
}

func writeTemp(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}
