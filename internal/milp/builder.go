/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package milp

import (
	"errors"
	"fmt"
	"sort"

	"github.com/friendsincode/forgeplan/internal/normalize"
)

// ErrStructuralInfeasible marks a configuration that can never produce a
// feasible model. Detected before the solver is ever invoked and reported
// distinctly from solver-declared infeasibility.
var ErrStructuralInfeasible = errors.New("structurally infeasible configuration")

// Weights are the objective coefficients. All must be non-negative.
type Weights struct {
	Lost     float64 `json:"lost" yaml:"lost"`
	Backlog  float64 `json:"backlog" yaml:"backlog"`
	Setup    float64 `json:"setup" yaml:"setup"`
	Coverage float64 `json:"coverage" yaml:"coverage"`
}

// DefaultWeights mirror the historical cost model: full unit cost on lost
// sales, a tenth of it per period of backlog age, full setup material cost.
func DefaultWeights() Weights {
	return Weights{Lost: 1.0, Backlog: 0.1, Setup: 1.0, Coverage: 1.0}
}

// OperatorParams enables the operator-pool constraint: simultaneously
// running machines must be coverable by the available crew.
type OperatorParams struct {
	PerMachine int `json:"per_machine" yaml:"per_machine"`
	Available  int `json:"available" yaml:"available"`
}

// BuildInput is everything the builder needs for one model. It is consumed
// read-only; the builder allocates all per-solve state itself.
type BuildInput struct {
	Periods      []string
	Machines     []string
	Demand       map[normalize.Key]map[string]float64
	Productivity map[normalize.Key]map[string]float64
	InitialStock map[normalize.Key]float64
	UnitCost     map[normalize.Key]float64

	// Capacity holds hours per machine per period index. Machines absent
	// from the map have zero capacity everywhere.
	Capacity map[string][]float64

	StepHours    float64
	IntegerSteps bool

	MaxBacklogAge  int
	CoverageMonths float64
	Weights        Weights

	SetupHours        map[string]float64 // per-machine override
	DefaultSetupHours float64

	BigMPolicy     BigMPolicy
	AllowLostSales bool

	// InitialState optionally records which product each machine is
	// already configured for when the horizon opens. A machine carrying
	// its initial product into period 0 pays no setup.
	InitialState map[string]normalize.Key

	Operators *OperatorParams
}

// TripleKey addresses per (machine, product, period) variables.
type TripleKey struct {
	Machine string
	Product normalize.Key
	T       int
}

// PairKey addresses per (machine, period) variables.
type PairKey struct {
	Machine string
	T       int
}

// ProdPeriodKey addresses per (product, period) variables.
type ProdPeriodKey struct {
	Product normalize.Key
	T       int
}

// Index maps model semantics to variable names so the result extractor can
// read a solved point without re-deriving naming conventions.
type Index struct {
	Steps     map[TripleKey]string // H: production steps
	Produce   map[TripleKey]string // Y: production indicator
	State     map[TripleKey]string // S: configured-product state
	Setup     map[TripleKey]string // Delta: changeover charged
	Idle      map[PairKey]string
	Inventory map[ProdPeriodKey]string
	Lost      map[ProdPeriodKey]string
	Backlog   map[ProdPeriodKey]string
	Delivered map[ProdPeriodKey]string
	CovShort  map[ProdPeriodKey]string
}

func newIndex() *Index {
	return &Index{
		Steps:     make(map[TripleKey]string),
		Produce:   make(map[TripleKey]string),
		State:     make(map[TripleKey]string),
		Setup:     make(map[TripleKey]string),
		Idle:      make(map[PairKey]string),
		Inventory: make(map[ProdPeriodKey]string),
		Lost:      make(map[ProdPeriodKey]string),
		Backlog:   make(map[ProdPeriodKey]string),
		Delivered: make(map[ProdPeriodKey]string),
		CovShort:  make(map[ProdPeriodKey]string),
	}
}

// Build is the assembled model plus the lookup structures the extractor and
// tests need.
type Build struct {
	Model *Model
	Index *Index
	Input BuildInput

	Products        []normalize.Key
	MachineProducts map[string][]normalize.Key
	ProductMachines map[normalize.Key][]string
}

// SetupHoursFor returns the changeover duration charged on a machine.
func (b *Build) SetupHoursFor(machine string) float64 {
	if h, ok := b.Input.SetupHours[machine]; ok {
		return h
	}
	return b.Input.DefaultSetupHours
}

// CapacityHours returns the modeled capacity of a machine in a period.
func (b *Build) CapacityHours(machine string, t int) float64 {
	caps := b.Input.Capacity[machine]
	if t < 0 || t >= len(caps) {
		return 0
	}
	return caps[t]
}

// BuildModel assembles the full lot-sizing MILP. It validates the input,
// performs the structural-infeasibility preflight, and only then allocates
// variables and constraints.
func BuildModel(in BuildInput) (*Build, error) {
	if err := validateInput(in); err != nil {
		return nil, err
	}

	b := &Build{
		Model:           NewModel("lotsizing"),
		Index:           newIndex(),
		Input:           in,
		MachineProducts: make(map[string][]normalize.Key),
		ProductMachines: make(map[normalize.Key][]string),
	}

	b.mapEligibility()
	if err := b.preflight(); err != nil {
		return nil, err
	}

	b.defineVariables()
	b.buildObjective()
	b.addStateConstraints()
	b.addCapacityConstraints()
	b.addBacklogWindowConstraints()
	b.addBalanceConstraints()
	b.addCoverageConstraints()
	b.addOperatorConstraints()

	return b, nil
}

func validateInput(in BuildInput) error {
	if len(in.Periods) == 0 {
		return fmt.Errorf("no periods in planning horizon")
	}
	if len(in.Machines) == 0 {
		return fmt.Errorf("no active machines")
	}
	if in.StepHours <= 0 {
		return fmt.Errorf("step hours must be positive, got %v", in.StepHours)
	}
	w := in.Weights
	if w.Lost < 0 || w.Backlog < 0 || w.Setup < 0 || w.Coverage < 0 {
		return fmt.Errorf("objective weights must be non-negative: %+v", w)
	}
	if !ValidBigMPolicy(in.BigMPolicy) {
		return fmt.Errorf("unknown big-M policy %q", in.BigMPolicy)
	}
	if in.MaxBacklogAge < 0 {
		return fmt.Errorf("max backlog age must be non-negative, got %d", in.MaxBacklogAge)
	}
	return nil
}

// mapEligibility pairs machines with the products they can run, restricted
// to products that actually have demand.
func (b *Build) mapEligibility() {
	in := b.Input

	b.Products = make([]normalize.Key, 0, len(in.Demand))
	for p := range in.Demand {
		b.Products = append(b.Products, p)
	}
	sort.Slice(b.Products, func(i, j int) bool {
		if b.Products[i].Model != b.Products[j].Model {
			return b.Products[i].Model < b.Products[j].Model
		}
		return b.Products[i].Finish < b.Products[j].Finish
	})

	active := make(map[string]bool, len(in.Machines))
	for _, m := range in.Machines {
		active[m] = true
	}

	for _, p := range b.Products {
		machines := make([]string, 0, 4)
		for m := range in.Productivity[p] {
			if active[m] {
				machines = append(machines, m)
			}
		}
		sort.Strings(machines)
		b.ProductMachines[p] = machines
		for _, m := range machines {
			b.MachineProducts[m] = append(b.MachineProducts[m], p)
		}
	}
	for _, m := range in.Machines {
		prods := b.MachineProducts[m]
		sort.Slice(prods, func(i, j int) bool {
			if prods[i].Model != prods[j].Model {
				return prods[i].Model < prods[j].Model
			}
			return prods[i].Finish < prods[j].Finish
		})
		b.MachineProducts[m] = prods
	}
}

// preflight rejects configurations no solver run can rescue. Solver-declared
// infeasibility remains possible; this catches the cases that are knowable
// from structure alone.
func (b *Build) preflight() error {
	if b.Input.AllowLostSales {
		return nil
	}

	totalDemand := 0.0
	for _, p := range b.Products {
		for _, t := range b.Input.Periods {
			totalDemand += b.Input.Demand[p][t]
		}
	}
	if totalDemand <= 0 {
		return nil
	}

	totalCapacity := 0.0
	for _, m := range b.Input.Machines {
		for t := range b.Input.Periods {
			totalCapacity += b.CapacityHours(m, t)
		}
	}
	if totalCapacity <= 0 {
		return fmt.Errorf("%w: all machines have zero capacity across the horizon while %g units of demand are mandatory",
			ErrStructuralInfeasible, totalDemand)
	}

	for _, p := range b.Products {
		demand := 0.0
		for _, t := range b.Input.Periods {
			demand += b.Input.Demand[p][t]
		}
		stock := b.Input.InitialStock[p]
		if demand > stock && len(b.ProductMachines[p]) == 0 {
			return fmt.Errorf("%w: product %s has mandatory demand %g beyond opening stock but no eligible machine",
				ErrStructuralInfeasible, p, demand)
		}
	}
	return nil
}

// defineVariables allocates every column, computing the tight per-variable
// production bound as it goes.
func (b *Build) defineVariables() {
	in := b.Input
	m := b.Model

	stepKind := Continuous
	if in.IntegerSteps {
		stepKind = Integer
	}

	suffix := make(map[normalize.Key][]float64, len(b.Products))
	for _, p := range b.Products {
		dense := make([]float64, len(in.Periods))
		for t, period := range in.Periods {
			dense[t] = in.Demand[p][period]
		}
		suffix[p] = suffixDemand(dense)
	}

	for _, machine := range in.Machines {
		prods := b.MachineProducts[machine]
		if len(prods) == 0 {
			continue
		}

		for _, p := range prods {
			for t, period := range in.Periods {
				sKey := TripleKey{Machine: machine, Product: p, T: t}
				sName := varName("S", machine, p.String(), period)
				m.AddBinary(sName)
				b.Index.State[sKey] = sName

				dName := varName("Delta", machine, p.String(), period)
				m.AddBinary(dName)
				b.Index.Setup[sKey] = dName
			}
		}

		for t, period := range in.Periods {
			idleName := varName("Idle", machine, period)
			m.AddBinary(idleName)
			b.Index.Idle[PairKey{Machine: machine, T: t}] = idleName
		}

		for _, p := range prods {
			rate := in.Productivity[p][machine]
			for t, period := range in.Periods {
				// Production in period t may also clear backlog from up to
				// MaxBacklogAge earlier periods, so the remaining-demand
				// window opens that far back. Anything narrower under-bounds
				// and turns feasible plans infeasible.
				demandFrom := t - in.MaxBacklogAge
				if demandFrom < 0 {
					demandFrom = 0
				}
				remaining := remainingForPolicy(suffix[p][demandFrom], in.InitialStock[p], in.BigMPolicy)
				bound := stepBound(b.CapacityHours(machine, t), remaining, rate, in.StepHours, in.IntegerSteps)

				key := TripleKey{Machine: machine, Product: p, T: t}
				hName := varName("H", machine, p.String(), period)
				hIdx := m.AddVariable(hName, stepKind, 0, bound)
				b.Index.Steps[key] = hName

				yName := varName("Y", machine, p.String(), period)
				yIdx := m.AddBinary(yName)
				b.Index.Produce[key] = yName

				// H <= bound * Y links production to the indicator.
				m.AddConstraint(
					varName("LinkHY", machine, p.String(), period),
					[]Term{{Var: hIdx, Coef: 1}, {Var: yIdx, Coef: -bound}},
					LE, 0,
				)
			}
		}
	}

	for _, p := range b.Products {
		for t, period := range in.Periods {
			key := ProdPeriodKey{Product: p, T: t}

			iName := varName("I", p.String(), period)
			m.AddVariable(iName, Continuous, 0, Inf())
			b.Index.Inventory[key] = iName

			qName := varName("Q", p.String(), period)
			m.AddVariable(qName, Continuous, 0, Inf())
			b.Index.Delivered[key] = qName

			kName := varName("K", p.String(), period)
			upper := Inf()
			if !in.AllowLostSales {
				upper = 0
			}
			m.AddVariable(kName, Continuous, 0, upper)
			b.Index.Lost[key] = kName

			if in.MaxBacklogAge > 0 {
				bName := varName("B", p.String(), period)
				m.AddVariable(bName, Continuous, 0, Inf())
				b.Index.Backlog[key] = bName
			}

			if in.CoverageMonths > 0 {
				vName := varName("V", p.String(), period)
				m.AddVariable(vName, Continuous, 0, Inf())
				b.Index.CovShort[key] = vName
			}
		}
	}
}

// UnitCost returns the unit cost used for weighting, defaulting to 1 so a
// missing cost record never makes lost demand free.
func (b *Build) UnitCost(p normalize.Key) float64 {
	if c, ok := b.Input.UnitCost[p]; ok && c > 0 {
		return c
	}
	return 1.0
}

func (b *Build) buildObjective() {
	in := b.Input
	m := b.Model

	for _, p := range b.Products {
		cost := b.UnitCost(p)
		for t := range in.Periods {
			key := ProdPeriodKey{Product: p, T: t}
			if idx, ok := m.VarIndex(b.Index.Lost[key]); ok {
				m.AddObjectiveTerm(idx, in.Weights.Lost*cost)
			}
			// Backlog outstanding in a period is charged every period it
			// persists, which is what age-weighting means here.
			if name, ok := b.Index.Backlog[key]; ok {
				if idx, ok := m.VarIndex(name); ok {
					m.AddObjectiveTerm(idx, in.Weights.Backlog*cost)
				}
			}
			if name, ok := b.Index.CovShort[key]; ok {
				if idx, ok := m.VarIndex(name); ok {
					m.AddObjectiveTerm(idx, in.Weights.Coverage)
				}
			}
		}
	}

	for _, machine := range in.Machines {
		setupHours := b.SetupHoursFor(machine)
		for _, p := range b.MachineProducts[machine] {
			rate := in.Productivity[p][machine]
			setupCost := in.Weights.Setup * b.UnitCost(p) * rate * setupHours
			for t := range in.Periods {
				name := b.Index.Setup[TripleKey{Machine: machine, Product: p, T: t}]
				if idx, ok := m.VarIndex(name); ok {
					m.AddObjectiveTerm(idx, setupCost)
				}
			}
		}
	}
}

// addStateConstraints encodes the machine state automaton: exactly one
// configured product per period, changeover detection against the prior
// period (or the initial configuration), idle definition, and the
// produce-implies-state link.
func (b *Build) addStateConstraints() {
	in := b.Input
	m := b.Model

	for _, machine := range in.Machines {
		prods := b.MachineProducts[machine]
		if len(prods) == 0 {
			continue
		}

		for t, period := range in.Periods {
			terms := make([]Term, 0, len(prods))
			for _, p := range prods {
				idx, _ := m.VarIndex(b.Index.State[TripleKey{Machine: machine, Product: p, T: t}])
				terms = append(terms, Term{Var: idx, Coef: 1})
			}
			m.AddConstraint(varName("OneState", machine, period), terms, EQ, 1)
		}

		for t, period := range in.Periods {
			for _, p := range prods {
				key := TripleKey{Machine: machine, Product: p, T: t}
				deltaIdx, _ := m.VarIndex(b.Index.Setup[key])
				sIdx, _ := m.VarIndex(b.Index.State[key])
				yIdx, _ := m.VarIndex(b.Index.Produce[key])

				// Previous state: the S variable at t-1, or the initial
				// configuration constant at the horizon opening.
				prevConst := 0.0
				prevIdx := -1
				if t > 0 {
					prevIdx, _ = m.VarIndex(b.Index.State[TripleKey{Machine: machine, Product: p, T: t - 1}])
				} else if initial, ok := in.InitialState[machine]; ok && initial == p {
					prevConst = 1.0
				}

				// Delta >= S_t - S_{t-1}: a state change charges a setup.
				stateTerms := []Term{{Var: deltaIdx, Coef: 1}, {Var: sIdx, Coef: -1}}
				if prevIdx >= 0 {
					stateTerms = append(stateTerms, Term{Var: prevIdx, Coef: 1})
				}
				m.AddConstraint(varName("SetupState", machine, p.String(), period), stateTerms, GE, -prevConst)

				// Delta >= Y_t - S_{t-1}: producing anything the machine was
				// not already configured for charges a setup, so several
				// products in one period each pay except the carried one.
				prodTerms := []Term{{Var: deltaIdx, Coef: 1}, {Var: yIdx, Coef: -1}}
				if prevIdx >= 0 {
					prodTerms = append(prodTerms, Term{Var: prevIdx, Coef: 1})
				}
				m.AddConstraint(varName("SetupProd", machine, p.String(), period), prodTerms, GE, -prevConst)
			}
		}

		for t, period := range in.Periods {
			idleIdx, _ := m.VarIndex(b.Index.Idle[PairKey{Machine: machine, T: t}])

			// sum(Y) <= n * (1 - Idle): an idle machine produces nothing.
			idleTerms := []Term{{Var: idleIdx, Coef: float64(len(prods))}}
			for _, p := range prods {
				yIdx, _ := m.VarIndex(b.Index.Produce[TripleKey{Machine: machine, Product: p, T: t}])
				idleTerms = append(idleTerms, Term{Var: yIdx, Coef: 1})
			}
			m.AddConstraint(varName("IdleDef", machine, period), idleTerms, LE, float64(len(prods)))

			// S <= Y + Idle: the configured state must match production
			// unless the machine sits idle on its carried configuration.
			for _, p := range prods {
				key := TripleKey{Machine: machine, Product: p, T: t}
				sIdx, _ := m.VarIndex(b.Index.State[key])
				yIdx, _ := m.VarIndex(b.Index.Produce[key])
				m.AddConstraint(
					varName("LinkSY", machine, p.String(), period),
					[]Term{{Var: sIdx, Coef: 1}, {Var: yIdx, Coef: -1}, {Var: idleIdx, Coef: -1}},
					LE, 0,
				)
			}
		}
	}
}

func (b *Build) addCapacityConstraints() {
	in := b.Input
	m := b.Model

	for _, machine := range in.Machines {
		prods := b.MachineProducts[machine]
		if len(prods) == 0 {
			continue
		}
		setupHours := b.SetupHoursFor(machine)

		for t, period := range in.Periods {
			terms := make([]Term, 0, 2*len(prods))
			for _, p := range prods {
				key := TripleKey{Machine: machine, Product: p, T: t}
				hIdx, _ := m.VarIndex(b.Index.Steps[key])
				dIdx, _ := m.VarIndex(b.Index.Setup[key])
				terms = append(terms,
					Term{Var: hIdx, Coef: in.StepHours},
					Term{Var: dIdx, Coef: setupHours},
				)
			}
			m.AddConstraint(varName("Cap", machine, period), terms, LE, b.CapacityHours(machine, t))
		}
	}
}

// addBacklogWindowConstraints limits outstanding backlog to demand that
// arose within the configured age window, so old demand ages out into lost
// sales instead of lingering forever.
func (b *Build) addBacklogWindowConstraints() {
	in := b.Input
	if in.MaxBacklogAge <= 0 {
		return
	}
	m := b.Model

	for _, p := range b.Products {
		for t, period := range in.Periods {
			start := t - in.MaxBacklogAge + 1
			if start < 0 {
				start = 0
			}
			window := 0.0
			for k := start; k <= t; k++ {
				window += in.Demand[p][in.Periods[k]]
			}
			bIdx, _ := m.VarIndex(b.Index.Backlog[ProdPeriodKey{Product: p, T: t}])
			m.AddConstraint(
				varName("BacklogWin", p.String(), period),
				[]Term{{Var: bIdx, Coef: 1}},
				LE, window,
			)
		}
	}
}

// addBalanceConstraints writes the inventory recurrence and the delivered
// quantity definition for every product and period.
func (b *Build) addBalanceConstraints() {
	in := b.Input
	m := b.Model

	for _, p := range b.Products {
		opening := in.InitialStock[p]

		for t, period := range in.Periods {
			key := ProdPeriodKey{Product: p, T: t}
			demand := in.Demand[p][period]

			iIdx, _ := m.VarIndex(b.Index.Inventory[key])
			kIdx, _ := m.VarIndex(b.Index.Lost[key])
			qIdx, _ := m.VarIndex(b.Index.Delivered[key])

			// I_{t-1} + production + B_t = I_t + B_{t-1} + demand - K_t
			// rearranged with all variables on the left.
			terms := []Term{
				{Var: iIdx, Coef: -1},
				{Var: kIdx, Coef: 1},
			}
			rhs := demand

			for _, machine := range b.ProductMachines[p] {
				rate := in.Productivity[p][machine]
				hIdx, _ := m.VarIndex(b.Index.Steps[TripleKey{Machine: machine, Product: p, T: t}])
				terms = append(terms, Term{Var: hIdx, Coef: rate * in.StepHours})
			}

			if t > 0 {
				prevIIdx, _ := m.VarIndex(b.Index.Inventory[ProdPeriodKey{Product: p, T: t - 1}])
				terms = append(terms, Term{Var: prevIIdx, Coef: 1})
			} else {
				rhs -= opening
			}

			deliveredTerms := []Term{
				{Var: qIdx, Coef: 1},
				{Var: kIdx, Coef: 1},
			}

			if in.MaxBacklogAge > 0 {
				bIdx, _ := m.VarIndex(b.Index.Backlog[key])
				terms = append(terms, Term{Var: bIdx, Coef: 1})
				deliveredTerms = append(deliveredTerms, Term{Var: bIdx, Coef: 1})
				if t > 0 {
					prevBIdx, _ := m.VarIndex(b.Index.Backlog[ProdPeriodKey{Product: p, T: t - 1}])
					terms = append(terms, Term{Var: prevBIdx, Coef: -1})
					deliveredTerms = append(deliveredTerms, Term{Var: prevBIdx, Coef: -1})
				}
			}

			m.AddConstraint(varName("Balance", p.String(), period), terms, EQ, rhs)

			// Q = demand - K - (B_t - B_{t-1}): what the customer actually
			// received this period.
			m.AddConstraint(varName("Delivered", p.String(), period), deliveredTerms, EQ, demand)
		}
	}
}

// addCoverageConstraints enforces the soft minimum-inventory target:
// I_t + V_t >= coverageMonths * recent average demand, with the shortfall
// variable V priced in the objective.
func (b *Build) addCoverageConstraints() {
	in := b.Input
	if in.CoverageMonths <= 0 {
		return
	}
	m := b.Model

	for _, p := range b.Products {
		for t, period := range in.Periods {
			target := in.CoverageMonths * b.recentAverageDemand(p, t)
			if target <= 0 {
				continue
			}
			key := ProdPeriodKey{Product: p, T: t}
			iIdx, _ := m.VarIndex(b.Index.Inventory[key])
			vIdx, _ := m.VarIndex(b.Index.CovShort[key])
			m.AddConstraint(
				varName("Coverage", p.String(), period),
				[]Term{{Var: iIdx, Coef: 1}, {Var: vIdx, Coef: 1}},
				GE, target,
			)
		}
	}
}

// recentAverageDemand averages demand over the trailing three periods
// (fewer near the horizon start), the base the coverage target scales.
func (b *Build) recentAverageDemand(p normalize.Key, t int) float64 {
	start := t - 2
	if start < 0 {
		start = 0
	}
	sum := 0.0
	n := 0
	for k := start; k <= t; k++ {
		sum += b.Input.Demand[p][b.Input.Periods[k]]
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}

// addOperatorConstraints caps concurrently running machines by the crew:
// perMachine * (machines - sum(Idle)) <= available.
func (b *Build) addOperatorConstraints() {
	in := b.Input
	if in.Operators == nil || in.Operators.PerMachine <= 0 || in.Operators.Available <= 0 {
		return
	}
	m := b.Model

	staffed := make([]string, 0, len(in.Machines))
	for _, machine := range in.Machines {
		if len(b.MachineProducts[machine]) > 0 {
			staffed = append(staffed, machine)
		}
	}
	if len(staffed) == 0 {
		return
	}

	per := float64(in.Operators.PerMachine)
	avail := float64(in.Operators.Available)

	for t, period := range in.Periods {
		required := per * float64(len(staffed))
		if required <= avail {
			continue // crew always suffices, no constraint needed
		}
		terms := make([]Term, 0, len(staffed))
		for _, machine := range staffed {
			idleIdx, _ := m.VarIndex(b.Index.Idle[PairKey{Machine: machine, T: t}])
			terms = append(terms, Term{Var: idleIdx, Coef: per})
		}
		m.AddConstraint(varName("Operators", period), terms, GE, required-avail)
	}
}
