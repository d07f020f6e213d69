/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package results turns a solved variable assignment back into the
// planning tables and KPIs the API and reports serve.
package results

import (
	"math"

	"github.com/friendsincode/forgeplan/internal/milp"
	"github.com/friendsincode/forgeplan/internal/solver"
)

// StateStart labels the machine state before the horizon when no initial
// configuration was given.
const StateStart = "START"

type InventoryRow struct {
	Period    string  `json:"period"`
	Product   string  `json:"product"`
	Inventory float64 `json:"inventory"`
	Target    float64 `json:"target"`
	Shortage  float64 `json:"shortage"`
}

type ProductionRow struct {
	Period   string  `json:"period"`
	Machine  string  `json:"machine"`
	Product  string  `json:"product"`
	Quantity float64 `json:"quantity"`
	Hours    float64 `json:"hours"`
}

// SetupRow is one changeover in a machine's period chain. Several rows per
// (machine, period) mean intermediate products were run before the machine
// settled on its final configuration.
type SetupRow struct {
	Period  string  `json:"period"`
	Machine string  `json:"machine"`
	From    string  `json:"from"`
	To      string  `json:"to"`
	Hours   float64 `json:"hours"`
}

type DemandRow struct {
	Period  string  `json:"period"`
	Product string  `json:"product"`
	Demand  float64 `json:"demand"`
	Met     float64 `json:"met"`
	Lost    float64 `json:"lost"`
	Backlog float64 `json:"backlog"`
}

type SummaryRow struct {
	Period      string  `json:"period"`
	Inventory   float64 `json:"inventory"`
	Utilization float64 `json:"utilization"`
	Demand      float64 `json:"demand"`
	Lost        float64 `json:"lost"`
	Production  float64 `json:"production"`
}

type CostBreakdown struct {
	LostSales float64 `json:"lost_sales"`
	Backlog   float64 `json:"backlog"`
	Setup     float64 `json:"setup"`
	Coverage  float64 `json:"coverage"`
}

// OperatorRow reports crew usage for one period when operator planning is
// enabled on the scenario.
type OperatorRow struct {
	Period    string `json:"period"`
	Running   int    `json:"running_machines"`
	Required  int    `json:"operators_required"`
	Available int    `json:"operators_available"`
	Slack     int    `json:"operators_slack"`
}

type KPIs struct {
	ServiceLevel float64       `json:"service_level"`
	AvgInventory float64       `json:"avg_inventory"`
	TotalCost    float64       `json:"total_cost"`
	Breakdown    CostBreakdown `json:"cost_breakdown"`
}

// Report is the full outcome of one plan run.
type Report struct {
	Status     solver.Status   `json:"status"`
	Objective  float64         `json:"objective"`
	Bound      float64         `json:"bound"`
	Inventory  []InventoryRow  `json:"inventory,omitempty"`
	Production []ProductionRow `json:"production,omitempty"`
	Setups     []SetupRow      `json:"setups,omitempty"`
	Demand     []DemandRow     `json:"demand,omitempty"`
	Summary    []SummaryRow    `json:"summary,omitempty"`
	Operators  []OperatorRow   `json:"operators,omitempty"`
	KPIs       *KPIs           `json:"kpis,omitempty"`
}

// Extract interprets a solver result against the model it came from. A
// status without a usable assignment yields a status-only report; a
// time-limited incumbent is extracted like an optimal one.
func Extract(b *milp.Build, res *solver.Result) *Report {
	rep := &Report{Status: res.Status, Objective: res.Objective, Bound: res.Bound}
	if !res.Status.Usable() {
		return rep
	}

	e := extractor{b: b, values: res.Values}
	e.demandAndInventory(rep)
	e.productionAndSetups(rep)
	e.summary(rep)
	e.operatorCoverage(rep)
	e.kpis(rep)
	return rep
}

type extractor struct {
	b      *milp.Build
	values map[string]float64
}

func (e *extractor) val(name string) float64 {
	return e.values[name]
}

// binary reads a 0/1 variable with numeric-noise cleanup.
func (e *extractor) binary(name string) bool {
	return math.Round(e.values[name]) == 1
}

func (e *extractor) demandAndInventory(rep *Report) {
	in := e.b.Input
	for t, period := range in.Periods {
		for _, p := range e.b.Products {
			key := milp.ProdPeriodKey{Product: p, T: t}
			demand := in.Demand[p][period]

			target := 0.0
			if t+1 < len(in.Periods) {
				target = in.Demand[p][in.Periods[t+1]]
			}
			shortage := 0.0
			if name, ok := e.b.Index.CovShort[key]; ok {
				shortage = e.val(name)
			}

			rep.Inventory = append(rep.Inventory, InventoryRow{
				Period:    period,
				Product:   p.String(),
				Inventory: e.val(e.b.Index.Inventory[key]),
				Target:    target,
				Shortage:  shortage,
			})

			backlog := 0.0
			if name, ok := e.b.Index.Backlog[key]; ok {
				backlog = e.val(name)
			}
			rep.Demand = append(rep.Demand, DemandRow{
				Period:  period,
				Product: p.String(),
				Demand:  demand,
				Met:     e.val(e.b.Index.Delivered[key]),
				Lost:    e.val(e.b.Index.Lost[key]),
				Backlog: backlog,
			})
		}
	}
}

func (e *extractor) productionAndSetups(rep *Report) {
	in := e.b.Input
	for t, period := range in.Periods {
		for _, machine := range in.Machines {
			prods := e.b.MachineProducts[machine]
			if len(prods) == 0 {
				continue
			}

			rep.Setups = append(rep.Setups, e.setupChain(machine, t, period)...)

			for _, p := range prods {
				steps := e.val(e.b.Index.Steps[milp.TripleKey{Machine: machine, Product: p, T: t}])
				if steps <= 0 {
					continue
				}
				hours := steps * in.StepHours
				rep.Production = append(rep.Production, ProductionRow{
					Period:   period,
					Machine:  machine,
					Product:  p.String(),
					Quantity: hours * in.Productivity[p][machine],
					Hours:    hours,
				})
			}
		}
	}
}

// setupChain reconstructs the ordered changeover sequence of one machine in
// one period: intermediate products first, the final configured state last.
func (e *extractor) setupChain(machine string, t int, period string) []SetupRow {
	prods := e.b.MachineProducts[machine]

	var final string
	var charged []string
	for _, p := range prods {
		key := milp.TripleKey{Machine: machine, Product: p, T: t}
		if e.binary(e.b.Index.State[key]) {
			final = p.String()
		}
		if e.binary(e.b.Index.Setup[key]) {
			charged = append(charged, p.String())
		}
	}
	if len(charged) == 0 {
		return nil
	}

	chain := make([]string, 0, len(charged))
	finalCharged := false
	for _, name := range charged {
		if name == final {
			finalCharged = true
			continue
		}
		chain = append(chain, name)
	}
	if finalCharged {
		chain = append(chain, final)
	}

	from := e.priorState(machine, t)
	hours := e.b.SetupHoursFor(machine)
	rows := make([]SetupRow, 0, len(chain))
	for _, to := range chain {
		rows = append(rows, SetupRow{Period: period, Machine: machine, From: from, To: to, Hours: hours})
		from = to
	}
	return rows
}

func (e *extractor) priorState(machine string, t int) string {
	if t == 0 {
		if initial, ok := e.b.Input.InitialState[machine]; ok {
			return initial.String()
		}
		return StateStart
	}
	for _, p := range e.b.MachineProducts[machine] {
		if e.binary(e.b.Index.State[milp.TripleKey{Machine: machine, Product: p, T: t - 1}]) {
			return p.String()
		}
	}
	return StateStart
}

func (e *extractor) summary(rep *Report) {
	in := e.b.Input
	for t, period := range in.Periods {
		row := SummaryRow{Period: period}

		for _, p := range e.b.Products {
			key := milp.ProdPeriodKey{Product: p, T: t}
			row.Inventory += e.val(e.b.Index.Inventory[key])
			row.Demand += in.Demand[p][period]
			row.Lost += e.val(e.b.Index.Lost[key])
		}

		usedHours := 0.0
		availHours := 0.0
		for _, machine := range in.Machines {
			availHours += e.b.CapacityHours(machine, t)
			setupHours := e.b.SetupHoursFor(machine)
			for _, p := range e.b.MachineProducts[machine] {
				key := milp.TripleKey{Machine: machine, Product: p, T: t}
				hours := e.val(e.b.Index.Steps[key]) * in.StepHours
				row.Production += hours * in.Productivity[p][machine]
				usedHours += hours
				if e.binary(e.b.Index.Setup[key]) {
					usedHours += setupHours
				}
			}
		}
		if availHours > 0 {
			row.Utilization = usedHours / availHours
		}

		rep.Summary = append(rep.Summary, row)
	}
}

// operatorCoverage mirrors the operator-pool constraint's accounting: a
// machine counts as running in a period unless its Idle indicator is set.
func (e *extractor) operatorCoverage(rep *Report) {
	in := e.b.Input
	op := in.Operators
	if op == nil || op.PerMachine <= 0 || op.Available <= 0 {
		return
	}

	for t, period := range in.Periods {
		running := 0
		for _, machine := range in.Machines {
			if len(e.b.MachineProducts[machine]) == 0 {
				continue
			}
			if !e.binary(e.b.Index.Idle[milp.PairKey{Machine: machine, T: t}]) {
				running++
			}
		}
		required := running * op.PerMachine
		rep.Operators = append(rep.Operators, OperatorRow{
			Period:    period,
			Running:   running,
			Required:  required,
			Available: op.Available,
			Slack:     op.Available - required,
		})
	}
}

func (e *extractor) kpis(rep *Report) {
	in := e.b.Input
	k := &KPIs{}

	totalDemand := 0.0
	totalMet := 0.0
	totalInv := 0.0
	var bd CostBreakdown

	for _, p := range e.b.Products {
		cost := e.b.UnitCost(p)
		for t, period := range in.Periods {
			key := milp.ProdPeriodKey{Product: p, T: t}
			totalDemand += in.Demand[p][period]
			totalMet += e.val(e.b.Index.Delivered[key])
			totalInv += e.val(e.b.Index.Inventory[key])

			bd.LostSales += in.Weights.Lost * cost * e.val(e.b.Index.Lost[key])
			if name, ok := e.b.Index.Backlog[key]; ok {
				bd.Backlog += in.Weights.Backlog * cost * e.val(name)
			}
			if name, ok := e.b.Index.CovShort[key]; ok {
				bd.Coverage += in.Weights.Coverage * e.val(name)
			}
		}
	}

	for _, machine := range in.Machines {
		setupHours := e.b.SetupHoursFor(machine)
		for _, p := range e.b.MachineProducts[machine] {
			rate := in.Productivity[p][machine]
			for t := range in.Periods {
				key := milp.TripleKey{Machine: machine, Product: p, T: t}
				if e.binary(e.b.Index.Setup[key]) {
					bd.Setup += in.Weights.Setup * e.b.UnitCost(p) * rate * setupHours
				}
			}
		}
	}

	k.ServiceLevel = 1.0
	if totalDemand > 0 {
		k.ServiceLevel = totalMet / totalDemand
	}
	if n := len(in.Periods); n > 0 {
		k.AvgInventory = totalInv / float64(n)
	}
	k.TotalCost = bd.LostSales + bd.Backlog + bd.Setup + bd.Coverage
	k.Breakdown = bd
	rep.KPIs = k
}
