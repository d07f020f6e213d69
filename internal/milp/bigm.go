/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package milp

import "math"

// BigMPolicy selects how "remaining demand" is computed for the
// per-variable production bound. The gross policy sums raw future demand;
// the net policy first subtracts the opening inventory, which tightens the
// bound further but assumes the opening stock is actually used to serve
// demand. Both are safe over-estimates of any quantity an optimal plan can
// produce on that variable.
type BigMPolicy string

const (
	BigMGross BigMPolicy = "gross"
	BigMNet   BigMPolicy = "net"
)

// ValidBigMPolicy reports whether p names a known policy.
func ValidBigMPolicy(p BigMPolicy) bool {
	return p == BigMGross || p == BigMNet
}

// suffixDemand precomputes remaining demand from each period through the
// horizon end: out[t] = sum(demand[t:]).
func suffixDemand(demand []float64) []float64 {
	out := make([]float64, len(demand))
	acc := 0.0
	for t := len(demand) - 1; t >= 0; t-- {
		acc += demand[t]
		out[t] = acc
	}
	return out
}

// capacitySteps converts period capacity hours into the maximum number of
// production steps the machine can run. Integer models truncate: a partial
// step does not fit.
func capacitySteps(capacityHours, stepHours float64, integer bool) float64 {
	if stepHours <= 0 || capacityHours <= 0 {
		return 0
	}
	steps := capacityHours / stepHours
	if integer {
		return math.Floor(steps)
	}
	return steps
}

// demandSteps converts a remaining-demand quantity into production steps at
// the given machine rate. Integer models round up: the last partial step
// must still be schedulable or the bound could cut off the optimum.
func demandSteps(remaining, rate, stepHours float64, integer bool) float64 {
	if rate <= 0 || stepHours <= 0 {
		return 0
	}
	if remaining <= 0 {
		return 0
	}
	steps := remaining / (rate * stepHours)
	if integer {
		return math.Ceil(steps)
	}
	return steps
}

// stepBound is the tight Big-M for one (machine, product, period) production
// variable: the smaller of what the machine can physically run and what the
// horizon still needs. Never under-bounds a feasible optimum: the capacity
// term is exact and the demand term rounds up.
func stepBound(capacityHours, remaining, rate, stepHours float64, integer bool) float64 {
	capSteps := capacitySteps(capacityHours, stepHours, integer)
	demSteps := demandSteps(remaining, rate, stepHours, integer)
	return math.Min(capSteps, demSteps)
}

// remainingForPolicy applies the Big-M policy to the raw suffix demand.
func remainingForPolicy(suffix, openingStock float64, policy BigMPolicy) float64 {
	if policy == BigMNet {
		rem := suffix - openingStock
		if rem < 0 {
			return 0
		}
		return rem
	}
	return suffix
}
