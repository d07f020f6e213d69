/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package sweep runs a designed experiment: the cartesian product of
// scenario parameter axes, each point solved as an independent plan run,
// with condensed results aggregated into one table.
package sweep

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/friendsincode/forgeplan/internal/capacity"
	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/milp"
	"github.com/friendsincode/forgeplan/internal/planner"
)

// Config describes one sweep campaign: a base scenario plus the axes to
// vary. Every axis value list is combined with every other.
type Config struct {
	Name    string           `yaml:"name" json:"name"`
	Fixed   planner.Scenario `yaml:"fixed" json:"fixed"`
	Axes    map[string][]any `yaml:"axes" json:"axes"`
	Workers int              `yaml:"workers,omitempty" json:"workers,omitempty"`
}

// ParseConfig reads a sweep configuration from YAML.
func ParseConfig(r io.Reader) (*Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("parse sweep config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration before any point is expanded.
func (c *Config) Validate() error {
	if len(c.Axes) == 0 {
		return fmt.Errorf("sweep config: no axes defined")
	}
	for name, values := range c.Axes {
		if len(values) == 0 {
			return fmt.Errorf("sweep config: axis %q has no values", name)
		}
		probe := planner.DefaultScenario()
		for _, v := range values {
			if err := applyOverride(&probe, name, v); err != nil {
				return fmt.Errorf("sweep config: axis %q: %w", name, err)
			}
		}
	}
	if c.Workers < 0 {
		return fmt.Errorf("sweep config: workers must be non-negative")
	}
	return nil
}

// Point is one grid point: the overrides applied on top of the fixed
// scenario, in axis order.
type Point struct {
	Index     int
	Overrides map[string]any
}

// Label renders the point's overrides as a stable human-readable key.
func (p Point) Label() string {
	names := make([]string, 0, len(p.Overrides))
	for name := range p.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	parts := make([]string, 0, len(names))
	for _, name := range names {
		parts = append(parts, fmt.Sprintf("%s=%v", name, p.Overrides[name]))
	}
	return strings.Join(parts, " ")
}

// Points expands the axes into the full cartesian grid. Axis names are
// sorted so the expansion order is deterministic.
func (c *Config) Points() []Point {
	names := make([]string, 0, len(c.Axes))
	for name := range c.Axes {
		names = append(names, name)
	}
	sort.Strings(names)

	points := []Point{{Overrides: map[string]any{}}}
	for _, name := range names {
		next := make([]Point, 0, len(points)*len(c.Axes[name]))
		for _, base := range points {
			for _, value := range c.Axes[name] {
				overrides := make(map[string]any, len(base.Overrides)+1)
				for k, v := range base.Overrides {
					overrides[k] = v
				}
				overrides[name] = value
				next = append(next, Point{Overrides: overrides})
			}
		}
		points = next
	}
	for i := range points {
		points[i].Index = i
	}
	return points
}

// Scenario materializes the scenario for one grid point.
func (c *Config) Scenario(p Point) (planner.Scenario, error) {
	sc := c.Fixed
	names := make([]string, 0, len(p.Overrides))
	for name := range p.Overrides {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := applyOverride(&sc, name, p.Overrides[name]); err != nil {
			return planner.Scenario{}, err
		}
	}
	return sc, nil
}

// applyOverride maps one named axis value onto a scenario field.
func applyOverride(sc *planner.Scenario, name string, value any) error {
	switch name {
	case "max_backlog_age":
		n, err := asInt(value)
		if err != nil {
			return err
		}
		sc.MaxBacklogAge = n
	case "coverage_months":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.CoverageMonths = f
	case "bucket_hours":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.BucketHours = f
	case "granularity":
		s, err := asString(value)
		if err != nil {
			return err
		}
		sc.Granularity = capacity.Granularity(s)
	case "bigm_policy":
		s, err := asString(value)
		if err != nil {
			return err
		}
		sc.BigMPolicy = milp.BigMPolicy(s)
	case "extend_policy":
		s, err := asString(value)
		if err != nil {
			return err
		}
		sc.ExtendPolicy = dataset.ExtendPolicy(s)
	case "allow_lost_sales":
		b, ok := value.(bool)
		if !ok {
			return fmt.Errorf("value %v is not a bool", value)
		}
		sc.AllowLostSales = b
	case "solver":
		s, err := asString(value)
		if err != nil {
			return err
		}
		sc.Solver = s
	case "time_limit_seconds":
		n, err := asInt(value)
		if err != nil {
			return err
		}
		sc.TimeLimit = time.Duration(n) * time.Second
	case "weight_lost":
		return setWeight(&sc.Weights.Lost, value)
	case "weight_backlog":
		return setWeight(&sc.Weights.Backlog, value)
	case "weight_setup":
		return setWeight(&sc.Weights.Setup, value)
	case "weight_coverage":
		return setWeight(&sc.Weights.Coverage, value)
	case "setup_hours_high":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.SetupHoursHigh = f
	case "setup_hours_low":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.SetupHoursLow = f
	case "shifts_per_day":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.Shifts.ShiftsPerDay = f
	case "hours_per_shift":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.Shifts.HoursPerShift = f
	case "days_per_week":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.Shifts.DaysPerWeek = f
	case "weeks_per_period":
		f, err := asFloat(value)
		if err != nil {
			return err
		}
		sc.Shifts.WeeksPerPeriod = f
	case "operators_per_machine":
		n, err := asInt(value)
		if err != nil {
			return err
		}
		if sc.Operators == nil {
			sc.Operators = &milp.OperatorParams{}
		}
		sc.Operators.PerMachine = n
	case "available_operators":
		n, err := asInt(value)
		if err != nil {
			return err
		}
		if sc.Operators == nil {
			sc.Operators = &milp.OperatorParams{}
		}
		sc.Operators.Available = n
	default:
		return fmt.Errorf("unknown sweep axis %q", name)
	}
	return nil
}

func setWeight(dest *float64, value any) error {
	f, err := asFloat(value)
	if err != nil {
		return err
	}
	*dest = f
	return nil
}

func asFloat(value any) (float64, error) {
	switch v := value.(type) {
	case float64:
		return v, nil
	case int:
		return float64(v), nil
	case int64:
		return float64(v), nil
	default:
		return 0, fmt.Errorf("value %v is not a number", value)
	}
}

func asInt(value any) (int, error) {
	switch v := value.(type) {
	case int:
		return v, nil
	case int64:
		return int(v), nil
	case float64:
		if v != float64(int(v)) {
			return 0, fmt.Errorf("value %v is not an integer", value)
		}
		return int(v), nil
	default:
		return 0, fmt.Errorf("value %v is not an integer", value)
	}
}

func asString(value any) (string, error) {
	s, ok := value.(string)
	if !ok {
		return "", fmt.Errorf("value %v is not a string", value)
	}
	return s, nil
}
