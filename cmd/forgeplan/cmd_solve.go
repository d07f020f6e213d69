/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/friendsincode/forgeplan/internal/dataset"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/planner"
)

var solveCmd = &cobra.Command{
	Use:   "solve",
	Short: "Solve a single planning scenario from local data files",
	Long:  "Load demand, productivity, and cost tables from CSV or XLSX files, solve one scenario, and write the report as JSON",
	RunE:  runSolve,
}

var (
	solveDemandPath       string
	solveProductivityPath string
	solveCostsPath        string
	solveInventoryPath    string
	solveScenarioPath     string
	solveStartPeriod      string
	solveEndPeriod        string
	solveSolver           string
	solveTimeLimit        time.Duration
	solveOutputPath       string
)

func init() {
	rootCmd.AddCommand(solveCmd)

	solveCmd.Flags().StringVar(&solveDemandPath, "demand", "", "Path to demand history table (required)")
	solveCmd.Flags().StringVar(&solveProductivityPath, "productivity", "", "Path to machine productivity table (required)")
	solveCmd.Flags().StringVar(&solveCostsPath, "costs", "", "Path to unit cost table")
	solveCmd.Flags().StringVar(&solveInventoryPath, "inventory", "", "Path to opening inventory table")
	solveCmd.Flags().StringVar(&solveScenarioPath, "scenario", "", "Path to a scenario YAML file; flags override its horizon and solver")
	solveCmd.Flags().StringVar(&solveStartPeriod, "start", "", "First planning period (YYYY-MM-DD)")
	solveCmd.Flags().StringVar(&solveEndPeriod, "end", "", "Last planning period (YYYY-MM-DD)")
	solveCmd.Flags().StringVar(&solveSolver, "solver", "", "Solver backend: cbc or glpk")
	solveCmd.Flags().DurationVar(&solveTimeLimit, "time-limit", 0, "Solver time limit (e.g. 5m)")
	solveCmd.Flags().StringVar(&solveOutputPath, "output", "", "Report output path; default is stdout")
	solveCmd.MarkFlagRequired("demand")
	solveCmd.MarkFlagRequired("productivity")
}

func runSolve(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	norm := normalize.New()
	bundle, err := loadBundleFiles(norm, solveDemandPath, solveProductivityPath, solveCostsPath, solveInventoryPath)
	if err != nil {
		return err
	}

	sc := planner.DefaultScenario()
	if solveScenarioPath != "" {
		loaded, err := readScenarioFile(solveScenarioPath)
		if err != nil {
			return err
		}
		sc = loaded
	}
	if solveStartPeriod != "" {
		sc.StartPeriod = solveStartPeriod
	}
	if solveEndPeriod != "" {
		sc.EndPeriod = solveEndPeriod
	}
	if solveSolver != "" {
		sc.Solver = solveSolver
	}
	if solveTimeLimit > 0 {
		sc.TimeLimit = solveTimeLimit
	}

	pl := planner.New(norm)
	start := time.Now()
	outcome, err := pl.Run(context.Background(), bundle, sc)
	if err != nil {
		return fmt.Errorf("solve: %w", err)
	}

	logger.Info().
		Str("status", string(outcome.Report.Status)).
		Float64("objective", outcome.Report.Objective).
		Dur("build_time", outcome.BuildTime).
		Dur("solve_time", outcome.SolveTime).
		Dur("elapsed", time.Since(start)).
		Msg("solve finished")

	for _, diag := range outcome.Diagnostics {
		logger.Warn().Str("kind", diag.Kind).Str("product", diag.Product.String()).Msg(diag.Detail)
	}

	data, err := json.MarshalIndent(outcome.Report, "", "  ")
	if err != nil {
		return fmt.Errorf("encode report: %w", err)
	}

	if solveOutputPath == "" {
		fmt.Println(string(data))
		return nil
	}
	if err := os.WriteFile(solveOutputPath, data, 0o644); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	logger.Info().Str("path", solveOutputPath).Msg("report written")
	return nil
}

// loadBundleFiles assembles a dataset bundle from the file paths given on
// the command line. Shared by the solve and sweep commands.
func loadBundleFiles(norm *normalize.Normalizer, demand, productivity, costs, inventory string) (*dataset.Bundle, error) {
	bundle := dataset.NewBundle()

	tables := []struct {
		kind dataset.Kind
		path string
	}{
		{dataset.KindDemand, demand},
		{dataset.KindProductivity, productivity},
		{dataset.KindCosts, costs},
		{dataset.KindInventory, inventory},
	}
	for _, t := range tables {
		if t.path == "" {
			continue
		}
		if err := readTableFile(bundle, t.kind, t.path, norm); err != nil {
			return nil, err
		}
	}
	return bundle, nil
}

func readTableFile(bundle *dataset.Bundle, kind dataset.Kind, path string, norm *normalize.Normalizer) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open %s table: %w", kind, err)
	}
	defer f.Close()

	if strings.EqualFold(filepath.Ext(path), ".xlsx") {
		err = bundle.ReadXLSX(kind, f, norm)
	} else {
		err = bundle.ReadCSV(kind, f, norm)
	}
	if err != nil {
		return fmt.Errorf("read %s table %s: %w", kind, path, err)
	}
	return nil
}

func readScenarioFile(path string) (planner.Scenario, error) {
	var sc planner.Scenario
	f, err := os.Open(path)
	if err != nil {
		return sc, fmt.Errorf("open scenario: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&sc); err != nil {
		return sc, fmt.Errorf("parse scenario: %w", err)
	}
	return sc, nil
}
