/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/friendsincode/forgeplan/internal/events"
	"github.com/friendsincode/forgeplan/internal/normalize"
	"github.com/friendsincode/forgeplan/internal/planner"
	"github.com/friendsincode/forgeplan/internal/sweep"
)

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Run a parameter sweep from local data files",
	Long:  "Expand a sweep configuration into its scenario grid, solve every point, and write the result table as CSV",
	RunE:  runSweep,
}

var (
	sweepConfigPath       string
	sweepDemandPath       string
	sweepProductivityPath string
	sweepCostsPath        string
	sweepInventoryPath    string
	sweepWorkerCount      int
	sweepOutputPath       string
)

func init() {
	rootCmd.AddCommand(sweepCmd)

	sweepCmd.Flags().StringVar(&sweepConfigPath, "config", "", "Path to sweep configuration YAML (required)")
	sweepCmd.Flags().StringVar(&sweepDemandPath, "demand", "", "Path to demand history table (required)")
	sweepCmd.Flags().StringVar(&sweepProductivityPath, "productivity", "", "Path to machine productivity table (required)")
	sweepCmd.Flags().StringVar(&sweepCostsPath, "costs", "", "Path to unit cost table")
	sweepCmd.Flags().StringVar(&sweepInventoryPath, "inventory", "", "Path to opening inventory table")
	sweepCmd.Flags().IntVar(&sweepWorkerCount, "workers", 0, "Parallel solver workers; 0 means one per CPU")
	sweepCmd.Flags().StringVar(&sweepOutputPath, "output", "", "Result CSV path; default is stdout")
	sweepCmd.MarkFlagRequired("config")
	sweepCmd.MarkFlagRequired("demand")
	sweepCmd.MarkFlagRequired("productivity")
}

func runSweep(cmd *cobra.Command, args []string) error {
	if err := loadConfig(); err != nil {
		return err
	}

	f, err := os.Open(sweepConfigPath)
	if err != nil {
		return fmt.Errorf("open sweep config: %w", err)
	}
	swCfg, err := sweep.ParseConfig(f)
	f.Close()
	if err != nil {
		return err
	}
	if sweepWorkerCount > 0 {
		swCfg.Workers = sweepWorkerCount
	}

	norm := normalize.New()
	bundle, err := loadBundleFiles(norm, sweepDemandPath, sweepProductivityPath, sweepCostsPath, sweepInventoryPath)
	if err != nil {
		return err
	}

	pl := planner.New(norm)
	runner := sweep.NewRunner(pl, swCfg.Workers, events.NewBus(), logger)
	runner.OnResult = func(row sweep.RowResult) {
		evt := logger.Info()
		if row.Err != nil {
			evt = logger.Error().Err(row.Err)
		}
		evt.Int("point", row.Index).
			Str("status", row.Status).
			Float64("objective", row.Objective).
			Dur("elapsed", row.Elapsed).
			Msg("grid point finished")
	}

	outcome, err := runner.Run(context.Background(), bundle, swCfg)
	if err != nil {
		return fmt.Errorf("sweep: %w", err)
	}

	logger.Info().
		Str("name", outcome.Name).
		Int("points", len(outcome.Rows)).
		Dur("elapsed", outcome.Elapsed).
		Msg("sweep finished")

	if sweepOutputPath == "" {
		return outcome.WriteCSV(os.Stdout)
	}
	out, err := os.Create(sweepOutputPath)
	if err != nil {
		return fmt.Errorf("create result file: %w", err)
	}
	defer out.Close()
	if err := outcome.WriteCSV(out); err != nil {
		return fmt.Errorf("write results: %w", err)
	}
	logger.Info().Str("path", sweepOutputPath).Msg("results written")
	return nil
}
