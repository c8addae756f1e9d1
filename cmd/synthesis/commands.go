// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"github.com/spf13/cobra"
)

// --- Global Command Variables ---
var (
	configPath  string
	metricsAddr string
	nAntennas   int
	nTimes      int

	rootCmd = &cobra.Command{
		Use:   "synthesis",
		Short: "A cli for graph-composed radio interferometry synthesis",
		Long: `Synthesis simulates a small interferometric observation, composes
imaging and calibration task graphs, and computes them on a bounded
worker pool.`,
	}

	// --- Imaging ---
	invertCmd = &cobra.Command{
		Use:   "invert",
		Short: "Image a simulated observation with the configured composition strategy",
		Run:   runInvert, // Defined in cmd_invert.go
	}

	// --- Calibration ---
	selfcalCmd = &cobra.Command{
		Use:   "selfcal",
		Short: "Corrupt a simulated observation and recover gains with SAGE self-calibration",
		Run:   runSelfcal, // Defined in cmd_selfcal.go
	}
)

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the pipeline YAML config (defaults apply when empty)")
	rootCmd.PersistentFlags().StringVar(&metricsAddr, "metrics-addr", "", "Serve Prometheus metrics on this address (overrides the config)")
	rootCmd.PersistentFlags().IntVar(&nAntennas, "antennas", 8, "Number of stations in the simulated array")
	rootCmd.PersistentFlags().IntVar(&nTimes, "times", 16, "Number of integration times in the simulated observation")

	rootCmd.AddCommand(invertCmd)
	rootCmd.AddCommand(selfcalCmd)
}
