// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Command synthesis runs the radio interferometry synthesis pipeline:
// deterministic simulation of a small observation, graph-composed imaging
// and SAGE self-calibration.
//
// Usage:
//
//	go run ./cmd/synthesis invert
//	go run ./cmd/synthesis selfcal --config pipeline.yaml
package main

import (
	"log"
	"os"

	"github.com/AleutianAI/AleutianSynth/pkg/logging"
	"github.com/AleutianAI/AleutianSynth/services/synth/config"
	"github.com/spf13/cobra"
)

var (
	params config.Params
	logger *logging.Logger
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		log.Fatalf("Error executing command: %v", err)
	}
}

func init() {
	rootCmd.PersistentPreRun = func(cmd *cobra.Command, args []string) {
		if configPath != "" {
			loaded, err := config.Load(configPath)
			if err != nil {
				log.Fatalf("Error loading %s: %v", configPath, err)
			}
			params = loaded
		} else {
			params = config.Default()
		}

		var err error
		logger, err = logging.New(logging.Config{
			Level:   logging.ParseLevel(params.Logging.Level),
			JSON:    params.Logging.JSON,
			LogDir:  params.Logging.Dir,
			Service: "synthesis",
		})
		if err != nil {
			log.Fatalf("Error creating logger: %v", err)
		}

		if metricsAddr != "" {
			params.Compute.MetricsAddr = metricsAddr
		}
		if params.Compute.MetricsAddr != "" {
			if err := serveMetrics(params.Compute.MetricsAddr, logger.Logger); err != nil {
				logger.Error("metrics server failed to start", "error", err.Error())
				os.Exit(1)
			}
		}
	}
	rootCmd.PersistentPostRun = func(cmd *cobra.Command, args []string) {
		if logger != nil {
			_ = logger.Close()
		}
	}
}
