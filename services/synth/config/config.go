// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the synthesis pipeline parameters
// from YAML. The zero value is not usable; start from Default() or Load().
package config

import (
	"fmt"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// validate is the validator instance for pipeline parameters.
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Imaging holds the graph composition parameters.
type Imaging struct {
	// Context selects the composition strategy: "2d", "timeslice",
	// "wstack", "facets", "facets_timeslice", "facets_wstack" or
	// "wprojection".
	Context string `yaml:"context" validate:"required,oneof=2d timeslice wstack facets facets_timeslice facets_wstack wprojection"`

	// Facets is the per-axis facet count; the image is split into
	// Facets × Facets tiles.
	Facets int `yaml:"facets" validate:"gte=1"`

	// VisSlices overrides the partition count; 0 lets Timeslice/WSlice
	// drive the window width.
	VisSlices int `yaml:"vis_slices" validate:"gte=0"`

	// Timeslice is the time partition width in seconds.
	Timeslice float64 `yaml:"timeslice" validate:"gte=0"`

	// WSlice is the w partition width in wavelengths.
	WSlice float64 `yaml:"wslice" validate:"gte=0"`

	// Npixel and Cellsize define images created from visibilities.
	Npixel   int     `yaml:"npixel" validate:"gte=1"`
	Cellsize float64 `yaml:"cellsize" validate:"gt=0"`
}

// Calibration holds the SAGE solve parameters.
type Calibration struct {
	// NIter is the number of E/M cycles; the solve always runs all of
	// them.
	NIter int `yaml:"niter" validate:"gte=1"`

	// Tol is recorded for diagnostics; it does not stop the solve early.
	Tol float64 `yaml:"tol" validate:"gt=0"`

	// Gain damps M-step updates.
	Gain float64 `yaml:"gain" validate:"gt=0,lte=1"`

	// PhaseOnly restricts gain solves to unit amplitude.
	PhaseOnly bool `yaml:"phase_only"`

	// Timeslice is the gain solution interval in seconds; 0 solves one
	// window for the whole observation.
	Timeslice float64 `yaml:"timeslice" validate:"gte=0"`
}

// Compute holds the evaluator parameters.
type Compute struct {
	// Workers bounds concurrent node execution; 0 means GOMAXPROCS.
	Workers int `yaml:"workers" validate:"gte=0"`

	// Serial forces the deterministic reference evaluator.
	Serial bool `yaml:"serial"`

	// MetricsAddr, when set, serves Prometheus metrics on this address.
	MetricsAddr string `yaml:"metrics_addr"`
}

// Logging holds the log sink parameters.
type Logging struct {
	// Level is one of "debug", "info", "warn", "error".
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// JSON forces JSON output even on a terminal.
	JSON bool `yaml:"json"`

	// Dir enables file logging to the given directory.
	Dir string `yaml:"dir"`
}

// Params is the full pipeline configuration.
type Params struct {
	Imaging     Imaging     `yaml:"imaging"`
	Calibration Calibration `yaml:"calibration"`
	Compute     Compute     `yaml:"compute"`
	Logging     Logging     `yaml:"logging"`
}

// Default returns the conventional parameter set: 2D composition, a
// single facet, ten SAGE iterations with quarter damping.
func Default() Params {
	return Params{
		Imaging: Imaging{
			Context:   "2d",
			Facets:    1,
			VisSlices: 0,
			Timeslice: 1.0,
			WSlice:    0,
			Npixel:    256,
			Cellsize:  0.001,
		},
		Calibration: Calibration{
			NIter:     10,
			Tol:       1e-8,
			Gain:      0.25,
			PhaseOnly: false,
			Timeslice: 0,
		},
		Compute: Compute{
			Workers: 0,
			Serial:  false,
		},
		Logging: Logging{
			Level: "info",
		},
	}
}

// Validate checks the parameter invariants.
func (p *Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

// Load reads a YAML file over the defaults and validates the result.
// Fields absent from the file keep their default values.
func Load(path string) (Params, error) {
	p := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return p, fmt.Errorf("failed to read the config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &p); err != nil {
		return p, fmt.Errorf("failed to parse the config file %s: %w", path, err)
	}
	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}
