// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/AleutianAI/AleutianSynth/services/synth/compose"
	"github.com/AleutianAI/AleutianSynth/services/synth/dag"
	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/AleutianAI/AleutianSynth/services/synth/imaging"
	"github.com/spf13/cobra"
)

// runInvert simulates an observation, predicts model visibilities from a
// handful of point components, and images them through the configured
// composition strategy.
func runInvert(cmd *cobra.Command, args []string) {
	if err := invert(cmd.Context()); err != nil {
		logger.Error("invert failed", "error", err.Error())
		os.Exit(1)
	}
}

func invert(ctx context.Context) error {
	vis, err := simulateObservation(nAntennas, nTimes)
	if err != nil {
		return err
	}
	comps, err := simulateSky(vis)
	if err != nil {
		return err
	}
	observed, err := imaging.PredictComponents(vis, comps)
	if err != nil {
		return err
	}

	template, err := imaging.CreateImageFromVisibility(observed, params.Imaging.Npixel, params.Imaging.Cellsize)
	if err != nil {
		return err
	}

	p := compose.Params{
		Context:   compose.Context(params.Imaging.Context),
		Facets:    params.Imaging.Facets,
		VisSlices: params.Imaging.VisSlices,
		Timeslice: params.Imaging.Timeslice,
		WSlice:    params.Imaging.WSlice,
	}

	g := dag.NewGraph("invert")
	composer := compose.New(nil, nil, logger.Logger)
	imH, wtH, err := composer.ComposeInvert(g, observed, template, p, false)
	if err != nil {
		return err
	}

	values, err := evaluator().Compute(ctx, g, []dag.Handle{imH, wtH})
	if err != nil {
		return err
	}
	dirty := values[0].(*data.Image)
	sumwt := values[1].([]float64)

	peak, py, px := imagePeak(dirty)
	logger.Info("invert completed",
		slog.String("graph_context", string(p.Context)),
		slog.Int("nodes", g.Len()),
		slog.Int("rows", observed.Rows()),
		slog.Float64("peak", peak),
		slog.Int("peak_y", py),
		slog.Int("peak_x", px),
		slog.Float64("sumwt", sumwt[0]),
	)
	return nil
}

// evaluator selects the configured graph evaluator.
func evaluator() dag.Evaluator {
	if params.Compute.Serial {
		return &dag.Serial{Logger: logger.Logger}
	}
	return &dag.Pool{Workers: params.Compute.Workers, Logger: logger.Logger}
}

// imagePeak returns the brightest pixel of the first channel and
// polarisation plane.
func imagePeak(im *data.Image) (float64, int, int) {
	peak, py, px := im.At(0, 0, 0, 0), 0, 0
	for y := 0; y < im.NY(); y++ {
		for x := 0; x < im.NX(); x++ {
			if v := im.At(0, 0, y, x); v > peak {
				peak, py, px = v, y, x
			}
		}
	}
	return peak, py, px
}
