// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package compose builds the task graphs that fan a visibility dataset out
// into partitions along the decomposition axes (facets, w-stack planes,
// time slices), apply a numerical imaging operator per cell, and fan the
// results back in.
//
// Reductions are summation for images and weights (across facets, w-stack
// planes and time slices) and order-preserving row assembly for predicted
// visibilities. The canonical reduction order is facets within a partition
// first, then partitions; reduction is commutative and associative, so any
// order agrees within floating-point summation tolerance, but bit-exact
// reproducibility across orders is not promised.
package compose

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/AleutianSynth/services/synth/dag"
	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/AleutianAI/AleutianSynth/services/synth/imaging"
)

// Composer schedules predict/invert/residual operator applications over a
// decomposition. The operators are opaque, partition-local and
// side-effect-free; Composer only decides what runs on which rows and how
// results recombine.
type Composer struct {
	predict imaging.Predictor
	invert  imaging.Inverter
	logger  *slog.Logger
}

// New creates a Composer. Nil operators fall back to the reference DFT
// pair; a nil logger falls back to slog.Default().
func New(predict imaging.Predictor, invert imaging.Inverter, logger *slog.Logger) *Composer {
	if predict == nil {
		predict = imaging.PredictDFT
	}
	if invert == nil {
		invert = imaging.InvertDFT
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{predict: predict, invert: invert, logger: logger}
}

// ComposePredict schedules the prediction of model visibilities for the
// dataset under the decomposition in p and returns the handle of the
// assembled, dataset-shaped result. Shape and configuration problems fail
// here, before any node exists.
func (c *Composer) ComposePredict(g *dag.Graph, vis *data.Visibility, model *data.Image, p Params) (dag.Handle, error) {
	if err := p.validate(); err != nil {
		return dag.Handle{}, err
	}
	if err := imaging.CheckShapes(vis, model); err != nil {
		return dag.Handle{}, err
	}
	masks := p.masks(vis)
	visH := g.Value("visibility", vis)
	h, err := c.predictGraph(g, visH, model, p, masks)
	if err != nil {
		return dag.Handle{}, err
	}
	c.logger.Debug("composed predict graph",
		slog.String("graph", g.Name()),
		slog.String("context", string(p.context())),
		slog.Int("slices", len(masks)),
		slog.Int("facets", p.Facets),
		slog.Int("nodes", g.Len()),
	)
	return h, nil
}

// ComposeInvert schedules the inversion of the dataset onto the template
// grid and returns handles for the combined (image, sumwt) pair.
func (c *Composer) ComposeInvert(g *dag.Graph, vis *data.Visibility, template *data.Image, p Params, dopsf bool) (dag.Handle, dag.Handle, error) {
	if err := p.validate(); err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}
	if err := imaging.CheckShapes(vis, template); err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}
	masks := p.masks(vis)
	visH := g.Value("visibility", vis)
	imH, wtH, err := c.invertGraph(g, visH, template, p, masks, dopsf)
	if err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}
	c.logger.Debug("composed invert graph",
		slog.String("graph", g.Name()),
		slog.String("context", string(p.context())),
		slog.Int("slices", len(masks)),
		slog.Int("facets", p.Facets),
		slog.Bool("dopsf", dopsf),
		slog.Int("nodes", g.Len()),
	)
	return imH, wtH, nil
}

// ComposeResidual schedules predict, subtraction from the observed data,
// and re-inversion under the same partitioning. Returns handles for the
// residual (image, sumwt) pair.
func (c *Composer) ComposeResidual(g *dag.Graph, vis *data.Visibility, model *data.Image, p Params) (dag.Handle, dag.Handle, error) {
	if err := p.validate(); err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}
	if err := imaging.CheckShapes(vis, model); err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}
	masks := p.masks(vis)
	visH := g.Value("visibility", vis)

	predH, err := c.predictGraph(g, visH, model, p, masks)
	if err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}
	residH := g.Add("subtract_visibility", func(_ context.Context, inputs []any) (any, error) {
		return subtractVisibility(inputs[0].(*data.Visibility), inputs[1].(*data.Visibility))
	}, visH, predH)

	imH, wtH, err := c.invertGraph(g, residH, model.EmptyLike(), p, masks, false)
	if err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}
	c.logger.Debug("composed residual graph",
		slog.String("graph", g.Name()),
		slog.String("context", string(p.context())),
		slog.Int("slices", len(masks)),
		slog.Int("facets", p.Facets),
		slog.Int("nodes", g.Len()),
	)
	return imH, wtH, nil
}

// selectTask copies the rows of one partition out of the dataset. The copy
// keeps partitions from observing each other's in-place mutation.
func selectTask(mask []bool) dag.Task {
	return func(_ context.Context, inputs []any) (any, error) {
		return inputs[0].(*data.Visibility).Select(mask)
	}
}

// predictGraph fans the dataset handle out per partition, predicts per
// facet, sums facets, and assembles partitions back in original row order.
func (c *Composer) predictGraph(g *dag.Graph, visH dag.Handle, model *data.Image, p Params, masks [][]bool) (dag.Handle, error) {
	facets, err := c.facetImages(model, p)
	if err != nil {
		return dag.Handle{}, err
	}

	if masks == nil {
		return c.predictPartition(g, visH, facets, 0), nil
	}

	partHs := make([]dag.Handle, len(masks))
	for i, mask := range masks {
		selH := g.Add(fmt.Sprintf("select_rows[%d]", i), selectTask(mask), visH)
		partHs[i] = c.predictPartition(g, selH, facets, i)
	}

	deps := append([]dag.Handle{visH}, partHs...)
	return g.Add("assemble_predict", func(_ context.Context, inputs []any) (any, error) {
		out := inputs[0].(*data.Visibility).CopyZero()
		for i := range masks {
			if err := out.Scatter(masks[i], inputs[i+1].(*data.Visibility)); err != nil {
				return nil, err
			}
		}
		return out, nil
	}, deps...), nil
}

// predictPartition schedules one partition's predict nodes: one per facet,
// plus the facet sum when faceting is active.
func (c *Composer) predictPartition(g *dag.Graph, partH dag.Handle, facets []*data.Image, slice int) dag.Handle {
	if len(facets) == 1 {
		model := facets[0]
		return g.Add(fmt.Sprintf("predict[%d]", slice), func(_ context.Context, inputs []any) (any, error) {
			return c.predict(inputs[0].(*data.Visibility), model)
		}, partH)
	}

	facetHs := make([]dag.Handle, len(facets))
	for f, facet := range facets {
		facetHs[f] = g.Add(fmt.Sprintf("predict[%d,%d]", slice, f), func(_ context.Context, inputs []any) (any, error) {
			return c.predict(inputs[0].(*data.Visibility), facet)
		}, partH)
	}
	return g.Add(fmt.Sprintf("sum_facet_predicts[%d]", slice), func(_ context.Context, inputs []any) (any, error) {
		parts := make([]*data.Visibility, len(inputs))
		for i := range inputs {
			parts[i] = inputs[i].(*data.Visibility)
		}
		return SumPredictResults(parts)
	}, facetHs...)
}

// invertGraph fans the dataset handle out per partition, inverts per
// facet, assembles facet tiles, and weight-sums partitions.
func (c *Composer) invertGraph(g *dag.Graph, visH dag.Handle, template *data.Image, p Params, masks [][]bool, dopsf bool) (dag.Handle, dag.Handle, error) {
	facets, err := c.facetImages(template, p)
	if err != nil {
		return dag.Handle{}, dag.Handle{}, err
	}

	selHs := []dag.Handle{visH}
	if masks != nil {
		selHs = make([]dag.Handle, len(masks))
		for i, mask := range masks {
			selHs[i] = g.Add(fmt.Sprintf("select_rows_invert[%d]", i), selectTask(mask), visH)
		}
	}

	pairHs := make([][2]dag.Handle, len(selHs))
	for i, selH := range selHs {
		pairHs[i] = c.invertPartition(g, selH, template, facets, p, i, dopsf)
	}

	if len(pairHs) == 1 {
		return pairHs[0][0], pairHs[0][1], nil
	}

	deps := make([]dag.Handle, 0, 2*len(pairHs))
	for _, pair := range pairHs {
		deps = append(deps, pair[0], pair[1])
	}
	sum := g.AddN("sum_invert_results", 2, func(_ context.Context, inputs []any) (any, error) {
		parts := make([]InvertResult, len(inputs)/2)
		for i := range parts {
			parts[i] = InvertResult{
				Image:     inputs[2*i].(*data.Image),
				SumWeight: inputs[2*i+1].([]float64),
			}
		}
		im, wt, err := SumInvertResults(parts)
		if err != nil {
			return nil, err
		}
		return []any{im, wt}, nil
	}, deps...)
	return sum[0], sum[1], nil
}

// invertPartition schedules one partition's invert nodes and the facet
// assembly when faceting is active. Returns (image, sumwt) handles.
func (c *Composer) invertPartition(g *dag.Graph, partH dag.Handle, template *data.Image, facets []*data.Image, p Params, slice int, dopsf bool) [2]dag.Handle {
	invertTask := func(facet *data.Image) dag.Task {
		return func(_ context.Context, inputs []any) (any, error) {
			im, wt, err := c.invert(inputs[0].(*data.Visibility), facet, dopsf)
			if err != nil {
				return nil, err
			}
			return []any{im, wt}, nil
		}
	}

	if len(facets) == 1 {
		hs := g.AddN(fmt.Sprintf("invert[%d]", slice), 2, invertTask(facets[0]), partH)
		return [2]dag.Handle{hs[0], hs[1]}
	}

	deps := make([]dag.Handle, 0, 2*len(facets))
	for f, facet := range facets {
		hs := g.AddN(fmt.Sprintf("invert[%d,%d]", slice, f), 2, invertTask(facet), partH)
		deps = append(deps, hs[0], hs[1])
	}
	n := p.Facets
	full := template.EmptyLike()
	hs := g.AddN(fmt.Sprintf("assemble_facets[%d]", slice), 2, func(_ context.Context, inputs []any) (any, error) {
		parts := make([]InvertResult, len(inputs)/2)
		for i := range parts {
			parts[i] = InvertResult{
				Image:     inputs[2*i].(*data.Image),
				SumWeight: inputs[2*i+1].([]float64),
			}
		}
		im, wt, err := assembleFacets(full, parts, n)
		if err != nil {
			return nil, err
		}
		return []any{im, wt}, nil
	}, deps...)
	return [2]dag.Handle{hs[0], hs[1]}
}

// facetImages extracts the model/template tiles for the configured
// faceting, or the whole image when faceting is off.
func (c *Composer) facetImages(im *data.Image, p Params) ([]*data.Image, error) {
	if !p.faceted() {
		return []*data.Image{im}, nil
	}
	return im.Facets(p.Facets)
}
