// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/AleutianAI/AleutianSynth/services/synth/dag"
	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/AleutianAI/AleutianSynth/services/synth/imaging"
)

// composeVis builds a dataset spread over several integration times and a
// range of w values, so both partitioning axes are exercised.
func composeVis(t *testing.T) *data.Visibility {
	t.Helper()
	rows := 12
	uvw := make([]float64, 3*rows)
	times := make([]float64, rows)
	a1 := make([]int, rows)
	a2 := make([]int, rows)
	for i := 0; i < rows; i++ {
		uvw[3*i] = 60 + 15*float64(i)
		uvw[3*i+1] = -40 + 11*float64(i)
		uvw[3*i+2] = -30 + 6*float64(i)
		times[i] = float64(i/3) * 60 // four integrations, three rows each
		a1[i] = i % 3
		a2[i] = 3
	}
	vis := make([]complex128, rows)
	weight := make([]float64, rows)
	for i := range weight {
		weight[i] = 1
	}
	v, err := data.NewVisibility([]float64{1.2e8}, data.Direction{RA: 0.1, Dec: -0.6},
		uvw, times, a1, a2, vis, weight, 1)
	if err != nil {
		t.Fatalf("NewVisibility: %v", err)
	}
	return v
}

// composeModel builds an 8x8 model with two lit pixels.
func composeModel(t *testing.T, vis *data.Visibility) *data.Image {
	t.Helper()
	im, err := imaging.CreateImageFromVisibility(vis, 8, 0.0004)
	if err != nil {
		t.Fatalf("CreateImageFromVisibility: %v", err)
	}
	im.Set(0, 0, 4, 4, 5.0)
	im.Set(0, 0, 1, 6, 2.0)
	return im
}

func computePredict(t *testing.T, vis *data.Visibility, model *data.Image, p Params) *data.Visibility {
	t.Helper()
	g := dag.NewGraph("predict")
	h, err := New(nil, nil, nil).ComposePredict(g, vis, model, p)
	if err != nil {
		t.Fatalf("ComposePredict: %v", err)
	}
	values, err := (&dag.Serial{}).Compute(context.Background(), g, []dag.Handle{h})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	return values[0].(*data.Visibility)
}

func computeInvert(t *testing.T, vis *data.Visibility, template *data.Image, p Params) (*data.Image, []float64) {
	t.Helper()
	g := dag.NewGraph("invert")
	imH, wtH, err := New(nil, nil, nil).ComposeInvert(g, vis, template, p, false)
	if err != nil {
		t.Fatalf("ComposeInvert: %v", err)
	}
	values, err := (&dag.Serial{}).Compute(context.Background(), g, []dag.Handle{imH, wtH})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	return values[0].(*data.Image), values[1].([]float64)
}

func visClose(t *testing.T, a, b *data.Visibility, tol float64, label string) {
	t.Helper()
	if !a.EqualShape(b) {
		t.Fatalf("%s: shapes differ", label)
	}
	for i := range a.Vis {
		if math.Abs(real(a.Vis[i]-b.Vis[i])) > tol || math.Abs(imag(a.Vis[i]-b.Vis[i])) > tol {
			t.Fatalf("%s: value %d differs: %v vs %v", label, i, a.Vis[i], b.Vis[i])
		}
	}
}

func imageClose(t *testing.T, a, b *data.Image, tol float64, label string) {
	t.Helper()
	if !a.EqualShape(b) {
		t.Fatalf("%s: shapes differ", label)
	}
	for i := range a.Data {
		if math.Abs(a.Data[i]-b.Data[i]) > tol {
			t.Fatalf("%s: pixel %d differs: %g vs %g", label, i, a.Data[i], b.Data[i])
		}
	}
}

func TestComposePredict2DMatchesDirect(t *testing.T) {
	vis := composeVis(t)
	model := composeModel(t, vis)

	direct, err := imaging.PredictDFT(vis, model)
	if err != nil {
		t.Fatalf("PredictDFT: %v", err)
	}
	composed := computePredict(t, vis, model, Params{Context: Context2D, Facets: 1})
	visClose(t, direct, composed, 1e-12, "2d predict")
}

func TestComposePredictPartitionInvariant(t *testing.T) {
	vis := composeVis(t)
	model := composeModel(t, vis)
	baseline := computePredict(t, vis, model, Params{Context: Context2D, Facets: 1})

	cases := []struct {
		name string
		p    Params
	}{
		{"timeslice width", Params{Context: ContextTimeslice, Facets: 1, Timeslice: 60}},
		{"timeslice count", Params{Context: ContextTimeslice, Facets: 1, VisSlices: 4}},
		{"wstack width", Params{Context: ContextWStack, Facets: 1, WSlice: 25}},
		{"wstack count", Params{Context: ContextWStack, Facets: 1, VisSlices: 3}},
	}
	for _, tc := range cases {
		composed := computePredict(t, vis, model, tc.p)
		visClose(t, baseline, composed, 1e-9, tc.name)
	}
}

func TestComposePredictFacetsInvariant(t *testing.T) {
	vis := composeVis(t)
	model := composeModel(t, vis)
	baseline := computePredict(t, vis, model, Params{Context: Context2D, Facets: 1})

	faceted := computePredict(t, vis, model, Params{Context: ContextFacets, Facets: 2})
	visClose(t, baseline, faceted, 1e-9, "facets=2 predict")

	combined := computePredict(t, vis, model, Params{Context: ContextFacetsTimeslice, Facets: 2, Timeslice: 60})
	visClose(t, baseline, combined, 1e-9, "facets+timeslice predict")
}

func TestComposeInvertPartitionInvariant(t *testing.T) {
	vis := composeVis(t)
	model := composeModel(t, vis)
	observed := computePredict(t, vis, model, Params{Facets: 1})
	template := model.EmptyLike()

	baseIm, baseWt := computeInvert(t, observed, template, Params{Facets: 1})

	cases := []struct {
		name string
		p    Params
	}{
		{"timeslice", Params{Context: ContextTimeslice, Facets: 1, Timeslice: 60}},
		{"wstack count", Params{Context: ContextWStack, Facets: 1, VisSlices: 3}},
		{"facets", Params{Context: ContextFacets, Facets: 2}},
		{"facets+timeslice", Params{Context: ContextFacetsTimeslice, Facets: 2, VisSlices: 4}},
	}
	for _, tc := range cases {
		im, wt := computeInvert(t, observed, template, tc.p)
		imageClose(t, baseIm, im, 1e-9, tc.name)
		if math.Abs(wt[0]-baseWt[0]) > 1e-9 {
			t.Fatalf("%s: sumwt %g, want %g", tc.name, wt[0], baseWt[0])
		}
	}
}

func TestComposeResidualClosesToZero(t *testing.T) {
	vis := composeVis(t)
	model := composeModel(t, vis)

	// The observed data is exactly the model's prediction, so the residual
	// image must vanish.
	observed := computePredict(t, vis, model, Params{Facets: 1})

	g := dag.NewGraph("residual")
	imH, wtH, err := New(nil, nil, nil).ComposeResidual(g, observed, model, Params{Context: ContextTimeslice, Facets: 1, Timeslice: 60})
	if err != nil {
		t.Fatalf("ComposeResidual: %v", err)
	}
	values, err := (&dag.Serial{}).Compute(context.Background(), g, []dag.Handle{imH, wtH})
	if err != nil {
		t.Fatalf("Compute: %v", err)
	}
	resid := values[0].(*data.Image)
	for i, v := range resid.Data {
		if math.Abs(v) > 1e-9 {
			t.Fatalf("residual pixel %d = %g, want ~0", i, v)
		}
	}
}

func TestComposeValidation(t *testing.T) {
	vis := composeVis(t)
	model := composeModel(t, vis)
	g := dag.NewGraph("bad")
	c := New(nil, nil, nil)

	if _, err := c.ComposePredict(g, vis, model, Params{Facets: 0}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("facets=0: got %v, want ErrConfiguration", err)
	}
	if _, err := c.ComposePredict(g, vis, model, Params{Facets: 1, Context: "spherical"}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("unknown context: got %v, want ErrConfiguration", err)
	}
	if _, err := c.ComposePredict(g, vis, model, Params{Facets: 1, VisSlices: -1}); !errors.Is(err, ErrConfiguration) {
		t.Fatalf("negative slices: got %v, want ErrConfiguration", err)
	}
	if g.Len() != 0 {
		t.Fatalf("validation failures added %d nodes", g.Len())
	}
}

func TestSumInvertResultsWeighting(t *testing.T) {
	mk := func(value, wt float64) InvertResult {
		im, err := data.NewImage([4]int{1, 1, 2, 2}, data.Geometry{Cellsize: 1, Frequency: []float64{1e8}})
		if err != nil {
			t.Fatalf("NewImage: %v", err)
		}
		for i := range im.Data {
			im.Data[i] = value
		}
		return InvertResult{Image: im, SumWeight: []float64{wt}}
	}

	// Weighted mean: (2*1 + 8*3)/(1+3) = 6.5
	im, wt, err := SumInvertResults([]InvertResult{mk(2, 1), mk(8, 3)})
	if err != nil {
		t.Fatalf("SumInvertResults: %v", err)
	}
	if math.Abs(wt[0]-4) > 1e-12 {
		t.Fatalf("sumwt=%g, want 4", wt[0])
	}
	for i, v := range im.Data {
		if math.Abs(v-6.5) > 1e-12 {
			t.Fatalf("pixel %d = %g, want 6.5", i, v)
		}
	}
}

func TestSumPredictResultsShapeMismatch(t *testing.T) {
	vis := composeVis(t)
	short, err := vis.Select([]bool{true, false, false, false, false, false, false, false, false, false, false, false})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if _, err := SumPredictResults([]*data.Visibility{vis, short}); !errors.Is(err, data.ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
}
