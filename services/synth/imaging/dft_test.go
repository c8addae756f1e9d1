// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package imaging

import (
	"math/cmplx"
	"testing"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testVis builds a 6-row single-channel dataset with a spread of baseline
// lengths.
func testVis(t *testing.T) *data.Visibility {
	t.Helper()
	uvw := []float64{
		100, 0, 0,
		0, 150, 0,
		-80, 60, 10,
		200, -40, -20,
		-120, -90, 5,
		50, 210, 0,
	}
	rows := 6
	times := make([]float64, rows)
	a1 := []int{0, 0, 0, 1, 1, 2}
	a2 := []int{1, 2, 3, 2, 3, 3}
	for i := range times {
		times[i] = float64(i) * 10
	}
	vis := make([]complex128, rows)
	weight := make([]float64, rows)
	for i := range weight {
		weight[i] = 1
	}
	v, err := data.NewVisibility([]float64{1e8}, data.Direction{RA: 0, Dec: -0.8},
		uvw, times, a1, a2, vis, weight, 1)
	require.NoError(t, err)
	return v
}

func centreComponent(t *testing.T, vis *data.Visibility, flux float64) *data.Skycomponent {
	t.Helper()
	f := make([]float64, vis.NChan()*vis.NPol())
	for i := range f {
		f[i] = flux
	}
	sc, err := data.NewSkycomponent("centre", vis.Phasecentre, vis.Frequency, f, vis.NPol(), data.ShapePoint)
	require.NoError(t, err)
	return sc
}

func TestPredictCentreComponentIsConstant(t *testing.T) {
	vis := testVis(t)
	sc := centreComponent(t, vis, 7.5)

	out, err := PredictComponents(vis, []*data.Skycomponent{sc})
	require.NoError(t, err)

	// A source at the phase centre has zero phase on every baseline.
	for row := 0; row < out.Rows(); row++ {
		v := out.VisAt(row, 0, 0)
		assert.InDelta(t, 7.5, real(v), 1e-9, "row %d real", row)
		assert.InDelta(t, 0.0, imag(v), 1e-9, "row %d imag", row)
	}

	// The input dataset must be untouched.
	for _, v := range vis.Vis {
		assert.Equal(t, complex128(0), v)
	}
}

func TestPredictComponentsAdditive(t *testing.T) {
	vis := testVis(t)
	c1 := centreComponent(t, vis, 3)
	c2 := centreComponent(t, vis, 2)
	c2.Direction = data.Direction{RA: vis.Phasecentre.RA + 0.002, Dec: vis.Phasecentre.Dec}

	both, err := PredictComponents(vis, []*data.Skycomponent{c1, c2})
	require.NoError(t, err)
	only1, err := PredictComponents(vis, []*data.Skycomponent{c1})
	require.NoError(t, err)
	only2, err := PredictComponents(vis, []*data.Skycomponent{c2})
	require.NoError(t, err)

	for i := range both.Vis {
		assert.InDelta(t, real(only1.Vis[i]+only2.Vis[i]), real(both.Vis[i]), 1e-9)
		assert.InDelta(t, imag(only1.Vis[i]+only2.Vis[i]), imag(both.Vis[i]), 1e-9)
	}
}

func TestInvertRecoversCentreFlux(t *testing.T) {
	vis := testVis(t)
	sc := centreComponent(t, vis, 4.0)
	observed, err := PredictComponents(vis, []*data.Skycomponent{sc})
	require.NoError(t, err)

	template, err := CreateImageFromVisibility(observed, 32, 0.0004)
	require.NoError(t, err)

	dirty, sumwt, err := InvertDFT(observed, template, false)
	require.NoError(t, err)
	require.Len(t, sumwt, 1)
	assert.InDelta(t, 6.0, sumwt[0], 1e-12, "six unit-weight rows")

	// The normalized dirty image equals the flux at the phase centre.
	centre := dirty.At(0, 0, 16, 16)
	assert.InDelta(t, 4.0, centre, 1e-9)

	// And the centre is the brightest pixel.
	for y := 0; y < dirty.NY(); y++ {
		for x := 0; x < dirty.NX(); x++ {
			assert.LessOrEqual(t, dirty.At(0, 0, y, x), centre+1e-9)
		}
	}
}

func TestInvertPSFPeaksAtUnity(t *testing.T) {
	vis := testVis(t)
	sc := centreComponent(t, vis, 4.0)
	observed, err := PredictComponents(vis, []*data.Skycomponent{sc})
	require.NoError(t, err)

	template, err := CreateImageFromVisibility(observed, 16, 0.0004)
	require.NoError(t, err)

	psf, _, err := InvertDFT(observed, template, true)
	require.NoError(t, err)
	assert.InDelta(t, 1.0, psf.At(0, 0, 8, 8), 1e-9)
}

func TestPredictDFTMatchesPhasor(t *testing.T) {
	vis := testVis(t)
	template, err := CreateImageFromVisibility(vis, 8, 0.0005)
	require.NoError(t, err)

	// One lit pixel off centre.
	model := template.EmptyLike()
	model.Set(0, 0, 2, 6, 3.0)

	out, err := PredictDFT(vis, model)
	require.NoError(t, err)

	l, m := model.LM(2, 6)
	for row := 0; row < vis.Rows(); row++ {
		want := complex(3.0, 0) * Phasor(vis, row, 0, l, m)
		got := out.VisAt(row, 0, 0)
		assert.InDelta(t, real(want), real(got), 1e-9)
		assert.InDelta(t, imag(want), imag(got), 1e-9)
	}
}

func TestPredictSkyModelSumsImagesAndComponents(t *testing.T) {
	vis := testVis(t)
	sc := centreComponent(t, vis, 2.0)

	template, err := CreateImageFromVisibility(vis, 8, 0.0005)
	require.NoError(t, err)
	model := template.EmptyLike()
	model.Set(0, 0, 4, 4, 1.5) // reference pixel: zero phase

	sm := &data.SkyModel{Images: []*data.Image{model}, Components: []*data.Skycomponent{sc}}
	out, err := PredictSkyModel(vis, sm, nil)
	require.NoError(t, err)

	for row := 0; row < out.Rows(); row++ {
		assert.InDelta(t, 3.5, real(out.VisAt(row, 0, 0)), 1e-9)
	}
}

func TestNormalizeSumWeightSkipsZeroPlanes(t *testing.T) {
	im, err := data.NewImage([4]int{1, 1, 2, 2}, data.Geometry{Cellsize: 1, Frequency: []float64{1e8}})
	require.NoError(t, err)
	im.Set(0, 0, 0, 0, 8)

	require.NoError(t, NormalizeSumWeight(im, []float64{0}))
	assert.Equal(t, 8.0, im.At(0, 0, 0, 0))

	require.NoError(t, NormalizeSumWeight(im, []float64{4}))
	assert.Equal(t, 2.0, im.At(0, 0, 0, 0))
}

func TestPhasorUnitModulus(t *testing.T) {
	vis := testVis(t)
	k := Phasor(vis, 3, 0, 0.001, -0.002)
	assert.InDelta(t, 1.0, cmplx.Abs(k), 1e-12)
}
