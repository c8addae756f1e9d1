// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"math"
	"math/cmplx"
	"testing"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// calVis builds a 4-antenna dataset: all six baselines at each of three
// integration times, constant unit model visibility.
func calVis(t *testing.T) *data.Visibility {
	t.Helper()
	nants := 4
	ntimes := 3
	nbl := nants * (nants - 1) / 2
	rows := ntimes * nbl

	uvw := make([]float64, 3*rows)
	times := make([]float64, rows)
	a1 := make([]int, rows)
	a2 := make([]int, rows)
	vis := make([]complex128, rows)
	weight := make([]float64, rows)

	row := 0
	for ti := 0; ti < ntimes; ti++ {
		for i := 0; i < nants; i++ {
			for j := i + 1; j < nants; j++ {
				uvw[3*row] = float64(30 * (j - i))
				uvw[3*row+1] = float64(20 * (i + j))
				times[row] = float64(ti) * 10
				a1[row] = i
				a2[row] = j
				vis[row] = 1
				weight[row] = 1
				row++
			}
		}
	}
	v, err := data.NewVisibility([]float64{1e8}, data.Direction{}, uvw, times, a1, a2, vis, weight, 1)
	require.NoError(t, err)
	return v
}

// trueGains builds a single-window gain table with known complex gains.
func trueGains(t *testing.T, vis *data.Visibility) *data.GainTable {
	t.Helper()
	gt, err := CreateGainTableFromVisibility(vis, 0)
	require.NoError(t, err)
	for a := 0; a < gt.NAnts(); a++ {
		amp := 1 + 0.1*float64(a)
		phase := 0.4 * math.Sin(float64(a)*2.1)
		gt.SetGain(0, a, 0, 0, complex(amp, 0)*cmplx.Exp(complex(0, phase)))
	}
	return gt
}

func TestApplyInverseIsIdentity(t *testing.T) {
	vis := calVis(t)
	gt := trueGains(t, vis)

	corrupted, err := ApplyGainTable(vis, gt, false)
	require.NoError(t, err)
	restored, err := ApplyGainTable(corrupted, gt, true)
	require.NoError(t, err)

	for i := range vis.Vis {
		assert.InDelta(t, real(vis.Vis[i]), real(restored.Vis[i]), 1e-12)
		assert.InDelta(t, imag(vis.Vis[i]), imag(restored.Vis[i]), 1e-12)
	}
}

func TestApplyInverseZeroGain(t *testing.T) {
	vis := calVis(t)
	gt, err := CreateGainTableFromVisibility(vis, 0)
	require.NoError(t, err)
	gt.SetGain(0, 0, 0, 0, 0)

	_, err = ApplyGainTable(vis, gt, true)
	assert.ErrorIs(t, err, ErrSolverFailure)
}

func TestFitGainTableRecoversGains(t *testing.T) {
	vis := calVis(t)
	gt := trueGains(t, vis)

	observed, err := ApplyGainTable(vis, gt, false)
	require.NoError(t, err)

	start, err := CreateGainTableFromVisibility(observed, 0)
	require.NoError(t, err)
	solved, err := FitGainTable(observed, vis, start, 0.5, false)
	require.NoError(t, err)

	// Gains are recovered up to a global phase, so compare the
	// phase-invariant baseline products.
	for row := 0; row < vis.Rows(); row++ {
		a1, a2 := vis.Antenna1[row], vis.Antenna2[row]
		want := gt.GainAt(0, a1, 0, 0) * cmplx.Conj(gt.GainAt(0, a2, 0, 0))
		got := solved.GainAt(0, a1, 0, 0) * cmplx.Conj(solved.GainAt(0, a2, 0, 0))
		assert.InDelta(t, real(want), real(got), 1e-6, "baseline %d,%d", a1, a2)
		assert.InDelta(t, imag(want), imag(got), 1e-6, "baseline %d,%d", a1, a2)
	}

	// The warm-start table must be untouched.
	assert.Equal(t, complex128(1), start.GainAt(0, 0, 0, 0))
}

func TestFitGainTablePhaseOnly(t *testing.T) {
	vis := calVis(t)
	gt := trueGains(t, vis)
	observed, err := ApplyGainTable(vis, gt, false)
	require.NoError(t, err)

	start, err := CreateGainTableFromVisibility(observed, 0)
	require.NoError(t, err)
	solved, err := FitGainTable(observed, vis, start, 0.5, true)
	require.NoError(t, err)

	for a := 0; a < solved.NAnts(); a++ {
		assert.InDelta(t, 1.0, cmplx.Abs(solved.GainAt(0, a, 0, 0)), 1e-9, "antenna %d", a)
	}
}

func TestFitGainTableSingularModel(t *testing.T) {
	vis := calVis(t)
	model := vis.CopyZero() // no model power anywhere
	start, err := CreateGainTableFromVisibility(vis, 0)
	require.NoError(t, err)

	_, err = FitGainTable(vis, model, start, 0.25, false)
	assert.ErrorIs(t, err, ErrSolverFailure)
}

func TestCreateGainTableWindows(t *testing.T) {
	vis := calVis(t) // times 0, 10, 20

	single, err := CreateGainTableFromVisibility(vis, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, single.NTimes())
	assert.Equal(t, 4, single.NAnts())

	sliced, err := CreateGainTableFromVisibility(vis, 10)
	require.NoError(t, err)
	assert.Equal(t, 3, sliced.NTimes())
}

func TestDivideVisibility(t *testing.T) {
	vis := calVis(t)
	model := vis.Copy()
	for i := range model.Vis {
		model.Vis[i] = complex(2, 0)
		vis.Vis[i] = complex(4, 2)
	}

	out, err := DivideVisibility(vis, model)
	require.NoError(t, err)
	for i := range out.Vis {
		assert.InDelta(t, 2.0, real(out.Vis[i]), 1e-12)
		assert.InDelta(t, 1.0, imag(out.Vis[i]), 1e-12)
		assert.InDelta(t, 4.0, out.Weight[i], 1e-12, "weight scales by model power")
	}

	// A vanishing model zeroes data and weight instead of dividing.
	model.Vis[0] = 0
	out, err = DivideVisibility(vis, model)
	require.NoError(t, err)
	assert.Equal(t, complex128(0), out.Vis[0])
	assert.Equal(t, 0.0, out.Weight[0])
}

func TestIntegrateVisibilityByChannel(t *testing.T) {
	rows := 2
	uvw := make([]float64, 3*rows)
	times := []float64{0, 0}
	ants1 := []int{0, 0}
	ants2 := []int{1, 2}
	vis := []complex128{1, 3, 2, 6} // row0: chans 1,3; row1: chans 2,6
	weight := []float64{1, 3, 1, 1}
	v, err := data.NewVisibility([]float64{1e8, 2e8}, data.Direction{}, uvw, times, ants1, ants2, vis, weight, 1)
	require.NoError(t, err)

	out, err := IntegrateVisibilityByChannel(v)
	require.NoError(t, err)
	assert.Equal(t, 1, out.NChan())
	assert.InDelta(t, 1.5e8, out.Frequency[0], 1)

	// Row 0: (1*1 + 3*3)/4 = 2.5, weight 4. Row 1: (2+6)/2 = 4, weight 2.
	assert.InDelta(t, 2.5, real(out.VisAt(0, 0, 0)), 1e-12)
	assert.InDelta(t, 4.0, out.Weight[0], 1e-12)
	assert.InDelta(t, 4.0, real(out.VisAt(1, 0, 0)), 1e-12)
	assert.InDelta(t, 2.0, out.Weight[1], 1e-12)
}

func TestSolveGlobalGains(t *testing.T) {
	vis := calVis(t)
	gt := trueGains(t, vis)
	observed, err := ApplyGainTable(vis, gt, false)
	require.NoError(t, err)

	// The model is the uncorrupted unit visibility.
	solved, err := SolveGlobalGains(observed, vis, 0, 0.5, false)
	require.NoError(t, err)

	for row := 0; row < vis.Rows(); row++ {
		a1, a2 := vis.Antenna1[row], vis.Antenna2[row]
		want := gt.GainAt(0, a1, 0, 0) * cmplx.Conj(gt.GainAt(0, a2, 0, 0))
		got := solved.GainAt(0, a1, 0, 0) * cmplx.Conj(solved.GainAt(0, a2, 0, 0))
		assert.InDelta(t, real(want), real(got), 1e-6)
		assert.InDelta(t, imag(want), imag(got), 1e-6)
	}
}

func TestFitSkyModelRefitsFlux(t *testing.T) {
	vis := calVis(t)
	sc, err := data.NewSkycomponent("centre", vis.Phasecentre, vis.Frequency, []float64{3}, 1, data.ShapePoint)
	require.NoError(t, err)
	sm := &data.SkyModel{Components: []*data.Skycomponent{sc}}

	// Observed flux is 5; with gain=1 the matched filter lands on it in
	// one step (centre source, zero phase everywhere).
	evis := vis.Copy()
	for i := range evis.Vis {
		evis.Vis[i] = 5
	}
	out, err := FitSkyModel(evis, sm, 1.0)
	require.NoError(t, err)
	assert.InDelta(t, 5.0, out.Components[0].FluxAt(0, 0), 1e-9)

	// Damped update moves a quarter of the way.
	out, err = FitSkyModel(evis, sm, 0.25)
	require.NoError(t, err)
	assert.InDelta(t, 3.5, out.Components[0].FluxAt(0, 0), 1e-9)

	// The input model is untouched.
	assert.Equal(t, 3.0, sc.FluxAt(0, 0))
}
