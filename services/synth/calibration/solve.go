// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package calibration

import (
	"math/cmplx"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/AleutianAI/AleutianSynth/services/synth/imaging"
)

const (
	// solveIterations bounds the inner gain iteration per window.
	solveIterations = 50

	// solveDelta stops the inner iteration once gains move less than this.
	solveDelta = 1e-12

	// singularWeight is the smallest usable normal-equation denominator.
	singularWeight = 1e-30
)

// FitGainTable solves per-antenna gains against a model, one solution
// window at a time, with a damped alternating update.
//
// Description:
//
//	For every window and (channel, polarisation), the solve alternates
//	g_a ← Σ_b w·V(a,b)·g_b·conj(M(a,b)) / Σ_b w·|g_b·M(a,b)|², damped by
//	the gain factor to prevent oscillation. Antennas with no data in a
//	window keep their previous gain. A window whose normal equations are
//	singular (no usable model power on any baseline of an antenna with
//	data) fails the solve with a SolverError.
//
// Inputs:
//
//	evis - Observed (E-step) visibility for this calibration window.
//	mvis - Model visibility of the same shape.
//	gt - Previous gain table; defines the solution windows and the warm
//	  start. Not mutated.
//	gain - Damping factor in (0, 1].
//	phaseOnly - Normalize solved gains to unit amplitude.
//
// Outputs:
//
//	*data.GainTable - A fresh table with the solved gains.
//	error - SolverError on a degenerate solve, shape errors otherwise.
func FitGainTable(evis, mvis *data.Visibility, gt *data.GainTable, gain float64, phaseOnly bool) (*data.GainTable, error) {
	if !evis.EqualShape(mvis) {
		return nil, data.NewShapeError("fit gaintable",
			"observed and model visibilities of equal shape",
			"differing shapes")
	}
	if err := data.AssertSameChanPol("fit gaintable", evis, gt); err != nil {
		return nil, err
	}
	if gain <= 0 || gain > 1 {
		gain = 0.25
	}

	out := gt.Copy()
	nants := gt.NAnts()

	// Row assignment mirrors ApplyGainTable: nearest solution window.
	windowRows := make([][]int, gt.NTimes())
	for row := 0; row < evis.Rows(); row++ {
		t := gt.WindowFor(evis.Time[row])
		windowRows[t] = append(windowRows[t], row)
	}

	for t, rows := range windowRows {
		if len(rows) == 0 {
			continue
		}
		for chn := 0; chn < evis.NChan(); chn++ {
			for pol := 0; pol < evis.NPol(); pol++ {
				g := make([]complex128, nants)
				for a := 0; a < nants; a++ {
					g[a] = gt.GainAt(t, a, chn, pol)
				}
				solved, err := solveWindow(evis, mvis, rows, chn, pol, g, gain, phaseOnly, t)
				if err != nil {
					return nil, err
				}
				for a := 0; a < nants; a++ {
					out.SetGain(t, a, chn, pol, solved[a])
				}
			}
		}
	}
	return out, nil
}

// solveWindow runs the damped alternating update for one window, channel
// and polarisation.
func solveWindow(evis, mvis *data.Visibility, rows []int, chn, pol int, g []complex128, gain float64, phaseOnly bool, window int) ([]complex128, error) {
	nants := len(g)
	top := make([]complex128, nants)
	bot := make([]float64, nants)
	hasData := make([]bool, nants)

	for iter := 0; iter < solveIterations; iter++ {
		for a := range top {
			top[a] = 0
			bot[a] = 0
		}
		for _, row := range rows {
			a1, a2 := evis.Antenna1[row], evis.Antenna2[row]
			w := evis.WeightAt(row, chn, pol)
			if w <= 0 || a1 == a2 {
				continue
			}
			v := evis.VisAt(row, chn, pol)
			m := mvis.VisAt(row, chn, pol)

			// V(a1,a2) = g1·conj(g2)·M constrains both antennas:
			// g1 = Σ w·V·g2·conj(M) / Σ w·|g2·M|²
			// g2 = Σ w·conj(V)·g1·M / Σ w·|g1·M|²
			p2 := g[a2] * cmplx.Conj(m)
			top[a1] += complex(w, 0) * v * p2
			bot[a1] += w * real(p2*cmplx.Conj(p2))
			hasData[a1] = true

			p1 := g[a1] * m
			top[a2] += complex(w, 0) * cmplx.Conj(v) * p1
			bot[a2] += w * real(p1*cmplx.Conj(p1))
			hasData[a2] = true
		}

		delta := 0.0
		for a := 0; a < nants; a++ {
			if !hasData[a] {
				continue
			}
			if bot[a] < singularWeight {
				return nil, &SolverError{Window: window, Antenna: a,
					Detail: "singular normal equations (no model power)"}
			}
			update := top[a] / complex(bot[a], 0)
			next := complex(1-gain, 0)*g[a] + complex(gain, 0)*update
			if phaseOnly {
				if abs := cmplx.Abs(next); abs > 0 {
					next /= complex(abs, 0)
				}
			}
			delta += cmplx.Abs(next - g[a])
			g[a] = next
		}
		if delta < solveDelta {
			break
		}
	}

	// Reference the phase to the first antenna with data so solutions are
	// unique up to the unobservable global phase.
	for a := 0; a < nants; a++ {
		if hasData[a] && g[a] != 0 {
			ref := g[a] / complex(cmplx.Abs(g[a]), 0)
			for b := 0; b < nants; b++ {
				g[b] /= ref
			}
			break
		}
	}
	return g, nil
}

// FitSkyModel refits component fluxes against an E-step visibility with a
// damped matched-filter estimate. Directions and shapes are kept; the
// returned sky model is a fresh copy.
func FitSkyModel(evis *data.Visibility, sm *data.SkyModel, gain float64) (*data.SkyModel, error) {
	if gain <= 0 || gain > 1 {
		gain = 0.25
	}
	out := sm.Copy()
	for _, sc := range out.Components {
		if err := data.AssertSameChanPol("fit skymodel", evis, sc); err != nil {
			return nil, err
		}
		l, m := sc.Direction.LM(evis.Phasecentre)
		for chn := 0; chn < evis.NChan(); chn++ {
			for pol := 0; pol < evis.NPol(); pol++ {
				num, den := 0.0, 0.0
				for row := 0; row < evis.Rows(); row++ {
					w := evis.WeightAt(row, chn, pol)
					if w <= 0 {
						continue
					}
					k := imaging.Phasor(evis, row, chn, l, m)
					num += w * real(evis.VisAt(row, chn, pol)*cmplx.Conj(k))
					den += w
				}
				if den <= 0 {
					continue
				}
				est := num / den
				old := sc.FluxAt(chn, pol)
				sc.SetFlux(chn, pol, (1-gain)*old+gain*est)
			}
		}
	}
	return out, nil
}

// DivideVisibility divides observed by model visibilities point-wise,
// producing the "point source equivalent" dataset used for global gain
// solves. Weights are scaled by the model power; rows where the model
// vanishes get zero weight instead of a division blow-up.
func DivideVisibility(vis, model *data.Visibility) (*data.Visibility, error) {
	if !vis.EqualShape(model) {
		return nil, data.NewShapeError("divide visibility",
			"observed and model of equal shape", "differing shapes")
	}
	out := vis.Copy()
	for i := range out.Vis {
		mp := real(model.Vis[i] * cmplx.Conj(model.Vis[i]))
		if mp <= 0 {
			out.Vis[i] = 0
			out.Weight[i] = 0
			continue
		}
		out.Vis[i] = out.Vis[i] * cmplx.Conj(model.Vis[i]) / complex(mp, 0)
		out.Weight[i] *= mp
	}
	return out, nil
}

// IntegrateVisibilityByChannel collapses the channel axis to one channel
// by weighted averaging, for global solutions that solve a single gain
// across the band.
func IntegrateVisibilityByChannel(vis *data.Visibility) (*data.Visibility, error) {
	nchan, npol := vis.NChan(), vis.NPol()
	rows := vis.Rows()

	freq := 0.0
	for _, f := range vis.Frequency {
		freq += f
	}
	freq /= float64(nchan)

	newVis := make([]complex128, rows*npol)
	newWt := make([]float64, rows*npol)
	for row := 0; row < rows; row++ {
		for pol := 0; pol < npol; pol++ {
			var acc complex128
			wt := 0.0
			for chn := 0; chn < nchan; chn++ {
				w := vis.WeightAt(row, chn, pol)
				acc += complex(w, 0) * vis.VisAt(row, chn, pol)
				wt += w
			}
			if wt > 0 {
				acc /= complex(wt, 0)
			}
			newVis[row*npol+pol] = acc
			newWt[row*npol+pol] = wt
		}
	}

	return data.NewVisibility(
		[]float64{freq},
		vis.Phasecentre,
		append([]float64(nil), vis.UVW...),
		append([]float64(nil), vis.Time...),
		append([]int(nil), vis.Antenna1...),
		append([]int(nil), vis.Antenna2...),
		newVis,
		newWt,
		npol,
	)
}

// SolveGlobalGains is the global-solution calibration path: divide the
// observed data by the model, integrate across channels, and solve one
// gain table for the whole dataset against the unit point source.
func SolveGlobalGains(vis, model *data.Visibility, timeslice, gain float64, phaseOnly bool) (*data.GainTable, error) {
	point, err := DivideVisibility(vis, model)
	if err != nil {
		return nil, err
	}
	global, err := IntegrateVisibilityByChannel(point)
	if err != nil {
		return nil, err
	}
	gt, err := CreateGainTableFromVisibility(global, timeslice)
	if err != nil {
		return nil, err
	}
	unit := global.CopyZero()
	for i := range unit.Vis {
		unit.Vis[i] = 1
	}
	return FitGainTable(global, unit, gt, gain, phaseOnly)
}
