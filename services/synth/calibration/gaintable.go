// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package calibration implements the antenna-gain primitives consumed by
// the SAGE engine: gain table creation, application to visibilities, and
// the damped per-window solves used as M-steps.
package calibration

import (
	"fmt"
	"math/cmplx"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/AleutianAI/AleutianSynth/services/synth/partition"
)

// CreateGainTableFromVisibility builds a unity gain table whose solution
// windows follow the dataset's time coverage with windows of timeslice
// seconds. A non-positive timeslice gives a single window spanning the
// whole observation.
func CreateGainTableFromVisibility(vis *data.Visibility, timeslice float64) (*data.GainTable, error) {
	if vis.Rows() == 0 {
		return nil, data.NewShapeError("gaintable from visibility", "rows >= 1", "empty dataset")
	}
	nants := antennaCount(vis)
	if nants < 1 {
		return nil, data.NewShapeError("gaintable from visibility", "nants >= 1", "no antennas")
	}

	var centres []float64
	if timeslice <= 0 {
		centres = []float64{meanSelected(vis.Time, nil)}
	} else {
		it := partition.NewTimeIterator(vis, timeslice)
		for {
			mask, ok := it.Next()
			if !ok {
				break
			}
			centres = append(centres, meanSelected(vis.Time, mask))
		}
	}
	if len(centres) == 0 {
		centres = []float64{meanSelected(vis.Time, nil)}
	}
	return data.NewGainTable(centres, nants, vis.NChan(), vis.NPol())
}

// ApplyGainTable applies (or, with inverse, removes) per-antenna gains to
// a dataset: each row is scaled by g(a1)·conj(g(a2)) for its nearest
// solution window. The result is a fresh copy.
func ApplyGainTable(vis *data.Visibility, gt *data.GainTable, inverse bool) (*data.Visibility, error) {
	if err := data.AssertSameChanPol("apply gaintable", vis, gt); err != nil {
		return nil, err
	}
	out := vis.Copy()
	for row := 0; row < out.Rows(); row++ {
		t := gt.WindowFor(out.Time[row])
		a1, a2 := out.Antenna1[row], out.Antenna2[row]
		if a1 >= gt.NAnts() || a2 >= gt.NAnts() {
			return nil, data.NewShapeError("apply gaintable",
				fmt.Sprintf("antenna < %d", gt.NAnts()),
				fmt.Sprintf("antennas %d,%d", a1, a2))
		}
		for chn := 0; chn < out.NChan(); chn++ {
			for pol := 0; pol < out.NPol(); pol++ {
				g := gt.GainAt(t, a1, chn, pol) * cmplx.Conj(gt.GainAt(t, a2, chn, pol))
				if inverse {
					if g == 0 {
						return nil, &SolverError{Window: t, Antenna: a1, Detail: "zero gain in inverse application"}
					}
					out.SetVis(row, chn, pol, out.VisAt(row, chn, pol)/g)
				} else {
					out.SetVis(row, chn, pol, out.VisAt(row, chn, pol)*g)
				}
			}
		}
	}
	return out, nil
}

// antennaCount derives the station count from the configuration when
// present, otherwise from the largest antenna index in the rows.
func antennaCount(vis *data.Visibility) int {
	if vis.Configuration != nil && vis.Configuration.NAnts() > 0 {
		return vis.Configuration.NAnts()
	}
	maxIdx := -1
	for row := 0; row < vis.Rows(); row++ {
		if vis.Antenna1[row] > maxIdx {
			maxIdx = vis.Antenna1[row]
		}
		if vis.Antenna2[row] > maxIdx {
			maxIdx = vis.Antenna2[row]
		}
	}
	return maxIdx + 1
}

// meanSelected averages the column over the masked rows; a nil mask means
// every row.
func meanSelected(column []float64, mask []bool) float64 {
	sum, n := 0.0, 0
	for i, v := range column {
		if mask == nil || mask[i] {
			sum += v
			n++
		}
	}
	if n == 0 {
		return 0
	}
	return sum / float64(n)
}
