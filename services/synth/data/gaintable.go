// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package data

import "fmt"

// GainTable holds per-antenna complex gains indexed by
// [time window, antenna, channel, polarisation]. Produced by calibration
// solves, consumed by visibility correction.
type GainTable struct {
	Gain []complex128 // [ntimes*nants*nchan*npol]
	Time []float64    // [ntimes] window centres

	nants int
	nchan int
	npol  int
}

// NewGainTable allocates a unity gain table over the given time windows.
func NewGainTable(times []float64, nants, nchan, npol int) (*GainTable, error) {
	if len(times) < 1 || nants < 1 || nchan < 1 || npol < 1 {
		return nil, NewShapeError("gaintable",
			"ntimes, nants, nchan, npol all >= 1",
			fmt.Sprintf("ntimes=%d nants=%d nchan=%d npol=%d", len(times), nants, nchan, npol))
	}
	gain := make([]complex128, len(times)*nants*nchan*npol)
	for i := range gain {
		gain[i] = 1
	}
	return &GainTable{
		Gain:  gain,
		Time:  append([]float64(nil), times...),
		nants: nants,
		nchan: nchan,
		npol:  npol,
	}, nil
}

// NTimes returns the number of solution time windows.
func (gt *GainTable) NTimes() int { return len(gt.Time) }

// NAnts returns the number of antennas.
func (gt *GainTable) NAnts() int { return gt.nants }

// NChan returns the number of channels.
func (gt *GainTable) NChan() int { return gt.nchan }

// NPol returns the number of polarisations.
func (gt *GainTable) NPol() int { return gt.npol }

func (gt *GainTable) index(t, ant, chn, pol int) int {
	return ((t*gt.nants+ant)*gt.nchan+chn)*gt.npol + pol
}

// GainAt returns the gain for (time window, antenna, channel, polarisation).
func (gt *GainTable) GainAt(t, ant, chn, pol int) complex128 {
	return gt.Gain[gt.index(t, ant, chn, pol)]
}

// SetGain stores a gain. Private copies only.
func (gt *GainTable) SetGain(t, ant, chn, pol int, value complex128) {
	gt.Gain[gt.index(t, ant, chn, pol)] = value
}

// WindowFor returns the index of the solution window whose centre is
// nearest to the timestamp.
func (gt *GainTable) WindowFor(time float64) int {
	best := 0
	bestDist := dist(time, gt.Time[0])
	for i := 1; i < len(gt.Time); i++ {
		if d := dist(time, gt.Time[i]); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

func dist(a, b float64) float64 {
	if a > b {
		return a - b
	}
	return b - a
}

// Copy returns a deep copy of the gain table.
func (gt *GainTable) Copy() *GainTable {
	return &GainTable{
		Gain:  append([]complex128(nil), gt.Gain...),
		Time:  append([]float64(nil), gt.Time...),
		nants: gt.nants,
		nchan: gt.nchan,
		npol:  gt.npol,
	}
}
