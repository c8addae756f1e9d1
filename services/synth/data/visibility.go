// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package data holds the value types passed between graph nodes: visibility
// datasets, images, sky models, and gain tables.
//
// Everything in this package is logically immutable once handed to a graph
// node. A node that needs to mutate must take a private copy first; the
// Copy/CopyZero/Select helpers exist so that discipline is one call away.
// Honoring it is what lets independent graph branches run concurrently
// without locks.
package data

import (
	"fmt"
	"math"
)

// SpeedOfLight in m/s, used to scale baseline coordinates to wavelengths.
const SpeedOfLight = 299792458.0

// Direction is a sky direction in right ascension and declination, radians.
type Direction struct {
	RA  float64
	Dec float64
}

// LM returns the direction cosines (l, m) of d relative to a phase centre.
func (d Direction) LM(centre Direction) (float64, float64) {
	dra := d.RA - centre.RA
	l := math.Cos(d.Dec) * math.Sin(dra)
	m := math.Sin(d.Dec)*math.Cos(centre.Dec) -
		math.Cos(d.Dec)*math.Sin(centre.Dec)*math.Cos(dra)
	return l, m
}

// Configuration describes the antenna/station layout of an observation.
type Configuration struct {
	Name  string
	Names []string
	XYZ   []float64 // [nants*3] station locations
	Mount string
}

// NAnts returns the number of antennas/stations.
func (c *Configuration) NAnts() int {
	return len(c.Names)
}

// Visibility is an observation with one set of frequencies and one phase
// direction.
//
// Description:
//
//	Per-row columns share a single row count: UVW holds three baseline
//	coordinates per row, Time one timestamp, Antenna1/Antenna2 the station
//	pair. Vis, Weight and ImagingWeight are flat arrays with layout
//	[rows, nchan, npol] (row-major). The flat layout keeps partition
//	copies cheap and indexing explicit.
//
// Thread Safety:
//
//	Visibility is treated as immutable once shared. Mutating methods
//	(SetVis, AddVis, ZeroVis) must only be used on private copies.
type Visibility struct {
	UVW           []float64 // [rows*3] baseline coordinates, metres
	Time          []float64 // [rows]
	Antenna1      []int     // [rows]
	Antenna2      []int     // [rows]
	Vis           []complex128 // [rows*nchan*npol]
	Weight        []float64    // [rows*nchan*npol]
	ImagingWeight []float64    // [rows*nchan*npol]
	Frequency     []float64    // [nchan]
	Phasecentre   Direction
	Configuration *Configuration

	npol int
}

// NewVisibility constructs a Visibility and validates column shapes.
//
// Inputs:
//
//	frequency - Channel frequencies in Hz. Length defines nchan.
//	phasecentre - Phase direction of the observation.
//	uvw - Baseline coordinates, [rows*3].
//	time - Timestamps, [rows].
//	antenna1, antenna2 - Station indices, [rows] each.
//	vis - Complex visibilities, [rows*nchan*npol].
//	weight - Data weights, same shape as vis. Imaging weights start as a
//	  copy of the weights.
//	npol - Polarisation count.
//
// Outputs:
//
//	*Visibility - The validated dataset.
//	error - ErrShapeMismatch-wrapping error if any column disagrees.
func NewVisibility(
	frequency []float64,
	phasecentre Direction,
	uvw, time []float64,
	antenna1, antenna2 []int,
	vis []complex128,
	weight []float64,
	npol int,
) (*Visibility, error) {
	if npol < 1 {
		return nil, NewShapeError("visibility", "npol >= 1", fmt.Sprintf("npol=%d", npol))
	}
	nchan := len(frequency)
	if nchan < 1 {
		return nil, NewShapeError("visibility", "nchan >= 1", "empty frequency")
	}
	rows := len(time)
	if len(uvw) != 3*rows {
		return nil, NewShapeError("visibility uvw",
			fmt.Sprintf("len=%d", 3*rows), fmt.Sprintf("len=%d", len(uvw)))
	}
	if len(antenna1) != rows || len(antenna2) != rows {
		return nil, NewShapeError("visibility antennas",
			fmt.Sprintf("len=%d", rows),
			fmt.Sprintf("len=%d,%d", len(antenna1), len(antenna2)))
	}
	if len(vis) != rows*nchan*npol {
		return nil, NewShapeError("visibility vis",
			fmt.Sprintf("len=%d", rows*nchan*npol), fmt.Sprintf("len=%d", len(vis)))
	}
	if len(weight) != len(vis) {
		return nil, NewShapeError("visibility weight",
			fmt.Sprintf("len=%d", len(vis)), fmt.Sprintf("len=%d", len(weight)))
	}

	imaging := make([]float64, len(weight))
	copy(imaging, weight)

	return &Visibility{
		UVW:           uvw,
		Time:          time,
		Antenna1:      antenna1,
		Antenna2:      antenna2,
		Vis:           vis,
		Weight:        weight,
		ImagingWeight: imaging,
		Frequency:     frequency,
		Phasecentre:   phasecentre,
		npol:          npol,
	}, nil
}

// Rows returns the number of visibility rows.
func (v *Visibility) Rows() int { return len(v.Time) }

// NChan returns the number of frequency channels.
func (v *Visibility) NChan() int { return len(v.Frequency) }

// NPol returns the number of polarisations.
func (v *Visibility) NPol() int { return v.npol }

// U returns the first baseline coordinate of a row, metres.
func (v *Visibility) U(row int) float64 { return v.UVW[3*row] }

// V returns the second baseline coordinate of a row, metres.
func (v *Visibility) V(row int) float64 { return v.UVW[3*row+1] }

// W returns the third baseline coordinate of a row, metres.
func (v *Visibility) W(row int) float64 { return v.UVW[3*row+2] }

// UVWLambda returns the baseline coordinates of a row in wavelengths for
// one channel.
func (v *Visibility) UVWLambda(row, chn int) (float64, float64, float64) {
	scale := v.Frequency[chn] / SpeedOfLight
	return v.UVW[3*row] * scale, v.UVW[3*row+1] * scale, v.UVW[3*row+2] * scale
}

func (v *Visibility) index(row, chn, pol int) int {
	return (row*len(v.Frequency)+chn)*v.npol + pol
}

// VisAt returns the visibility value at (row, channel, polarisation).
func (v *Visibility) VisAt(row, chn, pol int) complex128 {
	return v.Vis[v.index(row, chn, pol)]
}

// SetVis stores a visibility value. Private copies only.
func (v *Visibility) SetVis(row, chn, pol int, value complex128) {
	v.Vis[v.index(row, chn, pol)] = value
}

// AddVis accumulates into a visibility value. Private copies only.
func (v *Visibility) AddVis(row, chn, pol int, value complex128) {
	v.Vis[v.index(row, chn, pol)] += value
}

// WeightAt returns the data weight at (row, channel, polarisation).
func (v *Visibility) WeightAt(row, chn, pol int) float64 {
	return v.Weight[v.index(row, chn, pol)]
}

// ZeroVis clears the visibility values in place. Private copies only.
func (v *Visibility) ZeroVis() {
	for i := range v.Vis {
		v.Vis[i] = 0
	}
}

// Copy returns a deep copy of the dataset.
func (v *Visibility) Copy() *Visibility {
	out := &Visibility{
		UVW:           append([]float64(nil), v.UVW...),
		Time:          append([]float64(nil), v.Time...),
		Antenna1:      append([]int(nil), v.Antenna1...),
		Antenna2:      append([]int(nil), v.Antenna2...),
		Vis:           append([]complex128(nil), v.Vis...),
		Weight:        append([]float64(nil), v.Weight...),
		ImagingWeight: append([]float64(nil), v.ImagingWeight...),
		Frequency:     append([]float64(nil), v.Frequency...),
		Phasecentre:   v.Phasecentre,
		Configuration: v.Configuration,
		npol:          v.npol,
	}
	return out
}

// CopyZero returns a deep copy with the visibility values set to zero,
// ready to receive a predicted model.
func (v *Visibility) CopyZero() *Visibility {
	out := v.Copy()
	out.ZeroVis()
	return out
}

// Select returns a new Visibility holding only the rows where mask is true,
// preserving row order. The result is a deep copy; mutating it never
// affects the source.
func (v *Visibility) Select(mask []bool) (*Visibility, error) {
	if len(mask) != v.Rows() {
		return nil, NewShapeError("visibility mask",
			fmt.Sprintf("len=%d", v.Rows()), fmt.Sprintf("len=%d", len(mask)))
	}
	nchan, npol := v.NChan(), v.npol
	stride := nchan * npol

	rows := 0
	for _, m := range mask {
		if m {
			rows++
		}
	}

	out := &Visibility{
		UVW:           make([]float64, 0, 3*rows),
		Time:          make([]float64, 0, rows),
		Antenna1:      make([]int, 0, rows),
		Antenna2:      make([]int, 0, rows),
		Vis:           make([]complex128, 0, rows*stride),
		Weight:        make([]float64, 0, rows*stride),
		ImagingWeight: make([]float64, 0, rows*stride),
		Frequency:     append([]float64(nil), v.Frequency...),
		Phasecentre:   v.Phasecentre,
		Configuration: v.Configuration,
		npol:          npol,
	}
	for row, m := range mask {
		if !m {
			continue
		}
		out.UVW = append(out.UVW, v.UVW[3*row:3*row+3]...)
		out.Time = append(out.Time, v.Time[row])
		out.Antenna1 = append(out.Antenna1, v.Antenna1[row])
		out.Antenna2 = append(out.Antenna2, v.Antenna2[row])
		out.Vis = append(out.Vis, v.Vis[row*stride:(row+1)*stride]...)
		out.Weight = append(out.Weight, v.Weight[row*stride:(row+1)*stride]...)
		out.ImagingWeight = append(out.ImagingWeight, v.ImagingWeight[row*stride:(row+1)*stride]...)
	}
	return out, nil
}

// Scatter writes the rows of a partition back into the receiver at the
// positions where mask is true, preserving the original row order. The
// partition must have been produced by Select with the same mask.
func (v *Visibility) Scatter(mask []bool, part *Visibility) error {
	if len(mask) != v.Rows() {
		return NewShapeError("scatter mask",
			fmt.Sprintf("len=%d", v.Rows()), fmt.Sprintf("len=%d", len(mask)))
	}
	if err := AssertSameChanPol("scatter", v, part); err != nil {
		return err
	}
	stride := v.NChan() * v.npol
	src := 0
	for row, m := range mask {
		if !m {
			continue
		}
		if src >= part.Rows() {
			return NewShapeError("scatter rows",
				fmt.Sprintf("at least %d partition rows", src+1),
				fmt.Sprintf("%d", part.Rows()))
		}
		copy(v.Vis[row*stride:(row+1)*stride], part.Vis[src*stride:(src+1)*stride])
		src++
	}
	if src != part.Rows() {
		return NewShapeError("scatter rows",
			fmt.Sprintf("%d masked rows", src), fmt.Sprintf("%d partition rows", part.Rows()))
	}
	return nil
}

// EqualShape reports whether two datasets have identical row, channel and
// polarisation counts.
func (v *Visibility) EqualShape(o *Visibility) bool {
	return v.Rows() == o.Rows() && v.NChan() == o.NChan() && v.npol == o.npol
}

// TimeRange returns the minimum and maximum timestamps. Zero rows give
// (0, 0, false).
func (v *Visibility) TimeRange() (float64, float64, bool) {
	if len(v.Time) == 0 {
		return 0, 0, false
	}
	lo, hi := v.Time[0], v.Time[0]
	for _, t := range v.Time[1:] {
		lo = math.Min(lo, t)
		hi = math.Max(hi, t)
	}
	return lo, hi, true
}
