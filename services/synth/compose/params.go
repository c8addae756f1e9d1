// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package compose

import (
	"fmt"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
	"github.com/AleutianAI/AleutianSynth/services/synth/partition"
)

// Context selects the decomposition strategy for one composition.
type Context string

const (
	// Context2D schedules a single operator application over the whole
	// dataset; the w term is assumed negligible (callers zero w).
	Context2D Context = "2d"

	// ContextTimeslice partitions rows along time.
	ContextTimeslice Context = "timeslice"

	// ContextWStack partitions rows along the w coordinate.
	ContextWStack Context = "wstack"

	// ContextFacets tiles the image spatially with no row partitioning.
	ContextFacets Context = "facets"

	// ContextFacetsTimeslice combines faceting with time partitioning.
	ContextFacetsTimeslice Context = "facets_timeslice"

	// ContextFacetsWStack combines faceting with w partitioning.
	ContextFacetsWStack Context = "facets_wstack"

	// ContextWProjection composes like Context2D; the w term is handled
	// inside the supplied w-aware operator pair rather than by
	// partitioning.
	ContextWProjection Context = "wprojection"
)

// Params configures one composition.
type Params struct {
	// Context selects the decomposition strategy. Empty means Context2D.
	Context Context

	// Facets is the spatial tiling count per axis. 1 disables faceting.
	Facets int

	// VisSlices is the number of row partitions along the context's axis.
	// 0 or 1 degenerates to the plain 2-D case.
	VisSlices int

	// Timeslice is the partition width in seconds, used by the timeslice
	// contexts when VisSlices is not set.
	Timeslice float64

	// WSlice is the partition width in w metres, used by the w-stack
	// contexts when VisSlices is not set.
	WSlice float64
}

// validate rejects bad parameter combinations before any node exists.
func (p Params) validate() error {
	if p.Facets < 1 {
		return &ConfigError{Param: "facets", Detail: fmt.Sprintf("must be >= 1, got %d", p.Facets)}
	}
	if p.VisSlices < 0 {
		return &ConfigError{Param: "vis_slices", Detail: fmt.Sprintf("must be >= 0, got %d", p.VisSlices)}
	}
	switch p.context() {
	case Context2D, ContextTimeslice, ContextWStack, ContextFacets,
		ContextFacetsTimeslice, ContextFacetsWStack, ContextWProjection:
	default:
		return &ConfigError{Param: "context", Detail: fmt.Sprintf("unknown context %q", p.Context)}
	}
	return nil
}

func (p Params) context() Context {
	if p.Context == "" {
		return Context2D
	}
	return p.Context
}

func (p Params) faceted() bool {
	switch p.context() {
	case ContextFacets, ContextFacetsTimeslice, ContextFacetsWStack:
		return p.Facets > 1
	}
	return false
}

// masks computes the row partitions for the context's axis. A nil return
// means a single partition over the whole dataset.
func (p Params) masks(vis *data.Visibility) [][]bool {
	slices := p.VisSlices
	if slices <= 1 && p.Timeslice <= 0 && p.WSlice <= 0 {
		return nil
	}

	switch p.context() {
	case ContextTimeslice, ContextFacetsTimeslice:
		width := p.Timeslice
		if slices > 1 {
			lo, hi, ok := vis.TimeRange()
			if !ok {
				return nil
			}
			width = (hi - lo) / float64(slices)
		}
		if width <= 0 {
			return nil
		}
		return partition.NewTimeIterator(vis, width).Masks()

	case ContextWStack, ContextFacetsWStack:
		width := p.WSlice
		if slices > 1 {
			lo, hi := wRange(vis)
			width = (hi - lo) / float64(slices)
		}
		if width <= 0 {
			return nil
		}
		return partition.NewWIterator(vis, width).Masks()
	}
	return nil
}

func wRange(vis *data.Visibility) (float64, float64) {
	if vis.Rows() == 0 {
		return 0, 0
	}
	lo, hi := vis.W(0), vis.W(0)
	for row := 1; row < vis.Rows(); row++ {
		w := vis.W(row)
		if w < lo {
			lo = w
		}
		if w > hi {
			hi = w
		}
	}
	return lo, hi
}
