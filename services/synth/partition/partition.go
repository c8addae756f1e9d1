// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package partition slices a visibility dataset into independent row
// subsets along one independent variable (time, w coordinate, or any other
// per-row column).
//
// The partitioning state is an explicit value driven by a pure Advance
// function, so a sequence of masks is restartable and free of hidden
// mutation. Iterators copy their column at construction: mutating the
// source dataset after an iterator exists never changes the masks it
// emits.
package partition

import (
	"math"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
)

// State is the cursor of one partition run. Windows are half-open
// [Cursor-Width/2, Cursor+Width/2) and the cursor advances by exactly one
// width per step, so consecutive windows never overlap.
type State struct {
	Start  float64
	Stop   float64
	Cursor float64
	Width  float64
}

// NewState positions a cursor at the minimum of the column. A non-positive
// width or an empty column yields an immediately exhausted state.
func NewState(column []float64, width float64) State {
	if len(column) == 0 || width <= 0 {
		return State{}
	}
	lo, hi := column[0], column[0]
	for _, v := range column[1:] {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return State{Start: lo, Stop: hi, Cursor: lo, Width: width}
}

// Advance produces the next non-empty selection mask.
//
// Description:
//
//	Selects rows with column value in [cursor-width/2, cursor+width/2).
//	Empty selections advance the cursor without yielding. When the cursor
//	reaches the end of the column's range before a non-empty selection is
//	found, the sequence terminates cleanly (ok=false): exhaustion is
//	end-of-iteration, not an error.
//
// Outputs:
//
//	mask - Boolean row selection, nil when ok is false.
//	next - State to pass to the following Advance call.
//	ok - False once the sequence is exhausted.
func Advance(column []float64, s State) (mask []bool, next State, ok bool) {
	if s.Width <= 0 {
		return nil, s, false
	}
	// Keep stepping while the window's lower edge is at or below the
	// column maximum. The edge is inclusive: when the range divides into a
	// half-integer number of widths the last row lands exactly on a lower
	// edge, and that window must still be emitted.
	for s.Cursor-s.Width/2 <= s.Stop {
		lo := s.Cursor - s.Width/2
		hi := s.Cursor + s.Width/2
		s.Cursor += s.Width

		rows := 0
		m := make([]bool, len(column))
		for i, v := range column {
			if v >= lo && v < hi {
				m[i] = true
				rows++
			}
		}
		if rows > 0 {
			return m, s, true
		}
	}
	return nil, s, false
}

// Iterator is a lazy, restartable sequence of row-selection masks over one
// column of a dataset.
type Iterator struct {
	column []float64
	init   State
	state  State
}

// NewColumnIterator builds an iterator over a private copy of an arbitrary
// per-row column.
func NewColumnIterator(column []float64, width float64) *Iterator {
	own := append([]float64(nil), column...)
	s := NewState(own, width)
	return &Iterator{column: own, init: s, state: s}
}

// NewTimeIterator partitions a dataset along its timestamps with windows of
// timeslice seconds.
func NewTimeIterator(vis *data.Visibility, timeslice float64) *Iterator {
	return NewColumnIterator(vis.Time, timeslice)
}

// NewWIterator partitions a dataset along the w baseline coordinate with
// windows of wslice metres. Used for w-stacking.
func NewWIterator(vis *data.Visibility, wslice float64) *Iterator {
	w := make([]float64, vis.Rows())
	for row := range w {
		w[row] = vis.W(row)
	}
	return NewColumnIterator(w, wslice)
}

// Next returns the next non-empty mask, or ok=false once exhausted.
// Calling Next after exhaustion keeps returning ok=false.
func (it *Iterator) Next() ([]bool, bool) {
	mask, next, ok := Advance(it.column, it.state)
	it.state = next
	return mask, ok
}

// Reset restarts the sequence from its construction state.
func (it *Iterator) Reset() {
	it.state = it.init
}

// Masks drains the iterator and returns every mask in order. The iterator
// is reset first, so Masks is safe to call on a partially consumed
// iterator, and reset again afterwards.
func (it *Iterator) Masks() [][]bool {
	it.Reset()
	var out [][]bool
	for {
		m, ok := it.Next()
		if !ok {
			break
		}
		out = append(out, m)
	}
	it.Reset()
	return out
}
