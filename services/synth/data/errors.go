// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package data

import (
	"errors"
	"fmt"
)

// ErrShapeMismatch indicates a dimension or count mismatch between two
// entities that must agree (dataset vs model image, component frequency vs
// flux, row columns of differing length). Shape problems are detected
// eagerly at construction or composition time, never deferred to execution.
var ErrShapeMismatch = errors.New("shape mismatch")

// ShapeError carries the two shapes that failed to agree.
type ShapeError struct {
	Context string
	Want    string
	Got     string
}

func (e *ShapeError) Error() string {
	return fmt.Sprintf("shape mismatch in %s: want %s, got %s", e.Context, e.Want, e.Got)
}

func (e *ShapeError) Unwrap() error {
	return ErrShapeMismatch
}

// NewShapeError builds a ShapeError. Want and got are human-readable shape
// descriptions, e.g. "[rows=12 nchan=3 npol=1]".
func NewShapeError(context, want, got string) *ShapeError {
	return &ShapeError{Context: context, Want: want, Got: got}
}

// ChanPol is satisfied by every entity indexed over channels and
// polarisations (Visibility, Image, Skycomponent, GainTable).
type ChanPol interface {
	NChan() int
	NPol() int
}

// AssertSameChanPol checks that two entities agree on channel and
// polarisation counts.
func AssertSameChanPol(context string, a, b ChanPol) error {
	if a.NChan() != b.NChan() || a.NPol() != b.NPol() {
		return NewShapeError(context,
			fmt.Sprintf("nchan=%d npol=%d", a.NChan(), a.NPol()),
			fmt.Sprintf("nchan=%d npol=%d", b.NChan(), b.NPol()))
	}
	return nil
}
