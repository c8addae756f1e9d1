// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package data

import (
	"errors"
	"math"
	"testing"
)

// testVisibility builds a 4-row, 2-channel, 1-pol dataset with
// recognizable values.
func testVisibility(t *testing.T) *Visibility {
	t.Helper()
	rows := 4
	uvw := make([]float64, 3*rows)
	times := []float64{0, 10, 20, 30}
	a1 := []int{0, 0, 1, 0}
	a2 := []int{1, 2, 2, 1}
	vis := make([]complex128, rows*2)
	weight := make([]float64, rows*2)
	for i := range vis {
		vis[i] = complex(float64(i), -float64(i))
		weight[i] = 1
	}
	for i := range uvw {
		uvw[i] = float64(i + 1)
	}
	v, err := NewVisibility([]float64{1e8, 1.5e8}, Direction{RA: 0, Dec: -0.7}, uvw, times, a1, a2, vis, weight, 1)
	if err != nil {
		t.Fatalf("NewVisibility: %v", err)
	}
	return v
}

func TestNewVisibilityShapeValidation(t *testing.T) {
	times := []float64{0, 1}
	uvw := make([]float64, 6)
	ants := []int{0, 1}
	vis := make([]complex128, 2)
	weight := make([]float64, 2)

	cases := []struct {
		name string
		call func() error
	}{
		{"short uvw", func() error {
			_, err := NewVisibility([]float64{1e8}, Direction{}, uvw[:3], times, ants, ants, vis, weight, 1)
			return err
		}},
		{"antenna length", func() error {
			_, err := NewVisibility([]float64{1e8}, Direction{}, uvw, times, ants[:1], ants, vis, weight, 1)
			return err
		}},
		{"vis length", func() error {
			_, err := NewVisibility([]float64{1e8}, Direction{}, uvw, times, ants, ants, vis[:1], weight, 1)
			return err
		}},
		{"weight length", func() error {
			_, err := NewVisibility([]float64{1e8}, Direction{}, uvw, times, ants, ants, vis, weight[:1], 1)
			return err
		}},
		{"no channels", func() error {
			_, err := NewVisibility(nil, Direction{}, uvw, times, ants, ants, vis, weight, 1)
			return err
		}},
		{"bad npol", func() error {
			_, err := NewVisibility([]float64{1e8}, Direction{}, uvw, times, ants, ants, vis, weight, 0)
			return err
		}},
	}
	for _, tc := range cases {
		if err := tc.call(); !errors.Is(err, ErrShapeMismatch) {
			t.Errorf("%s: got %v, want ErrShapeMismatch", tc.name, err)
		}
	}
}

func TestUVWLambdaScaling(t *testing.T) {
	v := testVisibility(t)
	u, _, _ := v.UVWLambda(0, 0)
	want := v.U(0) * v.Frequency[0] / SpeedOfLight
	if math.Abs(u-want) > 1e-12 {
		t.Fatalf("u=%g, want %g", u, want)
	}
}

func TestDirectionLMAtCentre(t *testing.T) {
	centre := Direction{RA: 1.2, Dec: -0.3}
	l, m := centre.LM(centre)
	if math.Abs(l) > 1e-15 || math.Abs(m) > 1e-15 {
		t.Fatalf("phase centre must map to (0,0), got (%g,%g)", l, m)
	}

	off := Direction{RA: centre.RA + 1e-3, Dec: centre.Dec}
	l, m = off.LM(centre)
	if l <= 0 {
		t.Fatalf("positive RA offset must give positive l, got %g", l)
	}
	if math.Abs(m) > 1e-6 {
		t.Fatalf("pure RA offset gave m=%g", m)
	}
}

func TestSelectScatterRoundTrip(t *testing.T) {
	v := testVisibility(t)
	mask := []bool{true, false, true, false}

	part, err := v.Select(mask)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if part.Rows() != 2 {
		t.Fatalf("got %d rows, want 2", part.Rows())
	}
	if part.Time[1] != v.Time[2] {
		t.Fatalf("row order not preserved: %g", part.Time[1])
	}

	// Mutating the partition must not touch the source.
	orig := v.VisAt(0, 0, 0)
	part.SetVis(0, 0, 0, 99)
	if v.VisAt(0, 0, 0) != orig {
		t.Fatal("partition shares storage with the source")
	}

	dest := v.CopyZero()
	if err := dest.Scatter(mask, part); err != nil {
		t.Fatalf("Scatter: %v", err)
	}
	if dest.VisAt(0, 0, 0) != 99 {
		t.Fatalf("scattered value missing: %v", dest.VisAt(0, 0, 0))
	}
	if dest.VisAt(1, 0, 0) != 0 {
		t.Fatal("unmasked row was overwritten")
	}
}

func TestScatterRowCountMismatch(t *testing.T) {
	v := testVisibility(t)
	part, err := v.Select([]bool{true, false, false, false})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	err = v.Copy().Scatter([]bool{true, true, false, false}, part)
	if !errors.Is(err, ErrShapeMismatch) {
		t.Fatalf("got %v, want ErrShapeMismatch", err)
	}
}

func TestCopyIsDeep(t *testing.T) {
	v := testVisibility(t)
	c := v.Copy()
	c.SetVis(0, 0, 0, 42)
	c.Time[0] = -1
	if v.VisAt(0, 0, 0) == 42 || v.Time[0] == -1 {
		t.Fatal("Copy shares storage")
	}
}

func TestTimeRange(t *testing.T) {
	v := testVisibility(t)
	lo, hi, ok := v.TimeRange()
	if !ok || lo != 0 || hi != 30 {
		t.Fatalf("got (%g,%g,%v), want (0,30,true)", lo, hi, ok)
	}
}
