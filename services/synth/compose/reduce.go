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
)

// InvertResult is one partition's (dirty image or PSF, sum of weights)
// pair.
type InvertResult struct {
	Image     *data.Image
	SumWeight []float64 // [nchan*npol]
}

// SumPredictResults sums per-facet or per-window predicted visibilities.
// All inputs must share the first dataset's shape; the result is a fresh
// copy, inputs are untouched.
func SumPredictResults(parts []*data.Visibility) (*data.Visibility, error) {
	if len(parts) == 0 {
		return nil, data.NewShapeError("sum predict results", "at least one input", "none")
	}
	out := parts[0].Copy()
	for _, p := range parts[1:] {
		if !out.EqualShape(p) {
			return nil, data.NewShapeError("sum predict results",
				fmt.Sprintf("rows=%d nchan=%d npol=%d", out.Rows(), out.NChan(), out.NPol()),
				fmt.Sprintf("rows=%d nchan=%d npol=%d", p.Rows(), p.NChan(), p.NPol()))
		}
		for i, v := range p.Vis {
			out.Vis[i] += v
		}
	}
	return out, nil
}

// SumInvertResults combines normalized per-partition images by weighted
// summation: sum(image*sumwt)/sum(sumwt) per (channel, polarisation)
// plane, with the summed weights returned alongside. Accumulation is
// commutative and associative, so partition order never changes the result
// beyond floating-point summation tolerance.
func SumInvertResults(parts []InvertResult) (*data.Image, []float64, error) {
	if len(parts) == 0 {
		return nil, nil, data.NewShapeError("sum invert results", "at least one input", "none")
	}
	first := parts[0].Image
	npol := first.NPol()
	out := first.EmptyLike()
	sumwt := make([]float64, first.NChan()*npol)

	for _, part := range parts {
		if !first.EqualShape(part.Image) {
			return nil, nil, data.NewShapeError("sum invert results",
				fmt.Sprintf("%v", first.Shape), fmt.Sprintf("%v", part.Image.Shape))
		}
		if len(part.SumWeight) != len(sumwt) {
			return nil, nil, data.NewShapeError("sum invert weights",
				fmt.Sprintf("len=%d", len(sumwt)), fmt.Sprintf("len=%d", len(part.SumWeight)))
		}
		for chn := 0; chn < first.NChan(); chn++ {
			for pol := 0; pol < npol; pol++ {
				wt := part.SumWeight[chn*npol+pol]
				sumwt[chn*npol+pol] += wt
				if wt == 0 {
					continue
				}
				for y := 0; y < first.NY(); y++ {
					for x := 0; x < first.NX(); x++ {
						out.Add(chn, pol, y, x, wt*part.Image.At(chn, pol, y, x))
					}
				}
			}
		}
	}

	for chn := 0; chn < first.NChan(); chn++ {
		for pol := 0; pol < npol; pol++ {
			wt := sumwt[chn*npol+pol]
			if wt == 0 {
				continue
			}
			for y := 0; y < first.NY(); y++ {
				for x := 0; x < first.NX(); x++ {
					out.Set(chn, pol, y, x, out.At(chn, pol, y, x)/wt)
				}
			}
		}
	}
	return out, sumwt, nil
}

// assembleFacets places per-facet images into their non-overlapping tiles
// of a full-size image. The facet sum of weights is shared: every facet of
// a partition sees the same rows, so the first facet's weights stand for
// the assembled image.
func assembleFacets(template *data.Image, facets []InvertResult, n int) (*data.Image, []float64, error) {
	if len(facets) != n*n {
		return nil, nil, data.NewShapeError("assemble facets",
			fmt.Sprintf("%d facets", n*n), fmt.Sprintf("%d", len(facets)))
	}
	out := template.EmptyLike()
	for i, f := range facets {
		if err := out.PlaceFacet(f.Image, i, n); err != nil {
			return nil, nil, err
		}
	}
	sumwt := append([]float64(nil), facets[0].SumWeight...)
	return out, sumwt, nil
}

// subtractVisibility returns observed - predicted as a fresh dataset.
func subtractVisibility(observed, predicted *data.Visibility) (*data.Visibility, error) {
	if !observed.EqualShape(predicted) {
		return nil, data.NewShapeError("subtract visibility",
			fmt.Sprintf("rows=%d nchan=%d npol=%d", observed.Rows(), observed.NChan(), observed.NPol()),
			fmt.Sprintf("rows=%d nchan=%d npol=%d", predicted.Rows(), predicted.NChan(), predicted.NPol()))
	}
	out := observed.Copy()
	for i, v := range predicted.Vis {
		out.Vis[i] -= v
	}
	return out, nil
}
