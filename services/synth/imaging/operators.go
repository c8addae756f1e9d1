// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package imaging defines the numerical operator contracts the graph
// composer schedules, predict (model image to visibility) and invert
// (visibility to dirty image plus sum of weights), and supplies reference
// direct-Fourier implementations.
//
// Production gridding/degridding kernels are external collaborators that
// satisfy the same contracts; the reference operators exist so graphs are
// testable end to end without one.
package imaging

import (
	"fmt"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
)

// Predictor maps a model image to the visibilities it implies on the
// dataset's rows. Implementations must be side-effect-free: the input
// dataset defines rows/frequencies only and must not be mutated.
type Predictor func(vis *data.Visibility, model *data.Image) (*data.Visibility, error)

// Inverter maps a dataset partition to a (dirty image or PSF, sum of
// weights) pair on the template's pixel grid. Sumwt is indexed
// [nchan*npol] and accumulates commutatively and associatively.
type Inverter func(vis *data.Visibility, template *data.Image, dopsf bool) (*data.Image, []float64, error)

// CheckShapes validates a dataset against a model/template image before
// any node is scheduled. Composition fails eagerly on mismatch.
func CheckShapes(vis *data.Visibility, im *data.Image) error {
	return data.AssertSameChanPol("visibility vs image", vis, im)
}

// CreateImageFromVisibility builds an empty canonical image matching a
// dataset: its channels, polarisations and phase centre, with npixel
// pixels per spatial axis and the given cellsize in radians.
func CreateImageFromVisibility(vis *data.Visibility, npixel int, cellsize float64) (*data.Image, error) {
	if npixel < 1 || cellsize <= 0 {
		return nil, fmt.Errorf("invalid image parameters: npixel=%d cellsize=%g", npixel, cellsize)
	}
	geom := data.Geometry{
		Cellsize:    cellsize,
		RefX:        float64(npixel / 2),
		RefY:        float64(npixel / 2),
		Phasecentre: vis.Phasecentre,
		Frequency:   append([]float64(nil), vis.Frequency...),
	}
	return data.NewImage([4]int{vis.NChan(), vis.NPol(), npixel, npixel}, geom)
}

// NormalizeSumWeight divides each (channel, polarisation) plane of the
// image by its summed weight. Planes with zero weight are left untouched.
func NormalizeSumWeight(im *data.Image, sumwt []float64) error {
	if len(sumwt) != im.NChan()*im.NPol() {
		return data.NewShapeError("normalize sumwt",
			fmt.Sprintf("len=%d", im.NChan()*im.NPol()),
			fmt.Sprintf("len=%d", len(sumwt)))
	}
	for chn := 0; chn < im.NChan(); chn++ {
		for pol := 0; pol < im.NPol(); pol++ {
			wt := sumwt[chn*im.NPol()+pol]
			if wt == 0 {
				continue
			}
			for y := 0; y < im.NY(); y++ {
				for x := 0; x < im.NX(); x++ {
					im.Set(chn, pol, y, x, im.At(chn, pol, y, x)/wt)
				}
			}
		}
	}
	return nil
}
