// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package imaging

import (
	"math"
	"math/cmplx"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
)

// phaseTerm returns 2π(u·l + v·m + w·(√(1−l²−m²)−1)) for one row/channel
// and one sky position. Predict applies exp(-i·phase), invert applies the
// adjoint exp(+i·phase).
func phaseTerm(vis *data.Visibility, row, chn int, l, m float64) float64 {
	u, v, w := vis.UVWLambda(row, chn)
	n2 := 1 - l*l - m*m
	nm1 := 0.0
	if n2 > 0 {
		nm1 = math.Sqrt(n2) - 1
	}
	return 2 * math.Pi * (u*l + v*m + w*nm1)
}

// Phasor returns the predict-direction kernel exp(-i·phase) for one row
// and channel toward sky position (l, m). Calibration solves use it to
// project data onto a component without a full predict.
func Phasor(vis *data.Visibility, row, chn int, l, m float64) complex128 {
	return cmplx.Exp(complex(0, -phaseTerm(vis, row, chn, l, m)))
}

// PredictDFT is the reference Predictor: a direct Fourier sum over every
// non-zero pixel of the model image. Exact for any pixel grid, O(rows ×
// pixels), intended for tests and small fields.
func PredictDFT(vis *data.Visibility, model *data.Image) (*data.Visibility, error) {
	if err := CheckShapes(vis, model); err != nil {
		return nil, err
	}
	out := vis.CopyZero()

	for y := 0; y < model.NY(); y++ {
		for x := 0; x < model.NX(); x++ {
			l, m := model.LM(y, x)
			lit := false
			for chn := 0; chn < model.NChan() && !lit; chn++ {
				for pol := 0; pol < model.NPol(); pol++ {
					if model.At(chn, pol, y, x) != 0 {
						lit = true
						break
					}
				}
			}
			if !lit {
				continue
			}
			for row := 0; row < out.Rows(); row++ {
				for chn := 0; chn < out.NChan(); chn++ {
					k := cmplx.Exp(complex(0, -phaseTerm(out, row, chn, l, m)))
					for pol := 0; pol < out.NPol(); pol++ {
						flux := model.At(chn, pol, y, x)
						if flux == 0 {
							continue
						}
						out.AddVis(row, chn, pol, complex(flux, 0)*k)
					}
				}
			}
		}
	}
	return out, nil
}

// InvertDFT is the reference Inverter: the weighted adjoint of PredictDFT.
// Returns the normalized dirty image (or PSF when dopsf) and the per
// (channel, polarisation) sum of imaging weights.
func InvertDFT(vis *data.Visibility, template *data.Image, dopsf bool) (*data.Image, []float64, error) {
	if err := CheckShapes(vis, template); err != nil {
		return nil, nil, err
	}
	im := template.EmptyLike()
	sumwt := make([]float64, im.NChan()*im.NPol())

	for row := 0; row < vis.Rows(); row++ {
		for chn := 0; chn < vis.NChan(); chn++ {
			for pol := 0; pol < vis.NPol(); pol++ {
				sumwt[chn*im.NPol()+pol] += vis.ImagingWeight[(row*vis.NChan()+chn)*vis.NPol()+pol]
			}
		}
	}

	for y := 0; y < im.NY(); y++ {
		for x := 0; x < im.NX(); x++ {
			l, m := im.LM(y, x)
			for row := 0; row < vis.Rows(); row++ {
				for chn := 0; chn < vis.NChan(); chn++ {
					k := cmplx.Exp(complex(0, phaseTerm(vis, row, chn, l, m)))
					for pol := 0; pol < vis.NPol(); pol++ {
						wt := vis.ImagingWeight[(row*vis.NChan()+chn)*vis.NPol()+pol]
						if wt == 0 {
							continue
						}
						v := vis.VisAt(row, chn, pol)
						if dopsf {
							v = 1
						}
						im.Add(chn, pol, y, x, wt*real(v*k))
					}
				}
			}
		}
	}

	if err := NormalizeSumWeight(im, sumwt); err != nil {
		return nil, nil, err
	}
	return im, sumwt, nil
}

// PredictComponents adds the point-component contributions of a list of
// sky components to a zeroed copy of the dataset.
func PredictComponents(vis *data.Visibility, comps []*data.Skycomponent) (*data.Visibility, error) {
	out := vis.CopyZero()
	for _, sc := range comps {
		if err := data.AssertSameChanPol("visibility vs component", vis, sc); err != nil {
			return nil, err
		}
		l, m := sc.Direction.LM(vis.Phasecentre)
		for row := 0; row < out.Rows(); row++ {
			for chn := 0; chn < out.NChan(); chn++ {
				k := cmplx.Exp(complex(0, -phaseTerm(out, row, chn, l, m)))
				for pol := 0; pol < out.NPol(); pol++ {
					out.AddVis(row, chn, pol, complex(sc.FluxAt(chn, pol), 0)*k)
				}
			}
		}
	}
	return out, nil
}

// PredictSkyModel predicts the visibility of a full sky model: its
// components via the point-source sum and its images via the supplied
// Predictor (nil falls back to PredictDFT).
func PredictSkyModel(vis *data.Visibility, sm *data.SkyModel, predict Predictor) (*data.Visibility, error) {
	if predict == nil {
		predict = PredictDFT
	}
	out, err := PredictComponents(vis, sm.Components)
	if err != nil {
		return nil, err
	}
	for _, im := range sm.Images {
		part, err := predict(vis, im)
		if err != nil {
			return nil, err
		}
		for i, v := range part.Vis {
			out.Vis[i] += v
		}
	}
	return out, nil
}
