// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package data

import "fmt"

// Component shape tags. Parameters for non-point shapes live in
// Skycomponent.Params.
const (
	ShapePoint    = "Point"
	ShapeGaussian = "Gaussian"
)

// Skycomponent is a single parameterized sky source.
//
// Flux is a flat [nchan, npol] array whose leading dimension must match
// Frequency. The invariants are enforced at construction so that a bad
// component can never enter a graph.
type Skycomponent struct {
	Name      string
	Direction Direction
	Frequency []float64 // [nchan]
	Flux      []float64 // [nchan*npol]
	Shape     string
	Params    map[string]float64

	npol int
}

// NewSkycomponent constructs a component and validates the flux shape.
func NewSkycomponent(name string, direction Direction, frequency, flux []float64, npol int, shape string) (*Skycomponent, error) {
	if npol < 1 {
		return nil, NewShapeError("skycomponent", "npol >= 1", fmt.Sprintf("npol=%d", npol))
	}
	if len(frequency) < 1 {
		return nil, NewShapeError("skycomponent", "nchan >= 1", "empty frequency")
	}
	if len(flux) != len(frequency)*npol {
		return nil, NewShapeError("skycomponent flux",
			fmt.Sprintf("len=%d (nchan=%d npol=%d)", len(frequency)*npol, len(frequency), npol),
			fmt.Sprintf("len=%d", len(flux)))
	}
	if shape == "" {
		shape = ShapePoint
	}
	return &Skycomponent{
		Name:      name,
		Direction: direction,
		Frequency: frequency,
		Flux:      flux,
		Shape:     shape,
		Params:    map[string]float64{},
		npol:      npol,
	}, nil
}

// NChan returns the number of frequency channels.
func (sc *Skycomponent) NChan() int { return len(sc.Frequency) }

// NPol returns the number of polarisations.
func (sc *Skycomponent) NPol() int { return sc.npol }

// FluxAt returns the flux at (channel, polarisation).
func (sc *Skycomponent) FluxAt(chn, pol int) float64 {
	return sc.Flux[chn*sc.npol+pol]
}

// SetFlux stores a flux value. Private copies only.
func (sc *Skycomponent) SetFlux(chn, pol int, value float64) {
	sc.Flux[chn*sc.npol+pol] = value
}

// Copy returns a deep copy of the component.
func (sc *Skycomponent) Copy() *Skycomponent {
	params := make(map[string]float64, len(sc.Params))
	for k, v := range sc.Params {
		params[k] = v
	}
	return &Skycomponent{
		Name:      sc.Name,
		Direction: sc.Direction,
		Frequency: append([]float64(nil), sc.Frequency...),
		Flux:      append([]float64(nil), sc.Flux...),
		Shape:     sc.Shape,
		Params:    params,
		npol:      sc.npol,
	}
}

// SkyModel is a list of sky images plus a list of components.
type SkyModel struct {
	Images     []*Image
	Components []*Skycomponent
}

// Copy returns a deep copy of the sky model.
func (sm *SkyModel) Copy() *SkyModel {
	out := &SkyModel{
		Images:     make([]*Image, 0, len(sm.Images)),
		Components: make([]*Skycomponent, 0, len(sm.Components)),
	}
	for _, im := range sm.Images {
		out.Images = append(out.Images, im.Copy())
	}
	for _, sc := range sm.Components {
		out.Components = append(out.Components, sc.Copy())
	}
	return out
}

// CalSkyModel is one calibration window: a sky model paired with the gain
// table that corrects its direction. Windows are replaced wholesale each
// calibration cycle, never mutated in place, so that graph nodes stay
// side-effect-free across iterations.
type CalSkyModel struct {
	SkyModel  *SkyModel
	GainTable *GainTable
}

// Copy returns a deep copy of the window.
func (c *CalSkyModel) Copy() *CalSkyModel {
	return &CalSkyModel{
		SkyModel:  c.SkyModel.Copy(),
		GainTable: c.GainTable.Copy(),
	}
}
