// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package main

import (
	"fmt"
	"math"

	"github.com/AleutianAI/AleutianSynth/services/synth/data"
)

// simulateObservation builds a deterministic snapshot-series observation:
// stations on a circle, all baselines, uvw tracked across hour angles by
// earth rotation. Single channel, single polarisation, unit weights.
func simulateObservation(nants, ntimes int) (*data.Visibility, error) {
	if nants < 2 || ntimes < 1 {
		return nil, fmt.Errorf("simulation needs at least 2 antennas and 1 time, got %d/%d", nants, ntimes)
	}

	const radius = 300.0 // metres
	names := make([]string, nants)
	xyz := make([]float64, 3*nants)
	for a := 0; a < nants; a++ {
		theta := 2 * math.Pi * float64(a) / float64(nants)
		names[a] = fmt.Sprintf("ST%03d", a)
		xyz[3*a] = radius * math.Cos(theta)
		xyz[3*a+1] = radius * math.Sin(theta)
		xyz[3*a+2] = 0
	}
	cfg := &data.Configuration{Name: "RING", Names: names, XYZ: xyz, Mount: "altaz"}

	phasecentre := data.Direction{RA: 0, Dec: -math.Pi / 4}
	nbl := nants * (nants - 1) / 2
	rows := ntimes * nbl

	uvw := make([]float64, 3*rows)
	times := make([]float64, rows)
	ant1 := make([]int, rows)
	ant2 := make([]int, rows)

	sinDec, cosDec := math.Sin(phasecentre.Dec), math.Cos(phasecentre.Dec)
	row := 0
	for t := 0; t < ntimes; t++ {
		// One hour of tracking, centred on transit.
		ha := (float64(t)/float64(ntimes) - 0.5) * math.Pi / 12
		sinHA, cosHA := math.Sin(ha), math.Cos(ha)
		for a1 := 0; a1 < nants; a1++ {
			for a2 := a1 + 1; a2 < nants; a2++ {
				dx := xyz[3*a2] - xyz[3*a1]
				dy := xyz[3*a2+1] - xyz[3*a1+1]
				dz := xyz[3*a2+2] - xyz[3*a1+2]

				uvw[3*row] = dx*cosHA + dy*sinHA
				uvw[3*row+1] = -dx*sinHA*sinDec + dy*cosHA*sinDec + dz*cosDec
				uvw[3*row+2] = dx*sinHA*cosDec - dy*cosHA*cosDec + dz*sinDec
				times[row] = float64(t) * 30.0
				ant1[row] = a1
				ant2[row] = a2
				row++
			}
		}
	}

	frequency := []float64{1.0e8}
	vis := make([]complex128, rows)
	weight := make([]float64, rows)
	for i := range weight {
		weight[i] = 1.0
	}

	obs, err := data.NewVisibility(frequency, phasecentre, uvw, times, ant1, ant2, vis, weight, 1)
	if err != nil {
		return nil, err
	}
	obs.Configuration = cfg
	return obs, nil
}

// simulateSky returns a few point components around the phase centre, one
// per calibration direction.
func simulateSky(vis *data.Visibility) ([]*data.Skycomponent, error) {
	offsets := []struct {
		name     string
		dra, dde float64
		flux     float64
	}{
		{"CENTRE", 0, 0, 10.0},
		{"NE", 0.002, 0.002, 4.0},
		{"SW", -0.003, -0.001, 2.0},
	}

	comps := make([]*data.Skycomponent, 0, len(offsets))
	for _, o := range offsets {
		dir := data.Direction{RA: vis.Phasecentre.RA + o.dra, Dec: vis.Phasecentre.Dec + o.dde}
		flux := make([]float64, vis.NChan()*vis.NPol())
		for i := range flux {
			flux[i] = o.flux
		}
		sc, err := data.NewSkycomponent(o.name, dir, vis.Frequency, flux, vis.NPol(), data.ShapePoint)
		if err != nil {
			return nil, err
		}
		comps = append(comps, sc)
	}
	return comps, nil
}
