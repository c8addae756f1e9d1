// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package data

import "fmt"

// Geometry maps image pixels onto the sky. It plays the role of a
// coordinate-system descriptor: the reference pixel sits at the phase
// centre and pixel offsets scale by Cellsize into direction cosines.
type Geometry struct {
	Cellsize    float64 // radians per pixel
	RefX        float64 // reference pixel, x (right ascension axis)
	RefY        float64 // reference pixel, y (declination axis)
	Phasecentre Direction
	Frequency   []float64 // per-channel frequency, Hz
}

// Image is a 4-axis array over [frequency, polarisation, declination,
// right ascension] plus its Geometry. Channel/polarisation/pixel counts are
// derived from the shape, never stored separately.
type Image struct {
	Data  []float64
	Shape [4]int // [nchan, npol, ny, nx]
	Geom  Geometry
}

// NewImage allocates a zeroed image and validates the geometry against the
// shape.
func NewImage(shape [4]int, geom Geometry) (*Image, error) {
	for i, n := range shape {
		if n < 1 {
			return nil, NewShapeError("image", "all axes >= 1",
				fmt.Sprintf("axis %d = %d", i, n))
		}
	}
	if len(geom.Frequency) != shape[0] {
		return nil, NewShapeError("image frequency",
			fmt.Sprintf("len=%d", shape[0]), fmt.Sprintf("len=%d", len(geom.Frequency)))
	}
	return &Image{
		Data:  make([]float64, shape[0]*shape[1]*shape[2]*shape[3]),
		Shape: shape,
		Geom:  geom,
	}, nil
}

// NChan returns the number of frequency channels.
func (im *Image) NChan() int { return im.Shape[0] }

// NPol returns the number of polarisations.
func (im *Image) NPol() int { return im.Shape[1] }

// NY returns the pixel count on the declination axis.
func (im *Image) NY() int { return im.Shape[2] }

// NX returns the pixel count on the right ascension axis.
func (im *Image) NX() int { return im.Shape[3] }

// NPixel returns the pixel count on the right ascension axis, matching the
// usual convention for square canonical images.
func (im *Image) NPixel() int { return im.Shape[3] }

func (im *Image) index(chn, pol, y, x int) int {
	return ((chn*im.Shape[1]+pol)*im.Shape[2]+y)*im.Shape[3] + x
}

// At returns the pixel value at (channel, polarisation, y, x).
func (im *Image) At(chn, pol, y, x int) float64 {
	return im.Data[im.index(chn, pol, y, x)]
}

// Set stores a pixel value. Private copies only.
func (im *Image) Set(chn, pol, y, x int, value float64) {
	im.Data[im.index(chn, pol, y, x)] = value
}

// Add accumulates into a pixel. Private copies only.
func (im *Image) Add(chn, pol, y, x int, value float64) {
	im.Data[im.index(chn, pol, y, x)] += value
}

// LM returns the direction cosines of the centre of pixel (y, x).
func (im *Image) LM(y, x int) (float64, float64) {
	l := (float64(x) - im.Geom.RefX) * im.Geom.Cellsize
	m := (float64(y) - im.Geom.RefY) * im.Geom.Cellsize
	return l, m
}

// Copy returns a deep copy of the image.
func (im *Image) Copy() *Image {
	geom := im.Geom
	geom.Frequency = append([]float64(nil), im.Geom.Frequency...)
	return &Image{
		Data:  append([]float64(nil), im.Data...),
		Shape: im.Shape,
		Geom:  geom,
	}
}

// EmptyLike returns a zeroed image with the same shape and geometry.
func (im *Image) EmptyLike() *Image {
	out := im.Copy()
	for i := range out.Data {
		out.Data[i] = 0
	}
	return out
}

// EqualShape reports whether two images have identical shapes.
func (im *Image) EqualShape(o *Image) bool {
	return im.Shape == o.Shape
}

// Facet extracts facet i of an n-by-n spatial tiling as an independent
// image with adjusted geometry. Facets are indexed row-major: i = fy*n+fx.
// Both pixel axes must divide evenly by n.
func (im *Image) Facet(i, n int) (*Image, error) {
	if n < 1 {
		return nil, NewShapeError("facet", "n >= 1", fmt.Sprintf("n=%d", n))
	}
	if i < 0 || i >= n*n {
		return nil, NewShapeError("facet",
			fmt.Sprintf("0 <= i < %d", n*n), fmt.Sprintf("i=%d", i))
	}
	if im.NY()%n != 0 || im.NX()%n != 0 {
		return nil, NewShapeError("facet",
			fmt.Sprintf("pixel axes divisible by %d", n),
			fmt.Sprintf("ny=%d nx=%d", im.NY(), im.NX()))
	}
	fy, fx := i/n, i%n
	fh, fw := im.NY()/n, im.NX()/n
	oy, ox := fy*fh, fx*fw

	geom := im.Geom
	geom.Frequency = append([]float64(nil), im.Geom.Frequency...)
	geom.RefX = im.Geom.RefX - float64(ox)
	geom.RefY = im.Geom.RefY - float64(oy)

	out := &Image{
		Data:  make([]float64, im.NChan()*im.NPol()*fh*fw),
		Shape: [4]int{im.NChan(), im.NPol(), fh, fw},
		Geom:  geom,
	}
	for chn := 0; chn < im.NChan(); chn++ {
		for pol := 0; pol < im.NPol(); pol++ {
			for y := 0; y < fh; y++ {
				for x := 0; x < fw; x++ {
					out.Set(chn, pol, y, x, im.At(chn, pol, oy+y, ox+x))
				}
			}
		}
	}
	return out, nil
}

// Facets extracts all n*n facets in row-major order.
func (im *Image) Facets(n int) ([]*Image, error) {
	out := make([]*Image, 0, n*n)
	for i := 0; i < n*n; i++ {
		f, err := im.Facet(i, n)
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
	return out, nil
}

// PlaceFacet writes a facet back into its non-overlapping tile. The facet
// must have the shape produced by Facet(i, n) on this image.
func (im *Image) PlaceFacet(facet *Image, i, n int) error {
	if n < 1 || i < 0 || i >= n*n {
		return NewShapeError("place facet",
			fmt.Sprintf("0 <= i < %d, n >= 1", n*n), fmt.Sprintf("i=%d n=%d", i, n))
	}
	fh, fw := im.NY()/n, im.NX()/n
	if facet.NY() != fh || facet.NX() != fw ||
		facet.NChan() != im.NChan() || facet.NPol() != im.NPol() {
		return NewShapeError("place facet",
			fmt.Sprintf("[%d %d %d %d]", im.NChan(), im.NPol(), fh, fw),
			fmt.Sprintf("%v", facet.Shape))
	}
	fy, fx := i/n, i%n
	oy, ox := fy*fh, fx*fw
	for chn := 0; chn < im.NChan(); chn++ {
		for pol := 0; pol < im.NPol(); pol++ {
			for y := 0; y < fh; y++ {
				for x := 0; x < fw; x++ {
					im.Set(chn, pol, oy+y, ox+x, facet.At(chn, pol, y, x))
				}
			}
		}
	}
	return nil
}
