// Package materialize maps headers into the axis conventions of image
// toolkits and builds images, with or without voxel data, that carry the
// corrected geometry.
package materialize

import (
	"fmt"

	"gonum.org/v1/gonum/spatial/r3"

	"zarrdomain/pkg/header"
)

// Convention is the axis order a toolkit expects
type Convention int

const (
	// RowMajor keeps the array axis order (slowest axis first)
	RowMajor Convention = iota
	// ColumnMajor reverses it (fastest axis first), as ITK does
	ColumnMajor
)

func (c Convention) String() string {
	if c == ColumnMajor {
		return "column-major"
	}
	return "row-major"
}

// Geometry is a header expressed in one convention's tuple order
type Geometry struct {
	Size      [3]int
	Spacing   [3]float64
	Origin    [3]float64
	Direction [9]float64
}

// ToGeometry maps h into convention c. Column-major reverses size, spacing
// and the direction columns; the origin is unchanged.
func ToGeometry(h header.Header, c Convention) Geometry {
	o, s := h.Origin(), h.Spacing()
	g := Geometry{
		Size:      h.Size(),
		Spacing:   [3]float64{s.X, s.Y, s.Z},
		Origin:    [3]float64{o.X, o.Y, o.Z},
		Direction: h.Direction(),
	}
	if c == ColumnMajor {
		g = g.reversed()
	}
	return g
}

func (g Geometry) reversed() Geometry {
	out := Geometry{Origin: g.Origin}
	for i := 0; i < 3; i++ {
		out.Size[i] = g.Size[2-i]
		out.Spacing[i] = g.Spacing[2-i]
		for r := 0; r < 3; r++ {
			out.Direction[3*r+i] = g.Direction[3*r+2-i]
		}
	}
	return out
}

// Header converts a geometry in convention c back to a canonical header
func (g Geometry) Header(c Convention) (header.Header, error) {
	if c == ColumnMajor {
		g = g.reversed()
	}
	return header.New(header.Vec(g.Origin), header.Vec(g.Spacing), header.Direction(g.Direction), g.Size)
}

// Image is a toolkit-style image: geometry in one convention plus optional
// voxel data. Data is always stored in array (row-major) order.
type Image struct {
	convention Convention
	geom       Geometry
	data       []float64
}

// NewStub creates an image carrying only geometry
func NewStub(h header.Header, c Convention) *Image {
	return &Image{convention: c, geom: ToGeometry(h, c)}
}

// New creates an image over data, which must hold one value per voxel in
// array order.
func New(h header.Header, c Convention, data []float64) (*Image, error) {
	sz := h.Size()
	if n := sz[0] * sz[1] * sz[2]; len(data) != n {
		return nil, fmt.Errorf("data has %d values for %v voxels", len(data), sz)
	}
	img := NewStub(h, c)
	img.data = data
	return img, nil
}

// Convention returns the image's axis convention
func (img *Image) Convention() Convention { return img.convention }

// Geometry returns the image geometry in its own convention
func (img *Image) Geometry() Geometry { return img.geom }

// IsStub reports whether the image has no voxel data
func (img *Image) IsStub() bool { return img.data == nil }

func (img *Image) Size() [3]int { return img.geom.Size }

func (img *Image) Spacing() [3]float64 { return img.geom.Spacing }

func (img *Image) SetSpacing(s [3]float64) { img.geom.Spacing = s }

func (img *Image) Origin() [3]float64 { return img.geom.Origin }

func (img *Image) SetOrigin(o [3]float64) { img.geom.Origin = o }

func (img *Image) Direction() [9]float64 { return img.geom.Direction }

func (img *Image) SetDirection(d [9]float64) { img.geom.Direction = d }

// Header returns the canonical header of the current geometry. It fails if
// setters left the geometry invalid.
func (img *Image) Header() (header.Header, error) {
	return img.geom.Header(img.convention)
}

// TransformIndexToPhysicalPoint maps a continuous index in the image's
// convention to a physical point.
func (img *Image) TransformIndexToPhysicalPoint(idx [3]float64) (r3.Vec, error) {
	h, err := img.Header()
	if err != nil {
		return r3.Vec{}, err
	}
	return h.IndexToPhysical(header.Vec(img.toArrayOrder(idx))), nil
}

// TransformPhysicalPointToIndex maps a physical point to a continuous index
// in the image's convention.
func (img *Image) TransformPhysicalPointToIndex(p r3.Vec) ([3]float64, error) {
	h, err := img.Header()
	if err != nil {
		return [3]float64{}, err
	}
	v := h.PhysicalToIndex(p)
	return img.toArrayOrder([3]float64{v.X, v.Y, v.Z}), nil
}

// toArrayOrder swaps between the image convention and array order; the
// mapping is its own inverse.
func (img *Image) toArrayOrder(idx [3]float64) [3]float64 {
	if img.convention == ColumnMajor {
		return [3]float64{idx[2], idx[1], idx[0]}
	}
	return idx
}

// offset returns the data offset of an integer index in the image's
// convention.
func (img *Image) offset(i, j, k int) (int, error) {
	if img.data == nil {
		return 0, fmt.Errorf("image has no voxel data")
	}
	sz := img.geom.Size
	if i < 0 || j < 0 || k < 0 || i >= sz[0] || j >= sz[1] || k >= sz[2] {
		return 0, fmt.Errorf("index (%d, %d, %d) outside image of size %v", i, j, k, sz)
	}
	if img.convention == ColumnMajor {
		i, k = k, i
		sz = [3]int{sz[2], sz[1], sz[0]}
	}
	return (i*sz[1]+j)*sz[2] + k, nil
}

// At returns the voxel value at an integer index in the image's convention
func (img *Image) At(i, j, k int) (float64, error) {
	off, err := img.offset(i, j, k)
	if err != nil {
		return 0, err
	}
	return img.data[off], nil
}

// ExtractRegion copies a box of voxels starting at start with the given
// size, both in the image's convention. Values are returned with the first
// axis varying slowest.
func (img *Image) ExtractRegion(start, size [3]int) ([]float64, error) {
	for a := 0; a < 3; a++ {
		if size[a] <= 0 {
			return nil, fmt.Errorf("region size must be positive")
		}
	}
	out := make([]float64, 0, size[0]*size[1]*size[2])
	for i := start[0]; i < start[0]+size[0]; i++ {
		for j := start[1]; j < start[1]+size[1]; j++ {
			for k := start[2]; k < start[2]+size[2]; k++ {
				v, err := img.At(i, j, k)
				if err != nil {
					return nil, err
				}
				out = append(out, v)
			}
		}
	}
	return out, nil
}
