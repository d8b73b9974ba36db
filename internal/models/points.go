package models

import (
	"sort"

	"gonum.org/v1/gonum/spatial/r3"
)

// PointSet holds physical points grouped by annotation layer name
type PointSet map[string][]r3.Vec

// Layers returns the layer names in lexical order
func (p PointSet) Layers() []string {
	names := make([]string, 0, len(p))
	for name := range p {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Clone returns a deep copy
func (p PointSet) Clone() PointSet {
	out := make(PointSet, len(p))
	for name, pts := range p {
		out[name] = append([]r3.Vec(nil), pts...)
	}
	return out
}

// Count returns the total number of points across layers
func (p PointSet) Count() int {
	n := 0
	for _, pts := range p {
		n += len(pts)
	}
	return n
}

// Flatten returns every point in layer order together with the offsets that
// split the result back into layers. Offsets has one more entry than layers.
func (p PointSet) Flatten() (layers []string, points []r3.Vec, offsets []int) {
	layers = p.Layers()
	offsets = make([]int, 0, len(layers)+1)
	for _, name := range layers {
		offsets = append(offsets, len(points))
		points = append(points, p[name]...)
	}
	offsets = append(offsets, len(points))
	return layers, points, offsets
}

// Unflatten is the inverse of Flatten
func Unflatten(layers []string, points []r3.Vec, offsets []int) PointSet {
	out := make(PointSet, len(layers))
	for i, name := range layers {
		out[name] = append([]r3.Vec(nil), points[offsets[i]:offsets[i+1]]...)
	}
	return out
}
