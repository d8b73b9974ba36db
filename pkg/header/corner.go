package header

import (
	"gonum.org/v1/gonum/spatial/r3"
)

// CornerIndex returns the voxel-centre index of the grid corner named by an
// anatomical code such as "RAS". For each index axis the physical axis it
// mostly runs along is found; the far end (size-1) is chosen when the axis
// increases toward the requested sense, otherwise index 0.
func (h Header) CornerIndex(code string) (r3.Vec, error) {
	axes, signs, err := ParseCode(code)
	if err != nil {
		return r3.Vec{}, err
	}
	var want [3]float64
	for i := range axes {
		want[axes[i]] = signs[i]
	}

	var idx [3]float64
	for i := 0; i < 3; i++ {
		col := h.direction.Column(i)
		k := dominantAxis(col)
		if toArray(col)[k]*want[k] > 0 && h.size[i] > 0 {
			idx[i] = float64(h.size[i] - 1)
		}
	}
	return toVec(idx), nil
}

// CornerPhysical returns the physical location of the voxel corner named by
// an anatomical code.
func (h Header) CornerPhysical(code string) (r3.Vec, error) {
	idx, err := h.CornerIndex(code)
	if err != nil {
		return r3.Vec{}, err
	}
	return h.IndexToPhysical(idx), nil
}
