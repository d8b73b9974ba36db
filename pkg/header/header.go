// Package header describes the physical coordinate system of a 3D voxel grid.
//
// A Header is an immutable value: every method that changes a field returns a
// new Header and re-checks the invariants. Physical coordinates are expressed
// in LPS (left-posterior-superior) millimeters.
package header

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats/scalar"
	"gonum.org/v1/gonum/spatial/r3"
)

// Tolerance is used for header equality and orthonormality checks
const Tolerance = 1e-9

// orthoTolerance is looser than Tolerance because direction cosines are
// frequently stored with single precision in upstream metadata.
const orthoTolerance = 1e-6

// Header represents the spatial domain of a 3D image
type Header struct {
	origin    [3]float64
	spacing   [3]float64
	direction Direction
	size      [3]int
}

// New validates the four fields and returns a Header.
func New(origin, spacing r3.Vec, direction Direction, size [3]int) (Header, error) {
	h := Header{
		origin:    toArray(origin),
		spacing:   toArray(spacing),
		direction: direction,
		size:      size,
	}
	if err := h.validate(); err != nil {
		return Header{}, err
	}
	return h, nil
}

// MustNew is like New but panics on invalid input. Intended for literals in
// tests and default rule tables.
func MustNew(origin, spacing r3.Vec, direction Direction, size [3]int) Header {
	h, err := New(origin, spacing, direction, size)
	if err != nil {
		panic(err)
	}
	return h
}

func (h Header) validate() error {
	for i, s := range h.spacing {
		if !(s > 0) || math.IsInf(s, 0) {
			return &ValidationError{Field: "spacing", Reason: fmt.Sprintf("component %d is %v, must be positive and finite", i, s)}
		}
	}
	for i, o := range h.origin {
		if math.IsNaN(o) || math.IsInf(o, 0) {
			return &ValidationError{Field: "origin", Reason: fmt.Sprintf("component %d is %v", i, o)}
		}
	}
	for i, n := range h.size {
		if n < 0 {
			return &ValidationError{Field: "size", Reason: fmt.Sprintf("component %d is %d, must be non-negative", i, n)}
		}
	}
	return h.direction.validate()
}

// Origin is the physical location of voxel index (0, 0, 0)
func (h Header) Origin() r3.Vec { return toVec(h.origin) }

// Spacing is the voxel size along each index axis
func (h Header) Spacing() r3.Vec { return toVec(h.spacing) }

// Direction returns a copy of the direction cosine matrix
func (h Header) Direction() Direction { return h.direction }

// Size is the voxel count along each index axis
func (h Header) Size() [3]int { return h.size }

// Field substitutes one field of a Header in Replace.
type Field func(*Header)

// WithOrigin replaces the origin
func WithOrigin(origin r3.Vec) Field {
	return func(h *Header) { h.origin = toArray(origin) }
}

// WithSpacing replaces the spacing
func WithSpacing(spacing r3.Vec) Field {
	return func(h *Header) { h.spacing = toArray(spacing) }
}

// WithDirection replaces the direction matrix
func WithDirection(direction Direction) Field {
	return func(h *Header) { h.direction = direction }
}

// WithSize replaces the size
func WithSize(size [3]int) Field {
	return func(h *Header) { h.size = size }
}

// Replace returns a new Header with the given fields substituted. The
// receiver is left untouched and all invariants are re-checked.
func (h Header) Replace(fields ...Field) (Header, error) {
	next := h
	for _, f := range fields {
		f(&next)
	}
	if err := next.validate(); err != nil {
		return Header{}, err
	}
	return next, nil
}

// PhysicalExtent returns direction @ (spacing ⊙ size), the diagonal of the
// physical bounding box.
func (h Header) PhysicalExtent() r3.Vec {
	var scaled [3]float64
	for i := range scaled {
		scaled[i] = h.spacing[i] * float64(h.size[i])
	}
	return h.direction.MulVec(toVec(scaled))
}

// IndexToPhysical maps a continuous index to a physical point. It does not
// bounds-check; use IndexToPhysicalChecked for that.
func (h Header) IndexToPhysical(index r3.Vec) r3.Vec {
	idx := toArray(index)
	var scaled [3]float64
	for i := range scaled {
		scaled[i] = h.spacing[i] * idx[i]
	}
	return r3.Add(toVec(h.origin), h.direction.MulVec(toVec(scaled)))
}

// PhysicalToIndex maps a physical point to a continuous index. It is the
// inverse of IndexToPhysical and does not bounds-check. The direction of a
// constructed Header is orthonormal, so its transpose is its inverse.
//
// The zero Header has no spacing or direction; its indices are NaN.
func (h Header) PhysicalToIndex(point r3.Vec) r3.Vec {
	rel := toArray(h.direction.TMulVec(r3.Sub(point, toVec(h.origin))))
	var idx [3]float64
	for i := range idx {
		idx[i] = rel[i] / h.spacing[i]
	}
	return toVec(idx)
}

// IndexToPhysicalChecked is IndexToPhysical with a bounds check against the
// voxel extent [-0.5, size-0.5] on every axis.
func (h Header) IndexToPhysicalChecked(index r3.Vec) (r3.Vec, error) {
	if err := h.checkIndex(index); err != nil {
		return r3.Vec{}, err
	}
	return h.IndexToPhysical(index), nil
}

// PhysicalToIndexChecked is PhysicalToIndex with a bounds check on the result.
func (h Header) PhysicalToIndexChecked(point r3.Vec) (r3.Vec, error) {
	idx := h.PhysicalToIndex(point)
	if err := h.checkIndex(idx); err != nil {
		return r3.Vec{}, err
	}
	return idx, nil
}

func (h Header) checkIndex(index r3.Vec) error {
	idx := toArray(index)
	for i := range idx {
		if idx[i] < -0.5 || idx[i] > float64(h.size[i])-0.5 {
			return &OutOfDomainError{Index: index, Size: h.size}
		}
	}
	return nil
}

// Equal reports whether two headers match within Tolerance.
func (h Header) Equal(o Header) bool {
	return h.EqualWithin(o, Tolerance)
}

// EqualWithin reports whether two headers match within an absolute or
// relative tolerance.
func (h Header) EqualWithin(o Header, tol float64) bool {
	if h.size != o.size {
		return false
	}
	for i := 0; i < 3; i++ {
		if !scalar.EqualWithinAbsOrRel(h.origin[i], o.origin[i], tol, tol) ||
			!scalar.EqualWithinAbsOrRel(h.spacing[i], o.spacing[i], tol, tol) {
			return false
		}
	}
	for i := range h.direction {
		if !scalar.EqualWithinAbsOrRel(h.direction[i], o.direction[i], tol, tol) {
			return false
		}
	}
	return true
}

func (h Header) String() string {
	return fmt.Sprintf("Header{origin=%v spacing=%v direction=%v size=%v}",
		h.origin, h.spacing, [9]float64(h.direction), h.size)
}

func toArray(v r3.Vec) [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func toVec(a [3]float64) r3.Vec { return r3.Vec{X: a[0], Y: a[1], Z: a[2]} }

// Component returns component i (0, 1 or 2) of v.
func Component(v r3.Vec, i int) float64 {
	return toArray(v)[i]
}

// Vec builds an r3.Vec from an array.
func Vec(a [3]float64) r3.Vec { return toVec(a) }
