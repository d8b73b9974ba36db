// Package overlay implements the correction rules that reproduce how past
// pipeline releases rewrote a dataset's spatial header.
//
// An Overlay is a pure function of (Header, metadata, level). Overlays never
// look at each other; Apply folds a list of them left to right.
package overlay

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/spatial/r3"

	"zarrdomain/pkg/header"
	"zarrdomain/pkg/metadata"
)

// Overlay is one correction rule
type Overlay interface {
	Name() string
	Apply(h header.Header, md metadata.Metadata, level int) (header.Header, error)
}

// Apply folds overlays over h in order. An empty list returns h unchanged.
func Apply(h header.Header, overlays []Overlay, md metadata.Metadata, level int) (header.Header, error) {
	cur := h
	for i, o := range overlays {
		next, err := o.Apply(cur, md, level)
		if err != nil {
			return header.Header{}, errors.Wrapf(err, "overlay %d (%s) at level %d", i, o.Name(), level)
		}
		cur = next
	}
	return cur, nil
}

// SetWorldSpacing replaces spacing with a literal vector while keeping origin
// and direction. Several releases hard-coded spacing regardless of the
// acquisition metadata; this reproduces that.
type SetWorldSpacing struct {
	Spacing r3.Vec
	// PerLevel scales Spacing by 2^level, treating it as the level-0 value.
	PerLevel bool
}

func (o SetWorldSpacing) Name() string { return "set-world-spacing" }

func (o SetWorldSpacing) Apply(h header.Header, _ metadata.Metadata, level int) (header.Header, error) {
	s := o.Spacing
	if o.PerLevel {
		s = r3.Scale(math.Pow(2, float64(level)), s)
	}
	return h.Replace(header.WithSpacing(s))
}

// ScaleSpacing multiplies spacing component-wise
type ScaleSpacing struct {
	Factor r3.Vec
}

func (o ScaleSpacing) Name() string { return "scale-spacing" }

func (o ScaleSpacing) Apply(h header.Header, _ metadata.Metadata, _ int) (header.Header, error) {
	s := h.Spacing()
	return h.Replace(header.WithSpacing(r3.Vec{X: s.X * o.Factor.X, Y: s.Y * o.Factor.Y, Z: s.Z * o.Factor.Z}))
}

// ForceCornerAnchor moves the origin so that the named anatomical corner of
// the grid lands exactly on Target. Spacing, direction and size are kept.
type ForceCornerAnchor struct {
	Corner string
	Target r3.Vec
}

func (o ForceCornerAnchor) Name() string { return fmt.Sprintf("force-corner-anchor(%s)", o.Corner) }

func (o ForceCornerAnchor) Apply(h header.Header, _ metadata.Metadata, _ int) (header.Header, error) {
	idx, err := h.CornerIndex(o.Corner)
	if err != nil {
		return header.Header{}, err
	}
	// corner = origin + D(s ⊙ idx), so origin = target - D(s ⊙ idx)
	s := h.Spacing()
	offset := h.Direction().MulVec(r3.Vec{X: s.X * idx.X, Y: s.Y * idx.Y, Z: s.Z * idx.Z})
	return h.Replace(header.WithOrigin(r3.Sub(o.Target, offset)))
}

// PermuteAxes reorders index axes: new axis j is old axis Order[j]. Direction
// columns, spacing and size move together; the origin is unchanged.
type PermuteAxes struct {
	Order [3]int
}

func (o PermuteAxes) Name() string { return fmt.Sprintf("permute-axes%v", o.Order) }

func (o PermuteAxes) Apply(h header.Header, _ metadata.Metadata, _ int) (header.Header, error) {
	var seen [3]bool
	for _, a := range o.Order {
		if a < 0 || a > 2 || seen[a] {
			return header.Header{}, &header.ValidationError{Field: "axis order", Reason: fmt.Sprintf("%v is not a permutation of 0,1,2", o.Order)}
		}
		seen[a] = true
	}

	dir := h.Direction()
	spacing, size := h.Spacing(), h.Size()
	var (
		newDir     header.Direction
		newSpacing [3]float64
		newSize    [3]int
	)
	for j, a := range o.Order {
		newDir = newDir.WithColumn(j, dir.Column(a))
		newSpacing[j] = header.Component(spacing, a)
		newSize[j] = size[a]
	}
	return h.Replace(
		header.WithDirection(newDir),
		header.WithSpacing(header.Vec(newSpacing)),
		header.WithSize(newSize),
	)
}

// FlipAxes reverses the selected index axes. The origin moves to the former
// far end so every voxel keeps its physical location.
type FlipAxes struct {
	Axes [3]bool
}

func (o FlipAxes) Name() string { return fmt.Sprintf("flip-axes%v", o.Axes) }

func (o FlipAxes) Apply(h header.Header, _ metadata.Metadata, _ int) (header.Header, error) {
	dir := h.Direction()
	origin := h.Origin()
	spacing, size := h.Spacing(), h.Size()
	for i, flip := range o.Axes {
		if !flip {
			continue
		}
		col := dir.Column(i)
		if size[i] > 0 {
			origin = r3.Add(origin, r3.Scale(header.Component(spacing, i)*float64(size[i]-1), col))
		}
		dir = dir.WithColumn(i, r3.Scale(-1, col))
	}
	return h.Replace(header.WithOrigin(origin), header.WithDirection(dir))
}

// Func adapts a plain function to an Overlay
type Func struct {
	Label string
	Fn    func(h header.Header, md metadata.Metadata, level int) (header.Header, error)
}

func (o Func) Name() string { return o.Label }

func (o Func) Apply(h header.Header, md metadata.Metadata, level int) (header.Header, error) {
	return o.Fn(h, md, level)
}
