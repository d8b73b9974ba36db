package header

import (
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Direction is a 3x3 direction cosine matrix stored row-major. Column i is the
// LPS unit vector along which index axis i increases.
type Direction [9]float64

// Identity is the LPS-aligned direction matrix
func Identity() Direction {
	return Direction{1, 0, 0, 0, 1, 0, 0, 0, 1}
}

// At returns the element at row r, column c
func (d Direction) At(r, c int) float64 { return d[3*r+c] }

// Column returns the physical unit vector of index axis c
func (d Direction) Column(c int) r3.Vec {
	return r3.Vec{X: d[c], Y: d[3+c], Z: d[6+c]}
}

// WithColumn returns a copy of d with column c replaced by v
func (d Direction) WithColumn(c int, v r3.Vec) Direction {
	d[c], d[3+c], d[6+c] = v.X, v.Y, v.Z
	return d
}

// MulVec returns d @ v
func (d Direction) MulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: d[0]*v.X + d[1]*v.Y + d[2]*v.Z,
		Y: d[3]*v.X + d[4]*v.Y + d[5]*v.Z,
		Z: d[6]*v.X + d[7]*v.Y + d[8]*v.Z,
	}
}

// TMulVec returns dᵀ @ v
func (d Direction) TMulVec(v r3.Vec) r3.Vec {
	return r3.Vec{
		X: d[0]*v.X + d[3]*v.Y + d[6]*v.Z,
		Y: d[1]*v.X + d[4]*v.Y + d[7]*v.Z,
		Z: d[2]*v.X + d[5]*v.Y + d[8]*v.Z,
	}
}

// Det returns the determinant of the matrix
func (d Direction) Det() float64 {
	return mat.Det(mat.NewDense(3, 3, d.slice()))
}

func (d Direction) slice() []float64 {
	s := make([]float64, 9)
	copy(s, d[:])
	return s
}

func (d Direction) validate() error {
	for i, v := range d {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return &ValidationError{Field: "direction", Reason: fmt.Sprintf("element %d is %v", i, v)}
		}
	}
	for c := 0; c < 3; c++ {
		if n := r3.Norm(d.Column(c)); math.Abs(n-1) > orthoTolerance {
			return &ValidationError{Field: "direction", Reason: fmt.Sprintf("column %d has length %v", c, n)}
		}
		for o := c + 1; o < 3; o++ {
			if dot := r3.Dot(d.Column(c), d.Column(o)); math.Abs(dot) > orthoTolerance {
				return &ValidationError{Field: "direction", Reason: fmt.Sprintf("columns %d and %d are not orthogonal (dot %v)", c, o, dot)}
			}
		}
	}
	if det := d.Det(); math.Abs(math.Abs(det)-1) > orthoTolerance {
		return &ValidationError{Field: "direction", Reason: fmt.Sprintf("determinant %v is not ±1", det)}
	}
	return nil
}

// anatomical letters; index is the LPS physical axis, sign is the sense of
// the letter along that axis
var letters = map[byte]struct {
	axis int
	sign float64
}{
	'L': {0, 1}, 'R': {0, -1},
	'P': {1, 1}, 'A': {1, -1},
	'S': {2, 1}, 'I': {2, -1},
}

// ParseCode splits a three-letter anatomical code (e.g. "RAS") into one
// (physical axis, sense) pair per letter. Each physical axis must appear
// exactly once.
func ParseCode(code string) (axes [3]int, signs [3]float64, err error) {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != 3 {
		return axes, signs, &InvalidCodeError{Code: code}
	}
	var seen [3]bool
	for i := 0; i < 3; i++ {
		l, ok := letters[code[i]]
		if !ok || seen[l.axis] {
			return axes, signs, &InvalidCodeError{Code: code}
		}
		seen[l.axis] = true
		axes[i], signs[i] = l.axis, l.sign
	}
	return axes, signs, nil
}

// DirectionFromOrientation builds the direction matrix for an orientation
// code in which letter i names the anatomical direction toward which index
// axis i increases. "LPS" is the identity.
func DirectionFromOrientation(code string) (Direction, error) {
	axes, signs, err := ParseCode(code)
	if err != nil {
		return Direction{}, err
	}
	var d Direction
	for c := 0; c < 3; c++ {
		d[3*axes[c]+c] = signs[c]
	}
	return d, nil
}

// Orientation returns the nearest three-letter orientation code of d.
func (d Direction) Orientation() string {
	var b strings.Builder
	for c := 0; c < 3; c++ {
		col := d.Column(c)
		axis := dominantAxis(col)
		v := toArray(col)[axis]
		b.WriteByte(letterFor(axis, v))
	}
	return b.String()
}

func letterFor(axis int, v float64) byte {
	pos := [3]byte{'L', 'P', 'S'}
	neg := [3]byte{'R', 'A', 'I'}
	if v >= 0 {
		return pos[axis]
	}
	return neg[axis]
}

func dominantAxis(v r3.Vec) int {
	a := toArray(v)
	best := 0
	for k := 1; k < 3; k++ {
		if math.Abs(a[k]) > math.Abs(a[best]) {
			best = k
		}
	}
	return best
}
