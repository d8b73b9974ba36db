package header

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"pgregory.net/rapid"
)

// allCodes lists every valid orientation code
func allCodes() []string {
	var codes []string
	for _, a := range []string{"LR", "PA", "SI"} {
		for _, b := range []string{"LR", "PA", "SI"} {
			for _, c := range []string{"LR", "PA", "SI"} {
				if a == b || b == c || a == c {
					continue
				}
				for _, x := range a {
					for _, y := range b {
						for _, z := range c {
							codes = append(codes, string([]rune{x, y, z}))
						}
					}
				}
			}
		}
	}
	return codes
}

func drawHeader(t *rapid.T) Header {
	code := rapid.SampledFrom(allCodes()).Draw(t, "orientation")
	dir, err := DirectionFromOrientation(code)
	if err != nil {
		t.Fatalf("orientation %s: %v", code, err)
	}
	origin := r3.Vec{
		X: rapid.Float64Range(-100, 100).Draw(t, "ox"),
		Y: rapid.Float64Range(-100, 100).Draw(t, "oy"),
		Z: rapid.Float64Range(-100, 100).Draw(t, "oz"),
	}
	spacing := r3.Vec{
		X: rapid.Float64Range(0.001, 5).Draw(t, "sx"),
		Y: rapid.Float64Range(0.001, 5).Draw(t, "sy"),
		Z: rapid.Float64Range(0.001, 5).Draw(t, "sz"),
	}
	size := [3]int{
		rapid.IntRange(1, 4096).Draw(t, "nx"),
		rapid.IntRange(1, 4096).Draw(t, "ny"),
		rapid.IntRange(1, 4096).Draw(t, "nz"),
	}
	h, err := New(origin, spacing, dir, size)
	if err != nil {
		t.Fatalf("new header: %v", err)
	}
	return h
}

func TestNewValidation(t *testing.T) {
	tests := []struct {
		name      string
		spacing   r3.Vec
		direction Direction
		size      [3]int
		field     string
	}{
		{"zero spacing", r3.Vec{X: 1, Y: 0, Z: 1}, Identity(), [3]int{1, 1, 1}, "spacing"},
		{"negative spacing", r3.Vec{X: 1, Y: 1, Z: -2}, Identity(), [3]int{1, 1, 1}, "spacing"},
		{"negative size", r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{1, -1, 1}, "size"},
		{"scaled direction", r3.Vec{X: 1, Y: 1, Z: 1}, Direction{2, 0, 0, 0, 1, 0, 0, 0, 1}, [3]int{1, 1, 1}, "direction"},
		{"sheared direction", r3.Vec{X: 1, Y: 1, Z: 1}, Direction{1, 0.5, 0, 0, math.Sqrt(0.75), 0, 0, 0, 1}, [3]int{1, 1, 1}, "direction"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(r3.Vec{}, tt.spacing, tt.direction, tt.size)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr), "expected ValidationError, got %v", err)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestZeroSizeIsValid(t *testing.T) {
	_, err := New(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{0, 0, 0})
	require.NoError(t, err)
}

func TestReplaceDoesNotMutate(t *testing.T) {
	h := MustNew(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{4, 5, 6})

	next, err := h.Replace(WithSpacing(r3.Vec{X: 2, Y: 2, Z: 2}), WithOrigin(r3.Vec{}))
	require.NoError(t, err)

	assert.Equal(t, r3.Vec{X: 1, Y: 2, Z: 3}, h.Origin())
	assert.Equal(t, r3.Vec{X: 1, Y: 1, Z: 1}, h.Spacing())
	assert.Equal(t, r3.Vec{X: 2, Y: 2, Z: 2}, next.Spacing())
	assert.Equal(t, r3.Vec{}, next.Origin())
	assert.Equal(t, h.Size(), next.Size())

	_, err = h.Replace(WithSpacing(r3.Vec{X: 0, Y: 1, Z: 1}))
	var verr *ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestPhysicalExtent(t *testing.T) {
	dir, err := DirectionFromOrientation("RAS")
	require.NoError(t, err)
	h := MustNew(r3.Vec{}, r3.Vec{X: 0.5, Y: 2, Z: 1}, dir, [3]int{10, 10, 10})

	assert.Equal(t, r3.Vec{X: -5, Y: -20, Z: 10}, h.PhysicalExtent())
}

func TestDirectionFromOrientation(t *testing.T) {
	d, err := DirectionFromOrientation("LPS")
	require.NoError(t, err)
	assert.Equal(t, Identity(), d)

	d, err = DirectionFromOrientation("sar")
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{Z: 1}, d.Column(0))
	assert.Equal(t, r3.Vec{Y: -1}, d.Column(1))
	assert.Equal(t, r3.Vec{X: -1}, d.Column(2))
	assert.Equal(t, "SAR", d.Orientation())

	for _, bad := range []string{"", "LLS", "RAX", "LPSI"} {
		_, err := DirectionFromOrientation(bad)
		var cerr *InvalidCodeError
		assert.True(t, errors.As(err, &cerr), "code %q", bad)
	}
}

func TestCornerPhysical(t *testing.T) {
	h := MustNew(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{10, 20, 30})

	tests := []struct {
		code string
		want r3.Vec
	}{
		{"LPS", r3.Vec{X: 9, Y: 19, Z: 29}},
		{"RAI", r3.Vec{}},
		{"RAS", r3.Vec{Z: 29}},
		{"SAL", r3.Vec{X: 9, Z: 29}},
	}
	for _, tt := range tests {
		got, err := h.CornerPhysical(tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, tt.code)
	}

	_, err := h.CornerPhysical("RRS")
	assert.Error(t, err)
}

func TestCornerPhysicalFlippedDirection(t *testing.T) {
	dir, err := DirectionFromOrientation("RAS")
	require.NoError(t, err)
	h := MustNew(r3.Vec{}, r3.Vec{X: 2, Y: 1, Z: 1}, dir, [3]int{5, 5, 5})

	// index 0 is the most-left, most-posterior voxel
	got, err := h.CornerPhysical("LPI")
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{}, got)

	got, err = h.CornerPhysical("RAI")
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: -8, Y: -4}, got)
}

func TestCheckedConversions(t *testing.T) {
	h := MustNew(r3.Vec{}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{4, 4, 4})

	// unchecked conversions accept points outside the grid
	assert.Equal(t, r3.Vec{X: -3, Y: 10, Z: 0}, h.IndexToPhysical(r3.Vec{X: -3, Y: 10}))

	_, err := h.IndexToPhysicalChecked(r3.Vec{X: 4, Y: 0, Z: 0})
	var oerr *OutOfDomainError
	assert.True(t, errors.As(err, &oerr))

	_, err = h.PhysicalToIndexChecked(r3.Vec{X: -0.6})
	assert.True(t, errors.As(err, &oerr))

	idx, err := h.PhysicalToIndexChecked(r3.Vec{X: 3.4, Y: -0.4})
	require.NoError(t, err)
	assert.InDelta(t, 3.4, idx.X, 1e-12)
}

func TestIndexPhysicalRoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		h := drawHeader(t)
		size := h.Size()
		idx := r3.Vec{
			X: float64(rapid.IntRange(0, size[0]-1).Draw(t, "i")),
			Y: float64(rapid.IntRange(0, size[1]-1).Draw(t, "j")),
			Z: float64(rapid.IntRange(0, size[2]-1).Draw(t, "k")),
		}
		back := h.PhysicalToIndex(h.IndexToPhysical(idx))
		if r3.Norm(r3.Sub(back, idx)) > 1e-6 {
			t.Fatalf("round trip %v -> %v", idx, back)
		}
	})
}

func TestPhysicalToIndexRotated(t *testing.T) {
	c := math.Sqrt2 / 2
	dir := Direction{c, -c, 0, c, c, 0, 0, 0, 1}
	h := MustNew(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 0.5, Y: 2, Z: 4}, dir, [3]int{8, 8, 8})

	idx := r3.Vec{X: 3, Y: 1.5, Z: 2}
	back := h.PhysicalToIndex(h.IndexToPhysical(idx))
	assert.InDelta(t, idx.X, back.X, 1e-12)
	assert.InDelta(t, idx.Y, back.Y, 1e-12)
	assert.InDelta(t, idx.Z, back.Z, 1e-12)
}

func TestZeroHeaderDoesNotPanic(t *testing.T) {
	var h Header
	assert.NotPanics(t, func() {
		idx := h.PhysicalToIndex(r3.Vec{X: 1})
		assert.True(t, math.IsNaN(idx.X))
	})
}

func TestEqualWithinTolerance(t *testing.T) {
	h := MustNew(r3.Vec{X: 1}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{1, 1, 1})
	near := MustNew(r3.Vec{X: 1 + 1e-12}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{1, 1, 1})
	far := MustNew(r3.Vec{X: 1.001}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{1, 1, 1})

	assert.True(t, h.Equal(near))
	assert.False(t, h.Equal(far))
	assert.False(t, h.Equal(MustNew(r3.Vec{X: 1}, r3.Vec{X: 1, Y: 1, Z: 1}, Identity(), [3]int{1, 1, 2})))
}
