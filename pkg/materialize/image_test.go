package materialize

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/spatial/r3"
	"pgregory.net/rapid"

	"zarrdomain/pkg/header"
)

func createTestHeader(t *testing.T) header.Header {
	dir, err := header.DirectionFromOrientation("IPR")
	require.NoError(t, err)
	h, err := header.New(r3.Vec{X: 1, Y: 2, Z: 3}, r3.Vec{X: 2, Y: 1.8, Z: 1.5}, dir, [3]int{4, 5, 6})
	require.NoError(t, err)
	return h
}

func TestToGeometry(t *testing.T) {
	h := createTestHeader(t)

	row := ToGeometry(h, RowMajor)
	assert.Equal(t, [3]int{4, 5, 6}, row.Size)
	assert.Equal(t, [3]float64{2, 1.8, 1.5}, row.Spacing)
	assert.Equal(t, [3]float64{1, 2, 3}, row.Origin)

	col := ToGeometry(h, ColumnMajor)
	assert.Equal(t, [3]int{6, 5, 4}, col.Size)
	assert.Equal(t, [3]float64{1.5, 1.8, 2}, col.Spacing)
	assert.Equal(t, [3]float64{1, 2, 3}, col.Origin)

	// reversing the axes reverses the orientation code
	rev, err := header.DirectionFromOrientation("RPI")
	require.NoError(t, err)
	assert.Equal(t, [9]float64(rev), col.Direction)

	for _, c := range []Convention{RowMajor, ColumnMajor} {
		back, err := ToGeometry(h, c).Header(c)
		require.NoError(t, err)
		assert.True(t, back.Equal(h), c.String())
	}
}

func TestIndexConversionsAgree(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		h := createTestHeader(t)
		i := rapid.Float64Range(0, 3).Draw(rt, "i")
		j := rapid.Float64Range(0, 4).Draw(rt, "j")
		k := rapid.Float64Range(0, 5).Draw(rt, "k")

		row := NewStub(h, RowMajor)
		col := NewStub(h, ColumnMajor)
		p1, err := row.TransformIndexToPhysicalPoint([3]float64{i, j, k})
		if err != nil {
			rt.Fatal(err)
		}
		p2, err := col.TransformIndexToPhysicalPoint([3]float64{k, j, i})
		if err != nil {
			rt.Fatal(err)
		}
		if r3.Norm(r3.Sub(p1, p2)) > 1e-12 {
			rt.Fatalf("row-major %v != column-major %v", p1, p2)
		}

		idx, err := col.TransformPhysicalPointToIndex(p1)
		if err != nil {
			rt.Fatal(err)
		}
		if d := r3.Norm(r3.Sub(header.Vec(idx), r3.Vec{X: k, Y: j, Z: i})); d > 1e-9 {
			rt.Fatalf("round trip off by %g", d)
		}
	})
}

func TestStubSetters(t *testing.T) {
	img := NewStub(createTestHeader(t), ColumnMajor)
	assert.True(t, img.IsStub())
	assert.Equal(t, ColumnMajor, img.Convention())

	img.SetSpacing([3]float64{3, 3, 3})
	img.SetOrigin([3]float64{0, 0, 0})
	h, err := img.Header()
	require.NoError(t, err)
	assert.Equal(t, r3.Vec{X: 3, Y: 3, Z: 3}, h.Spacing())
	assert.Equal(t, r3.Vec{}, h.Origin())
	assert.Equal(t, [3]float64{3, 3, 3}, img.Spacing())

	img.SetDirection([9]float64{})
	_, err = img.Header()
	var verr *header.ValidationError
	assert.ErrorAs(t, err, &verr)
	_, err = img.TransformIndexToPhysicalPoint([3]float64{})
	assert.Error(t, err)
}

func TestImageData(t *testing.T) {
	h := createTestHeader(t)
	data := make([]float64, 4*5*6)
	for i := range data {
		data[i] = float64(i)
	}

	_, err := New(h, RowMajor, data[:10])
	assert.Error(t, err)

	row, err := New(h, RowMajor, data)
	require.NoError(t, err)
	col, err := New(h, ColumnMajor, data)
	require.NoError(t, err)

	v, err := row.At(1, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, float64((1*5+2)*6+3), v)

	w, err := col.At(3, 2, 1)
	require.NoError(t, err)
	assert.Equal(t, v, w)

	_, err = col.At(0, 0, 5)
	assert.Error(t, err)
	_, err = NewStub(h, RowMajor).At(0, 0, 0)
	assert.ErrorContains(t, err, "no voxel data")

	region, err := row.ExtractRegion([3]int{0, 0, 0}, [3]int{1, 1, 3})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 1, 2}, region)

	region, err = col.ExtractRegion([3]int{0, 0, 0}, [3]int{1, 1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 30}, region)

	_, err = row.ExtractRegion([3]int{3, 0, 0}, [3]int{2, 1, 1})
	assert.Error(t, err)
	_, err = row.ExtractRegion([3]int{}, [3]int{0, 1, 1})
	assert.Error(t, err)
}
