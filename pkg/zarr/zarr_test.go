package zarr

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"zarrdomain/pkg/fetch"
)

const attrsJSON = `{
  "multiscales": [{
    "version": "0.4",
    "axes": [
      {"name": "t", "type": "time", "unit": "millisecond"},
      {"name": "c", "type": "channel"},
      {"name": "z", "type": "space", "unit": "micrometer"},
      {"name": "y", "type": "space", "unit": "micrometer"},
      {"name": "x", "type": "space", "unit": "micrometer"}
    ],
    "datasets": [
      {"path": "0", "coordinateTransformations": [{"type": "scale", "scale": [1, 1, 2.0, 1.8, 1.8]}]},
      {"path": "1", "coordinateTransformations": [{"type": "scale", "scale": [1, 1, 4.0, 3.6, 3.6]}]},
      {"path": "2", "coordinateTransformations": [{"type": "scale", "scale": [1, 1, 8.0, 7.2, 7.2]}, {"type": "translation", "translation": [0, 0, 1, 1, 1]}]}
    ]
  }]
}`

const acquisitionJSON = `{
  "session_start_time": "2023-04-01T12:00:00Z",
  "axes": [
    {"dimension": 2, "name": "Z", "direction": "SUPERIOR_INFERIOR"},
    {"dimension": "1", "name": "Y", "direction": "ANTERIOR_POSTERIOR"},
    {"dimension": 0, "name": "X", "direction": "LEFT_RIGHT"}
  ]
}`

func writeFixture(t *testing.T) (string, string) {
	dir := t.TempDir()
	img := filepath.Join(dir, "image.zarr")
	require.NoError(t, os.MkdirAll(filepath.Join(img, "0"), 0755))
	require.NoError(t, os.MkdirAll(filepath.Join(img, "1"), 0755))
	require.NoError(t, os.WriteFile(filepath.Join(img, ".zattrs"), []byte(attrsJSON), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(img, "0", ".zarray"), []byte(`{"shape": [1, 1, 101, 200, 300], "zarr_format": 2}`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(img, "1", ".zarray"), []byte(`{"shape": [1, 1, 51, 100, 150], "zarr_format": 2}`), 0644))
	acq := filepath.Join(dir, "acquisition.json")
	require.NoError(t, os.WriteFile(acq, []byte(acquisitionJSON), 0644))
	return img, acq
}

func TestUnitConversion(t *testing.T) {
	tests := []struct {
		src, dst string
		want     float64
	}{
		{"meter", "meter", 1},
		{"millimeter", "meter", 1e-3},
		{"meter", "millimeter", 1e3},
		{"centimeter", "millimeter", 10},
		{"micrometer", "millimeter", 1e-3},
		{"kilometer", "meter", 1e3},
	}
	for _, tt := range tests {
		got, err := UnitConversion(tt.src, tt.dst)
		require.NoError(t, err)
		assert.InDelta(t, tt.want, got, 1e-12, "%s -> %s", tt.src, tt.dst)
	}

	_, err := UnitConversion("furlong", "meter")
	assert.Error(t, err)
	_, err = UnitConversion("meter", "furlong")
	assert.Error(t, err)
}

func TestAcquisitionAxisLetter(t *testing.T) {
	assert.Equal(t, "R", AcquisitionAxis{Direction: "LEFT_RIGHT"}.Letter())
	assert.Equal(t, "A", AcquisitionAxis{Direction: "POSTERIOR_ANTERIOR"}.Letter())
	assert.Equal(t, "S", AcquisitionAxis{Direction: "Inferior_superior"}.Letter())
	assert.Equal(t, "", AcquisitionAxis{Direction: "LEFT_"}.Letter())
}

func TestParseAcquisition(t *testing.T) {
	acq, err := ParseAcquisition([]byte(acquisitionJSON))
	require.NoError(t, err)
	require.Len(t, acq.Axes, 3)
	assert.Equal(t, AcquisitionAxis{Dimension: 1, Name: "y", Direction: "ANTERIOR_POSTERIOR"}, acq.Axes[1])
	_, ok := acq.Document.AcquisitionTime()
	assert.True(t, ok)

	nested, err := ParseAcquisition([]byte(`{"acquisition": {"axes": [{"dimension": "0", "name": "X", "direction": "LEFT_RIGHT"}]}}`))
	require.NoError(t, err)
	assert.Equal(t, "x", nested.Axes[0].Name)

	_, err = ParseAcquisition([]byte(`{"instrument": {}}`))
	assert.Error(t, err)
	_, err = ParseAcquisition([]byte(`{`))
	assert.Error(t, err)
}

func TestReaderAndRawHeader(t *testing.T) {
	img, acq := writeFixture(t)
	md, err := NewReader(fetch.LocalFetcher{}, nil).Read(context.Background(), img, acq)
	require.NoError(t, err)
	require.Len(t, md.Multiscale.Datasets, 3)
	assert.Equal(t, []int{1, 1, 101, 200, 300}, md.Multiscale.Datasets[0].Shape)
	assert.Nil(t, md.Multiscale.Datasets[2].Shape)

	raw, err := md.RawHeader(0, "millimeter")
	require.NoError(t, err)
	assert.Equal(t, [3]string{"z", "y", "x"}, raw.Axes)
	assert.Equal(t, "IPR", raw.Orientation)
	assert.Equal(t, [3]int{101, 200, 300}, raw.Size)
	assert.InDelta(t, 0.002, raw.Spacing[0], 1e-15)
	assert.InDelta(t, 0.0018, raw.Spacing[2], 1e-15)

	raw, err = md.RawHeader(1, "micrometer")
	require.NoError(t, err)
	assert.Equal(t, [3]float64{4.0, 3.6, 3.6}, raw.Spacing)
	assert.Equal(t, [3]int{51, 100, 150}, raw.Size)

	// level 2 has no .zarray; shape is derived from level 0
	raw, err = md.RawHeader(2, "millimeter")
	require.NoError(t, err)
	assert.Equal(t, [3]int{26, 50, 75}, raw.Size)

	_, err = md.RawHeader(3, "millimeter")
	var lerr *LevelNotFoundError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, 3, lerr.Available)
	assert.Equal(t, img, lerr.Locator)
}

func TestReaderMissingResource(t *testing.T) {
	_, acq := writeFixture(t)
	_, err := NewReader(fetch.LocalFetcher{}, nil).Read(context.Background(), filepath.Join(t.TempDir(), "nope.zarr"), acq)
	var nf *fetch.ResourceNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRawHeaderRequiresDirections(t *testing.T) {
	ms, err := ParseAttributes([]byte(attrsJSON))
	require.NoError(t, err)
	ms.Datasets[0].Shape = []int{1, 1, 2, 2, 2}
	md := &Metadata{Locator: "mem", Multiscale: ms, Acquisition: Acquisition{Axes: []AcquisitionAxis{{Name: "x", Direction: "LEFT_RIGHT"}}}}

	_, err = md.RawHeader(0, "millimeter")
	assert.ErrorContains(t, err, `no acquisition direction for axis "z"`)
}
