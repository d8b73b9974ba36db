// Package zarr reads the metadata of an OME-Zarr multiscale image and the
// acquisition axes that give each array axis its anatomical direction.
// Array data is never read.
package zarr

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/tidwall/gjson"

	"zarrdomain/pkg/metadata"
)

// Axis is one entry of the OME-Zarr multiscales axes list
type Axis struct {
	Name string `json:"name"`
	Type string `json:"type,omitempty"`
	Unit string `json:"unit,omitempty"`
}

// CoordinateTransformation is a scale or translation entry
type CoordinateTransformation struct {
	Type        string    `json:"type"`
	Scale       []float64 `json:"scale,omitempty"`
	Translation []float64 `json:"translation,omitempty"`
}

// Dataset is one resolution level
type Dataset struct {
	Path                      string                     `json:"path"`
	CoordinateTransformations []CoordinateTransformation `json:"coordinateTransformations"`
	// Shape is filled from the level's .zarray; nil when unknown
	Shape []int `json:"-"`
}

// Scale returns the scale transformation of the level, if any
func (d Dataset) Scale() []float64 {
	for _, ct := range d.CoordinateTransformations {
		if ct.Type == "scale" {
			return ct.Scale
		}
	}
	return nil
}

// Multiscale is the first entry of the "multiscales" attribute
type Multiscale struct {
	Name     string    `json:"name,omitempty"`
	Version  string    `json:"version,omitempty"`
	Axes     []Axis    `json:"axes"`
	Datasets []Dataset `json:"datasets"`
}

// AcquisitionAxis maps a named array axis to an anatomical direction such as
// "LEFT_RIGHT".
type AcquisitionAxis struct {
	Dimension int
	Name      string
	Direction string
}

// Letter returns the anatomical letter the axis increases toward: the first
// letter of the last word of Direction ("LEFT_RIGHT" -> "R").
func (a AcquisitionAxis) Letter() string {
	parts := strings.Split(a.Direction, "_")
	last := parts[len(parts)-1]
	if last == "" {
		return ""
	}
	return strings.ToUpper(last[:1])
}

// Acquisition is the part of acquisition metadata used for the header
type Acquisition struct {
	Axes []AcquisitionAxis
	// Document is the full acquisition metadata, used for dates and rule
	// predicates
	Document metadata.Metadata
}

// Metadata is everything needed to build a base header for any level
type Metadata struct {
	Locator     string
	Multiscale  Multiscale
	Acquisition Acquisition
}

// LevelNotFoundError is returned for a resolution level the image lacks
type LevelNotFoundError struct {
	Locator   string
	Level     int
	Available int
}

func (e *LevelNotFoundError) Error() string {
	return fmt.Sprintf("level %d not found in %s (%d levels available)", e.Level, e.Locator, e.Available)
}

// ParseAttributes decodes the multiscales entry of a .zattrs document
func ParseAttributes(raw []byte) (Multiscale, error) {
	var attrs struct {
		Multiscales []Multiscale `json:"multiscales"`
	}
	if err := json.Unmarshal(raw, &attrs); err != nil {
		return Multiscale{}, fmt.Errorf("error parsing multiscale attributes: %w", err)
	}
	if len(attrs.Multiscales) == 0 {
		return Multiscale{}, fmt.Errorf("no multiscales entry in attributes")
	}
	return attrs.Multiscales[0], nil
}

// ParseArrayShape returns the shape field of a .zarray document
func ParseArrayShape(raw []byte) ([]int, error) {
	var arr struct {
		Shape []int `json:"shape"`
	}
	if err := json.Unmarshal(raw, &arr); err != nil {
		return nil, fmt.Errorf("error parsing array metadata: %w", err)
	}
	return arr.Shape, nil
}

// ParseAcquisition extracts the axes from acquisition metadata, either a bare
// acquisition.json or a full metadata document with an "acquisition" key.
// Dimension may be encoded as a number or a string.
func ParseAcquisition(raw []byte) (Acquisition, error) {
	if !gjson.ValidBytes(raw) {
		return Acquisition{}, fmt.Errorf("acquisition metadata is not valid JSON")
	}
	doc := gjson.ParseBytes(raw)
	axes := doc.Get("axes")
	if !axes.Exists() {
		axes = doc.Get("acquisition.axes")
	}
	if !axes.IsArray() {
		return Acquisition{}, fmt.Errorf("acquisition metadata has no axes")
	}

	out := Acquisition{Document: metadata.Parse(raw)}
	for _, a := range axes.Array() {
		out.Axes = append(out.Axes, AcquisitionAxis{
			Dimension: int(a.Get("dimension").Int()),
			Name:      strings.ToLower(a.Get("name").String()),
			Direction: a.Get("direction").String(),
		})
	}
	return out, nil
}

var unitsToMeter = map[string]float64{
	"micrometer": 1e-6,
	"millimeter": 1e-3,
	"centimeter": 1e-2,
	"meter":      1.0,
	"kilometer":  1e3,
}

// UnitConversion returns the factor converting a length in src to dst
func UnitConversion(src, dst string) (float64, error) {
	if src == dst {
		return 1, nil
	}
	s, ok := unitsToMeter[src]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s", src)
	}
	d, ok := unitsToMeter[dst]
	if !ok {
		return 0, fmt.Errorf("unknown unit: %s", dst)
	}
	return s / d, nil
}

var spatialAxes = map[string]bool{"x": true, "y": true, "z": true}

// RawHeader holds header fields for one level in array (row-major) axis
// order, before any correction.
type RawHeader struct {
	Axes        [3]string
	Orientation string
	Spacing     [3]float64
	Size        [3]int
}

// RawHeader builds the uncorrected header fields of a level with spacing
// expressed in unit. Non-spatial axes are dropped.
func (m *Metadata) RawHeader(level int, unit string) (RawHeader, error) {
	ms := m.Multiscale
	if level < 0 || level >= len(ms.Datasets) {
		return RawHeader{}, &LevelNotFoundError{Locator: m.Locator, Level: level, Available: len(ms.Datasets)}
	}

	letters := make(map[string]string, len(m.Acquisition.Axes))
	for _, a := range m.Acquisition.Axes {
		letters[a.Name] = a.Letter()
	}

	ds := ms.Datasets[level]
	scale := ds.Scale()
	if len(scale) != len(ms.Axes) {
		return RawHeader{}, fmt.Errorf("%s level %d: scale has %d entries for %d axes", m.Locator, level, len(scale), len(ms.Axes))
	}
	shape, err := m.levelShape(level)
	if err != nil {
		return RawHeader{}, err
	}

	var (
		raw    RawHeader
		n      int
		orient strings.Builder
	)
	for i, ax := range ms.Axes {
		name := strings.ToLower(ax.Name)
		if !spatialAxes[name] {
			continue
		}
		if n == 3 {
			return RawHeader{}, fmt.Errorf("%s: more than three spatial axes", m.Locator)
		}
		letter, ok := letters[name]
		if !ok || letter == "" {
			return RawHeader{}, fmt.Errorf("%s: no acquisition direction for axis %q", m.Locator, name)
		}
		factor, err := UnitConversion(ax.Unit, unit)
		if err != nil {
			return RawHeader{}, fmt.Errorf("%s axis %q: %w", m.Locator, name, err)
		}
		raw.Axes[n] = name
		raw.Spacing[n] = factor * scale[i]
		raw.Size[n] = shape[i]
		orient.WriteString(letter)
		n++
	}
	if n != 3 {
		return RawHeader{}, fmt.Errorf("%s: expected three spatial axes, found %d", m.Locator, n)
	}
	raw.Orientation = orient.String()
	return raw, nil
}

// levelShape returns the array shape of a level. When the level's own shape
// is unknown it is derived from level 0 by halving spatial axes per level,
// rounding up.
func (m *Metadata) levelShape(level int) ([]int, error) {
	ms := m.Multiscale
	if s := ms.Datasets[level].Shape; len(s) == len(ms.Axes) {
		return s, nil
	}
	base := ms.Datasets[0].Shape
	if len(base) != len(ms.Axes) {
		return nil, fmt.Errorf("%s: array shape unknown for level %d", m.Locator, level)
	}
	div := math.Pow(2, float64(level))
	out := make([]int, len(base))
	for i, n := range base {
		if spatialAxes[strings.ToLower(ms.Axes[i].Name)] {
			out[i] = int(math.Ceil(float64(n) / div))
		} else {
			out[i] = n
		}
	}
	return out, nil
}
