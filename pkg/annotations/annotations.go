// Package annotations reads point annotations from a saved Neuroglancer
// state and maps them into physical space.
package annotations

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
	"gonum.org/v1/gonum/spatial/r3"

	"zarrdomain/internal/models"
	"zarrdomain/pkg/header"
)

// DefaultAxes is the array axis order points are returned in
var DefaultAxes = [3]string{"z", "y", "x"}

// neuroglancerAxes is the coordinate order assumed when a state carries no
// "dimensions" entry.
var neuroglancerAxes = []string{"x", "y", "z"}

// Options control parsing
type Options struct {
	// Axes names the state dimensions that become index axes 0, 1 and 2.
	// Zero value uses DefaultAxes.
	Axes [3]string

	// Layers restricts parsing to the named layers. Empty reads every
	// annotation layer.
	Layers []string
}

// Annotations are voxel-index points grouped by layer
type Annotations struct {
	Points models.PointSet

	// Descriptions holds one entry per point; "" when the point has none
	Descriptions map[string][]string
}

// Parse reads the annotation layers of a Neuroglancer state document
func Parse(raw []byte, opts Options) (*Annotations, error) {
	if !gjson.ValidBytes(raw) {
		return nil, fmt.Errorf("neuroglancer state is not valid JSON")
	}
	state := gjson.ParseBytes(raw)

	axes := opts.Axes
	if axes == [3]string{} {
		axes = DefaultAxes
	}
	pos, err := axisPositions(state, axes)
	if err != nil {
		return nil, err
	}

	want := make(map[string]bool, len(opts.Layers))
	for _, l := range opts.Layers {
		want[l] = true
	}

	out := &Annotations{Points: models.PointSet{}, Descriptions: map[string][]string{}}
	for _, layer := range state.Get("layers").Array() {
		name := layer.Get("name").String()
		if layer.Get("type").String() != "annotation" || (len(want) > 0 && !want[name]) {
			continue
		}
		var (
			pts   []r3.Vec
			descs []string
		)
		for i, a := range layer.Get("annotations").Array() {
			p := a.Get("point")
			if !p.IsArray() {
				continue
			}
			coords := p.Array()
			var v [3]float64
			for j, k := range pos {
				if k >= len(coords) {
					return nil, fmt.Errorf("layer %q annotation %d has %d coordinates", name, i, len(coords))
				}
				v[j] = coords[k].Float()
			}
			pts = append(pts, header.Vec(v))
			descs = append(descs, a.Get("description").String())
		}
		out.Points[name] = pts
		out.Descriptions[name] = descs
	}

	for _, l := range opts.Layers {
		if _, ok := out.Points[l]; !ok {
			return nil, fmt.Errorf("annotation layer %q not found", l)
		}
	}
	return out, nil
}

// axisPositions finds where each requested axis sits in a point's
// coordinate list.
func axisPositions(state gjson.Result, axes [3]string) ([3]int, error) {
	order := neuroglancerAxes
	if dims := state.Get("dimensions"); dims.IsObject() {
		order = nil
		dims.ForEach(func(k, _ gjson.Result) bool {
			order = append(order, k.String())
			return true
		})
	}
	var pos [3]int
	for j, name := range axes {
		pos[j] = -1
		for i, d := range order {
			if d == name {
				pos[j] = i
				break
			}
		}
		if pos[j] < 0 {
			return pos, fmt.Errorf("dimension %q not in state dimensions %v", name, order)
		}
	}
	return pos, nil
}

var unsafeDescription = regexp.MustCompile(`[\r\n,]+`)

// SanitizeDescription trims a description and removes line breaks and
// commas so it can serve as a CSV-safe key.
func SanitizeDescription(s string) string {
	return unsafeDescription.ReplaceAllString(strings.TrimSpace(s), "")
}

// Labels returns, per layer, one label per point in point order: the
// sanitized description, or "1", "2", ... for points without one.
func (a *Annotations) Labels() map[string][]string {
	out := make(map[string][]string, len(a.Points))
	for layer, pts := range a.Points {
		descs := a.Descriptions[layer]
		labels := make([]string, len(pts))
		n := 1
		for i := range pts {
			if i < len(descs) && descs[i] != "" {
				labels[i] = SanitizeDescription(descs[i])
			} else {
				labels[i] = strconv.Itoa(n)
				n++
			}
		}
		out[layer] = labels
	}
	return out
}

// PointsByDescription keys each layer's points by label. A repeated label
// keeps the last point.
func (a *Annotations) PointsByDescription() map[string]map[string]r3.Vec {
	labels := a.Labels()
	out := make(map[string]map[string]r3.Vec, len(a.Points))
	for layer, pts := range a.Points {
		m := make(map[string]r3.Vec, len(pts))
		for i, p := range pts {
			m[labels[layer][i]] = p
		}
		out[layer] = m
	}
	return out
}

// ToPhysical maps index points through h. Layer names and point order are
// kept.
func ToPhysical(h header.Header, points models.PointSet) models.PointSet {
	out := make(models.PointSet, len(points))
	for layer, pts := range points {
		phys := make([]r3.Vec, len(pts))
		for i, p := range pts {
			phys[i] = h.IndexToPhysical(p)
		}
		out[layer] = phys
	}
	return out
}

// ToPhysicalChecked is ToPhysical but fails on the first point outside the
// grid.
func ToPhysicalChecked(h header.Header, points models.PointSet) (models.PointSet, error) {
	out := make(models.PointSet, len(points))
	for _, layer := range points.Layers() {
		pts := points[layer]
		phys := make([]r3.Vec, len(pts))
		for i, p := range pts {
			v, err := h.IndexToPhysicalChecked(p)
			if err != nil {
				return nil, fmt.Errorf("layer %q point %d: %w", layer, i, err)
			}
			phys[i] = v
		}
		out[layer] = phys
	}
	return out, nil
}
