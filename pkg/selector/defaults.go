package selector

import (
	"gonum.org/v1/gonum/spatial/r3"

	"zarrdomain/pkg/overlay"
)

// LegacySpacing is the world spacing, in millimeters, that SmartSPIM
// releases before 0.0.26 wrote regardless of the acquisition's voxel size.
var LegacySpacing = r3.Vec{X: 0.0144, Y: 0.0144, Z: 0.016}

// DefaultRules returns the historical corrections in the order the pipeline
// applied them. A fresh slice is built on every call.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:       "smartspim-transposed-yx",
			Conditions: []Condition{MustVersions(">=0.0.10,<0.0.15")},
			Overlay:    overlay.PermuteAxes{Order: [3]int{0, 2, 1}},
		},
		{
			Name:       "smartspim-fixed-world-spacing",
			Conditions: []Condition{MustVersions("<0.0.26")},
			Overlay:    overlay.SetWorldSpacing{Spacing: LegacySpacing},
		},
		{
			Name:       "smartspim-ras-origin",
			Conditions: []Condition{MustVersions("<0.0.26")},
			Overlay:    overlay.ForceCornerAnchor{Corner: "RAS", Target: r3.Vec{}},
		},
	}
}

// Default returns a Selector holding DefaultRules
func Default() *Selector {
	s, err := New(DefaultRules()...)
	if err != nil {
		// rule names in DefaultRules are unique
		panic(err)
	}
	return s
}

// Extended returns the default rules followed by extra. Custom rules run
// last so they can refine the historical corrections.
func Extended(extra ...Rule) (*Selector, error) {
	return Default().Extend(extra...)
}
