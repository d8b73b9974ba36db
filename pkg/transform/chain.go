// Package transform resolves the registration transforms that carry points
// from an individual dataset into template space and then into the common
// coordinate framework, and applies them to point sets.
package transform

import (
	"fmt"
	"path"
	"strings"
)

// Kind distinguishes linear transforms from displacement fields
type Kind int

const (
	Affine Kind = iota
	Warp
)

func (k Kind) String() string {
	if k == Warp {
		return "warp"
	}
	return "affine"
}

// KindOf infers the transform kind from a file reference. NIfTI images and
// files named as ANTs warps are displacement fields; everything else is
// treated as an affine.
func KindOf(ref string) Kind {
	base := strings.ToLower(path.Base(ref))
	if strings.HasSuffix(base, ".nii") || strings.HasSuffix(base, ".nii.gz") || strings.Contains(base, "warp") {
		return Warp
	}
	return Affine
}

// Step is one transform file and whether it is applied inverted
type Step struct {
	Ref     string
	Inverse bool
	Kind    Kind
}

// NewStep builds a step, inferring its kind from ref
func NewStep(ref string, inverse bool) Step {
	return Step{Ref: ref, Inverse: inverse, Kind: KindOf(ref)}
}

func (s Step) String() string {
	dir := "forward"
	if s.Inverse {
		dir = "inverse"
	}
	return fmt.Sprintf("%s [%s, %s]", s.Ref, s.Kind, dir)
}

// Stage is an ordered list of steps, listed in the order they are applied
// to points.
type Stage struct {
	Name  string
	Steps []Step
}

// Chain carries points from individual space to the common coordinate
// framework. The individual stage always runs before the template stage.
type Chain struct {
	Individual Stage
	Template   Stage
}

// Steps returns every step of the chain in application order
func (c Chain) Steps() []Step {
	out := make([]Step, 0, len(c.Individual.Steps)+len(c.Template.Steps))
	out = append(out, c.Individual.Steps...)
	return append(out, c.Template.Steps...)
}

// TransformResolutionError is returned when a stage of the chain cannot be
// resolved to a concrete transform file.
type TransformResolutionError struct {
	Stage string
	Ref   string
	Err   error
}

func (e *TransformResolutionError) Error() string {
	if e.Ref == "" {
		return fmt.Sprintf("cannot resolve %s stage: %v", e.Stage, e.Err)
	}
	return fmt.Sprintf("cannot resolve %s stage transform %s: %v", e.Stage, e.Ref, e.Err)
}

func (e *TransformResolutionError) Unwrap() error { return e.Err }
