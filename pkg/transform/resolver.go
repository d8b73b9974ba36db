package transform

import (
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"zarrdomain/internal/logging"
	"zarrdomain/pkg/fetch"
	"zarrdomain/pkg/metadata"
	"zarrdomain/pkg/selector"
)

// AlignmentProcess is the data process whose output location holds the
// individual-to-template registration.
const AlignmentProcess = "Image atlas alignment"

// StepSpec names a transform file. Relative files are resolved against the
// alignment output location; absolute ones (local paths or URIs) are used as
// given.
type StepSpec struct {
	File    string `yaml:"file" mapstructure:"file"`
	Inverse bool   `yaml:"inverse" mapstructure:"inverse"`
}

// Layout is the set of individual-stage files a range of pipeline versions
// wrote. An empty Versions matches every version.
type Layout struct {
	Versions string     `yaml:"versions" mapstructure:"versions"`
	Steps    []StepSpec `yaml:"steps" mapstructure:"steps"`
}

// DefaultLayouts returns the layout of the ANTs SyN registration output:
// the inverse warp applied forward, then the affine inverted.
func DefaultLayouts() []Layout {
	return []Layout{{
		Steps: []StepSpec{
			{File: "ls_to_template_SyN_1InverseWarp.nii.gz"},
			{File: "ls_to_template_SyN_0GenericAffine.mat", Inverse: true},
		},
	}}
}

// Resolver turns processing metadata into a concrete transform chain
type Resolver struct {
	// Layouts are tried in order; the first whose version range matches wins
	Layouts []Layout

	// Templates maps a template name to its template-to-CCF steps
	Templates map[string][]StepSpec

	Logger logrus.FieldLogger
}

// NewResolver creates a resolver. A nil layouts uses DefaultLayouts.
func NewResolver(layouts []Layout, templates map[string][]StepSpec, logger logrus.FieldLogger) *Resolver {
	if layouts == nil {
		layouts = DefaultLayouts()
	}
	return &Resolver{Layouts: layouts, Templates: templates, Logger: logging.OrDiscard(logger)}
}

// ResolveTransformChain builds the chain for a dataset registered to
// templateUsed. Any stage that cannot be resolved fails the whole call.
func (r *Resolver) ResolveTransformChain(processing metadata.Metadata, templateUsed string) (Chain, error) {
	individual, err := r.individualStage(processing)
	if err != nil {
		return Chain{}, err
	}
	tmpl, err := r.templateStage(templateUsed)
	if err != nil {
		return Chain{}, err
	}
	chain := Chain{Individual: individual, Template: tmpl}

	logging.OrDiscard(r.Logger).WithFields(logrus.Fields{
		"pipeline_version": processing.PipelineVersion(),
		"template":         templateUsed,
		"steps":            len(chain.Steps()),
	}).Debug("resolved transform chain")
	return chain, nil
}

func (r *Resolver) individualStage(processing metadata.Metadata) (Stage, error) {
	const name = "individual"
	out := processing.ProcessOutput(AlignmentProcess)
	if out == "" {
		return Stage{}, &TransformResolutionError{Stage: name, Err: fmt.Errorf("no %q process in processing metadata", AlignmentProcess)}
	}
	layout, err := r.layoutFor(processing.PipelineVersion())
	if err != nil {
		return Stage{}, &TransformResolutionError{Stage: name, Err: err}
	}
	if len(layout.Steps) == 0 {
		return Stage{}, &TransformResolutionError{Stage: name, Err: fmt.Errorf("layout %q has no steps", layout.Versions)}
	}
	stage := Stage{Name: name}
	for _, s := range layout.Steps {
		if s.File == "" {
			return Stage{}, &TransformResolutionError{Stage: name, Err: fmt.Errorf("layout %q has a step without a file", layout.Versions)}
		}
		ref := s.File
		if !isAbsolute(ref) {
			ref = fetch.Join(out, ref)
		}
		stage.Steps = append(stage.Steps, NewStep(ref, s.Inverse))
	}
	return stage, nil
}

func (r *Resolver) layoutFor(pipelineVersion string) (Layout, error) {
	q := selector.Query{PipelineVersion: pipelineVersion}
	for _, l := range r.Layouts {
		if l.Versions == "" {
			return l, nil
		}
		c, err := selector.Versions(l.Versions)
		if err != nil {
			return Layout{}, err
		}
		if c.Holds(q) {
			return l, nil
		}
	}
	return Layout{}, fmt.Errorf("no registration layout for pipeline version %q", pipelineVersion)
}

func (r *Resolver) templateStage(templateUsed string) (Stage, error) {
	const name = "template"
	specs, ok := r.Templates[templateUsed]
	if !ok || len(specs) == 0 {
		return Stage{}, &TransformResolutionError{Stage: name, Ref: templateUsed, Err: fmt.Errorf("unknown template")}
	}
	stage := Stage{Name: name}
	for _, s := range specs {
		if !isAbsolute(s.File) {
			return Stage{}, &TransformResolutionError{Stage: name, Ref: s.File, Err: fmt.Errorf("template transforms must be absolute")}
		}
		stage.Steps = append(stage.Steps, NewStep(s.File, s.Inverse))
	}
	return stage, nil
}

func isAbsolute(ref string) bool {
	return strings.HasPrefix(ref, "/") || strings.Contains(ref, "://")
}
