package reconstruction

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/spatial/r3"

	"zarrdomain/internal/logging"
	"zarrdomain/pkg/header"
	"zarrdomain/pkg/metadata"
	"zarrdomain/pkg/overlay"
	"zarrdomain/pkg/selector"
	"zarrdomain/pkg/zarr"
)

// DefaultScaleUnit is the canonical physical unit of reconstructed headers
const DefaultScaleUnit = "millimeter"

// MissingVersionError is returned when processing metadata carries no
// pipeline version. Overlay selection has no sensible default without one.
type MissingVersionError struct {
	Locator string
}

func (e *MissingVersionError) Error() string {
	return fmt.Sprintf("processing metadata for %s has no pipeline version", e.Locator)
}

// Params holds the reconstruction configuration.
type Params struct {
	// Selector resolves overlays. Nil uses selector.Default().
	Selector *selector.Selector

	// ScaleUnit is the unit header spacing is expressed in. Empty means
	// millimeters.
	ScaleUnit string

	// Logger receives one entry per reconstruction. May be nil.
	Logger logrus.FieldLogger
}

// Domain is the result of a reconstruction.
type Domain struct {
	// Header is the corrected header
	Header header.Header

	// Base is the header derived from the multiscale metadata alone
	Base header.Header

	// PipelineVersion is the version string read from processing metadata
	PipelineVersion string

	// Level is the resolution level the header describes
	Level int

	// Applied names the overlays folded over Base, in order
	Applied []string
}

// Corrected reports whether any overlay was applied
func (d *Domain) Corrected() bool { return len(d.Applied) > 0 }

// Reconstructor rebuilds the spatial domain a versioned pipeline produced for
// a dataset.
//
// The process consists of:
// 1. Reading the pipeline version from processing metadata
// 2. Building the base header for the requested level
// 3. Selecting the overlays that apply to the version and acquisition
// 4. Folding the overlays over the base header in order
type Reconstructor struct {
	params *Params
	logger logrus.FieldLogger
}

// NewReconstructor creates a reconstructor. A nil params uses defaults.
func NewReconstructor(params *Params) *Reconstructor {
	if params == nil {
		params = &Params{}
	}
	p := *params
	if p.Selector == nil {
		p.Selector = selector.Default()
	}
	if p.ScaleUnit == "" {
		p.ScaleUnit = DefaultScaleUnit
	}
	return &Reconstructor{params: &p, logger: logging.OrDiscard(p.Logger)}
}

// BaseHeader builds the uncorrected header of one level. Origin is the
// physical zero; direction comes from the acquisition axes.
func (r *Reconstructor) BaseHeader(md *zarr.Metadata, level int) (header.Header, error) {
	return BaseHeader(md, level, r.params.ScaleUnit)
}

// BaseHeader builds the uncorrected header of one level with spacing in unit.
func BaseHeader(md *zarr.Metadata, level int, unit string) (header.Header, error) {
	raw, err := md.RawHeader(level, unit)
	if err != nil {
		return header.Header{}, err
	}
	dir, err := header.DirectionFromOrientation(raw.Orientation)
	if err != nil {
		return header.Header{}, errors.Wrapf(err, "%s level %d", md.Locator, level)
	}
	h, err := header.New(r3.Vec{}, header.Vec(raw.Spacing), dir, raw.Size)
	if err != nil {
		return header.Header{}, errors.Wrapf(err, "%s level %d", md.Locator, level)
	}
	return h, nil
}

// EstimatePipelineDomain reconstructs the header the pipeline produced for
// one level of a dataset. When no rule matches the pipeline version the base
// header is returned unmodified and Domain.Corrected reports false.
func (r *Reconstructor) EstimatePipelineDomain(md *zarr.Metadata, processing metadata.Metadata, level int) (*Domain, error) {
	version := processing.PipelineVersion()
	if version == "" {
		return nil, &MissingVersionError{Locator: md.Locator}
	}

	base, err := r.BaseHeader(md, level)
	if err != nil {
		return nil, err
	}

	acquired, _ := acquisitionDate(md, processing)
	overlays := r.params.Selector.Select(version, acquired, processing)

	corrected, err := overlay.Apply(base, overlays, processing, level)
	if err != nil {
		return nil, errors.Wrapf(err, "%s pipeline version %q", md.Locator, version)
	}

	applied := make([]string, len(overlays))
	for i, o := range overlays {
		applied[i] = o.Name()
	}

	r.logger.WithFields(logrus.Fields{
		"locator":          md.Locator,
		"pipeline_version": version,
		"level":            level,
		"overlays":         applied,
	}).Info("reconstructed pipeline domain")

	return &Domain{
		Header:          corrected,
		Base:            base,
		PipelineVersion: version,
		Level:           level,
		Applied:         applied,
	}, nil
}

// acquisitionDate prefers the acquisition document and falls back to the
// processing metadata.
func acquisitionDate(md *zarr.Metadata, processing metadata.Metadata) (time.Time, bool) {
	if t, ok := md.Acquisition.Document.AcquisitionTime(); ok {
		return t, true
	}
	return processing.AcquisitionTime()
}

// ReconstructHeader is EstimatePipelineDomain with the default rule set,
// returning only the corrected header.
func ReconstructHeader(md *zarr.Metadata, processing metadata.Metadata, level int) (header.Header, error) {
	d, err := NewReconstructor(nil).EstimatePipelineDomain(md, processing, level)
	if err != nil {
		return header.Header{}, err
	}
	return d.Header, nil
}
