package transform

import (
	"context"
	"fmt"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"zarrdomain/internal/logging"
	"zarrdomain/internal/models"
)

// Locator makes a transform reference available as a local file.
// fetch.Cache satisfies it.
type Locator interface {
	Localize(ctx context.Context, uri string) (string, error)
}

// Orchestrator applies resolved chains to point sets
type Orchestrator struct {
	locator Locator
	engines []PointEngine
	logger  logrus.FieldLogger
}

// NewOrchestrator creates an orchestrator. Engines are consulted in order
// and the first supporting a step's kind applies it.
func NewOrchestrator(locator Locator, logger logrus.FieldLogger, engines ...PointEngine) *Orchestrator {
	return &Orchestrator{locator: locator, engines: engines, logger: logging.OrDiscard(logger)}
}

type boundStep struct {
	Step
	path   string
	engine PointEngine
}

// TransformPoints carries every layer of points through the chain. Layer
// names and point order are preserved. Every step is localized before any
// is applied, so an unresolvable file fails the call without partial work.
func (o *Orchestrator) TransformPoints(ctx context.Context, points models.PointSet, chain Chain) (models.PointSet, error) {
	bound, err := o.bind(ctx, chain)
	if err != nil {
		return nil, err
	}

	layers, pts, offsets := points.Flatten()
	for i, b := range bound {
		if len(pts) == 0 {
			break
		}
		out, err := b.engine.Apply(ctx, b.path, b.Inverse, pts)
		if err != nil {
			return nil, errors.Wrapf(err, "applying step %d (%s)", i, b.Step)
		}
		if len(out) != len(pts) {
			return nil, errors.Errorf("applying step %d (%s): %s engine returned %d points for %d", i, b.Step, b.engine.Name(), len(out), len(pts))
		}
		pts = out
		o.logger.WithFields(logrus.Fields{
			"step":   i,
			"ref":    b.Ref,
			"engine": b.engine.Name(),
			"points": len(pts),
		}).Debug("applied transform")
	}
	return models.Unflatten(layers, pts, offsets), nil
}

func (o *Orchestrator) bind(ctx context.Context, chain Chain) ([]boundStep, error) {
	var out []boundStep
	for _, stage := range []Stage{chain.Individual, chain.Template} {
		for _, s := range stage.Steps {
			engine := o.engineFor(s.Kind)
			if engine == nil {
				return nil, &TransformResolutionError{Stage: stage.Name, Ref: s.Ref, Err: fmt.Errorf("no engine for %s transforms", s.Kind)}
			}
			path, err := o.locator.Localize(ctx, s.Ref)
			if err != nil {
				return nil, &TransformResolutionError{Stage: stage.Name, Ref: s.Ref, Err: err}
			}
			out = append(out, boundStep{Step: s, path: path, engine: engine})
		}
	}
	return out, nil
}

func (o *Orchestrator) engineFor(kind Kind) PointEngine {
	for _, e := range o.engines {
		if e.Supports(kind) {
			return e
		}
	}
	return nil
}
