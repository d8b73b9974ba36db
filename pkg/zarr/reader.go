package zarr

import (
	"context"
	"errors"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"zarrdomain/internal/logging"
	"zarrdomain/pkg/fetch"
)

// Reader loads Metadata through a fetcher
type Reader struct {
	fetcher fetch.Fetcher
	logger  logrus.FieldLogger
}

// NewReader returns a Reader; logger may be nil
func NewReader(fetcher fetch.Fetcher, logger logrus.FieldLogger) *Reader {
	return &Reader{fetcher: fetcher, logger: logging.OrDiscard(logger)}
}

// Read loads the multiscale attributes at locator, the shape of every level
// and the acquisition axes at acquisitionURI.
func (r *Reader) Read(ctx context.Context, locator, acquisitionURI string) (*Metadata, error) {
	attrs, err := r.fetcher.Fetch(ctx, fetch.Join(locator, ".zattrs"))
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reading multiscale attributes of %s", locator)
	}
	ms, err := ParseAttributes(attrs)
	if err != nil {
		return nil, pkgerrors.Wrap(err, locator)
	}

	for i := range ms.Datasets {
		ds := &ms.Datasets[i]
		raw, err := r.fetcher.Fetch(ctx, fetch.Join(locator, ds.Path, ".zarray"))
		if err != nil {
			var nf *fetch.ResourceNotFoundError
			if errors.As(err, &nf) {
				r.logger.WithFields(logrus.Fields{"locator": locator, "level": i}).Debug("no array metadata for level, shape will be derived")
				continue
			}
			return nil, pkgerrors.Wrapf(err, "reading array metadata of %s level %d", locator, i)
		}
		if ds.Shape, err = ParseArrayShape(raw); err != nil {
			return nil, pkgerrors.Wrapf(err, "%s level %d", locator, i)
		}
	}

	acqRaw, err := r.fetcher.Fetch(ctx, acquisitionURI)
	if err != nil {
		return nil, pkgerrors.Wrapf(err, "reading acquisition metadata for %s", locator)
	}
	acq, err := ParseAcquisition(acqRaw)
	if err != nil {
		return nil, pkgerrors.Wrap(err, acquisitionURI)
	}

	r.logger.WithFields(logrus.Fields{"locator": locator, "levels": len(ms.Datasets)}).Info("read multiscale metadata")
	return &Metadata{Locator: locator, Multiscale: ms, Acquisition: acq}, nil
}
