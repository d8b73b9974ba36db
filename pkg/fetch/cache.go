package fetch

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"zarrdomain/internal/logging"
)

const DefaultExpiration = 10 * time.Minute
const DefaultCleanupInterval = 30 * time.Minute

// Cache memoizes fetched resources. Content is stored once per SHA-256
// fingerprint; URIs map to fingerprints.
type Cache struct {
	fetcher Fetcher
	dir     string
	uris    *gocache.Cache
	blobs   *gocache.Cache
	logger  logrus.FieldLogger
}

// NewCache wraps fetcher. dir is where Localize writes remote files; an empty
// dir uses the OS temp directory.
func NewCache(fetcher Fetcher, dir string, expiration, cleanup time.Duration, logger logrus.FieldLogger) *Cache {
	logger = logging.OrDiscard(logger)
	if dir == "" {
		dir = filepath.Join(os.TempDir(), "zarrdomain-cache")
	}
	return &Cache{
		fetcher: fetcher,
		dir:     dir,
		uris:    gocache.New(expiration, cleanup),
		blobs:   gocache.New(expiration, cleanup),
		logger:  logger,
	}
}

// Fingerprint returns the content fingerprint used as cache key
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// Fetch returns the bytes behind uri, from memory when possible
func (c *Cache) Fetch(ctx context.Context, uri string) ([]byte, error) {
	if fp, ok := c.uris.Get(uri); ok {
		if data, ok := c.blobs.Get(fp.(string)); ok {
			c.logger.WithField("uri", uri).Debug("cache hit")
			return data.([]byte), nil
		}
	}

	data, err := c.fetcher.Fetch(ctx, uri)
	if err != nil {
		return nil, err
	}
	fp := Fingerprint(data)
	c.blobs.SetDefault(fp, data)
	c.uris.SetDefault(uri, fp)
	c.logger.WithFields(logrus.Fields{"uri": uri, "fingerprint": fp[:12], "bytes": len(data)}).Debug("fetched resource")
	return data, nil
}

// FetchJSON fetches uri and checks that it holds valid JSON
func (c *Cache) FetchJSON(ctx context.Context, uri string) (gjson.Result, error) {
	data, err := c.Fetch(ctx, uri)
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, &ResourceUnavailableError{URI: uri, Err: errors.New("invalid JSON")}
	}
	return gjson.ParseBytes(data), nil
}

// Localize returns a local filesystem path holding the content of uri.
// Local paths are returned as they are once their existence is confirmed;
// remote resources are written to the cache directory under their
// fingerprint, keeping the original extension.
func (c *Cache) Localize(ctx context.Context, uri string) (string, error) {
	if Scheme(uri) == "file" {
		p := strings.TrimPrefix(uri, "file://")
		if _, err := os.Stat(p); err != nil {
			if os.IsNotExist(err) {
				return "", &ResourceNotFoundError{URI: uri}
			}
			return "", &ResourceUnavailableError{URI: uri, Err: err}
		}
		return p, nil
	}

	data, err := c.Fetch(ctx, uri)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(c.dir, 0755); err != nil {
		return "", &ResourceUnavailableError{URI: uri, Err: errors.Wrap(err, "creating cache directory")}
	}
	target := filepath.Join(c.dir, Fingerprint(data)+extension(uri))
	if _, err := os.Stat(target); err == nil {
		return target, nil
	}
	tmp := target + ".part"
	if err := os.WriteFile(tmp, data, 0644); err != nil {
		return "", &ResourceUnavailableError{URI: uri, Err: err}
	}
	if err := os.Rename(tmp, target); err != nil {
		return "", &ResourceUnavailableError{URI: uri, Err: err}
	}
	c.logger.WithFields(logrus.Fields{"uri": uri, "path": target}).Debug("localized resource")
	return target, nil
}

// extension keeps compound suffixes such as .nii.gz
func extension(uri string) string {
	base := path.Base(strings.SplitN(uri, "?", 2)[0])
	if strings.HasSuffix(base, ".nii.gz") {
		return ".nii.gz"
	}
	return path.Ext(base)
}
