// Package fetch retrieves metadata and transform files from local paths,
// HTTP(S) URLs and S3 URIs.
package fetch

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
)

// Fetcher returns the raw bytes behind a URI
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// ResourceNotFoundError means the resource does not exist
type ResourceNotFoundError struct {
	URI string
}

func (e *ResourceNotFoundError) Error() string {
	return fmt.Sprintf("resource not found: %s", e.URI)
}

// ResourceUnavailableError is any other failure to read a resource
type ResourceUnavailableError struct {
	URI string
	Err error
}

func (e *ResourceUnavailableError) Error() string {
	return fmt.Sprintf("resource unavailable: %s: %v", e.URI, e.Err)
}

func (e *ResourceUnavailableError) Unwrap() error { return e.Err }

// LocalFetcher reads from the local filesystem. file:// URIs are accepted.
type LocalFetcher struct{}

func (LocalFetcher) Fetch(_ context.Context, uri string) ([]byte, error) {
	path := strings.TrimPrefix(uri, "file://")
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, &ResourceNotFoundError{URI: uri}
		}
		return nil, &ResourceUnavailableError{URI: uri, Err: err}
	}
	return data, nil
}

// HTTPFetcher performs GET requests
type HTTPFetcher struct {
	Client *http.Client
}

func (f HTTPFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	client := f.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, uri, nil)
	if err != nil {
		return nil, &ResourceUnavailableError{URI: uri, Err: err}
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, &ResourceUnavailableError{URI: uri, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, &ResourceNotFoundError{URI: uri}
	case resp.StatusCode >= 300:
		return nil, &ResourceUnavailableError{URI: uri, Err: fmt.Errorf("HTTP status %d", resp.StatusCode)}
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ResourceUnavailableError{URI: uri, Err: err}
	}
	return data, nil
}

// S3Fetcher reads objects through the S3 API
type S3Fetcher struct {
	api s3iface.S3API
}

// NewS3Fetcher wraps an S3 client
func NewS3Fetcher(api s3iface.S3API) S3Fetcher {
	return S3Fetcher{api: api}
}

func (f S3Fetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	bucket, key, err := ParseS3URI(uri)
	if err != nil {
		return nil, &ResourceUnavailableError{URI: uri, Err: err}
	}
	out, err := f.api.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		if isS3NotFound(err) {
			return nil, &ResourceNotFoundError{URI: uri}
		}
		return nil, &ResourceUnavailableError{URI: uri, Err: err}
	}
	defer out.Body.Close()

	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, &ResourceUnavailableError{URI: uri, Err: err}
	}
	return data, nil
}

func isS3NotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

// ParseS3URI splits s3://bucket/key into its parts
func ParseS3URI(uri string) (bucket, key string, err error) {
	u, err := url.Parse(uri)
	if err != nil {
		return "", "", err
	}
	if u.Scheme != "s3" || u.Host == "" {
		return "", "", fmt.Errorf("not a valid S3 URI: %s", uri)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Scheme classifies a URI as "s3", "http" or "file"
func Scheme(uri string) string {
	switch {
	case strings.HasPrefix(uri, "s3://"):
		return "s3"
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return "http"
	default:
		return "file"
	}
}

// Router dispatches on URI scheme. A nil backend reports the scheme as
// unavailable.
type Router struct {
	Local Fetcher
	HTTP  Fetcher
	S3    Fetcher
}

func (r Router) Fetch(ctx context.Context, uri string) ([]byte, error) {
	var f Fetcher
	switch Scheme(uri) {
	case "s3":
		f = r.S3
	case "http":
		f = r.HTTP
	default:
		f = r.Local
	}
	if f == nil {
		return nil, &ResourceUnavailableError{URI: uri, Err: fmt.Errorf("no fetcher configured for %s URIs", Scheme(uri))}
	}
	return f.Fetch(ctx, uri)
}

// Join appends path elements to a URI using forward slashes
func Join(base string, elem ...string) string {
	out := strings.TrimRight(base, "/")
	for _, e := range elem {
		e = strings.Trim(e, "/")
		if e == "" {
			continue
		}
		out += "/" + e
	}
	return out
}
