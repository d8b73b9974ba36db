package fetch

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves objects from a map
type fakeS3 struct {
	s3iface.S3API
	objects map[string]string
	calls   int
}

func (f *fakeS3) GetObjectWithContext(_ aws.Context, in *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	f.calls++
	body, ok := f.objects[*in.Bucket+"/"+*in.Key]
	if !ok {
		return nil, awserr.New(s3.ErrCodeNoSuchKey, "missing", nil)
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader(body))}, nil
}

// countingFetcher counts calls through to another fetcher
type countingFetcher struct {
	inner Fetcher
	calls int
}

func (c *countingFetcher) Fetch(ctx context.Context, uri string) ([]byte, error) {
	c.calls++
	return c.inner.Fetch(ctx, uri)
}

func TestParseS3URI(t *testing.T) {
	bucket, key, err := ParseS3URI("s3://aind-open-data/SmartSPIM_1/acquisition.json")
	require.NoError(t, err)
	assert.Equal(t, "aind-open-data", bucket)
	assert.Equal(t, "SmartSPIM_1/acquisition.json", key)

	_, _, err = ParseS3URI("https://example.org/x")
	assert.Error(t, err)
	_, _, err = ParseS3URI("s3:///nokey")
	assert.Error(t, err)
}

func TestScheme(t *testing.T) {
	assert.Equal(t, "s3", Scheme("s3://b/k"))
	assert.Equal(t, "http", Scheme("https://host/x"))
	assert.Equal(t, "http", Scheme("http://host/x"))
	assert.Equal(t, "file", Scheme("/tmp/x"))
	assert.Equal(t, "file", Scheme("file:///tmp/x"))
}

func TestJoin(t *testing.T) {
	assert.Equal(t, "s3://b/a/b/.zattrs", Join("s3://b/a/", "/b/", ".zattrs"))
	assert.Equal(t, "/data/x", Join("/data", "", "x"))
}

func TestLocalFetcher(t *testing.T) {
	dir := t.TempDir()
	p := filepath.Join(dir, "a.json")
	require.NoError(t, os.WriteFile(p, []byte(`{"a":1}`), 0644))

	data, err := LocalFetcher{}.Fetch(context.Background(), "file://"+p)
	require.NoError(t, err)
	assert.Equal(t, `{"a":1}`, string(data))

	_, err = LocalFetcher{}.Fetch(context.Background(), filepath.Join(dir, "missing.json"))
	var nf *ResourceNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestHTTPFetcher(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/ok.json":
			_, _ = w.Write([]byte(`{"ok":true}`))
		case "/broken":
			w.WriteHeader(http.StatusInternalServerError)
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	f := HTTPFetcher{Client: srv.Client()}
	data, err := f.Fetch(context.Background(), srv.URL+"/ok.json")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, string(data))

	_, err = f.Fetch(context.Background(), srv.URL+"/missing")
	var nf *ResourceNotFoundError
	assert.ErrorAs(t, err, &nf)

	_, err = f.Fetch(context.Background(), srv.URL+"/broken")
	var ua *ResourceUnavailableError
	assert.ErrorAs(t, err, &ua)
}

func TestS3Fetcher(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"bucket/a/b.json": `{"b":2}`}}
	f := NewS3Fetcher(api)

	data, err := f.Fetch(context.Background(), "s3://bucket/a/b.json")
	require.NoError(t, err)
	assert.Equal(t, `{"b":2}`, string(data))

	_, err = f.Fetch(context.Background(), "s3://bucket/a/c.json")
	var nf *ResourceNotFoundError
	assert.ErrorAs(t, err, &nf)
}

func TestRouter(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"bucket/k": "s3-data"}}
	r := Router{Local: LocalFetcher{}, S3: NewS3Fetcher(api)}

	data, err := r.Fetch(context.Background(), "s3://bucket/k")
	require.NoError(t, err)
	assert.Equal(t, "s3-data", string(data))

	_, err = r.Fetch(context.Background(), "https://example.org/x")
	var ua *ResourceUnavailableError
	assert.ErrorAs(t, err, &ua)
}

func TestCacheFetchesOnce(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"bucket/k.json": `{"x":[1,2]}`}}
	c := NewCache(NewS3Fetcher(api), t.TempDir(), time.Minute, time.Minute, nil)

	for i := 0; i < 3; i++ {
		doc, err := c.FetchJSON(context.Background(), "s3://bucket/k.json")
		require.NoError(t, err)
		assert.Equal(t, int64(2), doc.Get("x.1").Int())
	}
	assert.Equal(t, 1, api.calls)
}

func TestCacheRejectsInvalidJSON(t *testing.T) {
	api := &fakeS3{objects: map[string]string{"bucket/bad.json": `{not json`}}
	c := NewCache(NewS3Fetcher(api), t.TempDir(), time.Minute, time.Minute, nil)

	_, err := c.FetchJSON(context.Background(), "s3://bucket/bad.json")
	var ua *ResourceUnavailableError
	assert.ErrorAs(t, err, &ua)
}

func TestCacheDoesNotCacheErrors(t *testing.T) {
	inner := &countingFetcher{inner: LocalFetcher{}}
	c := NewCache(inner, t.TempDir(), time.Minute, time.Minute, nil)
	missing := filepath.Join(t.TempDir(), "nope.json")

	_, err := c.Fetch(context.Background(), missing)
	assert.Error(t, err)
	_, err = c.Fetch(context.Background(), missing)
	assert.Error(t, err)
	assert.Equal(t, 2, inner.calls)
}

func TestLocalize(t *testing.T) {
	content := []byte("#Insight Transform File V1.0\n")
	api := &fakeS3{objects: map[string]string{"bucket/reg/affine.txt": string(content), "bucket/reg/warp.nii.gz": "gz"}}
	dir := t.TempDir()
	c := NewCache(NewS3Fetcher(api), dir, time.Minute, time.Minute, nil)

	p, err := c.Localize(context.Background(), "s3://bucket/reg/affine.txt")
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, Fingerprint(content)+".txt"), p)
	got, err := os.ReadFile(p)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(content, got))

	p, err = c.Localize(context.Background(), "s3://bucket/reg/warp.nii.gz")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(p, ".nii.gz"))

	local := filepath.Join(dir, "local.mat")
	require.NoError(t, os.WriteFile(local, []byte("x"), 0644))
	p, err = c.Localize(context.Background(), local)
	require.NoError(t, err)
	assert.Equal(t, local, p)

	_, err = c.Localize(context.Background(), filepath.Join(dir, "absent.mat"))
	var nf *ResourceNotFoundError
	assert.ErrorAs(t, err, &nf)
}
