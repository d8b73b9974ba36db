// Package metadata wraps the free-form processing and acquisition JSON
// documents that accompany a dataset. Values are looked up with gjson paths
// so that schema drift between pipeline releases does not break decoding.
package metadata

import (
	"strings"
	"time"

	"github.com/tidwall/gjson"
)

// Metadata is an immutable view over a JSON document
type Metadata struct {
	doc gjson.Result
}

// Parse wraps raw JSON. Invalid JSON yields an empty Metadata.
func Parse(raw []byte) Metadata {
	if !gjson.ValidBytes(raw) {
		return Metadata{}
	}
	return Metadata{doc: gjson.ParseBytes(raw)}
}

// ParseString is Parse for a string document
func ParseString(raw string) Metadata {
	return Parse([]byte(raw))
}

// Get looks up a gjson path
func (m Metadata) Get(path string) gjson.Result {
	if !m.doc.Exists() {
		return gjson.Result{}
	}
	return m.doc.Get(path)
}

// Exists reports whether a document is present
func (m Metadata) Exists() bool { return m.doc.Exists() }

// Raw returns the underlying JSON text
func (m Metadata) Raw() string { return m.doc.Raw }

// first returns the first non-empty string found at any of paths
func (m Metadata) first(paths ...string) string {
	for _, p := range paths {
		if v := strings.TrimSpace(m.Get(p).String()); v != "" {
			return v
		}
	}
	return ""
}

// versionPaths are the locations pipeline releases have used for the
// pipeline version string, newest first.
var versionPaths = []string{
	"processing_pipeline.pipeline_version",
	"processing.processing_pipeline.pipeline_version",
	"pipeline_version",
}

// PipelineVersion returns the pipeline version string, or "" if absent.
func (m Metadata) PipelineVersion() string {
	return m.first(versionPaths...)
}

var acquisitionTimePaths = []string{
	"session_start_time",
	"acquisition.session_start_time",
	"acquisition_start_time",
	"acquisition.acquisition_start_time",
}

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// AcquisitionTime returns the acquisition start time. The boolean is false
// when no parseable timestamp is present.
func (m Metadata) AcquisitionTime() (time.Time, bool) {
	raw := m.first(acquisitionTimePaths...)
	if raw == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// ProcessOutput returns the output_location of the named data process in the
// processing pipeline, e.g. "Image atlas alignment".
func (m Metadata) ProcessOutput(name string) string {
	for _, root := range []string{"processing_pipeline.data_processes", "processing.processing_pipeline.data_processes", "data_processes"} {
		var found string
		m.Get(root).ForEach(func(_, proc gjson.Result) bool {
			if proc.Get("name").String() == name {
				found = proc.Get("output_location").String()
				return false
			}
			return true
		})
		if found != "" {
			return found
		}
	}
	return ""
}
