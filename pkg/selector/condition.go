package selector

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	version "github.com/hashicorp/go-version"

	"zarrdomain/pkg/metadata"
)

// Query is what a rule's conditions are evaluated against
type Query struct {
	PipelineVersion string
	AcquisitionDate time.Time
	Metadata        metadata.Metadata
}

// ConditionKind enumerates the closed set of condition variants
type ConditionKind int

const (
	VersionRange ConditionKind = iota
	DateRange
	MetadataPredicate
)

func (k ConditionKind) String() string {
	switch k {
	case VersionRange:
		return "version"
	case DateRange:
		return "date"
	case MetadataPredicate:
		return "metadata"
	default:
		return fmt.Sprintf("ConditionKind(%d)", int(k))
	}
}

// Condition is one conjunct of a rule's predicate. Build it with Versions,
// Dates or Predicate.
type Condition struct {
	kind ConditionKind

	spec        string
	constraints version.Constraints

	from, until time.Time

	label string
	fn    func(Query) bool
}

// Kind reports which variant c is
func (c Condition) Kind() ConditionKind { return c.kind }

func (c Condition) String() string {
	switch c.kind {
	case VersionRange:
		return "version " + c.spec
	case DateRange:
		return fmt.Sprintf("date [%s, %s)", fmtDate(c.from), fmtDate(c.until))
	default:
		return "metadata " + c.label
	}
}

func fmtDate(t time.Time) string {
	if t.IsZero() {
		return "*"
	}
	return t.Format("2006-01-02")
}

// Holds evaluates c against q. Version conditions fail closed: a version
// string with no parseable release number never matches.
func (c Condition) Holds(q Query) bool {
	switch c.kind {
	case VersionRange:
		v, err := ParseVersion(q.PipelineVersion)
		if err != nil {
			return false
		}
		return c.constraints.Check(v)
	case DateRange:
		if q.AcquisitionDate.IsZero() {
			return false
		}
		if !c.from.IsZero() && q.AcquisitionDate.Before(c.from) {
			return false
		}
		if !c.until.IsZero() && !q.AcquisitionDate.Before(c.until) {
			return false
		}
		return true
	case MetadataPredicate:
		return c.fn != nil && c.fn(q)
	default:
		return false
	}
}

// specOperators rewrites Python-style specifier operators into the syntax
// go-version understands.
var specOperators = strings.NewReplacer("==", "=", "~=", "~>")

// Versions builds a version-range condition from a comma separated specifier
// set such as ">=0.0.18,<0.0.26".
func Versions(spec string) (Condition, error) {
	c, err := version.NewConstraint(specOperators.Replace(spec))
	if err != nil {
		return Condition{}, fmt.Errorf("invalid version specifier %q: %w", spec, err)
	}
	return Condition{kind: VersionRange, spec: spec, constraints: c}, nil
}

// MustVersions is Versions for literals; it panics on a bad specifier.
func MustVersions(spec string) Condition {
	c, err := Versions(spec)
	if err != nil {
		panic(err)
	}
	return c
}

// Dates builds an acquisition-date condition covering [from, until). A zero
// bound is open.
func Dates(from, until time.Time) Condition {
	return Condition{kind: DateRange, from: from, until: until}
}

// Predicate wraps an arbitrary function of the query.
func Predicate(label string, fn func(Query) bool) Condition {
	return Condition{kind: MetadataPredicate, label: label, fn: fn}
}

var releasePattern = regexp.MustCompile(`\d+(?:\.\d+)+`)

// ParseVersion extracts the first dotted release number from free text such
// as "SmartSPIM pipeline v0.0.25".
func ParseVersion(s string) (*version.Version, error) {
	m := releasePattern.FindString(s)
	if m == "" {
		return nil, fmt.Errorf("no release number in %q", s)
	}
	return version.NewVersion(m)
}
