// Package selector decides which overlays apply to a dataset given its
// pipeline version, acquisition date and metadata.
//
// Rules keep registration order. Overlays are returned in that order and are
// never re-sorted, because later historical corrections assumed earlier ones
// had already run.
package selector

import (
	"fmt"
	"time"

	"github.com/sirupsen/logrus"

	"zarrdomain/pkg/metadata"
	"zarrdomain/pkg/overlay"
)

// Rule binds an overlay to the conditions under which it applies. All
// conditions must hold; a rule with no conditions always applies.
type Rule struct {
	Name       string
	Conditions []Condition
	Overlay    overlay.Overlay
}

// Matches reports whether every condition of r holds for q
func (r Rule) Matches(q Query) bool {
	for _, c := range r.Conditions {
		if !c.Holds(q) {
			return false
		}
	}
	return true
}

// DuplicateRuleError is returned when two rules share a name
type DuplicateRuleError struct {
	Name string
}

func (e *DuplicateRuleError) Error() string {
	return fmt.Sprintf("rule %q is already registered", e.Name)
}

// Selector is an ordered set of named rules
type Selector struct {
	rules  []Rule
	names  map[string]struct{}
	logger logrus.FieldLogger
}

// New builds a Selector from rules in the given order
func New(rules ...Rule) (*Selector, error) {
	s := &Selector{names: make(map[string]struct{}, len(rules))}
	for _, r := range rules {
		if err := s.Register(r); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// WithLogger sets the logger used to trace rule decisions
func (s *Selector) WithLogger(l logrus.FieldLogger) *Selector {
	s.logger = l
	return s
}

// Register appends a rule. Rule names must be unique.
func (s *Selector) Register(r Rule) error {
	if r.Overlay == nil {
		return fmt.Errorf("rule %q has no overlay", r.Name)
	}
	if _, ok := s.names[r.Name]; ok {
		return &DuplicateRuleError{Name: r.Name}
	}
	if s.names == nil {
		s.names = make(map[string]struct{})
	}
	s.names[r.Name] = struct{}{}
	s.rules = append(s.rules, r)
	return nil
}

// Rules returns a copy of the registered rules in order
func (s *Selector) Rules() []Rule {
	out := make([]Rule, len(s.rules))
	copy(out, s.rules)
	return out
}

// Extend returns a new Selector holding s's rules followed by extra. s is not
// modified.
func (s *Selector) Extend(extra ...Rule) (*Selector, error) {
	next, err := New(s.rules...)
	if err != nil {
		return nil, err
	}
	next.logger = s.logger
	for _, r := range extra {
		if err := next.Register(r); err != nil {
			return nil, err
		}
	}
	return next, nil
}

// Matching returns the rules whose conditions all hold, in registration order
func (s *Selector) Matching(q Query) []Rule {
	var out []Rule
	for _, r := range s.rules {
		ok := r.Matches(q)
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"rule":             r.Name,
				"pipeline_version": q.PipelineVersion,
				"matched":          ok,
			}).Debug("evaluated overlay rule")
		}
		if ok {
			out = append(out, r)
		}
	}
	return out
}

// Select returns the overlays of every matching rule in registration order.
// An empty result means the base header is used unmodified.
func (s *Selector) Select(pipelineVersion string, acquired time.Time, md metadata.Metadata) []overlay.Overlay {
	rules := s.Matching(Query{PipelineVersion: pipelineVersion, AcquisitionDate: acquired, Metadata: md})
	out := make([]overlay.Overlay, 0, len(rules))
	for _, r := range rules {
		out = append(out, r.Overlay)
	}
	return out
}
