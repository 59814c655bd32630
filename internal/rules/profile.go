// Package rules owns the qualification-rules profile: loading, validation,
// and atomic hot-reload. Scoring always works against an explicit Snapshot,
// never a hidden global, so a reload mid-evaluation cannot change the rules
// a lead is judged by.
package rules

import (
	"bytes"
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Profile is the qualification-rules document as written by operators.
// YAML is the canonical format; JSON documents parse as well since JSON is a
// YAML subset.
type Profile struct {
	TargetIndustries []string `yaml:"target_industries"`
	RevenueMin       float64  `yaml:"revenue_min"`
	IdealTitles      []string `yaml:"ideal_titles"`
	ExcludedTitles   []string `yaml:"excluded_titles"`
}

// Snapshot is an immutable, validated profile plus load metadata. All lookup
// sets are precomputed lowercase so scoring reads are allocation-free.
type Snapshot struct {
	Profile
	Version  int
	LoadedAt time.Time

	industries map[string]struct{}
	ideal      map[string]struct{}
	excluded   map[string]struct{}
}

func newSnapshot(p Profile, version int, loadedAt time.Time) *Snapshot {
	return &Snapshot{
		Profile:    p,
		Version:    version,
		LoadedAt:   loadedAt,
		industries: lowerSet(p.TargetIndustries),
		ideal:      lowerSet(p.IdealTitles),
		excluded:   lowerSet(p.ExcludedTitles),
	}
}

// NewSnapshot builds a standalone snapshot from a profile. The store manages
// versioning for file-backed profiles; this constructor serves callers that
// assemble a profile programmatically.
func NewSnapshot(p Profile) *Snapshot {
	return newSnapshot(p, 1, time.Now())
}

// IsTargetIndustry reports whether the industry qualifies under the profile.
// An empty target set means the profile does not restrict by industry.
func (s *Snapshot) IsTargetIndustry(industry string) bool {
	if len(s.industries) == 0 {
		return true
	}
	_, ok := s.industries[strings.ToLower(strings.TrimSpace(industry))]
	return ok
}

// IsIdealTitle reports whether the title is on the profile's allow list.
func (s *Snapshot) IsIdealTitle(title string) bool {
	_, ok := s.ideal[strings.ToLower(strings.TrimSpace(title))]
	return ok
}

// IsExcludedTitle reports whether the title is on the profile's deny list.
func (s *Snapshot) IsExcludedTitle(title string) bool {
	_, ok := s.excluded[strings.ToLower(strings.TrimSpace(title))]
	return ok
}

// parseProfile decodes and validates a rules document. Unknown keys are
// rejected so a typo in the document cannot silently disable a rule.
func parseProfile(data []byte) (Profile, error) {
	var p Profile

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return Profile{}, fmt.Errorf("parse rules profile: %w", err)
	}

	if err := validateProfile(p); err != nil {
		return Profile{}, err
	}

	return p, nil
}

func validateProfile(p Profile) error {
	if p.RevenueMin < 0 {
		return fmt.Errorf("revenue_min must not be negative")
	}

	if len(p.TargetIndustries) == 0 && p.RevenueMin == 0 &&
		len(p.IdealTitles) == 0 && len(p.ExcludedTitles) == 0 {
		return fmt.Errorf("rules profile is empty")
	}

	excluded := lowerSet(p.ExcludedTitles)
	for _, title := range p.IdealTitles {
		if _, ok := excluded[strings.ToLower(strings.TrimSpace(title))]; ok {
			return fmt.Errorf("title %q is both ideal and excluded", title)
		}
	}

	return nil
}

func lowerSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		trimmed := strings.ToLower(strings.TrimSpace(v))
		if trimmed != "" {
			set[trimmed] = struct{}{}
		}
	}
	return set
}
