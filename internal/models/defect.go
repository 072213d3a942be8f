// Package models defines the domain types for a11yledger.
package models

import (
	"fmt"
	"strings"
)

// Priority is the closed severity scale of a defect report.
type Priority int

// Priorities in ascending severity. The zero value is not a valid priority.
const (
	PriorityUnknown Priority = iota
	PriorityLow
	PriorityMedium
	PriorityHigh
	PriorityCritical
)

var priorityNames = map[Priority]string{
	PriorityLow:      "Low",
	PriorityMedium:   "Medium",
	PriorityHigh:     "High",
	PriorityCritical: "Critical",
}

// String returns the template spelling of p.
func (p Priority) String() string {
	if s, ok := priorityNames[p]; ok {
		return s
	}
	return "Unknown"
}

// ParsePriority matches s case-insensitively against the closed enum.
func ParsePriority(s string) (Priority, error) {
	s = strings.TrimSpace(s)
	for p, name := range priorityNames {
		if strings.EqualFold(s, name) {
			return p, nil
		}
	}
	return PriorityUnknown, fmt.Errorf("unknown priority %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (p Priority) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (p *Priority) UnmarshalText(b []byte) error {
	if s := string(b); s == "" || s == "Unknown" {
		*p = PriorityUnknown
		return nil
	}
	v, err := ParsePriority(string(b))
	if err != nil {
		return err
	}
	*p = v
	return nil
}

// MaxPriority returns the more severe of a and b.
func MaxPriority(a, b Priority) Priority {
	if b > a {
		return b
	}
	return a
}

// Environment is the platform a defect was observed on.
type Environment struct {
	OS                  string `json:"os,omitempty"`
	BrowserOrAppVersion string `json:"browser_or_app_version,omitempty"`
}

// IsZero reports whether no part of the environment is known.
func (e Environment) IsZero() bool {
	return e.OS == "" && e.BrowserOrAppVersion == ""
}

// String renders the environment in "OS / Browser" template form.
func (e Environment) String() string {
	switch {
	case e.OS != "" && e.BrowserOrAppVersion != "":
		return e.OS + " / " + e.BrowserOrAppVersion
	case e.OS != "":
		return e.OS
	default:
		return e.BrowserOrAppVersion
	}
}

// AssistiveTech is the screen reader or other assistive technology in use.
type AssistiveTech struct {
	Name    string `json:"name,omitempty"`
	Version string `json:"version,omitempty"`
}

// IsZero reports whether no assistive technology was recorded.
func (a AssistiveTech) IsZero() bool {
	return a.Name == "" && a.Version == ""
}

// String renders the assistive technology as "Name Version".
func (a AssistiveTech) String() string {
	return strings.TrimSpace(a.Name + " " + a.Version)
}

// RawRecord is one defect as read from a template document, before validation.
// Every field is the verbatim section body with surrounding whitespace trimmed.
type RawRecord struct {
	Source         string            `json:"source"`
	Title          string            `json:"title"`
	Priority       string            `json:"priority"`
	Environment    string            `json:"environment"`
	AssistiveTech  string            `json:"assistive_tech,omitempty"`
	Page           string            `json:"page"`
	Steps          []string          `json:"steps"`
	ActualResult   string            `json:"actual_result"`
	ExpectedResult string            `json:"expected_result"`
	UserImpact     string            `json:"user_impact"`
	SuggestedFix   string            `json:"suggested_fix"`
	WCAGRefs       []string          `json:"wcag_refs"`
	ReportedAt     string            `json:"reported_at,omitempty"`
	Extra          map[string]string `json:"extra,omitempty"`
}

// DefectRecord is a validated defect. The text findings are lists of distinct
// observations; a freshly validated record holds exactly one of each.
type DefectRecord struct {
	Title          string        `json:"title"`
	Priority       Priority      `json:"priority"`
	Environment    Environment   `json:"environment"`
	AssistiveTech  AssistiveTech `json:"assistive_tech"`
	Page           string        `json:"page"`
	Steps          []string      `json:"steps"`
	ActualResult   []string      `json:"actual_result"`
	ExpectedResult []string      `json:"expected_result"`
	UserImpact     []string      `json:"user_impact"`
	SuggestedFix   []string      `json:"suggested_fix"`
	WCAGRefs       []string      `json:"wcag_refs"`
	SourceReports  []string      `json:"source_reports"`
	ReportedAt     string        `json:"reported_at,omitempty"`
}

// Fingerprint identifies "the same defect". Base is derived from the record
// content; Variant separates distinct defects that share a Base.
type Fingerprint struct {
	Base    string `json:"base"`
	Variant int    `json:"variant"`
}

// Key returns the canonical record id for the fingerprint.
func (f Fingerprint) Key() string {
	if f.Variant == 0 {
		return f.Base
	}
	return fmt.Sprintf("%s-%d", f.Base, f.Variant)
}

// Sighting is one contribution of a source report to a canonical record.
type Sighting struct {
	Source        string        `json:"source"`
	Seq           int64         `json:"seq"`
	Environment   Environment   `json:"environment"`
	AssistiveTech AssistiveTech `json:"assistive_tech"`
	ReportedAt    string        `json:"reported_at,omitempty"`
}

// Canonical is the single merged representation of a defect in the store.
type Canonical struct {
	ID             string       `json:"id"`
	Fingerprint    Fingerprint  `json:"fingerprint"`
	NormalizedPage string       `json:"normalized_page"`
	PrimaryRef     string       `json:"primary_ref"`
	TitleSignature string       `json:"title_signature"`
	FirstSeen      int64        `json:"first_seen"`
	Version        int          `json:"version"`
	Record         DefectRecord `json:"record"`
	Sightings      []Sighting   `json:"sightings"`
}

// Conflict is an ambiguous fingerprint collision held for manual review.
type Conflict struct {
	ID          int64        `json:"id"`
	Source      string       `json:"source"`
	CandidateID string       `json:"candidate_id"`
	Score       float64      `json:"score"`
	Title       string       `json:"title"`
	Page        string       `json:"page"`
	RunID       string       `json:"run_id"`
	Record      DefectRecord `json:"record"`
}
