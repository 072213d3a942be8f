// Package aggregate folds validated defect records into canonical records.
package aggregate

import (
	"sort"
	"strings"

	"github.com/starford/a11yledger/internal/identity"
	"github.com/starford/a11yledger/internal/models"
)

// Merge combines two canonical records of the same defect. The result does
// not depend on argument order: the earlier-seen record is the primary
// operand for first-write-wins fields. Merging a record with itself returns
// it unchanged.
func Merge(a, b models.Canonical) models.Canonical {
	older, newer := a, b
	if before(b, a) {
		older, newer = b, a
	}

	out := older
	out.FirstSeen = min(older.FirstSeen, newer.FirstSeen)
	out.Version = max(older.Version, newer.Version)
	out.Record = mergeRecord(older.Record, newer.Record)
	out.Sightings = mergeSightings(older.Sightings, newer.Sightings)
	return out
}

// before orders canonicals by first sighting, then id, then content.
func before(a, b models.Canonical) bool {
	if a.FirstSeen != b.FirstSeen {
		return a.FirstSeen < b.FirstSeen
	}
	if a.ID != b.ID {
		return a.ID < b.ID
	}
	as, bs := strings.Join(a.Record.SourceReports, "\x1f"), strings.Join(b.Record.SourceReports, "\x1f")
	if as != bs {
		return as < bs
	}
	return a.Record.Title < b.Record.Title
}

func mergeRecord(older, newer models.DefectRecord) models.DefectRecord {
	out := models.DefectRecord{
		Title:          firstString(older.Title, newer.Title),
		Priority:       models.MaxPriority(older.Priority, newer.Priority),
		Environment:    older.Environment,
		AssistiveTech:  older.AssistiveTech,
		Page:           firstString(older.Page, newer.Page),
		Steps:          firstList(older.Steps, newer.Steps),
		ActualResult:   unionText(older.ActualResult, newer.ActualResult),
		ExpectedResult: unionText(older.ExpectedResult, newer.ExpectedResult),
		UserImpact:     unionText(older.UserImpact, newer.UserImpact),
		SuggestedFix:   unionText(older.SuggestedFix, newer.SuggestedFix),
		WCAGRefs:       unionSorted(older.WCAGRefs, newer.WCAGRefs),
		SourceReports:  unionSorted(older.SourceReports, newer.SourceReports),
		ReportedAt:     firstString(older.ReportedAt, newer.ReportedAt),
	}
	if out.Environment.IsZero() {
		out.Environment = newer.Environment
	}
	if out.AssistiveTech.IsZero() {
		out.AssistiveTech = newer.AssistiveTech
	}
	return out
}

func firstString(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

func firstList(a, b []string) []string {
	if len(a) > 0 {
		return append([]string(nil), a...)
	}
	if len(b) > 0 {
		return append([]string(nil), b...)
	}
	return nil
}

// unionText keeps the distinct observations of a followed by those of b.
// Observations that differ only in case, whitespace or punctuation are the
// same observation; the first spelling wins.
func unionText(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			s = strings.TrimSpace(s)
			key := identity.TextKey(s)
			if key == "" {
				continue
			}
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func unionSorted(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	var out []string
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if s == "" {
				continue
			}
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// mergeSightings keeps one sighting per source, the earliest by sequence.
func mergeSightings(a, b []models.Sighting) []models.Sighting {
	bySource := make(map[string]models.Sighting, len(a)+len(b))
	for _, list := range [][]models.Sighting{a, b} {
		for _, s := range list {
			if cur, ok := bySource[s.Source]; !ok || s.Seq < cur.Seq {
				bySource[s.Source] = s
			}
		}
	}
	if len(bySource) == 0 {
		return nil
	}
	out := make([]models.Sighting, 0, len(bySource))
	for _, s := range bySource {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Seq != out[j].Seq {
			return out[i].Seq < out[j].Seq
		}
		return out[i].Source < out[j].Source
	})
	return out
}
