// Package emit renders canonical defect records into a structured document
// that follows the defect template field order.
package emit

import (
	"fmt"
	"sort"
	"strings"

	"github.com/starford/a11yledger/internal/models"
	"github.com/starford/a11yledger/internal/wcag"
)

// OrderBy selects the section order of a document.
type OrderBy string

const (
	// OrderByPage sorts by page, then priority descending, then first seen.
	OrderByPage OrderBy = "page"
	// OrderByPriority sorts by priority descending, then first seen.
	OrderByPriority OrderBy = "priority"
	// OrderByFirstSeen sorts by ingestion order.
	OrderByFirstSeen OrderBy = "first-seen"
)

// OrderByValues lists the accepted OrderBy spellings.
var OrderByValues = []OrderBy{OrderByPage, OrderByPriority, OrderByFirstSeen}

// ParseOrderBy parses s; the empty string selects OrderByPage.
func ParseOrderBy(s string) (OrderBy, error) {
	if s == "" {
		return OrderByPage, nil
	}
	for _, o := range OrderByValues {
		if strings.EqualFold(s, string(o)) {
			return o, nil
		}
	}
	return "", fmt.Errorf("emit: unknown order %q", s)
}

// Template field names, in emission order.
const (
	FieldTitle          = "Title"
	FieldPriority       = "Priority"
	FieldEnvironment    = "OS/Browser"
	FieldAssistiveTech  = "Screen Reader"
	FieldPage           = "Page"
	FieldSteps          = "Steps to Reproduce"
	FieldActualResult   = "Actual Result"
	FieldExpectedResult = "Expected Result"
	FieldUserImpact     = "User Impact"
	FieldSuggestedFix   = "Suggested Fix"
	FieldWCAGRefs       = "WCAG Reference"
	FieldSourceReports  = "Source Reports"
)

// Field is one template field of a section.
type Field struct {
	Name   string   `json:"name"`
	Values []string `json:"values"`
}

// Section is the rendering of one canonical record.
type Section struct {
	ID      string  `json:"id"`
	Version int     `json:"version"`
	Heading string  `json:"heading"`
	Fields  []Field `json:"fields"`
}

// Count is one row of a summary breakdown.
type Count struct {
	Key   string `json:"key"`
	Count int    `json:"count"`
}

// Summary aggregates a document's records.
type Summary struct {
	Total      int     `json:"total"`
	ByPriority []Count `json:"by_priority"`
	ByPage     []Count `json:"by_page"`
}

// Document is the canonical output. It carries no timestamps, so rendering
// the same records always yields the same document.
type Document struct {
	Title    string    `json:"title"`
	OrderBy  OrderBy   `json:"order_by"`
	Summary  Summary   `json:"summary"`
	Sections []Section `json:"sections"`
}

// DocumentTitle is the title of every rendered document.
const DocumentTitle = "Accessibility Defect Report"

// Render orders records and emits one section per record. records is not
// modified.
func Render(records []models.Canonical, order OrderBy) Document {
	sorted := append([]models.Canonical(nil), records...)
	sortRecords(sorted, order)

	doc := Document{
		Title:    DocumentTitle,
		OrderBy:  order,
		Summary:  summarize(sorted),
		Sections: make([]Section, 0, len(sorted)),
	}
	for _, c := range sorted {
		doc.Sections = append(doc.Sections, section(c))
	}
	return doc
}

func sortRecords(recs []models.Canonical, order OrderBy) {
	sort.SliceStable(recs, func(i, j int) bool {
		a, b := recs[i], recs[j]
		if order == OrderByPage || order == "" {
			if a.NormalizedPage != b.NormalizedPage {
				return a.NormalizedPage < b.NormalizedPage
			}
		}
		if order != OrderByFirstSeen && a.Record.Priority != b.Record.Priority {
			return a.Record.Priority > b.Record.Priority
		}
		if a.FirstSeen != b.FirstSeen {
			return a.FirstSeen < b.FirstSeen
		}
		return a.ID < b.ID
	})
}

func section(c models.Canonical) Section {
	r := c.Record
	var fields []Field
	add := func(name string, values ...string) {
		var kept []string
		for _, v := range values {
			if v = strings.TrimSpace(v); v != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) > 0 {
			fields = append(fields, Field{Name: name, Values: kept})
		}
	}

	add(FieldTitle, r.Title)
	add(FieldPriority, r.Priority.String())
	add(FieldEnvironment, environments(c)...)
	add(FieldAssistiveTech, assistiveTechs(c)...)
	add(FieldPage, r.Page)
	add(FieldSteps, r.Steps...)
	add(FieldActualResult, r.ActualResult...)
	add(FieldExpectedResult, r.ExpectedResult...)
	add(FieldUserImpact, r.UserImpact...)
	add(FieldSuggestedFix, r.SuggestedFix...)
	add(FieldWCAGRefs, refs(r.WCAGRefs)...)
	add(FieldSourceReports, r.SourceReports...)

	return Section{ID: c.ID, Version: c.Version, Heading: r.Title, Fields: fields}
}

// environments lists the record environment followed by any other
// environment seen in a sighting.
func environments(c models.Canonical) []string {
	vals := []string{c.Record.Environment.String()}
	for _, s := range c.Sightings {
		vals = append(vals, s.Environment.String())
	}
	return distinct(vals)
}

func assistiveTechs(c models.Canonical) []string {
	vals := []string{c.Record.AssistiveTech.String()}
	for _, s := range c.Sightings {
		vals = append(vals, s.AssistiveTech.String())
	}
	return distinct(vals)
}

// refs renders criterion ids as "4.1.2 Name, Role, Value (url)".
func refs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		c, ok := wcag.Lookup(id)
		if !ok {
			out = append(out, id)
			continue
		}
		out = append(out, fmt.Sprintf("%s %s (%s)", c.ID, c.Name, wcag.UnderstandingURL(c.ID)))
	}
	return out
}

func distinct(vals []string) []string {
	seen := make(map[string]struct{}, len(vals))
	var out []string
	for _, v := range vals {
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

func summarize(recs []models.Canonical) Summary {
	s := Summary{Total: len(recs)}

	byPriority := make(map[models.Priority]int)
	byPage := make(map[string]int)
	for _, c := range recs {
		byPriority[c.Record.Priority]++
		byPage[c.NormalizedPage]++
	}
	for p := models.PriorityCritical; p >= models.PriorityLow; p-- {
		if n := byPriority[p]; n > 0 {
			s.ByPriority = append(s.ByPriority, Count{Key: p.String(), Count: n})
		}
	}
	pages := make([]string, 0, len(byPage))
	for p := range byPage {
		pages = append(pages, p)
	}
	sort.Strings(pages)
	for _, p := range pages {
		s.ByPage = append(s.ByPage, Count{Key: p, Count: byPage[p]})
	}
	return s
}
