// Package wcag recognizes WCAG success criterion references.
package wcag

import (
	"net/url"
	"regexp"
	"strings"
)

// Criterion is one WCAG success criterion.
type Criterion struct {
	ID   string
	Slug string
	Name string
}

var (
	idRe            = regexp.MustCompile(`(?i)^(?:sc\s*)?(\d\.\d{1,2}\.\d{1,2})$`)
	understandingRe = regexp.MustCompile(`(?i)^/WAI/WCAG2[0-2]?/Understanding/([a-z0-9-]+?)(?:\.html?)?/?$`)
	recommendRe     = regexp.MustCompile(`(?i)^/TR/WCAG2[0-2]?/?$`)
)

var (
	byID   = make(map[string]Criterion, len(criteria))
	bySlug = make(map[string]Criterion, len(criteria))
)

func init() {
	for _, c := range criteria {
		byID[c.ID] = c
		bySlug[c.Slug] = c
	}
}

// Lookup returns the criterion with the given id.
func Lookup(id string) (Criterion, bool) {
	c, ok := byID[id]
	return c, ok
}

// Criteria returns every known criterion in document order.
func Criteria() []Criterion {
	out := make([]Criterion, len(criteria))
	copy(out, criteria)
	return out
}

// ParseRef checks that s is a syntactically valid WCAG reference and returns
// its canonical form: the criterion id when it can be determined, otherwise
// the lower-cased Understanding URL without query or fragment.
func ParseRef(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if m := idRe.FindStringSubmatch(s); m != nil {
		return m[1], true
	}
	u, err := url.Parse(s)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return "", false
	}
	host := strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
	if host != "w3.org" {
		return "", false
	}
	if m := understandingRe.FindStringSubmatch(u.Path); m != nil {
		if id, ok := slugID(strings.ToLower(m[1])); ok {
			return id, true
		}
		return "https://www.w3.org" + strings.ToLower(strings.TrimSuffix(u.Path, "/")), true
	}
	if recommendRe.MatchString(u.Path) && u.Fragment != "" {
		if id, ok := slugID(strings.ToLower(u.Fragment)); ok {
			return id, true
		}
	}
	return "", false
}

// LeadingID extracts a criterion id from the start of a title such as
// "A11y_4.1.2 Name, Role, Value – Web – ...".
func LeadingID(title string) string {
	m := leadingRe.FindStringSubmatch(title)
	if m == nil {
		return ""
	}
	return m[1]
}

var leadingRe = regexp.MustCompile(`(?i)^\s*(?:a11y[\s_-]*|wcag[\s_-]*|sc[\s_-]*)?(\d\.\d{1,2}\.\d{1,2})\b`)

func slugID(slug string) (string, bool) {
	slug = strings.TrimPrefix(slug, "sc-")
	if c, ok := bySlug[slug]; ok {
		return c.ID, true
	}
	id, ok := legacySlugs[slug]
	return id, ok
}

// UnderstandingURL returns the WCAG 2.2 Understanding document for id, or ""
// when id is not a known criterion.
func UnderstandingURL(id string) string {
	c, ok := byID[id]
	if !ok {
		return ""
	}
	return "https://www.w3.org/WAI/WCAG22/Understanding/" + c.Slug + ".html"
}
