// Package parser reads accessibility defect reports written in the fixed
// defect template (Title, Priority, OS/Browser, Screen Reader, Steps to
// Reproduce, Actual Result, Expected Result, User Impact, Suggested Fix,
// WCAG Reference) into raw records.
package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/a11yledger/internal/models"
)

var (
	defectHeadingRe = regexp.MustCompile(`(?i)^#{1,6}\s*(?:\*\*)?\s*defect\b`)
	ruleRe          = regexp.MustCompile(`^\s*(?:-{3,}|\*{3,}|_{3,})\s*$`)
	headingRe       = regexp.MustCompile(`^#{1,6}\s+(.*?)\s*#*\s*$`)
	labelRe         = regexp.MustCompile(`^\s*(?:[-*•]\s+)?(?:\*\*|__)?([A-Za-z][A-Za-z0-9 /&()'._-]{0,48}?)\s*(?:\*\*|__)?\s*:\s*(?:\*\*|__)?\s*(.*?)\s*$`)
	listMarkerRe    = regexp.MustCompile(`^\s*(?:\d{1,2}[.)]|[-*•])\s+`)
	inlineStepRe    = regexp.MustCompile(`(?:^|[;\s])\d{1,2}[.)]\s+`)
	navigateRe      = regexp.MustCompile(`(?i)\bnavigate\s+to\s+(.+)$`)
	urlRe           = regexp.MustCompile(`https?://[^\s<>()"']+`)
	titleSplitRe    = regexp.MustCompile(`\s+[–—|-]\s+`)
	pageWordRe      = regexp.MustCompile(`(?i)\b(page|screen|tab|modal|dialog|section)\b`)
)

// Meta is the optional YAML front matter of a report file.
type Meta struct {
	ReportID   string `yaml:"report_id"`
	ReportedAt string `yaml:"reported_at"`
	Project    string `yaml:"project"`
	Platform   string `yaml:"platform"`
	Page       string `yaml:"page"`
}

// Result holds the output of parsing one report file.
type Result struct {
	Meta    Meta
	Records []models.RawRecord
}

// Parse splits a report file into raw defect records. source is the
// provenance token of the file; records get "source#N" tokens when the file
// holds more than one defect.
func Parse(source string, data []byte) (*Result, error) {
	meta, body := splitFrontmatter(data)

	provenance := source
	if meta.ReportID != "" {
		provenance = meta.ReportID
	}

	blocks := splitDefects(body)
	records := make([]models.RawRecord, 0, len(blocks))
	for _, b := range blocks {
		rec := b.record(meta)
		records = append(records, rec)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("parser: %s: no defect sections found", source)
	}
	for i := range records {
		if len(records) == 1 {
			records[i].Source = provenance
		} else {
			records[i].Source = fmt.Sprintf("%s#%d", provenance, i+1)
		}
	}
	return &Result{Meta: meta, Records: records}, nil
}

// splitFrontmatter separates YAML front matter (between leading --- delimiters)
// from the template body. Missing or invalid front matter leaves the whole file
// as body.
func splitFrontmatter(data []byte) (Meta, string) {
	const delim = "---"
	data = bytes.ReplaceAll(data, []byte("\r\n"), []byte("\n"))
	trimmed := bytes.TrimLeft(data, "\n")

	if !bytes.HasPrefix(trimmed, []byte(delim+"\n")) {
		return Meta{}, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return Meta{}, string(data)
	}

	var meta Meta
	if err := yaml.Unmarshal(rest[:idx], &meta); err != nil {
		return Meta{}, string(data)
	}
	after := rest[idx+1+len(delim):]
	return meta, strings.TrimLeft(string(after), "\n")
}

type block struct {
	fields map[field][]string
	inline map[field]string
	extra  map[string][]string
	order  []field
	// headings is set once a section was opened by a markdown heading.
	// From then on plain "Label: value" lines are body text.
	headings bool
}

func newBlock() *block {
	return &block{
		fields: make(map[field][]string),
		inline: make(map[field]string),
		extra:  make(map[string][]string),
	}
}

func (b *block) empty() bool {
	return len(b.order) == 0
}

func (b *block) has(f field) bool {
	_, ok := b.inline[f]
	return ok
}

func (b *block) open(f field, inline string) {
	if !b.has(f) {
		b.order = append(b.order, f)
		b.inline[f] = inline
		return
	}
	if inline != "" {
		b.fields[f] = append(b.fields[f], inline)
	}
}

// splitDefects walks the body line by line, opening a new section whenever a
// recognized label starts and a new defect on separators or a repeated Title.
func splitDefects(body string) []*block {
	var (
		blocks  []*block
		cur     = newBlock()
		section field
		extra   string
	)
	flush := func() {
		if !cur.empty() {
			blocks = append(blocks, cur)
		}
		cur = newBlock()
		section, extra = fieldNone, ""
	}

	for _, line := range strings.Split(body, "\n") {
		if defectHeadingRe.MatchString(line) || ruleRe.MatchString(line) {
			flush()
			continue
		}

		label, value, isLabel, isHeading := splitLabel(line)
		if isLabel && !isHeading && cur.headings && plainLabel(line) {
			isLabel = false
		}
		if isLabel {
			if f := lookupField(label); f != fieldNone {
				if f == fieldTitle && cur.has(fieldTitle) {
					flush()
				}
				cur.open(f, value)
				if isHeading {
					cur.headings = true
				}
				section, extra = f, ""
				continue
			}
			if isHeading {
				section, extra = fieldNone, normalizeLabel(label)
				continue
			}
		}

		switch {
		case section != fieldNone:
			cur.fields[section] = append(cur.fields[section], line)
		case extra != "":
			cur.extra[extra] = append(cur.extra[extra], line)
		}
	}
	flush()
	return blocks
}

// splitLabel recognizes "### Heading", "**Label:** value", "- **Label:** value"
// and "Label: value" lines.
func splitLabel(line string) (label, value string, ok, heading bool) {
	if m := headingRe.FindStringSubmatch(line); m != nil {
		text := strings.TrimSpace(m[1])
		if lm := labelRe.FindStringSubmatch(text); lm != nil && lookupField(lm[1]) != fieldNone {
			return lm[1], lm[2], true, true
		}
		text = strings.Trim(text, "*_: ")
		return text, "", text != "", true
	}
	if m := labelRe.FindStringSubmatch(line); m != nil {
		return m[1], m[2], true, false
	}
	return "", "", false, false
}

// plainLabel reports whether a label line carries no bold or list marker.
func plainLabel(line string) bool {
	t := strings.TrimSpace(line)
	return !listMarkerRe.MatchString(t) && !strings.HasPrefix(t, "**") && !strings.HasPrefix(t, "__")
}

func (b *block) text(f field) string {
	parts := make([]string, 0, 1+len(b.fields[f]))
	if v := b.inline[f]; v != "" {
		parts = append(parts, v)
	}
	parts = append(parts, b.fields[f]...)
	return cleanText(strings.Join(parts, "\n"))
}

func (b *block) lines(f field) []string {
	var out []string
	if v := strings.TrimSpace(b.inline[f]); v != "" {
		out = append(out, v)
	}
	for _, l := range b.fields[f] {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func (b *block) record(meta Meta) models.RawRecord {
	rec := models.RawRecord{
		Title:          stripEmphasis(b.text(fieldTitle)),
		Priority:       stripEmphasis(b.text(fieldPriority)),
		Environment:    stripEmphasis(b.text(fieldEnvironment)),
		AssistiveTech:  stripEmphasis(b.text(fieldAssistiveTech)),
		Page:           stripEmphasis(b.text(fieldPage)),
		Steps:          parseSteps(b.lines(fieldSteps)),
		ActualResult:   b.text(fieldActual),
		ExpectedResult: b.text(fieldExpected),
		UserImpact:     b.text(fieldImpact),
		SuggestedFix:   b.text(fieldFix),
		WCAGRefs:       parseRefs(b.text(fieldWCAG)),
		ReportedAt:     meta.ReportedAt,
	}
	if rec.Environment == "" {
		rec.Environment = meta.Platform
	}
	if rec.Page == "" {
		rec.Page = meta.Page
	}
	if rec.Page == "" {
		rec.Page = derivePage(rec.Steps, rec.Title)
	}
	if len(b.extra) > 0 {
		rec.Extra = make(map[string]string, len(b.extra))
		for k, v := range b.extra {
			if t := cleanText(strings.Join(v, "\n")); t != "" {
				rec.Extra[k] = t
			}
		}
		if len(rec.Extra) == 0 {
			rec.Extra = nil
		}
	}
	return rec
}

// parseSteps strips list markers and splits "1. a; 2. b" one-liners.
func parseSteps(lines []string) []string {
	var out []string
	for _, l := range lines {
		locs := inlineStepRe.FindAllStringIndex(l, -1)
		if len(locs) > 1 {
			for i, loc := range locs {
				end := len(l)
				if i+1 < len(locs) {
					end = locs[i+1][0]
				}
				if s := cleanStep(l[loc[0]:end]); s != "" {
					out = append(out, s)
				}
			}
			continue
		}
		if s := cleanStep(l); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func cleanStep(s string) string {
	s = strings.TrimLeft(s, "; \t")
	s = listMarkerRe.ReplaceAllString(s, "")
	return strings.TrimSpace(strings.TrimRight(s, "; \t"))
}

// parseRefs tokenizes the WCAG Reference section. Syntax is checked by the
// validator; here every URL and bare token is a candidate.
func parseRefs(text string) []string {
	var out []string
	seen := make(map[string]struct{})
	add := func(s string) {
		s = strings.TrimRight(s, ".,;:)")
		if s == "" {
			return
		}
		if _, ok := seen[s]; ok {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	for _, u := range urlRe.FindAllString(text, -1) {
		add(u)
	}
	rest := urlRe.ReplaceAllString(text, " ")
	for _, tok := range strings.FieldsFunc(rest, func(r rune) bool {
		return r == ',' || r == ';' || r == ' ' || r == '\n' || r == '\t' || r == '(' || r == '['
	}) {
		add(strings.Trim(tok, "*_-•"))
	}
	return out
}

// derivePage falls back to the last "Navigate to X" step, then to the title
// segment that names a page or screen.
func derivePage(steps []string, title string) string {
	for i := len(steps) - 1; i >= 0; i-- {
		if m := navigateRe.FindStringSubmatch(steps[i]); m != nil {
			target := strings.TrimSpace(m[1])
			if u := urlRe.FindString(target); u != "" {
				return strings.TrimRight(u, ".,;")
			}
			return strings.TrimRight(target, ".,;")
		}
	}
	segments := titleSplitRe.Split(title, -1)
	for i := len(segments) - 1; i >= 1; i-- {
		if pageWordRe.MatchString(segments[i]) {
			return strings.TrimSpace(segments[i])
		}
	}
	return ""
}

func cleanText(s string) string {
	lines := strings.Split(s, "\n")
	for i, l := range lines {
		lines[i] = strings.TrimRight(l, " \t")
	}
	return strings.TrimSpace(strings.Join(lines, "\n"))
}

func stripEmphasis(s string) string {
	return strings.TrimSpace(strings.Trim(s, "*_"))
}
