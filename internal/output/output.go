// Package output writes rendered documents as markdown, JSON or styled
// terminal text.
package output

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/glamour"
	"github.com/natefinch/atomic"

	"github.com/starford/a11yledger/internal/emit"
)

// Format selects the output encoding.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatJSON     Format = "json"
	FormatTerminal Format = "terminal"
)

// Formats lists the accepted Format spellings.
var Formats = []Format{FormatMarkdown, FormatJSON, FormatTerminal}

// ParseFormat parses s; the empty string selects markdown.
func ParseFormat(s string) (Format, error) {
	if s == "" {
		return FormatMarkdown, nil
	}
	for _, f := range Formats {
		if strings.EqualFold(s, string(f)) {
			return f, nil
		}
	}
	return "", fmt.Errorf("output: unknown format %q", s)
}

// ContentType returns the HTTP media type of f.
func (f Format) ContentType() string {
	switch f {
	case FormatJSON:
		return "application/json"
	case FormatTerminal:
		return "text/plain; charset=utf-8"
	default:
		return "text/markdown; charset=utf-8"
	}
}

// Write encodes doc to w.
func Write(w io.Writer, doc emit.Document, format Format) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(doc); err != nil {
			return fmt.Errorf("output: encode json: %w", err)
		}
		return nil
	case FormatTerminal:
		r, err := glamour.NewTermRenderer(
			glamour.WithStandardStyle("dark"),
			glamour.WithWordWrap(100),
		)
		if err != nil {
			return fmt.Errorf("output: terminal renderer: %w", err)
		}
		out, err := r.Render(Markdown(doc))
		if err != nil {
			return fmt.Errorf("output: render terminal: %w", err)
		}
		_, err = io.WriteString(w, out)
		return err
	case FormatMarkdown, "":
		_, err := io.WriteString(w, Markdown(doc))
		return err
	default:
		return fmt.Errorf("output: unknown format %q", format)
	}
}

// WriteFile atomically replaces path with the encoded document.
func WriteFile(path string, doc emit.Document, format Format) error {
	var buf bytes.Buffer
	if err := Write(&buf, doc, format); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("output: create dir: %w", err)
	}
	if err := atomic.WriteFile(path, &buf); err != nil {
		return fmt.Errorf("output: write %s: %w", path, err)
	}
	return nil
}

// inlineFields are rendered as "**Name:** value" lines; the rest get their
// own heading.
var inlineFields = map[string]bool{
	emit.FieldTitle:         true,
	emit.FieldPriority:      true,
	emit.FieldEnvironment:   true,
	emit.FieldAssistiveTech: true,
	emit.FieldPage:          true,
}

// Markdown renders doc in the defect template layout.
func Markdown(doc emit.Document) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", doc.Title)
	fmt.Fprintf(&b, "Total defects: %d\n\n", doc.Summary.Total)

	if len(doc.Summary.ByPriority) > 0 {
		b.WriteString("| Priority | Count |\n|---|---|\n")
		for _, c := range doc.Summary.ByPriority {
			fmt.Fprintf(&b, "| %s | %d |\n", c.Key, c.Count)
		}
		b.WriteString("\n")
	}

	for i, s := range doc.Sections {
		fmt.Fprintf(&b, "## Defect %d: %s\n\n", i+1, s.Heading)
		fmt.Fprintf(&b, "<!-- id: %s version: %d -->\n\n", s.ID, s.Version)
		for _, f := range s.Fields {
			if inlineFields[f.Name] {
				fmt.Fprintf(&b, "**%s:** %s\n", f.Name, strings.Join(f.Values, "; "))
				continue
			}
			fmt.Fprintf(&b, "\n### %s\n\n", f.Name)
			switch {
			case f.Name == emit.FieldSteps:
				for j, v := range f.Values {
					fmt.Fprintf(&b, "%d. %s\n", j+1, v)
				}
			case len(f.Values) == 1 && f.Name != emit.FieldSourceReports:
				fmt.Fprintf(&b, "%s\n", f.Values[0])
			default:
				for _, v := range f.Values {
					fmt.Fprintf(&b, "- %s\n", v)
				}
			}
		}
		b.WriteString("\n")
	}
	return b.String()
}
