// Package defectservice is the application layer shared by the HTTP API and
// the MCP server: queries over the canonical store, document rendering and
// report ingestion.
package defectservice

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path"
	"strings"

	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/emit"
	"github.com/starford/a11yledger/internal/identity"
	"github.com/starford/a11yledger/internal/ingest"
	"github.com/starford/a11yledger/internal/models"
	"github.com/starford/a11yledger/internal/output"
	"github.com/starford/a11yledger/internal/storage"
	"github.com/starford/a11yledger/internal/store"
	"github.com/starford/a11yledger/internal/wcag"
)

// Events receives the outcome of every ingest batch. *sse.Broker implements it.
type Events interface {
	BatchFinished(sum *ingest.Summary, err error)
}

// DefectListItem is a lightweight item in a list response.
type DefectListItem struct {
	ID         string   `json:"id"`
	Title      string   `json:"title"`
	Priority   string   `json:"priority"`
	Page       string   `json:"page"`
	PrimaryRef string   `json:"primary_ref"`
	WCAGRefs   []string `json:"wcag_refs"`
	Sources    int      `json:"sources"`
	Version    int      `json:"version"`
	FirstSeen  int64    `json:"first_seen"`
}

// ListQuery is the user-facing form of store.Filter.
type ListQuery struct {
	Page        string
	Ref         string
	MinPriority string
	Limit       int
	Offset      int
}

// Service coordinates the store, the report provider and the ingest pipeline.
type Service struct {
	db       store.Reader
	reports  storage.Provider
	pipeline *ingest.Pipeline
	events   Events
	logger   *slog.Logger
}

// New creates a Service. events may be nil.
func New(db store.Reader, reports storage.Provider, pipeline *ingest.Pipeline, events Events, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		db:       db,
		reports:  reports,
		pipeline: pipeline,
		events:   events,
		logger:   logger.With(slog.String("component", "defectservice")),
	}
}

// Ready reports whether the store is reachable.
func (s *Service) Ready(ctx context.Context) error {
	return s.db.Ping(ctx)
}

// ListDefects returns a page of canonical defects and the total match count.
func (s *Service) ListDefects(ctx context.Context, q ListQuery) ([]DefectListItem, int, error) {
	f := store.Filter{Limit: q.Limit, Offset: q.Offset}
	if q.Page != "" {
		f.Page = identity.NormalizePage(q.Page)
	}
	if q.Ref != "" {
		ref, ok := wcag.ParseRef(q.Ref)
		if !ok {
			return nil, 0, fmt.Errorf("%w: wcag reference %q", apperr.ErrInvalidInput, q.Ref)
		}
		f.Ref = ref
	}
	if q.MinPriority != "" {
		p, err := models.ParsePriority(q.MinPriority)
		if err != nil {
			return nil, 0, fmt.Errorf("%w: %w", apperr.ErrInvalidInput, err)
		}
		f.MinPriority = p
	}

	rows, total, err := s.db.ListDefects(ctx, f)
	if err != nil {
		return nil, 0, err
	}
	items := make([]DefectListItem, len(rows))
	for i, c := range rows {
		items[i] = listItem(c)
	}
	return items, total, nil
}

func listItem(c models.Canonical) DefectListItem {
	return DefectListItem{
		ID:         c.ID,
		Title:      c.Record.Title,
		Priority:   c.Record.Priority.String(),
		Page:       c.NormalizedPage,
		PrimaryRef: c.PrimaryRef,
		WCAGRefs:   nonNilSlice(c.Record.WCAGRefs),
		Sources:    len(c.Record.SourceReports),
		Version:    c.Version,
		FirstSeen:  c.FirstSeen,
	}
}

// GetDefect returns one canonical defect or apperr.ErrNotFound.
func (s *Service) GetDefect(ctx context.Context, id string) (*models.Canonical, error) {
	return s.db.GetDefect(ctx, id)
}

// Versions returns every stored version of a defect, oldest first.
func (s *Service) Versions(ctx context.Context, id string) ([]models.Canonical, error) {
	return s.db.Versions(ctx, id)
}

// Conflicts returns queued ambiguous records.
func (s *Service) Conflicts(ctx context.Context, limit int) ([]models.Conflict, error) {
	return s.db.ListConflicts(ctx, limit)
}

// Search runs a full-text query over titles and findings.
func (s *Service) Search(ctx context.Context, query string, limit int) ([]store.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: empty query", apperr.ErrInvalidInput)
	}
	return s.db.Search(ctx, query, limit)
}

// Runs returns the most recent ingestion runs.
func (s *Service) Runs(ctx context.Context, limit int) ([]store.Run, error) {
	return s.db.Runs(ctx, limit)
}

// Document renders every canonical defect.
func (s *Service) Document(ctx context.Context, order emit.OrderBy) (emit.Document, error) {
	all, err := s.db.AllDefects(ctx)
	if err != nil {
		return emit.Document{}, err
	}
	return emit.Render(all, order), nil
}

// WriteDocument renders every canonical defect to w in format.
func (s *Service) WriteDocument(ctx context.Context, w io.Writer, order emit.OrderBy, format output.Format) error {
	doc, err := s.Document(ctx, order)
	if err != nil {
		return err
	}
	return output.Write(w, doc, format)
}

// Ingest runs one batch over paths, or over every report when paths is empty.
func (s *Service) Ingest(ctx context.Context, paths ...string) (*ingest.Summary, error) {
	sum, err := s.pipeline.Run(ctx, paths...)
	s.Notify(sum, err)
	return sum, err
}

// SubmitReport stores content as the report file name and ingests it.
func (s *Service) SubmitReport(ctx context.Context, name string, content []byte) (*ingest.Summary, error) {
	name = strings.TrimPrefix(path.Clean("/"+strings.TrimSpace(name)), "/")
	if name == "" || !storage.IsReport(name) {
		return nil, fmt.Errorf("%w: report name %q must end in .md, .markdown or .txt", apperr.ErrInvalidInput, name)
	}
	if len(strings.TrimSpace(string(content))) == 0 {
		return nil, fmt.Errorf("%w: empty report", apperr.ErrInvalidInput)
	}
	if err := s.reports.Write(name, content); err != nil {
		return nil, err
	}
	s.logger.Info("report submitted", slog.String("path", name), slog.Int("bytes", len(content)))
	return s.Ingest(ctx, name)
}

// Notify forwards a finished batch to the events sink. It matches
// ingest.NotifyFunc so the watcher reports through the same events.
func (s *Service) Notify(sum *ingest.Summary, err error) {
	if s.events == nil || sum == nil {
		return
	}
	s.events.BatchFinished(sum, err)
}

func nonNilSlice(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
