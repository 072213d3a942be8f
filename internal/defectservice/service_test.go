package defectservice

import (
	"bytes"
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"

	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/emit"
	"github.com/starford/a11yledger/internal/ingest"
	"github.com/starford/a11yledger/internal/output"
	"github.com/starford/a11yledger/internal/testutil"
)

type recorder struct {
	mu     sync.Mutex
	events []string
}

func (r *recorder) BatchFinished(sum *ingest.Summary, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		r.events = append(r.events, "aborted")
		return
	}
	for _, c := range sum.Changes {
		r.events = append(r.events, c.Kind+":"+c.ID)
	}
	r.events = append(r.events, "committed")
}

func newService(t *testing.T) (*Service, *recorder) {
	t.Helper()
	_, reports := testutil.TestReports(t)
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := ingest.New(db, reports, ingest.Options{Workers: 2}, logger)
	rec := &recorder{}
	return New(db, reports, p, rec, logger), rec
}

const checkout = "https://www.example.com/checkout/"

func report(priority, ref string) []byte {
	return []byte(testutil.Report(
		"A11y_"+ref+" – Web – Checkout Page – Place order button not announced",
		priority, "Windows 11 / Chrome", checkout, "NVDA announces the button as button.", ref))
}

func TestSubmitReport_IngestsAndPublishes(t *testing.T) {
	svc, rec := newService(t)
	ctx := context.Background()

	sum, err := svc.SubmitReport(ctx, "sprint-1/web.md", report("High", "4.1.2"))
	if err != nil {
		t.Fatalf("SubmitReport: %v", err)
	}
	if sum.Inserted != 1 || len(sum.Changes) != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	id := sum.Changes[0].ID

	if len(rec.events) != 2 || rec.events[0] != "inserted:"+id || rec.events[1] != "committed" {
		t.Errorf("events = %v", rec.events)
	}

	d, err := svc.GetDefect(ctx, id)
	if err != nil {
		t.Fatalf("GetDefect: %v", err)
	}
	if d.Record.SourceReports[0] != "sprint-1/web.md" {
		t.Errorf("source = %v", d.Record.SourceReports)
	}
}

func TestSubmitReport_RejectsBadName(t *testing.T) {
	svc, _ := newService(t)
	for _, name := range []string{"", "report.exe", "   "} {
		if _, err := svc.SubmitReport(context.Background(), name, report("High", "4.1.2")); !errors.Is(err, apperr.ErrInvalidInput) {
			t.Errorf("name %q: err = %v, want ErrInvalidInput", name, err)
		}
	}
	if _, err := svc.SubmitReport(context.Background(), "empty.md", []byte("  \n")); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("empty content: err = %v, want ErrInvalidInput", err)
	}
}

func TestListDefects_Filters(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.SubmitReport(ctx, "a.md", report("Low", "4.1.2")); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.SubmitReport(ctx, "b.md", report("Critical", "2.4.3")); err != nil {
		t.Fatal(err)
	}

	items, total, err := svc.ListDefects(ctx, ListQuery{Page: "example.com/checkout"})
	if err != nil || total != 2 || len(items) != 2 {
		t.Fatalf("by page: items = %+v, total = %d, err = %v", items, total, err)
	}

	items, total, err = svc.ListDefects(ctx, ListQuery{MinPriority: "high"})
	if err != nil || total != 1 || items[0].Priority != "Critical" {
		t.Fatalf("by priority: items = %+v, total = %d, err = %v", items, total, err)
	}

	items, _, err = svc.ListDefects(ctx, ListQuery{Ref: "https://www.w3.org/WAI/WCAG22/Understanding/name-role-value.html"})
	if err != nil || len(items) != 1 || items[0].PrimaryRef != "4.1.2" {
		t.Fatalf("by ref url: items = %+v, err = %v", items, err)
	}

	if _, _, err := svc.ListDefects(ctx, ListQuery{Ref: "not-a-ref"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad ref: err = %v", err)
	}
	if _, _, err := svc.ListDefects(ctx, ListQuery{MinPriority: "urgent"}); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("bad priority: err = %v", err)
	}
}

func TestGetDefect_NotFound(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.GetDefect(context.Background(), "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestWriteDocument(t *testing.T) {
	svc, _ := newService(t)
	ctx := context.Background()
	if _, err := svc.SubmitReport(ctx, "a.md", report("Medium", "4.1.2")); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	if err := svc.WriteDocument(ctx, &buf, emit.OrderByPriority, output.FormatMarkdown); err != nil {
		t.Fatalf("WriteDocument: %v", err)
	}
	if !strings.Contains(buf.String(), "## Defect 1: A11y_4.1.2") {
		t.Errorf("document:\n%s", buf.String())
	}
}

func TestSearch_EmptyQuery(t *testing.T) {
	svc, _ := newService(t)
	if _, err := svc.Search(context.Background(), " ", 10); !errors.Is(err, apperr.ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput", err)
	}
}
