package mcpserver

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/starford/a11yledger/internal/defectservice"
	"github.com/starford/a11yledger/internal/ingest"
	"github.com/starford/a11yledger/internal/parser"
	"github.com/starford/a11yledger/internal/testutil"
	"github.com/starford/a11yledger/internal/validate"
)

type nopEvents struct{}

func (nopEvents) BatchFinished(*ingest.Summary, error) {}

func testServer(t *testing.T) *Server {
	t.Helper()
	_, reports := testutil.TestReports(t)
	db := testutil.TestDB(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	p := ingest.New(db, reports, ingest.Options{Workers: 2}, logger)
	return New(defectservice.New(db, reports, p, nopEvents{}, logger))
}

func callTool(t *testing.T, srv *Server, name string, args map[string]interface{}) *mcp.CallToolResult {
	t.Helper()
	ctx := context.Background()
	req := mcp.CallToolRequest{}
	req.Method = "tools/call"
	req.Params.Name = name
	req.Params.Arguments = args

	// mcp-go has no "call tool" test helper, so tools are dispatched to
	// their handler methods directly.
	var result *mcp.CallToolResult
	var err error

	switch name {
	case "list_defects":
		result, err = srv.listDefects(ctx, req)
	case "get_defect":
		result, err = srv.getDefect(ctx, req)
	case "list_conflicts":
		result, err = srv.listConflicts(ctx, req)
	case "render_document":
		result, err = srv.renderDocument(ctx, req)
	case "search_defects":
		result, err = srv.searchDefects(ctx, req)
	case "list_wcag_criteria":
		result, err = srv.listCriteria(ctx, req)
	case "get_template_contract":
		result, err = srv.getTemplateContract(ctx, req)
	case "submit_report":
		result, err = srv.submitReport(ctx, req)
	default:
		t.Fatalf("unknown tool: %s", name)
	}

	if err != nil {
		t.Fatalf("tool %s error: %v", name, err)
	}
	return result
}

func resultText(r *mcp.CallToolResult) string {
	if len(r.Content) > 0 {
		if tc, ok := r.Content[0].(mcp.TextContent); ok {
			return tc.Text
		}
	}
	return ""
}

func report(ref, actual string) string {
	return testutil.Report(
		"A11y_"+ref+" – Web – Checkout Page – Place order button not announced",
		"High", "Windows 11 / Chrome", "https://www.example.com/checkout/", actual, ref)
}

func submit(t *testing.T, srv *Server, name, content string) ingest.Summary {
	t.Helper()
	r := callTool(t, srv, "submit_report", map[string]interface{}{"name": name, "content": content})
	if r.IsError {
		t.Fatalf("submit_report: %s", resultText(r))
	}
	var sum ingest.Summary
	if err := json.Unmarshal([]byte(resultText(r)), &sum); err != nil {
		t.Fatalf("decode summary: %v", err)
	}
	return sum
}

func TestSubmitAndGetDefect(t *testing.T) {
	srv := testServer(t)

	sum := submit(t, srv, "web.md", report("4.1.2", "NVDA announces the button as button."))
	if sum.Inserted != 1 || len(sum.Changes) != 1 {
		t.Fatalf("summary = %+v", sum)
	}

	r := callTool(t, srv, "get_defect", map[string]interface{}{"id": sum.Changes[0].ID})
	if r.IsError {
		t.Fatalf("get_defect: %s", resultText(r))
	}
	text := resultText(r)
	if !strings.Contains(text, "Place order button not announced") || !strings.Contains(text, `"web.md"`) {
		t.Errorf("get_defect = %s", text)
	}
}

func TestGetDefectMissing(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "get_defect", map[string]interface{}{"id": "nope"})
	if !r.IsError {
		t.Error("expected error for missing defect")
	}
	r = callTool(t, srv, "get_defect", map[string]interface{}{})
	if !r.IsError {
		t.Error("expected error for missing id")
	}
}

func TestSubmitReport_DataURI(t *testing.T) {
	srv := testServer(t)
	uri := "data:text/markdown;base64," + base64.StdEncoding.EncodeToString(
		[]byte(report("2.4.3", "Focus jumps to the footer.")))

	r := callTool(t, srv, "submit_report", map[string]interface{}{"name": "focus.md", "url": uri})
	if r.IsError {
		t.Fatalf("submit_report: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), `"inserted": 1`) {
		t.Errorf("summary = %s", resultText(r))
	}
}

func TestSubmitReport_BadSource(t *testing.T) {
	srv := testServer(t)
	cases := map[string]map[string]interface{}{
		"no source":   {"name": "a.md"},
		"both":        {"name": "a.md", "content": "x", "url": "https://example.com/a.md"},
		"image uri":   {"name": "a.md", "url": "data:image/png;base64,iVBORw0KGgo="},
		"loopback":    {"name": "a.md", "url": "http://127.0.0.1/report.md"},
		"bad scheme":  {"name": "a.md", "url": "ftp://example.com/report.md"},
		"bad name":    {"name": "a.exe", "content": report("4.1.2", "x")},
		"not utf8":    {"name": "a.md", "content": string([]byte{0xff, 0xfe})},
		"bad base64":  {"name": "a.md", "url": "data:text/markdown;base64,@@@"},
		"missing sep": {"name": "a.md", "url": "data:text/markdown"},
	}
	for name, args := range cases {
		if r := callTool(t, srv, "submit_report", args); !r.IsError {
			t.Errorf("%s: expected error, got %s", name, resultText(r))
		}
	}
}

func TestListDefects(t *testing.T) {
	srv := testServer(t)
	submit(t, srv, "a.md", report("4.1.2", "NVDA announces the button as button."))
	submit(t, srv, "b.md", report("2.4.3", "Focus jumps to the footer."))

	r := callTool(t, srv, "list_defects", map[string]interface{}{"ref": "2.4.3"})
	if r.IsError {
		t.Fatalf("list_defects: %s", resultText(r))
	}
	var resp struct {
		Defects []defectservice.DefectListItem `json:"defects"`
		Total   int                            `json:"total"`
	}
	if err := json.Unmarshal([]byte(resultText(r)), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Total != 1 || resp.Defects[0].PrimaryRef != "2.4.3" {
		t.Errorf("list = %+v", resp)
	}

	if r := callTool(t, srv, "list_defects", map[string]interface{}{"priority": "urgent"}); !r.IsError {
		t.Error("expected error for unknown priority")
	}
}

func TestRenderDocument(t *testing.T) {
	srv := testServer(t)
	submit(t, srv, "a.md", report("4.1.2", "NVDA announces the button as button."))

	r := callTool(t, srv, "render_document", map[string]interface{}{"order_by": "priority"})
	if r.IsError {
		t.Fatalf("render_document: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "## Defect 1: A11y_4.1.2") {
		t.Errorf("document:\n%s", resultText(r))
	}

	if r := callTool(t, srv, "render_document", map[string]interface{}{"format": "terminal"}); !r.IsError {
		t.Error("expected terminal format to be refused")
	}
	if r := callTool(t, srv, "render_document", map[string]interface{}{"order_by": "random"}); !r.IsError {
		t.Error("expected error for unknown order")
	}
}

func TestListConflictsEmpty(t *testing.T) {
	srv := testServer(t)
	r := callTool(t, srv, "list_conflicts", map[string]interface{}{})
	if text := resultText(r); text != "no conflicts pending" {
		t.Errorf("list_conflicts = %q", text)
	}
}

func TestSearchDefects(t *testing.T) {
	srv := testServer(t)
	submit(t, srv, "a.md", report("4.1.2", "The uniquetoken control is silent."))

	r := callTool(t, srv, "search_defects", map[string]interface{}{"query": "uniquetoken"})
	if r.IsError {
		t.Fatalf("search_defects: %s", resultText(r))
	}
	if !strings.Contains(resultText(r), "A11y_4.1.2") {
		t.Errorf("search = %s", resultText(r))
	}
	if r := callTool(t, srv, "search_defects", map[string]interface{}{}); !r.IsError {
		t.Error("expected error for missing query")
	}
}

func TestTemplateContractExampleIsValid(t *testing.T) {
	srv := testServer(t)
	text := resultText(callTool(t, srv, "get_template_contract", nil))
	if text != TemplateContract {
		t.Fatal("contract tool returned unexpected text")
	}

	_, example, ok := strings.Cut(text, "## Example\n\n```markdown\n")
	if !ok {
		t.Fatal("contract has no example")
	}
	example, _, _ = strings.Cut(example, "```")

	res, err := parser.Parse("example.md", []byte(example))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(res.Records) != 1 {
		t.Fatalf("records = %d, want 1", len(res.Records))
	}
	rec, rej := validate.Validate(res.Records[0])
	if rej != nil {
		t.Fatalf("Validate: %v", rej)
	}
	if rec.WCAGRefs[0] != "4.1.2" {
		t.Errorf("refs = %v", rec.WCAGRefs)
	}
}

func TestTemplateResource(t *testing.T) {
	srv := testServer(t)
	contents, err := srv.readTemplateResource(context.Background(), mcp.ReadResourceRequest{})
	if err != nil {
		t.Fatal(err)
	}
	tc, ok := contents[0].(mcp.TextResourceContents)
	if !ok || tc.URI != TemplateURI || tc.Text != TemplateContract {
		t.Errorf("resource = %+v", contents[0])
	}
}

func TestListWCAGCriteria(t *testing.T) {
	srv := testServer(t)

	r := callTool(t, srv, "list_wcag_criteria", map[string]interface{}{"filter": "name, role"})
	var items []criterionItem
	if err := json.Unmarshal([]byte(resultText(r)), &items); err != nil {
		t.Fatalf("decode: %v (%s)", err, resultText(r))
	}
	if len(items) != 1 || items[0].ID != "4.1.2" {
		t.Errorf("items = %+v", items)
	}

	r = callTool(t, srv, "list_wcag_criteria", map[string]interface{}{"filter": "1.4."})
	if err := json.Unmarshal([]byte(resultText(r)), &items); err != nil {
		t.Fatal(err)
	}
	for _, it := range items {
		if !strings.HasPrefix(it.ID, "1.4.") {
			t.Errorf("unexpected criterion %s", it.ID)
		}
	}

	r = callTool(t, srv, "list_wcag_criteria", map[string]interface{}{"filter": "zzz"})
	if resultText(r) != "no matching criteria" {
		t.Errorf("no-match result = %q", resultText(r))
	}
}

func TestToolsRegistered(t *testing.T) {
	srv := testServer(t)
	resp := srv.MCPServer().HandleMessage(context.Background(),
		json.RawMessage(`{"jsonrpc":"2.0","id":1,"method":"tools/list"}`))
	out, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	for _, name := range []string{
		"list_defects", "get_defect", "list_conflicts", "render_document",
		"search_defects", "list_wcag_criteria", "get_template_contract", "submit_report",
	} {
		if !strings.Contains(string(out), `"`+name+`"`) {
			t.Errorf("tool %s not registered: %s", name, out)
		}
	}
}
