// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes the defect ledger to LLM clients via stdio transport.
package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/a11yledger/internal/defectservice"
	"github.com/starford/a11yledger/internal/emit"
	"github.com/starford/a11yledger/internal/output"
	"github.com/starford/a11yledger/internal/wcag"
)

// TemplateURI is the resource URI of the defect report template contract.
const TemplateURI = "a11yledger://defect-template"

// Server wraps the MCP server with defect ledger tools.
type Server struct {
	mcp *server.MCPServer
	svc *defectservice.Service
}

// New creates a new MCP server with all ledger tools registered.
func New(svc *defectservice.Service) *Server {
	s := &Server{svc: svc}

	s.mcp = server.NewMCPServer(
		"a11yledger",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_defects",
		mcp.WithDescription("List canonical accessibility defects, optionally filtered by page, WCAG criterion and minimum priority."),
		mcp.WithString("page", mcp.Description("Page URL or screen name")),
		mcp.WithString("ref", mcp.Description("WCAG criterion id (e.g. 4.1.2) or Understanding URL")),
		mcp.WithString("priority", mcp.Description("Minimum priority: Low, Medium, High or Critical")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of defects (default 50)")),
	), s.listDefects)

	s.mcp.AddTool(mcp.NewTool("get_defect",
		mcp.WithDescription("Read one canonical defect with all merged findings and provenance."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Defect id as returned by list_defects")),
	), s.getDefect)

	s.mcp.AddTool(mcp.NewTool("list_conflicts",
		mcp.WithDescription("List ambiguous records that were queued for manual review instead of being merged."),
		mcp.WithNumber("limit", mcp.Description("Maximum number of conflicts")),
	), s.listConflicts)

	s.mcp.AddTool(mcp.NewTool("render_document",
		mcp.WithDescription("Render the canonical defect document."),
		mcp.WithString("order_by", mcp.Description("Section order: page (default), priority or first-seen")),
		mcp.WithString("format", mcp.Description("Output format: markdown (default) or json")),
	), s.renderDocument)

	s.mcp.AddTool(mcp.NewTool("search_defects",
		mcp.WithDescription("Full-text search through defect titles and findings."),
		mcp.WithString("query", mcp.Required(), mcp.Description("Search query string")),
	), s.searchDefects)

	s.mcp.AddTool(mcp.NewTool("list_wcag_criteria",
		mcp.WithDescription("List the WCAG success criteria accepted in the WCAG Reference section, "+
			"optionally filtered by a prefix such as 1.4 or a word of the criterion name."),
		mcp.WithString("filter", mcp.Description("Criterion id prefix or name fragment")),
	), s.listCriteria)

	s.mcp.AddTool(mcp.NewTool("get_template_contract",
		mcp.WithDescription("Returns the defect report template contract. "+
			"Call this before submitting reports to ensure correct structure."),
	), s.getTemplateContract)

	s.mcp.AddTool(mcp.NewTool("submit_report",
		mcp.WithDescription("Store a defect report file and ingest it. "+
			"Content MUST follow the defect report template (Title, Priority, OS/Browser, "+
			"Steps to Reproduce, Actual Result, Expected Result, User Impact, Suggested Fix, "+
			"WCAG Reference). Read the contract first via get_template_contract or the "+
			TemplateURI+" resource. Pass either content or url."),
		mcp.WithString("name", mcp.Required(), mcp.Description("Relative report path (must end with .md)")),
		mcp.WithString("content", mcp.Description("Report markdown following the template contract")),
		mcp.WithString("url", mcp.Description("HTTP(S) URL or base64 data URI to fetch the report from")),
	), s.submitReport)

	s.mcp.AddResource(
		mcp.NewResource(TemplateURI, "Defect Report Template",
			mcp.WithResourceDescription("Fixed template every accessibility defect report must follow."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readTemplateResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func (s *Server) listDefects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	items, total, err := s.svc.ListDefects(ctx, defectservice.ListQuery{
		Page:        req.GetString("page", ""),
		Ref:         req.GetString("ref", ""),
		MinPriority: req.GetString("priority", ""),
		Limit:       req.GetInt("limit", 50),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(map[string]any{"defects": items, "total": total})
}

func (s *Server) getDefect(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	d, err := s.svc.GetDefect(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("defect %s: %v", id, err)), nil
	}
	return jsonResult(d)
}

func (s *Server) listConflicts(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	cs, err := s.svc.Conflicts(ctx, req.GetInt("limit", 0))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if len(cs) == 0 {
		return mcp.NewToolResultText("no conflicts pending"), nil
	}
	return jsonResult(cs)
}

func (s *Server) renderDocument(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	order, err := emit.ParseOrderBy(req.GetString("order_by", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	format, err := output.ParseFormat(req.GetString("format", ""))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if format == output.FormatTerminal {
		return mcp.NewToolResultError("terminal format is not available over MCP"), nil
	}
	var buf bytes.Buffer
	if err := s.svc.WriteDocument(ctx, &buf, order, format); err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(buf.String()), nil
}

func (s *Server) searchDefects(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	results, err := s.svc.Search(ctx, query, 20)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(results)
}

type criterionItem struct {
	ID               string `json:"id"`
	Name             string `json:"name"`
	UnderstandingURL string `json:"understanding_url"`
}

func (s *Server) listCriteria(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	filter := strings.ToLower(strings.TrimSpace(req.GetString("filter", "")))
	var out []criterionItem
	for _, c := range wcag.Criteria() {
		if filter != "" && !strings.HasPrefix(c.ID, filter) && !strings.Contains(strings.ToLower(c.Name), filter) {
			continue
		}
		out = append(out, criterionItem{ID: c.ID, Name: c.Name, UnderstandingURL: wcag.UnderstandingURL(c.ID)})
	}
	if len(out) == 0 {
		return mcp.NewToolResultText("no matching criteria"), nil
	}
	return jsonResult(out)
}

func (s *Server) getTemplateContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(TemplateContract), nil
}

func (s *Server) readTemplateResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      TemplateURI,
			MIMEType: "text/markdown",
			Text:     TemplateContract,
		},
	}, nil
}
