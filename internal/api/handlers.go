package api

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/defectservice"
	"github.com/starford/a11yledger/internal/emit"
	"github.com/starford/a11yledger/internal/ingest"
	"github.com/starford/a11yledger/internal/output"
)

// Handler holds API route handlers.
type Handler struct {
	svc *defectservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *defectservice.Service) *Handler {
	return &Handler{svc: svc}
}

// reportPath extracts the report path from the URL (everything after
// /api/reports/). Encoded slashes are accepted (sprint-1%2Fweb.md).
func reportPath(r *http.Request) string {
	raw := strings.TrimPrefix(chi.URLParam(r, "*"), "/")
	if raw == "" {
		return ""
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// writeError maps service errors onto HTTP statuses.
func writeError(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, apperr.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody("not found"))
	case errors.Is(err, apperr.ErrInvalidInput):
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
	default:
		slog.Error(op+" failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
	}
}

// ListDefects handles GET /api/defects.
//
//	@Summary		List canonical defects with optional filtering
//	@Tags			defects
//	@Produce		json
//	@Param			page		query		string	false	"Page URL or screen name"
//	@Param			ref			query		string	false	"WCAG criterion id or Understanding URL"
//	@Param			priority	query		string	false	"Minimum priority"	Enums(Low, Medium, High, Critical)
//	@Param			limit		query		int		false	"Page size"
//	@Param			offset		query		int		false	"Page offset"
//	@Success		200			{object}	DefectListResponse
//	@Failure		400			{object}	errResponse
//	@Security		BearerAuth
//	@Router			/defects [get]
func (h *Handler) ListDefects(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, _ := strconv.Atoi(q.Get("limit"))
	offset, _ := strconv.Atoi(q.Get("offset"))

	items, total, err := h.svc.ListDefects(r.Context(), defectservice.ListQuery{
		Page:        q.Get("page"),
		Ref:         q.Get("ref"),
		MinPriority: q.Get("priority"),
		Limit:       limit,
		Offset:      offset,
	})
	if err != nil {
		writeError(w, "list defects", err)
		return
	}
	writeJSON(w, http.StatusOK, DefectListResponse{Defects: items, Total: total})
}

// GetDefect handles GET /api/defects/{id}.
//
//	@Summary		Get one canonical defect
//	@Tags			defects
//	@Produce		json
//	@Param			id	path		string	true	"Defect id"
//	@Success		200	{object}	models.Canonical
//	@Failure		404	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/defects/{id} [get]
func (h *Handler) GetDefect(w http.ResponseWriter, r *http.Request) {
	d, err := h.svc.GetDefect(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "get defect", err)
		return
	}
	writeJSON(w, http.StatusOK, d)
}

// Versions handles GET /api/defects/{id}/versions.
func (h *Handler) Versions(w http.ResponseWriter, r *http.Request) {
	vs, err := h.svc.Versions(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, "defect versions", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"versions": vs})
}

// Conflicts handles GET /api/conflicts.
func (h *Handler) Conflicts(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	cs, err := h.svc.Conflicts(r.Context(), limit)
	if err != nil {
		writeError(w, "list conflicts", err)
		return
	}
	if cs == nil {
		cs = []Conflict{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"conflicts": cs})
}

// Document handles GET /api/document.
//
//	@Summary		Render the canonical defect document
//	@Tags			document
//	@Produce		json,text/markdown,text/plain
//	@Param			order_by	query	string	false	"Section order"	Enums(page, priority, first-seen)
//	@Param			format		query	string	false	"Output format"	Enums(markdown, json, terminal)
//	@Success		200
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/document [get]
func (h *Handler) Document(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	order, err := emit.ParseOrderBy(q.Get("order_by"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	format, err := output.ParseFormat(q.Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}
	doc, err := h.svc.Document(r.Context(), order)
	if err != nil {
		writeError(w, "render document", err)
		return
	}
	w.Header().Set("Content-Type", format.ContentType())
	w.WriteHeader(http.StatusOK)
	if err := output.Write(w, doc, format); err != nil {
		slog.Error("write document failed", slog.String("error", err.Error()))
	}
}

// Search handles GET /api/search.
//
//	@Summary		Full-text search across defect titles and findings
//	@Tags			search
//	@Produce		json
//	@Param			q		query		string	true	"Search query"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	SearchResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/search [get]
func (h *Handler) Search(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query().Get("q")
	if q == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'q' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	results, err := h.svc.Search(r.Context(), q, limit)
	if err != nil {
		writeError(w, "search", err)
		return
	}
	if results == nil {
		results = []SearchResult{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

// Runs handles GET /api/runs.
func (h *Handler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.svc.Runs(r.Context(), limit)
	if err != nil {
		writeError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []Run{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"runs": runs})
}

// Ingest handles POST /api/ingest. An empty body ingests every report.
//
//	@Summary		Run an ingestion batch
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			body	body		IngestRequest	false	"Report paths to ingest"
//	@Success		200		{object}	ingest.Summary
//	@Failure		422		{object}	ingest.Summary	"Batch aborted"
//	@Security		BearerAuth
//	@Router			/ingest [post]
func (h *Handler) Ingest(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 1<<20)
	var req IngestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	sum, err := h.svc.Ingest(r.Context(), req.Paths...)
	writeSummary(w, "ingest", sum, err)
}

// PutReport handles PUT /api/reports/*.
//
//	@Summary		Store a report file and ingest it
//	@Tags			ingest
//	@Accept			json
//	@Produce		json
//	@Param			path	path		string			true	"Report path"
//	@Param			body	body		ReportRequest	true	"Report content"
//	@Success		200		{object}	ingest.Summary
//	@Failure		400		{object}	errResponse
//	@Failure		422		{object}	ingest.Summary	"Batch aborted"
//	@Security		BearerAuth
//	@Router			/reports/{path} [put]
func (h *Handler) PutReport(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, 10<<20)
	path := reportPath(r)
	if path == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("path is required"))
		return
	}
	var req ReportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if req.Content == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("content is required"))
		return
	}
	sum, err := h.svc.SubmitReport(r.Context(), path, []byte(req.Content))
	writeSummary(w, "submit report", sum, err)
}

func writeSummary(w http.ResponseWriter, op string, sum *ingest.Summary, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, sum)
	case ingest.IsAborted(err) && sum != nil:
		writeJSON(w, http.StatusUnprocessableEntity, sum)
	default:
		writeError(w, op, err)
	}
}
