package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/a11yledger/internal/defectservice"
)

// NewRouter creates a chi router with all API routes mounted.
// authEnabled controls whether Bearer token auth is enforced.
// sseHandler, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(svc *defectservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(authEnabled, token))

	// Canonical defects.
	r.Get("/defects", h.ListDefects)
	r.Get("/defects/{id}", h.GetDefect)
	r.Get("/defects/{id}/versions", h.Versions)
	r.Get("/conflicts", h.Conflicts)

	// Rendered document.
	r.Get("/document", h.Document)

	r.Get("/search", h.Search)

	// Ingestion.
	r.Get("/runs", h.Runs)
	r.Post("/ingest", h.Ingest)
	r.Put("/reports/*", h.PutReport)

	// SSE endpoint (protected by same auth middleware).
	if sseHandler != nil {
		r.Get("/events", sseHandler.ServeHTTP)
	}

	return r
}
