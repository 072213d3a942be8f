package api

import (
	"github.com/starford/a11yledger/internal/defectservice"
	"github.com/starford/a11yledger/internal/models"
	"github.com/starford/a11yledger/internal/store"
)

// DefectListItem is a lightweight item in a list response (aliased from the domain layer).
type DefectListItem = defectservice.DefectListItem

// DefectListResponse wraps paginated defect listings.
type DefectListResponse struct {
	Defects []DefectListItem `json:"defects" validate:"required"`
	Total   int              `json:"total" example:"42" validate:"required"`
}

// Conflict is a queued ambiguous record.
type Conflict = models.Conflict

// SearchResult is a single search hit in the API response.
type SearchResult = store.SearchResult

// SearchResponse wraps search results.
type SearchResponse struct {
	Results []SearchResult `json:"results" validate:"required"`
}

// Run is one recorded ingestion batch.
type Run = store.Run

// IngestRequest is the optional request body of POST /api/ingest.
type IngestRequest struct {
	Paths []string `json:"paths,omitempty" example:"sprint-1/web.md"`
}

// ReportRequest is the request body for storing a report file.
type ReportRequest struct {
	Content string `json:"content" example:"### Title\nA11y_4.1.2 ..." validate:"required"`
}
