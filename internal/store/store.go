package store

import (
	"context"

	"github.com/starford/a11yledger/internal/models"
)

// Reader is the read side of the store. Consumers should depend on this
// interface rather than the concrete *DB type.
type Reader interface {
	ListDefects(ctx context.Context, f Filter) ([]models.Canonical, int, error)
	AllDefects(ctx context.Context) ([]models.Canonical, error)
	GetDefect(ctx context.Context, id string) (*models.Canonical, error)
	Versions(ctx context.Context, id string) ([]models.Canonical, error)
	ListConflicts(ctx context.Context, limit int) ([]models.Conflict, error)
	Search(ctx context.Context, query string, limit int) ([]SearchResult, error)
	Runs(ctx context.Context, limit int) ([]Run, error)
	Ping(ctx context.Context) error
}

// Verify *DB satisfies Reader at compile time.
var _ Reader = (*DB)(nil)
