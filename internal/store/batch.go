package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/mattn/go-sqlite3"

	"github.com/starford/a11yledger/internal/aggregate"
	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/models"
)

// Run statuses.
const (
	RunCommitted = "committed"
	RunAborted   = "aborted"
)

// Run is one ingestion batch as recorded in ingest_runs.
type Run struct {
	ID         string    `json:"id"`
	Status     string    `json:"status"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Files      int       `json:"files"`
	Ingested   int       `json:"ingested"`
	Rejected   int       `json:"rejected"`
	Conflicts  int       `json:"conflicts"`
}

// Batch is one ingestion transaction. Nothing it writes is visible to
// readers until Commit; Rollback discards all of it.
type Batch struct {
	tx    *sql.Tx
	runID string
}

var _ aggregate.Tx = (*Batch)(nil)

// Begin starts a batch for runID.
func (db *DB) Begin(ctx context.Context, runID string) (*Batch, error) {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin tx: %w", err)
	}
	return &Batch{tx: tx, runID: runID}, nil
}

// RunID returns the id of the run the batch belongs to.
func (b *Batch) RunID() string { return b.runID }

// Commit records run and makes the batch visible.
func (b *Batch) Commit(ctx context.Context, run Run) error {
	run.ID, run.Status = b.runID, RunCommitted
	if err := insertRun(ctx, b.tx, run); err != nil {
		b.tx.Rollback() //nolint:errcheck // already failing
		return err
	}
	if err := b.tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// Rollback discards the batch. It is safe to call after Commit.
func (b *Batch) Rollback() error {
	if err := b.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("store: rollback: %w", err)
	}
	return nil
}

// NextSeq returns the next ingestion sequence number.
func (b *Batch) NextSeq(ctx context.Context) (int64, error) {
	var v int64
	err := b.tx.QueryRowContext(ctx, `
		INSERT INTO counters (name, value) VALUES ('seq', 1)
		ON CONFLICT(name) DO UPDATE SET value = value + 1
		RETURNING value
	`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("store: next seq: %w", err)
	}
	return v, nil
}

// Candidates returns every canonical sharing base, ordered by variant.
func (b *Batch) Candidates(ctx context.Context, base string) ([]models.Canonical, error) {
	rows, err := b.tx.QueryContext(ctx, `SELECT data FROM defects WHERE base = ? ORDER BY variant`, base)
	if err != nil {
		return nil, fmt.Errorf("store: candidates: %w", err)
	}
	return scanCanonicals(rows)
}

// Insert stores a new canonical and its first history entry.
func (b *Batch) Insert(ctx context.Context, c models.Canonical) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", c.ID, err)
	}
	_, err = b.tx.ExecContext(ctx, `
		INSERT INTO defects (id, base, variant, page, primary_ref, refs, priority, first_seen, version, title, body, data, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, c.ID, c.Fingerprint.Base, c.Fingerprint.Variant, c.NormalizedPage, c.PrimaryRef, refsColumn(c.Record.WCAGRefs),
		int(c.Record.Priority), c.FirstSeen, c.Version, c.Record.Title, bodyColumn(c.Record), string(data), time.Now().UTC())
	if err != nil {
		if isUnique(err) {
			return fmt.Errorf("store: insert %s: %w", c.ID, apperr.ErrAlreadyExists)
		}
		return fmt.Errorf("store: insert %s: %w", c.ID, err)
	}
	if err := ftsUpsert(b.tx, c.ID, c.Record.Title, bodyColumn(c.Record)); err != nil {
		return err
	}
	return b.addVersion(ctx, c, data)
}

// Update replaces a canonical whose stored version is c.Version-1 and appends
// c to the version history.
func (b *Batch) Update(ctx context.Context, c models.Canonical) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("store: marshal %s: %w", c.ID, err)
	}
	res, err := b.tx.ExecContext(ctx, `
		UPDATE defects SET
			refs       = ?,
			priority   = ?,
			first_seen = ?,
			version    = ?,
			title      = ?,
			body       = ?,
			data       = ?,
			updated_at = ?
		WHERE id = ? AND version = ?
	`, refsColumn(c.Record.WCAGRefs), int(c.Record.Priority), c.FirstSeen, c.Version, c.Record.Title,
		bodyColumn(c.Record), string(data), time.Now().UTC(), c.ID, c.Version-1)
	if err != nil {
		return fmt.Errorf("store: update %s: %w", c.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("store: update %s at version %d: %w", c.ID, c.Version, apperr.ErrConflict)
	}
	if err := ftsUpsert(b.tx, c.ID, c.Record.Title, bodyColumn(c.Record)); err != nil {
		return err
	}
	return b.addVersion(ctx, c, data)
}

func (b *Batch) addVersion(ctx context.Context, c models.Canonical, data []byte) error {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO defect_versions (id, version, run_id, data) VALUES (?, ?, ?, ?)
	`, c.ID, c.Version, b.runID, string(data))
	if err != nil {
		return fmt.Errorf("store: add version %s@%d: %w", c.ID, c.Version, err)
	}
	return nil
}

// AddConflict queues c. A source already queued against the same candidate
// is kept once.
func (b *Batch) AddConflict(ctx context.Context, c models.Conflict) error {
	data, err := json.Marshal(c.Record)
	if err != nil {
		return fmt.Errorf("store: marshal conflict: %w", err)
	}
	_, err = b.tx.ExecContext(ctx, `
		INSERT OR IGNORE INTO conflicts (source, candidate_id, score, title, page, run_id, data)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, c.Source, c.CandidateID, c.Score, c.Title, c.Page, c.RunID, string(data))
	if err != nil {
		return fmt.Errorf("store: add conflict: %w", err)
	}
	return nil
}

// MarkSource records the checksum of a report file processed by the batch.
func (b *Batch) MarkSource(ctx context.Context, path, sum string) error {
	_, err := b.tx.ExecContext(ctx, `
		INSERT INTO sources (path, checksum, run_id, updated_at) VALUES (?, ?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			run_id     = excluded.run_id,
			updated_at = excluded.updated_at
	`, path, sum, b.runID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("store: mark source: %w", err)
	}
	return nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

func insertRun(ctx context.Context, e execer, r Run) error {
	_, err := e.ExecContext(ctx, `
		INSERT INTO ingest_runs (id, status, started_at, finished_at, files, ingested, rejected, conflicts)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status      = excluded.status,
			finished_at = excluded.finished_at,
			files       = excluded.files,
			ingested    = excluded.ingested,
			rejected    = excluded.rejected,
			conflicts   = excluded.conflicts
	`, r.ID, r.Status, r.StartedAt.UTC(), r.FinishedAt.UTC(), r.Files, r.Ingested, r.Rejected, r.Conflicts)
	if err != nil {
		return fmt.Errorf("store: record run: %w", err)
	}
	return nil
}

func isUnique(err error) bool {
	var se sqlite3.Error
	if !errors.As(err, &se) {
		return false
	}
	return se.ExtendedCode == sqlite3.ErrConstraintPrimaryKey || se.ExtendedCode == sqlite3.ErrConstraintUnique
}

// refsColumn stores refs space-delimited so "% ref %" matches whole refs.
func refsColumn(refs []string) string {
	if len(refs) == 0 {
		return ""
	}
	return " " + strings.Join(refs, " ") + " "
}

func bodyColumn(r models.DefectRecord) string {
	parts := make([]string, 0, len(r.ActualResult)+len(r.ExpectedResult)+1)
	parts = append(parts, r.Page)
	parts = append(parts, r.ActualResult...)
	parts = append(parts, r.ExpectedResult...)
	return strings.Join(parts, "\n")
}
