package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/models"
)

// Filter narrows ListDefects. Zero fields match everything.
type Filter struct {
	Page        string
	Ref         string
	MinPriority models.Priority
	Limit       int
	Offset      int
}

// SearchResult represents one search hit.
type SearchResult struct {
	ID      string `json:"id"`
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// ListDefects returns canonicals matching f in first-seen order, with the
// total number of matches.
func (db *DB) ListDefects(ctx context.Context, f Filter) ([]models.Canonical, int, error) {
	var (
		where []string
		args  []any
	)
	if f.Page != "" {
		where = append(where, "page = ?")
		args = append(args, f.Page)
	}
	if f.Ref != "" {
		where = append(where, "refs LIKE ?")
		args = append(args, "% "+f.Ref+" %")
	}
	if f.MinPriority > models.PriorityUnknown {
		where = append(where, "priority >= ?")
		args = append(args, int(f.MinPriority))
	}
	clause := ""
	if len(where) > 0 {
		clause = " WHERE " + strings.Join(where, " AND ")
	}

	var total int
	if err := db.conn.QueryRowContext(ctx, `SELECT count(*) FROM defects`+clause, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count defects: %w", err)
	}

	query := `SELECT data FROM defects` + clause + ` ORDER BY first_seen, id`
	if f.Limit > 0 {
		query += ` LIMIT ? OFFSET ?`
		args = append(args, f.Limit, f.Offset)
	}
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list defects: %w", err)
	}
	out, err := scanCanonicals(rows)
	if err != nil {
		return nil, 0, err
	}
	return out, total, nil
}

// AllDefects returns every canonical in first-seen order.
func (db *DB) AllDefects(ctx context.Context) ([]models.Canonical, error) {
	out, _, err := db.ListDefects(ctx, Filter{})
	return out, err
}

// GetDefect returns the canonical with id.
func (db *DB) GetDefect(ctx context.Context, id string) (*models.Canonical, error) {
	var data string
	err := db.conn.QueryRowContext(ctx, `SELECT data FROM defects WHERE id = ?`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("store: defect %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("store: get defect: %w", err)
	}
	var c models.Canonical
	if err := json.Unmarshal([]byte(data), &c); err != nil {
		return nil, fmt.Errorf("store: decode defect %s: %w", id, err)
	}
	return &c, nil
}

// Versions returns the history of id, oldest first.
func (db *DB) Versions(ctx context.Context, id string) ([]models.Canonical, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT data FROM defect_versions WHERE id = ? ORDER BY version`, id)
	if err != nil {
		return nil, fmt.Errorf("store: versions: %w", err)
	}
	out, err := scanCanonicals(rows)
	if err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("store: defect %s: %w", id, apperr.ErrNotFound)
	}
	return out, nil
}

// ListConflicts returns queued conflicts, oldest first.
func (db *DB) ListConflicts(ctx context.Context, limit int) ([]models.Conflict, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, source, candidate_id, score, title, page, run_id, data
		FROM conflicts
		ORDER BY id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list conflicts: %w", err)
	}
	defer rows.Close()

	var out []models.Conflict
	for rows.Next() {
		var (
			c    models.Conflict
			data string
		)
		if err := rows.Scan(&c.ID, &c.Source, &c.CandidateID, &c.Score, &c.Title, &c.Page, &c.RunID, &data); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(data), &c.Record); err != nil {
			return nil, fmt.Errorf("store: decode conflict %d: %w", c.ID, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SourceChecksums returns the checksum of every processed report file.
func (db *DB) SourceChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("store: source checksums: %w", err)
	}
	defer rows.Close()
	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// RecordRun stores a run outside any batch, e.g. one that was rolled back.
// It still runs when ctx is already cancelled.
func (db *DB) RecordRun(ctx context.Context, r Run) error {
	return insertRun(context.WithoutCancel(ctx), db.conn, r)
}

// Runs returns the most recent ingest runs, newest first.
func (db *DB) Runs(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := db.conn.QueryContext(ctx, `
		SELECT id, status, started_at, finished_at, files, ingested, rejected, conflicts
		FROM ingest_runs
		ORDER BY started_at DESC, id
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: runs: %w", err)
	}
	defer rows.Close()

	var out []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.ID, &r.Status, &r.StartedAt, &r.FinishedAt, &r.Files, &r.Ingested, &r.Rejected, &r.Conflicts); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanCanonicals(rows *sql.Rows) ([]models.Canonical, error) {
	defer rows.Close()
	var out []models.Canonical
	for rows.Next() {
		var data string
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var c models.Canonical
		if err := json.Unmarshal([]byte(data), &c); err != nil {
			return nil, fmt.Errorf("store: decode defect: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
