package aggregate

import (
	"context"
	"fmt"
	"log/slog"
	"reflect"

	"github.com/starford/a11yledger/internal/identity"
	"github.com/starford/a11yledger/internal/models"
)

// Tx is the view of the canonical store the aggregator writes through. All
// calls for one batch share one Tx.
type Tx interface {
	// NextSeq returns a strictly increasing ingestion sequence number.
	NextSeq(ctx context.Context) (int64, error)
	// Candidates returns every canonical whose fingerprint has base.
	Candidates(ctx context.Context, base string) ([]models.Canonical, error)
	// Insert stores a new canonical at version 1.
	Insert(ctx context.Context, c models.Canonical) error
	// Update replaces a canonical and appends it to the version history.
	Update(ctx context.Context, c models.Canonical) error
	// AddConflict queues an ambiguous record for review.
	AddConflict(ctx context.Context, c models.Conflict) error
}

// Outcome is what Apply did with a record.
type Outcome int

const (
	OutcomeInserted Outcome = iota
	OutcomeMerged
	OutcomeUnchanged
	OutcomeConflict
)

func (o Outcome) String() string {
	switch o {
	case OutcomeInserted:
		return "inserted"
	case OutcomeMerged:
		return "merged"
	case OutcomeUnchanged:
		return "unchanged"
	case OutcomeConflict:
		return "conflict"
	}
	return "unknown"
}

// Result reports the effect of one Apply call.
type Result struct {
	Outcome Outcome
	ID      string
	Version int
	Score   float64
}

// Aggregator applies records to the store one at a time. It is not safe for
// concurrent use; callers serialize Apply through a single writer.
type Aggregator struct {
	resolver identity.Resolver
	runID    string
	logger   *slog.Logger
}

// New returns an Aggregator that tags conflicts with runID.
func New(resolver identity.Resolver, runID string, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{resolver: resolver, runID: runID, logger: logger}
}

// Apply resolves rec against the store and inserts, merges or queues it.
func (a *Aggregator) Apply(ctx context.Context, tx Tx, rec models.DefectRecord) (Result, error) {
	key := identity.Of(rec)

	cands, err := tx.Candidates(ctx, key.Base)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate: candidates: %w", err)
	}
	seq, err := tx.NextSeq(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("aggregate: seq: %w", err)
	}

	d := a.resolver.Decide(key.Base, rec, cands)
	switch d.Action {
	case identity.ActionInsert:
		c := FromRecord(rec, key, d.Fingerprint, seq)
		c.Version = 1
		if err := tx.Insert(ctx, c); err != nil {
			return Result{}, fmt.Errorf("aggregate: insert %s: %w", c.ID, err)
		}
		a.logger.Debug("defect inserted", "id", c.ID, "source", source(rec))
		return Result{Outcome: OutcomeInserted, ID: c.ID, Version: 1, Score: d.Score}, nil

	case identity.ActionMerge:
		cur := *d.Match
		incoming := FromRecord(rec, key, cur.Fingerprint, seq)
		merged := Merge(cur, incoming)
		if reflect.DeepEqual(merged, Merge(cur, cur)) {
			return Result{Outcome: OutcomeUnchanged, ID: cur.ID, Version: cur.Version, Score: d.Score}, nil
		}
		merged.Version = cur.Version + 1
		if err := tx.Update(ctx, merged); err != nil {
			return Result{}, fmt.Errorf("aggregate: update %s: %w", merged.ID, err)
		}
		a.logger.Debug("defect merged", "id", merged.ID, "version", merged.Version, "source", source(rec))
		return Result{Outcome: OutcomeMerged, ID: merged.ID, Version: merged.Version, Score: d.Score}, nil

	default:
		c := models.Conflict{
			Source:      source(rec),
			CandidateID: d.Match.ID,
			Score:       d.Score,
			Title:       rec.Title,
			Page:        rec.Page,
			RunID:       a.runID,
			Record:      rec,
		}
		if err := tx.AddConflict(ctx, c); err != nil {
			return Result{}, fmt.Errorf("aggregate: conflict: %w", err)
		}
		a.logger.Info("ambiguous fingerprint collision", "source", c.Source, "candidate", c.CandidateID, "score", c.Score)
		return Result{Outcome: OutcomeConflict, ID: d.Match.ID, Score: d.Score}, nil
	}
}

// FromRecord builds a single-sighting canonical for rec in normal form.
func FromRecord(rec models.DefectRecord, key identity.Key, fp models.Fingerprint, seq int64) models.Canonical {
	c := models.Canonical{
		ID:             fp.Key(),
		Fingerprint:    fp,
		NormalizedPage: key.Page,
		PrimaryRef:     key.PrimaryRef,
		TitleSignature: key.Signature,
		FirstSeen:      seq,
		Record:         rec,
		Sightings: []models.Sighting{{
			Source:        source(rec),
			Seq:           seq,
			Environment:   rec.Environment,
			AssistiveTech: rec.AssistiveTech,
			ReportedAt:    rec.ReportedAt,
		}},
	}
	return Merge(c, c)
}

func source(rec models.DefectRecord) string {
	if len(rec.SourceReports) == 0 {
		return ""
	}
	return rec.SourceReports[0]
}
