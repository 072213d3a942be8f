// Package ingest turns report files into canonical defect records. Files are
// read, parsed and validated by a bounded pool of workers; a single writer
// applies the results to one store batch in file order.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/starford/a11yledger/internal/aggregate"
	"github.com/starford/a11yledger/internal/apperr"
	"github.com/starford/a11yledger/internal/checksum"
	"github.com/starford/a11yledger/internal/identity"
	"github.com/starford/a11yledger/internal/models"
	"github.com/starford/a11yledger/internal/parser"
	"github.com/starford/a11yledger/internal/storage"
	"github.com/starford/a11yledger/internal/store"
	"github.com/starford/a11yledger/internal/validate"
)

// Policy decides what a batch does with an invalid record.
type Policy string

const (
	// PolicySkip logs and counts invalid records; the batch commits.
	PolicySkip Policy = "skip"
	// PolicyAbortBatch rolls the whole batch back on the first invalid record.
	PolicyAbortBatch Policy = "abortBatch"
)

// ParsePolicy parses s; the empty string selects PolicySkip.
func ParsePolicy(s string) (Policy, error) {
	switch {
	case s == "" || strings.EqualFold(s, string(PolicySkip)):
		return PolicySkip, nil
	case strings.EqualFold(s, string(PolicyAbortBatch)), strings.EqualFold(s, "abort"):
		return PolicyAbortBatch, nil
	}
	return "", fmt.Errorf("ingest: unknown policy %q", s)
}

// DefaultWorkers is the worker count used when Options.Workers is not positive.
const DefaultWorkers = 4

// Options configures a Pipeline.
type Options struct {
	Workers   int
	OnInvalid Policy
	// Force re-ingests files whose checksum is unchanged.
	Force    bool
	Resolver identity.Resolver
}

// Summary reports the outcome of one batch.
type Summary struct {
	RunID        string              `json:"run_id"`
	Files        int                 `json:"files"`
	SkippedFiles int                 `json:"skipped_files"`
	FailedFiles  int                 `json:"failed_files"`
	Ingested     int                 `json:"ingested"`
	Inserted     int                 `json:"inserted"`
	Merged       int                 `json:"merged"`
	Unchanged    int                 `json:"unchanged"`
	Conflicts    int                 `json:"conflicts"`
	Rejected     int                 `json:"rejected"`
	Aborted      bool                `json:"aborted"`
	Rejections   []*apperr.Rejection `json:"rejections,omitempty"`
	Errors       []string            `json:"errors,omitempty"`
	Changes      []Change            `json:"changes,omitempty"`
}

// Change is one canonical record inserted or merged by a batch.
type Change struct {
	ID      string `json:"id"`
	Version int    `json:"version"`
	Kind    string `json:"kind"`
}

// Pipeline runs ingestion batches against one store. Batches are serialized.
type Pipeline struct {
	db      *store.DB
	reports storage.Provider
	opts    Options
	logger  *slog.Logger

	mu sync.Mutex
}

// New returns a Pipeline reading report files from reports.
func New(db *store.DB, reports storage.Provider, opts Options, logger *slog.Logger) *Pipeline {
	if opts.Workers <= 0 {
		opts.Workers = DefaultWorkers
	}
	if opts.OnInvalid == "" {
		opts.OnInvalid = PolicySkip
	}
	if opts.Resolver.Threshold == 0 {
		opts.Resolver = identity.NewResolver(0, -1)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		db:      db,
		reports: reports,
		opts:    opts,
		logger:  logger.With(slog.String("component", "ingest")),
	}
}

// fileResult is what a worker produces for one file.
type fileResult struct {
	index      int
	path       string
	sum        string
	skipped    bool
	err        error
	records    []models.DefectRecord
	rejections []*apperr.Rejection
}

// Run ingests paths as one batch; with no paths every report file of the
// provider is considered. Files whose content is unchanged since their last
// ingestion are skipped unless Options.Force is set.
//
// Under PolicyAbortBatch, and whenever ctx is cancelled or the store fails,
// nothing the batch wrote is kept and the returned error wraps
// apperr.ErrBatchAborted. The summary is returned in every case.
func (p *Pipeline) Run(ctx context.Context, paths ...string) (*Summary, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	started := time.Now()
	sum := &Summary{RunID: uuid.NewString()}
	logger := p.logger.With(slog.String("run_id", sum.RunID))

	if len(paths) == 0 {
		metas, err := p.reports.List("")
		if err != nil {
			return sum, fmt.Errorf("ingest: list reports: %w", err)
		}
		for _, m := range metas {
			paths = append(paths, m.Path)
		}
	}
	sum.Files = len(paths)

	// The run row outlives the batch, so it is written even when ctx is done.
	record := func(cause error) (*Summary, error) {
		sum.Aborted = true
		run := p.run(sum, store.RunAborted, started)
		if recErr := p.db.RecordRun(context.WithoutCancel(ctx), run); recErr != nil {
			logger.Error("record aborted run failed", slog.String("error", recErr.Error()))
		}
		logger.Warn("batch aborted", slog.String("reason", cause.Error()))
		return sum, fmt.Errorf("ingest: %w: %w", apperr.ErrBatchAborted, cause)
	}
	if err := ctx.Err(); err != nil {
		return record(err)
	}

	known := map[string]string{}
	if !p.opts.Force {
		var err error
		if known, err = p.db.SourceChecksums(ctx); err != nil {
			return record(fmt.Errorf("load checksums: %w", err))
		}
	}

	batch, err := p.db.Begin(ctx, sum.RunID)
	if err != nil {
		return record(err)
	}

	ctx, cancel := context.WithCancel(ctx)
	results := p.load(ctx, paths, known)
	defer func() {
		cancel()
		for range results {
		}
	}()

	abort := func(cause error) (*Summary, error) {
		if rbErr := batch.Rollback(); rbErr != nil {
			logger.Error("rollback failed", slog.String("error", rbErr.Error()))
		}
		return record(cause)
	}

	agg := aggregate.New(p.opts.Resolver, sum.RunID, logger)
	pending := make(map[int]fileResult)
	next := 0
	for r := range results {
		pending[r.index] = r
		for {
			cur, ok := pending[next]
			if !ok {
				break
			}
			delete(pending, next)
			next++
			if err := ctx.Err(); err != nil {
				return abort(err)
			}
			if err := p.apply(ctx, agg, batch, cur, sum, logger); err != nil {
				return abort(err)
			}
		}
	}
	if err := ctx.Err(); err != nil {
		return abort(err)
	}

	if err := batch.Commit(ctx, p.run(sum, store.RunCommitted, started)); err != nil {
		return abort(err)
	}
	logger.Info("batch committed",
		slog.Int("files", sum.Files),
		slog.Int("skipped_files", sum.SkippedFiles),
		slog.Int("ingested", sum.Ingested),
		slog.Int("inserted", sum.Inserted),
		slog.Int("merged", sum.Merged),
		slog.Int("rejected", sum.Rejected),
		slog.Int("conflicts", sum.Conflicts),
	)
	return sum, nil
}

// load starts the worker pool. The returned channel is closed once every
// worker has finished.
func (p *Pipeline) load(ctx context.Context, paths []string, known map[string]string) <-chan fileResult {
	results := make(chan fileResult)
	var g errgroup.Group
	g.SetLimit(p.opts.Workers)

	go func() {
		defer close(results)
		for i, path := range paths {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				r := p.loadFile(i, path, known[path])
				select {
				case results <- r:
					return nil
				case <-ctx.Done():
					return ctx.Err()
				}
			})
		}
		_ = g.Wait()
	}()
	return results
}

func (p *Pipeline) loadFile(index int, path, knownSum string) fileResult {
	r := fileResult{index: index, path: path}
	data, err := p.reports.Read(path)
	if err != nil {
		r.err = fmt.Errorf("read %s: %w", path, err)
		return r
	}
	r.sum = checksum.Sum(data)
	if knownSum != "" && knownSum == r.sum {
		r.skipped = true
		return r
	}
	res, err := parser.Parse(path, data)
	if err != nil {
		r.err = err
		return r
	}
	for _, raw := range res.Records {
		rec, rej := validate.Validate(raw)
		if rej != nil {
			r.rejections = append(r.rejections, rej)
			continue
		}
		r.records = append(r.records, rec)
	}
	return r
}

// apply writes one file's records to the batch. A non-nil error aborts it.
func (p *Pipeline) apply(ctx context.Context, agg *aggregate.Aggregator, batch *store.Batch, r fileResult, sum *Summary, logger *slog.Logger) error {
	if r.skipped {
		sum.SkippedFiles++
		logger.Debug("unchanged file skipped", slog.String("path", r.path))
		return nil
	}
	if r.err != nil {
		sum.FailedFiles++
		sum.Errors = append(sum.Errors, r.err.Error())
		logger.Warn("report file not ingested", slog.String("path", r.path), slog.String("error", r.err.Error()))
		if p.opts.OnInvalid == PolicyAbortBatch {
			return r.err
		}
		return nil
	}

	for _, rej := range r.rejections {
		sum.Rejected++
		sum.Rejections = append(sum.Rejections, rej)
		logger.Warn("record rejected",
			slog.String("source", rej.Source),
			slog.String("field", rej.Field),
			slog.String("reason", string(rej.Kind)),
		)
		if p.opts.OnInvalid == PolicyAbortBatch {
			return rej
		}
	}

	for _, rec := range r.records {
		res, err := agg.Apply(ctx, batch, rec)
		if err != nil {
			return err
		}
		sum.Ingested++
		switch res.Outcome {
		case aggregate.OutcomeInserted:
			sum.Inserted++
			sum.Changes = append(sum.Changes, Change{ID: res.ID, Version: res.Version, Kind: res.Outcome.String()})
		case aggregate.OutcomeMerged:
			sum.Merged++
			sum.Changes = append(sum.Changes, Change{ID: res.ID, Version: res.Version, Kind: res.Outcome.String()})
		case aggregate.OutcomeUnchanged:
			sum.Unchanged++
		case aggregate.OutcomeConflict:
			sum.Conflicts++
		}
	}
	return batch.MarkSource(ctx, r.path, r.sum)
}

func (p *Pipeline) run(sum *Summary, status string, started time.Time) store.Run {
	return store.Run{
		ID:         sum.RunID,
		Status:     status,
		StartedAt:  started,
		FinishedAt: time.Now(),
		Files:      sum.Files,
		Ingested:   sum.Ingested,
		Rejected:   sum.Rejected,
		Conflicts:  sum.Conflicts,
	}
}

// IsAborted reports whether err came from an aborted batch.
func IsAborted(err error) bool {
	return errors.Is(err, apperr.ErrBatchAborted)
}
