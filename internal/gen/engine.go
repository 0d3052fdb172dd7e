// Package gen drives card generation over pending highlight records.
//
// Two execution modes converge on the same store transitions: direct mode
// fans records out to a bounded worker pool of synchronous model calls,
// and batch mode hands the whole set to the provider's asynchronous batch
// API and applies results when a later invocation loads them. Either way
// a record ends up generated or generation_failed exactly once; the store's
// guarded transitions enforce that, the engine just reports what happened.
package gen

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"sync"

	"github.com/mlodato/kindlecards/internal/cards"
	"github.com/mlodato/kindlecards/internal/llm"
	"github.com/mlodato/kindlecards/internal/store"
)

// DefaultParallel is the direct-mode worker pool size when the caller
// doesn't override it.
const DefaultParallel = 10

// minHighlightLen is the shortest highlight worth sending to the model.
// Anything shorter is stored as a SKIP result immediately so it doesn't
// sit in the pending pool forever.
const minHighlightLen = 20

// ErrNoPending is returned when generation is requested but no records
// await processing.
var ErrNoPending = errors.New("no pending highlights")

// Engine coordinates generation between the store and the model.
type Engine struct {
	store  *store.Store
	gen    llm.Generator
	batch  llm.BatchRunner
	logger *log.Logger
}

// New creates a generation engine. The batch runner may be nil when only
// direct mode is used. A nil logger falls back to stderr.
func New(st *store.Store, g llm.Generator, b llm.BatchRunner, logger *log.Logger) *Engine {
	if logger == nil {
		logger = log.New(os.Stderr, "[gen] ", log.LstdFlags)
	}
	return &Engine{store: st, gen: g, batch: b, logger: logger}
}

// Options configures one generation pass.
type Options struct {
	// Books limits generation to specific books (empty = all).
	Books []store.Book
	// MaxGenerations caps how many records are processed (0 = unbounded).
	MaxGenerations int
	// Parallel bounds concurrent model calls in direct mode.
	Parallel int
	// Model is recorded with batch submissions for later inspection.
	Model string
}

// Summary reports a finished direct run or batch application.
type Summary struct {
	Selected  int
	Generated int
	Skipped   int
	Failed    int
}

// GenerateDirect processes pending records with concurrent synchronous
// model calls.
//
// The selection is a snapshot: each record is dispatched to exactly one
// worker via the jobs channel, so no identity is processed twice within a
// run. One record's failure is recorded and the run continues. Cancelling
// the context stops dispatch between records; results already applied
// stay applied.
func (e *Engine) GenerateDirect(ctx context.Context, opts Options) (Summary, error) {
	records, err := e.store.SelectPending(ctx, store.PendingFilter{
		Books: opts.Books,
		Limit: opts.MaxGenerations,
	})
	if err != nil {
		return Summary{}, err
	}
	if len(records) == 0 {
		return Summary{}, ErrNoPending
	}

	parallel := opts.Parallel
	if parallel <= 0 {
		parallel = DefaultParallel
	}
	if parallel > len(records) {
		parallel = len(records)
	}

	summary := Summary{Selected: len(records)}
	var mu sync.Mutex

	jobs := make(chan *store.Record)
	var wg sync.WaitGroup
	for i := 0; i < parallel; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for rec := range jobs {
				outcome, kind := e.generateOne(ctx, rec)
				if err := e.store.ApplyGenerationResult(ctx, rec.ID, outcome); err != nil {
					// A concurrent run got here first; their result stands.
					if errors.Is(err, store.ErrAlreadyApplied) {
						e.logger.Printf("record %s contended, keeping existing result", rec.ID)
						continue
					}
					e.logger.Printf("WARNING: failed to store result for %s: %v", rec.ID, err)
					kind = resultFailed
				}
				mu.Lock()
				summary.count(kind)
				mu.Unlock()
			}
		}()
	}

dispatch:
	for _, rec := range records {
		select {
		case <-ctx.Done():
			break dispatch
		case jobs <- rec:
		}
	}
	close(jobs)
	wg.Wait()

	return summary, ctx.Err()
}

type resultKind int

const (
	resultGenerated resultKind = iota
	resultSkipped
	resultFailed
)

func (s *Summary) count(kind resultKind) {
	switch kind {
	case resultGenerated:
		s.Generated++
	case resultSkipped:
		s.Skipped++
	case resultFailed:
		s.Failed++
	}
}

// generateOne produces the outcome for a single record. Model errors map
// to a failure outcome, never an aborted run.
func (e *Engine) generateOne(ctx context.Context, rec *store.Record) (store.Outcome, resultKind) {
	if content := skipContent(rec); content != nil {
		return store.Generated(content), resultSkipped
	}

	content, err := e.gen.Generate(ctx, llm.Request{
		ID:        rec.ID,
		BookTitle: rec.BookTitle,
		Author:    rec.Author,
		Highlight: rec.Content,
	})
	if err != nil {
		e.logger.Printf("generation failed for %s: %v", rec.ID, err)
		return store.Failed(err), resultFailed
	}
	if len(content.Syncable()) == 0 {
		return store.Generated(content), resultSkipped
	}
	return store.Generated(content), resultGenerated
}

// skipContent returns a stored SKIP result for highlights too short to be
// worth a model call, or nil when the record should be generated.
func skipContent(rec *store.Record) *cards.Content {
	if len(rec.Content) >= minHighlightLen {
		return nil
	}
	return &cards.Content{Cards: []cards.Card{{Pattern: cards.PatternSkip}}}
}

// outcomeFor maps one batch result onto a store outcome.
func outcomeFor(result *llm.BatchResult) (store.Outcome, resultKind) {
	if result == nil {
		return store.Failed(fmt.Errorf("batch returned no result for record")), resultFailed
	}
	if result.Err != nil {
		return store.Failed(result.Err), resultFailed
	}
	if len(result.Content.Syncable()) == 0 {
		return store.Generated(result.Content), resultSkipped
	}
	return store.Generated(result.Content), resultGenerated
}
