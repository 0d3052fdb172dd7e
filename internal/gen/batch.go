package gen

import (
	"context"
	"errors"
	"fmt"

	"github.com/mlodato/kindlecards/internal/llm"
	"github.com/mlodato/kindlecards/internal/store"
)

// Submission describes a newly created batch job.
type Submission struct {
	BatchID string
	Records int
	Model   string
}

// SubmitBatch selects pending records, hands them to the provider as one
// asynchronous batch job, and claims them in the store so a concurrent
// run cannot re-submit the same highlights.
//
// Highlights below the minimum length are resolved locally as SKIP and
// excluded from the job. Record state is otherwise untouched beyond the
// claim; results arrive via LoadBatch once the provider finishes.
func (e *Engine) SubmitBatch(ctx context.Context, opts Options) (*Submission, error) {
	if e.batch == nil {
		return nil, fmt.Errorf("batch runner not configured")
	}

	records, err := e.store.SelectPending(ctx, store.PendingFilter{
		Books: opts.Books,
		Limit: opts.MaxGenerations,
	})
	if err != nil {
		return nil, err
	}

	reqs := make([]llm.Request, 0, len(records))
	ids := make([]string, 0, len(records))
	for _, rec := range records {
		if content := skipContent(rec); content != nil {
			if err := e.store.ApplyGenerationResult(ctx, rec.ID, store.Generated(content)); err != nil {
				e.logger.Printf("WARNING: failed to skip short highlight %s: %v", rec.ID, err)
			}
			continue
		}
		reqs = append(reqs, llm.Request{
			ID:        rec.ID,
			BookTitle: rec.BookTitle,
			Author:    rec.Author,
			Highlight: rec.Content,
		})
		ids = append(ids, rec.ID)
	}
	if len(reqs) == 0 {
		return nil, ErrNoPending
	}

	batchID, err := e.batch.SubmitBatch(ctx, reqs)
	if err != nil {
		return nil, fmt.Errorf("failed to submit batch: %w", err)
	}

	if err := e.store.CreateBatch(ctx, batchID, opts.Model, ids); err != nil {
		// The external job exists but we lost the claim race; its results
		// will be rejected by the transition guards when loaded.
		return nil, fmt.Errorf("batch %s submitted but not claimed: %w", batchID, err)
	}

	e.logger.Printf("submitted batch %s covering %d records", batchID, len(ids))
	return &Submission{BatchID: batchID, Records: len(ids), Model: opts.Model}, nil
}

// LoadOutcome reports what LoadBatch did.
type LoadOutcome struct {
	Status *llm.BatchStatus
	// Pending means the job is still processing; nothing was mutated.
	Pending bool
	// AlreadyApplied means this job's results were applied by an earlier
	// load; nothing was mutated.
	AlreadyApplied bool
	Summary        Summary
}

// LoadBatch polls a submitted job and, if it has finished, applies each
// covered record's result exactly once.
//
// An identifier the store never submitted is a fatal lookup error: the
// engine will not guess at coverage for jobs created elsewhere. Loading a
// job whose results were already applied is a detected no-op.
func (e *Engine) LoadBatch(ctx context.Context, batchID string) (*LoadOutcome, error) {
	if e.batch == nil {
		return nil, fmt.Errorf("batch runner not configured")
	}

	meta, err := e.store.GetBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if meta.AppliedAt != nil {
		return &LoadOutcome{AlreadyApplied: true}, nil
	}

	status, err := e.batch.BatchStatus(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if !status.Done() {
		return &LoadOutcome{Status: status, Pending: true}, nil
	}

	claimed, err := e.store.RecordsInBatch(ctx, batchID)
	if err != nil {
		return nil, err
	}
	if len(claimed) == 0 {
		// Results landed under a previous load that crashed before
		// stamping the batch. Stamp it now; nothing left to apply.
		if err := e.store.MarkBatchApplied(ctx, batchID); err != nil && !errors.Is(err, store.ErrAlreadyApplied) {
			return nil, err
		}
		return &LoadOutcome{Status: status, AlreadyApplied: true}, nil
	}

	results, err := e.batch.BatchResults(ctx, batchID)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*llm.BatchResult, len(results))
	for i := range results {
		byID[results[i].CustomID] = &results[i]
	}

	summary := Summary{Selected: len(claimed)}
	for _, rec := range claimed {
		outcome, kind := outcomeFor(byID[rec.ID])
		if err := e.store.ApplyGenerationResult(ctx, rec.ID, outcome); err != nil {
			if errors.Is(err, store.ErrAlreadyApplied) {
				e.logger.Printf("record %s already resolved, skipping", rec.ID)
				continue
			}
			e.logger.Printf("WARNING: failed to apply batch result for %s: %v", rec.ID, err)
			summary.Failed++
			continue
		}
		summary.count(kind)
	}

	if err := e.store.MarkBatchApplied(ctx, batchID); err != nil && !errors.Is(err, store.ErrAlreadyApplied) {
		return nil, err
	}

	e.logger.Printf("applied batch %s: %d generated, %d skipped, %d failed",
		batchID, summary.Generated, summary.Skipped, summary.Failed)
	return &LoadOutcome{Status: status, Summary: summary}, nil
}

// AbandonBatch releases a failed or expired job's claims so its records
// return to the pending pool.
func (e *Engine) AbandonBatch(ctx context.Context, batchID string) error {
	if _, err := e.store.GetBatch(ctx, batchID); err != nil {
		return err
	}
	return e.store.ReleaseBatch(ctx, batchID)
}
