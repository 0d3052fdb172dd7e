package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// CreateBatch records a submitted batch job and claims its records in one
// transaction.
//
// Claiming sets batch_id on each covered record so a concurrent run can't
// re-submit the same highlights. The claim is guarded: if any record is no
// longer pending or already belongs to another open batch, the whole
// transaction rolls back with ErrBatchClaimed.
func (s *Store) CreateBatch(ctx context.Context, batchID, model string, recordIDs []string) error {
	if len(recordIDs) == 0 {
		return fmt.Errorf("batch %s covers no records", batchID)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO batches (id, model, submitted_at, record_count)
		VALUES (?, ?, ?, ?)`,
		batchID, model, time.Now().UTC().Format(time.RFC3339), len(recordIDs))
	if err != nil {
		return fmt.Errorf("failed to record batch %s: %w", batchID, err)
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(recordIDs)), ",")
	args := make([]interface{}, 0, len(recordIDs)+2)
	args = append(args, batchID, string(StatusNotGenerated))
	for _, id := range recordIDs {
		args = append(args, id)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE highlights
		SET batch_id = ?
		WHERE generation_status = ? AND batch_id IS NULL
		  AND id IN (`+placeholders+`)`, args...)
	if err != nil {
		return fmt.Errorf("failed to claim records for batch %s: %w", batchID, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to count claimed records: %w", err)
	}
	if int(n) != len(recordIDs) {
		return fmt.Errorf("claimed %d of %d records for batch %s: %w",
			n, len(recordIDs), batchID, ErrBatchClaimed)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch %s: %w", batchID, err)
	}
	return nil
}

// GetBatch looks up batch bookkeeping by external job identifier.
// An unknown identifier returns ErrBatchNotFound; the caller must not
// guess at coverage for jobs this store never submitted.
func (s *Store) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	var (
		b           Batch
		submittedAt string
		appliedAt   sql.NullString
	)

	err := s.conn.QueryRowContext(ctx, `
		SELECT id, model, submitted_at, record_count, applied_at
		FROM batches WHERE id = ?`, batchID).Scan(
		&b.ID, &b.Model, &submittedAt, &b.RecordCount, &appliedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("batch %s: %w", batchID, ErrBatchNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up batch %s: %w", batchID, err)
	}

	if t, err := time.Parse(time.RFC3339, submittedAt); err == nil {
		b.SubmittedAt = t
	}
	b.AppliedAt = nullStringToTime(appliedAt)
	return &b, nil
}

// RecordsInBatch returns records still claimed by the given batch, i.e.
// claimed records whose results have not been applied yet.
func (s *Store) RecordsInBatch(ctx context.Context, batchID string) ([]*Record, error) {
	return s.queryRecords(ctx, "batch_id = ?", batchID)
}

// MarkBatchApplied stamps the batch as applied so a second load of the
// same job is a detected no-op instead of a duplicate write.
func (s *Store) MarkBatchApplied(ctx context.Context, batchID string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE batches SET applied_at = ? WHERE id = ? AND applied_at IS NULL`,
		time.Now().UTC().Format(time.RFC3339), batchID)
	if err != nil {
		return fmt.Errorf("failed to mark batch %s applied: %w", batchID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check batch rows: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("batch %s already applied or unknown: %w", batchID, ErrAlreadyApplied)
	}
	return nil
}

// ReleaseBatch drops a batch's claims and bookkeeping, returning any
// unprocessed records to the pending pool. Used when a job fails or
// expires upstream without usable results.
func (s *Store) ReleaseBatch(ctx context.Context, batchID string) error {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`UPDATE highlights SET batch_id = NULL WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("failed to release records from batch %s: %w", batchID, err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM batches WHERE id = ?`, batchID); err != nil {
		return fmt.Errorf("failed to delete batch %s: %w", batchID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit batch release: %w", err)
	}
	return nil
}
