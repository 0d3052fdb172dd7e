// Package store persists highlight records and owns every state
// transition in the import → generate → sync pipeline.
//
// The store is a single local SQLite file opened in WAL mode. It is the
// only coordination mechanism between pipeline stages: the importer,
// generation engine and sync engine all run as separate invocations and
// communicate exclusively through record state.
//
// State machine per record:
//
//	not_generated → generated          (card content applied)
//	not_generated → generation_failed  (model call failed)
//	generated     → synced             (pushed to Anki)
//
// No transition reverses except through the explicit bulk resets. The
// transition methods are guarded UPDATEs, so concurrent invocations can
// contend on a record but never double-apply a result.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mlodato/kindlecards/internal/cards"
	"github.com/mlodato/kindlecards/internal/clippings"
	_ "github.com/ncruces/go-sqlite3/driver"
	_ "github.com/ncruces/go-sqlite3/embed"
)

// GenerationStatus tracks a record's progress through card generation.
type GenerationStatus string

const (
	StatusNotGenerated     GenerationStatus = "not_generated"
	StatusGenerated        GenerationStatus = "generated"
	StatusGenerationFailed GenerationStatus = "generation_failed"
)

// Transition guard errors. Callers distinguish these from infrastructure
// failures: a guard violation means the record already moved on.
var (
	ErrNotFound       = errors.New("record not found")
	ErrAlreadyApplied = errors.New("generation result already applied")
	ErrNotGenerated   = errors.New("record has no generated cards")
	ErrBatchNotFound  = errors.New("batch job not found")
	ErrBatchClaimed   = errors.New("record already claimed by an open batch")
)

// Record is one highlight row.
type Record struct {
	ID            string
	BookTitle     string
	Author        string
	Content       string
	Page          int
	LocationStart int
	LocationEnd   int
	AddedAt       time.Time
	ImportedAt    time.Time

	GenerationStatus GenerationStatus
	Cards            *cards.Content
	GenerationError  string
	GeneratedAt      *time.Time

	BatchID string

	Synced   bool
	SyncedAt *time.Time
}

// Book identifies a book by title and author.
type Book struct {
	Title  string
	Author string
}

// BookCount pairs a book with its number of pending highlights.
type BookCount struct {
	Book
	Pending int
}

// PendingFilter narrows SelectPending.
type PendingFilter struct {
	// Books limits selection to specific books (empty = all books).
	Books []Book
	// Limit caps the number of records returned (0 = no limit).
	Limit int
}

// Counts summarizes pipeline state across all records.
type Counts struct {
	Total     int `json:"total"`
	Pending   int `json:"pending"`
	Generated int `json:"generated"`
	Failed    int `json:"failed"`
	Synced    int `json:"synced"`
	InBatch   int `json:"in_batch"`
}

// Batch is the durable bookkeeping row for one external generation job.
// It exists only to make result application exactly-once: a batch with
// AppliedAt set must never be applied again.
type Batch struct {
	ID          string
	Model       string
	SubmittedAt time.Time
	RecordCount int
	AppliedAt   *time.Time
}

// Outcome is the result of one generation attempt for one record.
type Outcome struct {
	content *cards.Content
	errMsg  string
}

// Generated wraps successful card content into an outcome.
func Generated(c *cards.Content) Outcome {
	return Outcome{content: c}
}

// Failed wraps a generation failure into an outcome.
func Failed(err error) Outcome {
	msg := "generation failed"
	if err != nil {
		msg = err.Error()
	}
	return Outcome{errMsg: msg}
}

// Store wraps the SQLite connection for the highlights database.
type Store struct {
	conn *sql.DB
	path string
}

// Open creates a new store at the specified path.
//
// The database is opened in embedded mode with WAL for concurrent reads.
// If the file doesn't exist it is created; call InitSchema before use.
// The caller MUST call Close() when done.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	conn, err := sql.Open("sqlite3", fmt.Sprintf("file:%s", path))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	s := &Store{conn: conn, path: path}

	// WAL so every mutating call is durable on return without blocking
	// concurrent readers.
	if _, err := s.conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}
	if _, err := s.conn.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return s, nil
}

// Path returns the database file location.
func (s *Store) Path() string {
	return s.path
}

// Close closes the database connection after checkpointing the WAL.
func (s *Store) Close() error {
	if s.conn == nil {
		return nil
	}

	if _, err := s.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE)"); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to checkpoint WAL: %v\n", err)
	}

	if err := s.conn.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}
	s.conn = nil
	return nil
}

// InitSchema creates the database schema if it doesn't exist.
// Idempotent, safe to call on every open.
func (s *Store) InitSchema(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS highlights (
		id TEXT PRIMARY KEY,

		book_title TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		page INTEGER NOT NULL DEFAULT 0,
		location_start INTEGER NOT NULL DEFAULT 0,
		location_end INTEGER NOT NULL DEFAULT 0,
		added_at TEXT,
		imported_at TEXT NOT NULL,

		generation_status TEXT NOT NULL DEFAULT 'not_generated',
		cards TEXT,
		generation_error TEXT,
		generated_at TEXT,

		batch_id TEXT,

		synced INTEGER NOT NULL DEFAULT 0,
		synced_at TEXT
	);

	CREATE TABLE IF NOT EXISTS batches (
		id TEXT PRIMARY KEY,
		model TEXT NOT NULL,
		submitted_at TEXT NOT NULL,
		record_count INTEGER NOT NULL,
		applied_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_highlights_status ON highlights(generation_status);
	CREATE INDEX IF NOT EXISTS idx_highlights_book ON highlights(book_title, author);
	CREATE INDEX IF NOT EXISTS idx_highlights_batch ON highlights(batch_id);
	CREATE INDEX IF NOT EXISTS idx_highlights_sync ON highlights(generation_status, synced);
	`

	if _, err := s.conn.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}

// UpsertHighlights inserts parsed clippings, skipping rows whose identity
// already exists. Existing rows keep their generation/sync state intact.
// Returns the count of newly inserted records.
//
// The whole batch commits in one transaction, so a crash mid-import never
// leaves a partial result visible.
func (s *Store) UpsertHighlights(ctx context.Context, batch []clippings.Clipping) (int, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	query := `
	INSERT INTO highlights (
		id, book_title, author, content, page,
		location_start, location_end, added_at, imported_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO NOTHING
	`

	now := time.Now().UTC().Format(time.RFC3339)
	inserted := 0

	for _, c := range batch {
		res, err := tx.ExecContext(ctx, query,
			Identity(c.BookTitle, c.Author, c.Content),
			c.BookTitle,
			c.Author,
			c.Content,
			c.Page,
			c.LocationStart,
			c.LocationEnd,
			timeToNullString(c.AddedAt),
			now,
		)
		if err != nil {
			return 0, fmt.Errorf("failed to insert highlight: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("failed to count inserted rows: %w", err)
		}
		inserted += int(n)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit import: %w", err)
	}
	return inserted, nil
}

const recordColumns = `
	id, book_title, author, content, page,
	location_start, location_end, added_at, imported_at,
	generation_status, cards, generation_error, generated_at,
	batch_id, synced, synced_at`

// SelectPending returns records awaiting generation, in insertion order so
// repeated limited runs process the same sequence. Records claimed by an
// open batch job are excluded.
func (s *Store) SelectPending(ctx context.Context, filter PendingFilter) ([]*Record, error) {
	conditions := []string{"generation_status = ?", "batch_id IS NULL"}
	args := []interface{}{string(StatusNotGenerated)}

	if len(filter.Books) > 0 {
		var bookConds []string
		for _, b := range filter.Books {
			bookConds = append(bookConds, "(book_title = ? AND author = ?)")
			args = append(args, b.Title, b.Author)
		}
		conditions = append(conditions, "("+strings.Join(bookConds, " OR ")+")")
	}

	query := "SELECT " + recordColumns + `
	FROM highlights
	WHERE ` + strings.Join(conditions, " AND ") + `
	ORDER BY rowid ASC`

	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	}

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ApplyGenerationResult records the outcome of one generation attempt.
//
// The transition is guarded: it only fires while the record is still
// not_generated. Applying to a record that already transitioned returns
// ErrAlreadyApplied; a missing record returns ErrNotFound. This is the
// double-apply protection the batch loader and concurrent runs rely on.
func (s *Store) ApplyGenerationResult(ctx context.Context, id string, outcome Outcome) error {
	var (
		res sql.Result
		err error
	)

	now := time.Now().UTC().Format(time.RFC3339)

	if outcome.content != nil {
		if err := outcome.content.Validate(); err != nil {
			return fmt.Errorf("refusing to store invalid card content for %s: %w", id, err)
		}
		payload, err2 := outcome.content.Marshal()
		if err2 != nil {
			return err2
		}
		res, err = s.conn.ExecContext(ctx, `
			UPDATE highlights
			SET generation_status = ?, cards = ?, generation_error = NULL,
			    generated_at = ?, batch_id = NULL
			WHERE id = ? AND generation_status = ?`,
			string(StatusGenerated), payload, now, id, string(StatusNotGenerated))
	} else {
		res, err = s.conn.ExecContext(ctx, `
			UPDATE highlights
			SET generation_status = ?, cards = NULL, generation_error = ?,
			    generated_at = NULL, batch_id = NULL
			WHERE id = ? AND generation_status = ?`,
			string(StatusGenerationFailed), outcome.errMsg, id, string(StatusNotGenerated))
	}
	if err != nil {
		return fmt.Errorf("failed to apply generation result for %s: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check applied rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	// Guard tripped. Find out why.
	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	return fmt.Errorf("record %s is %s: %w", rec.ID, rec.GenerationStatus, ErrAlreadyApplied)
}

// SelectUnsyncedGenerated returns generated records not yet pushed to
// Anki, in insertion order.
func (s *Store) SelectUnsyncedGenerated(ctx context.Context) ([]*Record, error) {
	rows, err := s.conn.QueryContext(ctx, "SELECT "+recordColumns+`
		FROM highlights
		WHERE generation_status = ? AND synced = 0
		ORDER BY rowid ASC`, string(StatusGenerated))
	if err != nil {
		return nil, fmt.Errorf("failed to query unsynced records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// MarkSynced transitions generated → synced. Idempotent when the record
// is already synced; marking a record that never generated cards is an
// error.
func (s *Store) MarkSynced(ctx context.Context, id string) error {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE highlights
		SET synced = 1, synced_at = ?
		WHERE id = ? AND generation_status = ? AND synced = 0`,
		time.Now().UTC().Format(time.RFC3339), id, string(StatusGenerated))
	if err != nil {
		return fmt.Errorf("failed to mark %s synced: %w", id, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check synced rows: %w", err)
	}
	if n == 1 {
		return nil
	}

	rec, err := s.GetRecord(ctx, id)
	if err != nil {
		return err
	}
	if rec.Synced {
		return nil
	}
	return fmt.Errorf("record %s is %s: %w", id, rec.GenerationStatus, ErrNotGenerated)
}

// SyncedRecords returns every record marked synced.
func (s *Store) SyncedRecords(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(ctx, "synced = 1")
}

// ResetGenerations rolls every generated or failed record back to
// not_generated, clearing card content, errors, batch claims and sync
// state. Deliberate full rollback, only ever invoked at user request.
func (s *Store) ResetGenerations(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE highlights
		SET generation_status = ?, cards = NULL, generation_error = NULL,
		    generated_at = NULL, batch_id = NULL, synced = 0, synced_at = NULL
		WHERE generation_status != ? OR synced = 1 OR batch_id IS NOT NULL`,
		string(StatusNotGenerated), string(StatusNotGenerated))
	if err != nil {
		return 0, fmt.Errorf("failed to reset generations: %w", err)
	}
	return res.RowsAffected()
}

// ResetFailedGenerations rolls only failed records back to
// not_generated so they can be retried, leaving successful
// generations untouched.
func (s *Store) ResetFailedGenerations(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE highlights
		SET generation_status = ?, generation_error = NULL, batch_id = NULL
		WHERE generation_status = ?`,
		string(StatusNotGenerated), string(StatusGenerationFailed))
	if err != nil {
		return 0, fmt.Errorf("failed to reset failed generations: %w", err)
	}
	return res.RowsAffected()
}

// ResetGenerationsFor rolls back specific records (used when cards were
// deleted from Anki and should regenerate).
func (s *Store) ResetGenerationsFor(ctx context.Context, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(ids)), ",")
	args := make([]interface{}, 0, len(ids)+1)
	args = append(args, string(StatusNotGenerated))
	for _, id := range ids {
		args = append(args, id)
	}

	res, err := s.conn.ExecContext(ctx, `
		UPDATE highlights
		SET generation_status = ?, cards = NULL, generation_error = NULL,
		    generated_at = NULL, batch_id = NULL, synced = 0, synced_at = NULL
		WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to reset records: %w", err)
	}
	return res.RowsAffected()
}

// ResetSync marks every synced record unsynced again.
func (s *Store) ResetSync(ctx context.Context) (int64, error) {
	res, err := s.conn.ExecContext(ctx, `
		UPDATE highlights SET synced = 0, synced_at = NULL WHERE synced = 1`)
	if err != nil {
		return 0, fmt.Errorf("failed to reset sync state: %w", err)
	}
	return res.RowsAffected()
}

// BooksWithPending lists books that still have pending highlights,
// with counts, ordered by title.
func (s *Store) BooksWithPending(ctx context.Context) ([]BookCount, error) {
	rows, err := s.conn.QueryContext(ctx, `
		SELECT book_title, author, COUNT(*) AS pending
		FROM highlights
		WHERE generation_status = ? AND batch_id IS NULL
		GROUP BY book_title, author
		ORDER BY book_title, author`, string(StatusNotGenerated))
	if err != nil {
		return nil, fmt.Errorf("failed to query pending books: %w", err)
	}
	defer rows.Close()

	var books []BookCount
	for rows.Next() {
		var bc BookCount
		if err := rows.Scan(&bc.Title, &bc.Author, &bc.Pending); err != nil {
			return nil, fmt.Errorf("failed to scan book row: %w", err)
		}
		books = append(books, bc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating books: %w", err)
	}
	return books, nil
}

// StateCounts summarizes the pipeline for status output and the dashboard.
func (s *Store) StateCounts(ctx context.Context) (Counts, error) {
	var c Counts
	err := s.conn.QueryRowContext(ctx, `
		SELECT
			COUNT(*),
			SUM(CASE WHEN generation_status = 'not_generated' AND batch_id IS NULL THEN 1 ELSE 0 END),
			SUM(CASE WHEN generation_status = 'generated' THEN 1 ELSE 0 END),
			SUM(CASE WHEN generation_status = 'generation_failed' THEN 1 ELSE 0 END),
			SUM(CASE WHEN synced = 1 THEN 1 ELSE 0 END),
			SUM(CASE WHEN batch_id IS NOT NULL THEN 1 ELSE 0 END)
		FROM highlights`).Scan(
		&c.Total, &nullInt{&c.Pending}, &nullInt{&c.Generated},
		&nullInt{&c.Failed}, &nullInt{&c.Synced}, &nullInt{&c.InBatch})
	if err != nil {
		return Counts{}, fmt.Errorf("failed to count records: %w", err)
	}
	return c, nil
}

// AllRecords returns every record in insertion order.
func (s *Store) AllRecords(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(ctx, "")
}

// GeneratedRecords returns records with a generation outcome (success or
// failure), for export.
func (s *Store) GeneratedRecords(ctx context.Context) ([]*Record, error) {
	return s.queryRecords(ctx, "generation_status != 'not_generated'")
}

// GetRecord retrieves a single record by identity.
func (s *Store) GetRecord(ctx context.Context, id string) (*Record, error) {
	recs, err := s.queryRecords(ctx, "id = ?", id)
	if err != nil {
		return nil, err
	}
	if len(recs) == 0 {
		return nil, fmt.Errorf("record %s: %w", id, ErrNotFound)
	}
	return recs[0], nil
}

func (s *Store) queryRecords(ctx context.Context, where string, args ...interface{}) ([]*Record, error) {
	query := "SELECT " + recordColumns + " FROM highlights"
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY rowid ASC"

	rows, err := s.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// scanRecords scans highlight rows into Record structs.
func scanRecords(rows *sql.Rows) ([]*Record, error) {
	var records []*Record

	for rows.Next() {
		var (
			rec          Record
			status       string
			addedAt      sql.NullString
			importedAt   string
			cardsJSON    sql.NullString
			genError     sql.NullString
			generatedAt  sql.NullString
			batchID      sql.NullString
			syncedInt    int
			syncedAt     sql.NullString
		)

		err := rows.Scan(
			&rec.ID, &rec.BookTitle, &rec.Author, &rec.Content, &rec.Page,
			&rec.LocationStart, &rec.LocationEnd, &addedAt, &importedAt,
			&status, &cardsJSON, &genError, &generatedAt,
			&batchID, &syncedInt, &syncedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}

		rec.GenerationStatus = GenerationStatus(status)
		if t, err := time.Parse(time.RFC3339, importedAt); err == nil {
			rec.ImportedAt = t
		}
		if addedAt.Valid {
			if t, err := time.Parse(time.RFC3339, addedAt.String); err == nil {
				rec.AddedAt = t
			}
		}
		if cardsJSON.Valid && cardsJSON.String != "" {
			content, err := cards.Unmarshal(cardsJSON.String)
			if err != nil {
				return nil, fmt.Errorf("record %s: %w", rec.ID, err)
			}
			rec.Cards = content
		}
		rec.GenerationError = genError.String
		rec.GeneratedAt = nullStringToTime(generatedAt)
		rec.BatchID = batchID.String
		rec.Synced = syncedInt != 0
		rec.SyncedAt = nullStringToTime(syncedAt)

		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating records: %w", err)
	}
	return records, nil
}

// timeToNullString converts a zeroable time to a nullable string for SQL.
func timeToNullString(t time.Time) sql.NullString {
	if t.IsZero() {
		return sql.NullString{}
	}
	return sql.NullString{String: t.UTC().Format(time.RFC3339), Valid: true}
}

// nullStringToTime converts a nullable SQL string to a time pointer.
func nullStringToTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339, ns.String)
	if err != nil {
		return nil
	}
	return &t
}

// nullInt scans a nullable aggregate into an int, treating NULL as zero.
type nullInt struct {
	dest *int
}

func (n *nullInt) Scan(src interface{}) error {
	if src == nil {
		*n.dest = 0
		return nil
	}
	switch v := src.(type) {
	case int64:
		*n.dest = int(v)
	case int:
		*n.dest = v
	case float64:
		*n.dest = int(v)
	default:
		return fmt.Errorf("cannot scan %T into int", src)
	}
	return nil
}
