// Package ankisync pushes generated cards to Anki and records which
// highlights made it across.
//
// The sync pass is resumable by construction: it only ever looks at
// records that are generated but not yet marked synced, and a record is
// marked synced only after every one of its cards was accepted. If the
// process dies mid-run, the next invocation picks up exactly the records
// that were left, and Anki's first-field duplicate detection makes the
// re-push of a half-committed record harmless.
package ankisync

import (
	"context"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/mlodato/kindlecards/internal/anki"
	"github.com/mlodato/kindlecards/internal/cards"
	"github.com/mlodato/kindlecards/internal/store"
)

// Connector is the slice of the AnkiConnect client the syncer needs.
type Connector interface {
	EnsureDeckAndModels(ctx context.Context) error
	AddNote(ctx context.Context, note anki.Note) (int64, error)
	RecordIDs(ctx context.Context) ([]string, error)
}

// Syncer pushes unsynced generated records to Anki.
type Syncer struct {
	store  *store.Store
	anki   Connector
	logger *log.Logger
}

// New creates a Syncer. A nil logger falls back to stderr.
func New(st *store.Store, conn Connector, logger *log.Logger) *Syncer {
	if logger == nil {
		logger = log.New(os.Stderr, "[sync] ", log.LstdFlags)
	}
	return &Syncer{store: st, anki: conn, logger: logger}
}

// Summary reports a finished sync pass.
type Summary struct {
	Synced  int
	Failed  int
	Skipped int
}

// SyncAll ensures the deck and note types exist, then pushes every
// unsynced generated record. One record's push failure is reported and
// the pass continues; records with only SKIP content are left alone.
func (s *Syncer) SyncAll(ctx context.Context) (Summary, error) {
	if err := s.anki.EnsureDeckAndModels(ctx); err != nil {
		return Summary{}, fmt.Errorf("anki setup failed: %w", err)
	}

	records, err := s.store.SelectUnsyncedGenerated(ctx)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, rec := range records {
		if err := ctx.Err(); err != nil {
			return summary, err
		}

		syncable := rec.Cards.Syncable()
		if len(syncable) == 0 {
			summary.Skipped++
			continue
		}

		if err := s.pushRecord(ctx, rec, syncable); err != nil {
			s.logger.Printf("failed to sync %s (%s): %v", rec.ID, abbreviate(rec.Content, 40), err)
			summary.Failed++
			continue
		}
		if err := s.store.MarkSynced(ctx, rec.ID); err != nil {
			return summary, fmt.Errorf("failed to mark %s synced: %w", rec.ID, err)
		}
		summary.Synced++
	}

	return summary, nil
}

// pushRecord adds one note per syncable card. A duplicate rejection from
// Anki counts as success: the note is already there from an interrupted
// earlier run.
func (s *Syncer) pushRecord(ctx context.Context, rec *store.Record, syncable []cards.Card) error {
	for _, card := range syncable {
		_, err := s.anki.AddNote(ctx, anki.Note{
			RecordID:  rec.ID,
			BookTitle: rec.BookTitle,
			Author:    rec.Author,
			Highlight: rec.Content,
			Card:      card,
		})
		if err != nil {
			if isDuplicate(err) {
				continue
			}
			return err
		}
	}
	return nil
}

// isDuplicate recognizes AnkiConnect's duplicate-note rejection.
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(strings.ToLower(err.Error()), "duplicate")
}

// Drift describes disagreement between store sync flags and the deck.
type Drift struct {
	// MissingFromAnki are records marked synced whose notes are gone
	// from the deck (typically deleted by the user for regeneration).
	MissingFromAnki []string
	// UntrackedInAnki are deck notes whose record identity the store
	// doesn't consider synced.
	UntrackedInAnki []string
}

// Reconcile compares deck contents against records marked synced and
// reports the drift. It mutates nothing; rolling back records deleted
// from Anki is a deliberate user action (kc set-unsynced).
func (s *Syncer) Reconcile(ctx context.Context) (*Drift, error) {
	deckIDs, err := s.anki.RecordIDs(ctx)
	if err != nil {
		return nil, err
	}
	inDeck := make(map[string]bool, len(deckIDs))
	for _, id := range deckIDs {
		inDeck[id] = true
	}

	synced, err := s.store.SyncedRecords(ctx)
	if err != nil {
		return nil, err
	}
	inStore := make(map[string]bool, len(synced))

	var drift Drift
	for _, rec := range synced {
		inStore[rec.ID] = true
		if !inDeck[rec.ID] {
			drift.MissingFromAnki = append(drift.MissingFromAnki, rec.ID)
		}
	}
	for _, id := range deckIDs {
		if !inStore[id] {
			drift.UntrackedInAnki = append(drift.UntrackedInAnki, id)
		}
	}
	return &drift, nil
}

// abbreviate shortens text for log lines.
func abbreviate(text string, max int) string {
	text = strings.TrimSpace(strings.ReplaceAll(text, "\n", " "))
	if len(text) <= max {
		return text
	}
	return text[:max-3] + "..."
}
