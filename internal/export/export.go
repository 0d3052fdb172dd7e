// Package export writes read-only dumps of the highlights database.
package export

import (
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/mlodato/kindlecards/internal/store"
	"gopkg.in/yaml.v3"
)

// Format selects the dump encoding.
type Format string

const (
	FormatCSV  Format = "csv"
	FormatYAML Format = "yaml"
)

// ParseFormat validates a --format flag value.
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatCSV, FormatYAML:
		return Format(s), nil
	default:
		return "", fmt.Errorf("unknown dump format %q (want csv or yaml)", s)
	}
}

// Write dumps records in the requested format.
func Write(w io.Writer, format Format, records []*store.Record) error {
	switch format {
	case FormatYAML:
		return writeYAML(w, records)
	default:
		return writeCSV(w, records)
	}
}

var csvHeader = []string{
	"id", "book_title", "author", "content", "page",
	"location_start", "location_end", "added_at", "imported_at",
	"generation_status", "cards", "generation_error", "generated_at",
	"batch_id", "synced", "synced_at",
}

func writeCSV(w io.Writer, records []*store.Record) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}

	for _, rec := range records {
		var cardsJSON string
		if rec.Cards != nil {
			var err error
			cardsJSON, err = rec.Cards.Marshal()
			if err != nil {
				return err
			}
		}
		row := []string{
			rec.ID,
			rec.BookTitle,
			rec.Author,
			rec.Content,
			strconv.Itoa(rec.Page),
			strconv.Itoa(rec.LocationStart),
			strconv.Itoa(rec.LocationEnd),
			formatTime(rec.AddedAt),
			formatTime(rec.ImportedAt),
			string(rec.GenerationStatus),
			cardsJSON,
			rec.GenerationError,
			formatTimePtr(rec.GeneratedAt),
			rec.BatchID,
			strconv.FormatBool(rec.Synced),
			formatTimePtr(rec.SyncedAt),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	if err := cw.Error(); err != nil {
		return fmt.Errorf("failed to flush CSV: %w", err)
	}
	return nil
}

// yamlRecord is the dump shape; field order mirrors the CSV columns.
type yamlRecord struct {
	ID               string      `yaml:"id"`
	BookTitle        string      `yaml:"book_title"`
	Author           string      `yaml:"author,omitempty"`
	Content          string      `yaml:"content"`
	Page             int         `yaml:"page,omitempty"`
	LocationStart    int         `yaml:"location_start,omitempty"`
	LocationEnd      int         `yaml:"location_end,omitempty"`
	AddedAt          string      `yaml:"added_at,omitempty"`
	ImportedAt       string      `yaml:"imported_at"`
	GenerationStatus string      `yaml:"generation_status"`
	Cards            interface{} `yaml:"cards,omitempty"`
	GenerationError  string      `yaml:"generation_error,omitempty"`
	GeneratedAt      string      `yaml:"generated_at,omitempty"`
	BatchID          string      `yaml:"batch_id,omitempty"`
	Synced           bool        `yaml:"synced"`
	SyncedAt         string      `yaml:"synced_at,omitempty"`
}

func writeYAML(w io.Writer, records []*store.Record) error {
	out := make([]yamlRecord, 0, len(records))
	for _, rec := range records {
		yr := yamlRecord{
			ID:               rec.ID,
			BookTitle:        rec.BookTitle,
			Author:           rec.Author,
			Content:          rec.Content,
			Page:             rec.Page,
			LocationStart:    rec.LocationStart,
			LocationEnd:      rec.LocationEnd,
			AddedAt:          formatTime(rec.AddedAt),
			ImportedAt:       formatTime(rec.ImportedAt),
			GenerationStatus: string(rec.GenerationStatus),
			GenerationError:  rec.GenerationError,
			GeneratedAt:      formatTimePtr(rec.GeneratedAt),
			BatchID:          rec.BatchID,
			Synced:           rec.Synced,
			SyncedAt:         formatTimePtr(rec.SyncedAt),
		}
		if rec.Cards != nil {
			yr.Cards = rec.Cards.Cards
		}
		out = append(out, yr)
	}

	enc := yaml.NewEncoder(w)
	defer enc.Close()
	if err := enc.Encode(out); err != nil {
		return fmt.Errorf("failed to encode YAML dump: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func formatTimePtr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return formatTime(*t)
}
