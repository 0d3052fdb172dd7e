package clippings

import (
	"strings"
	"testing"
	"time"
)

const sampleClippings = "\uFEFF" + `Thinking, Fast and Slow (Daniel Kahneman)
- Your Highlight on page 5 | location 35-36 | Added on Wednesday, 9 August 2023 23:26:06

Nothing in life is as important as you think it is, while you are thinking about it.
==========
Thinking, Fast and Slow (Daniel Kahneman)
- Your Note on page 5 | location 36 | Added on Wednesday, 9 August 2023 23:27:12

my own note, not a highlight
==========
The Pragmatic Programmer (David Thomas; Andrew Hunt)
- Your Highlight at location 95-96 | Added on Tuesday, 21 March 2023 22:08:17

Don't live with broken windows.
==========
Deep Work (Cal Newport)
- Your Bookmark on page 72 | location 932 | Added on Sunday, 13 July 2025 23:35:53

==========
`

func TestParse(t *testing.T) {
	parsed, skipped, err := Parse(strings.NewReader(sampleClippings))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if skipped != 0 {
		t.Errorf("skipped = %d, want 0", skipped)
	}
	if len(parsed) != 4 {
		t.Fatalf("got %d clippings, want 4", len(parsed))
	}

	first := parsed[0]
	if first.BookTitle != "Thinking, Fast and Slow" {
		t.Errorf("BookTitle = %q", first.BookTitle)
	}
	if first.Author != "Daniel Kahneman" {
		t.Errorf("Author = %q", first.Author)
	}
	if first.Type != TypeHighlight {
		t.Errorf("Type = %q", first.Type)
	}
	if first.Page != 5 || first.LocationStart != 35 || first.LocationEnd != 36 {
		t.Errorf("page/location = %d/%d-%d", first.Page, first.LocationStart, first.LocationEnd)
	}
	want := time.Date(2023, time.August, 9, 23, 26, 6, 0, time.UTC)
	if !first.AddedAt.Equal(want) {
		t.Errorf("AddedAt = %v, want %v", first.AddedAt, want)
	}
	if !strings.HasPrefix(first.Content, "Nothing in life") {
		t.Errorf("Content = %q", first.Content)
	}

	// Location-only metadata, no page.
	third := parsed[2]
	if third.Page != 0 || third.LocationStart != 95 || third.LocationEnd != 96 {
		t.Errorf("page/location = %d/%d-%d", third.Page, third.LocationStart, third.LocationEnd)
	}
	if third.Author != "David Thomas; Andrew Hunt" {
		t.Errorf("Author = %q", third.Author)
	}
}

func TestParse_MalformedEntriesAreSkipped(t *testing.T) {
	input := `Good Book (Author)
- Your Highlight at location 1-2 | Added on Tuesday, 21 March 2023 22:08:17

fine highlight
==========
this entry has no metadata line
==========
Another Good Book (Author)
- Your Highlight at location 3-4 | Added on Tuesday, 21 March 2023 22:09:00

another fine highlight
==========
`
	parsed, skipped, err := Parse(strings.NewReader(input))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 2 {
		t.Errorf("got %d clippings, want 2", len(parsed))
	}
	if skipped != 1 {
		t.Errorf("skipped = %d, want 1", skipped)
	}
}

func TestParse_EmptyInput(t *testing.T) {
	parsed, skipped, err := Parse(strings.NewReader(""))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if len(parsed) != 0 || skipped != 0 {
		t.Errorf("got %d parsed, %d skipped from empty input", len(parsed), skipped)
	}
}

func TestHighlights(t *testing.T) {
	parsed, _, err := Parse(strings.NewReader(sampleClippings))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}

	highlights := Highlights(parsed)
	if len(highlights) != 2 {
		t.Fatalf("got %d highlights, want 2", len(highlights))
	}
	for _, h := range highlights {
		if h.Type != TypeHighlight {
			t.Errorf("non-highlight %q survived the filter", h.Type)
		}
		if h.Content == "" {
			t.Error("empty-content clipping survived the filter")
		}
	}
}

func TestParseDate_Fallback(t *testing.T) {
	// Standard layout.
	if got := parseDate("Tuesday, 21 March 2023 22:08:17"); got.IsZero() {
		t.Error("standard layout did not parse")
	}
	// Localized exports reorder the fields; the natural-language fallback
	// recovers the calendar date.
	got := parseDate("21/03/2023")
	if got.IsZero() {
		t.Fatal("slash-formatted date did not parse")
	}
	if got.Year() != 2023 || got.Month() != time.March || got.Day() != 21 {
		t.Errorf("slash-formatted date parsed to %v, want 2023-03-21", got)
	}
	// Unrecoverable garbage yields zero time, not a panic.
	if got := parseDate("not a date at all ###"); !got.IsZero() {
		t.Errorf("garbage date parsed to %v", got)
	}
}
