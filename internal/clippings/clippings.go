// Package clippings parses Kindle "My Clippings.txt" exports.
//
// The file is a sequence of entries separated by a line of ten equals
// signs. Each entry has a title line (optionally with the author in
// trailing parentheses), a metadata line describing the clipping type,
// page/location and capture date, a blank line, and the clipped text.
//
// Parsing is lenient: entries that don't match the expected shape are
// counted and skipped, never fatal, so one corrupt entry can't sink a
// whole import.
package clippings

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/olebedev/when"
	"github.com/olebedev/when/rules/common"
	"github.com/olebedev/when/rules/en"
)

// Type is the kind of Kindle clipping.
type Type string

const (
	TypeHighlight Type = "Highlight"
	TypeNote      Type = "Note"
	TypeBookmark  Type = "Bookmark"
)

// Clipping is one parsed entry from a clippings file.
type Clipping struct {
	BookTitle     string
	Author        string
	Type          Type
	Page          int // 0 when absent
	LocationStart int
	LocationEnd   int // 0 when absent
	AddedAt       time.Time
	Content       string
}

const entrySeparator = "=========="

// Title lines look like "Book Title (Author Name)".
var authorPattern = regexp.MustCompile(`^(.+?)\s*\(([^)]+)\)\s*$`)

// Metadata lines come in several shapes:
//
//	- Your Highlight at location 95-96 | Added on Tuesday, 21 March 2023 22:08:17
//	- Your Highlight on page 5 | location 35-36 | Added on Wednesday, 9 August 2023 23:26:06
//	- Your Bookmark on page 72 | location 932 | Added on Sunday, 13 July 2025 23:35:53
var metadataPattern = regexp.MustCompile(
	`- Your (Highlight|Note|Bookmark)` +
		`(?: on page (\d+))?` +
		`(?:(?: \|)? (?:at )?location (\d+)(?:-(\d+))?)?` +
		` \| Added on (.+)$`)

// kindleDateLayout matches "Tuesday, 21 March 2023 22:08:17".
const kindleDateLayout = "Monday, 2 January 2006 15:04:05"

// dateParser handles date strings that don't match the standard Kindle
// layout (some firmware versions localize or reorder the fields).
var dateParser = func() *when.Parser {
	p := when.New(nil)
	p.Add(en.All...)
	p.Add(common.All...)
	return p
}()

// Parse reads a clippings file and returns the parsed entries along with
// the number of malformed entries that were skipped.
func Parse(r io.Reader) ([]Clipping, int, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to read clippings: %w", err)
	}

	// Kindle writes a UTF-8 BOM at the start of the file.
	text := strings.TrimPrefix(string(data), "\uFEFF")
	text = strings.ReplaceAll(text, "\r\n", "\n")

	var (
		parsed  []Clipping
		skipped int
	)

	for _, entry := range strings.Split(text, entrySeparator) {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}

		c, ok := parseEntry(entry)
		if !ok {
			skipped++
			continue
		}
		parsed = append(parsed, c)
	}

	return parsed, skipped, nil
}

// ParseFile is a convenience wrapper around Parse for a file on disk.
func ParseFile(path string) ([]Clipping, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to open clippings file: %w", err)
	}
	defer f.Close()
	return Parse(f)
}

// parseEntry parses a single separator-delimited block.
func parseEntry(entry string) (Clipping, bool) {
	lines := strings.Split(entry, "\n")
	if len(lines) < 2 {
		return Clipping{}, false
	}

	titleLine := strings.TrimPrefix(strings.TrimSpace(lines[0]), "\uFEFF")
	c := Clipping{BookTitle: titleLine}
	if m := authorPattern.FindStringSubmatch(titleLine); m != nil {
		c.BookTitle = strings.TrimSpace(m[1])
		c.Author = strings.TrimSpace(m[2])
	}
	if c.BookTitle == "" {
		return Clipping{}, false
	}

	m := metadataPattern.FindStringSubmatch(strings.TrimSpace(lines[1]))
	if m == nil {
		return Clipping{}, false
	}

	c.Type = Type(m[1])
	c.Page = atoiOrZero(m[2])
	c.LocationStart = atoiOrZero(m[3])
	c.LocationEnd = atoiOrZero(m[4])
	c.AddedAt = parseDate(m[5])

	// Content follows the blank line after the metadata.
	if len(lines) > 3 {
		c.Content = strings.TrimSpace(strings.Join(lines[3:], "\n"))
	}

	return c, true
}

// parseDate tries the standard Kindle layout first and falls back to
// natural-language parsing for localized exports. A zero time means the
// date could not be recovered; the clipping is still usable.
func parseDate(s string) time.Time {
	s = strings.TrimSpace(s)
	if t, err := time.Parse(kindleDateLayout, s); err == nil {
		return t
	}
	if r, err := dateParser.Parse(s, time.Now()); err == nil && r != nil {
		return r.Time
	}
	return time.Time{}
}

func atoiOrZero(s string) int {
	if s == "" {
		return 0
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0
	}
	return n
}

// Highlights filters a parsed slice down to highlight entries with
// non-empty content. Notes and bookmarks carry no card-worthy text.
func Highlights(all []Clipping) []Clipping {
	var out []Clipping
	for _, c := range all {
		if c.Type == TypeHighlight && c.Content != "" {
			out = append(out, c)
		}
	}
	return out
}
