// Package anki pushes cards to a running Anki instance via the
// AnkiConnect plugin's JSON-RPC endpoint.
//
// All operations are safe to repeat: createDeck and createModel are
// create-if-absent, and notes carry the record identity as their first
// field, which Anki uses for duplicate detection within the deck.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/mlodato/kindlecards/internal/cards"
)

// Connection defaults, matching a stock AnkiConnect install.
const (
	DefaultURL        = "http://127.0.0.1:8765"
	DefaultDeck       = "Kindle Highlights"
	DefaultBasicModel = "Kindle_Smart_Basic"
	DefaultClozeModel = "Kindle_Smart_Cloze"

	connectVersion = 6
)

// noteFields are the note-type fields in order. record_id comes first
// because Anki keys duplicate detection on the first field.
var noteFields = []string{
	"record_id",
	"book_title",
	"author",
	"original_highlight",
	"front",
	"back",
	"pattern",
}

// ConnectError indicates a failure talking to AnkiConnect, either
// transport-level or reported by the plugin itself.
type ConnectError struct {
	msg string
}

func (e *ConnectError) Error() string {
	return e.msg
}

// Config configures a Client. Zero values fall back to the defaults.
type Config struct {
	URL        string
	Deck       string
	BasicModel string
	ClozeModel string
	HTTPClient *http.Client
}

// Client is an AnkiConnect API client.
type Client struct {
	url        string
	deck       string
	basicModel string
	clozeModel string
	http       *http.Client
}

// NewClient creates a client for the given configuration.
func NewClient(cfg Config) *Client {
	c := &Client{
		url:        cfg.URL,
		deck:       cfg.Deck,
		basicModel: cfg.BasicModel,
		clozeModel: cfg.ClozeModel,
		http:       cfg.HTTPClient,
	}
	if c.url == "" {
		c.url = DefaultURL
	}
	if c.deck == "" {
		c.deck = DefaultDeck
	}
	if c.basicModel == "" {
		c.basicModel = DefaultBasicModel
	}
	if c.clozeModel == "" {
		c.clozeModel = DefaultClozeModel
	}
	if c.http == nil {
		c.http = &http.Client{Timeout: 30 * time.Second}
	}
	return c
}

// Deck returns the configured deck name.
func (c *Client) Deck() string {
	return c.deck
}

// invoke performs one AnkiConnect action.
func (c *Client) invoke(ctx context.Context, action string, params interface{}) (json.RawMessage, error) {
	payload := map[string]interface{}{
		"action":  action,
		"version": connectVersion,
	}
	if params != nil {
		payload["params"] = params
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, &ConnectError{msg: fmt.Sprintf(
			"cannot reach AnkiConnect at %s: %v (is Anki running with the AnkiConnect plugin enabled?)",
			c.url, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &ConnectError{msg: fmt.Sprintf("AnkiConnect returned HTTP %d for %s", resp.StatusCode, action)}
	}

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *string         `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", action, err)
	}
	if envelope.Error != nil && *envelope.Error != "" {
		return nil, &ConnectError{msg: fmt.Sprintf("%s: %s", action, *envelope.Error)}
	}
	return envelope.Result, nil
}

// EnsureDeckAndModels creates the deck and both note types if they don't
// exist yet. Idempotent; called before every sync run.
func (c *Client) EnsureDeckAndModels(ctx context.Context) error {
	if _, err := c.invoke(ctx, "createDeck", map[string]interface{}{"deck": c.deck}); err != nil {
		return fmt.Errorf("failed to ensure deck %q: %w", c.deck, err)
	}

	raw, err := c.invoke(ctx, "modelNames", nil)
	if err != nil {
		return fmt.Errorf("failed to list note types: %w", err)
	}
	var existing []string
	if err := json.Unmarshal(raw, &existing); err != nil {
		return fmt.Errorf("failed to parse note types: %w", err)
	}
	have := make(map[string]bool, len(existing))
	for _, name := range existing {
		have[name] = true
	}

	if !have[c.basicModel] {
		if err := c.createModel(ctx, c.basicModel, false); err != nil {
			return err
		}
	}
	if !have[c.clozeModel] {
		if err := c.createModel(ctx, c.clozeModel, true); err != nil {
			return err
		}
	}
	return nil
}

func (c *Client) createModel(ctx context.Context, name string, cloze bool) error {
	front, back, css := basicFrontTemplate, basicBackTemplate, basicCSS
	templateName := "Card 1"
	if cloze {
		front, back, css = clozeFrontTemplate, clozeBackTemplate, clozeCSS
		templateName = "Cloze 1"
	}

	params := map[string]interface{}{
		"modelName":     name,
		"inOrderFields": noteFields,
		"css":           css,
		"cardTemplates": []map[string]string{
			{"Name": templateName, "Front": front, "Back": back},
		},
	}
	if cloze {
		params["isCloze"] = true
	}

	if _, err := c.invoke(ctx, "createModel", params); err != nil {
		return fmt.Errorf("failed to create note type %q: %w", name, err)
	}
	return nil
}

// Note is one card to add to the deck.
type Note struct {
	RecordID  string
	BookTitle string
	Author    string
	Highlight string
	Card      cards.Card
}

// AddNote pushes one note. DEFINITION cards use the cloze note type, all
// other patterns the basic one. Returns the created note id.
func (c *Client) AddNote(ctx context.Context, note Note) (int64, error) {
	model := c.basicModel
	if note.Card.Pattern == cards.PatternDefinition {
		model = c.clozeModel
	}

	params := map[string]interface{}{
		"note": map[string]interface{}{
			"deckName":  c.deck,
			"modelName": model,
			"fields": map[string]string{
				"record_id":          note.RecordID,
				"book_title":         note.BookTitle,
				"author":             note.Author,
				"original_highlight": note.Highlight,
				"front":              note.Card.Front,
				"back":               note.Card.Back,
				"pattern":            string(note.Card.Pattern),
			},
			"options": map[string]interface{}{
				"allowDuplicate": false,
				"duplicateScope": "deck",
			},
			"tags": []string{
				"book::" + strings.ReplaceAll(note.BookTitle, " ", "_"),
				"pattern::" + string(note.Card.Pattern),
			},
		},
	}

	raw, err := c.invoke(ctx, "addNote", params)
	if err != nil {
		return 0, err
	}
	var noteID int64
	if err := json.Unmarshal(raw, &noteID); err != nil {
		return 0, fmt.Errorf("failed to parse addNote result: %w", err)
	}
	return noteID, nil
}

// RecordIDs returns the record identities of every note currently in the
// deck, for reconciling store sync flags against reality.
func (c *Client) RecordIDs(ctx context.Context) ([]string, error) {
	raw, err := c.invoke(ctx, "findNotes", map[string]interface{}{
		"query": fmt.Sprintf("deck:%q", c.deck),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to find deck notes: %w", err)
	}
	var noteIDs []int64
	if err := json.Unmarshal(raw, &noteIDs); err != nil {
		return nil, fmt.Errorf("failed to parse note ids: %w", err)
	}
	if len(noteIDs) == 0 {
		return nil, nil
	}

	raw, err = c.invoke(ctx, "notesInfo", map[string]interface{}{"notes": noteIDs})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch note info: %w", err)
	}
	var infos []struct {
		Fields map[string]struct {
			Value string `json:"value"`
		} `json:"fields"`
	}
	if err := json.Unmarshal(raw, &infos); err != nil {
		return nil, fmt.Errorf("failed to parse note info: %w", err)
	}

	seen := make(map[string]bool)
	var ids []string
	for _, info := range infos {
		id := info.Fields["record_id"].Value
		if id == "" || seen[id] {
			continue
		}
		seen[id] = true
		ids = append(ids, id)
	}
	return ids, nil
}
