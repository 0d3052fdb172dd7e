package anki

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/mlodato/kindlecards/internal/cards"
)

// fakeConnect is an in-memory AnkiConnect endpoint.
type fakeConnect struct {
	t *testing.T

	decks      map[string]bool
	models     map[string]bool
	notes      []map[string]string
	addNoteErr string // non-empty: addNote responds with this error

	actions []string
}

func newFakeConnect(t *testing.T) (*fakeConnect, *Client) {
	t.Helper()
	f := &fakeConnect{
		t:      t,
		decks:  map[string]bool{},
		models: map[string]bool{"Basic": true, "Cloze": true},
	}
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	client := NewClient(Config{URL: srv.URL, HTTPClient: srv.Client()})
	return f, client
}

func (f *fakeConnect) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action  string                 `json:"action"`
		Version int                    `json:"version"`
		Params  map[string]interface{} `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		f.t.Errorf("bad request body: %v", err)
	}
	if req.Version != connectVersion {
		f.t.Errorf("version = %d, want %d", req.Version, connectVersion)
	}
	f.actions = append(f.actions, req.Action)

	respond := func(result interface{}, errMsg string) {
		var e *string
		if errMsg != "" {
			e = &errMsg
		}
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"result": result,
			"error":  e,
		})
	}

	switch req.Action {
	case "createDeck":
		f.decks[req.Params["deck"].(string)] = true
		respond(1, "")
	case "modelNames":
		names := make([]string, 0, len(f.models))
		for name := range f.models {
			names = append(names, name)
		}
		respond(names, "")
	case "createModel":
		f.models[req.Params["modelName"].(string)] = true
		respond(map[string]interface{}{}, "")
	case "addNote":
		if f.addNoteErr != "" {
			respond(nil, f.addNoteErr)
			return
		}
		note := req.Params["note"].(map[string]interface{})
		fields := map[string]string{
			"__model": note["modelName"].(string),
		}
		for k, v := range note["fields"].(map[string]interface{}) {
			fields[k] = v.(string)
		}
		f.notes = append(f.notes, fields)
		respond(int64(1000+len(f.notes)), "")
	case "findNotes":
		ids := make([]int64, len(f.notes))
		for i := range f.notes {
			ids[i] = int64(1000 + i + 1)
		}
		respond(ids, "")
	case "notesInfo":
		infos := make([]map[string]interface{}, len(f.notes))
		for i, note := range f.notes {
			fields := map[string]interface{}{}
			for k, v := range note {
				fields[k] = map[string]string{"value": v}
			}
			infos[i] = map[string]interface{}{"fields": fields}
		}
		respond(infos, "")
	default:
		respond(nil, "unsupported action: "+req.Action)
	}
}

func TestEnsureDeckAndModels(t *testing.T) {
	f, client := newFakeConnect(t)
	ctx := context.Background()

	if err := client.EnsureDeckAndModels(ctx); err != nil {
		t.Fatalf("EnsureDeckAndModels: %v", err)
	}
	if !f.decks[DefaultDeck] {
		t.Error("deck not created")
	}
	if !f.models[DefaultBasicModel] || !f.models[DefaultClozeModel] {
		t.Errorf("models = %v", f.models)
	}

	// Second call finds everything in place and creates nothing.
	f.actions = nil
	if err := client.EnsureDeckAndModels(ctx); err != nil {
		t.Fatal(err)
	}
	for _, action := range f.actions {
		if action == "createModel" {
			t.Error("createModel repeated for existing note type")
		}
	}
}

func TestAddNote_ModelSelection(t *testing.T) {
	f, client := newFakeConnect(t)
	ctx := context.Background()

	basic := Note{
		RecordID:  "rec-1",
		BookTitle: "Book",
		Author:    "Author",
		Highlight: "the highlight",
		Card:      cards.Card{Pattern: cards.PatternTactic, Front: "f", Back: "b"},
	}
	if _, err := client.AddNote(ctx, basic); err != nil {
		t.Fatalf("AddNote basic: %v", err)
	}

	cloze := basic
	cloze.RecordID = "rec-2"
	cloze.Card = cards.Card{Pattern: cards.PatternDefinition, Front: "term: {{c1::meaning}}", Back: "extra"}
	if _, err := client.AddNote(ctx, cloze); err != nil {
		t.Fatalf("AddNote cloze: %v", err)
	}

	if len(f.notes) != 2 {
		t.Fatalf("got %d notes", len(f.notes))
	}
	if f.notes[0]["__model"] != DefaultBasicModel {
		t.Errorf("basic card used model %q", f.notes[0]["__model"])
	}
	if f.notes[1]["__model"] != DefaultClozeModel {
		t.Errorf("definition card used model %q", f.notes[1]["__model"])
	}
	if f.notes[0]["record_id"] != "rec-1" {
		t.Errorf("record_id field = %q", f.notes[0]["record_id"])
	}
}

func TestAddNote_PluginError(t *testing.T) {
	f, client := newFakeConnect(t)
	f.addNoteErr = "cannot create note because it is a duplicate"

	_, err := client.AddNote(context.Background(), Note{
		RecordID: "rec-1",
		Card:     cards.Card{Pattern: cards.PatternTactic, Front: "f", Back: "b"},
	})
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("got %T (%v), want ConnectError", err, err)
	}
}

func TestRecordIDs(t *testing.T) {
	_, client := newFakeConnect(t)
	ctx := context.Background()

	// Two cards for the same record produce one id.
	for _, front := range []string{"f1", "f2"} {
		if _, err := client.AddNote(ctx, Note{
			RecordID: "rec-1",
			Card:     cards.Card{Pattern: cards.PatternTactic, Front: front, Back: "b"},
		}); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := client.AddNote(ctx, Note{
		RecordID: "rec-2",
		Card:     cards.Card{Pattern: cards.PatternMentalModel, Front: "f", Back: "b"},
	}); err != nil {
		t.Fatal(err)
	}

	ids, err := client.RecordIDs(ctx)
	if err != nil {
		t.Fatalf("RecordIDs: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("got %d ids, want 2 (deduplicated): %v", len(ids), ids)
	}
}

func TestRecordIDs_EmptyDeck(t *testing.T) {
	_, client := newFakeConnect(t)
	ids, err := client.RecordIDs(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(ids) != 0 {
		t.Errorf("ids = %v, want empty", ids)
	}
}

func TestInvoke_Unreachable(t *testing.T) {
	client := NewClient(Config{URL: "http://127.0.0.1:1"})
	err := client.EnsureDeckAndModels(context.Background())
	var ce *ConnectError
	if !errors.As(err, &ce) {
		t.Fatalf("got %T (%v), want ConnectError", err, err)
	}
}
