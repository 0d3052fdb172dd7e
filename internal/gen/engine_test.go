package gen

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/mlodato/kindlecards/internal/cards"
	"github.com/mlodato/kindlecards/internal/clippings"
	"github.com/mlodato/kindlecards/internal/llm"
	"github.com/mlodato/kindlecards/internal/store"
)

// fakeGenerator returns canned content, failing for highlights whose
// text contains "FAIL". It tracks peak concurrency.
type fakeGenerator struct {
	mu      sync.Mutex
	active  int
	peak    int
	calls   int
	blocked chan struct{} // non-nil: wait here to force overlap
}

func (f *fakeGenerator) Generate(ctx context.Context, req llm.Request) (*cards.Content, error) {
	f.mu.Lock()
	f.active++
	f.calls++
	if f.active > f.peak {
		f.peak = f.active
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active--
		f.mu.Unlock()
	}()

	if f.blocked != nil {
		<-f.blocked
	}
	if strings.Contains(req.Highlight, "FAIL") {
		return nil, errors.New("model refused")
	}
	if strings.Contains(req.Highlight, "NOTHING") {
		return &cards.Content{Cards: []cards.Card{{Pattern: cards.PatternSkip}}}, nil
	}
	return &cards.Content{Cards: []cards.Card{
		{Pattern: cards.PatternTactic, Front: "front for " + req.ID[:8], Back: "back"},
	}}, nil
}

func testEngine(t *testing.T, g llm.Generator, b llm.BatchRunner) (*Engine, *store.Store) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "highlights.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { st.Close() })
	if err := st.InitSchema(context.Background()); err != nil {
		t.Fatal(err)
	}
	return New(st, g, b, nil), st
}

func seed(t *testing.T, st *store.Store, contents ...string) {
	t.Helper()
	batch := make([]clippings.Clipping, 0, len(contents))
	for _, content := range contents {
		batch = append(batch, clippings.Clipping{
			BookTitle: "Engine Book",
			Author:    "Author",
			Type:      clippings.TypeHighlight,
			Content:   content,
		})
	}
	if _, err := st.UpsertHighlights(context.Background(), batch); err != nil {
		t.Fatal(err)
	}
}

func TestGenerateDirect_MixedOutcomes(t *testing.T) {
	g := &fakeGenerator{}
	engine, st := testEngine(t, g, nil)
	ctx := context.Background()

	seed(t, st,
		"a perfectly fine highlight number one",
		"another perfectly fine highlight two",
		"this one will FAIL in the model",
		"a third perfectly fine highlight here",
		"and one more fine highlight to round out",
	)

	summary, err := engine.GenerateDirect(ctx, Options{Parallel: 2})
	if err != nil {
		t.Fatalf("GenerateDirect: %v", err)
	}
	if summary.Selected != 5 {
		t.Errorf("Selected = %d, want 5", summary.Selected)
	}
	if summary.Generated != 4 || summary.Failed != 1 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want 4 generated / 1 failed", summary)
	}
	if g.peak > 2 {
		t.Errorf("peak concurrency %d exceeded parallel limit 2", g.peak)
	}

	counts, err := st.StateCounts(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if counts.Generated != 4 || counts.Failed != 1 || counts.Pending != 0 {
		t.Errorf("store counts = %+v", counts)
	}

	// Failed records stay failed; a re-run finds nothing pending.
	if _, err := engine.GenerateDirect(ctx, Options{}); !errors.Is(err, ErrNoPending) {
		t.Errorf("re-run: got %v, want ErrNoPending", err)
	}
}

func TestGenerateDirect_ShortHighlightsSkipLocally(t *testing.T) {
	g := &fakeGenerator{}
	engine, st := testEngine(t, g, nil)
	ctx := context.Background()

	seed(t, st, "too short", "long enough to be worth a model call")

	summary, err := engine.GenerateDirect(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Generated != 1 {
		t.Errorf("summary = %+v, want 1 skipped / 1 generated", summary)
	}
	if g.calls != 1 {
		t.Errorf("model called %d times, want 1 (short highlight resolved locally)", g.calls)
	}

	// The skipped record is generated (with SKIP content), not pending.
	counts, _ := st.StateCounts(ctx)
	if counts.Pending != 0 || counts.Generated != 2 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestGenerateDirect_SkipOnlyContentCountsSkipped(t *testing.T) {
	g := &fakeGenerator{}
	engine, st := testEngine(t, g, nil)

	seed(t, st, "the model will find NOTHING card-worthy here")

	summary, err := engine.GenerateDirect(context.Background(), Options{})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Skipped != 1 || summary.Generated != 0 {
		t.Errorf("summary = %+v, want 1 skipped", summary)
	}
}

func TestGenerateDirect_MaxGenerationsCapsRun(t *testing.T) {
	g := &fakeGenerator{}
	engine, st := testEngine(t, g, nil)
	ctx := context.Background()

	seed(t, st,
		"first fine highlight with enough text",
		"second fine highlight with enough text",
		"third fine highlight with enough text",
	)

	summary, err := engine.GenerateDirect(ctx, Options{MaxGenerations: 2})
	if err != nil {
		t.Fatal(err)
	}
	if summary.Selected != 2 {
		t.Errorf("Selected = %d, want 2", summary.Selected)
	}

	counts, _ := st.StateCounts(ctx)
	if counts.Pending != 1 {
		t.Errorf("pending = %d after capped run, want 1", counts.Pending)
	}
}

func TestGenerateDirect_CancelStopsDispatch(t *testing.T) {
	g := &fakeGenerator{blocked: make(chan struct{})}
	engine, st := testEngine(t, g, nil)

	seed(t, st,
		"first fine highlight with enough text",
		"second fine highlight with enough text",
		"third fine highlight with enough text",
		"fourth fine highlight with enough text",
	)

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})
	var summary Summary
	var runErr error
	go func() {
		defer close(done)
		summary, runErr = engine.GenerateDirect(ctx, Options{Parallel: 1})
	}()

	// Let the first call start, then cancel and release the workers.
	g.blocked <- struct{}{}
	cancel()
	close(g.blocked)
	<-done

	if !errors.Is(runErr, context.Canceled) {
		t.Errorf("got %v, want context.Canceled", runErr)
	}
	if summary.Generated >= 4 {
		t.Errorf("all records processed despite cancellation: %+v", summary)
	}
}

func TestOutcomeFor(t *testing.T) {
	content := &cards.Content{Cards: []cards.Card{
		{Pattern: cards.PatternTactic, Front: "f", Back: "b"},
	}}
	skip := &cards.Content{Cards: []cards.Card{{Pattern: cards.PatternSkip}}}

	tests := []struct {
		name   string
		result *llm.BatchResult
		want   resultKind
	}{
		{"missing result", nil, resultFailed},
		{"errored result", &llm.BatchResult{Err: fmt.Errorf("boom")}, resultFailed},
		{"skip-only content", &llm.BatchResult{Content: skip}, resultSkipped},
		{"real content", &llm.BatchResult{Content: content}, resultGenerated},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, kind := outcomeFor(tt.result); kind != tt.want {
				t.Errorf("kind = %v, want %v", kind, tt.want)
			}
		})
	}
}
