package gen

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/mlodato/kindlecards/internal/cards"
	"github.com/mlodato/kindlecards/internal/llm"
	"github.com/mlodato/kindlecards/internal/store"
)

// fakeBatchRunner simulates the provider's asynchronous batch API: a
// submitted job holds its requests until the test flips it to ended.
type fakeBatchRunner struct {
	submitted [][]llm.Request
	state     llm.BatchState
	results   []llm.BatchResult
	submitErr error
}

func (f *fakeBatchRunner) SubmitBatch(ctx context.Context, reqs []llm.Request) (string, error) {
	if f.submitErr != nil {
		return "", f.submitErr
	}
	f.submitted = append(f.submitted, reqs)
	f.state = llm.BatchInProgress
	return fmt.Sprintf("batch-%d", len(f.submitted)), nil
}

func (f *fakeBatchRunner) BatchStatus(ctx context.Context, batchID string) (*llm.BatchStatus, error) {
	return &llm.BatchStatus{ID: batchID, State: f.state}, nil
}

func (f *fakeBatchRunner) BatchResults(ctx context.Context, batchID string) ([]llm.BatchResult, error) {
	return f.results, nil
}

// finish marks the job ended with one successful result per request,
// except requests whose id appears in failIDs.
func (f *fakeBatchRunner) finish(failIDs ...string) {
	f.state = llm.BatchEnded
	f.results = nil
	failed := make(map[string]bool, len(failIDs))
	for _, id := range failIDs {
		failed[id] = true
	}
	for _, reqs := range f.submitted {
		for _, req := range reqs {
			if failed[req.ID] {
				f.results = append(f.results, llm.BatchResult{
					CustomID: req.ID,
					Err:      errors.New("request errored"),
				})
				continue
			}
			f.results = append(f.results, llm.BatchResult{
				CustomID: req.ID,
				Content: &cards.Content{Cards: []cards.Card{
					{Pattern: cards.PatternTactic, Front: "f", Back: "b"},
				}},
			})
		}
	}
}

func TestSubmitBatch_ClaimsAndReturnsID(t *testing.T) {
	runner := &fakeBatchRunner{}
	engine, st := testEngine(t, nil, runner)
	ctx := context.Background()

	seed(t, st,
		"first fine highlight with enough text",
		"second fine highlight with enough text",
		"tiny", // resolved locally, never submitted
	)

	sub, err := engine.SubmitBatch(ctx, Options{Model: "model-x"})
	if err != nil {
		t.Fatalf("SubmitBatch: %v", err)
	}
	if sub.Records != 2 {
		t.Errorf("Records = %d, want 2 (short highlight excluded)", sub.Records)
	}
	if len(runner.submitted) != 1 || len(runner.submitted[0]) != 2 {
		t.Errorf("submitted %v", runner.submitted)
	}

	// Claimed records are out of the pending pool; re-submitting finds
	// nothing.
	if _, err := engine.SubmitBatch(ctx, Options{}); !errors.Is(err, ErrNoPending) {
		t.Errorf("re-submit: got %v, want ErrNoPending", err)
	}

	counts, _ := st.StateCounts(ctx)
	if counts.InBatch != 2 {
		t.Errorf("InBatch = %d, want 2", counts.InBatch)
	}
}

func TestSubmitBatch_SubmitFailureLeavesPending(t *testing.T) {
	runner := &fakeBatchRunner{submitErr: errors.New("api down")}
	engine, st := testEngine(t, nil, runner)
	ctx := context.Background()

	seed(t, st, "a fine highlight with enough text to submit")

	if _, err := engine.SubmitBatch(ctx, Options{}); err == nil {
		t.Fatal("expected submit error")
	}

	// Nothing was claimed; the record is still pending.
	counts, _ := st.StateCounts(ctx)
	if counts.Pending != 1 || counts.InBatch != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestLoadBatch_PendingThenApplied(t *testing.T) {
	runner := &fakeBatchRunner{}
	engine, st := testEngine(t, nil, runner)
	ctx := context.Background()

	seed(t, st,
		"first fine highlight with enough text",
		"second fine highlight with enough text",
		"third fine highlight with enough text",
	)
	sub, err := engine.SubmitBatch(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}

	// Still processing: report only, no mutation.
	out, err := engine.LoadBatch(ctx, sub.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if !out.Pending {
		t.Error("expected Pending while job is in progress")
	}
	counts, _ := st.StateCounts(ctx)
	if counts.Generated != 0 || counts.InBatch != 3 {
		t.Errorf("counts mutated by pending load: %+v", counts)
	}

	// Job ends with one errored request.
	failID := runner.submitted[0][1].ID
	runner.finish(failID)

	out, err = engine.LoadBatch(ctx, sub.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if out.Pending || out.AlreadyApplied {
		t.Errorf("outcome = %+v, want applied", out)
	}
	if out.Summary.Generated != 2 || out.Summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 generated / 1 failed", out.Summary)
	}

	counts, _ = st.StateCounts(ctx)
	if counts.Generated != 2 || counts.Failed != 1 || counts.InBatch != 0 {
		t.Errorf("counts = %+v", counts)
	}
}

func TestLoadBatch_SecondLoadIsNoOp(t *testing.T) {
	runner := &fakeBatchRunner{}
	engine, st := testEngine(t, nil, runner)
	ctx := context.Background()

	seed(t, st, "a fine highlight with enough text to submit")
	sub, err := engine.SubmitBatch(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}
	runner.finish()

	if _, err := engine.LoadBatch(ctx, sub.BatchID); err != nil {
		t.Fatal(err)
	}

	out, err := engine.LoadBatch(ctx, sub.BatchID)
	if err != nil {
		t.Fatal(err)
	}
	if !out.AlreadyApplied {
		t.Error("second load should report AlreadyApplied")
	}

	counts, _ := st.StateCounts(ctx)
	if counts.Generated != 1 {
		t.Errorf("double apply changed counts: %+v", counts)
	}
}

func TestLoadBatch_UnknownIDIsFatal(t *testing.T) {
	runner := &fakeBatchRunner{}
	engine, _ := testEngine(t, nil, runner)

	_, err := engine.LoadBatch(context.Background(), "never-submitted")
	if !errors.Is(err, store.ErrBatchNotFound) {
		t.Errorf("got %v, want ErrBatchNotFound", err)
	}
}

func TestAbandonBatch(t *testing.T) {
	runner := &fakeBatchRunner{}
	engine, st := testEngine(t, nil, runner)
	ctx := context.Background()

	seed(t, st,
		"first fine highlight with enough text",
		"second fine highlight with enough text",
	)
	sub, err := engine.SubmitBatch(ctx, Options{})
	if err != nil {
		t.Fatal(err)
	}

	if err := engine.AbandonBatch(ctx, sub.BatchID); err != nil {
		t.Fatalf("AbandonBatch: %v", err)
	}

	counts, _ := st.StateCounts(ctx)
	if counts.Pending != 2 || counts.InBatch != 0 {
		t.Errorf("counts = %+v, want records back in pending", counts)
	}

	if err := engine.AbandonBatch(ctx, sub.BatchID); !errors.Is(err, store.ErrBatchNotFound) {
		t.Errorf("abandon of released batch: got %v, want ErrBatchNotFound", err)
	}
}
