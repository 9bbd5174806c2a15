package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/vietddude/shield/internal/core/domain"
	storagemem "github.com/vietddude/shield/internal/infra/storage/memory"
	storemem "github.com/vietddude/shield/internal/infra/store/memory"
	"github.com/vietddude/shield/internal/resilience/retry"
)

var testConfig = Config{
	Retry:       retry.Config{MaxAttempts: 3, InitialDelay: 0, Factor: 2.0},
	Concurrency: 2,
}

// countingOp fails configured items and counts invocations per item.
type countingOp struct {
	mu       sync.Mutex
	calls    map[string]int
	failWith map[string]error
}

func newCountingOp() *countingOp {
	return &countingOp{
		calls:    make(map[string]int),
		failWith: make(map[string]error),
	}
}

func (o *countingOp) run(ctx context.Context, item Item) (json.RawMessage, error) {
	o.mu.Lock()
	o.calls[item.ID]++
	err := o.failWith[item.ID]
	o.mu.Unlock()

	if err != nil {
		return nil, err
	}
	return json.RawMessage(fmt.Sprintf(`{"processed":%q}`, item.ID)), nil
}

func (o *countingOp) callCount(itemID string) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.calls[itemID]
}

func newTestProcessor(op Operation) *Processor {
	results := storagemem.NewBatchResultRepo(storagemem.NewMemoryStorage())
	return NewProcessor(testConfig, op, results, storemem.NewStore())
}

func items(ids ...string) []Item {
	out := make([]Item, 0, len(ids))
	for _, id := range ids {
		out = append(out, Item{ID: id, Payload: json.RawMessage(`{}`)})
	}
	return out
}

func TestAllItemsSucceed(t *testing.T) {
	op := newCountingOp()
	p := newTestProcessor(op.run)

	result, err := p.ProcessBatch(context.Background(), "b1", items("a", "b", "c"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if !result.OverallOk {
		t.Error("expected overall_ok for an all-success batch")
	}
	if len(result.Items) != 3 {
		t.Fatalf("expected 3 item results, got %d", len(result.Items))
	}
	for id, ir := range result.Items {
		if !ir.Success || ir.Attempts != 1 {
			t.Errorf("item %s: expected success in 1 attempt, got %+v", id, ir)
		}
	}
}

func TestFatalFailureDoesNotAbortBatch(t *testing.T) {
	op := newCountingOp()
	op.failWith["bad"] = domain.Fatal(domain.CodeQuotaExceeded, errors.New("quota exhausted"))
	p := newTestProcessor(op.run)

	result, err := p.ProcessBatch(context.Background(), "b1", items("good1", "bad", "good2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.OverallOk {
		t.Error("overall_ok must be false when any item fails")
	}
	if len(result.Items) != 3 {
		t.Fatalf("every item must have a result, got %d", len(result.Items))
	}

	bad := result.Items["bad"]
	if bad.Success {
		t.Error("expected bad item to fail")
	}
	if bad.FailureReason != domain.CodeQuotaExceeded {
		t.Errorf("expected quota_exceeded, got %s", bad.FailureReason)
	}
	if op.callCount("bad") != 1 {
		t.Errorf("fatal item must not be retried, got %d calls", op.callCount("bad"))
	}

	for _, id := range []string{"good1", "good2"} {
		if !result.Items[id].Success {
			t.Errorf("item %s should be unaffected by the fatal failure", id)
		}
	}
}

func TestRateLimitedItemRetriesToCap(t *testing.T) {
	op := newCountingOp()
	op.failWith["flaky"] = domain.Retryable(domain.CodeRateLimited, errors.New("429"))
	p := newTestProcessor(op.run)

	result, err := p.ProcessBatch(context.Background(), "b1", items("flaky"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ir := result.Items["flaky"]
	if ir.Success {
		t.Error("expected flaky item to exhaust retries")
	}
	if ir.Attempts != testConfig.Retry.MaxAttempts {
		t.Errorf("expected %d attempts, got %d", testConfig.Retry.MaxAttempts, ir.Attempts)
	}
	if op.callCount("flaky") != testConfig.Retry.MaxAttempts {
		t.Errorf("expected %d invocations, got %d", testConfig.Retry.MaxAttempts, op.callCount("flaky"))
	}
	if ir.FailureReason != domain.CodeRateLimited {
		t.Errorf("expected rate_limited, got %s", ir.FailureReason)
	}
}

func TestIdempotentReplaySkipsFinalizedItems(t *testing.T) {
	op := newCountingOp()
	op.failWith["fatal"] = domain.Fatal(domain.CodeQuotaExceeded, errors.New("quota"))
	p := newTestProcessor(op.run)
	ctx := context.Background()

	first, err := p.ProcessBatch(ctx, "b1", items("ok", "fatal"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	second, err := p.ProcessBatch(ctx, "b1", items("ok", "fatal"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// Finalized results replay without re-invocation.
	if op.callCount("ok") != 1 {
		t.Errorf("successful item re-invoked on replay: %d calls", op.callCount("ok"))
	}
	if op.callCount("fatal") != 1 {
		t.Errorf("fatal item re-invoked on replay: %d calls", op.callCount("fatal"))
	}

	for _, id := range []string{"ok", "fatal"} {
		f, s := first.Items[id], second.Items[id]
		if f.Success != s.Success || f.FailureReason != s.FailureReason || f.Attempts != s.Attempts {
			t.Errorf("item %s: replayed result differs: %+v vs %+v", id, f, s)
		}
		if !s.Replayed {
			t.Errorf("item %s: expected replayed flag on second run", id)
		}
	}
}

func TestExhaustedItemsAreRetriedOnReplay(t *testing.T) {
	op := newCountingOp()
	op.failWith["flaky"] = domain.Retryable(domain.CodeRateLimited, errors.New("429"))
	p := newTestProcessor(op.run)
	ctx := context.Background()

	if _, err := p.ProcessBatch(ctx, "b1", items("flaky")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	// The upstream recovers; a retriggered run should re-execute the
	// non-finalized item and succeed.
	op.mu.Lock()
	delete(op.failWith, "flaky")
	op.mu.Unlock()

	result, err := p.ProcessBatch(ctx, "b1", items("flaky"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !result.Items["flaky"].Success {
		t.Error("exhausted item should be re-attempted on a later run")
	}
	if result.Items["flaky"].Replayed {
		t.Error("re-executed item must not be marked replayed")
	}
}

func TestDifferentBatchesDoNotShareResults(t *testing.T) {
	op := newCountingOp()
	p := newTestProcessor(op.run)
	ctx := context.Background()

	if _, err := p.ProcessBatch(ctx, "b1", items("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, err := p.ProcessBatch(ctx, "b2", items("x")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if op.callCount("x") != 2 {
		t.Errorf("same item id in different batches should run twice, got %d", op.callCount("x"))
	}
}

func TestConcurrentRetriggerDoesNotDoubleProcess(t *testing.T) {
	block := make(chan struct{})
	started := make(chan struct{})
	var calls int
	var mu sync.Mutex

	op := func(ctx context.Context, item Item) (json.RawMessage, error) {
		mu.Lock()
		calls++
		mu.Unlock()
		close(started)
		<-block
		return json.RawMessage(`{}`), nil
	}

	results := storagemem.NewBatchResultRepo(storagemem.NewMemoryStorage())
	locks := storemem.NewStore()
	p := NewProcessor(testConfig, op, results, locks)
	ctx := context.Background()

	done := make(chan *Result, 1)
	go func() {
		r, _ := p.ProcessBatch(ctx, "b1", items("slow"))
		done <- r
	}()
	<-started

	// Retrigger while the first run still holds the claim.
	second, err := p.ProcessBatch(ctx, "b1", items("slow"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Items["slow"].FailureReason != domain.CodeInFlight {
		t.Errorf("expected in_flight for claimed item, got %+v", second.Items["slow"])
	}

	close(block)
	first := <-done

	if !first.Items["slow"].Success {
		t.Errorf("first run should complete the item: %+v", first.Items["slow"])
	}
	mu.Lock()
	defer mu.Unlock()
	if calls != 1 {
		t.Errorf("claimed item processed %d times, want 1", calls)
	}
}
