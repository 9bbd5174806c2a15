package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/vietddude/shield/internal/core/domain"
	"github.com/vietddude/shield/internal/infra/notify"
	storagemem "github.com/vietddude/shield/internal/infra/storage/memory"
)

// recordingNotifier captures messages for assertions.
type recordingNotifier struct {
	mu       sync.Mutex
	messages []notify.Message
}

func (n *recordingNotifier) Notify(ctx context.Context, msg notify.Message) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages = append(n.messages, msg)
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.messages)
}

func newTestGate(notifier notify.Notifier) (*Gate, *time.Time) {
	repo := storagemem.NewTokenRepo(storagemem.NewMemoryStorage())
	g := NewGate(Config{TokenTTL: time.Hour}, repo, notifier)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := &now
	g.SetClock(func() time.Time { return *clock })
	return g, clock
}

func TestEscalationRoundTrip(t *testing.T) {
	notifier := &recordingNotifier{}
	g, _ := newTestGate(notifier)
	ctx := context.Background()

	payload := json.RawMessage(`{"task":"approve-refund","amount":120}`)
	esc, err := g.Escalate(ctx, "manual review required", payload)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if esc.Ok || !esc.Escalated {
		t.Errorf("expected ok=false escalated=true, got %+v", esc)
	}
	if esc.ResumeToken == "" {
		t.Fatal("expected a resume token")
	}
	if notifier.count() != 1 {
		t.Errorf("expected one reviewer notification, got %d", notifier.count())
	}

	res, err := g.Resume(ctx, esc.ResumeToken, "alice")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !res.Ok || !res.Resumed {
		t.Errorf("expected ok=true resumed=true, got %+v", res)
	}
	if string(res.Payload) != string(payload) {
		t.Errorf("expected original payload back, got %s", res.Payload)
	}
	if res.ResolvedBy != "alice" {
		t.Errorf("expected resolver identity recorded, got %q", res.ResolvedBy)
	}
}

func TestTokenIsSingleUse(t *testing.T) {
	g, _ := newTestGate(nil)
	ctx := context.Background()

	esc, err := g.Escalate(ctx, "review", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, err := g.Resume(ctx, esc.ResumeToken, "alice"); err != nil {
		t.Fatalf("first resume should succeed: %v", err)
	}

	_, err = g.Resume(ctx, esc.ResumeToken, "bob")
	assertProtocolError(t, err, domain.CodeTokenAlreadyUsed)
}

func TestExpiredTokenIsRejected(t *testing.T) {
	g, clock := newTestGate(nil)
	ctx := context.Background()

	esc, err := g.Escalate(ctx, "review", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	*clock = clock.Add(2 * time.Hour) // past the 1h TTL

	_, err = g.Resume(ctx, esc.ResumeToken, "alice")
	assertProtocolError(t, err, domain.CodeTokenExpired)
}

func TestUnknownTokenIsRejected(t *testing.T) {
	g, _ := newTestGate(nil)

	_, err := g.Resume(context.Background(), "not-a-real-token", "alice")
	assertProtocolError(t, err, domain.CodeInvalidToken)
}

func TestConcurrentResumeExactlyOneWins(t *testing.T) {
	g, _ := newTestGate(nil)
	ctx := context.Background()

	esc, err := g.Escalate(ctx, "review", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = g.Resume(ctx, esc.ResumeToken, "racer")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
			continue
		}
		var ce *domain.ClassifiedError
		if !errors.As(err, &ce) || ce.Code != domain.CodeTokenAlreadyUsed {
			t.Errorf("losing racer should get token_already_used, got %v", err)
		}
	}
	if successes != 1 {
		t.Errorf("expected exactly one successful resume, got %d", successes)
	}
}

func TestEscalationSurvivesNotifierAbsence(t *testing.T) {
	g, _ := newTestGate(nil) // nil notifier falls back to Noop

	esc, err := g.Escalate(context.Background(), "review", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("escalation must not fail without a notifier: %v", err)
	}
	if !esc.Escalated {
		t.Error("expected escalation to proceed")
	}
}

func TestSweeperRemovesExpiredTokens(t *testing.T) {
	mem := storagemem.NewMemoryStorage()
	repo := storagemem.NewTokenRepo(mem)
	g := NewGate(Config{TokenTTL: time.Millisecond}, repo, nil)
	ctx := context.Background()

	esc, err := g.Escalate(ctx, "review", json.RawMessage(`{}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	removed, err := repo.DeleteExpired(ctx, time.Now().Add(time.Second))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if removed != 1 {
		t.Errorf("expected 1 expired token removed, got %d", removed)
	}

	_, err = g.Resume(ctx, esc.ResumeToken, "alice")
	assertProtocolError(t, err, domain.CodeInvalidToken)
}

func assertProtocolError(t *testing.T, err error, code string) {
	t.Helper()
	if err == nil {
		t.Fatal("expected a protocol error")
	}
	var ce *domain.ClassifiedError
	if !errors.As(err, &ce) {
		t.Fatalf("expected a classified error, got %v", err)
	}
	if ce.Kind != domain.KindProtocol {
		t.Errorf("expected protocol kind, got %s", ce.Kind)
	}
	if ce.Code != code {
		t.Errorf("expected code %s, got %s", code, ce.Code)
	}
}
