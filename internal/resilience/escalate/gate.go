package escalate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/vietddude/shield/internal/core/domain"
	"github.com/vietddude/shield/internal/infra/notify"
	"github.com/vietddude/shield/internal/infra/storage"
	"github.com/vietddude/shield/internal/metrics"
)

// Config defines escalation gate behavior.
type Config struct {
	TokenTTL time.Duration `yaml:"token_ttl"` // how long a resume token stays valid
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	TokenTTL: 24 * time.Hour,
}

// EscalateResult is returned when work is suspended pending a human
// decision. Ok is always false: this invocation is terminal.
type EscalateResult struct {
	Ok          bool      `json:"ok"`
	Escalated   bool      `json:"escalated"`
	ResumeToken string    `json:"resume_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	Message     string    `json:"message"`
}

// ResumeResult is returned when a valid token resumes suspended work.
type ResumeResult struct {
	Ok         bool            `json:"ok"`
	Resumed    bool            `json:"resumed"`
	Payload    json.RawMessage `json:"payload,omitempty"`
	ResolvedBy string          `json:"resolved_by,omitempty"`
	ResolvedAt *time.Time      `json:"resolved_at,omitempty"`
}

// Gate is the two-phase pause/resume state machine. Escalating suspends
// a unit of work behind a single-use resume token; resuming validates
// the token and hands the payload snapshot back. Resume-path failures
// are protocol errors and always surface to the caller.
type Gate struct {
	cfg      Config
	tokens   storage.TokenRepository
	notifier notify.Notifier
	log      *slog.Logger
	now      func() time.Time // for testing
}

// NewGate creates an escalation gate.
func NewGate(cfg Config, tokens storage.TokenRepository, notifier notify.Notifier) *Gate {
	if cfg.TokenTTL <= 0 {
		cfg.TokenTTL = DefaultConfig.TokenTTL
	}
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Gate{
		cfg:      cfg,
		tokens:   tokens,
		notifier: notifier,
		log:      slog.Default().With("component", "escalate"),
		now:      time.Now,
	}
}

// SetClock overrides the gate's clock. Test helper.
func (g *Gate) SetClock(now func() time.Time) {
	g.now = now
}

// Escalate suspends the given payload and mints a resume token. The
// reviewer notification is fire-and-forget; its failure never fails the
// escalation.
func (g *Gate) Escalate(ctx context.Context, reason string, payload json.RawMessage) (*EscalateResult, error) {
	now := g.now()
	rec := &storage.TokenRecord{
		Token:     uuid.NewString(),
		Payload:   payload,
		Reason:    reason,
		CreatedAt: now,
		ExpiresAt: now.Add(g.cfg.TokenTTL),
	}

	if err := g.tokens.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("failed to create escalation token: %w", err)
	}

	g.notifier.Notify(ctx, notify.Message{
		Title:  "Escalation requires review",
		Body:   fmt.Sprintf("Work suspended: %s. Resume before %s.", reason, rec.ExpiresAt.Format(time.RFC3339)),
		Token:  rec.Token,
		Reason: reason,
	})

	g.log.Info("Escalated for human review", "token", rec.Token, "reason", reason)
	metrics.Escalations.WithLabelValues("escalated").Inc()

	return &EscalateResult{
		Ok:          false,
		Escalated:   true,
		ResumeToken: rec.Token,
		ExpiresAt:   rec.ExpiresAt,
		Message:     "suspended pending human review",
	}, nil
}

// Resume validates token and marks it used. Exactly one concurrent
// caller with a valid token succeeds; everyone else gets a protocol
// error (invalid, expired, or already used).
func (g *Gate) Resume(ctx context.Context, token, resolvedBy string) (*ResumeResult, error) {
	rec, err := g.tokens.Resolve(ctx, token, resolvedBy, g.now())
	if err != nil {
		metrics.Escalations.WithLabelValues("rejected").Inc()
		switch {
		case errors.Is(err, storage.ErrTokenNotFound):
			return nil, domain.Protocol(domain.CodeInvalidToken, err)
		case errors.Is(err, storage.ErrTokenExpired):
			return nil, domain.Protocol(domain.CodeTokenExpired, err)
		case errors.Is(err, storage.ErrTokenResolved):
			return nil, domain.Protocol(domain.CodeTokenAlreadyUsed, err)
		}
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	g.log.Info("Escalation resumed", "token", token, "resolved_by", resolvedBy)
	metrics.Escalations.WithLabelValues("resumed").Inc()

	return &ResumeResult{
		Ok:         true,
		Resumed:    true,
		Payload:    rec.Payload,
		ResolvedBy: rec.ResolvedBy,
		ResolvedAt: rec.ResolvedAt,
	}, nil
}
