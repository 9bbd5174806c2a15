package breaker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vietddude/shield/internal/core/domain"
	"github.com/vietddude/shield/internal/infra/store"
	"github.com/vietddude/shield/internal/metrics"
	"github.com/vietddude/shield/internal/resilience/retry"
)

// Config defines circuit breaker behavior for one logical service.
type Config struct {
	MaxConsecutive int           `yaml:"max_consecutive"` // failures before the circuit opens
	Cooldown       time.Duration `yaml:"cooldown"`        // how long the circuit stays open
	Retry          retry.Config  `yaml:"-"`
}

// DefaultConfig provides sensible defaults.
var DefaultConfig = Config{
	MaxConsecutive: 5,
	Cooldown:       30 * time.Second,
}

func (c Config) withDefaults() Config {
	if c.MaxConsecutive <= 0 {
		c.MaxConsecutive = DefaultConfig.MaxConsecutive
	}
	if c.Cooldown <= 0 {
		c.Cooldown = DefaultConfig.Cooldown
	}
	return c
}

// state is the persisted per-service record. OpenUntil is set iff the
// consecutive failure count reached the threshold when it was last
// written; a success clears both fields.
type state struct {
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenUntil           *time.Time `json:"open_until,omitempty"`
}

// CallResult is the structured outcome of one call through the breaker.
// Operation failures are absorbed here rather than raised; Err carries
// the underlying failure for logging and is not serialized.
type CallResult[T any] struct {
	Ok          bool       `json:"ok"`
	Output      T          `json:"output,omitempty"`
	Tripped     bool       `json:"tripped"`
	OpenUntil   *time.Time `json:"open_until,omitempty"`
	Attempts    int        `json:"attempts"`
	FailureKind string     `json:"failure_kind,omitempty"`
	FailureCode string     `json:"failure_code,omitempty"`
	Err         error      `json:"-"`
}

// Breaker guards calls to one logical service. All state lives in the
// injected store under a per-service key, so concurrent callers and
// multiple instances share one view of the circuit.
type Breaker struct {
	service string
	cfg     Config
	store   store.Store
	log     *slog.Logger
	now     func() time.Time // for testing
}

// New creates a breaker for the named service.
func New(service string, cfg Config, st store.Store) *Breaker {
	return &Breaker{
		service: service,
		cfg:     cfg.withDefaults(),
		store:   st,
		log:     slog.Default().With("service", service),
		now:     time.Now,
	}
}

// SetClock overrides the breaker's clock. Test helper.
func (b *Breaker) SetClock(now func() time.Time) {
	b.now = now
}

func (b *Breaker) stateKey() string {
	return fmt.Sprintf("breaker:%s", b.service)
}

// State returns the current persisted state for the service.
func (b *Breaker) State(ctx context.Context) (failures int, openUntil *time.Time, err error) {
	st, err := b.loadState(ctx)
	if err != nil {
		return 0, nil, err
	}
	return st.ConsecutiveFailures, st.OpenUntil, nil
}

func (b *Breaker) loadState(ctx context.Context) (state, error) {
	raw, found, err := b.store.Get(ctx, b.stateKey())
	if err != nil {
		return state{}, fmt.Errorf("failed to load breaker state: %w", err)
	}
	if !found {
		return state{}, nil
	}
	var st state
	if err := json.Unmarshal(raw, &st); err != nil {
		return state{}, fmt.Errorf("corrupt breaker state for %s: %w", b.service, err)
	}
	return st, nil
}

// Call runs op through the breaker for the given service. While the
// circuit is open, the call is rejected immediately without invoking op.
// Otherwise op runs under the configured retry policy and the outcome is
// recorded atomically against the shared state.
func Call[T any](ctx context.Context, b *Breaker, op retry.Operation[T]) (CallResult[T], error) {
	// Lock-free check of the committed state. A slightly stale read
	// letting one extra attempt through a just-opened window is
	// acceptable; the fail-fast path is best effort.
	st, err := b.loadState(ctx)
	if err != nil {
		return CallResult[T]{}, err
	}

	now := b.now()
	if st.OpenUntil != nil && now.Before(*st.OpenUntil) {
		metrics.BreakerRejections.WithLabelValues(b.service).Inc()
		metrics.CallsTotal.WithLabelValues("breaker", "rejected").Inc()
		return CallResult[T]{
			Ok:          false,
			OpenUntil:   st.OpenUntil,
			FailureKind: domain.KindFatal.String(),
			FailureCode: domain.CodeCircuitOpen,
		}, nil
	}

	// Closed, or half-open: the cooldown elapsed and this call probes
	// the service again.
	timer := prometheus.NewTimer(metrics.CallLatency.WithLabelValues("breaker"))
	output, attempts, opErr := retry.Do(ctx, b.cfg.Retry, op)
	timer.ObserveDuration()
	metrics.RetryAttempts.WithLabelValues(b.service).Add(float64(attempts))

	if opErr == nil {
		if err := b.recordSuccess(ctx); err != nil {
			return CallResult[T]{}, err
		}
		metrics.CallsTotal.WithLabelValues("breaker", "success").Inc()
		return CallResult[T]{Ok: true, Output: output, Attempts: attempts}, nil
	}

	tripped, openUntil, err := b.recordFailure(ctx)
	if err != nil {
		return CallResult[T]{}, err
	}
	if tripped {
		b.log.Warn("Circuit opened",
			"failures", b.cfg.MaxConsecutive,
			"open_until", openUntil)
		metrics.BreakerStateChanges.WithLabelValues(b.service, "open").Inc()
	}
	metrics.CallsTotal.WithLabelValues("breaker", "failure").Inc()

	return CallResult[T]{
		Ok:          false,
		Tripped:     tripped,
		OpenUntil:   openUntil,
		Attempts:    attempts,
		FailureKind: domain.Classify(opErr).String(),
		FailureCode: domain.Code(opErr),
		Err:         opErr,
	}, nil
}

// recordSuccess resets the failure count and closes the circuit.
func (b *Breaker) recordSuccess(ctx context.Context) error {
	return b.store.Update(ctx, b.stateKey(), 0, func(current []byte, found bool) ([]byte, error) {
		return json.Marshal(state{})
	})
}

// recordFailure increments the failure count and opens the circuit once
// the threshold is reached. The read-modify-write runs inside the
// store's atomic update so concurrent failures cannot increment from a
// stale count.
func (b *Breaker) recordFailure(ctx context.Context) (tripped bool, openUntil *time.Time, err error) {
	err = b.store.Update(ctx, b.stateKey(), 0, func(current []byte, found bool) ([]byte, error) {
		var st state
		if found {
			if err := json.Unmarshal(current, &st); err != nil {
				return nil, fmt.Errorf("corrupt breaker state for %s: %w", b.service, err)
			}
		}

		wasOpen := st.OpenUntil != nil && b.now().Before(*st.OpenUntil)
		st.ConsecutiveFailures++
		tripped = false
		if st.ConsecutiveFailures >= b.cfg.MaxConsecutive {
			until := b.now().Add(b.cfg.Cooldown)
			st.OpenUntil = &until
			tripped = !wasOpen
		}
		openUntil = st.OpenUntil

		return json.Marshal(st)
	})
	if err != nil {
		return false, nil, fmt.Errorf("failed to record breaker failure: %w", err)
	}
	return tripped, openUntil, nil
}
