package retry

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/vietddude/shield/internal/core/domain"
)

// Config defines retry behavior.
type Config struct {
	MaxAttempts  int           // total attempts, including the first
	InitialDelay time.Duration // 0 disables backoff (tests)
	MaxDelay     time.Duration
	Factor       float64
	Classifier   domain.Classifier
}

// DefaultConfig provides sensible defaults for remote provider calls.
var DefaultConfig = Config{
	MaxAttempts:  3,
	InitialDelay: 1 * time.Second,
	MaxDelay:     30 * time.Second,
	Factor:       2.0,
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultConfig.MaxAttempts
	}
	if c.Factor <= 0 {
		c.Factor = DefaultConfig.Factor
	}
	if c.MaxDelay <= 0 {
		c.MaxDelay = DefaultConfig.MaxDelay
	}
	if c.Classifier == nil {
		c.Classifier = domain.Classify
	}
	return c
}

// Operation is a fallible unit of work. Side effects are the caller's
// problem: the policy re-invokes the operation as-is, so operations
// needing exactly-once effects must be idempotent.
type Operation[T any] func(ctx context.Context) (T, error)

// Do executes op with exponential backoff. The first attempt runs
// immediately; fatal errors stop the loop at once; retryable errors wait
// InitialDelay * Factor^(attempt-1) and try again. It returns the value,
// the number of attempts actually consumed, and the final error.
// Exhausting every attempt on retryable errors returns the last failure
// tagged as exhausted.
func Do[T any](ctx context.Context, cfg Config, op Operation[T]) (T, int, error) {
	cfg = cfg.withDefaults()

	var zero T
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err := op(ctx)
		if err == nil {
			return result, attempt, nil
		}

		lastErr = err

		if cfg.Classifier(err) != domain.KindRetryable {
			// Fatal: stop immediately, do not retry
			return zero, attempt, err
		}

		if attempt == cfg.MaxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return zero, attempt, ctx.Err()
		case <-time.After(backoff(attempt, cfg)):
		}
	}

	exhausted := domain.Exhausted(fmt.Errorf("failed after %d attempts: %w", cfg.MaxAttempts, lastErr))
	return zero, cfg.MaxAttempts, exhausted
}

// backoff calculates the delay before the next attempt (attempt is 1-based).
func backoff(attempt int, cfg Config) time.Duration {
	delay := float64(cfg.InitialDelay) * math.Pow(cfg.Factor, float64(attempt-1))
	if delay > float64(cfg.MaxDelay) {
		delay = float64(cfg.MaxDelay)
	}
	return time.Duration(delay)
}
