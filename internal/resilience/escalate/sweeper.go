package escalate

import (
	"context"
	"log/slog"
	"time"

	"github.com/vietddude/shield/internal/infra/storage"
)

// Sweeper deletes expired escalation tokens on an interval.
type Sweeper struct {
	tokens   storage.TokenRepository
	interval time.Duration
	log      *slog.Logger
}

// NewSweeper creates a token sweeper. interval <= 0 defaults to 10 minutes.
func NewSweeper(tokens storage.TokenRepository, interval time.Duration) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	return &Sweeper{
		tokens:   tokens,
		interval: interval,
		log:      slog.Default().With("component", "sweeper"),
	}
}

// Start runs the sweep loop until ctx is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// Initial sweep
	s.sweep(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Sweeper) sweep(ctx context.Context) {
	removed, err := s.tokens.DeleteExpired(ctx, time.Now())
	if err != nil {
		s.log.Error("Failed to sweep expired tokens", "error", err)
		return
	}
	if removed > 0 {
		s.log.Info("Swept expired tokens", "removed", removed)
	}
}
