package batch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"golang.org/x/sync/errgroup"

	"github.com/vietddude/shield/internal/core/domain"
	"github.com/vietddude/shield/internal/infra/storage"
	"github.com/vietddude/shield/internal/infra/store"
	"github.com/vietddude/shield/internal/metrics"
	"github.com/vietddude/shield/internal/resilience/retry"
)

// Item is one unit of work inside a batch.
type Item struct {
	ID      string          `json:"id"`
	Payload json.RawMessage `json:"payload"`
}

// ItemResult is the finalized outcome for one item.
type ItemResult struct {
	Success       bool            `json:"success"`
	Attempts      int             `json:"attempts"`
	FailureReason string          `json:"failure_reason,omitempty"`
	Output        json.RawMessage `json:"output,omitempty"`
	Replayed      bool            `json:"replayed,omitempty"` // reused from a previous run
}

// Result is the outcome of one batch run.
type Result struct {
	OverallOk bool                  `json:"overall_ok"`
	Items     map[string]ItemResult `json:"items"`
}

// Operation processes a single item.
type Operation func(ctx context.Context, item Item) (json.RawMessage, error)

// Config defines batch processing behavior.
type Config struct {
	Retry       retry.Config
	Concurrency int           // max items in flight, <=0 means sequential
	ClaimTTL    time.Duration // how long an in-flight claim is held
}

// DefaultConfig provides sensible defaults: three total attempts with
// factor-2 backoff per item.
var DefaultConfig = Config{
	Retry: retry.Config{
		MaxAttempts:  3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     30 * time.Second,
		Factor:       2.0,
	},
	Concurrency: 4,
	ClaimTTL:    5 * time.Minute,
}

// Processor applies the retry policy per item over a batch, isolating
// failures so one item's fatal error never aborts the rest. Finalized
// results (success, or fatal failure) are replayed from storage on
// retriggered runs instead of re-executing the item.
type Processor struct {
	cfg     Config
	op      Operation
	results storage.BatchResultRepository
	locks   store.Store
	log     *slog.Logger
}

// NewProcessor creates a batch processor around op.
func NewProcessor(cfg Config, op Operation, results storage.BatchResultRepository, locks store.Store) *Processor {
	if cfg.Retry.MaxAttempts <= 0 {
		cfg.Retry = DefaultConfig.Retry
	}
	if cfg.ClaimTTL <= 0 {
		cfg.ClaimTTL = DefaultConfig.ClaimTTL
	}
	return &Processor{
		cfg:     cfg,
		op:      op,
		results: results,
		locks:   locks,
		log:     slog.Default().With("component", "batch"),
	}
}

// IdempotencyKey derives the stable key for a (batch, item) pair.
func IdempotencyKey(batchID, itemID string) string {
	return fmt.Sprintf("batch:%s:item:%s", batchID, itemID)
}

// ProcessBatch runs every item, bounded by the configured concurrency.
// The returned error covers infrastructure trouble only; item failures
// land in the per-item map.
func (p *Processor) ProcessBatch(ctx context.Context, batchID string, items []Item) (*Result, error) {
	timer := prometheus.NewTimer(metrics.CallLatency.WithLabelValues("batch"))
	defer timer.ObserveDuration()

	result := &Result{
		OverallOk: true,
		Items:     make(map[string]ItemResult, len(items)),
	}

	var mu sync.Mutex
	record := func(itemID string, ir ItemResult) {
		mu.Lock()
		defer mu.Unlock()
		result.Items[itemID] = ir
		if !ir.Success {
			result.OverallOk = false
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if p.cfg.Concurrency > 0 {
		g.SetLimit(p.cfg.Concurrency)
	} else {
		g.SetLimit(1)
	}

	for _, item := range items {
		g.Go(func() error {
			ir, err := p.processItem(gctx, batchID, item)
			if err != nil {
				return err
			}
			record(item.ID, ir)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return result, nil
}

func (p *Processor) processItem(ctx context.Context, batchID string, item Item) (ItemResult, error) {
	key := IdempotencyKey(batchID, item.ID)

	// Finalized results are immutable: replay without re-execution.
	existing, err := p.results.Get(ctx, key)
	if err != nil {
		return ItemResult{}, fmt.Errorf("failed to look up batch result: %w", err)
	}
	if existing != nil && existing.Final {
		metrics.BatchItems.WithLabelValues("replayed").Inc()
		return ItemResult{
			Success:       existing.Success,
			Attempts:      existing.Attempts,
			FailureReason: existing.FailureReason,
			Output:        existing.Output,
			Replayed:      true,
		}, nil
	}

	// Claim the key so concurrent retriggers of the same batch never
	// double-process an item.
	claimed, err := p.locks.SetNX(ctx, "claim:"+key, []byte("processing"), p.cfg.ClaimTTL)
	if err != nil {
		return ItemResult{}, fmt.Errorf("failed to claim item: %w", err)
	}
	if !claimed {
		p.log.Debug("Item already in flight, skipping", "key", key)
		metrics.BatchItems.WithLabelValues("in_flight").Inc()
		return ItemResult{
			Success:       false,
			FailureReason: domain.CodeInFlight,
		}, nil
	}
	defer func() {
		if err := p.locks.Delete(ctx, "claim:"+key); err != nil {
			p.log.Warn("Failed to release item claim", "key", key, "error", err)
		}
	}()

	output, attempts, opErr := retry.Do(ctx, p.cfg.Retry, func(ctx context.Context) (json.RawMessage, error) {
		return p.op(ctx, item)
	})

	rec := &storage.BatchRecord{
		Key:      key,
		BatchID:  batchID,
		ItemID:   item.ID,
		Attempts: attempts,
	}

	var ir ItemResult
	switch {
	case opErr == nil:
		rec.Success = true
		rec.Output = output
		rec.Final = true
		ir = ItemResult{Success: true, Attempts: attempts, Output: output}
		metrics.BatchItems.WithLabelValues("success").Inc()
	case domain.Classify(opErr) == domain.KindFatal:
		// Retrying cannot help; finalize so replays skip this item.
		rec.FailureReason = domain.Code(opErr)
		rec.Final = true
		ir = ItemResult{Success: false, Attempts: attempts, FailureReason: rec.FailureReason}
		metrics.BatchItems.WithLabelValues("fatal").Inc()
	default:
		// Exhausted: persistent trouble, but a later run may recover,
		// so the record stays non-final.
		rec.FailureReason = domain.Code(opErr)
		ir = ItemResult{Success: false, Attempts: attempts, FailureReason: rec.FailureReason}
		metrics.BatchItems.WithLabelValues("exhausted").Inc()
	}

	if opErr != nil {
		p.log.Warn("Batch item failed",
			"batch", batchID,
			"item", item.ID,
			"attempts", attempts,
			"reason", rec.FailureReason,
			"error", opErr)
	}

	if err := p.results.Save(ctx, rec); err != nil {
		return ItemResult{}, fmt.Errorf("failed to save batch result: %w", err)
	}
	return ir, nil
}
