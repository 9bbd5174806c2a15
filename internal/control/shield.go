package control

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/shield/internal/api"
	"github.com/vietddude/shield/internal/core/config"
	"github.com/vietddude/shield/internal/infra/notify"
	"github.com/vietddude/shield/internal/infra/provider"
	"github.com/vietddude/shield/internal/infra/storage"
	storagemem "github.com/vietddude/shield/internal/infra/storage/memory"
	"github.com/vietddude/shield/internal/infra/storage/postgres"
	"github.com/vietddude/shield/internal/infra/store"
	storemem "github.com/vietddude/shield/internal/infra/store/memory"
	redisstore "github.com/vietddude/shield/internal/infra/store/redis"
	"github.com/vietddude/shield/internal/resilience/batch"
	"github.com/vietddude/shield/internal/resilience/breaker"
	"github.com/vietddude/shield/internal/resilience/escalate"
	"github.com/vietddude/shield/internal/resilience/fallback"
	"github.com/vietddude/shield/internal/resilience/retry"
)

// Config holds the application configuration.
type Config struct {
	Port       int
	Redis      redisstore.Config
	Database   postgres.Config
	Notify     notify.Config
	Retry      config.RetryConfig
	Breaker    config.BreakerConfig
	Batch      config.BatchConfig
	Escalation config.EscalationConfig
	Fallback   config.FallbackConfig
}

// Shield is the main application struct that wires the resilience
// primitives to their stores and exposes them over HTTP.
type Shield struct {
	cfg       Config
	kv        store.Store
	redisKV   *redisstore.Store
	db        *postgres.DB
	breakers  *breaker.Registry
	processor *batch.Processor
	gate      *escalate.Gate
	sweeper   *escalate.Sweeper
	chain     *fallback.Chain
	apiServer *api.Server
	log       *slog.Logger
}

// NewShield creates a new Shield instance with all dependencies initialized.
func NewShield(cfg Config) (*Shield, error) {
	if len(cfg.Fallback.Tiers) == 0 {
		return nil, fmt.Errorf("at least one provider tier is required")
	}

	// 1. Initialize KV store
	var kv store.Store
	var redisKV *redisstore.Store
	if cfg.Redis.URL != "" {
		var err error
		redisKV, err = redisstore.NewStore(cfg.Redis)
		if err != nil {
			return nil, fmt.Errorf("failed to init redis store: %w", err)
		}
		kv = redisKV
		slog.Info("Using Redis state store")
	} else {
		kv = storemem.NewStore()
		slog.Info("Using Memory state store")
	}

	// 2. Initialize repositories
	var tokenRepo storage.TokenRepository
	var batchRepo storage.BatchResultRepository
	var db *postgres.DB
	if cfg.Database.URL != "" {
		var err error
		db, err = postgres.NewDB(context.Background(), cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to init db: %w", err)
		}
		tokenRepo = postgres.NewTokenRepo(db)
		batchRepo = postgres.NewBatchResultRepo(db)
		slog.Info("Using PostgreSQL storage")
	} else {
		mem := storagemem.NewMemoryStorage()
		tokenRepo = storagemem.NewTokenRepo(mem)
		batchRepo = storagemem.NewBatchResultRepo(mem)
		slog.Info("Using Memory storage")
	}

	// 3. Notification channel
	var notifier notify.Notifier = notify.Noop{}
	if cfg.Notify.URL != "" {
		notifier = notify.NewWebhook(cfg.Notify)
		slog.Info("Webhook notifications enabled")
	}

	// 4. Providers, primary first
	providers := make(map[string]provider.Provider, len(cfg.Fallback.Tiers))
	tiers := make([]provider.Provider, 0, len(cfg.Fallback.Tiers))
	for _, tierCfg := range cfg.Fallback.Tiers {
		p := provider.NewHTTPProvider(tierCfg)
		providers[p.Name()] = p
		tiers = append(tiers, p)
	}
	primary := tiers[0]

	// 5. Resilience primitives
	retryCfg := retry.Config{
		MaxAttempts:  cfg.Retry.MaxAttempts,
		InitialDelay: cfg.Retry.InitialDelay,
		MaxDelay:     cfg.Retry.MaxDelay,
		Factor:       cfg.Retry.Factor,
	}

	overrides := make(map[string]breaker.Config, len(cfg.Breaker.Services))
	for name, svc := range cfg.Breaker.Services {
		overrides[name] = breaker.Config{
			MaxConsecutive: svc.MaxConsecutive,
			Cooldown:       svc.Cooldown,
			Retry:          retryCfg,
		}
	}
	breakers := breaker.NewRegistry(kv, breaker.Config{
		MaxConsecutive: cfg.Breaker.MaxConsecutive,
		Cooldown:       cfg.Breaker.Cooldown,
		Retry:          retryCfg,
	}, overrides)

	processor := batch.NewProcessor(
		batch.Config{
			Retry: retry.Config{
				MaxAttempts:  cfg.Batch.MaxAttempts,
				InitialDelay: cfg.Retry.InitialDelay,
				MaxDelay:     cfg.Retry.MaxDelay,
				Factor:       cfg.Batch.Factor,
			},
			Concurrency: cfg.Batch.Concurrency,
			ClaimTTL:    cfg.Batch.ClaimTTL,
		},
		func(ctx context.Context, item batch.Item) (json.RawMessage, error) {
			return primary.Call(ctx, item.Payload)
		},
		batchRepo,
		kv,
	)

	gate := escalate.NewGate(escalate.Config{TokenTTL: cfg.Escalation.TokenTTL}, tokenRepo, notifier)
	sweeper := escalate.NewSweeper(tokenRepo, cfg.Escalation.SweepInterval)

	chain, err := fallback.NewChain(tiers, nil)
	if err != nil {
		return nil, err
	}

	// 6. Call surface
	apiServer := api.NewServer(cfg.Port, breakers, providers, processor, gate, chain)

	return &Shield{
		cfg:       cfg,
		kv:        kv,
		redisKV:   redisKV,
		db:        db,
		breakers:  breakers,
		processor: processor,
		gate:      gate,
		sweeper:   sweeper,
		chain:     chain,
		apiServer: apiServer,
		log:       slog.Default(),
	}, nil
}

// Gate returns the escalation gate, for admin tooling.
func (s *Shield) Gate() *escalate.Gate {
	return s.gate
}

// Start starts the shield service and its background workers.
func (s *Shield) Start(ctx context.Context) error {
	go func() {
		if err := s.apiServer.Start(); err != nil && err != http.ErrServerClosed {
			s.log.Error("API server failed", "error", err)
		}
	}()

	go s.sweeper.Start(ctx)

	s.log.Info("Shield started", "port", s.cfg.Port, "tiers", len(s.cfg.Fallback.Tiers))
	return nil
}

// Stop stops the shield service.
func (s *Shield) Stop(ctx context.Context) error {
	s.log.Info("Stopping Shield...")

	if s.redisKV != nil {
		if err := s.redisKV.Close(); err != nil {
			s.log.Warn("Failed to close Redis", "error", err)
		}
	}
	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.log.Warn("Failed to close database", "error", err)
		}
	}

	// Give in-flight requests a moment to finish
	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	return s.apiServer.Stop(shutdownCtx)
}
