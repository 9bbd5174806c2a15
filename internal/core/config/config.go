package config

import (
	"time"

	"github.com/vietddude/shield/internal/infra/notify"
	"github.com/vietddude/shield/internal/infra/provider"
	"github.com/vietddude/shield/internal/infra/storage/postgres"
	redisstore "github.com/vietddude/shield/internal/infra/store/redis"
)

// AppConfig represents the top-level configuration.
type AppConfig struct {
	Server     ServerConfig      `yaml:"server"`
	Logging    LoggingConfig     `yaml:"logging"`
	Redis      redisstore.Config `yaml:"redis"`    // empty URL = in-memory store
	Database   postgres.Config   `yaml:"database"` // empty URL = in-memory repositories
	Notify     notify.Config     `yaml:"notify"`   // empty URL = notifications disabled
	Retry      RetryConfig       `yaml:"retry"`
	Breaker    BreakerConfig     `yaml:"breaker"`
	Batch      BatchConfig       `yaml:"batch"`
	Escalation EscalationConfig  `yaml:"escalation"`
	Fallback   FallbackConfig    `yaml:"fallback"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // json, text
}

// RetryConfig holds the default retry policy for wrapped operations.
type RetryConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"` // total, including the first
	InitialDelay time.Duration `yaml:"initial_delay"`
	MaxDelay     time.Duration `yaml:"max_delay"`
	Factor       float64       `yaml:"factor"`
}

// BreakerConfig holds circuit breaker settings, with optional
// per-service overrides.
type BreakerConfig struct {
	MaxConsecutive int                             `yaml:"max_consecutive"`
	Cooldown       time.Duration                   `yaml:"cooldown"`
	Services       map[string]BreakerServiceConfig `yaml:"services"`
}

// BreakerServiceConfig overrides breaker settings for one service.
type BreakerServiceConfig struct {
	MaxConsecutive int           `yaml:"max_consecutive"`
	Cooldown       time.Duration `yaml:"cooldown"`
}

// BatchConfig holds partial batch processor settings.
type BatchConfig struct {
	MaxAttempts int           `yaml:"max_attempts"`
	Factor      float64       `yaml:"factor"`
	Concurrency int           `yaml:"concurrency"`
	ClaimTTL    time.Duration `yaml:"claim_ttl"`
}

// EscalationConfig holds escalation gate settings.
type EscalationConfig struct {
	TokenTTL      time.Duration `yaml:"token_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// FallbackConfig holds the ordered provider tiers, primary first.
type FallbackConfig struct {
	Tiers []provider.Config `yaml:"tiers"`
}
