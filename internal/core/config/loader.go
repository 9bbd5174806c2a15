package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"
)

// Load reads configuration from a YAML file.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg AppConfig
	// Expand environment variables in the YAML content
	expandedData := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	// Set defaults if necessary
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Retry.MaxAttempts == 0 {
		cfg.Retry.MaxAttempts = 3
	}
	if cfg.Retry.InitialDelay == 0 {
		cfg.Retry.InitialDelay = 1 * time.Second
	}
	if cfg.Retry.MaxDelay == 0 {
		cfg.Retry.MaxDelay = 30 * time.Second
	}
	if cfg.Retry.Factor == 0 {
		cfg.Retry.Factor = 2.0
	}
	if cfg.Breaker.MaxConsecutive == 0 {
		cfg.Breaker.MaxConsecutive = 5
	}
	if cfg.Breaker.Cooldown == 0 {
		cfg.Breaker.Cooldown = 30 * time.Second
	}
	if cfg.Batch.MaxAttempts == 0 {
		cfg.Batch.MaxAttempts = 3
	}
	if cfg.Batch.Factor == 0 {
		cfg.Batch.Factor = 2.0
	}
	if cfg.Batch.Concurrency == 0 {
		cfg.Batch.Concurrency = 4
	}
	if cfg.Escalation.TokenTTL == 0 {
		cfg.Escalation.TokenTTL = 24 * time.Hour
	}

	return &cfg, nil
}
