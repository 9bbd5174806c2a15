package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadFullConfig(t *testing.T) {
	path := writeConfig(t, `
server:
  port: 9090
logging:
  level: debug
  format: json
redis:
  url: redis://localhost:6379/0
retry:
  max_attempts: 5
  initial_delay: 500ms
  max_delay: 10s
  factor: 1.5
breaker:
  max_consecutive: 3
  cooldown: 45s
  services:
    payments:
      max_consecutive: 2
      cooldown: 2m
batch:
  max_attempts: 4
  concurrency: 8
  claim_ttl: 10m
escalation:
  token_ttl: 48h
fallback:
  tiers:
    - name: primary
      url: https://api.primary.test/v1
    - name: secondary
      url: https://api.secondary.test/v1
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 5 || cfg.Retry.InitialDelay != 500*time.Millisecond || cfg.Retry.Factor != 1.5 {
		t.Errorf("unexpected retry config: %+v", cfg.Retry)
	}
	if cfg.Breaker.MaxConsecutive != 3 || cfg.Breaker.Cooldown != 45*time.Second {
		t.Errorf("unexpected breaker config: %+v", cfg.Breaker)
	}
	override, ok := cfg.Breaker.Services["payments"]
	if !ok || override.MaxConsecutive != 2 || override.Cooldown != 2*time.Minute {
		t.Errorf("unexpected service override: %+v", cfg.Breaker.Services)
	}
	if cfg.Batch.Concurrency != 8 || cfg.Batch.ClaimTTL != 10*time.Minute {
		t.Errorf("unexpected batch config: %+v", cfg.Batch)
	}
	if cfg.Escalation.TokenTTL != 48*time.Hour {
		t.Errorf("unexpected escalation config: %+v", cfg.Escalation)
	}
	if len(cfg.Fallback.Tiers) != 2 || cfg.Fallback.Tiers[0].Name != "primary" {
		t.Errorf("unexpected fallback tiers: %+v", cfg.Fallback.Tiers)
	}
}

func TestLoadAppliesDefaults(t *testing.T) {
	path := writeConfig(t, `
server: {}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Server.Port)
	}
	if cfg.Retry.MaxAttempts != 3 || cfg.Retry.InitialDelay != time.Second ||
		cfg.Retry.MaxDelay != 30*time.Second || cfg.Retry.Factor != 2.0 {
		t.Errorf("unexpected retry defaults: %+v", cfg.Retry)
	}
	if cfg.Breaker.MaxConsecutive != 5 || cfg.Breaker.Cooldown != 30*time.Second {
		t.Errorf("unexpected breaker defaults: %+v", cfg.Breaker)
	}
	if cfg.Batch.MaxAttempts != 3 || cfg.Batch.Concurrency != 4 {
		t.Errorf("unexpected batch defaults: %+v", cfg.Batch)
	}
	if cfg.Escalation.TokenTTL != 24*time.Hour {
		t.Errorf("unexpected escalation default: %+v", cfg.Escalation)
	}
}

func TestLoadExpandsEnvironmentVariables(t *testing.T) {
	t.Setenv("SHIELD_TEST_REDIS_URL", "redis://cache.internal:6379/1")
	t.Setenv("SHIELD_TEST_API_KEY", "sk-secret")

	path := writeConfig(t, `
redis:
  url: ${SHIELD_TEST_REDIS_URL}
fallback:
  tiers:
    - name: primary
      url: https://api.primary.test/v1
      api_key: ${SHIELD_TEST_API_KEY}
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Redis.URL != "redis://cache.internal:6379/1" {
		t.Errorf("expected expanded redis url, got %q", cfg.Redis.URL)
	}
	if cfg.Fallback.Tiers[0].APIKey != "sk-secret" {
		t.Errorf("expected expanded api key, got %q", cfg.Fallback.Tiers[0].APIKey)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("expected an error for a missing file")
	}
}

func TestLoadInvalidYAML(t *testing.T) {
	path := writeConfig(t, "server: [not a map")
	if _, err := Load(path); err == nil {
		t.Fatal("expected an error for invalid yaml")
	}
}
