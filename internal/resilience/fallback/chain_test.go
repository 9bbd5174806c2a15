package fallback

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/vietddude/shield/internal/core/domain"
	"github.com/vietddude/shield/internal/infra/provider"
)

func okTier(name, output string) provider.Provider {
	return provider.Func{
		ProviderName: name,
		Fn: func(ctx context.Context, req json.RawMessage) (json.RawMessage, error) {
			return json.RawMessage(output), nil
		},
	}
}

func failTier(name string, err error) provider.Provider {
	return provider.Func{
		ProviderName: name,
		Fn: func(ctx context.Context, req json.RawMessage) (json.RawMessage, error) {
			return nil, err
		},
	}
}

func TestPrimarySuccessIsNotDegraded(t *testing.T) {
	chain, err := NewChain([]provider.Provider{
		okTier("primary", `{"answer":42}`),
		failTier("secondary", domain.Retryable(domain.CodeUpstreamError, context.DeadlineExceeded)),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := chain.Resolve(context.Background(), json.RawMessage(`{"q":"x"}`))
	if !res.Ok {
		t.Error("resolution must always be ok")
	}
	if res.TierUsed != "primary" {
		t.Errorf("expected primary tier, got %s", res.TierUsed)
	}
	if res.Degraded {
		t.Error("primary success must not be marked degraded")
	}
	if string(res.Output) != `{"answer":42}` {
		t.Errorf("unexpected output: %s", res.Output)
	}
	if len(res.TierErrors) != 0 {
		t.Errorf("expected no tier errors, got %v", res.TierErrors)
	}
}

func TestSecondarySuccessIsDegraded(t *testing.T) {
	chain, err := NewChain([]provider.Provider{
		failTier("primary", domain.Retryable(domain.CodeRateLimited, context.DeadlineExceeded)),
		okTier("secondary", `{"answer":"backup"}`),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := chain.Resolve(context.Background(), json.RawMessage(`{}`))
	if res.TierUsed != "secondary" {
		t.Errorf("expected secondary tier, got %s", res.TierUsed)
	}
	if !res.Degraded {
		t.Error("non-primary success must be marked degraded")
	}
	if res.TierErrors["primary"] != domain.CodeRateLimited {
		t.Errorf("expected primary failure recorded as rate_limited, got %v", res.TierErrors)
	}
}

func TestAllTiersFailSynthesizesDefault(t *testing.T) {
	chain, err := NewChain([]provider.Provider{
		failTier("primary", domain.Retryable(domain.CodeUpstreamError, context.DeadlineExceeded)),
		failTier("secondary", domain.Fatal(domain.CodeQuotaExceeded, context.DeadlineExceeded)),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	request := json.RawMessage(`{"q":"original"}`)
	res := chain.Resolve(context.Background(), request)

	if !res.Ok {
		t.Error("total failure must still resolve ok")
	}
	if res.TierUsed != DefaultTier {
		t.Errorf("expected %s tier, got %s", DefaultTier, res.TierUsed)
	}
	if !res.Degraded {
		t.Error("synthesized response must be degraded")
	}
	if len(res.TierErrors) != 2 {
		t.Errorf("expected both tier failures recorded, got %v", res.TierErrors)
	}
	if !strings.Contains(string(res.Output), `"original"`) {
		t.Errorf("synthesized envelope should echo the request, got %s", res.Output)
	}
}

func TestSynthIsDeterministic(t *testing.T) {
	chain, err := NewChain([]provider.Provider{
		failTier("primary", domain.Retryable(domain.CodeUpstreamError, context.DeadlineExceeded)),
	}, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	request := json.RawMessage(`{"q":1}`)
	first := chain.Resolve(context.Background(), request)
	second := chain.Resolve(context.Background(), request)

	if string(first.Output) != string(second.Output) {
		t.Errorf("synthesized output must be deterministic:\n%s\n%s", first.Output, second.Output)
	}
}

func TestCustomSynth(t *testing.T) {
	chain, err := NewChain([]provider.Provider{
		failTier("primary", domain.Retryable(domain.CodeUpstreamError, context.DeadlineExceeded)),
	}, func(req json.RawMessage) json.RawMessage {
		return json.RawMessage(`{"cached":true}`)
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res := chain.Resolve(context.Background(), json.RawMessage(`{}`))
	if string(res.Output) != `{"cached":true}` {
		t.Errorf("expected custom synthesizer output, got %s", res.Output)
	}
}

func TestChainRequiresAtLeastOneTier(t *testing.T) {
	if _, err := NewChain(nil, nil); err == nil {
		t.Fatal("expected an error for an empty chain")
	}
}
