package fallback

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/vietddude/shield/internal/core/domain"
	"github.com/vietddude/shield/internal/infra/provider"
	"github.com/vietddude/shield/internal/metrics"
)

// DefaultTier is the tier name reported when every configured provider
// failed and the chain synthesized a local answer.
const DefaultTier = "fallback-default"

// SynthFunc builds a deterministic local answer from the request. It
// must never make a remote call.
type SynthFunc func(request json.RawMessage) json.RawMessage

// Resolution is the outcome of one chain resolution. Ok is always true:
// total upstream failure degrades to a synthesized answer instead of
// propagating an error.
type Resolution struct {
	Ok         bool              `json:"ok"`
	TierUsed   string            `json:"tier_used"`
	Output     json.RawMessage   `json:"output"`
	Degraded   bool              `json:"degraded"`
	TierErrors map[string]string `json:"tier_errors,omitempty"`
}

// Chain tries an ordered list of providers and degrades gracefully. Tier
// order and count come from configuration; one tier is enough, the
// synthesized default is mandatory.
type Chain struct {
	tiers []provider.Provider
	synth SynthFunc
	log   *slog.Logger
}

// NewChain creates a fallback chain over the given tiers, primary first.
func NewChain(tiers []provider.Provider, synth SynthFunc) (*Chain, error) {
	if len(tiers) == 0 {
		return nil, fmt.Errorf("fallback chain needs at least one tier")
	}
	if synth == nil {
		synth = DefaultSynth
	}
	return &Chain{
		tiers: tiers,
		synth: synth,
		log:   slog.Default().With("component", "fallback"),
	}, nil
}

// Resolve tries each tier in order and returns the first success. When
// every tier fails it returns the synthesized default; this method never
// returns an error.
func (c *Chain) Resolve(ctx context.Context, request json.RawMessage) *Resolution {
	tierErrors := make(map[string]string)

	for i, tier := range c.tiers {
		output, err := tier.Call(ctx, request)
		if err == nil {
			metrics.FallbackResolutions.WithLabelValues(tier.Name()).Inc()
			return &Resolution{
				Ok:         true,
				TierUsed:   tier.Name(),
				Output:     output,
				Degraded:   i > 0,
				TierErrors: tierErrors,
			}
		}

		tierErrors[tier.Name()] = domain.Code(err)
		c.log.Warn("Fallback tier failed",
			"tier", tier.Name(),
			"code", domain.Code(err),
			"error", err)
	}

	metrics.FallbackResolutions.WithLabelValues(DefaultTier).Inc()
	c.log.Warn("All tiers failed, synthesizing default response")

	return &Resolution{
		Ok:         true,
		TierUsed:   DefaultTier,
		Output:     c.synth(request),
		Degraded:   true,
		TierErrors: tierErrors,
	}
}

// DefaultSynth wraps the request in a minimal degraded-response envelope.
func DefaultSynth(request json.RawMessage) json.RawMessage {
	envelope := struct {
		Source  string          `json:"source"`
		Message string          `json:"message"`
		Request json.RawMessage `json:"request"`
	}{
		Source:  DefaultTier,
		Message: "all providers unavailable, returning synthesized response",
		Request: request,
	}

	out, err := json.Marshal(envelope)
	if err != nil {
		// Request was not valid JSON; fall back to a static envelope.
		return json.RawMessage(`{"source":"fallback-default","message":"all providers unavailable"}`)
	}
	return out
}
