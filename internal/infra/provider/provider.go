package provider

import (
	"context"
	"encoding/json"
)

// Provider is a named remote capability: it takes a request payload and
// returns output or a classified error. Deterministic fakes satisfying
// this interface substitute for real upstreams in tests.
type Provider interface {
	Name() string
	Call(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
}

// Func adapts a plain function into a Provider.
type Func struct {
	ProviderName string
	Fn           func(ctx context.Context, request json.RawMessage) (json.RawMessage, error)
}

func (f Func) Name() string {
	return f.ProviderName
}

func (f Func) Call(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	return f.Fn(ctx, request)
}
