package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vietddude/shield/internal/core/domain"
)

// Config holds settings for an HTTP provider tier.
type Config struct {
	Name    string        `yaml:"name"`
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Timeout time.Duration `yaml:"timeout"`
}

// HTTPProvider calls a JSON-over-HTTP upstream and classifies its
// failures into the closed error-kind set.
type HTTPProvider struct {
	name       string
	endpoint   string
	apiKey     string
	httpClient *http.Client
}

// NewHTTPProvider creates a new HTTP-based provider.
func NewHTTPProvider(cfg Config) *HTTPProvider {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &HTTPProvider{
		name:     cfg.Name,
		endpoint: cfg.URL,
		apiKey:   cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 10,
				IdleConnTimeout:     90 * time.Second,
			},
		},
	}
}

func (p *HTTPProvider) Name() string {
	return p.name
}

// Call POSTs the request payload and returns the response body.
func (p *HTTPProvider) Call(ctx context.Context, request json.RawMessage) (json.RawMessage, error) {
	req, err := http.NewRequestWithContext(ctx, "POST", p.endpoint, bytes.NewReader(request))
	if err != nil {
		return nil, domain.Fatal(domain.CodeInvalidInput, fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, domain.Retryable(domain.CodeUpstreamError, fmt.Errorf("call %s: %w", p.name, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Retryable(domain.CodeUpstreamError, fmt.Errorf("read response from %s: %w", p.name, err))
	}

	if err := classifyStatus(resp.StatusCode, p.name); err != nil {
		return nil, err
	}
	return body, nil
}

// classifyStatus maps an HTTP status to the closed error-kind set.
func classifyStatus(status int, name string) error {
	switch {
	case status < 300:
		return nil
	case status == http.StatusTooManyRequests:
		return domain.Retryable(domain.CodeRateLimited,
			fmt.Errorf("provider %s rate limited (429)", name))
	case status == http.StatusPaymentRequired || status == http.StatusForbidden:
		return domain.Fatal(domain.CodeQuotaExceeded,
			fmt.Errorf("provider %s quota exhausted (%d)", name, status))
	case status == http.StatusUnauthorized || status == http.StatusBadRequest:
		return domain.Fatal(domain.CodeInvalidInput,
			fmt.Errorf("provider %s rejected request (%d)", name, status))
	case status >= 500:
		return domain.Retryable(domain.CodeUpstreamError,
			fmt.Errorf("provider %s upstream error (%d)", name, status))
	default:
		return domain.Fatal(domain.CodeUpstreamError,
			fmt.Errorf("provider %s unexpected status %d", name, status))
	}
}
