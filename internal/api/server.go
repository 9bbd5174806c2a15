package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vietddude/shield/internal/infra/provider"
	"github.com/vietddude/shield/internal/resilience/batch"
	"github.com/vietddude/shield/internal/resilience/breaker"
	"github.com/vietddude/shield/internal/resilience/escalate"
	"github.com/vietddude/shield/internal/resilience/fallback"
)

// Server exposes the resilience primitives over JSON HTTP, plus health
// and Prometheus metrics endpoints.
type Server struct {
	breakers  *breaker.Registry
	providers map[string]provider.Provider
	processor *batch.Processor
	gate      *escalate.Gate
	chain     *fallback.Chain
	server    *http.Server
}

// NewServer creates the call-surface server.
func NewServer(
	port int,
	breakers *breaker.Registry,
	providers map[string]provider.Provider,
	processor *batch.Processor,
	gate *escalate.Gate,
	chain *fallback.Chain,
) *Server {
	mux := http.NewServeMux()
	s := &Server{
		breakers:  breakers,
		providers: providers,
		processor: processor,
		gate:      gate,
		chain:     chain,
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
	}

	mux.HandleFunc("POST /v1/breaker/call", s.handleBreakerCall)
	mux.HandleFunc("POST /v1/batch/process", s.handleBatchProcess)
	mux.HandleFunc("POST /v1/escalations", s.handleEscalate)
	mux.HandleFunc("POST /v1/escalations/resume", s.handleResume)
	mux.HandleFunc("POST /v1/fallback/resolve", s.handleFallbackResolve)
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.Handler())

	return s
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	return s.server.ListenAndServe()
}

// Stop stops the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}
