package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/vietddude/shield/internal/core/domain"
	"github.com/vietddude/shield/internal/resilience/batch"
	"github.com/vietddude/shield/internal/resilience/breaker"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "error", err)
	}
}

type errorResponse struct {
	Ok        bool   `json:"ok"`
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, errorResponse{Ok: false, ErrorCode: code, Message: msg})
}

type breakerCallRequest struct {
	Service string          `json:"service"`
	Request json.RawMessage `json:"request"`
}

func (s *Server) handleBreakerCall(w http.ResponseWriter, r *http.Request) {
	var req breakerCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid request body")
		return
	}

	p, ok := s.providers[req.Service]
	if !ok {
		writeError(w, http.StatusNotFound, domain.CodeInvalidInput, "unknown service: "+req.Service)
		return
	}

	b := s.breakers.For(req.Service)
	result, err := breaker.Call(r.Context(), b, func(ctx context.Context) (json.RawMessage, error) {
		return p.Call(ctx, req.Request)
	})
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.CodeUpstreamError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type batchProcessRequest struct {
	BatchID string       `json:"batch_id"`
	Items   []batch.Item `json:"items"`
}

func (s *Server) handleBatchProcess(w http.ResponseWriter, r *http.Request) {
	var req batchProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid request body")
		return
	}
	if req.BatchID == "" {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "batch_id is required")
		return
	}

	result, err := s.processor.ProcessBatch(r.Context(), req.BatchID, req.Items)
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.CodeUpstreamError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

type escalateRequest struct {
	Reason  string          `json:"reason"`
	Payload json.RawMessage `json:"payload"`
}

func (s *Server) handleEscalate(w http.ResponseWriter, r *http.Request) {
	var req escalateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid request body")
		return
	}

	result, err := s.gate.Escalate(r.Context(), req.Reason, req.Payload)
	if err != nil {
		writeError(w, http.StatusInternalServerError, domain.CodeUpstreamError, err.Error())
		return
	}

	writeJSON(w, http.StatusAccepted, result)
}

type resumeRequest struct {
	ResumeToken string `json:"resume_token"`
	ResolvedBy  string `json:"resolved_by"`
}

func (s *Server) handleResume(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid request body")
		return
	}

	result, err := s.gate.Resume(r.Context(), req.ResumeToken, req.ResolvedBy)
	if err != nil {
		// Protocol errors surface with their code; they are caller
		// mistakes, not server trouble.
		var ce *domain.ClassifiedError
		if errors.As(err, &ce) && ce.Kind == domain.KindProtocol {
			writeError(w, protocolStatus(ce.Code), ce.Code, ce.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, domain.CodeUpstreamError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func protocolStatus(code string) int {
	switch code {
	case domain.CodeInvalidToken:
		return http.StatusNotFound
	case domain.CodeTokenExpired:
		return http.StatusGone
	case domain.CodeTokenAlreadyUsed:
		return http.StatusConflict
	}
	return http.StatusBadRequest
}

type fallbackResolveRequest struct {
	Request json.RawMessage `json:"request"`
}

func (s *Server) handleFallbackResolve(w http.ResponseWriter, r *http.Request) {
	var req fallbackResolveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, domain.CodeInvalidInput, "invalid request body")
		return
	}

	writeJSON(w, http.StatusOK, s.chain.Resolve(r.Context(), req.Request))
}

type circuitHealth struct {
	Service             string     `json:"service"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	OpenUntil           *time.Time `json:"open_until,omitempty"`
	Open                bool       `json:"open"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	now := time.Now()
	circuits := make([]circuitHealth, 0)
	healthy := true

	for _, service := range s.breakers.Services() {
		failures, openUntil, err := s.breakers.For(service).State(r.Context())
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, domain.CodeUpstreamError, err.Error())
			return
		}
		open := openUntil != nil && now.Before(*openUntil)
		if open {
			healthy = false
		}
		circuits = append(circuits, circuitHealth{
			Service:             service,
			ConsecutiveFailures: failures,
			OpenUntil:           openUntil,
			Open:                open,
		})
	}

	status := http.StatusOK
	if !healthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, map[string]any{
		"healthy":  healthy,
		"circuits": circuits,
	})
}
