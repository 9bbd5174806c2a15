package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrorKind determines how a failure is handled by the resilience layers.
type ErrorKind int

const (
	// KindRetryable is a transient upstream failure (rate limiting, 5xx, network).
	KindRetryable ErrorKind = iota

	// KindFatal cannot be fixed by retrying (quota exhausted, bad credentials, malformed input).
	KindFatal

	// KindExhausted is a retryable failure that survived every allowed attempt.
	KindExhausted

	// KindProtocol is misuse of a component's state machine (invalid/expired/reused token).
	KindProtocol
)

// String returns the wire name of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindRetryable:
		return "retryable"
	case KindFatal:
		return "fatal"
	case KindExhausted:
		return "exhausted"
	case KindProtocol:
		return "protocol"
	}
	return "unknown"
}

// Closed set of failure codes reported in per-item and per-call results.
const (
	CodeRateLimited      = "rate_limited"
	CodeQuotaExceeded    = "quota_exceeded"
	CodeUpstreamError    = "upstream_error"
	CodeInvalidInput     = "invalid_input"
	CodeCircuitOpen      = "circuit_open"
	CodeInFlight         = "in_flight"
	CodeInvalidToken     = "invalid_token"
	CodeTokenExpired     = "token_expired"
	CodeTokenAlreadyUsed = "token_already_used"
)

// ClassifiedError tags a failure with a kind and a code from the closed set.
type ClassifiedError struct {
	Kind ErrorKind
	Code string
	Err  error
}

func (e *ClassifiedError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s (%s)", e.Code, e.Kind)
	}
	return fmt.Sprintf("%s (%s): %v", e.Code, e.Kind, e.Err)
}

func (e *ClassifiedError) Unwrap() error {
	return e.Err
}

// Retryable wraps err as a transient failure.
func Retryable(code string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindRetryable, Code: code, Err: err}
}

// Fatal wraps err as a failure that must not be retried.
func Fatal(code string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindFatal, Code: code, Err: err}
}

// Exhausted tags err as a retryable failure that used up all attempts.
func Exhausted(err error) *ClassifiedError {
	code := CodeUpstreamError
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		code = ce.Code
	}
	return &ClassifiedError{Kind: KindExhausted, Code: code, Err: err}
}

// Protocol wraps err as a state machine misuse error.
func Protocol(code string, err error) *ClassifiedError {
	return &ClassifiedError{Kind: KindProtocol, Code: code, Err: err}
}

// Classifier maps an arbitrary error to a kind.
type Classifier func(err error) ErrorKind

// Classify determines the kind of err. Errors already carrying a
// ClassifiedError keep their tag; anything else falls through to the
// best-effort string classifier.
func Classify(err error) ErrorKind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return ClassifyMessage(err)
}

// Code extracts the failure code from err, or upstream_error for
// untagged failures.
func Code(err error) string {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Code
	}
	return CodeUpstreamError
}

// ClassifyMessage inspects the error text of failures coming from
// foreign clients that do not tag their errors. Tagged errors should
// never reach this path.
func ClassifyMessage(err error) ErrorKind {
	if err == nil {
		return KindRetryable
	}

	s := strings.ToLower(err.Error())

	// Structurally unfixable (quota, auth, bad request)
	if strings.Contains(s, "quota") || strings.Contains(s, "plan limit") ||
		strings.Contains(s, "invalid api key") || strings.Contains(s, "unauthorized") ||
		strings.Contains(s, "forbidden") || strings.Contains(s, "400") {
		return KindFatal
	}

	// Transient (rate limits, 5xx, network)
	if strings.Contains(s, "429") || strings.Contains(s, "too many requests") ||
		strings.Contains(s, "rate limit") || strings.Contains(s, "timeout") ||
		strings.Contains(s, "503") || strings.Contains(s, "overloaded") {
		return KindRetryable
	}

	// Default to retryable (network, 5xx, etc)
	return KindRetryable
}
