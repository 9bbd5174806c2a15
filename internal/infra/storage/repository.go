package storage

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var (
	// ErrTokenNotFound is returned when a resume token does not exist.
	ErrTokenNotFound = errors.New("token not found")

	// ErrTokenResolved is returned when a resume token was already used.
	ErrTokenResolved = errors.New("token already resolved")

	// ErrTokenExpired is returned when a resume token is past its expiry.
	ErrTokenExpired = errors.New("token expired")
)

// TokenRecord is a suspended unit of work awaiting a human decision.
type TokenRecord struct {
	Token      string          `json:"token"       db:"token"`
	Payload    json.RawMessage `json:"payload"     db:"payload"`
	Reason     string          `json:"reason"      db:"reason"`
	CreatedAt  time.Time       `json:"created_at"  db:"created_at"`
	ExpiresAt  time.Time       `json:"expires_at"  db:"expires_at"`
	ResolvedAt *time.Time      `json:"resolved_at" db:"resolved_at"`
	ResolvedBy string          `json:"resolved_by" db:"resolved_by"`
}

// TokenRepository handles escalation token storage
type TokenRepository interface {
	// Create stores a new token record
	Create(ctx context.Context, rec *TokenRecord) error

	// Get retrieves the record for a token, or ErrTokenNotFound
	Get(ctx context.Context, token string) (*TokenRecord, error)

	// Resolve marks the token used, atomically. Of concurrent calls
	// with the same token exactly one succeeds; the rest get
	// ErrTokenResolved. Expired tokens get ErrTokenExpired.
	Resolve(ctx context.Context, token, resolvedBy string, now time.Time) (*TokenRecord, error)

	// DeleteExpired removes tokens past expiry and returns how many
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// BatchRecord is the finalized (or last known) outcome for one batch
// item, keyed by idempotency key.
type BatchRecord struct {
	Key           string          `json:"key"            db:"key"`
	BatchID       string          `json:"batch_id"       db:"batch_id"`
	ItemID        string          `json:"item_id"        db:"item_id"`
	Success       bool            `json:"success"        db:"success"`
	Attempts      int             `json:"attempts"       db:"attempts"`
	FailureReason string          `json:"failure_reason" db:"failure_reason"`
	Output        json.RawMessage `json:"output"         db:"output"`
	Final         bool            `json:"final"          db:"final"`
	UpdatedAt     time.Time       `json:"updated_at"     db:"updated_at"`
}

// BatchResultRepository handles per-item batch outcome storage
type BatchResultRepository interface {
	// Get retrieves the record for a key, or nil if none exists
	Get(ctx context.Context, key string) (*BatchRecord, error)

	// Save upserts a record. A record already marked final must not be
	// overwritten.
	Save(ctx context.Context, rec *BatchRecord) error
}
