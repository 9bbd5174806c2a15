package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/shield/internal/infra/storage"
)

// TokenRepo implements TokenRepository using PostgreSQL.
type TokenRepo struct {
	db *sqlx.DB
}

func NewTokenRepo(db *DB) *TokenRepo {
	return &TokenRepo{db: db.DB}
}

func (r *TokenRepo) Create(ctx context.Context, rec *storage.TokenRecord) error {
	query := `
		INSERT INTO escalation_tokens (token, payload, reason, created_at, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.Token, rec.Payload, rec.Reason, rec.CreatedAt, rec.ExpiresAt)
	if err != nil {
		return fmt.Errorf("failed to insert token: %w", err)
	}
	return nil
}

func (r *TokenRepo) Get(ctx context.Context, token string) (*storage.TokenRecord, error) {
	query := `
		SELECT token, payload, reason, created_at, expires_at, resolved_at, resolved_by
		FROM escalation_tokens
		WHERE token = $1
	`
	var rec storage.TokenRecord
	err := r.db.GetContext(ctx, &rec, query, token)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrTokenNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get token: %w", err)
	}
	return &rec, nil
}

// Resolve marks the token used. The WHERE clause makes the single-use
// guarantee a property of the database: only one concurrent update can
// match the unresolved row.
func (r *TokenRepo) Resolve(ctx context.Context, token, resolvedBy string, now time.Time) (*storage.TokenRecord, error) {
	query := `
		UPDATE escalation_tokens
		SET resolved_at = $2, resolved_by = $3
		WHERE token = $1 AND resolved_at IS NULL AND expires_at > $2
		RETURNING token, payload, reason, created_at, expires_at, resolved_at, resolved_by
	`
	var rec storage.TokenRecord
	err := r.db.GetContext(ctx, &rec, query, token, now, resolvedBy)
	if err == nil {
		return &rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to resolve token: %w", err)
	}

	// No row matched; fetch the token to report why.
	existing, getErr := r.Get(ctx, token)
	if getErr != nil {
		return nil, getErr
	}
	if existing.ResolvedAt != nil {
		return nil, storage.ErrTokenResolved
	}
	return nil, storage.ErrTokenExpired
}

func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := r.db.ExecContext(ctx,
		"DELETE FROM escalation_tokens WHERE expires_at <= $1", now)
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired tokens: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
