package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/vietddude/shield/internal/infra/storage"
)

// BatchResultRepo implements BatchResultRepository using PostgreSQL.
type BatchResultRepo struct {
	db *sqlx.DB
}

func NewBatchResultRepo(db *DB) *BatchResultRepo {
	return &BatchResultRepo{db: db.DB}
}

func (r *BatchResultRepo) Get(ctx context.Context, key string) (*storage.BatchRecord, error) {
	query := `
		SELECT key, batch_id, item_id, success, attempts, failure_reason, output, final, updated_at
		FROM batch_results
		WHERE key = $1
	`
	var rec storage.BatchRecord
	err := r.db.GetContext(ctx, &rec, query, key)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get batch result: %w", err)
	}
	return &rec, nil
}

// Save upserts the record. Finalized rows win any race: the conflict
// update only applies while the stored row is still non-final.
func (r *BatchResultRepo) Save(ctx context.Context, rec *storage.BatchRecord) error {
	query := `
		INSERT INTO batch_results
			(key, batch_id, item_id, success, attempts, failure_reason, output, final, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (key) DO UPDATE
		SET success = EXCLUDED.success,
		    attempts = EXCLUDED.attempts,
		    failure_reason = EXCLUDED.failure_reason,
		    output = EXCLUDED.output,
		    final = EXCLUDED.final,
		    updated_at = NOW()
		WHERE batch_results.final = FALSE
	`
	_, err := r.db.ExecContext(ctx, query,
		rec.Key, rec.BatchID, rec.ItemID, rec.Success, rec.Attempts,
		rec.FailureReason, rec.Output, rec.Final)
	if err != nil {
		return fmt.Errorf("failed to save batch result: %w", err)
	}
	return nil
}
