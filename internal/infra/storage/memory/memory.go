package memory

import (
	"context"
	"sync"
	"time"

	"github.com/vietddude/shield/internal/infra/storage"
)

// MemoryStorage backs the repositories with in-process maps. State is
// lost on restart; use the Postgres implementation when escalations and
// batch results must survive the process.
type MemoryStorage struct {
	tokens  map[string]*storage.TokenRecord
	results map[string]*storage.BatchRecord
	mu      sync.Mutex
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		tokens:  make(map[string]*storage.TokenRecord),
		results: make(map[string]*storage.BatchRecord),
	}
}

// -----------------------------------------------------------------------------
// Token Repository
// -----------------------------------------------------------------------------

type TokenRepo struct {
	store *MemoryStorage
}

func NewTokenRepo(store *MemoryStorage) *TokenRepo {
	return &TokenRepo{store: store}
}

func (r *TokenRepo) Create(ctx context.Context, rec *storage.TokenRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	cp := *rec
	r.store.tokens[rec.Token] = &cp
	return nil
}

func (r *TokenRepo) Get(ctx context.Context, token string) (*storage.TokenRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.tokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *TokenRepo) Resolve(ctx context.Context, token, resolvedBy string, now time.Time) (*storage.TokenRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	rec, ok := r.store.tokens[token]
	if !ok {
		return nil, storage.ErrTokenNotFound
	}
	if !now.Before(rec.ExpiresAt) {
		return nil, storage.ErrTokenExpired
	}
	if rec.ResolvedAt != nil {
		return nil, storage.ErrTokenResolved
	}

	resolved := now
	rec.ResolvedAt = &resolved
	rec.ResolvedBy = resolvedBy
	cp := *rec
	return &cp, nil
}

func (r *TokenRepo) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	removed := 0
	for token, rec := range r.store.tokens {
		if !now.Before(rec.ExpiresAt) {
			delete(r.store.tokens, token)
			removed++
		}
	}
	return removed, nil
}

// -----------------------------------------------------------------------------
// Batch Result Repository
// -----------------------------------------------------------------------------

type BatchResultRepo struct {
	store *MemoryStorage
}

func NewBatchResultRepo(store *MemoryStorage) *BatchResultRepo {
	return &BatchResultRepo{store: store}
}

func (r *BatchResultRepo) Get(ctx context.Context, key string) (*storage.BatchRecord, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	rec, ok := r.store.results[key]
	if !ok {
		return nil, nil
	}
	cp := *rec
	return &cp, nil
}

func (r *BatchResultRepo) Save(ctx context.Context, rec *storage.BatchRecord) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()
	if existing, ok := r.store.results[rec.Key]; ok && existing.Final {
		return nil // finalized results are immutable
	}
	cp := *rec
	r.store.results[rec.Key] = &cp
	return nil
}
