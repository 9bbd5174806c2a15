package memory

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/vietddude/shield/internal/infra/store"
)

// Store is an in-process implementation of store.Store. State is lost on
// restart and not shared across instances; production deployments should
// use the Redis-backed store instead.
type Store struct {
	mu      sync.Mutex
	entries map[string]entry
	now     func() time.Time // for testing
}

type entry struct {
	value     []byte
	expiresAt time.Time // zero = no expiry
}

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// SetClock overrides the store's clock. Test helper.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// get returns the live entry for key, dropping it if expired. Caller
// must hold s.mu.
func (s *Store) get(key string) (entry, bool) {
	e, ok := s.entries[key]
	if !ok {
		return entry{}, false
	}
	if !e.expiresAt.IsZero() && !s.now().Before(e.expiresAt) {
		delete(s.entries, key)
		return entry{}, false
	}
	return e, true
}

func (s *Store) put(key string, value []byte, ttl time.Duration) {
	e := entry{value: value}
	if ttl > 0 {
		e.expiresAt = s.now().Add(ttl)
	}
	s.entries[key] = e
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.get(key)
	if !ok {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.put(key, value, ttl)
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.get(key); ok {
		return false, nil
	}
	s.put(key, value, ttl)
	return true, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	if e, ok := s.get(key); ok {
		parsed, err := strconv.ParseInt(string(e.value), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("incr on non-integer value at %s: %w", key, err)
		}
		n = parsed
	}
	n++

	// Preserve the existing expiry, matching Redis INCR semantics.
	e := s.entries[key]
	e.value = []byte(strconv.FormatInt(n, 10))
	s.entries[key] = e
	return n, nil
}

func (s *Store) Update(ctx context.Context, key string, ttl time.Duration, fn store.UpdateFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.get(key)
	next, err := fn(e.value, ok)
	if err != nil {
		return err
	}
	s.put(key, next, ttl)
	return nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.entries, key)
	return nil
}
