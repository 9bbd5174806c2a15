package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/vietddude/shield/internal/infra/store"
)

// Config holds Redis connection configuration.
type Config struct {
	URL       string `yaml:"url"`
	Password  string `yaml:"password"`
	KeyPrefix string `yaml:"key_prefix"`
}

// Store implements store.Store on top of Redis. Incr maps to INCR,
// SetNX to SET NX EX, and Update to an optimistic WATCH/MULTI/EXEC
// transaction retried on contention.
type Store struct {
	rdb    *redis.Client
	prefix string
}

// casAttempts bounds optimistic retries in Update before giving up.
const casAttempts = 16

// NewStore connects to Redis and verifies the connection.
func NewStore(cfg Config) (*Store, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis URL: %w", err)
	}
	if cfg.Password != "" {
		opts.Password = cfg.Password
	}

	rdb := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = "shield"
	}

	return &Store{rdb: rdb, prefix: prefix}, nil
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.rdb.Close()
}

func (s *Store) key(key string) string {
	return s.prefix + ":" + key
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	val, err := s.rdb.Get(ctx, s.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get failed: %w", err)
	}
	return val, true, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(key), value, ttl).Err(); err != nil {
		return fmt.Errorf("set failed: %w", err)
	}
	return nil
}

func (s *Store) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	ok, err := s.rdb.SetNX(ctx, s.key(key), value, ttl).Result()
	if err != nil {
		return false, fmt.Errorf("setnx failed: %w", err)
	}
	return ok, nil
}

func (s *Store) Incr(ctx context.Context, key string) (int64, error) {
	n, err := s.rdb.Incr(ctx, s.key(key)).Result()
	if err != nil {
		return 0, fmt.Errorf("incr failed: %w", err)
	}
	return n, nil
}

func (s *Store) Update(ctx context.Context, key string, ttl time.Duration, fn store.UpdateFunc) error {
	k := s.key(key)

	txn := func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, k).Bytes()
		found := true
		if errors.Is(err, redis.Nil) {
			current, found = nil, false
		} else if err != nil {
			return fmt.Errorf("get failed: %w", err)
		}

		next, err := fn(current, found)
		if err != nil {
			return err
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, k, next, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < casAttempts; i++ {
		err := s.rdb.Watch(ctx, txn, k)
		if errors.Is(err, redis.TxFailedErr) {
			continue // key changed under us, retry
		}
		return err
	}
	return fmt.Errorf("update of %s did not converge after %d attempts", key, casAttempts)
}

func (s *Store) Delete(ctx context.Context, key string) error {
	return s.rdb.Del(ctx, s.key(key)).Err()
}
