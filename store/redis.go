package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// txRetries bounds how many times an optimistic transaction is replayed when
// another writer touches the key mid-update.
const txRetries = 8

// Redis is a Store backed by a shared Redis instance. State is stored as
// JSON under prefix+key with the TTL supplied per update; the atomic
// read-modify-write uses WATCH-based optimistic transactions.
type Redis[T any] struct {
	client *redis.Client
	prefix string
}

// NewRedis creates a Redis-backed store. prefix namespaces the keyspace so
// independent stores (rate-limit state, failure state) can share one
// instance without colliding.
func NewRedis[T any](client *redis.Client, prefix string) *Redis[T] {
	return &Redis[T]{client: client, prefix: prefix}
}

func (r *Redis[T]) key(key string) string {
	return r.prefix + key
}

// Update implements Store.
func (r *Redis[T]) Update(ctx context.Context, key string, ttl time.Duration, fn func(state *T) error) error {
	fullKey := r.key(key)
	var fnErr error

	txn := func(tx *redis.Tx) error {
		var state T
		raw, err := tx.Get(ctx, fullKey).Bytes()
		switch {
		case err == nil:
			if err := json.Unmarshal(raw, &state); err != nil {
				return fmt.Errorf("decode state for %s: %w", fullKey, err)
			}
		case errors.Is(err, redis.Nil):
			// absent key starts from the zero state
		default:
			return err
		}

		fnErr = fn(&state)

		encoded, err := json.Marshal(&state)
		if err != nil {
			return fmt.Errorf("encode state for %s: %w", fullKey, err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, fullKey, encoded, ttl)
			return nil
		})
		return err
	}

	for i := 0; i < txRetries; i++ {
		err := r.client.Watch(ctx, txn, fullKey)
		if err == nil {
			return fnErr
		}
		if errors.Is(err, redis.TxFailedErr) {
			fnErr = nil
			continue
		}
		return err
	}
	return fmt.Errorf("state update for %s kept colliding after %d attempts", fullKey, txRetries)
}

// Get implements Store.
func (r *Redis[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var state T
	raw, err := r.client.Get(ctx, r.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return state, false, nil
	}
	if err != nil {
		return state, false, err
	}
	if err := json.Unmarshal(raw, &state); err != nil {
		return state, false, fmt.Errorf("decode state for %s: %w", r.key(key), err)
	}
	return state, true, nil
}

// Delete implements Store.
func (r *Redis[T]) Delete(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.key(key)).Err()
}
