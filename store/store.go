// Package store provides keyed, mutable state with per-key atomic
// read-modify-write semantics. The rate limiter and the fallback selector
// each own an independent keyspace backed by a Store; backends must not mix
// them.
package store

import (
	"context"
	"time"
)

// Store holds one value of type T per key. Implementations must serialize
// concurrent Update calls for the same key; updates for different keys may
// proceed in parallel.
type Store[T any] interface {
	// Update applies fn to the state under key as a single atomic
	// read-modify-write. fn receives a pointer to the current state (the
	// zero value when the key is absent) and may mutate it in place.
	//
	// The mutated state is written back even when fn returns an error; the
	// error is then returned to the caller. This lets an admission check
	// roll a rate-limit window forward while still rejecting the request.
	Update(ctx context.Context, key string, ttl time.Duration, fn func(state *T) error) error

	// Get returns a copy of the state under key and whether it exists.
	Get(ctx context.Context, key string) (T, bool, error)

	// Delete removes the state under key. Deleting an absent key is not an
	// error.
	Delete(ctx context.Context, key string) error
}
