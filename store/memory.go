package store

import (
	"context"
	"hash/fnv"
	"sync"
	"time"
)

const shardCount = 16

// Memory is an in-process Store sharded by key hash. Each shard holds its
// own lock, so contention is limited to keys that hash to the same shard.
type Memory[T any] struct {
	shards [shardCount]*memoryShard[T]

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
}

type memoryShard[T any] struct {
	mu      sync.Mutex
	entries map[string]*memoryEntry[T]
}

type memoryEntry[T any] struct {
	state     T
	expiresAt time.Time
}

// NewMemory creates an in-memory store. cleanupInterval bounds how often
// expired entries are swept; zero disables the sweeper (entries still expire
// lazily on access).
func NewMemory[T any](cleanupInterval time.Duration) *Memory[T] {
	m := &Memory[T]{stopCleanup: make(chan struct{})}
	for i := range m.shards {
		m.shards[i] = &memoryShard[T]{entries: make(map[string]*memoryEntry[T])}
	}

	if cleanupInterval > 0 {
		m.cleanupTicker = time.NewTicker(cleanupInterval)
		go func() {
			for {
				select {
				case <-m.cleanupTicker.C:
					m.sweep()
				case <-m.stopCleanup:
					return
				}
			}
		}()
	}

	return m
}

func (m *Memory[T]) shardFor(key string) *memoryShard[T] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Update implements Store.
func (m *Memory[T]) Update(ctx context.Context, key string, ttl time.Duration, fn func(state *T) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	now := time.Now()
	entry, ok := shard.entries[key]
	if !ok || (!entry.expiresAt.IsZero() && now.After(entry.expiresAt)) {
		entry = &memoryEntry[T]{}
		shard.entries[key] = entry
	}

	fnErr := fn(&entry.state)
	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	} else {
		entry.expiresAt = time.Time{}
	}
	return fnErr
}

// Get implements Store.
func (m *Memory[T]) Get(ctx context.Context, key string) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}

	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	entry, ok := shard.entries[key]
	if !ok {
		return zero, false, nil
	}
	if !entry.expiresAt.IsZero() && time.Now().After(entry.expiresAt) {
		delete(shard.entries, key)
		return zero, false, nil
	}
	return entry.state, true, nil
}

// Delete implements Store.
func (m *Memory[T]) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	shard := m.shardFor(key)
	shard.mu.Lock()
	defer shard.mu.Unlock()

	delete(shard.entries, key)
	return nil
}

func (m *Memory[T]) sweep() {
	now := time.Now()
	for _, shard := range m.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
				delete(shard.entries, key)
			}
		}
		shard.mu.Unlock()
	}
}

// Stop halts the background sweeper. Safe to call more than once.
func (m *Memory[T]) Stop() {
	m.stopOnce.Do(func() {
		if m.cleanupTicker != nil {
			m.cleanupTicker.Stop()
		}
		close(m.stopCleanup)
	})
}
