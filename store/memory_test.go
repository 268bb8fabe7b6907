package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type counter struct {
	N int
}

func TestMemory_UpdateCreatesState(t *testing.T) {
	st := NewMemory[counter](0)
	t.Cleanup(st.Stop)
	ctx := context.Background()

	err := st.Update(ctx, "k", 0, func(state *counter) error {
		state.N++
		return nil
	})
	require.NoError(t, err)

	got, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, got.N)
}

func TestMemory_GetMissingKey(t *testing.T) {
	st := NewMemory[counter](0)
	t.Cleanup(st.Stop)

	_, ok, err := st.Get(context.Background(), "absent")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_UpdatePersistsOnFnError(t *testing.T) {
	st := NewMemory[counter](0)
	t.Cleanup(st.Stop)
	ctx := context.Background()

	// the mutation sticks even when fn rejects
	sentinel := errors.New("rejected")
	err := st.Update(ctx, "k", 0, func(state *counter) error {
		state.N = 7
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)

	got, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 7, got.N)
}

func TestMemory_TTLExpiry(t *testing.T) {
	st := NewMemory[counter](0)
	t.Cleanup(st.Stop)
	ctx := context.Background()

	require.NoError(t, st.Update(ctx, "k", 10*time.Millisecond, func(state *counter) error {
		state.N = 1
		return nil
	}))

	require.Eventually(t, func() bool {
		_, ok, err := st.Get(ctx, "k")
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)

	// an update after expiry starts from the zero state
	require.NoError(t, st.Update(ctx, "k", 0, func(state *counter) error {
		assert.Equal(t, 0, state.N)
		state.N++
		return nil
	}))
}

func TestMemory_SweeperRemovesExpiredEntries(t *testing.T) {
	st := NewMemory[counter](5 * time.Millisecond)
	t.Cleanup(st.Stop)
	ctx := context.Background()

	require.NoError(t, st.Update(ctx, "k", time.Millisecond, func(state *counter) error {
		state.N = 1
		return nil
	}))

	require.Eventually(t, func() bool {
		_, ok, err := st.Get(ctx, "k")
		return err == nil && !ok
	}, time.Second, 5*time.Millisecond)
}

func TestMemory_Delete(t *testing.T) {
	st := NewMemory[counter](0)
	t.Cleanup(st.Stop)
	ctx := context.Background()

	require.NoError(t, st.Update(ctx, "k", 0, func(state *counter) error {
		state.N = 3
		return nil
	}))
	require.NoError(t, st.Delete(ctx, "k"))

	_, ok, err := st.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestMemory_ConcurrentUpdatesAreAtomic(t *testing.T) {
	st := NewMemory[counter](0)
	t.Cleanup(st.Stop)
	ctx := context.Background()

	const workers = 50
	const perWorker = 20

	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perWorker; j++ {
				_ = st.Update(ctx, "shared", 0, func(state *counter) error {
					state.N++
					return nil
				})
			}
		}()
	}
	wg.Wait()

	got, ok, err := st.Get(ctx, "shared")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, workers*perWorker, got.N)
}

func TestMemory_CancelledContext(t *testing.T) {
	st := NewMemory[counter](0)
	t.Cleanup(st.Stop)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := st.Update(ctx, "k", 0, func(*counter) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)

	_, _, err = st.Get(ctx, "k")
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemory_StopIsIdempotent(t *testing.T) {
	st := NewMemory[counter](time.Minute)
	st.Stop()
	st.Stop()
}
