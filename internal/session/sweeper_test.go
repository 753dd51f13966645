package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestSweep_ClosesOnlySessionsOverCeiling(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()

	now := time.Date(2025, 3, 10, 12, 0, 0, 0, time.UTC)
	m.now = func() time.Time { return now }

	require.NoError(t, store.Create(ctx, "stale", now.Add(-1801*time.Second)))
	require.NoError(t, store.Create(ctx, "fresh", now.Add(-1799*time.Second)))

	sweeper := NewSweeper(m, 1800*time.Second, time.Minute, time.Second, zap.NewNop())
	require.NoError(t, sweeper.Sweep(ctx))

	stale, err := store.Get(ctx, "stale")
	require.NoError(t, err)
	assert.NotNil(t, stale.EndTime, "session over the ceiling must be closed")

	fresh, err := store.Get(ctx, "fresh")
	require.NoError(t, err)
	assert.Nil(t, fresh.EndTime, "session under the ceiling must stay open")
}

func TestSweep_ClearsCurrentPointerWhenCurrentIsStale(t *testing.T) {
	store := newMemStore()
	m := newTestManager(store)
	ctx := context.Background()

	id, err := m.Start(ctx)
	require.NoError(t, err)

	// Pretend the session has been running past the ceiling.
	m.now = func() time.Time { return time.Now().Add(31 * time.Minute) }

	sweeper := NewSweeper(m, 30*time.Minute, time.Minute, time.Second, zap.NewNop())
	require.NoError(t, sweeper.Sweep(ctx))

	s, err := store.Get(ctx, id)
	require.NoError(t, err)
	assert.NotNil(t, s.EndTime)
	assert.Empty(t, m.Current(), "sweeping the current session clears the pointer")
}

func TestSweep_PropagatesStoreErrors(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("connection refused")
	m := newTestManager(store)

	sweeper := NewSweeper(m, 30*time.Minute, time.Minute, time.Second, zap.NewNop())
	err := sweeper.Sweep(context.Background())
	assert.Error(t, err)
}

func TestSweep_NoOpenSessions(t *testing.T) {
	m := newTestManager(newMemStore())
	sweeper := NewSweeper(m, 30*time.Minute, time.Minute, time.Second, zap.NewNop())
	assert.NoError(t, sweeper.Sweep(context.Background()))
}

func TestRun_StopsOnContextCancel(t *testing.T) {
	m := newTestManager(newMemStore())
	sweeper := NewSweeper(m, 30*time.Minute, 5*time.Millisecond, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop after cancellation")
	}
}

func TestRun_SurvivesFailingIterations(t *testing.T) {
	store := newMemStore()
	store.listErr = errors.New("database down")
	m := newTestManager(store)
	sweeper := NewSweeper(m, 30*time.Minute, time.Millisecond, time.Millisecond, zap.NewNop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sweeper.Run(ctx)
		close(done)
	}()

	// Several failing iterations must not kill the loop.
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper loop died instead of backing off")
	}
}
