package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/sony/gobreaker/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"ppi-control/internal/domain"
)

func newTestLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestBreakerStorePassesThrough(t *testing.T) {
	b := NewBreakerStore(NewMemoryStore(), BreakerConfig{}, newTestLogger())
	ctx := context.Background()

	rec, err := b.Insert(ctx, domain.CollectionTasks, domain.Record{"title": "x"})
	require.NoError(t, err)

	got, err := b.Update(ctx, domain.CollectionTasks, rec.ID(), domain.Record{"title": "y"})
	require.NoError(t, err)
	assert.Equal(t, "y", got["title"])

	recs, err := b.Query(ctx, domain.CollectionTasks, domain.Query{})
	require.NoError(t, err)
	assert.Len(t, recs, 1)

	deleted, err := b.Delete(ctx, domain.CollectionTasks, rec.ID())
	require.NoError(t, err)
	assert.Equal(t, rec.ID(), deleted.ID())
}

func TestBreakerStoreOpensAfterFaults(t *testing.T) {
	inner := NewMemoryStore()
	calls := 0
	inner.SetFault(func(string, string) error {
		calls++
		return errors.New("connection refused")
	})
	b := NewBreakerStore(inner, BreakerConfig{MaxFailures: 3, Timeout: 5 * time.Second}, newTestLogger())
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := b.Query(ctx, domain.CollectionTasks, domain.Query{})
		require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	}
	assert.Equal(t, 3, calls)
	assert.Equal(t, gobreaker.StateOpen, b.State())

	_, err := b.Query(ctx, domain.CollectionTasks, domain.Query{})
	require.ErrorIs(t, err, domain.ErrStoreUnavailable)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, 3, calls, "store must not be reached while open")
}

func TestBreakerStoreIgnoresBusinessErrors(t *testing.T) {
	b := NewBreakerStore(NewMemoryStore(), BreakerConfig{MaxFailures: 2}, newTestLogger())
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		_, err := b.Update(ctx, domain.CollectionTasks, "missing", domain.Record{"x": 1})
		require.ErrorIs(t, err, domain.ErrNotFound)
	}
	assert.Equal(t, gobreaker.StateClosed, b.State())
}

func TestBreakerStoreRecoversAfterTimeout(t *testing.T) {
	inner := NewMemoryStore()
	failing := true
	inner.SetFault(func(string, string) error {
		if failing {
			return errors.New("down")
		}
		return nil
	})
	b := NewBreakerStore(inner, BreakerConfig{MaxFailures: 1, Timeout: 50 * time.Millisecond}, newTestLogger())
	ctx := context.Background()

	_, err := b.Query(ctx, domain.CollectionTasks, domain.Query{})
	require.Error(t, err)
	require.Equal(t, gobreaker.StateOpen, b.State())

	failing = false
	time.Sleep(80 * time.Millisecond)

	_, err = b.Query(ctx, domain.CollectionTasks, domain.Query{})
	require.NoError(t, err)
	assert.Equal(t, gobreaker.StateClosed, b.State())
}
