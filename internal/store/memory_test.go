package store

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secretly.share/internal/lifecycle"
)

func TestMemoryStore_ExpiryUsesStoreClock(t *testing.T) {
	s := NewMemoryStore(lifecycle.Policy{TTL: time.Minute})
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	id, err := s.Create(context.Background(), []byte("x"), make([]byte, lifecycle.IVLen))
	require.NoError(t, err)

	now = now.Add(time.Minute)
	_, err = s.Consume(context.Background(), id)
	require.ErrorIs(t, err, ErrNotFound, "expires_at is exclusive")
}

func TestMemoryStore_SweepCounts(t *testing.T) {
	s := NewMemoryStore(lifecycle.Default())
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }

	iv := make([]byte, lifecycle.IVLen)
	consumed, err := s.Create(ctx, []byte("a"), iv)
	require.NoError(t, err)
	_, err = s.Consume(ctx, consumed)
	require.NoError(t, err)

	_, err = s.Create(ctx, []byte("b"), iv)
	require.NoError(t, err)

	n, err := s.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	require.Zero(t, n, "consumed secret is still inside retention")

	now = now.Add(2 * time.Hour)
	n, err = s.Sweep(ctx, time.Minute)
	require.NoError(t, err)
	require.EqualValues(t, 2, n, "one exhausted, one expired")
}

func TestMemoryStore_Closed(t *testing.T) {
	s := NewMemoryStore(lifecycle.Default())
	require.NoError(t, s.Close())

	_, err := s.Create(context.Background(), []byte("x"), make([]byte, lifecycle.IVLen))
	require.True(t, IsStorageError(err))

	_, err = s.Consume(context.Background(), "whatever")
	require.True(t, IsStorageError(err))

	require.Error(t, s.Ping(context.Background()))
}

func TestMemoryStore_CancelledContextLeavesCounter(t *testing.T) {
	s := NewMemoryStore(lifecycle.Default())
	id, err := s.Create(context.Background(), []byte("x"), make([]byte, lifecycle.IVLen))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = s.Consume(ctx, id)
	require.True(t, IsStorageError(err))

	p, err := s.Consume(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, []byte("x"), p.Ciphertext)
}
