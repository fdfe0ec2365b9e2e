// Package storetest is a conformance suite run against every store.Store
// backend.
package storetest

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"secretly.share/internal/lifecycle"
	"secretly.share/internal/models"
	"secretly.share/internal/store"
)

// Factory returns a fresh store built with policy. The factory owns
// cleanup (t.Cleanup).
type Factory func(t *testing.T, policy lifecycle.Policy) store.Store

var (
	ciphertext = []byte("encrypted_secret_data")
	iv         = []byte("0123456789ab")
)

type config struct {
	nativeExpiry bool
}

// Option adjusts the suite for a backend.
type Option func(*config)

// WithNativeExpiry is for backends whose Sweep is a no-op because the
// server expires records itself; deleted-row counts are not checked.
func WithNativeExpiry() Option {
	return func(c *config) { c.nativeExpiry = true }
}

// Run executes the full suite.
func Run(t *testing.T, newStore Factory, opts ...Option) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, newStore) })
	t.Run("SecondConsumeNotFound", func(t *testing.T) { testSecondConsume(t, newStore) })
	t.Run("UnknownID", func(t *testing.T) { testUnknownID(t, newStore) })
	t.Run("ConcurrentConsumers", func(t *testing.T) { testConcurrentConsumers(t, newStore) })
	t.Run("ConcurrentDistinctIDs", func(t *testing.T) { testConcurrentDistinctIDs(t, newStore) })
	t.Run("ExpiredNotFound", func(t *testing.T) { testExpired(t, newStore) })
	t.Run("NoResurrection", func(t *testing.T) { testNoResurrection(t, newStore) })
	t.Run("ValidationRejected", func(t *testing.T) { testValidation(t, newStore) })
	t.Run("EmptyCiphertext", func(t *testing.T) { testEmptyCiphertext(t, newStore) })
	t.Run("MaxCiphertext", func(t *testing.T) { testMaxCiphertext(t, newStore) })
	t.Run("Sweep", func(t *testing.T) { testSweep(t, newStore, cfg) })
	t.Run("Ping", func(t *testing.T) { testPing(t, newStore) })
}

func mustCreate(t *testing.T, s store.Store, ct, nonce []byte) string {
	t.Helper()
	id, err := s.Create(context.Background(), ct, nonce)
	require.NoError(t, err)
	require.NotEmpty(t, id)
	return id
}

func testRoundTrip(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())
	id := mustCreate(t, s, ciphertext, iv)

	got, err := s.Consume(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, ciphertext, got.Ciphertext)
	assert.Equal(t, iv, got.IV)
}

func testSecondConsume(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())
	id := mustCreate(t, s, ciphertext, iv)

	_, err := s.Consume(context.Background(), id)
	require.NoError(t, err)

	_, err = s.Consume(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testUnknownID(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())

	_, err := s.Consume(context.Background(), "does-not-exist-at-all")
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testConcurrentConsumers(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())

	for _, n := range []int{1, 2, 16, 64} {
		id := mustCreate(t, s, ciphertext, iv)

		var (
			wg        sync.WaitGroup
			start     = make(chan struct{})
			mu        sync.Mutex
			delivered []*models.Payload
			notFound  int
			failures  []error
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				<-start
				p, err := s.Consume(context.Background(), id)

				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					delivered = append(delivered, p)
				case errors.Is(err, store.ErrNotFound):
					notFound++
				default:
					failures = append(failures, err)
				}
			}()
		}
		close(start)
		wg.Wait()

		require.Empty(t, failures, "n=%d", n)
		require.Len(t, delivered, 1, "n=%d: exactly one consumer must receive the payload", n)
		require.Equal(t, n-1, notFound, "n=%d", n)
		assert.Equal(t, ciphertext, delivered[0].Ciphertext)
	}
}

func testConcurrentDistinctIDs(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())

	const n = 16
	ids := make([]string, n)
	for i := range ids {
		ids[i] = mustCreate(t, s, []byte{byte(i), 'x'}, iv)
	}

	var wg sync.WaitGroup
	errs := make([]error, n)
	got := make([][]byte, n)
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id string) {
			defer wg.Done()
			p, err := s.Consume(context.Background(), id)
			errs[i] = err
			if p != nil {
				got[i] = p.Ciphertext
			}
		}(i, id)
	}
	wg.Wait()

	for i := range ids {
		require.NoError(t, errs[i])
		assert.True(t, bytes.Equal([]byte{byte(i), 'x'}, got[i]))
	}
}

func testExpired(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Policy{TTL: -time.Hour})
	id := mustCreate(t, s, ciphertext, iv)

	for i := 0; i < 3; i++ {
		_, err := s.Consume(context.Background(), id)
		require.ErrorIs(t, err, store.ErrNotFound)
	}
}

func testNoResurrection(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())
	id := mustCreate(t, s, ciphertext, iv)

	_, err := s.Consume(context.Background(), id)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := s.Consume(context.Background(), id)
		require.ErrorIs(t, err, store.ErrNotFound)
	}

	// A sweep in between must not bring it back either.
	_, err = s.Sweep(context.Background(), 0)
	require.NoError(t, err)

	_, err = s.Consume(context.Background(), id)
	require.ErrorIs(t, err, store.ErrNotFound)
}

func testValidation(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())
	ctx := context.Background()

	_, err := s.Create(ctx, ciphertext, make([]byte, lifecycle.IVLen-1))
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	_, err = s.Create(ctx, ciphertext, make([]byte, lifecycle.IVLen+1))
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	_, err = s.Create(ctx, make([]byte, lifecycle.MaxCiphertextLen+1), iv)
	require.ErrorIs(t, err, lifecycle.ErrValidation)

	_, err = s.Create(ctx, ciphertext, nil)
	require.ErrorIs(t, err, lifecycle.ErrValidation)
	assert.False(t, store.IsStorageError(err))
}

func testEmptyCiphertext(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())

	for _, ct := range [][]byte{nil, {}} {
		id := mustCreate(t, s, ct, iv)

		got, err := s.Consume(context.Background(), id)
		require.NoError(t, err)
		assert.Empty(t, got.Ciphertext)
		assert.Equal(t, iv, got.IV)

		_, err = s.Consume(context.Background(), id)
		require.ErrorIs(t, err, store.ErrNotFound)
	}
}

func testMaxCiphertext(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())

	big := bytes.Repeat([]byte{0xAB}, lifecycle.MaxCiphertextLen)
	id := mustCreate(t, s, big, iv)

	got, err := s.Consume(context.Background(), id)
	require.NoError(t, err)
	assert.True(t, bytes.Equal(big, got.Ciphertext))
}

func testSweep(t *testing.T, newStore Factory, cfg config) {
	ctx := context.Background()

	expired := newStore(t, lifecycle.Policy{TTL: -time.Hour})
	mustCreate(t, expired, ciphertext, iv)
	n, err := expired.Sweep(ctx, 0)
	require.NoError(t, err)
	if !cfg.nativeExpiry {
		assert.GreaterOrEqual(t, n, int64(1), "expired row must be purged")
	}

	s := newStore(t, lifecycle.Default())
	consumed := mustCreate(t, s, ciphertext, iv)
	_, err = s.Consume(ctx, consumed)
	require.NoError(t, err)
	live := mustCreate(t, s, ciphertext, iv)

	// Inside the retention window nothing is purged and nothing changes.
	_, err = s.Sweep(ctx, time.Hour)
	require.NoError(t, err)

	n, err = s.Sweep(ctx, 0)
	require.NoError(t, err)
	if !cfg.nativeExpiry {
		assert.GreaterOrEqual(t, n, int64(1), "exhausted row must be purged")
	}

	_, err = s.Consume(ctx, consumed)
	require.ErrorIs(t, err, store.ErrNotFound)

	got, err := s.Consume(ctx, live)
	require.NoError(t, err, "sweep must not touch retrievable secrets")
	assert.Equal(t, ciphertext, got.Ciphertext)
}

func testPing(t *testing.T, newStore Factory) {
	s := newStore(t, lifecycle.Default())
	require.NoError(t, s.Ping(context.Background()))
}
