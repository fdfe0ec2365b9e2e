package sweep

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secretly.share/internal/lifecycle"
	"secretly.share/internal/store"
)

type recordingStore struct {
	store.Store
	calls     atomic.Int32
	retention atomic.Int64
	err       error
}

func (r *recordingStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	r.calls.Add(1)
	r.retention.Store(int64(retention))
	if r.err != nil {
		return 0, r.err
	}
	return r.Store.Sweep(ctx, retention)
}

func TestRunOnce_DeletesExpired(t *testing.T) {
	mem := store.NewMemoryStore(lifecycle.Policy{TTL: -time.Minute})
	_, err := mem.Create(context.Background(), []byte("x"), make([]byte, lifecycle.IVLen))
	require.NoError(t, err)

	s := New(mem, time.Hour, 0, nil)
	n, err := s.RunOnce(context.Background())
	require.NoError(t, err)
	require.EqualValues(t, 1, n)
}

func TestRunOnce_PropagatesError(t *testing.T) {
	boom := errors.New("boom")
	rs := &recordingStore{Store: store.NewMemoryStore(lifecycle.Default()), err: boom}

	_, err := New(rs, time.Hour, time.Minute, nil).RunOnce(context.Background())
	require.ErrorIs(t, err, boom)
}

func TestStartStop_Ticks(t *testing.T) {
	rs := &recordingStore{Store: store.NewMemoryStore(lifecycle.Default())}
	s := New(rs, 10*time.Millisecond, 5*time.Minute, nil)

	s.Start(context.Background())
	require.Eventually(t, func() bool { return rs.calls.Load() >= 2 }, 2*time.Second, 5*time.Millisecond)
	s.Stop()
	s.Stop()

	after := rs.calls.Load()
	time.Sleep(50 * time.Millisecond)
	require.Equal(t, after, rs.calls.Load(), "no sweeps after Stop")
	require.Equal(t, int64(5*time.Minute), rs.retention.Load())
}

func TestStop_WithoutStart(t *testing.T) {
	New(store.NewMemoryStore(lifecycle.Default()), time.Second, 0, nil).Stop()
}
