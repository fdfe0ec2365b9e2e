package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"secretly.share/internal/lifecycle"
)

func newTestSQLiteStore(t *testing.T, policy lifecycle.Policy) *SQLiteStore {
	t.Helper()

	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "test.sqlite"), policy)
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLiteStore_SweepCounts(t *testing.T) {
	ctx := context.Background()
	iv := make([]byte, lifecycle.IVLen)

	s := newTestSQLiteStore(t, lifecycle.Policy{TTL: -time.Hour})
	_, err := s.Create(ctx, []byte("expired"), iv)
	require.NoError(t, err)

	n, err := s.Sweep(ctx, time.Hour)
	require.NoError(t, err)
	require.Zero(t, n)

	n, err = s.Sweep(ctx, 0)
	require.NoError(t, err)
	require.EqualValues(t, 1, n)

	var rows int
	require.NoError(t, s.db.QueryRow(`SELECT COUNT(*) FROM secrets`).Scan(&rows))
	require.Zero(t, rows)
}

func TestSQLiteStore_ConsumeLeavesRowAsSoftDelete(t *testing.T) {
	ctx := context.Background()
	s := newTestSQLiteStore(t, lifecycle.Default())

	id, err := s.Create(ctx, []byte("x"), make([]byte, lifecycle.IVLen))
	require.NoError(t, err)
	_, err = s.Consume(ctx, id)
	require.NoError(t, err)

	var views int
	require.NoError(t, s.db.QueryRow(`SELECT views_remaining FROM secrets WHERE id = ?`, id).Scan(&views))
	require.Zero(t, views)
}

func TestSQLiteStore_ClosedIsStorageError(t *testing.T) {
	s := newTestSQLiteStore(t, lifecycle.Default())
	require.NoError(t, s.Close())

	_, err := s.Consume(context.Background(), "x")
	require.True(t, IsStorageError(err))
	require.True(t, IsStorageError(s.Ping(context.Background())))
}
