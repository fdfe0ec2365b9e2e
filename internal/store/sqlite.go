package store

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"secretly.share/internal/idgen"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/models"
	"secretly.share/internal/storage/sqlite"
)

var _ Store = (*SQLiteStore)(nil)

// SQLiteStore consumes with a single conditional UPDATE ... RETURNING.
// SQLite takes the write lock before evaluating the WHERE clause, so
// concurrent consumers are serialised on the row.
type SQLiteStore struct {
	db     *sql.DB
	policy lifecycle.Policy
}

// NewSQLiteStore opens and migrates the database at path.
func NewSQLiteStore(path string, policy lifecycle.Policy) (*SQLiteStore, error) {
	db, err := sqlite.Open(path)
	if err != nil {
		return nil, storageErr("open", err)
	}
	if err := sqlite.Migrate(db); err != nil {
		_ = db.Close()
		return nil, storageErr("migrate", err)
	}
	return &SQLiteStore{db: db, policy: policy}, nil
}

var (
	sqliteInsertSQL = `
INSERT INTO secrets (id, ciphertext, iv, views_remaining, created_at, expires_at)
VALUES (?, ?, ?, ?, ` + sqlite.NowMillis + `, ` + sqlite.NowMillis + ` + ?)
ON CONFLICT (id) DO NOTHING`

	sqliteConsumeSQL = `
UPDATE secrets
   SET views_remaining = views_remaining - 1
 WHERE id = ?
   AND views_remaining > 0
   AND expires_at > ` + sqlite.NowMillis + `
RETURNING ciphertext, iv`

	sqliteSweepSQL = `
DELETE FROM secrets
 WHERE (views_remaining <= 0 OR expires_at <= ` + sqlite.NowMillis + `)
   AND created_at <= ` + sqlite.NowMillis + ` - ?`
)

func (s *SQLiteStore) Create(ctx context.Context, ciphertext, iv []byte) (string, error) {
	if err := lifecycle.Validate(ciphertext, iv); err != nil {
		return "", err
	}

	for i := 0; i < createAttempts; i++ {
		id := idgen.New()
		res, err := s.db.ExecContext(ctx, sqliteInsertSQL,
			id, blob(ciphertext), iv, lifecycle.InitialViews, s.policy.TTL.Milliseconds(),
		)
		if err != nil {
			return "", storageErr("create", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return "", storageErr("create", err)
		}
		if n == 1 {
			return id, nil
		}
	}

	return "", storageErr("create", errDuplicateID)
}

func (s *SQLiteStore) Consume(ctx context.Context, id string) (*models.Payload, error) {
	var p models.Payload
	err := s.db.QueryRowContext(ctx, sqliteConsumeSQL, id).Scan(&p.Ciphertext, &p.IV)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("consume", err)
	}
	return &p, nil
}

func (s *SQLiteStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	res, err := s.db.ExecContext(ctx, sqliteSweepSQL, retention.Milliseconds())
	if err != nil {
		return 0, storageErr("sweep", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, storageErr("sweep", err)
	}
	return n, nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
