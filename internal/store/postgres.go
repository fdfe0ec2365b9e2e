package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jackc/pgx/v5/stdlib"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"secretly.share/internal/idgen"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/models"
)

var _ Store = (*PostgresStore)(nil)

// ConsumeStrategy selects how PostgresStore makes the decrement race-free.
type ConsumeStrategy string

const (
	// ConsumeConditional runs a single UPDATE ... WHERE views_remaining > 0 RETURNING.
	ConsumeConditional ConsumeStrategy = "conditional"
	// ConsumeLock holds a row lock across read, evaluate, decrement and commit.
	ConsumeLock ConsumeStrategy = "lock"
)

// Consumer performs the atomic consume-on-read against the database.
type Consumer interface {
	Consume(ctx context.Context, id string) (*models.Payload, error)
}

// PostgresStore keeps secrets in the secrets table. Timestamps and the
// retrievability check use the database clock.
type PostgresStore struct {
	pool     *pgxpool.Pool
	policy   lifecycle.Policy
	consumer Consumer
}

// NewPostgresStore wraps an already migrated pool. The pool stays owned by
// the store and is closed by Close.
func NewPostgresStore(pool *pgxpool.Pool, policy lifecycle.Policy, strategy ConsumeStrategy) (*PostgresStore, error) {
	s := &PostgresStore{pool: pool, policy: policy}

	switch strategy {
	case ConsumeConditional, "":
		s.consumer = &conditionalConsumer{pool: pool}
	case ConsumeLock:
		c, err := newLockConsumer(pool)
		if err != nil {
			return nil, err
		}
		s.consumer = c
	default:
		return nil, fmt.Errorf("unknown consume strategy %q", strategy)
	}

	return s, nil
}

// Pool exposes the connection pool for components sharing it (job queue).
func (s *PostgresStore) Pool() *pgxpool.Pool {
	return s.pool
}

const insertSecretSQL = `
INSERT INTO secrets (id, ciphertext, iv, views_remaining, created_at, expires_at)
VALUES ($1, $2, $3, $4, now(), now() + $5::bigint * interval '1 millisecond')
ON CONFLICT (id) DO NOTHING`

func (s *PostgresStore) Create(ctx context.Context, ciphertext, iv []byte) (string, error) {
	if err := lifecycle.Validate(ciphertext, iv); err != nil {
		return "", err
	}

	for i := 0; i < createAttempts; i++ {
		id := idgen.New()
		tag, err := s.pool.Exec(ctx, insertSecretSQL,
			id, blob(ciphertext), iv, lifecycle.InitialViews, s.policy.TTL.Milliseconds(),
		)
		if err != nil {
			return "", storageErr("create", err)
		}
		if tag.RowsAffected() == 1 {
			return id, nil
		}
	}

	return "", storageErr("create", errDuplicateID)
}

func (s *PostgresStore) Consume(ctx context.Context, id string) (*models.Payload, error) {
	return s.consumer.Consume(ctx, id)
}

const sweepSecretsSQL = `
DELETE FROM secrets
 WHERE (views_remaining <= 0 OR expires_at <= now())
   AND created_at <= now() - $1::bigint * interval '1 millisecond'`

func (s *PostgresStore) Sweep(ctx context.Context, retention time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, sweepSecretsSQL, retention.Milliseconds())
	if err != nil {
		return 0, storageErr("sweep", err)
	}
	return tag.RowsAffected(), nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return storageErr("ping", err)
	}
	return nil
}

func (s *PostgresStore) Close() error {
	if c, ok := s.consumer.(*lockConsumer); ok {
		_ = c.close()
	}
	s.pool.Close()
	return nil
}

type conditionalConsumer struct {
	pool *pgxpool.Pool
}

const consumeSecretSQL = `
UPDATE secrets
   SET views_remaining = views_remaining - 1
 WHERE id = $1
   AND views_remaining > 0
   AND expires_at > now()
RETURNING ciphertext, iv`

func (c *conditionalConsumer) Consume(ctx context.Context, id string) (*models.Payload, error) {
	var p models.Payload
	err := c.pool.QueryRow(ctx, consumeSecretSQL, id).Scan(&p.Ciphertext, &p.IV)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, storageErr("consume", err)
	}
	return &p, nil
}

// secretRow maps the secrets table for gorm.
type secretRow struct {
	ID             string    `gorm:"column:id;primaryKey"`
	Ciphertext     []byte    `gorm:"column:ciphertext"`
	IV             []byte    `gorm:"column:iv"`
	ViewsRemaining int       `gorm:"column:views_remaining"`
	CreatedAt      time.Time `gorm:"column:created_at"`
	ExpiresAt      time.Time `gorm:"column:expires_at"`
}

func (secretRow) TableName() string { return "secrets" }

type lockConsumer struct {
	db *gorm.DB
}

func newLockConsumer(pool *pgxpool.Pool) (*lockConsumer, error) {
	sqlDB := stdlib.OpenDBFromPool(pool)
	db, err := gorm.Open(postgres.New(postgres.Config{Conn: sqlDB}), &gorm.Config{
		Logger:                 gormlogger.Default.LogMode(gormlogger.Silent),
		SkipDefaultTransaction: true,
	})
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("open gorm: %w", err)
	}
	return &lockConsumer{db: db}, nil
}

func (c *lockConsumer) Consume(ctx context.Context, id string) (*models.Payload, error) {
	var payload *models.Payload

	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row secretRow
		err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
			Where("id = ?", id).
			Take(&row).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		var now time.Time
		if err := tx.Raw("SELECT now()").Row().Scan(&now); err != nil {
			return err
		}
		if !lifecycle.Retrievable(row.ViewsRemaining, row.ExpiresAt, now) {
			return ErrNotFound
		}

		err = tx.Model(&secretRow{}).
			Where("id = ?", id).
			Update("views_remaining", gorm.Expr("views_remaining - 1")).Error
		if err != nil {
			return err
		}

		payload = &models.Payload{Ciphertext: row.Ciphertext, IV: row.IV}
		return nil
	})

	switch {
	case errors.Is(err, ErrNotFound):
		return nil, ErrNotFound
	case err != nil:
		return nil, storageErr("consume", err)
	}
	return payload, nil
}

func (c *lockConsumer) close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
