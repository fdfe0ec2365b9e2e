// Package jobs holds River workers for deployments backed by PostgreSQL.
package jobs

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/riverqueue/river"
	"github.com/riverqueue/river/riverdriver/riverpgxv5"
	"github.com/riverqueue/river/rivermigrate"
	"go.uber.org/zap"

	"secretly.share/internal/pkg/logger"
	"secretly.share/internal/store"
)

// SweepArgs is a periodic maintenance job that purges secrets which can
// no longer be read.
type SweepArgs struct{}

// Kind returns the job kind identifier for the secrets sweep.
func (SweepArgs) Kind() string { return "secrets_sweep" }

// InsertOpts keeps at most one sweep per period in the queue.
func (SweepArgs) InsertOpts() river.InsertOpts {
	return river.InsertOpts{
		Queue:       river.QueueDefault,
		MaxAttempts: 1,
		UniqueOpts: river.UniqueOpts{
			ByPeriod: time.Minute,
			ByQueue:  true,
			ByArgs:   true,
		},
	}
}

// SweepWorker deletes non-retrievable secrets older than the retention.
type SweepWorker struct {
	river.WorkerDefaults[SweepArgs]
	store     store.Store
	retention time.Duration
}

// NewSweepWorker creates a sweep worker. Negative retention is treated
// as zero.
func NewSweepWorker(s store.Store, retention time.Duration) *SweepWorker {
	if retention < 0 {
		retention = 0
	}
	return &SweepWorker{store: s, retention: retention}
}

// Work removes sweepable rows.
func (w *SweepWorker) Work(ctx context.Context, _ *river.Job[SweepArgs]) error {
	if w == nil || w.store == nil {
		return fmt.Errorf("sweep worker is not initialized")
	}

	deleted, err := w.store.Sweep(ctx, w.retention)
	if err != nil {
		return fmt.Errorf("sweep secrets: %w", err)
	}

	logger.Info("secrets sweep completed",
		zap.Int64("deleted_rows", deleted),
		zap.Duration("retention", w.retention),
	)
	return nil
}

// Migrate creates or upgrades River's own tables.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	migrator, err := rivermigrate.New(riverpgxv5.New(pool), nil)
	if err != nil {
		return fmt.Errorf("create river migrator: %w", err)
	}
	res, err := migrator.Migrate(ctx, rivermigrate.DirectionUp, nil)
	if err != nil {
		return fmt.Errorf("river migrate up: %w", err)
	}
	if len(res.Versions) > 0 {
		logger.Info("River migration completed", zap.Int("versions_applied", len(res.Versions)))
	}
	return nil
}

// NewClient builds a River client that runs SweepWorker every interval.
func NewClient(pool *pgxpool.Pool, worker *SweepWorker, interval time.Duration) (*river.Client[pgx.Tx], error) {
	workers := river.NewWorkers()
	if err := river.AddWorkerSafely(workers, worker); err != nil {
		return nil, fmt.Errorf("register sweep worker: %w", err)
	}

	client, err := river.NewClient(riverpgxv5.New(pool), &river.Config{
		Queues: map[string]river.QueueConfig{
			river.QueueDefault: {MaxWorkers: 1},
		},
		Workers: workers,
		PeriodicJobs: []*river.PeriodicJob{
			river.NewPeriodicJob(
				river.PeriodicInterval(interval),
				func() (river.JobArgs, *river.InsertOpts) {
					return SweepArgs{}, nil
				},
				&river.PeriodicJobOpts{RunOnStart: true},
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("create river client: %w", err)
	}
	return client, nil
}
