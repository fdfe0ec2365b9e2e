// Package sweep periodically removes secrets that can no longer be read.
// It runs beside the request path and never touches retrievable secrets.
package sweep

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"secretly.share/internal/store"
)

type Sweeper struct {
	store     store.Store
	interval  time.Duration
	retention time.Duration
	log       *zap.Logger

	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

func New(s store.Store, interval, retention time.Duration, log *zap.Logger) *Sweeper {
	if log == nil {
		log = zap.NewNop()
	}
	return &Sweeper{
		store:     s,
		interval:  interval,
		retention: retention,
		log:       log,
	}
}

// Start launches the sweep loop. It returns immediately.
func (s *Sweeper) Start(ctx context.Context) {
	ctx, s.cancel = context.WithCancel(ctx)
	s.done = make(chan struct{})
	go s.loop(ctx)
}

// Stop halts the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.once.Do(func() {
		if s.cancel == nil {
			return
		}
		s.cancel()
		<-s.done
	})
}

func (s *Sweeper) loop(ctx context.Context) {
	defer close(s.done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = s.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single sweep.
func (s *Sweeper) RunOnce(ctx context.Context) (int64, error) {
	deleted, err := s.store.Sweep(ctx, s.retention)
	if err != nil {
		s.log.Error("sweep failed", zap.Error(err))
		return 0, err
	}
	if deleted > 0 {
		s.log.Info("sweep completed",
			zap.Int64("deleted_rows", deleted),
			zap.Duration("retention", s.retention),
		)
	}
	return deleted, nil
}
