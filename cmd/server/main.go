package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"secretly.share/config"
	"secretly.share/internal/api"
	"secretly.share/internal/jobs"
	"secretly.share/internal/lifecycle"
	"secretly.share/internal/pkg/logger"
	"secretly.share/internal/storage/postgres"
	"secretly.share/internal/store"
	"secretly.share/internal/sweep"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config error: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.Format); err != nil {
		fmt.Fprintf(os.Stderr, "logger error: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg); err != nil {
		logger.Fatal("server exited", zap.Error(err))
	}
}

func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	st, pool, err := initStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	stopSweep, err := startSweep(ctx, cfg, st, pool)
	if err != nil {
		return err
	}
	defer stopSweep()

	router := api.SetupRouter(st, cfg, logger.L())

	server := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	logger.Info("server starting",
		zap.String("addr", cfg.Addr()),
		zap.String("base_url", cfg.Server.BaseURL),
		zap.String("store", cfg.Store.Type),
		zap.Duration("ttl", cfg.Secrets.TTL),
		zap.Stringer("log_level", logger.GetLevel()),
	)

	errCh := make(chan error, 1)
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// initStore builds the configured backend. The pool is non-nil only for
// postgres, where the River sweeper shares it.
func initStore(ctx context.Context, cfg *config.Config) (store.Store, *pgxpool.Pool, error) {
	policy := lifecycle.Policy{TTL: cfg.Secrets.TTL}

	switch cfg.Store.Type {
	case config.StoreRedis:
		st, err := store.NewRedisStore(&redis.Options{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		}, policy, cfg.Sweep.Retention)
		if err != nil {
			return nil, nil, fmt.Errorf("redis connection failed: %w", err)
		}
		return st, nil, nil

	case config.StorePostgres:
		connectCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()

		pool, err := postgres.NewPool(connectCtx, postgres.Options{
			URL:      cfg.Store.Postgres.URL,
			MaxConns: cfg.Store.Postgres.MaxConns,
			MinConns: cfg.Store.Postgres.MinConns,
		})
		if err != nil {
			return nil, nil, err
		}
		if cfg.Store.Postgres.AutoMigrate {
			if err := postgres.Migrate(connectCtx, pool); err != nil {
				pool.Close()
				return nil, nil, err
			}
		}
		st, err := store.NewPostgresStore(pool, policy, store.ConsumeStrategy(cfg.Store.Postgres.Consume))
		if err != nil {
			pool.Close()
			return nil, nil, err
		}
		return st, st.Pool(), nil

	case config.StoreSQLite:
		st, err := store.NewSQLiteStore(cfg.Store.SQLite.Path, policy)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil

	case config.StoreBolt:
		st, err := store.NewBoltStore(cfg.Store.Bolt.Path, policy)
		if err != nil {
			return nil, nil, err
		}
		return st, nil, nil

	default:
		logger.Warn("using in-memory store; secrets are lost on restart")
		return store.NewMemoryStore(policy), nil, nil
	}
}

// startSweep starts the configured purge driver and returns its stop func.
func startSweep(ctx context.Context, cfg *config.Config, st store.Store, pool *pgxpool.Pool) (func(), error) {
	if !cfg.Sweep.Enabled {
		logger.Info("sweep disabled")
		return func() {}, nil
	}

	if cfg.Sweep.Driver == config.SweepRiver {
		if err := jobs.Migrate(ctx, pool); err != nil {
			return nil, err
		}
		client, err := jobs.NewClient(pool, jobs.NewSweepWorker(st, cfg.Sweep.Retention), cfg.Sweep.Interval)
		if err != nil {
			return nil, err
		}
		// Stop drives shutdown so in-flight sweeps can finish.
		if err := client.Start(context.WithoutCancel(ctx)); err != nil {
			return nil, fmt.Errorf("start river client: %w", err)
		}
		logger.Info("sweep scheduled with river", zap.Duration("interval", cfg.Sweep.Interval))
		return func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := client.Stop(stopCtx); err != nil {
				logger.Warn("river stop failed", zap.Error(err))
			}
		}, nil
	}

	sw := sweep.New(st, cfg.Sweep.Interval, cfg.Sweep.Retention, logger.L())
	sw.Start(ctx)
	return sw.Stop, nil
}
