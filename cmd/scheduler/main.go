package main

import (
	"context"
	"database/sql"
	"os"
	"os/signal"
	"syscall"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/config"
	"github.com/SirClappington/tagq/internal/logging"
	"github.com/SirClappington/tagq/internal/pipeline"
	"github.com/SirClappington/tagq/internal/runner"
	"github.com/SirClappington/tagq/internal/search"
	"github.com/SirClappington/tagq/internal/storage"
)

const leaderLockKey = 7461677

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	log, err := logging.New(cfg.AppEnv, cfg.LogLevel)
	if err != nil {
		panic(err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := storage.Open(cfg.PostgresDSN)
	if err != nil {
		log.Fatal("postgres", zap.Error(err))
	}
	defer db.Close()
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	store := storage.New(db)
	d := pipeline.Deps{
		Queues:   cfg.Queues,
		Redis:    rdb,
		Accounts: store,
		Index:    search.New(db, rdb),
		Log:      log,
	}
	reg, err := pipeline.NewRegistry(d, pipeline.NewQueues(d))
	if err != nil {
		log.Fatal("registry", zap.Error(err))
	}

	if err := waitForLeadership(ctx, db, cfg.Scheduler.PollInterval, log); err != nil {
		return
	}

	log.Info("scheduler running",
		zap.String("queue_backend", cfg.Queues.Backend),
		zap.String("indexing_backend", cfg.Queues.IndexingBackend),
		zap.Duration("poll_interval", cfg.Scheduler.PollInterval))
	if err := runner.New(store, reg, cfg.Scheduler, log).Run(ctx); err != nil && ctx.Err() == nil {
		log.Error("runner stopped", zap.Error(err))
	}
}

// waitForLeadership blocks until this process holds the session advisory lock. The lock is
// held on a dedicated connection for the life of the process.
func waitForLeadership(ctx context.Context, db *sql.DB, every time.Duration, log *zap.Logger) error {
	conn, err := db.Conn(ctx)
	if err != nil {
		return err
	}
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		var ok bool
		if err := conn.QueryRowContext(ctx, "select pg_try_advisory_lock($1)", leaderLockKey).Scan(&ok); err != nil {
			log.Warn("leader lock", zap.Error(err))
		} else if ok {
			log.Info("acquired leadership")
			return nil
		}
		select {
		case <-ctx.Done():
			_ = conn.Close()
			return ctx.Err()
		case <-tick.C:
		}
	}
}
