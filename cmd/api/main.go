package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/SirClappington/tagq/internal/api"
	"github.com/SirClappington/tagq/internal/config"
	"github.com/SirClappington/tagq/internal/logging"
	"github.com/SirClappington/tagq/internal/pipeline"
	"github.com/SirClappington/tagq/internal/search"
	"github.com/SirClappington/tagq/internal/storage"
)

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
	if cfg.MigrateOnStart {
		if err := storage.Migrate(db, cfg.MigrationsDir); err != nil {
			log.Fatal("migrate", zap.Error(err))
		}
	}
	rdb := r.NewClient(&r.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	defer rdb.Close()

	store := storage.New(db)
	qs := pipeline.NewQueues(pipeline.Deps{
		Queues:   cfg.Queues,
		Redis:    rdb,
		Accounts: store,
		Index:    search.New(db, rdb),
		Log:      log,
	})

	srv := &http.Server{Addr: cfg.APIAddr, Handler: api.New(store, qs, log).Routes()}
	go func() {
		<-ctx.Done()
		shutdown, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdown)
	}()

	log.Info("api listening", zap.String("addr", cfg.APIAddr), zap.String("queue_backend", cfg.Queues.Backend))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal("serve", zap.Error(err))
	}
}
