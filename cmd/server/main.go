// The server binary runs the API gateway.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/api"
	"github.com/veristamp/veristamp/internal/audit"
	"github.com/veristamp/veristamp/internal/config"
	"github.com/veristamp/veristamp/internal/database"
	"github.com/veristamp/veristamp/internal/queue"
	"github.com/veristamp/veristamp/internal/repository"
	"github.com/veristamp/veristamp/internal/s3storage"
)

func main() {
	zcore, err := zap.NewProduction()
	if err != nil {
		os.Exit(1)
	}
	defer zcore.Sync()
	log := zcore.Sugar()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalw("load config", "error", err)
	}

	pool, err := database.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalw("connect database", "error", err)
	}
	defer pool.Close()
	if err := database.EnsureSchema(ctx, pool); err != nil {
		log.Fatalw("ensure schema", "error", err)
	}

	store, err := s3storage.New(cfg)
	if err != nil {
		log.Fatalw("init storage", "error", err)
	}
	if err := store.EnsureBucket(ctx); err != nil {
		log.Fatalw("ensure bucket", "error", err)
	}

	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer asynqClient.Close()

	trail := audit.New(repository.NewAuditRepository(pool), log)
	srv := api.New(cfg, api.Deps{
		Media:      repository.NewMediaRepository(pool),
		Analyses:   repository.NewAnalysisRepository(pool),
		Certs:      repository.NewCertificateRepository(pool),
		Keys:       repository.NewAPIKeyRepository(pool),
		Objects:    store,
		Dispatcher: queue.NewQueue(asynqClient),
		Audit:      trail,
	}, log)

	if err := srv.Run(ctx); err != nil {
		log.Errorw("server stopped", "error", err)
		os.Exit(1)
	}
}
