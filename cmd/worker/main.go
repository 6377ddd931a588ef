// The worker binary consumes analysis jobs and drives the state machine.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"

	"github.com/veristamp/veristamp/internal/analysis"
	"github.com/veristamp/veristamp/internal/audit"
	"github.com/veristamp/veristamp/internal/certificate"
	"github.com/veristamp/veristamp/internal/config"
	"github.com/veristamp/veristamp/internal/database"
	"github.com/veristamp/veristamp/internal/detector"
	"github.com/veristamp/veristamp/internal/repository"
	"github.com/veristamp/veristamp/internal/signing"
	"github.com/veristamp/veristamp/internal/worker"
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

	var anchorer certificate.Anchorer = certificate.NoopAnchorer{}
	if cfg.AnchorNetwork != "" {
		anchorer = certificate.SimulatedAnchorer{Network: cfg.AnchorNetwork}
	}

	analysisRepo := repository.NewAnalysisRepository(pool)
	trail := audit.New(repository.NewAuditRepository(pool), log)
	issuer := certificate.NewIssuer(
		repository.NewCertificateRepository(pool),
		anchorer,
		signing.NewSigner(cfg.SigningSecret),
		cfg.AnchorNetwork,
		log,
	)
	engine := analysis.NewEngine(
		repository.NewMediaRepository(pool),
		analysisRepo,
		issuer,
		detector.NewSimulated(cfg.DetectorSeed),
		trail,
		log,
	)

	server := asynq.NewServer(asynq.RedisClientOpt{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}, asynq.Config{
		Concurrency: cfg.Concurrency,
	})
	processor := worker.NewProcessor(engine, log)

	go func() {
		<-ctx.Done()
		server.Shutdown()
	}()

	if err := server.Run(processor.Handler()); err != nil {
		log.Errorw("worker stopped", "error", err)
		os.Exit(1)
	}
}
