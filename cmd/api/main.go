package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"escrowflow/activity"
	"escrowflow/auth"
	"escrowflow/config"
	"escrowflow/db"
	"escrowflow/dispute"
	"escrowflow/escrow"
	"escrowflow/milestone"
	"escrowflow/notify"
	"escrowflow/payment"
	"escrowflow/project"
	"escrowflow/sweep"
	"escrowflow/transaction"
)

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("load config")
	}
	if cfg.Environment == "development" {
		log = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).Level(zerolog.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DB.DSN, db.PoolOptions{
		MaxConns:     cfg.DB.MaxConns,
		MinConns:     cfg.DB.MinConns,
		MaxConnLife:  cfg.DB.MaxConnLife,
		HealthPeriod: cfg.DB.HealthPeriod,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("bootstrap database pool")
	}
	defer pool.Close()

	sender := notify.LogSender{Log: log}
	audit := activity.NewPGRecorder(pool)

	authSvc := auth.NewService(auth.NewRepository(pool), cfg.Auth.AccessSecret, cfg.Auth.TokenTTL)
	projects := project.NewRepository(pool)
	escrows := escrow.NewRepository(pool)
	ledger := transaction.NewRepository(pool)

	milestoneRepo := milestone.NewRepository(pool)
	milestones := milestone.NewService(pool, milestoneRepo, escrows, ledger, milestone.Defaults{
		AutoReleaseHours: cfg.Escrow.AutoReleaseHours,
		MaxRevisions:     cfg.Escrow.MaxRevisions,
	})

	disputes := dispute.NewService(pool, dispute.NewRepository(pool), projects, milestoneRepo, payment.LogProvider{Log: log}, sender, log)
	engine := dispute.NewEngine(pool, dispute.NewStore(escrows, projects, ledger), sender, audit, log)

	sweeper := sweep.New(milestones, sweep.Options{
		Interval:    cfg.Sweep.Interval,
		BatchSize:   cfg.Sweep.BatchSize,
		Concurrency: cfg.Sweep.Concurrency,
	}, log)
	go func() {
		if err := sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			log.Error().Err(err).Msg("sweeper stopped")
		}
	}()

	server := &Server{
		authService:      authSvc,
		projectStore:     projects,
		escrowStore:      escrows,
		ledgerStore:      ledger,
		milestoneService: milestones,
		disputeService:   disputes,
		resolver:         engine,
		log:              log,
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port)
	httpServer := &http.Server{
		Addr:              addr,
		Handler:           server.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("http shutdown")
		}
	}()

	log.Info().Str("addr", addr).Str("env", cfg.Environment).Msg("listening")
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal().Err(err).Msg("http server")
	}
}
