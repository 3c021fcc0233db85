package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/cache"
	"github.com/pitcar/leadtime/internal/config"
	"github.com/pitcar/leadtime/internal/db"
	"github.com/pitcar/leadtime/internal/kafka"
	"github.com/pitcar/leadtime/internal/leadtime"
	"github.com/pitcar/leadtime/internal/logger"
	"github.com/pitcar/leadtime/internal/repository/postgresql"
	"github.com/pitcar/leadtime/internal/server"
	"github.com/pitcar/leadtime/internal/storage"
	"github.com/pitcar/leadtime/internal/workflow"
	"github.com/pitcar/leadtime/internal/workshop"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logger.New(cfg.Log.Level, cfg.Log.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := db.Migrate(cfg.DB.URL("pgx")); err != nil {
		log.Fatal("failed to migrate database", zap.Error(err))
	}

	dbPool, err := db.NewDb(ctx, cfg.DB.DSN(), cfg.DB.MaxConns)
	if err != nil {
		log.Fatal("database init error", zap.Error(err))
	}
	defer dbPool.Close()

	userRepo := postgresql.NewUserRepo(dbPool)
	if cfg.Admin.Username != "" {
		created, err := userRepo.EnsureUser(ctx, cfg.Admin.Username, cfg.Admin.Password, string(workflow.RoleAdmin))
		if err != nil {
			log.Fatal("failed to ensure admin user", zap.Error(err))
		}
		if created {
			log.Info("admin user created", zap.String("username", cfg.Admin.Username))
		}
	}

	outboxRepo := postgresql.NewOutboxTaskRepo(cfg.Outbox.MaxAttempts)
	stg := storage.NewStorage(
		dbPool,
		postgresql.NewOrderRepo(dbPool),
		postgresql.NewHistoryRepo(dbPool),
		postgresql.NewAttendanceRepo(dbPool),
		outboxRepo,
		cfg.Kafka.Topic,
	)

	orderCache := cache.NewOrderCache(stg, log)
	if err := orderCache.LoadInitialData(ctx); err != nil {
		log.Fatal("failed to warm order cache", zap.Error(err))
	}

	engine := leadtime.NewEngine(leadtime.DefaultSchedule(cfg.Location))
	svc := workshop.New(stg, orderCache, engine, cfg.Standards, workshop.Options{
		BatchSize: cfg.Recompute.BatchSize,
		Workers:   cfg.Recompute.Workers,
	}, log)

	var producer kafka.Producer
	if len(cfg.Kafka.Brokers) > 0 {
		producer = kafka.NewWriterProducer(cfg.Kafka.Brokers, log)
	} else {
		log.Warn("KAFKA_BROKERS is empty, order events will only be logged")
		producer = kafka.NewLogProducer(log)
	}
	publisher := kafka.NewPublisher(dbPool, outboxRepo, producer, kafka.PublisherConfig{
		PollInterval: cfg.Outbox.PollInterval,
		BatchSize:    cfg.Outbox.BatchSize,
		MaxAttempts:  cfg.Outbox.MaxAttempts,
	}, log.Named("outbox"))
	go publisher.Run(ctx)

	srv := server.New(svc, userRepo, log)
	go func() {
		if err := srv.Run(ctx, cfg.HTTPPort); err != nil {
			log.Error("server stopped", zap.Error(err))
			cancel()
		}
	}()

	<-ctx.Done()
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server shutdown failed", zap.Error(err))
	}
	publisher.Shutdown()

	log.Info("service stopped")
}
