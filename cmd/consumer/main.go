package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/pitcar/leadtime/internal/config"
	"github.com/pitcar/leadtime/internal/logger"
	"github.com/pitcar/leadtime/internal/repository"
)

const groupID = "service-order-events-consumer"

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
	log = log.Named("consumer")
	defer func() { _ = log.Sync() }()

	if len(cfg.Kafka.Brokers) == 0 {
		log.Error("KAFKA_BROKERS is empty, nothing to consume")
		os.Exit(1)
	}

	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        groupID,
		Topic:          cfg.Kafka.Topic,
		MinBytes:       10e3,
		MaxBytes:       10e6,
		CommitInterval: time.Second,
		MaxWait:        3 * time.Second,
	})
	defer func() {
		if err := r.Close(); err != nil {
			log.Error("error closing kafka reader", zap.Error(err))
		}
	}()

	log.Info("consumer connected", zap.String("topic", cfg.Kafka.Topic), zap.Strings("brokers", cfg.Kafka.Brokers))

	for {
		m, err := r.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, context.Canceled) {
				log.Info("shutdown signal received, stopping consumer")
				return
			}
			log.Error("error reading message", zap.Error(err))
			time.Sleep(5 * time.Second)
			continue
		}

		var event repository.OrderEventPayload
		if err := json.Unmarshal(m.Value, &event); err != nil {
			log.Warn("skipping malformed event",
				zap.Int64("offset", m.Offset),
				zap.ByteString("value", m.Value),
				zap.Error(err),
			)
			continue
		}

		log.Info("order event",
			zap.Int("partition", m.Partition),
			zap.Int64("offset", m.Offset),
			zap.String("order_id", event.OrderID),
			zap.String("action", event.Action),
			zap.String("actor", event.Actor),
			zap.String("stage", event.Stage),
			zap.Float64("total_lead_time_hours", event.TotalLeadTime),
			zap.Float64("net_lead_time_hours", event.NetLeadTime),
			zap.Time("occurred_at", event.OccurredAt),
		)
	}
}
