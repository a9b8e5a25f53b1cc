package main

import (
	"context"
	"errors"
	"os/signal"
	"slotswapper/internal/notifier"
	"slotswapper/pkg/config"
	"slotswapper/pkg/kafka"
	kafka_config "slotswapper/pkg/kafka/config"
	kafka_middleware "slotswapper/pkg/kafka/middleware"
	"syscall"
)

const ServiceName = "slotswapper-notifier"

func main() {
	cfg := config.Load(ServiceName)
	cfg.Log.Info("Starting SlotSwapper notifier")

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log)

	n := notifier.NewNotifier(notifier.NewLogSink(cfg.Log), cfg.Log)
	consumer, err := kafka.NewConsumer(kafkaCfg, cfg.Log, cfg.ExchangeEventsTopic, cfg.NotifierGroupID, cfg.EventsDLQTopic, n.Handle)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka consumer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		consumer.Use(kafka_middleware.LoggingConsumerMiddleware(cfg.Log))
		consumer.Use(kafka_middleware.MetricsConsumerMiddleware())
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg.Log.Info("Consuming exchange events",
		"topic", cfg.ExchangeEventsTopic,
		"group_id", cfg.NotifierGroupID,
	)
	if err := consumer.Start(ctx); err != nil && !errors.Is(err, context.Canceled) {
		cfg.Log.Error("Consumer stopped with error", "error", err)
	}

	if err := consumer.Close(); err != nil {
		cfg.Log.Error("Failed to close consumer", "error", err)
	}
	cfg.Log.Info("Notifier stopped")
}
