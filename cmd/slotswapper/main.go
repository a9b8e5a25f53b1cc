package main

import (
	"context"
	"slotswapper/internal/exchanges/audit"
	"slotswapper/internal/exchanges/events"
	exchangehandler "slotswapper/internal/exchanges/handler"
	"slotswapper/internal/exchanges/repository"
	exchangeservice "slotswapper/internal/exchanges/service"
	exchangevalidator "slotswapper/internal/exchanges/validator"
	slothandler "slotswapper/internal/slots/handler"
	slotservice "slotswapper/internal/slots/service"
	slotvalidator "slotswapper/internal/slots/validator"
	"slotswapper/pkg/app"
	"slotswapper/pkg/config"
	"slotswapper/pkg/kafka"
	kafka_config "slotswapper/pkg/kafka/config"
	kafka_middleware "slotswapper/pkg/kafka/middleware"
	"slotswapper/pkg/lock"
)

const ServiceName = "slotswapper"

func main() {
	cfg := config.Load(ServiceName)
	cfg.Log.Info("Starting SlotSwapper service")

	store, locker := initStore(cfg)
	publisher := initPublisher(cfg)

	auditor := audit.NewAuditor(store, cfg.Log)
	if err := auditor.Start(cfg.AuditSchedule); err != nil {
		cfg.Log.Fatal("Failed to schedule invariant audit", "error", err)
	}

	serverApp := newApplication(cfg, store, locker, publisher)
	serverApp.OnShutdown(auditor.Stop)
	serverApp.OnShutdown(func() {
		if err := publisher.Close(); err != nil {
			cfg.Log.Error("Failed to close event publisher", "error", err)
		}
	})
	if cfg.UsesMongo() {
		serverApp.OnShutdown(cfg.GracefulShutdown)
	}
	serverApp.Run()
}

// newApplication wires both services over one store and one locker, so slot
// edits and exchanges serialize on the same per-slot locks.
func newApplication(cfg *config.Config, store repository.Store, locker lock.Locker, publisher events.Publisher) *app.Application {
	exchangeService := exchangeservice.NewExchangeService(store, locker, publisher, cfg)
	slotService := slotservice.NewSlotService(store.Slots(), locker, slotvalidator.NewSlotValidator(cfg.Log), cfg)
	cfg.Log.Info("Slot and exchange services initialized", "store_backend", cfg.StoreBackend)

	serverApp := app.NewApplication(cfg)
	serverApp.SetApp(
		exchangehandler.NewHealthHandler(store, cfg.Log),
		exchangehandler.NewExchangeHandler(exchangeService, exchangevalidator.NewExchangeValidator(cfg.Log), cfg.Log),
		slothandler.NewSlotHandler(slotService, slotvalidator.NewSlotValidator(cfg.Log), cfg.Log),
	)
	return serverApp
}

func initStore(cfg *config.Config) (repository.Store, lock.Locker) {
	if !cfg.UsesMongo() {
		cfg.Log.Warn("Using the in-memory store; state is lost on restart and not shared between replicas")
		return repository.NewMemoryStore(), lock.NewKeyedMutex(cfg.LockWaitTimeout)
	}

	cfg.SetMongo()
	ctx, cancel := context.WithTimeout(context.Background(), cfg.MongoConnTimeout)
	defer cancel()
	store := repository.NewMongoStore(cfg)
	if err := store.Ping(ctx); err != nil {
		cfg.Log.Fatal("Failed to reach MongoDB", "error", err)
	}
	return store, repository.NewMongoSlotLocker(cfg)
}

func initPublisher(cfg *config.Config) events.Publisher {
	if !cfg.EventsEnabled {
		cfg.Log.Info("Exchange events disabled")
		return events.NopPublisher{}
	}

	kafkaCfg, err := kafka_config.Load()
	if err != nil {
		cfg.Log.Fatal("Invalid Kafka configuration", "error", err)
	}
	kafkaCfg.LogConfiguration(cfg.Log)

	producer, err := kafka.NewProducer(kafkaCfg, cfg.Log, cfg.ExchangeEventsTopic, cfg.EventsDLQTopic)
	if err != nil {
		cfg.Log.Fatal("Failed to create Kafka producer", "error", err)
	}
	if kafkaCfg.EnableMiddleware {
		producer.Use(kafka_middleware.LoggingProducerMiddleware(cfg.Log))
		producer.Use(kafka_middleware.MetricsProducerMiddleware())
	}

	cfg.Log.Info("Exchange events enabled", "topic", cfg.ExchangeEventsTopic)
	return events.NewKafkaPublisher(producer, ServiceName)
}
