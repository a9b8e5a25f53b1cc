package config

import "time"

const (
	DefaultMongoURI          = "mongodb://localhost:27017"
	DefaultMongoDatabaseName = "slotswapper"
	DefaultMongoConnTimeout  = 10 * time.Second

	DefaultStoreBackend = StoreMongo

	DefaultPort     = "8080"
	DefaultLogLevel = "info"

	DefaultIdentityHeader = "X-User-ID"

	DefaultRateLimitRequests = 60
	DefaultRateLimitWindow   = 1 * time.Minute

	DefaultRequestTimeout = 30 * time.Second
	DefaultIdempotencyTTL = 24 * time.Hour
	DefaultMaxRequestSize = 1 * 1024 * 1024 // 1MB

	DefaultReadTimeout     = 15 * time.Second
	DefaultWriteTimeout    = 15 * time.Second
	DefaultIdleTimeout     = 60 * time.Second
	DefaultShutdownTimeout = 30 * time.Second

	DefaultLockTTL           = 20 * time.Second
	DefaultLockWaitTimeout   = 5 * time.Second
	DefaultLockRetryInterval = 25 * time.Millisecond
	DefaultOperationTimeout  = 10 * time.Second

	DefaultEventsEnabled       = false
	DefaultExchangeEventsTopic = "slotswapper-exchange-events"
	DefaultEventsDLQTopic      = "dlq-slotswapper"
	DefaultNotifierGroupID     = "slotswapper-notifier"

	DefaultAuditSchedule = "@every 5m"

	DefaultPaginationLimit = 100
)

const (
	StoreMongo  = "mongo"
	StoreMemory = "memory"
)
