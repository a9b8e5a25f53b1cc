package kafka_config

import "time"

const (
	DefaultKafkaBrokers = "localhost:9092"

	// Exchange events are published synchronously after commit, inside the
	// engine's publish timeout, so a failed write is seen and counted.
	DefaultProducerMaxAttempts  = 3
	DefaultProducerBatchTimeout = 5 * time.Millisecond
	DefaultProducerWriteTimeout = 3 * time.Second
	DefaultProducerRequireAcks  = -1
	DefaultProducerCompression  = "snappy"

	// A new notifier group starts from the oldest retained event so parties
	// are told about exchanges opened before the first deploy.
	DefaultConsumerStartOffset       = -2
	DefaultConsumerMinBytes          = 1
	DefaultConsumerMaxBytes          = 1 * 1024 * 1024 // events are a few hundred bytes
	DefaultConsumerMaxWait           = 500 * time.Millisecond
	DefaultConsumerCommitInterval    = 0 // synchronous commits
	DefaultConsumerHeartbeatInterval = 3 * time.Second
	DefaultConsumerSessionTimeout    = 10 * time.Second
	DefaultConsumerRebalanceTimeout  = 30 * time.Second
	DefaultConsumerMaxRetries        = 3
	DefaultConsumerRetryBackoff      = 200 * time.Millisecond

	DefaultEnableMiddleware = true
)
