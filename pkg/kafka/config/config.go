package kafka_config

import (
	"fmt"
	"os"
	"slices"
	"slotswapper/pkg/logger"
	"strconv"
	"strings"
	"time"
)

var (
	compressions = []string{"none", "gzip", "snappy", "lz4", "zstd"}
	acks         = []int{-1, 0, 1}
)

type ProducerConfig struct {
	MaxAttempts  int
	BatchTimeout time.Duration
	WriteTimeout time.Duration
	RequireAcks  int    // -1 = all, 0 = none, 1 = leader only
	Compression  string // one of compressions
}

type ConsumerConfig struct {
	StartOffset       int64 // -1 = newest, -2 = oldest
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	CommitInterval    time.Duration // 0 commits each message synchronously
	HeartbeatInterval time.Duration
	SessionTimeout    time.Duration
	RebalanceTimeout  time.Duration
	MaxRetries        int
	RetryBackoff      time.Duration
}

type Config struct {
	Brokers  []string
	Producer ProducerConfig
	Consumer ConsumerConfig

	EnableMiddleware bool
}

// Load reads the Kafka settings from the environment.
func Load() (*Config, error) {
	cfg := &Config{
		Brokers: splitBrokers(getEnvStr(EnvKafkaBrokers, DefaultKafkaBrokers)),
		Producer: ProducerConfig{
			MaxAttempts:  getEnvInt(EnvKafkaProducerMaxAttempts, DefaultProducerMaxAttempts),
			BatchTimeout: getEnvDuration(EnvKafkaProducerBatchTimeout, DefaultProducerBatchTimeout),
			WriteTimeout: getEnvDuration(EnvKafkaProducerWriteTimeout, DefaultProducerWriteTimeout),
			RequireAcks:  getEnvInt(EnvKafkaProducerRequireAcks, DefaultProducerRequireAcks),
			Compression:  strings.ToLower(getEnvStr(EnvKafkaProducerCompression, DefaultProducerCompression)),
		},
		Consumer: ConsumerConfig{
			StartOffset:       int64(getEnvInt(EnvKafkaConsumerStartOffset, DefaultConsumerStartOffset)),
			MinBytes:          getEnvInt(EnvKafkaConsumerMinBytes, DefaultConsumerMinBytes),
			MaxBytes:          getEnvInt(EnvKafkaConsumerMaxBytes, DefaultConsumerMaxBytes),
			MaxWait:           getEnvDuration(EnvKafkaConsumerMaxWait, DefaultConsumerMaxWait),
			CommitInterval:    getEnvDuration(EnvKafkaConsumerCommitInterval, DefaultConsumerCommitInterval),
			HeartbeatInterval: getEnvDuration(EnvKafkaConsumerHeartbeatInterval, DefaultConsumerHeartbeatInterval),
			SessionTimeout:    getEnvDuration(EnvKafkaConsumerSessionTimeout, DefaultConsumerSessionTimeout),
			RebalanceTimeout:  getEnvDuration(EnvKafkaConsumerRebalanceTimeout, DefaultConsumerRebalanceTimeout),
			MaxRetries:        getEnvInt(EnvKafkaConsumerMaxRetries, DefaultConsumerMaxRetries),
			RetryBackoff:      getEnvDuration(EnvKafkaConsumerRetryBackoff, DefaultConsumerRetryBackoff),
		},
		EnableMiddleware: getEnvBool(EnvKafkaEnableMiddleware, DefaultEnableMiddleware),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func splitBrokers(raw string) []string {
	var brokers []string
	for _, b := range strings.Split(raw, ",") {
		brokers = append(brokers, strings.TrimSpace(b))
	}
	return brokers
}

func (cfg *Config) Validate() error {
	var errors []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			errors = append(errors, fmt.Sprintf(format, args...))
		}
	}

	check(len(cfg.Brokers) > 0, "At least one Kafka broker is required")
	for i, broker := range cfg.Brokers {
		check(broker != "", "Broker %d cannot be empty", i)
	}

	p := cfg.Producer
	check(p.MaxAttempts > 0, "Producer.MaxAttempts must be positive, got: %d", p.MaxAttempts)
	check(p.BatchTimeout > 0, "Producer.BatchTimeout must be positive, got: %s", p.BatchTimeout)
	check(p.WriteTimeout > 0, "Producer.WriteTimeout must be positive, got: %s", p.WriteTimeout)
	check(slices.Contains(compressions, p.Compression), "Producer.Compression must be one of %v, got: %s", compressions, p.Compression)
	check(slices.Contains(acks, p.RequireAcks), "Producer.RequireAcks must be one of %v, got: %d", acks, p.RequireAcks)

	c := cfg.Consumer
	check(c.StartOffset >= -2, "Consumer.StartOffset must be -1 (newest), -2 (oldest), or >= 0, got: %d", c.StartOffset)
	check(c.MinBytes > 0, "Consumer.MinBytes must be positive, got: %d", c.MinBytes)
	check(c.MaxBytes >= c.MinBytes, "Consumer.MaxBytes must be at least MinBytes (%d), got: %d", c.MinBytes, c.MaxBytes)
	check(c.MaxWait > 0, "Consumer.MaxWait must be positive, got: %s", c.MaxWait)
	check(c.CommitInterval >= 0, "Consumer.CommitInterval cannot be negative, got: %s", c.CommitInterval)
	check(c.HeartbeatInterval > 0, "Consumer.HeartbeatInterval must be positive, got: %s", c.HeartbeatInterval)
	check(c.SessionTimeout > c.HeartbeatInterval, "Consumer.SessionTimeout must exceed HeartbeatInterval (%s), got: %s", c.HeartbeatInterval, c.SessionTimeout)
	check(c.RebalanceTimeout > 0, "Consumer.RebalanceTimeout must be positive, got: %s", c.RebalanceTimeout)
	check(c.MaxRetries >= 0, "Consumer.MaxRetries cannot be negative, got: %d", c.MaxRetries)
	check(c.RetryBackoff > 0, "Consumer.RetryBackoff must be positive, got: %s", c.RetryBackoff)

	if len(errors) > 0 {
		errMsg := "Kafka configuration validation failed:\n"
		for i, err := range errors {
			errMsg += fmt.Sprintf("  %d. %s\n", i+1, err)
		}
		return fmt.Errorf("%s", errMsg)
	}
	return nil
}

func (cfg *Config) LogConfiguration(log *logger.Logger) {
	log.Info("Kafka configuration loaded successfully",
		"brokers", cfg.Brokers,
		"producer_max_attempts", cfg.Producer.MaxAttempts,
		"producer_batch_timeout", cfg.Producer.BatchTimeout,
		"producer_write_timeout", cfg.Producer.WriteTimeout,
		"producer_require_acks", cfg.Producer.RequireAcks,
		"producer_compression", cfg.Producer.Compression,
		"consumer_start_offset", cfg.Consumer.StartOffset,
		"consumer_max_bytes", cfg.Consumer.MaxBytes,
		"consumer_max_wait", cfg.Consumer.MaxWait,
		"consumer_commit_interval", cfg.Consumer.CommitInterval,
		"consumer_session_timeout", cfg.Consumer.SessionTimeout,
		"consumer_max_retries", cfg.Consumer.MaxRetries,
		"consumer_retry_backoff", cfg.Consumer.RetryBackoff,
		"enable_middleware", cfg.EnableMiddleware,
	)
}

func getEnvStr(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
