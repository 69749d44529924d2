// Package config provides configuration structs and validation for every
// pipeline stage. Values are bound from command-line flags in each stage's
// main, with environment fallbacks for credentials.
package config

import (
	"fmt"
	"os"
)

// GetEnvOrDefault returns the environment variable value or a default if not set.
func GetEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// MaskDSN masks sensitive information in a DSN for logging.
func MaskDSN(dsn string) string {
	if len(dsn) > 50 {
		return dsn[:20] + "***" + dsn[len(dsn)-20:]
	}
	return "***"
}

// Collector holds configuration for the collector stage.
type Collector struct {
	PostgresDSN  string
	RedisAddr    string
	KafkaBrokers string
}

// Validate checks that all required collector fields are set.
func (c *Collector) Validate() error {
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	return nil
}

// Consumer holds configuration common to the queue-consuming stages
// (normalizer, verifier, notifier).
type Consumer struct {
	KafkaBrokers    string
	ConsumerGroupID string
	PostgresDSN     string
	RedisAddr       string
}

// Validate checks that all required consumer-stage fields are set.
func (c *Consumer) Validate() error {
	if c.KafkaBrokers == "" {
		return fmt.Errorf("kafka-brokers cannot be empty")
	}
	if c.ConsumerGroupID == "" {
		return fmt.Errorf("consumer-group-id cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	return nil
}

// Notifier holds configuration for the notifier stage: the consumer stage
// settings plus the delivery provider credential.
type Notifier struct {
	Consumer
	TelegramBotToken string
}

// Validate checks that all required notifier fields are set.
func (c *Notifier) Validate() error {
	if err := c.Consumer.Validate(); err != nil {
		return err
	}
	if c.TelegramBotToken == "" {
		return fmt.Errorf("telegram bot token cannot be empty (set TELEGRAM_BOT_TOKEN)")
	}
	return nil
}

// APIGateway holds configuration for the read-only query API.
type APIGateway struct {
	ListenAddr  string
	PostgresDSN string
	RedisAddr   string
}

// Validate checks that all required API gateway fields are set.
func (c *APIGateway) Validate() error {
	if c.ListenAddr == "" {
		return fmt.Errorf("listen-addr cannot be empty")
	}
	if c.PostgresDSN == "" {
		return fmt.Errorf("postgres-dsn cannot be empty")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("redis-addr cannot be empty")
	}
	return nil
}
