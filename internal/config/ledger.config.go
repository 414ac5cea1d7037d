package config

import (
	"os"
	"strings"
	"time"
)

type AppConfig struct {
	HTTPAddr     string
	RedisAddr    string
	RedisPass    string
	KafkaBrokers []string
	KafkaTopic   string
	QuoteBaseURL string
	QuoteTTL     time.Duration
}

func Load() AppConfig {
	return AppConfig{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8031"),
		RedisAddr:    getEnv("REDIS_ADDR", "redis:6379"),
		RedisPass:    getEnv("REDIS_PASS", ""),
		KafkaBrokers: getEnvSlice("KAFKA_BROKERS", []string{"kafka:9092"}),
		KafkaTopic:   getEnv("KAFKA_TOPIC", "ledger.transactions"),
		QuoteBaseURL: getEnv("QUOTE_BASE_URL", ""),
		QuoteTTL:     getEnvDuration("QUOTE_TTL", 30*time.Second),
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return fallback
}
