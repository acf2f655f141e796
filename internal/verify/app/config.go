package app

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	RedisAddr     string // Redis address for the challenge store (default: localhost:6379)
	RedisPassword string // Optional: Redis AUTH password
	DatabaseFile  string // Path to the SQLite factors database (default: ./phonefactor.db)

	ReceiptSecret string        // Required in prod: HMAC secret for verification receipts
	ReceiptIssuer string        // Issuer claim on receipts (default: phonefactor)
	ReceiptTTL    time.Duration // Receipt validity (default: 24h)

	ChallengeTTL    time.Duration // Out-of-band challenge window (default: 10m)
	DeliveryTimeout time.Duration // SMS dispatch bound (default: 15s)
	MaxAttempts     int           // Wrong codes before a challenge is destroyed (default: 5)
	ResendEvery     time.Duration // Per-account issuance throttle (default: 30s)
	ResendBurst     int           // Issuance burst per account (default: 3)

	Env                  string        // Environment (dev, staging, prod) (default: dev)
	LogLevel             string        // Log level (debug, info, warn, error) (default: info)
	LogFormat            string        // Log format (json, text) (default: json)
	HousekeepingInterval time.Duration // Housekeeping interval (default: 1h)
}

func LoadConfig() Config {
	// Local development convenience; missing .env is not an error.
	_ = godotenv.Load()

	return Config{
		RedisAddr:     getEnvOrDefault("PHONEFACTOR_REDIS_ADDR", "localhost:6379"),
		RedisPassword: os.Getenv("PHONEFACTOR_REDIS_PASSWORD"),
		DatabaseFile:  getEnvOrDefault("PHONEFACTOR_DATABASE_FILE", "phonefactor.db"),

		ReceiptSecret: os.Getenv("PHONEFACTOR_RECEIPT_SECRET"),
		ReceiptIssuer: getEnvOrDefault("PHONEFACTOR_RECEIPT_ISSUER", "phonefactor"),
		ReceiptTTL:    getEnvDurationOrDefault("PHONEFACTOR_RECEIPT_TTL", 24*time.Hour),

		ChallengeTTL:    getEnvDurationOrDefault("PHONEFACTOR_CHALLENGE_TTL", 10*time.Minute),
		DeliveryTimeout: getEnvDurationOrDefault("PHONEFACTOR_DELIVERY_TIMEOUT", 15*time.Second),
		MaxAttempts:     getEnvIntOrDefault("PHONEFACTOR_MAX_ATTEMPTS", 5),
		ResendEvery:     getEnvDurationOrDefault("PHONEFACTOR_RESEND_EVERY", 30*time.Second),
		ResendBurst:     getEnvIntOrDefault("PHONEFACTOR_RESEND_BURST", 3),

		Env:                  getEnvOrDefault("ENV", "dev"),
		LogLevel:             getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:            getEnvOrDefault("LOG_FORMAT", "json"),
		HousekeepingInterval: getEnvDurationOrDefault("HOUSEKEEPING_INTERVAL", 1*time.Hour),
	}
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
