package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the waste ops service
type Config struct {
	// Database configuration
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBName     string

	// Server configuration
	Port string

	// Auth
	JWTSecret string

	// Messaging; empty URL disables event publishing
	AMQPURL      string
	AMQPExchange string

	// Query bounds
	QueryTimeout time.Duration

	// Geo defaults
	DefaultRadiusKm float64
	MaxRadiusKm     float64

	// Logging
	LogLevel string
}

// Load loads configuration from environment variables
func Load() *Config {
	// Optional .env for local development
	godotenv.Load()

	return &Config{
		DBHost:     getEnv("DB_HOST", "localhost"),
		DBPort:     getEnv("DB_PORT", "3306"),
		DBUser:     getEnv("DB_USER", "server"),
		DBPassword: getEnv("DB_PASSWORD", "secret_app"),
		DBName:     getEnv("DB_NAME", "wasteops"),

		Port: getEnv("PORT", "8080"),

		JWTSecret: getEnv("JWT_SECRET", "default-secret-change-in-production"),

		AMQPURL:      getEnv("AMQP_URL", ""),
		AMQPExchange: getEnv("AMQP_EXCHANGE", "wasteops_events"),

		QueryTimeout: getDurationEnv("DB_QUERY_TIMEOUT", 5*time.Second),

		DefaultRadiusKm: getFloatEnv("DEFAULT_RADIUS_KM", 5),
		MaxRadiusKm:     getFloatEnv("MAX_RADIUS_KM", 50),

		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv gets a duration environment variable or returns a default value
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// getFloatEnv gets a float environment variable or returns a default value
func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil && f > 0 {
			return f
		}
	}
	return defaultValue
}
