package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port               string
	Env                string
	LogLevel           string
	DatabaseURL        string
	AuthJWTSecret      string
	CORSAllowedOrigins []string
	RedisAddr          string
	RedisPassword      string
	RedisTLS           bool

	// Reservation lifecycle
	HoldTTL                    time.Duration
	PayLaterLead               time.Duration
	DefaultBookingDelayMinutes int
	OverlapBuffer              time.Duration

	// Expiry reaper and side-effect jobs
	ReaperInterval      time.Duration
	ReaperBatchSize     int
	JobDispatchInterval time.Duration
	JobBatchSize        int
	JobQueueURL         string

	// Hold attempt velocity guard
	HoldVelocityMax    int
	HoldVelocityWindow time.Duration

	AWSRegion           string
	AWSAccessKeyID      string
	AWSSecretAccessKey  string
	AWSEndpointOverride string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:               getEnv("PORT", "8080"),
		Env:                getEnv("ENV", "development"),
		LogLevel:           getEnv("LOG_LEVEL", "info"),
		DatabaseURL:        getEnv("DATABASE_URL", ""),
		AuthJWTSecret:      getEnv("AUTH_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS"),
		RedisAddr:          getEnv("REDIS_ADDR", ""),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		RedisTLS:           getEnvAsBool("REDIS_TLS", false),

		HoldTTL:                    getEnvAsDuration("HOLD_TTL", 15*time.Minute),
		PayLaterLead:               getEnvAsDuration("PAY_LATER_LEAD", time.Hour),
		DefaultBookingDelayMinutes: getEnvAsInt("DEFAULT_BOOKING_DELAY_MINUTES", 360),
		OverlapBuffer:              getEnvAsDuration("OVERLAP_BUFFER", 0),

		ReaperInterval:      getEnvAsDuration("REAPER_INTERVAL", time.Minute),
		ReaperBatchSize:     getEnvAsInt("REAPER_BATCH_SIZE", 50),
		JobDispatchInterval: getEnvAsDuration("JOB_DISPATCH_INTERVAL", 5*time.Second),
		JobBatchSize:        getEnvAsInt("JOB_BATCH_SIZE", 25),
		JobQueueURL:         getEnv("JOB_QUEUE_URL", ""),

		HoldVelocityMax:    getEnvAsInt("HOLD_VELOCITY_MAX", 5),
		HoldVelocityWindow: getEnvAsDuration("HOLD_VELOCITY_WINDOW", time.Hour),

		AWSRegion:           getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:      getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:  getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride: getEnv("AWS_ENDPOINT_OVERRIDE", ""),
	}
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsList(key string) []string {
	raw := strings.TrimSpace(getEnv(key, ""))
	if raw == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
