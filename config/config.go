package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	// Server configuration
	Environment string

	// Redis configuration
	RedisURL      string
	RedisPassword string
	RedisDB       int

	// Database configuration
	DatabaseDriver string
	DatabaseDSN    string

	// Event stream configuration
	StreamKey      string
	GroupName      string
	ConsumerName   string
	ReadBatchSize  int
	ReadBlock      time.Duration
	AckTTL         time.Duration
	AckPollStep    time.Duration
	AckWaitTimeout time.Duration

	// Role configuration
	ReserveRoleName string

	// Scheduler configuration
	ReminderLead     time.Duration
	ReminderClaimTTL time.Duration
	CleanupGrace     time.Duration

	// Gateway configuration
	SessionTTL time.Duration
	MaxAlts    int

	// Monitoring
	EnableMetrics bool
	MetricsPort   string
}

func LoadConfig() *Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables")
	}

	return &Config{
		// Server
		Environment: getEnv("ENVIRONMENT", "development"),

		// Redis
		RedisURL:      getEnv("REDIS_URL", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		// Database
		DatabaseDriver: getEnv("DATABASE_DRIVER", "sqlite"),
		DatabaseDSN:    getEnv("DATABASE_DSN", "raids.db"),

		// Event stream
		StreamKey:      getEnv("STREAM_KEY", "raid_events"),
		GroupName:      getEnv("GROUP_NAME", "raid_bot"),
		ConsumerName:   getEnv("CONSUMER_NAME", ""),
		ReadBatchSize:  getEnvAsInt("READ_BATCH_SIZE", 20),
		ReadBlock:      getEnvAsDuration("READ_BLOCK", "2s"),
		AckTTL:         getEnvAsDuration("ACK_TTL", "5s"),
		AckPollStep:    getEnvAsDuration("ACK_POLL_STEP", "50ms"),
		AckWaitTimeout: getEnvAsDuration("ACK_WAIT_TIMEOUT", "1200ms"),

		// Roles
		ReserveRoleName: getEnv("RESERVE_ROLE_NAME", "reserve"),

		// Scheduler
		ReminderLead:     getEnvAsDuration("REMINDER_LEAD", "15m"),
		ReminderClaimTTL: getEnvAsDuration("REMINDER_CLAIM_TTL", "48h"),
		CleanupGrace:     getEnvAsDuration("CLEANUP_GRACE", "20m"),

		// Gateway
		SessionTTL: getEnvAsDuration("SESSION_TTL", "90s"),
		MaxAlts:    getEnvAsInt("MAX_ALTS", 3),

		// Monitoring
		EnableMetrics: getEnvAsBool("ENABLE_METRICS", true),
		MetricsPort:   getEnv("METRICS_PORT", "9090"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue string) time.Duration {
	valueStr := getEnv(key, defaultValue)
	if duration, err := time.ParseDuration(valueStr); err == nil {
		return duration
	}
	// If parsing fails, try to parse default value
	duration, _ := time.ParseDuration(defaultValue)
	return duration
}
