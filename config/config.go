package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/apex/log"
	"github.com/joho/godotenv"
)

// Environment profiles.
const (
	Development = "development"
	Production  = "production"
	Testing     = "testing"
)

// Config holds all configuration for the ADEGuard service
type Config struct {
	Environment string

	// Server configuration
	Host           string
	Port           string
	AllowedOrigins []string

	// Database configuration
	DBHost            string
	DBPort            string
	DBUser            string
	DBPassword        string
	DBName            string
	EnablePersistence bool

	// RabbitMQ configuration
	RabbitMQEnabled       bool
	RabbitMQHost          string
	RabbitMQPort          string
	RabbitMQUser          string
	RabbitMQPassword      string
	RabbitMQExchange      string
	AnalysedReportRouting string
	BatchCompletedRouting string
	IntakeEnabled         bool
	IntakeQueue           string
	IntakeRouting         string
	IntakeWorkers         int

	// Cache configuration
	EnableCaching bool
	CacheBackend  string
	CacheTTL      time.Duration
	CacheSize     int
	RedisURL      string

	// Auth configuration
	JWTSecret          string
	AccessTokenExpiry  time.Duration
	RefreshTokenExpiry time.Duration
	AdminUsername      string
	AdminPassword      string

	// Rate limits, per client IP per minute
	RateLimitPerMinute int
	BatchRateLimit     int

	// Analysis configuration
	MaxBatchReports      int
	BatchWorkers         int
	ReportTimeout        time.Duration
	NERThreshold         float64
	RulesFile            string
	EnableClustering     bool
	EnableExplainability bool

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads an optional .env file and then the environment. ENVIRONMENT
// selects the profile that supplies defaults.
func Load() *Config {
	if err := godotenv.Load(); err != nil {
		log.Debugf("No .env file loaded: %v", err)
	}

	env := getEnv("ENVIRONMENT", Development)
	logLevel, logFormat, persistence := "info", "text", true
	switch env {
	case Development:
		logLevel = "debug"
	case Production:
		logLevel, logFormat = "warn", "json"
	case Testing:
		persistence = false
	}

	cfg := &Config{
		Environment: env,

		Host:           getEnv("HOST", "0.0.0.0"),
		Port:           getEnv("PORT", "8000"),
		AllowedOrigins: getStringSliceEnv("ALLOWED_ORIGINS", "*"),

		DBHost:            getEnv("DB_HOST", "localhost"),
		DBPort:            getEnv("DB_PORT", "3306"),
		DBUser:            getEnv("DB_USER", "server"),
		DBPassword:        getEnv("DB_PASSWORD", "secret_app"),
		DBName:            getEnv("DB_NAME", "adeguard"),
		EnablePersistence: getBoolEnv("ENABLE_PERSISTENCE", persistence),

		RabbitMQEnabled:       getBoolEnv("RABBITMQ_ENABLED", persistence),
		RabbitMQHost:          getEnv("RABBITMQ_HOST", "localhost"),
		RabbitMQPort:          getEnv("RABBITMQ_PORT", "5672"),
		RabbitMQUser:          getEnv("RABBITMQ_USER", "guest"),
		RabbitMQPassword:      getEnv("RABBITMQ_PASSWORD", "guest"),
		RabbitMQExchange:      getEnv("RABBITMQ_EXCHANGE", "adeguard"),
		AnalysedReportRouting: getEnv("RABBITMQ_ANALYSED_REPORT_ROUTING_KEY", "report.analysed"),
		BatchCompletedRouting: getEnv("RABBITMQ_BATCH_COMPLETED_ROUTING_KEY", "batch.completed"),
		IntakeEnabled:         getBoolEnv("RABBITMQ_INTAKE_ENABLED", false),
		IntakeQueue:           getEnv("RABBITMQ_INTAKE_QUEUE", "adeguard-intake"),
		IntakeRouting:         getEnv("RABBITMQ_INTAKE_ROUTING_KEY", "report.submitted"),
		IntakeWorkers:         getIntEnv("RABBITMQ_INTAKE_WORKERS", 4),

		EnableCaching: getBoolEnv("ENABLE_CACHING", true),
		CacheBackend:  getEnv("CACHE_BACKEND", "memory"),
		CacheTTL:      getDurationEnv("CACHE_TTL", time.Hour),
		CacheSize:     getIntEnv("CACHE_SIZE", 1024),
		RedisURL:      getEnv("REDIS_URL", ""),

		JWTSecret:          getEnv("JWT_SECRET", "adeguard-dev-secret"),
		AccessTokenExpiry:  getDurationEnv("ACCESS_TOKEN_EXPIRE", 30*time.Minute),
		RefreshTokenExpiry: getDurationEnv("REFRESH_TOKEN_EXPIRE", 30*24*time.Hour),
		AdminUsername:      getEnv("ADMIN_USERNAME", "admin"),
		AdminPassword:      getEnv("ADMIN_PASSWORD", "adeguard123"),

		RateLimitPerMinute: getIntEnv("RATE_LIMIT_PER_MINUTE", 100),
		BatchRateLimit:     getIntEnv("BATCH_RATE_LIMIT", 10),

		MaxBatchReports:      getIntEnv("MAX_BATCH_REPORTS", 50),
		BatchWorkers:         getIntEnv("BATCH_WORKERS", 4),
		ReportTimeout:        getDurationEnv("REPORT_TIMEOUT", 10*time.Second),
		NERThreshold:         getFloatEnv("NER_CONFIDENCE_THRESHOLD", 0.8),
		RulesFile:            getEnv("RULES_FILE", ""),
		EnableClustering:     getBoolEnv("ENABLE_CLUSTERING", true),
		EnableExplainability: getBoolEnv("ENABLE_EXPLAINABILITY", true),

		LogLevel:  getEnv("LOG_LEVEL", logLevel),
		LogFormat: getEnv("LOG_FORMAT", logFormat),
	}

	return cfg
}

// Validate reports configuration that would make the service misbehave.
func (c *Config) Validate() error {
	if c.Environment == Production && c.JWTSecret == "adeguard-dev-secret" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	if c.MaxBatchReports <= 0 {
		return fmt.Errorf("MAX_BATCH_REPORTS must be positive, got %d", c.MaxBatchReports)
	}
	if c.BatchWorkers <= 0 {
		return fmt.Errorf("BATCH_WORKERS must be positive, got %d", c.BatchWorkers)
	}
	if c.IntakeEnabled && c.IntakeWorkers <= 0 {
		return fmt.Errorf("RABBITMQ_INTAKE_WORKERS must be positive, got %d", c.IntakeWorkers)
	}
	if c.NERThreshold < 0 || c.NERThreshold > 1 {
		return fmt.Errorf("NER_CONFIDENCE_THRESHOLD must be between 0 and 1, got %v", c.NERThreshold)
	}
	switch c.CacheBackend {
	case "memory", "redis":
	default:
		return fmt.Errorf("CACHE_BACKEND must be memory or redis, got %q", c.CacheBackend)
	}
	if c.CacheBackend == "redis" && c.EnableCaching && c.RedisURL == "" {
		return fmt.Errorf("REDIS_URL is required for the redis cache backend")
	}
	return nil
}

// AMQPURL builds the RabbitMQ connection URL.
func (c *Config) AMQPURL() string {
	return fmt.Sprintf("amqp://%s:%s@%s:%s/", c.RabbitMQUser, c.RabbitMQPassword, c.RabbitMQHost, c.RabbitMQPort)
}

// DSN builds the MySQL data source name.
func (c *Config) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%s)/%s?parseTime=true",
		c.DBUser, c.DBPassword, c.DBHost, c.DBPort, c.DBName)
}

// getStringSliceEnv gets a comma-separated string environment variable and returns it as a string slice
func getStringSliceEnv(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	if value == "" {
		return []string{}
	}

	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
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
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

// getIntEnv gets an integer environment variable or returns a default value
func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}
