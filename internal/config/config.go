package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port        string
	Env         string
	LogLevel    string
	DatabaseURL string

	RedisAddr     string
	RedisPassword string
	RedisTLS      bool

	// Reminder scheduler
	SweepSchedule        string
	ReminderLeadTime     time.Duration
	AutoCreateWindow     time.Duration
	DeliveryConfirmDelay time.Duration
	RetryBackoff         time.Duration
	MaxDeliveryAttempts  int
	SweepBatchSize       int

	// Booking lock
	BookingLockTTL time.Duration

	// Patient-facing clinic name used in reminder emails
	ClinicName string

	// CORS origins allowed on the API; empty disables the middleware
	CORSAllowedOrigins []string

	// Write-path rate limiting; zero disables it
	WriteRateLimit float64
	WriteRateBurst int

	// Email provider selection: "sendgrid", "ses" or "stub"
	EmailProvider string

	// SendGrid Email Configuration
	SendGridAPIKey    string
	SendGridFromEmail string
	SendGridFromName  string

	// AWS SES Email Configuration
	AWSRegion    string
	SESFromEmail string
	SESFromName  string
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Env:         getEnv("ENV", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		DatabaseURL: getEnv("DATABASE_URL", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),

		SweepSchedule:        getEnv("REMINDER_SWEEP_SCHEDULE", "@every 5m"),
		ReminderLeadTime:     getEnvAsDuration("REMINDER_LEAD_TIME", 1*time.Hour),
		AutoCreateWindow:     getEnvAsDuration("REMINDER_AUTO_CREATE_WINDOW", 24*time.Hour),
		DeliveryConfirmDelay: getEnvAsDuration("REMINDER_CONFIRM_DELAY", 2*time.Minute),
		RetryBackoff:         getEnvAsDuration("REMINDER_RETRY_BACKOFF", 10*time.Minute),
		MaxDeliveryAttempts:  getEnvAsInt("REMINDER_MAX_ATTEMPTS", 5),
		SweepBatchSize:       getEnvAsInt("REMINDER_SWEEP_BATCH_SIZE", 50),

		BookingLockTTL: getEnvAsDuration("BOOKING_LOCK_TTL", 10*time.Second),

		ClinicName: getEnv("CLINIC_NAME", "VitalMed"),

		CORSAllowedOrigins: getEnvAsSlice("CORS_ALLOWED_ORIGINS"),

		WriteRateLimit: float64(getEnvAsInt("WRITE_RATE_LIMIT", 10)),
		WriteRateBurst: getEnvAsInt("WRITE_RATE_BURST", 30),

		EmailProvider: getEnv("EMAIL_PROVIDER", "stub"),

		SendGridAPIKey:    getEnv("SENDGRID_API_KEY", ""),
		SendGridFromEmail: getEnv("SENDGRID_FROM_EMAIL", ""),
		SendGridFromName:  getEnv("SENDGRID_FROM_NAME", "Clinic Agenda"),

		AWSRegion:    getEnv("AWS_REGION", "us-east-1"),
		SESFromEmail: getEnv("SES_FROM_EMAIL", ""),
		SESFromName:  getEnv("SES_FROM_NAME", "Clinic Agenda"),
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

// getEnvAsSlice splits a comma-separated environment variable, dropping blanks
func getEnvAsSlice(key string) []string {
	raw := getEnv(key, "")
	if raw == "" {
		return nil
	}
	var values []string
	for _, part := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
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
