package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Settings holds process-level settings read from the environment
type Settings struct {
	Logging      LoggingConfig
	MetricsFile  string
	Record       bool
	PollInterval time.Duration
}

// LoggingConfig holds logging settings
type LoggingConfig struct {
	Level  string
	Format string // "text" or "json"
}

// LoadSettings loads settings from environment variables
func LoadSettings() *Settings {
	return &Settings{
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "text"),
		},
		MetricsFile:  getEnv("VERIDEPLOY_METRICS_FILE", ""),
		Record:       getEnvBool("VERIDEPLOY_RECORD", false),
		PollInterval: time.Duration(getEnvPositiveInt("VERIDEPLOY_POLL_SECONDS", 3)) * time.Second,
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

// getEnvPositiveInt is getEnvInt with zero and negative values replaced by
// the default
func getEnvPositiveInt(key string, defaultValue int) int {
	if i := getEnvInt(key, defaultValue); i > 0 {
		return i
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
