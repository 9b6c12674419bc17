/*
Package config loads runtime configuration from the environment.

PURPOSE:
  Centralizes all tunables for the server binary. Values come from
  environment variables, with an optional .env file loaded first via
  godotenv. Command-line flags in cmd/server override these.

SEE ALSO:
  - cmd/server/main.go: Consumes this at startup
*/
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port int
}

// EngineConfig holds workflow engine tunables.
type EngineConfig struct {
	Currency           string
	MaxTasksPerBooking int
	MinRescheduleLead  time.Duration
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level string
}

// Config holds all configuration.
type Config struct {
	DBPath string
	Server ServerConfig
	Engine EngineConfig
	Log    LogConfig
}

// Load reads configuration from the environment. A .env file is optional.
func Load() (*Config, error) {
	// Ignore the error: the .env file is a dev convenience.
	_ = godotenv.Load()

	return &Config{
		DBPath: getEnv("DB_PATH", "opsengine.db"),
		Server: ServerConfig{
			Port: getEnvAsInt("SERVER_PORT", 8080),
		},
		Engine: EngineConfig{
			Currency:           getEnv("DEFAULT_CURRENCY", "USD"),
			MaxTasksPerBooking: getEnvAsInt("MAX_TASKS_PER_BOOKING", 50),
			MinRescheduleLead:  getEnvAsDuration("MIN_RESCHEDULE_LEAD", 48*time.Hour),
		},
		Log: LogConfig{
			Level: getEnv("LOG_LEVEL", "info"),
		},
	}, nil
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvAsDuration(key string, fallback time.Duration) time.Duration {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
