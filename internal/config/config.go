package config

import (
	"os"
	"strconv"
)

// Config holds all configuration for the TaskDeck server.
type Config struct {
	Port      int
	Version   string
	Database  DatabaseConfig
	Telemetry TelemetryConfig
	Auth      AuthConfig
	OpenAI    OpenAIConfig
}

type DatabaseConfig struct {
	// URL enables the PostgreSQL store when set; empty selects the
	// in-memory store with file snapshots.
	URL            string
	MaxConnections int
}

type TelemetryConfig struct {
	Enabled      bool
	OTLPEndpoint string
	ServiceName  string
}

type AuthConfig struct {
	// Keys maps bearer tokens to user IDs as "token=user" pairs,
	// comma-separated. Empty disables auth (dev mode).
	Keys string
}

type OpenAIConfig struct {
	APIKey   string
	Endpoint string
	Model    string
}

// Load reads configuration from environment variables with sensible defaults.
func Load() *Config {
	return &Config{
		Port:    envInt("TASKDECK_PORT", 8080),
		Version: envStr("TASKDECK_VERSION", "0.4.0"),
		Database: DatabaseConfig{
			URL:            envStr("TASKDECK_DATABASE_URL", ""),
			MaxConnections: envInt("TASKDECK_DATABASE_MAX_CONNECTIONS", 25),
		},
		Telemetry: TelemetryConfig{
			Enabled:      envBool("OTEL_ENABLED", false),
			OTLPEndpoint: envStr("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			ServiceName:  envStr("OTEL_SERVICE_NAME", "taskdeck"),
		},
		Auth: AuthConfig{
			Keys: envStr("TASKDECK_API_KEYS", ""),
		},
		OpenAI: OpenAIConfig{
			APIKey:   envStr("OPENAI_API_KEY", ""),
			Endpoint: envStr("TASKDECK_OPENAI_ENDPOINT", "https://api.openai.com/v1"),
			Model:    envStr("TASKDECK_OPENAI_MODEL", "gpt-4o-mini"),
		},
	}
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
