package config

import (
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the application configuration.
type Config struct {
	DatabaseURL   string
	GatewayURL    string
	GatewayToken  string
	MigrationsDir string
	LegacyDir     string
	Port          string
	QueryTimeout  time.Duration
}

// Load reads configuration from .env file and environment variables.
func Load() (*Config, error) {
	// Load .env file if it exists (silently ignore if missing)
	_ = godotenv.Load()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		return nil, fmt.Errorf("DATABASE_URL environment variable is required")
	}
	if _, err := url.Parse(dbURL); err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}

	cfg := &Config{
		DatabaseURL:   dbURL,
		GatewayURL:    getenv("GATEWAY_URL", "wss://gateway.wardenbot.dev"),
		GatewayToken:  os.Getenv("GATEWAY_TOKEN"),
		MigrationsDir: getenv("MIGRATIONS_DIR", "migrations"),
		LegacyDir:     getenv("LEGACY_DIR", "legacy"),
		Port:          getenv("PORT", "8080"),
		QueryTimeout:  60 * time.Second,
	}

	if raw := os.Getenv("QUERY_TIMEOUT"); raw != "" {
		d, err := time.ParseDuration(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid QUERY_TIMEOUT: %w", err)
		}
		cfg.QueryTimeout = d
	}

	return cfg, nil
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
