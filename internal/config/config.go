// Package config loads configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds all server configuration.
type Config struct {
	// Server
	Host        string
	Port        int
	MetricsAddr string

	// Logging
	LogLevel  string
	LogFormat string

	// Default auto-unload timeout in minutes. 0 disables auto-unload.
	TimeoutMinutes int
}

// ListenAddr returns the host:port the HTTP server binds to.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Load reads configuration from the environment with defaults.
// A .env file in the working directory is applied first, if present.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")

	cfg := &Config{
		Host:           envOr("IMAGE_SERVER_HOST", "0.0.0.0"),
		Port:           envInt("IMAGE_SERVER_PORT", 7779),
		MetricsAddr:    envOr("METRICS_ADDR", ":9090"),
		LogLevel:       envOr("LOG_LEVEL", "info"),
		LogFormat:      envOr("LOG_FORMAT", "console"),
		TimeoutMinutes: envInt("IMAGE_SERVER_TIMEOUT", 0),
	}

	if cfg.Port <= 0 || cfg.Port > 65535 {
		return nil, fmt.Errorf("IMAGE_SERVER_PORT out of range: %d", cfg.Port)
	}
	if cfg.TimeoutMinutes < 0 {
		return nil, fmt.Errorf("IMAGE_SERVER_TIMEOUT must be >= 0, got %d", cfg.TimeoutMinutes)
	}

	return cfg, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}
