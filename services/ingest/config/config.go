package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// Config holds environment-driven settings for the ingestion service.
type Config struct {
	DatabaseURL   string
	AMQPURL       string
	Port          int
	BearerToken   string
	MaxBodyBytes  int64
	MaxImageBytes int64
	MaxSpeedKMH   float64
}

// Load reads configuration from environment variables (optionally .env).
func Load() (Config, error) {
	_ = godotenv.Load() // ignore missing file

	cfg := Config{
		Port:          8080,
		MaxBodyBytes:  10 * 1024 * 1024,
		MaxImageBytes: 5 * 1024 * 1024,
		MaxSpeedKMH:   120,
	}

	cfg.DatabaseURL = os.Getenv("DATABASE_URL")
	if cfg.DatabaseURL == "" {
		return cfg, errors.New("DATABASE_URL is required")
	}

	// Event fanout stays disabled when no broker is configured.
	cfg.AMQPURL = os.Getenv("AMQP_URL")

	if portStr := os.Getenv("PORT"); portStr != "" {
		if port, err := strconv.Atoi(portStr); err == nil && port > 0 {
			cfg.Port = port
		} else {
			return cfg, fmt.Errorf("invalid PORT: %s", portStr)
		}
	}

	if bodyStr := os.Getenv("MAX_BODY_BYTES"); bodyStr != "" {
		if v, err := strconv.ParseInt(bodyStr, 10, 64); err == nil && v > 0 {
			cfg.MaxBodyBytes = v
		} else {
			return cfg, fmt.Errorf("invalid MAX_BODY_BYTES: %s", bodyStr)
		}
	}

	if imgStr := os.Getenv("MAX_IMAGE_BYTES"); imgStr != "" {
		if v, err := strconv.ParseInt(imgStr, 10, 64); err == nil && v > 0 {
			cfg.MaxImageBytes = v
		} else {
			return cfg, fmt.Errorf("invalid MAX_IMAGE_BYTES: %s", imgStr)
		}
	}

	if speedStr := os.Getenv("MAX_SPEED_KMH"); speedStr != "" {
		if v, err := strconv.ParseFloat(speedStr, 64); err == nil && v > 0 {
			cfg.MaxSpeedKMH = v
		} else {
			return cfg, fmt.Errorf("invalid MAX_SPEED_KMH: %s", speedStr)
		}
	}

	cfg.BearerToken = os.Getenv("API_BEARER_TOKEN")

	return cfg, nil
}

// ListenAddr returns the host:port string for the HTTP server.
func (c Config) ListenAddr() string {
	return fmt.Sprintf(":%d", c.Port)
}
