// Package config loads service configuration from the environment.
package config

import (
	"errors"
	"os"
	"strconv"
)

// Config holds everything main needs to wire the service.
type Config struct {
	Addr       string
	MongoURI   string
	MongoDB    string
	PinDBPath  string
	JWTSecret  string
	AppBaseURL string

	EmailAPIURL string
	EmailAPIKey string
	EmailFrom   string

	// SendRatePerMinute limits message sends per user.
	SendRatePerMinute int
	LogLevel          string
}

// Load reads configuration from the environment. MONGODB_URI and
// JWT_SECRET are required; everything else has a default.
func Load() (Config, error) {
	cfg := Config{
		Addr:              ":" + envOrDefault("PORT", "8080"),
		MongoURI:          os.Getenv("MONGODB_URI"),
		MongoDB:           envOrDefault("MONGODB_DATABASE", "syndex_messaging"),
		PinDBPath:         envOrDefault("PIN_DB_PATH", "data/pins"),
		JWTSecret:         os.Getenv("JWT_SECRET"),
		AppBaseURL:        envOrDefault("APP_BASE_URL", "https://app.syndex.example"),
		EmailAPIURL:       os.Getenv("EMAIL_API_URL"),
		EmailAPIKey:       os.Getenv("EMAIL_API_KEY"),
		EmailFrom:         envOrDefault("EMAIL_FROM", "notifications@syndex.example"),
		SendRatePerMinute: envIntOrDefault("SEND_RATE_PER_MINUTE", 60),
		LogLevel:          envOrDefault("LOG_LEVEL", "info"),
	}

	if cfg.MongoURI == "" {
		return Config{}, errors.New("MONGODB_URI must be set")
	}
	if cfg.JWTSecret == "" {
		return Config{}, errors.New("JWT_SECRET must be set")
	}
	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}
