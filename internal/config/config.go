// Package config handles application configuration from environment
// variables and the addin file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration.
type Config struct {
	DatabasePath   string
	LogLevel       string
	AddinsFile     string
	UserAgent      string
	FetchTimeout   time.Duration
	Workers        int
	CheckInterval  time.Duration
	AllowedSchemes []string

	// Optional integrations.
	TelegramBotToken string
	MetricsAddr      string
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath:     getenv("DATABASE_PATH", "./data/feedplatform.db"),
		LogLevel:         getenv("LOG_LEVEL", "info"),
		AddinsFile:       getenv("ADDINS_FILE", "./addins.yaml"),
		UserAgent:        getenv("USER_AGENT", "feedplatform/1.0"),
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		MetricsAddr:      os.Getenv("METRICS_ADDR"),
	}

	timeout, err := positiveInt("FETCH_TIMEOUT", 10)
	if err != nil {
		return nil, err
	}
	cfg.FetchTimeout = time.Duration(timeout) * time.Second

	if cfg.Workers, err = positiveInt("WORKERS", 4); err != nil {
		return nil, err
	}

	interval, err := positiveInt("CHECK_INTERVAL", 15)
	if err != nil {
		return nil, err
	}
	cfg.CheckInterval = time.Duration(interval) * time.Minute

	for _, s := range strings.Split(getenv("ALLOWED_SCHEMES", "http,https"), ",") {
		s = strings.ToLower(strings.TrimSpace(s))
		if s == "" {
			continue
		}
		cfg.AllowedSchemes = append(cfg.AllowedSchemes, s)
	}
	if len(cfg.AllowedSchemes) == 0 {
		return nil, fmt.Errorf("ALLOWED_SCHEMES lists no scheme")
	}

	return cfg, nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func positiveInt(key string, def int) (int, error) {
	raw := os.Getenv(key)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", key, raw, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be positive", key, raw)
	}
	return n, nil
}
