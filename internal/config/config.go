package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
)

// Config captures runtime configuration for the bot process.
type Config struct {
	BotToken    string
	OwnerID     int64  // 0 disables owner-only commands
	DatabaseURL string // sqlite:///path or postgresql://...
	WebURL      string // public base URL for web-app links
	WebhookURL  string // when set the bot registers a webhook, else long polling
	ListenAddr  string
	LogLevel    string
}

// Load reads configuration from the environment. BOT_TOKEN is the only
// variable that is fatal when missing.
func Load() (Config, error) {
	cfg := Config{
		BotToken:    os.Getenv("BOT_TOKEN"),
		DatabaseURL: getEnv("DATABASE_URL", "sqlite:///poll_data.db"),
		WebURL:      strings.TrimRight(getEnv("WEB_URL", "http://localhost:8080"), "/"),
		WebhookURL:  os.Getenv("WEBHOOK_URL"),
		ListenAddr:  getEnv("LISTEN_ADDR", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}

	if cfg.BotToken == "" {
		return Config{}, errors.New("BOT_TOKEN is required")
	}

	if raw := os.Getenv("BOT_OWNER_ID"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return Config{}, errors.New("invalid BOT_OWNER_ID")
		}
		cfg.OwnerID = id
	}

	// Heroku-style URLs come in as postgres://, the canonical scheme is
	// postgresql://.
	if strings.HasPrefix(cfg.DatabaseURL, "postgres://") {
		cfg.DatabaseURL = "postgresql://" + strings.TrimPrefix(cfg.DatabaseURL, "postgres://")
	}

	return cfg, nil
}

// DatabaseDriver reports the database/sql driver name and DSN for the
// configured DATABASE_URL.
func (c Config) DatabaseDriver() (driver, dsn string) {
	switch {
	case strings.HasPrefix(c.DatabaseURL, "sqlite://"):
		path := strings.TrimPrefix(c.DatabaseURL, "sqlite://")
		path = strings.TrimPrefix(path, "/")
		if path == "" {
			path = "poll_data.db"
		}
		return "sqlite", path
	case strings.HasPrefix(c.DatabaseURL, "postgresql://"):
		return "postgres", "postgres://" + strings.TrimPrefix(c.DatabaseURL, "postgresql://")
	default:
		return "sqlite", c.DatabaseURL
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		return v
	}
	return fallback
}
