package config

import "testing"

func TestLoadRequiresToken(t *testing.T) {
	t.Setenv("BOT_TOKEN", "")
	if _, err := Load(); err == nil {
		t.Fatal("Load accepted a missing BOT_TOKEN")
	}
}

func TestLoadNormalizesPostgresScheme(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "postgres://user:pw@host/db")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.DatabaseURL != "postgresql://user:pw@host/db" {
		t.Errorf("DatabaseURL = %q", cfg.DatabaseURL)
	}

	driver, dsn := cfg.DatabaseDriver()
	if driver != "postgres" || dsn != "postgres://user:pw@host/db" {
		t.Errorf("driver/dsn = %q, %q", driver, dsn)
	}
}

func TestLoadDefaultsToSQLite(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("DATABASE_URL", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	driver, dsn := cfg.DatabaseDriver()
	if driver != "sqlite" || dsn != "poll_data.db" {
		t.Errorf("driver/dsn = %q, %q", driver, dsn)
	}
}

func TestLoadOwnerID(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("BOT_OWNER_ID", "42")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.OwnerID != 42 {
		t.Errorf("OwnerID = %d", cfg.OwnerID)
	}

	t.Setenv("BOT_OWNER_ID", "not-a-number")
	if _, err := Load(); err == nil {
		t.Error("Load accepted a malformed BOT_OWNER_ID")
	}
}

func TestWebURLTrailingSlashTrimmed(t *testing.T) {
	t.Setenv("BOT_TOKEN", "123:abc")
	t.Setenv("WEB_URL", "https://bot.example/")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.WebURL != "https://bot.example" {
		t.Errorf("WebURL = %q", cfg.WebURL)
	}
}
