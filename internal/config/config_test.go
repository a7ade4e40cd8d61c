package config

import "testing"

func TestLoadConfigDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("WS_ALLOWED_ORIGINS", "")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.HTTPPort != "8080" || cfg.RedisChannelPrefix != "chat:events:" || cfg.SendRateMax != 20 {
		t.Fatalf("unexpected defaults: %+v", cfg)
	}
	if cfg.UsesPostgres() {
		t.Fatalf("empty DATABASE_URL should use the memory store")
	}
	if len(cfg.AllowedOrigins()) != 0 {
		t.Fatalf("expected no origin restriction")
	}
}

func TestLoadConfigFromEnv(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://chat@localhost/chat")
	t.Setenv("HISTORY_PAGE_SIZE", "25")
	t.Setenv("WS_ALLOWED_ORIGINS", "https://a.example.com, ,https://b.example.com")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !cfg.UsesPostgres() || cfg.HistoryPageSize != 25 {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "https://b.example.com" {
		t.Fatalf("unexpected origins: %v", origins)
	}
}

func TestLoadConfigRejectsBadNumbers(t *testing.T) {
	t.Setenv("SEND_RATE_MAX", "many")
	if _, err := LoadConfig(); err == nil {
		t.Fatalf("expected parse error")
	}
}
