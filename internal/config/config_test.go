package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultConfig(t *testing.T) {
	cfg := Default()
	if cfg.Server.Port != 8000 {
		t.Errorf("expected port 8000, got %d", cfg.Server.Port)
	}
	if cfg.Channel.Kind != "wacli" {
		t.Errorf("expected wacli, got %s", cfg.Channel.Kind)
	}
	if cfg.Embedding.Dimensions != 1536 {
		t.Errorf("expected 1536, got %d", cfg.Embedding.Dimensions)
	}
	if cfg.Routing.FlashModel == "" || cfg.Routing.ProModel == "" {
		t.Errorf("routed models empty: %+v", cfg.Routing)
	}
	if cfg.Maintenance.IntervalMinutes != 10 {
		t.Errorf("expected 10 min maintenance interval, got %d", cfg.Maintenance.IntervalMinutes)
	}
}

func TestLoadFromTOML(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.toml")
	os.WriteFile(path, []byte(`
workspace = "/srv/parley"

[server]
port = 9000

[channel]
kind = "telegram"
telegram_token = "bot123"
`), 0644)

	cfg := Load(path)
	if cfg.Server.Port != 9000 {
		t.Errorf("expected 9000, got %d", cfg.Server.Port)
	}
	if cfg.Channel.Kind != "telegram" || cfg.Channel.TelegramToken != "bot123" {
		t.Errorf("channel = %+v", cfg.Channel)
	}
	// Defaults preserved
	if cfg.Memory.Index != "sqlite" {
		t.Errorf("default should be preserved, got %s", cfg.Memory.Index)
	}
	// Persona dir follows the workspace
	if !strings.HasPrefix(cfg.Persona.Dir, "/srv/parley") {
		t.Errorf("persona dir = %s", cfg.Persona.Dir)
	}
}

func TestEnvOverride(t *testing.T) {
	t.Setenv("SERVER_PORT", "8123")
	t.Setenv("OPENCLAW_GATEWAY_URL", "https://gw.example")
	t.Setenv("OPENCLAW_GATEWAY_TOKEN", "tok")
	t.Setenv("GEMINI_API_KEY", "g-key")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example")

	cfg := Load("/nonexistent/path.toml")
	if cfg.Server.Port != 8123 {
		t.Errorf("expected 8123, got %d", cfg.Server.Port)
	}
	if cfg.LLM.GatewayURL != "https://gw.example" || cfg.LLM.GatewayToken != "tok" {
		t.Errorf("llm = %+v", cfg.LLM)
	}
	if len(cfg.Server.CORSOrigins) != 2 || cfg.Server.CORSOrigins[1] != "https://b.example" {
		t.Errorf("cors = %v", cfg.Server.CORSOrigins)
	}
	// Fallback: embedding key follows the gemini key
	if cfg.Embedding.APIKey != "g-key" {
		t.Errorf("embedding key = %s", cfg.Embedding.APIKey)
	}
}

func TestValidate(t *testing.T) {
	cfg := Default()
	cfg.LLM.GeminiAPIKey = "k"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("valid config rejected: %v", err)
	}

	bad := cfg
	bad.LLM = LLMConfig{}
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "no LLM provider") {
		t.Errorf("expected provider error, got %v", err)
	}

	bad = cfg
	bad.Memory.Index = "redis"
	if err := bad.Validate(); err == nil {
		t.Error("expected unknown index error")
	}

	bad = cfg
	bad.Channel.Kind = "telegram"
	if err := bad.Validate(); err == nil || !strings.Contains(err.Error(), "TELEGRAM_BOT_TOKEN") {
		t.Errorf("expected telegram token error, got %v", err)
	}

	bad = cfg
	bad.Server.Port = 0
	if err := bad.Validate(); err == nil {
		t.Error("expected port error")
	}
}

func TestListenAddr(t *testing.T) {
	cfg := Load("/nonexistent/path.toml")
	if got := cfg.Server.ListenAddr(); got != "127.0.0.1:8000" {
		t.Errorf("addr = %q", got)
	}
}
