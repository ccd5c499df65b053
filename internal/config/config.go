// Package config loads daemon configuration: defaults, then a TOML file,
// then environment overrides, in that order.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server      ServerConfig      `toml:"server"`
	Gateway     GatewayConfig     `toml:"gateway"`
	Channel     ChannelConfig     `toml:"channel"`
	LLM         LLMConfig         `toml:"llm"`
	Routing     RoutingConfig     `toml:"routing"`
	Embedding   EmbeddingConfig   `toml:"embedding"`
	Memory      MemoryConfig      `toml:"memory"`
	Persona     PersonaConfig     `toml:"persona"`
	Guard       GuardConfig       `toml:"guard"`
	Maintenance MaintenanceConfig `toml:"maintenance"`
	Observer    ObserverConfig    `toml:"observer"`

	// Workspace is the root for databases, profiles, and archives.
	Workspace string `toml:"workspace"`
}

type ServerConfig struct {
	Host        string   `toml:"host"`
	Port        int      `toml:"port"`
	BindHost    string   `toml:"bind_host"`
	APIKey      string   `toml:"api_key"`
	BridgeToken string   `toml:"bridge_token"`
	CORSOrigins []string `toml:"cors_origins"`
}

// GatewayConfig tunes the inbound pipeline.
type GatewayConfig struct {
	FloodWindowMS int `toml:"flood_window_ms"`
	QueueSize     int `toml:"queue_size"`
	Workers       int `toml:"workers"`
}

type ChannelConfig struct {
	// Kind selects the outbound adapter: "wacli" or "telegram".
	Kind          string `toml:"kind"`
	CLIPath       string `toml:"cli_path"`
	TelegramToken string `toml:"telegram_token"`
}

// LLMConfig carries credentials for the tagged provider variants. A variant
// with no credentials is skipped by the fallback chain.
type LLMConfig struct {
	GatewayURL   string `toml:"gateway_url"`   // oauth_proxy
	GatewayToken string `toml:"gateway_token"` // oauth_proxy
	GeminiAPIKey string `toml:"gemini_api_key"` // direct_api_key
	VaultHost    string `toml:"vault_host"`     // local_vault (ollama)
	VaultModel   string `toml:"vault_model"`
	OpenRouterAPIKey string `toml:"openrouter_api_key"` // openrouter_fallback
	OpenRouterModel  string `toml:"openrouter_model"`

	// Proactive rate limits applied on top of the fallback chain. Zero
	// disables a limit.
	RPM int `toml:"rpm"`
	TPM int `toml:"tpm"`
}

type RoutingConfig struct {
	FlashModel string `toml:"flash_model"`
	ProModel   string `toml:"pro_model"`
}

type EmbeddingConfig struct {
	Provider   string `toml:"provider"` // "gemini" or "ollama"
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	APIKey     string `toml:"api_key"`
	Host       string `toml:"host"`
}

type MemoryConfig struct {
	// Index selects the vector backend: sqlite, postgres, qdrant, chromem.
	Index       string `toml:"index"`
	PostgresDSN string `toml:"postgres_dsn"`
	QdrantHost  string `toml:"qdrant_host"`
	QdrantPort  int    `toml:"qdrant_port"`
}

type PersonaConfig struct {
	Dir     string   `toml:"dir"`
	Names   []string `toml:"names"`
	Default string   `toml:"default"`
}

type GuardConfig struct {
	Skip      bool `toml:"skip"`
	MaxLength int  `toml:"max_length"`
}

type MaintenanceConfig struct {
	IntervalMinutes int `toml:"interval_minutes"`
	RecheckSeconds  int `toml:"recheck_seconds"`
}

type ObserverConfig struct {
	Enabled bool                       `toml:"enabled"`
	Pricing map[string]ObserverPricing `toml:"pricing"`
}

type ObserverPricing struct {
	Input  float64 `toml:"input"`
	Output float64 `toml:"output"`
}

// Default returns a Config with all defaults applied.
func Default() Config {
	home, _ := os.UserHomeDir()
	if home == "" {
		home = "/tmp"
	}
	return Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Gateway: GatewayConfig{
			FloodWindowMS: 3000,
			QueueSize:     100,
			Workers:       2,
		},
		Channel: ChannelConfig{
			Kind:    "wacli",
			CLIPath: "wacli",
		},
		Routing: RoutingConfig{
			FlashModel: "gemini-3-flash",
			ProModel:   "gemini-3-pro-high",
		},
		Embedding: EmbeddingConfig{
			Provider:   "gemini",
			Model:      "gemini-embedding-001",
			Dimensions: 1536,
		},
		Memory: MemoryConfig{
			Index:      "sqlite",
			QdrantPort: 6334,
		},
		Persona: PersonaConfig{
			Names:   []string{"the_creator", "the_partner"},
			Default: "the_creator",
		},
		Guard: GuardConfig{
			MaxLength: 8000,
		},
		Maintenance: MaintenanceConfig{
			IntervalMinutes: 10,
			RecheckSeconds:  60,
		},
		LLM: LLMConfig{
			VaultModel: "qwen3:14b",
		},
		Workspace: filepath.Join(home, "parley-workspace"),
	}
}

// Load reads config: defaults -> TOML file -> env vars (env wins).
func Load(path string) Config {
	cfg := Default()

	if path == "" {
		path = "parley.toml"
	}
	if data, err := os.ReadFile(path); err == nil {
		_ = toml.Unmarshal(data, &cfg)
	}

	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("API_BIND_HOST"); v != "" {
		cfg.Server.BindHost = v
	}
	if v := os.Getenv("API_KEY"); v != "" {
		cfg.Server.APIKey = v
	}
	if v := os.Getenv("CORS_ORIGINS"); v != "" {
		cfg.Server.CORSOrigins = splitList(v)
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_URL"); v != "" {
		cfg.LLM.GatewayURL = v
	}
	if v := os.Getenv("OPENCLAW_GATEWAY_TOKEN"); v != "" {
		cfg.LLM.GatewayToken = v
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		cfg.LLM.GeminiAPIKey = v
	}
	if v := os.Getenv("WINDOWS_PC_IP"); v != "" {
		cfg.LLM.VaultHost = v
	}
	if v := os.Getenv("OPENROUTER_API_KEY"); v != "" {
		cfg.LLM.OpenRouterAPIKey = v
	}
	if v := os.Getenv("WHATSAPP_BRIDGE_TOKEN"); v != "" {
		cfg.Server.BridgeToken = v
	}
	if v := os.Getenv("PARLEY_WORKSPACE"); v != "" {
		cfg.Workspace = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Channel.TelegramToken = v
	}
	if v := os.Getenv("PARLEY_OBSERVER_ENABLED"); v == "true" || v == "1" {
		cfg.Observer.Enabled = true
	}

	// Fallbacks
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = cfg.LLM.GeminiAPIKey
	}
	if cfg.Server.BindHost == "" {
		cfg.Server.BindHost = cfg.Server.Host
	}
	if cfg.Persona.Dir == "" {
		cfg.Persona.Dir = filepath.Join(cfg.Workspace, "data", "profiles")
	}

	return cfg
}

// Validate reports startup-blocking problems with actionable messages.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range; set SERVER_PORT or [server] port", c.Server.Port)
	}
	switch c.Channel.Kind {
	case "wacli", "telegram":
	default:
		return fmt.Errorf("channel.kind %q unknown; use \"wacli\" or \"telegram\"", c.Channel.Kind)
	}
	if c.Channel.Kind == "telegram" && c.Channel.TelegramToken == "" {
		return fmt.Errorf("channel.kind is telegram but no token; set TELEGRAM_BOT_TOKEN")
	}
	switch c.Memory.Index {
	case "sqlite", "postgres", "qdrant", "chromem":
	default:
		return fmt.Errorf("memory.index %q unknown; use sqlite, postgres, qdrant, or chromem", c.Memory.Index)
	}
	if c.Memory.Index == "postgres" && c.Memory.PostgresDSN == "" {
		return fmt.Errorf("memory.index is postgres but postgres_dsn is empty")
	}
	if !c.anyProviderConfigured() {
		return fmt.Errorf("no LLM provider configured; set OPENCLAW_GATEWAY_URL/TOKEN, GEMINI_API_KEY, WINDOWS_PC_IP, or OPENROUTER_API_KEY")
	}
	if c.Gateway.QueueSize <= 0 || c.Gateway.Workers <= 0 {
		return fmt.Errorf("gateway.queue_size and gateway.workers must be positive")
	}
	if c.Embedding.Dimensions <= 0 {
		return fmt.Errorf("embedding.dimensions must be positive, got %d", c.Embedding.Dimensions)
	}
	return nil
}

func (c Config) anyProviderConfigured() bool {
	return (c.LLM.GatewayURL != "" && c.LLM.GatewayToken != "") ||
		c.LLM.GeminiAPIKey != "" ||
		c.LLM.VaultHost != "" ||
		c.LLM.OpenRouterAPIKey != ""
}

// ListenAddr is the bind address for the HTTP server.
func (c ServerConfig) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.BindHost, c.Port)
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
