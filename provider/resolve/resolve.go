// Package resolve turns tagged provider configuration into concrete
// parley.Provider values. Each variant names one transport:
//
//	oauth_proxy         — local gateway fronting provider OAuth (messages protocol)
//	direct_api_key      — Google Gemini with an API key
//	local_vault         — private Ollama host
//	openrouter_fallback — OpenRouter over the OpenAI protocol
//
// Chain composes variants into a provider that tries them in order,
// falling through on any transport failure.
package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/provider/anthropic"
	"github.com/nevindra/parley/provider/gemini"
	"github.com/nevindra/parley/provider/ollama"
	"github.com/nevindra/parley/provider/openaicompat"
)

// Variant kinds.
const (
	KindOAuthProxy         = "oauth_proxy"
	KindDirectAPIKey       = "direct_api_key"
	KindLocalVault         = "local_vault"
	KindOpenRouterFallback = "openrouter_fallback"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

// Variant is one tagged provider configuration.
type Variant struct {
	Kind string

	// oauth_proxy
	GatewayURL   string
	GatewayToken string

	// direct_api_key / openrouter_fallback
	APIKey  string
	BaseURL string // optional override

	// local_vault
	Host string

	// Model is the default model for this variant; routing may override
	// per request.
	Model string
}

// Enabled reports whether the variant has the credentials its kind needs.
func (v Variant) Enabled() bool {
	switch v.Kind {
	case KindOAuthProxy:
		return v.GatewayURL != "" && v.GatewayToken != ""
	case KindDirectAPIKey, KindOpenRouterFallback:
		return v.APIKey != ""
	case KindLocalVault:
		return v.Host != ""
	}
	return false
}

// Provider creates a parley.Provider for one variant.
func Provider(v Variant) (parley.Provider, error) {
	switch v.Kind {
	case KindOAuthProxy:
		return anthropic.New(v.GatewayURL, v.GatewayToken, v.Model), nil
	case KindDirectAPIKey:
		return gemini.New(v.APIKey, v.Model), nil
	case KindLocalVault:
		return ollama.New(v.Host, v.Model)
	case KindOpenRouterFallback:
		base := v.BaseURL
		if base == "" {
			base = openRouterBaseURL
		}
		return openaicompat.New(v.APIKey, v.Model, base, openaicompat.WithName("openrouter")), nil
	default:
		return nil, fmt.Errorf("resolve: unknown provider variant %q", v.Kind)
	}
}

// EmbeddingConfig selects an embedding back end.
type EmbeddingConfig struct {
	Provider   string // "gemini" or "ollama"
	APIKey     string
	Host       string
	Model      string
	Dimensions int
}

// EmbeddingProvider creates a parley.EmbeddingProvider.
func EmbeddingProvider(cfg EmbeddingConfig) (parley.EmbeddingProvider, error) {
	switch cfg.Provider {
	case "gemini":
		return gemini.NewEmbedding(cfg.APIKey, cfg.Model, cfg.Dimensions), nil
	case "ollama":
		return ollama.NewEmbedding(cfg.Host, cfg.Model, cfg.Dimensions)
	default:
		return nil, fmt.Errorf("resolve: embedding provider %q not supported", cfg.Provider)
	}
}

// ChainOption configures a fallback chain.
type ChainOption func(*fallbackProvider)

// ChainLogger sets the logger for fall-through warnings.
func ChainLogger(l *slog.Logger) ChainOption {
	return func(f *fallbackProvider) { f.logger = l }
}

// Chain builds a provider that tries each enabled variant in order,
// falling through to the next on any error. Disabled variants (missing
// credentials) are skipped at build time.
func Chain(variants []Variant, opts ...ChainOption) (parley.Provider, error) {
	f := &fallbackProvider{logger: nopLogger}
	for _, o := range opts {
		o(f)
	}
	for _, v := range variants {
		if !v.Enabled() {
			continue
		}
		p, err := Provider(v)
		if err != nil {
			return nil, err
		}
		f.chain = append(f.chain, p)
	}
	if len(f.chain) == 0 {
		return nil, fmt.Errorf("resolve: no enabled provider variants")
	}
	return f, nil
}

// fallbackProvider tries each provider in order until one answers.
type fallbackProvider struct {
	chain  []parley.Provider
	logger *slog.Logger
}

// Name returns the primary provider's name.
func (f *fallbackProvider) Name() string { return f.chain[0].Name() }

// Chat delegates to the first provider that answers. Each failure logs and
// falls through; the last error is returned when all variants fail.
func (f *fallbackProvider) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	var last error
	for _, p := range f.chain {
		resp, err := p.Chat(ctx, req)
		if err == nil {
			return resp, nil
		}
		last = err
		if ctx.Err() != nil {
			return parley.ChatResponse{}, ctx.Err()
		}
		f.logger.Warn("provider failed, falling through",
			"provider", p.Name(),
			"error", err)
	}
	return parley.ChatResponse{}, last
}

// Compile-time interface check.
var _ parley.Provider = (*fallbackProvider)(nil)
