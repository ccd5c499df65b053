// Package ollama implements parley.Provider and parley.EmbeddingProvider
// over a local or LAN Ollama instance (the "vault" variant: a private model
// host reachable without cloud credentials).
package ollama

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/ollama/ollama/api"

	"github.com/nevindra/parley"
)

const defaultPort = "11434"

// Provider implements parley.Provider over the Ollama chat API.
type Provider struct {
	client *api.Client
	model  string

	temperature *float64
}

// Option configures a Provider.
type Option func(*Provider)

// WithTemperature sets a default sampling temperature. Per-request
// temperatures override it.
func WithTemperature(t float64) Option {
	return func(p *Provider) { p.temperature = &t }
}

// New creates an Ollama chat provider. host may be a bare IP/hostname, a
// host:port, or a full URL; a bare host gets http:// and the default port.
func New(host, model string, opts ...Option) (*Provider, error) {
	u, err := parseHost(host)
	if err != nil {
		return nil, err
	}
	p := &Provider{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Name returns "ollama".
func (p *Provider) Name() string { return "ollama" }

// Chat sends a non-streaming chat request.
func (p *Provider) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}

	messages := make([]api.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, api.Message{Role: m.Role, Content: m.Content})
	}

	options := map[string]any{}
	if req.Temperature != nil {
		options["temperature"] = *req.Temperature
	} else if p.temperature != nil {
		options["temperature"] = *p.temperature
	}
	if req.MaxTokens > 0 {
		options["num_predict"] = req.MaxTokens
	}

	stream := false
	apiReq := &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Options:  options,
		Stream:   &stream,
	}

	var resp parley.ChatResponse
	err := p.client.Chat(ctx, apiReq, func(r api.ChatResponse) error {
		resp.Content += r.Message.Content
		resp.Thinking += r.Message.Thinking
		if r.Done {
			resp.Model = model
			resp.Usage = parley.Usage{
				InputTokens:  r.PromptEvalCount,
				OutputTokens: r.EvalCount,
			}
		}
		return nil
	})
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: "ollama", Message: err.Error()}
	}
	return resp, nil
}

// ---- Embedding provider ----

// Embedding implements parley.EmbeddingProvider over the Ollama embed API.
type Embedding struct {
	client *api.Client
	model  string
	dims   int
}

// NewEmbedding creates an Ollama embedding provider.
func NewEmbedding(host, model string, dims int) (*Embedding, error) {
	u, err := parseHost(host)
	if err != nil {
		return nil, err
	}
	return &Embedding{
		client: api.NewClient(u, http.DefaultClient),
		model:  model,
		dims:   dims,
	}, nil
}

// Name returns "ollama".
func (e *Embedding) Name() string { return "ollama" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds texts in one batched request.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.Embed(ctx, &api.EmbedRequest{
		Model: e.model,
		Input: texts,
	})
	if err != nil {
		return nil, &parley.ErrLLM{Provider: "ollama", Message: "embed: " + err.Error()}
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, &parley.ErrLLM{
			Provider: "ollama",
			Message:  fmt.Sprintf("embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts)),
		}
	}
	return resp.Embeddings, nil
}

// parseHost normalizes a host value into the base URL the client expects.
func parseHost(host string) (*url.URL, error) {
	if host == "" {
		host = "127.0.0.1"
	}
	if !strings.Contains(host, "://") {
		host = "http://" + host
	}
	u, err := url.Parse(host)
	if err != nil {
		return nil, fmt.Errorf("ollama: invalid host %q: %w", host, err)
	}
	if u.Port() == "" {
		u.Host = u.Hostname() + ":" + defaultPort
	}
	return u, nil
}

// Compile-time interface assertions.
var (
	_ parley.Provider          = (*Provider)(nil)
	_ parley.EmbeddingProvider = (*Embedding)(nil)
)
