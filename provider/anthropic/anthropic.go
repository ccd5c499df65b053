// Package anthropic implements parley.Provider for an Anthropic-protocol
// messages endpoint. The gateway uses it for the OAuth-proxy variant: a
// local gateway that fronts provider OAuth and accepts the proxy token in
// x-api-key.
package anthropic

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/nevindra/parley"
)

const (
	messagesPath     = "/v1/messages"
	anthropicVersion = "2023-06-01"
	defaultMaxTokens = 1024
)

// Provider implements parley.Provider over the messages protocol.
type Provider struct {
	endpoint string
	token    string
	model    string
	client   *http.Client
	name     string
}

// Option configures a Provider.
type Option func(*Provider)

// WithName sets the reported provider name (default "anthropic").
func WithName(name string) Option {
	return func(p *Provider) { p.name = name }
}

// WithHTTPClient replaces the transport client.
func WithHTTPClient(c *http.Client) Option {
	return func(p *Provider) { p.client = c }
}

// New creates a messages-protocol provider. gatewayURL may be the host base
// or the full messages endpoint; /v1/messages is appended when missing.
func New(gatewayURL, token, model string, opts ...Option) *Provider {
	endpoint := strings.TrimRight(gatewayURL, "/")
	if !strings.HasSuffix(endpoint, messagesPath) {
		endpoint += messagesPath
	}
	p := &Provider{
		endpoint: endpoint,
		token:    token,
		model:    model,
		client:   &http.Client{},
		name:     "anthropic",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name.
func (p *Provider) Name() string { return p.name }

// Chat sends a messages request and returns the complete response.
func (p *Provider) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	model = NormalizeModel(model)

	body := wireRequest{
		Model:     model,
		MaxTokens: req.MaxTokens,
	}
	if body.MaxTokens <= 0 {
		body.MaxTokens = defaultMaxTokens
	}
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	}

	// The protocol carries the system prompt as a top-level field.
	var systemParts []string
	for _, m := range req.Messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		body.Messages = append(body.Messages, parley.ChatMessage{Role: m.Role, Content: m.Content})
	}
	if len(systemParts) > 0 {
		body.System = strings.Join(systemParts, "\n\n")
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.endpoint, bytes.NewReader(payload))
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", p.token)
	httpReq.Header.Set("anthropic-version", anthropicVersion)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("read response: %v", err)}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parley.ChatResponse{}, &parley.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(respBody),
			RetryAfter: parley.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed wireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("parse response: %v", err)}
	}

	var content, thinking strings.Builder
	for _, block := range parsed.Content {
		switch block.Type {
		case "text":
			content.WriteString(block.Text)
		case "thinking":
			thinking.WriteString(block.Thinking)
		}
	}
	if content.Len() == 0 {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: "response has no text content"}
	}

	return parley.ChatResponse{
		Content:  content.String(),
		Thinking: thinking.String(),
		Model:    parsed.Model,
		Usage: parley.Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
		},
	}, nil
}

// NormalizeModel strips provider-qualified prefixes to the bare model ID
// the gateway's OAuth route expects.
func NormalizeModel(model string) string {
	for _, prefix := range []string{"google-antigravity/", "google/", "anthropic/"} {
		if strings.HasPrefix(model, prefix) {
			return strings.TrimPrefix(model, prefix)
		}
	}
	return model
}

// ---- Wire types ----

type wireRequest struct {
	Model       string               `json:"model"`
	System      string               `json:"system,omitempty"`
	Messages    []parley.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type     string `json:"type"`
		Text     string `json:"text"`
		Thinking string `json:"thinking"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Compile-time interface check.
var _ parley.Provider = (*Provider)(nil)
