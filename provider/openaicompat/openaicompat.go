// Package openaicompat implements parley.Provider for any API speaking the
// OpenAI chat completions protocol. The gateway uses it for the OpenRouter
// fallback variant; it also works against OpenAI, Groq, DeepSeek, Mistral
// and local vLLM/LM Studio endpoints.
package openaicompat

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/nevindra/parley"
)

// Provider implements parley.Provider over an OpenAI-compatible base URL.
type Provider struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
	name    string

	temperature *float64
	headers     map[string]string
}

// New creates an OpenAI-compatible chat provider. baseURL is the API base
// (e.g. "https://openrouter.ai/api/v1"); /chat/completions is appended.
func New(apiKey, model, baseURL string, opts ...Option) *Provider {
	p := &Provider{
		apiKey:  apiKey,
		model:   model,
		baseURL: baseURL,
		client:  &http.Client{},
		name:    "openai",
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name returns the provider name (default "openai", configurable).
func (p *Provider) Name() string { return p.name }

// Chat sends a non-streaming chat completion request.
func (p *Provider) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = p.model
	}
	body := wireRequest{
		Model:       model,
		Messages:    req.Messages,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}
	if body.Temperature == nil {
		body.Temperature = p.temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("marshal request: %v", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("create request: %v", err)}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if p.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("request failed: %v", err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(resp.Body)
		return parley.ChatResponse{}, &parley.ErrHTTP{
			Status:     resp.StatusCode,
			Body:       string(raw),
			RetryAfter: parley.ParseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}

	var parsed wireResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: fmt.Sprintf("decode response: %v", err)}
	}
	if len(parsed.Choices) == 0 {
		return parley.ChatResponse{}, &parley.ErrLLM{Provider: p.name, Message: "response has no choices"}
	}

	choice := parsed.Choices[0].Message
	return parley.ChatResponse{
		Content:  choice.Content,
		Thinking: choice.ReasoningContent,
		Model:    parsed.Model,
		Usage: parley.Usage{
			InputTokens:  parsed.Usage.PromptTokens,
			OutputTokens: parsed.Usage.CompletionTokens,
		},
	}, nil
}

// ---- Wire types ----

type wireRequest struct {
	Model       string               `json:"model"`
	Messages    []parley.ChatMessage `json:"messages"`
	MaxTokens   int                  `json:"max_tokens,omitempty"`
	Temperature *float64             `json:"temperature,omitempty"`
}

type wireResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content          string `json:"content"`
			ReasoningContent string `json:"reasoning_content"`
		} `json:"message"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}

// Compile-time interface check.
var _ parley.Provider = (*Provider)(nil)
