// Package gemini implements the Google Gemini chat and embedding providers
// over the direct-API-key transport.
package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/nevindra/parley"
)

var baseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini implements parley.Provider for Google Gemini models.
type Gemini struct {
	apiKey     string
	model      string
	httpClient *http.Client

	temperature     float64
	topP            float64
	thinkingEnabled bool
}

// New creates a Gemini chat provider. model is the default; requests may
// override it per call for flash/pro routing.
func New(apiKey, model string, opts ...Option) *Gemini {
	g := &Gemini{
		apiKey:      apiKey,
		model:       model,
		httpClient:  &http.Client{},
		temperature: 0.1,
		topP:        0.9,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Name returns "gemini".
func (g *Gemini) Name() string { return "gemini" }

// Chat sends a generateContent request and returns the complete response.
func (g *Gemini) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	model := req.Model
	if model == "" {
		model = g.model
	}
	body := g.buildBody(req)

	payload, err := json.Marshal(body)
	if err != nil {
		return parley.ChatResponse{}, g.wrapErr("marshal body: " + err.Error())
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", baseURL, model, g.apiKey)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
	if err != nil {
		return parley.ChatResponse{}, g.wrapErr("create request: " + err.Error())
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.httpClient.Do(httpReq)
	if err != nil {
		return parley.ChatResponse{}, g.wrapErr("request failed: " + err.Error())
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return parley.ChatResponse{}, g.wrapErr("read response body: " + err.Error())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return parley.ChatResponse{}, httpErr(resp, string(respBody))
	}

	var parsed geminiResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return parley.ChatResponse{}, g.wrapErr("parse response JSON: " + err.Error())
	}

	var content, thinking strings.Builder
	if len(parsed.Candidates) > 0 {
		for _, part := range parsed.Candidates[0].Content.Parts {
			if part.Text == nil {
				continue
			}
			if part.Thought {
				thinking.WriteString(*part.Text)
				continue
			}
			content.WriteString(*part.Text)
		}
	}

	var usage parley.Usage
	if parsed.UsageMetadata != nil {
		usage.InputTokens = parsed.UsageMetadata.PromptTokenCount
		usage.OutputTokens = parsed.UsageMetadata.CandidatesTokenCount
	}

	return parley.ChatResponse{
		Content:  content.String(),
		Thinking: thinking.String(),
		Model:    model,
		Usage:    usage,
	}, nil
}

// buildBody constructs the generateContent request body. System messages
// accumulate into systemInstruction; user/assistant turns become contents.
func (g *Gemini) buildBody(req parley.ChatRequest) map[string]any {
	var systemParts []string
	var contents []map[string]any

	for _, m := range req.Messages {
		if m.Role == "system" {
			systemParts = append(systemParts, m.Content)
			continue
		}
		contents = append(contents, map[string]any{
			"role": mapRole(m.Role),
			"parts": []map[string]any{
				{"text": m.Content},
			},
		})
	}

	body := map[string]any{"contents": contents}

	if len(systemParts) > 0 {
		body["systemInstruction"] = map[string]any{
			"parts": []map[string]any{
				{"text": strings.Join(systemParts, "\n\n")},
			},
		}
	}

	temperature := g.temperature
	if req.Temperature != nil {
		temperature = *req.Temperature
	}
	genConfig := map[string]any{
		"temperature": temperature,
		"topP":        g.topP,
	}
	if req.MaxTokens > 0 {
		genConfig["maxOutputTokens"] = req.MaxTokens
	}
	if g.thinkingEnabled {
		genConfig["thinkingConfig"] = map[string]any{
			"thinkingBudget": -1,
		}
	}
	body["generationConfig"] = genConfig

	return body
}

func (g *Gemini) wrapErr(msg string) error {
	return &parley.ErrLLM{Provider: "gemini", Message: msg}
}

// httpErr creates an ErrHTTP, extracting the retry delay from the Retry-After
// header or the Gemini-specific google.rpc.RetryInfo detail in the body.
func httpErr(resp *http.Response, body string) *parley.ErrHTTP {
	ra := parley.ParseRetryAfter(resp.Header.Get("Retry-After"))
	if ra == 0 {
		ra = parseRetryInfo(body)
	}
	return &parley.ErrHTTP{
		Status:     resp.StatusCode,
		Body:       body,
		RetryAfter: ra,
	}
}

// parseRetryInfo extracts retryDelay from an error body carrying a
// google.rpc.RetryInfo detail. Returns 0 if not found or unparseable.
func parseRetryInfo(body string) time.Duration {
	var envelope struct {
		Error struct {
			Details []json.RawMessage `json:"details"`
		} `json:"error"`
	}
	if json.Unmarshal([]byte(body), &envelope) != nil {
		return 0
	}
	for _, raw := range envelope.Error.Details {
		var detail struct {
			Type       string `json:"@type"`
			RetryDelay string `json:"retryDelay"`
		}
		if json.Unmarshal(raw, &detail) != nil {
			continue
		}
		if detail.Type == "type.googleapis.com/google.rpc.RetryInfo" && detail.RetryDelay != "" {
			if d, err := time.ParseDuration(detail.RetryDelay); err == nil {
				return d
			}
		}
	}
	return 0
}

// mapRole converts standard roles to Gemini API roles.
func mapRole(role string) string {
	if role == "assistant" {
		return "model"
	}
	return role
}

// ---- Embedding provider ----

// Embedding implements parley.EmbeddingProvider for Gemini embedding models.
type Embedding struct {
	apiKey     string
	model      string
	dims       int
	httpClient *http.Client
}

// NewEmbedding creates a Gemini embedding provider.
func NewEmbedding(apiKey, model string, dims int) *Embedding {
	return &Embedding{
		apiKey:     apiKey,
		model:      model,
		dims:       dims,
		httpClient: &http.Client{},
	}
}

// Name returns "gemini".
func (e *Embedding) Name() string { return "gemini" }

// Dimensions returns the configured embedding dimensionality.
func (e *Embedding) Dimensions() int { return e.dims }

// Embed embeds each text sequentially and returns the embedding vectors.
func (e *Embedding) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	url := fmt.Sprintf("%s/models/%s:embedContent?key=%s", baseURL, e.model, e.apiKey)

	embeddings := make([][]float32, 0, len(texts))
	for _, text := range texts {
		body := map[string]any{
			"content": map[string]any{
				"parts": []map[string]any{
					{"text": text},
				},
			},
			"outputDimensionality": e.dims,
		}

		payload, err := json.Marshal(body)
		if err != nil {
			return nil, &parley.ErrLLM{Provider: "gemini", Message: "marshal embed body: " + err.Error()}
		}

		httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(string(payload)))
		if err != nil {
			return nil, &parley.ErrLLM{Provider: "gemini", Message: "create embed request: " + err.Error()}
		}
		httpReq.Header.Set("Content-Type", "application/json")

		resp, err := e.httpClient.Do(httpReq)
		if err != nil {
			return nil, &parley.ErrLLM{Provider: "gemini", Message: "embed request failed: " + err.Error()}
		}

		respBody, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			return nil, &parley.ErrLLM{Provider: "gemini", Message: "read embed response: " + err.Error()}
		}
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return nil, httpErr(resp, string(respBody))
		}

		var parsed embedResponse
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return nil, &parley.ErrLLM{Provider: "gemini", Message: "parse embed response: " + err.Error()}
		}
		if parsed.Embedding == nil {
			return nil, &parley.ErrLLM{Provider: "gemini", Message: "missing embedding.values in response"}
		}

		vec := make([]float32, len(parsed.Embedding.Values))
		for i, v := range parsed.Embedding.Values {
			vec[i] = float32(v)
		}
		embeddings = append(embeddings, vec)
	}

	return embeddings, nil
}

// ---- Response parsing types ----

type geminiResponse struct {
	Candidates    []geminiCandidate `json:"candidates"`
	UsageMetadata *geminiUsage      `json:"usageMetadata"`
}

type geminiCandidate struct {
	Content geminiContent `json:"content"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
	Role  string       `json:"role"`
}

type geminiPart struct {
	Text    *string `json:"text,omitempty"`
	Thought bool    `json:"thought,omitempty"`
}

type geminiUsage struct {
	PromptTokenCount     int `json:"promptTokenCount"`
	CandidatesTokenCount int `json:"candidatesTokenCount"`
}

type embedResponse struct {
	Embedding *embedValues `json:"embedding"`
}

type embedValues struct {
	Values []float64 `json:"values"`
}

// Compile-time interface assertions.
var (
	_ parley.Provider          = (*Gemini)(nil)
	_ parley.EmbeddingProvider = (*Embedding)(nil)
)
