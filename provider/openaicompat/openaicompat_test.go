package openaicompat

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/nevindra/parley"
)

func TestChat_RoundTrip(t *testing.T) {
	var gotAuth, gotReferer string
	var gotBody wireRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotReferer = r.Header.Get("HTTP-Referer")
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		io.WriteString(w, `{
			"model": "served-model",
			"choices": [{"message": {"content": "hi back"}}],
			"usage": {"prompt_tokens": 9, "completion_tokens": 3}
		}`)
	}))
	defer srv.Close()

	p := New("sk-test", "default-model", srv.URL,
		WithName("openrouter"),
		WithHeader("HTTP-Referer", "https://example.test"))

	resp, err := p.Chat(context.Background(), parley.ChatRequest{
		Model:    "override-model",
		Messages: []parley.ChatMessage{{Role: "user", Content: "hi"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "hi back" || resp.Model != "served-model" {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Usage.InputTokens != 9 || resp.Usage.OutputTokens != 3 {
		t.Fatalf("usage = %+v", resp.Usage)
	}
	if gotAuth != "Bearer sk-test" {
		t.Fatalf("auth = %q", gotAuth)
	}
	if gotReferer != "https://example.test" {
		t.Fatalf("referer = %q", gotReferer)
	}
	if gotBody.Model != "override-model" {
		t.Fatalf("model sent = %q", gotBody.Model)
	}
	if p.Name() != "openrouter" {
		t.Fatalf("name = %q", p.Name())
	}
}

func TestChat_HTTPErrorWithRetryAfter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Retry-After", "30")
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, "slow down")
	}))
	defer srv.Close()

	p := New("k", "m", srv.URL)
	_, err := p.Chat(context.Background(), parley.ChatRequest{
		Messages: []parley.ChatMessage{{Role: "user", Content: "x"}},
	})
	var httpErr *parley.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %T, want ErrHTTP", err)
	}
	if httpErr.Status != 429 || httpErr.RetryAfter != 30*time.Second {
		t.Fatalf("err = %+v", httpErr)
	}
}

func TestChat_EmptyChoices(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"choices": []}`)
	}))
	defer srv.Close()

	p := New("k", "m", srv.URL)
	_, err := p.Chat(context.Background(), parley.ChatRequest{
		Messages: []parley.ChatMessage{{Role: "user", Content: "x"}},
	})
	var llmErr *parley.ErrLLM
	if !errors.As(err, &llmErr) {
		t.Fatalf("err = %T, want ErrLLM", err)
	}
}
