package gemini

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

// withTestServer points the package baseURL at a test server for the
// duration of one test.
func withTestServer(t *testing.T, handler http.HandlerFunc) {
	t.Helper()
	srv := httptest.NewServer(handler)
	old := baseURL
	baseURL = srv.URL
	t.Cleanup(func() {
		baseURL = old
		srv.Close()
	})
}

func TestChat_ParsesContentAndUsage(t *testing.T) {
	var gotBody map[string]any
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		io.WriteString(w, `{
			"candidates": [{"content": {"parts": [
				{"text": "thinking...", "thought": true},
				{"text": "Hello there"}
			]}}],
			"usageMetadata": {"promptTokenCount": 12, "candidatesTokenCount": 4}
		}`)
	})

	g := New("key", "flash-model")
	resp, err := g.Chat(context.Background(), parley.ChatRequest{
		Messages: []parley.ChatMessage{
			{Role: "system", Content: "be brief"},
			{Role: "user", Content: "hi"},
		},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if resp.Content != "Hello there" {
		t.Fatalf("content = %q", resp.Content)
	}
	if resp.Thinking != "thinking..." {
		t.Fatalf("thinking = %q", resp.Thinking)
	}
	if resp.Model != "flash-model" {
		t.Fatalf("model = %q", resp.Model)
	}
	if resp.Usage.InputTokens != 12 || resp.Usage.OutputTokens != 4 {
		t.Fatalf("usage = %+v", resp.Usage)
	}

	if _, ok := gotBody["systemInstruction"]; !ok {
		t.Fatal("system message not lifted into systemInstruction")
	}
	contents := gotBody["contents"].([]any)
	if len(contents) != 1 {
		t.Fatalf("contents = %d entries, want 1", len(contents))
	}
}

func TestChat_ModelOverride(t *testing.T) {
	var gotPath string
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	})

	g := New("key", "default-model")
	_, err := g.Chat(context.Background(), parley.ChatRequest{
		Model:    "pro-model",
		Messages: []parley.ChatMessage{{Role: "user", Content: "x"}},
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	if gotPath != "/models/pro-model:generateContent" {
		t.Fatalf("path = %q", gotPath)
	}
}

func TestChat_AssistantRoleMapsToModel(t *testing.T) {
	var gotBody struct {
		Contents []struct {
			Role string `json:"role"`
		} `json:"contents"`
	}
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		json.Unmarshal(raw, &gotBody)
		io.WriteString(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]}}]}`)
	})

	g := New("key", "m")
	g.Chat(context.Background(), parley.ChatRequest{
		Messages: []parley.ChatMessage{
			{Role: "user", Content: "a"},
			{Role: "assistant", Content: "b"},
		},
	})
	if len(gotBody.Contents) != 2 || gotBody.Contents[1].Role != "model" {
		t.Fatalf("contents = %+v", gotBody.Contents)
	}
}

func TestChat_HTTPErrorCarriesRetryInfo(t *testing.T) {
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		io.WriteString(w, `{"error":{"details":[
			{"@type":"type.googleapis.com/google.rpc.RetryInfo","retryDelay":"7s"}
		]}}`)
	})

	g := New("key", "m")
	_, err := g.Chat(context.Background(), parley.ChatRequest{
		Messages: []parley.ChatMessage{{Role: "user", Content: "x"}},
	})
	var httpErr *parley.ErrHTTP
	if !errors.As(err, &httpErr) {
		t.Fatalf("err = %T %v, want ErrHTTP", err, err)
	}
	if httpErr.Status != 429 {
		t.Fatalf("status = %d", httpErr.Status)
	}
	if httpErr.RetryAfter != 7*time.Second {
		t.Fatalf("retry after = %v", httpErr.RetryAfter)
	}
}

func TestEmbed_ReturnsVectorPerText(t *testing.T) {
	calls := 0
	withTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		io.WriteString(w, `{"embedding":{"values":[0.1,0.2,0.3]}}`)
	})

	e := NewEmbedding("key", "embed-model", 3)
	vecs, err := e.Embed(context.Background(), []string{"a", "b"})
	if err != nil {
		t.Fatalf("embed: %v", err)
	}
	if len(vecs) != 2 || len(vecs[0]) != 3 {
		t.Fatalf("vecs = %v", vecs)
	}
	if calls != 2 {
		t.Fatalf("calls = %d, want one per text", calls)
	}
	if e.Dimensions() != 3 {
		t.Fatalf("dims = %d", e.Dimensions())
	}
}
