package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/nevindra/parley"
)

// rerank orders candidates by relevance to the query. With a scorer
// configured it asks the LLM for a ranking; any failure falls back to
// lexical token overlap. Either way a ranking always comes back.
func (e *Engine) rerank(ctx context.Context, query string, candidates []parley.ScoredMemory) []Hit {
	if len(candidates) == 0 {
		return []Hit{}
	}
	if e.scorer != nil {
		if hits, err := e.llmRerank(ctx, query, candidates); err == nil {
			return hits
		} else {
			e.logger.Warn("memory: llm rerank failed, using lexical fallback", "error", err)
		}
	}
	return lexicalRerank(query, candidates)
}

const rerankSystem = "You rank snippets by relevance to a query. " +
	"Respond with ONLY a JSON array of zero-based snippet indices, most relevant first. No prose."

func (e *Engine) llmRerank(ctx context.Context, query string, candidates []parley.ScoredMemory) ([]Hit, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Query: %s\n\nSnippets:\n", query)
	for i, c := range candidates {
		fmt.Fprintf(&b, "[%d] %s\n", i, c.Content)
	}

	temp := 0.0
	resp, err := e.scorer.Chat(ctx, parley.ChatRequest{
		Messages: []parley.ChatMessage{
			parley.SystemMessage(rerankSystem),
			parley.UserMessage(b.String()),
		},
		Temperature: &temp,
		MaxTokens:   256,
	})
	if err != nil {
		return nil, err
	}

	var order []int
	if err := json.Unmarshal([]byte(extractJSONArray(resp.Content)), &order); err != nil {
		return nil, fmt.Errorf("memory: rerank response not a valid index array: %w", err)
	}

	seen := make(map[int]bool)
	hits := make([]Hit, 0, len(candidates))
	for _, idx := range order {
		if idx < 0 || idx >= len(candidates) || seen[idx] {
			continue
		}
		seen[idx] = true
		c := candidates[idx]
		hits = append(hits, Hit{Content: c.Content, Score: c.Combined, Source: "reranked"})
	}
	// Indices the model omitted keep their combined-score order at the tail.
	for i, c := range candidates {
		if !seen[i] {
			hits = append(hits, Hit{Content: c.Content, Score: c.Combined, Source: "reranked"})
		}
	}
	return hits, nil
}

// lexicalRerank scores candidates by query-token overlap, breaking ties with
// the combined score.
func lexicalRerank(query string, candidates []parley.ScoredMemory) []Hit {
	qTokens := tokenize(query)

	type scored struct {
		hit     Hit
		overlap float64
	}
	all := make([]scored, 0, len(candidates))
	for _, c := range candidates {
		overlap := tokenOverlap(qTokens, tokenize(c.Content))
		all = append(all, scored{
			hit:     Hit{Content: c.Content, Score: c.Combined, Source: "reranked"},
			overlap: overlap,
		})
	}
	sort.SliceStable(all, func(i, j int) bool {
		if all[i].overlap != all[j].overlap {
			return all[i].overlap > all[j].overlap
		}
		return all[i].hit.Score > all[j].hit.Score
	})

	hits := make([]Hit, len(all))
	for i, s := range all {
		hits[i] = s.hit
	}
	return hits
}

func tokenize(s string) map[string]bool {
	tokens := make(map[string]bool)
	for _, w := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z') && !('0' <= r && r <= '9')
	}) {
		if len(w) > 2 {
			tokens[w] = true
		}
	}
	return tokens
}

func tokenOverlap(a, b map[string]bool) float64 {
	if len(a) == 0 {
		return 0
	}
	n := 0
	for t := range a {
		if b[t] {
			n++
		}
	}
	return float64(n) / float64(len(a))
}

// extractJSONArray returns the outermost [...] block of s, or s unchanged
// when no brackets are present.
func extractJSONArray(s string) string {
	start := strings.Index(s, "[")
	end := strings.LastIndex(s, "]")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
