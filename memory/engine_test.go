package memory

import (
	"context"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/nevindra/parley"
)

type fakeIndex struct {
	records []parley.ScoredMemory
	added   []parley.MemoryRecord
	failSearch bool
}

func (f *fakeIndex) AddMemory(ctx context.Context, rec parley.MemoryRecord, emb []float32) error {
	f.added = append(f.added, rec)
	return nil
}

func (f *fakeIndex) Search(ctx context.Context, emb []float32, topK int) ([]parley.ScoredMemory, error) {
	if f.failSearch {
		return nil, errors.New("index down")
	}
	if topK > len(f.records) {
		topK = len(f.records)
	}
	out := make([]parley.ScoredMemory, topK)
	copy(out, f.records[:topK])
	return out, nil
}

func (f *fakeIndex) Stats(ctx context.Context) (parley.MemoryStats, error) {
	return parley.MemoryStats{Documents: int64(len(f.records))}, nil
}

type fakeEmbedder struct{ fail bool }

func (f *fakeEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if f.fail {
		return nil, errors.New("embedder down")
	}
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0, 0}
	}
	return out, nil
}
func (f *fakeEmbedder) Dimensions() int { return 3 }
func (f *fakeEmbedder) Name() string    { return "fake" }

type fakeScorer struct {
	reply string
	err   error
	calls int
}

func (f *fakeScorer) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	f.calls++
	if f.err != nil {
		return parley.ChatResponse{}, f.err
	}
	return parley.ChatResponse{Content: f.reply}, nil
}
func (f *fakeScorer) Name() string { return "fake" }

func mem(content string, sim float64, importance int, createdAt int64) parley.ScoredMemory {
	return parley.ScoredMemory{
		MemoryRecord: parley.MemoryRecord{Content: content, Importance: importance, CreatedAt: createdAt},
		Similarity:   sim,
	}
}

func TestTemporalScore(t *testing.T) {
	now := int64(1_700_000_000)
	if got := temporalScore(0, now); got != 0.5 {
		t.Fatalf("no timestamp = %v, want floor 0.5", got)
	}
	if got := temporalScore(now, now); got != 1 {
		t.Fatalf("fresh = %v, want 1", got)
	}
	oneDay := temporalScore(now-86400, now)
	want := 1 / (1 + math.Log1p(1))
	if math.Abs(oneDay-want) > 1e-9 {
		t.Fatalf("1 day = %v, want %v", oneDay, want)
	}
	if temporalScore(now-30*86400, now) >= oneDay {
		t.Fatal("older memories must score lower")
	}
}

func TestRouteQuery(t *testing.T) {
	tests := []struct {
		text string
		want string
	}{
		{"what did I say about rust", RouteHistorical},
		{"back then we argued a lot", RouteHistorical},
		{"remember 2024 trip", RouteHistorical},
		{"what is the latest on the project", RouteCurrent},
		{"how are things currently", RouteCurrent},
		{"tell me about my cat", RouteDefault},
	}
	for _, tt := range tests {
		if got := routeQuery(tt.text); got != tt.want {
			t.Errorf("routeQuery(%q) = %q, want %q", tt.text, got, tt.want)
		}
	}
}

func TestEngine_QueryFastGate(t *testing.T) {
	now := parley.NowUnix()
	idx := &fakeIndex{records: []parley.ScoredMemory{
		mem("loves spicy ramen", 0.95, 9, now),
		mem("works at a bakery", 0.93, 9, now),
		mem("has a cat named Miso", 0.2, 2, 0),
	}}
	e := NewEngine(idx, &fakeEmbedder{})
	e.now = func() int64 { return now }

	res := e.Query(context.Background(), "food preferences", 2, false)
	if res.Tier != TierFastGate {
		t.Fatalf("tier = %q, want fast_gate", res.Tier)
	}
	if len(res.Results) != 2 {
		t.Fatalf("got %d results, want 2", len(res.Results))
	}
	if res.Results[0].Source != "vector_fast" {
		t.Fatalf("source = %q", res.Results[0].Source)
	}
	if res.Routing != RouteDefault {
		t.Fatalf("routing = %q", res.Routing)
	}
}

func TestEngine_QueryEntityGateBlocksFastPath(t *testing.T) {
	now := parley.NowUnix()
	idx := &fakeIndex{records: []parley.ScoredMemory{
		mem("loves spicy ramen", 0.95, 9, now),
	}}
	gate := NewEntityGate()
	gate.Add("Miso", "the cat")

	e := NewEngine(idx, &fakeEmbedder{}, WithEntities(gate))
	e.now = func() int64 { return now }

	// "Miso" is extracted but absent from the candidate text, so the fast
	// gate rejects it and the lexical reranker takes over.
	res := e.Query(context.Background(), "tell me about Miso", 1, false)
	if res.Tier != TierReranked {
		t.Fatalf("tier = %q, want reranked", res.Tier)
	}
	if len(res.Entities) != 1 || res.Entities[0] != "Miso" {
		t.Fatalf("entities = %v", res.Entities)
	}
}

func TestEngine_QueryRerankedWithLLM(t *testing.T) {
	idx := &fakeIndex{records: []parley.ScoredMemory{
		mem("first candidate", 0.3, 5, 0),
		mem("second candidate", 0.2, 5, 0),
	}}
	scorer := &fakeScorer{reply: "[1, 0]"}
	e := NewEngine(idx, &fakeEmbedder{}, WithScorer(scorer))

	res := e.Query(context.Background(), "anything", 2, false)
	if res.Tier != TierReranked {
		t.Fatalf("tier = %q", res.Tier)
	}
	if res.Results[0].Content != "second candidate" {
		t.Fatalf("top result = %q, want LLM order honored", res.Results[0].Content)
	}
	if scorer.calls != 1 {
		t.Fatalf("scorer calls = %d, want 1", scorer.calls)
	}
}

func TestEngine_QueryLexicalFallbackOnScorerFailure(t *testing.T) {
	idx := &fakeIndex{records: []parley.ScoredMemory{
		mem("nothing relevant here", 0.3, 5, 0),
		mem("the weather in tokyo today", 0.2, 5, 0),
	}}
	e := NewEngine(idx, &fakeEmbedder{}, WithScorer(&fakeScorer{err: errors.New("llm down")}))

	res := e.Query(context.Background(), "weather tokyo", 2, false)
	if res.Tier != TierReranked {
		t.Fatalf("tier = %q", res.Tier)
	}
	if res.Results[0].Content != "the weather in tokyo today" {
		t.Fatalf("top result = %q, want lexical overlap winner", res.Results[0].Content)
	}
}

func TestEngine_QueryErrorTier(t *testing.T) {
	tests := []struct {
		name string
		idx  *fakeIndex
		emb  *fakeEmbedder
	}{
		{"embedder failure", &fakeIndex{}, &fakeEmbedder{fail: true}},
		{"index failure", &fakeIndex{failSearch: true}, &fakeEmbedder{}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := NewEntityGate()
			gate.Add("Budi", "budi")
			e := NewEngine(tt.idx, tt.emb, WithEntities(gate))
			res := e.Query(context.Background(), "what does Budi like", 5, true)
			if res.Tier != TierError {
				t.Fatalf("tier = %q, want error", res.Tier)
			}
			if len(res.Results) != 0 {
				t.Fatalf("results = %v, want empty", res.Results)
			}
			// The entity pass runs before retrieval; its output survives
			// the failure so callers can degrade gracefully.
			if len(res.Entities) != 1 || res.Entities[0] != "Budi" {
				t.Fatalf("entities = %v, want [Budi]", res.Entities)
			}
		})
	}
}

func TestEngine_AddWritesBackupAndIndex(t *testing.T) {
	dir := t.TempDir()
	idx := &fakeIndex{}
	e := NewEngine(idx, &fakeEmbedder{}, WithBackupLog(dir+"/persistent_log.jsonl"))

	res, err := e.Add(context.Background(), "user got a promotion at work", "life_event")
	if err != nil {
		t.Fatalf("add: %v", err)
	}
	if res.Status != "queued" || res.ID == "" {
		t.Fatalf("result = %+v", res)
	}
	if len(idx.added) != 1 {
		t.Fatalf("indexed %d records, want 1", len(idx.added))
	}
	if idx.added[0].Category != "life_event" {
		t.Fatalf("category = %q", idx.added[0].Category)
	}
	// "promotion" is a life-event keyword: 5 + 2 = 7.
	if idx.added[0].Importance != 7 {
		t.Fatalf("importance = %d, want 7", idx.added[0].Importance)
	}

	data, err := os.ReadFile(dir + "/persistent_log.jsonl")
	if err != nil {
		t.Fatalf("backup: %v", err)
	}
	if !strings.Contains(string(data), "promotion at work") {
		t.Fatalf("backup log missing entry: %q", data)
	}
}

func TestScoreImportance(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
	}{
		{"neutral", "bought groceries at the store today as usual", 5},
		{"keyword inside longer word", "user loves their new apartment very much indeed", 7},
		{"emotional keyword", "user is excited about the concert next week", 7},
		{"stacked keywords", "so excited and proud: graduated and got a new job", 10},
		{"very short", "ok cool", 3},
		{"short but emotional", "i hate this", 5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ScoreImportance(tt.content); got != tt.want {
				t.Fatalf("ScoreImportance(%q) = %d, want %d", tt.content, got, tt.want)
			}
		})
	}
}
