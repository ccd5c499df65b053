// Package memory implements the hybrid memory engine: vector retrieval with
// temporal and importance scoring, a knowledge-graph context join, a
// fast-gate short circuit that skips reranking when confidence is high, and
// an append-only write path with a JSONL backup log.
package memory

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nevindra/parley"
)

// Retrieval tiers reported by Query.
const (
	TierFastGate = "fast_gate"
	TierReranked = "reranked"
	TierError    = "error"
)

// Routing labels reported by Query.
const (
	RouteHistorical = "Historical"
	RouteCurrent    = "Current State"
	RouteDefault    = "Default (Hybrid)"
)

// Hit is one retrieved memory with its final score.
type Hit struct {
	Content string  `json:"content"`
	Score   float64 `json:"score"`
	Source  string  `json:"source"`
}

// QueryResult is the full retrieval answer. A failed store or embedder call
// yields Tier == TierError with empty results; retrieval failures never
// propagate as errors.
type QueryResult struct {
	Results      []Hit    `json:"results"`
	Tier         string   `json:"tier"`
	Entities     []string `json:"entities"`
	GraphContext string   `json:"graph_context"`
	Routing      string   `json:"routing"`
}

// AddResult reports a successful write.
type AddResult struct {
	Status string `json:"status"`
	ID     string `json:"id"`
}

// Engine is the hybrid memory engine. The graph store and entity gate are
// shared with the rest of the pipeline, never duplicated.
type Engine struct {
	index    parley.MemoryIndex
	embedder parley.EmbeddingProvider
	graph    parley.GraphStore
	entities *EntityGate
	scorer   parley.Provider // optional; reranking and importance refinement
	logger   *slog.Logger

	backupPath string
	now        func() int64 // unix seconds; swappable in tests
}

// Option configures an Engine.
type Option func(*Engine)

// WithGraph attaches a shared knowledge graph for context joins.
func WithGraph(g parley.GraphStore) Option {
	return func(e *Engine) { e.graph = g }
}

// WithEntities attaches a shared entity gate.
func WithEntities(g *EntityGate) Option {
	return func(e *Engine) { e.entities = g }
}

// WithScorer attaches an LLM used for reranking and grey-zone importance
// refinement. Without it both fall back to lexical heuristics.
func WithScorer(p parley.Provider) Option {
	return func(e *Engine) { e.scorer = p }
}

// WithBackupLog sets the JSONL append-only backup file for writes.
func WithBackupLog(path string) Option {
	return func(e *Engine) { e.backupPath = path }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine over a vector index and an embedder.
func NewEngine(index parley.MemoryIndex, embedder parley.EmbeddingProvider, opts ...Option) *Engine {
	e := &Engine{
		index:    index,
		embedder: embedder,
		entities: NewEntityGate(),
		logger:   nopLogger,
		now:      parley.NowUnix,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Temporal routing vocabularies. Matching is substring over the lowercased
// query, as the routing label is informational.
var (
	historicalMarkers = []string{"was", "did", "history", "back then", "past"}
	currentMarkers    = []string{"current", "now", "latest", "status", "currently", "today"}
)

// Query runs the hybrid retrieval: entities → graph context → temporal
// routing → vector search with combined scoring → fast gate or rerank.
func (e *Engine) Query(ctx context.Context, text string, limit int, withGraph bool) QueryResult {
	if limit <= 0 {
		limit = 5
	}

	entities := e.entities.Extract(text)

	graphContext := ""
	if withGraph && len(entities) > 0 && e.graph != nil {
		var blocks []string
		for _, ent := range entities {
			block, err := e.graph.Neighborhood(ctx, ent, 20)
			if err != nil {
				e.logger.Warn("memory: graph context failed", "entity", ent, "error", err)
				continue
			}
			if block != "" {
				blocks = append(blocks, block)
			}
		}
		graphContext = strings.Join(blocks, "\n\n")
	}

	routing := routeQuery(text)

	vecs, err := e.embedder.Embed(ctx, []string{text})
	if err != nil || len(vecs) == 0 {
		e.logger.Warn("memory: query embedding failed", "error", err)
		// Entities and graph context survived; callers can still use them.
		return QueryResult{Results: []Hit{}, Tier: TierError, Entities: entities, GraphContext: graphContext, Routing: routing}
	}

	candidates, err := e.index.Search(ctx, vecs[0], limit*3)
	if err != nil {
		e.logger.Warn("memory: vector search failed", "error", err)
		return QueryResult{Results: []Hit{}, Tier: TierError, Entities: entities, GraphContext: graphContext, Routing: routing}
	}

	nowSec := e.now()
	for i := range candidates {
		c := &candidates[i]
		c.Temporal = temporalScore(c.CreatedAt, nowSec)
		c.Combined = 0.4*c.Similarity + 0.3*c.Temporal + 0.3*(float64(c.Importance)/10)
	}
	sortByCombined(candidates)

	// Fast gate: high combined confidence plus an entity-grounding check.
	var fast []Hit
	for _, c := range candidates {
		if c.Combined > 0.80 && entityMatch(entities, c.Content) {
			fast = append(fast, Hit{Content: c.Content, Score: c.Combined, Source: "vector_fast"})
		}
	}
	if len(fast) >= limit {
		return QueryResult{
			Results:      fast[:limit],
			Tier:         TierFastGate,
			Entities:     entities,
			GraphContext: graphContext,
			Routing:      routing,
		}
	}

	ranked := e.rerank(ctx, text, candidates)
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	return QueryResult{
		Results:      ranked,
		Tier:         TierReranked,
		Entities:     entities,
		GraphContext: graphContext,
		Routing:      routing,
	}
}

// Add writes one memory: backup JSONL entry first, then the index document
// with its embedding. The index is the retriable layer; the backup log is
// the source of truth for disaster recovery.
func (e *Engine) Add(ctx context.Context, content, category string) (AddResult, error) {
	if category == "" {
		category = "direct_entry"
	}
	if err := e.appendBackup(content, category); err != nil {
		e.logger.Warn("memory: backup append failed", "error", err)
	}

	importance := e.refineImportance(ctx, content, ScoreImportance(content))

	var embedding []float32
	vecs, err := e.embedder.Embed(ctx, []string{content})
	if err != nil {
		e.logger.Warn("memory: write embedding failed, storing without vector", "error", err)
	} else if len(vecs) > 0 {
		embedding = vecs[0]
	}

	var entity string
	if ents := e.entities.Extract(content); len(ents) > 0 {
		entity = ents[0]
	}

	rec := parley.MemoryRecord{
		ID:         parley.NewID(),
		Content:    content,
		Entity:     entity,
		Category:   category,
		Importance: importance,
		CreatedAt:  e.now(),
	}
	if err := e.index.AddMemory(ctx, rec, embedding); err != nil {
		return AddResult{}, err
	}
	e.logger.Debug("memory: stored", "id", rec.ID, "category", category, "importance", importance)
	return AddResult{Status: "queued", ID: rec.ID}, nil
}

// Stats reports the index size for health reporting.
func (e *Engine) Stats(ctx context.Context) (parley.MemoryStats, error) {
	return e.index.Stats(ctx)
}

func (e *Engine) appendBackup(content, category string) error {
	if e.backupPath == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(e.backupPath), 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(e.backupPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	entry := map[string]any{"timestamp": e.now(), "category": category, "content": content}
	line, err := json.Marshal(entry)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(f, "%s\n", line)
	return err
}

// temporalScore decays with age: 1/(1+ln(1+age_days)), floored at 0.5 when
// the record carries no timestamp.
func temporalScore(createdAt, nowSec int64) float64 {
	if createdAt == 0 {
		return 0.5
	}
	ageDays := float64(nowSec-createdAt) / 86400
	if ageDays < 0 {
		ageDays = 0
	}
	return 1 / (1 + math.Log1p(ageDays))
}

func routeQuery(text string) string {
	lower := strings.ToLower(text)
	for _, m := range historicalMarkers {
		if strings.Contains(lower, m) {
			return RouteHistorical
		}
	}
	if containsYear(lower) {
		return RouteHistorical
	}
	for _, m := range currentMarkers {
		if strings.Contains(lower, m) {
			return RouteCurrent
		}
	}
	return RouteDefault
}

// containsYear detects a standalone 19xx/20xx token.
func containsYear(lower string) bool {
	for i := 0; i+4 <= len(lower); i++ {
		if lower[i] != '1' && lower[i] != '2' {
			continue
		}
		if !allDigits(lower[i : i+4]) {
			continue
		}
		if lower[i] == '1' && lower[i+1] != '9' {
			continue
		}
		if lower[i] == '2' && lower[i+1] != '0' {
			continue
		}
		beforeOK := i == 0 || !isWordByte(lower[i-1])
		afterOK := i+4 == len(lower) || !isWordByte(lower[i+4])
		if beforeOK && afterOK {
			return true
		}
	}
	return false
}

func allDigits(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}

func entityMatch(entities []string, content string) bool {
	if len(entities) == 0 {
		return true
	}
	lower := strings.ToLower(content)
	for _, e := range entities {
		if strings.Contains(lower, strings.ToLower(e)) {
			return true
		}
	}
	return false
}

func sortByCombined(ms []parley.ScoredMemory) {
	sort.Slice(ms, func(i, j int) bool { return ms[i].Combined > ms[j].Combined })
}
