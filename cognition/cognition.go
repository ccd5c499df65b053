// Package cognition implements the dual-stream reasoning stage: a
// complexity-gated pipeline that analyzes the present message and recalls
// memory in parallel, then merges both into an inner monologue and response
// strategy injected into the final prompt.
//
// Every LLM response here is untrusted input: parsing is defensive and any
// failure degrades to documented defaults. Nothing propagates past this
// package as an error.
package cognition

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/memory"
)

// Present is stream 1: what the user is saying right now.
type Present struct {
	RawMessage     string   `json:"raw_message"`
	Sentiment      string   `json:"sentiment"`
	Intent         string   `json:"intent"`
	Claims         []string `json:"claims"`
	EmotionalState string   `json:"emotional_state"`
	Topics         []string `json:"topics"`
	Pattern        string   `json:"conversational_pattern"`
}

// Recall is stream 2: what is known from history.
type Recall struct {
	RelevantFacts       []string `json:"relevant_facts"`
	RelationshipContext string   `json:"relationship_context"`
	GraphConnections    string   `json:"graph_connections"`
}

// Merge is the fused result of both streams. Ephemeral per turn.
type Merge struct {
	Thought          string   `json:"thought,omitempty"` // deep path only
	TensionLevel     float64  `json:"tension_level"`
	TensionType      string   `json:"tension_type"`
	Contradictions   []string `json:"contradictions"`
	ResponseStrategy string   `json:"response_strategy"`
	SuggestedTone    string   `json:"suggested_tone"`
	InnerMonologue   string   `json:"inner_monologue"`
	MemoryInsights   []string `json:"memory_insights"`
	Path             string   `json:"path"`
}

func defaultMerge(path string) Merge {
	return Merge{
		TensionType:      "none",
		ResponseStrategy: "acknowledge",
		SuggestedTone:    "warm",
		InnerMonologue:   "Taking this at face value.",
		Path:             path,
	}
}

// Recaller is the slice of the memory engine the cognition stage needs.
// *memory.Engine satisfies it.
type Recaller interface {
	Query(ctx context.Context, text string, limit int, withGraph bool) memory.QueryResult
}

// Input is one turn to think about.
type Input struct {
	UserMessage string
	ChatID      string
	History     []parley.HistoryMessage
	// Target is the conversation counterpart; its graph neighborhood feeds
	// the relationship context.
	Target string
	// Trajectory optionally injects an emotional-trajectory summary into
	// the merge prompt.
	Trajectory string
}

// Engine runs the dual-stream pipeline.
type Engine struct {
	llm       parley.Provider
	recall    Recaller
	graph     parley.GraphStore
	greetings map[string]bool
	logger    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

// WithGraph attaches the knowledge graph for relationship context.
func WithGraph(g parley.GraphStore) Option {
	return func(e *Engine) { e.graph = g }
}

// WithGreetings replaces the fast-path greeting set.
func WithGreetings(words []string) Option {
	return func(e *Engine) {
		e.greetings = make(map[string]bool, len(words))
		for _, w := range words {
			e.greetings[strings.ToLower(strings.TrimSpace(w))] = true
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.logger = l }
}

// NewEngine creates an Engine. llm may be nil, in which case every path
// degrades to defaults without calling out.
func NewEngine(llm parley.Provider, recall Recaller, opts ...Option) *Engine {
	e := &Engine{
		llm:       llm,
		recall:    recall,
		greetings: defaultGreetings(),
		logger:    nopLogger,
	}
	for _, o := range opts {
		o(e)
	}
	return e
}

// Think classifies the message and runs the matching path. It never returns
// an error: failures degrade to a default merge.
func (e *Engine) Think(ctx context.Context, in Input) Merge {
	path := e.Classify(in.UserMessage, len(in.History))

	switch path {
	case PathFast:
		m := defaultMerge(PathFast)
		m.InnerMonologue = "Simple message"
		return m
	case PathDeep:
		return e.think(ctx, in, PathDeep)
	default:
		return e.think(ctx, in, PathStandard)
	}
}

func (e *Engine) think(ctx context.Context, in Input, path string) Merge {
	searchQuery := in.UserMessage
	if path == PathDeep {
		if q := e.extractSearchIntent(ctx, in.UserMessage); q != "" {
			searchQuery = q
		}
	}

	var (
		wg      sync.WaitGroup
		present Present
		recall  Recall
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		present = e.analyzePresent(ctx, in)
	}()
	go func() {
		defer wg.Done()
		recall = e.recallMemory(ctx, searchQuery, in.Target)
	}()
	wg.Wait()

	return e.merge(ctx, present, recall, in.Trajectory, path)
}

// recallMemory runs the memory query and the counterpart's graph
// neighborhood. Both are best-effort.
func (e *Engine) recallMemory(ctx context.Context, query, target string) Recall {
	var r Recall
	if e.recall != nil {
		res := e.recall.Query(ctx, query, 5, true)
		for _, hit := range res.Results {
			r.RelevantFacts = append(r.RelevantFacts, hit.Content)
		}
		r.GraphConnections = res.GraphContext
	}
	if e.graph != nil && target != "" {
		block, err := e.graph.Neighborhood(ctx, target, 20)
		if err != nil {
			e.logger.Warn("cognition: relationship context failed", "target", target, "error", err)
		} else {
			r.RelationshipContext = block
		}
	}
	return r
}

const presentPrompt = `Analyze this message. Return JSON only.

%sMessage: %q

Return:
{
  "sentiment": "positive|negative|neutral",
  "intent": "question|statement|request|venting|bragging|deflecting",
  "claims": ["factual claims user is making"],
  "emotional_state": "calm|excited|defensive|vulnerable|evasive|guilty",
  "topics": ["key topics"],
  "conversational_pattern": "single_turn|continuation|topic_shift|callback|escalation"
}

JSON only:`

func (e *Engine) analyzePresent(ctx context.Context, in Input) Present {
	p := Present{
		RawMessage:     in.UserMessage,
		Sentiment:      "neutral",
		Intent:         "statement",
		EmotionalState: "calm",
		Pattern:        "single_turn",
	}
	if e.llm == nil {
		return p
	}

	var history strings.Builder
	tail := in.History
	if len(tail) > 3 {
		tail = tail[len(tail)-3:]
	}
	if len(tail) > 0 {
		history.WriteString("Recent conversation:\n")
		for _, h := range tail {
			fmt.Fprintf(&history, "%s: %s\n", h.Role, h.Content)
		}
		history.WriteString("\n")
	}

	temp := 0.1
	resp, err := e.llm.Chat(ctx, parley.ChatRequest{
		Messages:    []parley.ChatMessage{parley.UserMessage(fmt.Sprintf(presentPrompt, history.String(), in.UserMessage))},
		Temperature: &temp,
		MaxTokens:   300,
	})
	if err != nil {
		e.logger.Warn("cognition: present stream failed", "error", err)
		return p
	}

	var data struct {
		Sentiment      string   `json:"sentiment"`
		Intent         string   `json:"intent"`
		Claims         []string `json:"claims"`
		EmotionalState string   `json:"emotional_state"`
		Topics         []string `json:"topics"`
		Pattern        string   `json:"conversational_pattern"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &data); err != nil {
		e.logger.Warn("cognition: present stream unparseable", "error", err)
		return p
	}
	if data.Sentiment != "" {
		p.Sentiment = data.Sentiment
	}
	if data.Intent != "" {
		p.Intent = data.Intent
	}
	if data.EmotionalState != "" {
		p.EmotionalState = data.EmotionalState
	}
	if data.Pattern != "" {
		p.Pattern = data.Pattern
	}
	p.Claims = data.Claims
	p.Topics = data.Topics
	return p
}

const intentPrompt = `Extract 1-3 focused search terms that capture what this message is about.
Respond with ONLY the terms separated by spaces. No prose.

Message: %q`

// extractSearchIntent asks for 1-3 focused query terms on the deep path.
// Returns "" on any failure so the caller falls back to the raw message.
func (e *Engine) extractSearchIntent(ctx context.Context, message string) string {
	if e.llm == nil {
		return ""
	}
	temp := 0.0
	resp, err := e.llm.Chat(ctx, parley.ChatRequest{
		Messages:    []parley.ChatMessage{parley.UserMessage(fmt.Sprintf(intentPrompt, message))},
		Temperature: &temp,
		MaxTokens:   32,
	})
	if err != nil {
		e.logger.Warn("cognition: search intent failed", "error", err)
		return ""
	}
	terms := strings.Fields(stripThinking(resp.Content))
	if len(terms) == 0 {
		return ""
	}
	if len(terms) > 3 {
		terms = terms[:3]
	}
	return strings.Join(terms, " ")
}

const mergePromptHeader = `You are the inner thinking process of a close friend AI.

WHAT THEY JUST SAID:
  Message: %q
  Intent: %s
  Claims: %s
  Emotional state: %s

WHAT I KNOW FROM MEMORY:
  Past facts: %s
  Relationship: %s
`

const mergePromptTail = `
Think: does their message align with or contradict what you know?

Return JSON only:
{%s
  "tension_level": 0.0 to 1.0,
  "tension_type": "none|mild_inconsistency|pattern_break|direct_contradiction|growth",
  "contradictions": ["list contradictions"],
  "response_strategy": "acknowledge|challenge|support|redirect|quiz|celebrate",
  "suggested_tone": "warm|playful|concerned|firm|proud|teasing",
  "inner_monologue": "1-2 sentences of what you're THINKING (not saying)"
}

JSON only:`

func (e *Engine) merge(ctx context.Context, present Present, recall Recall, trajectory, path string) Merge {
	m := defaultMerge(path)
	if len(recall.RelevantFacts) > 3 {
		m.MemoryInsights = recall.RelevantFacts[:3]
	} else {
		m.MemoryInsights = recall.RelevantFacts
	}
	if e.llm == nil {
		return m
	}

	facts := recall.RelevantFacts
	if len(facts) > 5 {
		facts = facts[:5]
	}
	factsJSON, _ := json.Marshal(facts)
	claimsJSON, _ := json.Marshal(present.Claims)
	relationship := recall.RelationshipContext
	if relationship == "" {
		relationship = "None"
	} else if len(relationship) > 400 {
		relationship = relationship[:400]
	}

	var b strings.Builder
	fmt.Fprintf(&b, mergePromptHeader,
		present.RawMessage, present.Intent, claimsJSON, present.EmotionalState, factsJSON, relationship)
	if trajectory != "" {
		fmt.Fprintf(&b, "\nEMOTIONAL TRAJECTORY:\n  %s\n", trajectory)
	}
	thoughtField := ""
	if path == PathDeep {
		b.WriteString("\nFirst think step by step about alignment and contradiction, then answer.\n")
		thoughtField = "\n  \"thought\": \"your step-by-step reasoning\","
	}
	fmt.Fprintf(&b, mergePromptTail, thoughtField)

	temp := 0.3
	resp, err := e.llm.Chat(ctx, parley.ChatRequest{
		Messages:    []parley.ChatMessage{parley.UserMessage(b.String())},
		Temperature: &temp,
		MaxTokens:   400,
	})
	if err != nil {
		e.logger.Warn("cognition: merge failed", "error", err)
		return m
	}

	var data struct {
		Thought          string   `json:"thought"`
		TensionLevel     float64  `json:"tension_level"`
		TensionType      string   `json:"tension_type"`
		Contradictions   []string `json:"contradictions"`
		ResponseStrategy string   `json:"response_strategy"`
		SuggestedTone    string   `json:"suggested_tone"`
		InnerMonologue   string   `json:"inner_monologue"`
	}
	if err := json.Unmarshal([]byte(extractJSONObject(resp.Content)), &data); err != nil {
		e.logger.Warn("cognition: merge unparseable", "error", err)
		return m
	}

	if path == PathDeep {
		m.Thought = data.Thought
	}
	m.TensionLevel = clamp01(data.TensionLevel)
	if data.TensionType != "" {
		m.TensionType = data.TensionType
	}
	m.Contradictions = data.Contradictions
	if data.ResponseStrategy != "" {
		m.ResponseStrategy = data.ResponseStrategy
	}
	if data.SuggestedTone != "" {
		m.SuggestedTone = data.SuggestedTone
	}
	if data.InnerMonologue != "" {
		m.InnerMonologue = data.InnerMonologue
	}
	return m
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
