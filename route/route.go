// Package route implements traffic-cop model routing: a one-word LLM
// classification of the outbound prompt picks a flash-class or pro-class
// model for the final generation.
package route

import (
	"context"
	"log/slog"
	"strings"

	"github.com/nevindra/parley"
)

// Label is a routing class.
type Label string

const (
	Casual   Label = "CASUAL"
	Coding   Label = "CODING"
	Analysis Label = "ANALYSIS"
	Review   Label = "REVIEW"
)

const classifySystem = `Classify this message. Reply with EXACTLY ONE WORD: CASUAL, CODING, ANALYSIS, or REVIEW.

- CODING: Write code, debug, script, API, python.
- ANALYSIS (Synthesis/Data): Summarize logs, explain history, deep dive, data aggregation.
- REVIEW (Critique/Judgment): Grade this, find flaws, audit, critique logic, opinion.
- CASUAL: Chat, greetings, daily life, simple questions.`

// Router classifies messages and maps labels to model IDs.
type Router struct {
	llm        parley.Provider
	flashModel string
	proModel   string
	logger     *slog.Logger
}

// Option configures a Router.
type Option func(*Router)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(r *Router) { r.logger = l }
}

// New creates a Router. Classification runs on the llm's default model;
// flashModel serves CASUAL/CODING, proModel serves ANALYSIS/REVIEW.
func New(llm parley.Provider, flashModel, proModel string, opts ...Option) *Router {
	r := &Router{
		llm:        llm,
		flashModel: flashModel,
		proModel:   proModel,
		logger:     nopLogger,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// Classify returns the routing label for a message. Any LLM failure or
// unrecognized reply falls back to CASUAL.
func (r *Router) Classify(ctx context.Context, text string) Label {
	temp := 0.0
	resp, err := r.llm.Chat(ctx, parley.ChatRequest{
		Messages: []parley.ChatMessage{
			{Role: "system", Content: classifySystem},
			{Role: "user", Content: text},
		},
		Temperature: &temp,
		MaxTokens:   100,
	})
	if err != nil {
		r.logger.Warn("route: classification failed", "error", err)
		return Casual
	}

	label := parseLabel(resp.Content)
	r.logger.Debug("route: classified", "label", label)
	return label
}

// Model returns the model ID for a label.
func (r *Router) Model(label Label) string {
	switch label {
	case Analysis, Review:
		return r.proModel
	default:
		return r.flashModel
	}
}

// Route classifies text and returns the label with its model ID.
func (r *Router) Route(ctx context.Context, text string) (Label, string) {
	label := r.Classify(ctx, text)
	return label, r.Model(label)
}

// parseLabel extracts a label from an LLM reply: uppercase, strip
// everything but letters, match exactly. Anything else is CASUAL.
func parseLabel(s string) Label {
	var b strings.Builder
	for _, c := range strings.ToUpper(strings.TrimSpace(s)) {
		if c >= 'A' && c <= 'Z' {
			b.WriteRune(c)
		}
	}
	switch Label(b.String()) {
	case Coding:
		return Coding
	case Analysis:
		return Analysis
	case Review:
		return Review
	default:
		return Casual
	}
}
