package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/cognition"
	"github.com/nevindra/parley/graph"
	"github.com/nevindra/parley/memory"
	"github.com/nevindra/parley/persona"
	"github.com/nevindra/parley/route"
)

const (
	// historyWindow is how many recent turns feed the prompt and cognition.
	historyWindow = 20

	// continuePrompt drives the follow-up task for a truncated reply.
	continuePrompt = "continue your previous answer"

	// continueMinLength is the shortest reply considered truncatable. Short
	// replies end abruptly on purpose.
	continueMinLength = 50

	// extractTimeout bounds the post-reply fact extraction call.
	extractTimeout = 30 * time.Second
)

// terminalRunes are reply endings that read as complete sentences.
const terminalRunes = `.!?"')]}`

// processor runs the full response pipeline for one task: persona framing,
// cognition, routing, the model call, history, fact extraction, and the
// auto-continue check. Safe for concurrent use by the worker pool.
type processor struct {
	llm       parley.Provider
	router    *route.Router
	memory    *memory.Engine
	cognition *cognition.Engine
	graph     *graph.Graph
	history   parley.HistoryStore
	bridge    parley.BridgeIndex
	conflicts *memory.ConflictManager
	personas  *persona.Registry
	entities  *memory.EntityGate

	// gateway is assigned after construction; the gateway needs the
	// ProcessFunc first. Set before Start, never mutated after.
	gateway *parley.Gateway

	logger *slog.Logger
}

// Process implements parley.ProcessFunc.
func (p *processor) Process(ctx context.Context, task *parley.Task) (string, error) {
	history := p.recentTurns(ctx, task.ChatID)

	system := p.buildSystem(ctx, task, history)

	var model string
	if p.router != nil {
		_, model = p.router.Route(ctx, task.UserMessage)
	}

	msgs := make([]parley.ChatMessage, 0, len(history)+2)
	if system != "" {
		msgs = append(msgs, parley.ChatMessage{Role: "system", Content: system})
	}
	for _, turn := range history {
		msgs = append(msgs, parley.ChatMessage{Role: turn.Role, Content: turn.Content})
	}
	msgs = append(msgs, parley.ChatMessage{Role: "user", Content: task.UserMessage})

	resp, err := p.llm.Chat(ctx, parley.ChatRequest{Model: model, Messages: msgs})
	if err != nil {
		p.updateBridge(ctx, task, "failed", "", err)
		return "", fmt.Errorf("chat: %w", err)
	}
	reply := strings.TrimSpace(resp.Content)

	p.appendTurns(ctx, task, reply)

	if p.memory != nil && memory.ShouldExtract(task.UserMessage) {
		go p.extractFacts(context.WithoutCancel(ctx), task, reply)
	}

	if p.shouldContinue(task, reply) {
		p.scheduleContinuation(ctx, task)
	}

	p.updateBridge(ctx, task, "done", reply, nil)
	return reply, nil
}

// buildSystem layers the persona prefix, the cognitive context, and the
// pending-conflict briefing into one system message.
func (p *processor) buildSystem(ctx context.Context, task *parley.Task, history []parley.HistoryMessage) string {
	var parts []string

	if p.personas != nil {
		if store := p.personas.Get(task.Persona); store != nil {
			if prefix := store.Prefix(); prefix != "" {
				parts = append(parts, prefix)
			}
		}
	}

	if p.cognition != nil {
		target := task.SenderName
		if target == "" {
			target = task.ChatID
		}
		merge := p.cognition.Think(ctx, cognition.Input{
			UserMessage: task.UserMessage,
			ChatID:      task.ChatID,
			History:     history,
			Target:      target,
		})
		if cog := cognition.BuildCognitiveContext(merge); cog != "" {
			parts = append(parts, cog)
		}
	}

	if p.conflicts != nil {
		if briefing := p.conflicts.BuildBriefing(); briefing != "" {
			parts = append(parts, briefing)
		}
	}

	return strings.Join(parts, "\n\n")
}

func (p *processor) recentTurns(ctx context.Context, chatID string) []parley.HistoryMessage {
	if p.history == nil {
		return nil
	}
	turns, err := p.history.RecentTurns(ctx, chatID, historyWindow)
	if err != nil {
		p.logger.Warn("processor: history read failed", "chat_id", chatID, "error", err)
		return nil
	}
	return turns
}

func (p *processor) appendTurns(ctx context.Context, task *parley.Task, reply string) {
	if p.history == nil {
		return
	}
	turns := []parley.HistoryMessage{
		{ID: task.MessageID, Role: "user", Content: task.UserMessage},
		{Role: "assistant", Content: reply},
	}
	for _, turn := range turns {
		if err := p.history.AppendTurn(ctx, task.ChatID, turn); err != nil {
			p.logger.Warn("processor: history append failed",
				"chat_id", task.ChatID, "role", turn.Role, "error", err)
		}
	}
}

// extractFacts runs post-reply fact extraction and stores what it finds.
// Runs off the worker's critical path; failures only log.
func (p *processor) extractFacts(ctx context.Context, task *parley.Task, reply string) {
	ctx, cancel := context.WithTimeout(ctx, extractTimeout)
	defer cancel()

	var model string
	if p.router != nil {
		model = p.router.Model(route.Casual)
	}
	resp, err := p.llm.Chat(ctx, parley.ChatRequest{
		Model: model,
		Messages: []parley.ChatMessage{
			{Role: "system", Content: memory.ExtractFactsPrompt},
			{Role: "user", Content: fmt.Sprintf("User: %s\nAssistant: %s", task.UserMessage, reply)},
		},
	})
	if err != nil {
		p.logger.Warn("processor: fact extraction failed", "chat_id", task.ChatID, "error", err)
		return
	}

	subject := task.SenderName
	if subject == "" {
		subject = task.ChatID
	}

	for _, fact := range memory.ParseExtractedFacts(resp.Content) {
		if !p.admitFact(subject, fact) {
			continue
		}
		if _, err := p.memory.Add(ctx, fact.Fact, fact.Category); err != nil {
			p.logger.Warn("processor: memory write failed", "error", err)
			continue
		}
		p.linkFact(ctx, subject, fact)
	}
}

// admitFact screens a superseding fact through the conflict manager. Facts
// with no predecessor are always admitted.
func (p *processor) admitFact(subject string, fact memory.ExtractedFact) bool {
	if fact.Supersedes == nil || p.conflicts == nil {
		return true
	}
	// Extraction offers no confidence signal, so both sides land in the
	// review band and contested facts go to the pending ledger.
	decision := p.conflicts.Check(subject, fact.Fact, 0.7, "conversation", *fact.Supersedes, 0.7)
	switch decision {
	case memory.DecisionNew, memory.DecisionOverwrite:
		return true
	default:
		return false
	}
}

// linkFact records the fact's first entity as a graph relation off the
// conversation counterpart.
func (p *processor) linkFact(ctx context.Context, subject string, fact memory.ExtractedFact) {
	if p.graph == nil {
		return
	}
	ents := p.entities.Extract(fact.Fact)
	if len(ents) == 0 || ents[0] == subject {
		return
	}
	if err := p.graph.AddFact(ctx, subject, fact.Category, ents[0], 0.6, fact.Fact); err != nil {
		p.logger.Warn("processor: graph write failed", "error", err)
	}
}

// shouldContinue reports whether the reply looks cut off mid-thought.
// Continuations never chain: one follow-up per original message.
func (p *processor) shouldContinue(task *parley.Task, reply string) bool {
	if task.Continuation || len(reply) <= continueMinLength {
		return false
	}
	runes := []rune(reply)
	return !strings.ContainsRune(terminalRunes, runes[len(runes)-1])
}

func (p *processor) scheduleContinuation(ctx context.Context, task *parley.Task) {
	if p.gateway == nil {
		return
	}
	follow := &parley.Task{
		ID:           parley.NewID(),
		ChatID:       task.ChatID,
		UserMessage:  continuePrompt,
		MessageID:    parley.NewID(),
		SenderName:   task.SenderName,
		IsGroup:      task.IsGroup,
		Persona:      task.Persona,
		Continuation: true,
	}
	if err := p.gateway.EnqueueTask(ctx, follow); err != nil {
		p.logger.Warn("processor: continuation enqueue failed",
			"chat_id", task.ChatID, "error", err)
		return
	}
	p.logger.Info("processor: continuation scheduled",
		"chat_id", task.ChatID, "task_id", follow.ID)
}

func (p *processor) updateBridge(ctx context.Context, task *parley.Task, status, reply string, cause error) {
	if p.bridge == nil || task.MessageID == "" {
		return
	}
	var errMsg string
	if cause != nil {
		errMsg = cause.Error()
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.bridge.UpdateStatus(ctx, task.MessageID, status, task.ID, reply, errMsg); err != nil {
		p.logger.Warn("processor: bridge update failed",
			"message_id", task.MessageID, "error", err)
	}
}
