package memory

import (
	"context"
	"strconv"
	"strings"

	"github.com/nevindra/parley"
)

// Vocabulary for the importance heuristic. Hits on emotional or life-event
// words push a memory toward the keep-forever end of the scale.
var importanceKeywords = []string{
	// emotional
	"love", "hate", "excited", "thrilled", "sad", "angry", "scared",
	"worried", "anxious", "proud", "happy", "devastated", "heartbroken",
	// life events
	"birthday", "wedding", "married", "engaged", "divorce", "anniversary",
	"funeral", "died", "death", "born", "baby", "pregnant", "graduated",
	"new job", "promotion", "fired", "quit", "moved", "hospital", "surgery",
	"diagnosed",
}

const (
	importanceBase   = 5
	shortContentRune = 20
	greyZoneLow      = 4
	greyZoneHigh     = 7
)

// ScoreImportance rates content 1..10 with a keyword heuristic: +2 per
// emotional or life-event hit, -2 for very short content, clamped.
func ScoreImportance(content string) int {
	lower := strings.ToLower(content)
	score := importanceBase
	for _, kw := range importanceKeywords {
		if strings.Contains(lower, kw) {
			score += 2
		}
	}
	if len([]rune(strings.TrimSpace(content))) < shortContentRune {
		score -= 2
	}
	if score < 1 {
		return 1
	}
	if score > 10 {
		return 10
	}
	return score
}

const importanceSystem = "You rate how important a personal memory is to remember long-term. " +
	"Respond with ONLY a single integer from 1 to 10. No prose."

// refineImportance asks the scorer to refine heuristic scores in the grey
// zone [4,7]. Confident heuristic scores and any LLM failure keep the
// heuristic value.
func (e *Engine) refineImportance(ctx context.Context, content string, heuristic int) int {
	if e.scorer == nil || heuristic < greyZoneLow || heuristic > greyZoneHigh {
		return heuristic
	}

	temp := 0.0
	resp, err := e.scorer.Chat(ctx, parley.ChatRequest{
		Messages: []parley.ChatMessage{
			parley.SystemMessage(importanceSystem),
			parley.UserMessage(content),
		},
		Temperature: &temp,
		MaxTokens:   8,
	})
	if err != nil {
		e.logger.Warn("memory: importance refinement failed", "error", err)
		return heuristic
	}

	n, err := strconv.Atoi(strings.TrimSpace(resp.Content))
	if err != nil || n < 1 || n > 10 {
		return heuristic
	}
	return n
}
