package cognition

import "strings"

// Complexity paths.
const (
	PathFast     = "fast"
	PathStandard = "standard"
	PathDeep     = "deep"
)

var contradictionMarkers = []string{
	"but", "however", "actually", "didn't", "never", "that's not",
	"i don't think", "you're wrong",
}

var emotionalMarkers = []string{
	"help", "stuck", "frustrated", "can't", "failed", "stressed",
	"scared", "angry", "depressed", "crying",
}

var ambiguityMarkers = []string{
	"that thing", "what we", "you know", "remember when",
}

func defaultGreetings() map[string]bool {
	set := make(map[string]bool)
	for _, w := range []string{
		"hi", "hello", "hey", "yo", "sup", "ok", "okay", "k",
		"thanks", "thank you", "thx", "good morning", "good night",
		"gm", "gn", "lol", "haha", "nice", "cool", "great", "sure",
		"yes", "no", "yep", "nope", "bye", "see you",
	} {
		set[w] = true
	}
	return set
}

// Classify gates a message into fast, standard, or deep without any LLM
// call. historyLen is the number of prior messages in the conversation.
func (e *Engine) Classify(text string, historyLen int) string {
	trimmed := strings.TrimSpace(text)
	lower := strings.ToLower(trimmed)
	words := len(strings.Fields(trimmed))

	if e.greetings[lower] {
		return PathFast
	}
	if words <= 3 && !strings.ContainsAny(trimmed, "?!") {
		return PathFast
	}

	signals := 0
	if words > 60 {
		signals++
	}
	if sentenceCount(trimmed) >= 3 {
		signals++
	}
	if containsAny(lower, contradictionMarkers) {
		signals++
	}
	if containsAny(lower, emotionalMarkers) {
		signals++
	}
	if containsAny(lower, ambiguityMarkers) {
		signals++
	}
	if historyLen > 5 {
		signals++
	}
	if signals >= 2 {
		return PathDeep
	}
	return PathStandard
}

func containsAny(lower string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// sentenceCount counts runs of terminal punctuation plus a trailing
// unterminated sentence.
func sentenceCount(text string) int {
	n := 0
	inRun := false
	sawText := false
	for _, r := range text {
		switch r {
		case '.', '!', '?':
			if !inRun && sawText {
				n++
			}
			inRun = true
			sawText = false
		default:
			inRun = false
			if !isSpaceRune(r) {
				sawText = true
			}
		}
	}
	if sawText {
		n++
	}
	return n
}

func isSpaceRune(r rune) bool {
	return r == ' ' || r == '\t' || r == '\n' || r == '\r'
}
