package cognition

import "strings"

// stripThinking removes delimited thinking blocks and code fences from an
// LLM response, leaving the payload.
func stripThinking(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.Index(s, "[/THINKING]"); i >= 0 {
		s = strings.TrimSpace(s[i+len("[/THINKING]"):])
	}
	if strings.Contains(s, "```") {
		parts := strings.Split(s, "```")
		if len(parts) >= 2 {
			body := parts[1]
			body = strings.TrimPrefix(body, "json")
			s = strings.TrimSpace(body)
		}
	}
	return s
}

// extractJSONObject returns the outermost {…} block after stripping
// thinking text, or the stripped input unchanged when no braces are found
// (letting the decoder report the failure).
func extractJSONObject(s string) string {
	s = stripThinking(s)
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start >= 0 && end > start {
		return s[start : end+1]
	}
	return s
}
