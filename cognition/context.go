package cognition

import (
	"fmt"
	"strings"
)

// BuildCognitiveContext renders a merge as the system block injected
// immediately before the user's message. The block carries private thought,
// tension, strategy, memory insights, contradictions, and the behavioral
// rules the responder must follow.
func BuildCognitiveContext(m Merge) string {
	var b strings.Builder

	b.WriteString("## YOUR INNER THOUGHTS (Use these to guide your response. Do NOT share directly.)\n\n")
	fmt.Fprintf(&b, "**What I'm thinking:** %s\n\n", m.InnerMonologue)
	fmt.Fprintf(&b, "**Tension Level:** %.1f/1.0 (%s)\n", m.TensionLevel, m.TensionType)
	fmt.Fprintf(&b, "**Response Strategy:** %s\n", m.ResponseStrategy)
	fmt.Fprintf(&b, "**Suggested Tone:** %s\n\n", m.SuggestedTone)

	b.WriteString("**Memory Insights:**\n")
	insights := m.MemoryInsights
	if len(insights) > 3 {
		insights = insights[:3]
	}
	if len(insights) == 0 {
		b.WriteString("- None\n")
	} else {
		for _, ins := range insights {
			if len(ins) > 120 {
				ins = ins[:120]
			}
			fmt.Fprintf(&b, "- %s\n", ins)
		}
	}

	b.WriteString("\n**Contradictions Detected:**\n")
	if len(m.Contradictions) == 0 {
		b.WriteString("- None\n")
	} else {
		for _, c := range m.Contradictions {
			fmt.Fprintf(&b, "- %s\n", c)
		}
	}

	b.WriteString("\n**BEHAVIORAL RULES:**\n")
	b.WriteString("- If tension > 0.5: Don't just agree. Challenge gently with memory evidence.\n")
	b.WriteString("- If strategy is \"quiz\": Ask them to prove their claim.\n")
	b.WriteString("- If strategy is \"celebrate\": They've genuinely grown. Be proud.\n")
	b.WriteString("- NEVER say \"I checked my memory.\" Make it feel like a friend who remembers.")

	return b.String()
}
