package persona

import (
	"fmt"
	"sort"
	"strings"
)

// renderPrefix merges the profile layers into the prompt prefix. Only
// fields that carry signal for generation are rendered; bookkeeping layers
// (meta, interaction, vocabulary registry) stay out of the prompt.
func renderPrefix(name string, layers map[string]map[string]any) string {
	var b strings.Builder

	core := layers["core_identity"]
	assistant := stringField(core, "assistant_name")
	if assistant == "" {
		assistant = "Assistant"
	}
	fmt.Fprintf(&b, "You are %s", assistant)
	if tone := stringField(core, "base_tone"); tone != "" {
		fmt.Fprintf(&b, " (tone: %s)", strings.ReplaceAll(tone, "_", " "))
	}
	fmt.Fprintf(&b, ", speaking with persona %q.\n", name)

	if pillars := stringList(core, "personality_pillars"); len(pillars) > 0 {
		b.WriteString("\nPersonality:\n")
		for _, p := range pillars {
			fmt.Fprintf(&b, "- %s\n", p)
		}
	}
	if lines := stringList(core, "red_lines"); len(lines) > 0 {
		b.WriteString("\nHard rules:\n")
		for _, l := range lines {
			fmt.Fprintf(&b, "- %s\n", l)
		}
	}

	if mood := stringField(layers["emotional_state"], "current_dominant_mood"); mood != "" && mood != "neutral" {
		fmt.Fprintf(&b, "\nThe user's recent mood has been %s; calibrate accordingly.\n", mood)
	}

	if domains := activeDomains(layers["domain"]); len(domains) > 0 {
		fmt.Fprintf(&b, "\nActive topics of interest: %s.\n", strings.Join(domains, ", "))
	}

	if pairs := exemplarPairs(layers["exemplars"]); len(pairs) > 0 {
		b.WriteString("\nStyle exemplars:\n")
		for _, p := range pairs {
			fmt.Fprintf(&b, "User: %s\n%s: %s\n", p[0], assistant, p[1])
		}
	}

	return b.String()
}

func stringField(doc map[string]any, key string) string {
	s, _ := doc[key].(string)
	return s
}

func stringList(doc map[string]any, key string) []string {
	raw, _ := doc[key].([]any)
	var out []string
	for _, v := range raw {
		if s, ok := v.(string); ok && s != "" {
			out = append(out, s)
		}
	}
	return out
}

func activeDomains(doc map[string]any) []string {
	domains := stringList(doc, "active_domains")
	sort.Strings(domains)
	return domains
}

// exemplarPairs extracts up to 3 few-shot [user, assistant] pairs.
func exemplarPairs(doc map[string]any) [][2]string {
	raw, _ := doc["pairs"].([]any)
	var out [][2]string
	for _, v := range raw {
		pair, ok := v.(map[string]any)
		if !ok {
			continue
		}
		user := stringField(pair, "user")
		reply := stringField(pair, "assistant")
		if user == "" || reply == "" {
			continue
		}
		out = append(out, [2]string{user, reply})
		if len(out) == 3 {
			break
		}
	}
	return out
}
