package memory

import (
	"encoding/json"
	"os"
	"strings"
	"sync"
	"unicode"
)

// EntityGate maps surface variations to canonical entity names and extracts
// them from free text. Matching is case-insensitive on word boundaries, so
// "sote" matches "Is SOTE worth playing?" but not "notesote".
type EntityGate struct {
	mu sync.RWMutex
	// variation (lowercase) → canonical name
	variations map[string]string
	// canonical names in registration order, for stable extraction output
	order []string
}

// NewEntityGate creates an empty gate.
func NewEntityGate() *EntityGate {
	return &EntityGate{variations: make(map[string]string)}
}

// LoadFile registers entities from a JSON file shaped
// {"Canonical Name": ["variation", ...], ...}. A missing file is not an
// error; the gate just starts empty.
func (g *EntityGate) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var dict map[string][]string
	if err := json.Unmarshal(data, &dict); err != nil {
		return err
	}
	for name, vars := range dict {
		g.Add(name, vars...)
	}
	return nil
}

// Add registers a canonical entity with its variations. The canonical name
// itself always matches.
func (g *EntityGate) Add(canonical string, variations ...string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, seen := g.variations[strings.ToLower(canonical)]; !seen {
		g.order = append(g.order, canonical)
	}
	g.variations[strings.ToLower(canonical)] = canonical
	for _, v := range variations {
		g.variations[strings.ToLower(v)] = canonical
	}
}

// Extract returns the canonical names of all entities found in text, each at
// most once, in registration order.
func (g *EntityGate) Extract(text string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if len(g.variations) == 0 {
		return nil
	}

	lower := strings.ToLower(text)
	found := make(map[string]bool)
	for variation, canonical := range g.variations {
		if found[canonical] {
			continue
		}
		if containsWord(lower, variation) {
			found[canonical] = true
		}
	}
	if len(found) == 0 {
		return nil
	}

	out := make([]string, 0, len(found))
	for _, name := range g.order {
		if found[name] {
			out = append(out, name)
		}
	}
	return out
}

// Len returns the number of registered canonical entities.
func (g *EntityGate) Len() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// containsWord reports whether phrase occurs in text on word boundaries.
// Both arguments must already be lowercase.
func containsWord(text, phrase string) bool {
	if phrase == "" {
		return false
	}
	for from := 0; ; {
		i := strings.Index(text[from:], phrase)
		if i < 0 {
			return false
		}
		start := from + i
		end := start + len(phrase)
		beforeOK := start == 0 || !isWordByte(text[start-1])
		afterOK := end == len(text) || !isWordByte(text[end])
		if beforeOK && afterOK {
			return true
		}
		from = start + 1
		if from >= len(text) {
			return false
		}
	}
}

func isWordByte(b byte) bool {
	r := rune(b)
	return unicode.IsLetter(r) || unicode.IsDigit(r)
}
