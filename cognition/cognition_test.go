package cognition

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/memory"
)

// scriptedLLM answers each call with the next queued reply.
type scriptedLLM struct {
	replies []string
	err     error
	calls   atomic.Int64
}

func (s *scriptedLLM) Chat(ctx context.Context, req parley.ChatRequest) (parley.ChatResponse, error) {
	n := int(s.calls.Add(1)) - 1
	if s.err != nil {
		return parley.ChatResponse{}, s.err
	}
	if n < len(s.replies) {
		return parley.ChatResponse{Content: s.replies[n]}, nil
	}
	return parley.ChatResponse{Content: "{}"}, nil
}
func (s *scriptedLLM) Name() string { return "scripted" }

type fakeRecaller struct {
	result  memory.QueryResult
	queries []string
}

func (f *fakeRecaller) Query(ctx context.Context, text string, limit int, withGraph bool) memory.QueryResult {
	f.queries = append(f.queries, text)
	return f.result
}

func TestClassify(t *testing.T) {
	e := NewEngine(nil, nil)
	tests := []struct {
		name    string
		text    string
		history int
		want    string
	}{
		{"greeting", "hey", 0, PathFast},
		{"greeting uppercase", "  HELLO ", 0, PathFast},
		{"short no punctuation", "sounds good then", 0, PathFast},
		{"short with question", "you ok?", 0, PathStandard},
		{"plain statement", "I went to the gym this morning before work", 2, PathStandard},
		{
			"contradiction plus emotion",
			"Actually that's not what happened, I'm really frustrated about it",
			0,
			PathDeep,
		},
		{
			"ambiguity plus long history",
			"remember when we talked about that project last month",
			6,
			PathDeep,
		},
		{"single signal stays standard", "I'm stuck on this level in the game", 0, PathStandard},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := e.Classify(tt.text, tt.history); got != tt.want {
				t.Fatalf("Classify(%q, %d) = %q, want %q", tt.text, tt.history, got, tt.want)
			}
		})
	}
}

func TestClassify_CustomGreetings(t *testing.T) {
	e := NewEngine(nil, nil, WithGreetings([]string{"oi"}))
	if got := e.Classify("oi", 0); got != PathFast {
		t.Fatalf("custom greeting = %q, want fast", got)
	}
	// Default set replaced entirely: "hey" now 1 word, no punctuation → still fast
	// via the word-count rule, but "you there?" is not.
	if got := e.Classify("you there?", 0); got != PathStandard {
		t.Fatalf("got %q, want standard", got)
	}
}

func TestThink_FastPathSkipsLLMAndMemory(t *testing.T) {
	llm := &scriptedLLM{}
	rec := &fakeRecaller{}
	e := NewEngine(llm, rec)

	m := e.Think(context.Background(), Input{UserMessage: "hey"})
	if m.Path != PathFast {
		t.Fatalf("path = %q", m.Path)
	}
	if m.InnerMonologue != "Simple message" {
		t.Fatalf("monologue = %q", m.InnerMonologue)
	}
	if m.TensionLevel != 0 {
		t.Fatalf("tension = %v", m.TensionLevel)
	}
	if llm.calls.Load() != 0 {
		t.Fatalf("llm calls = %d, want 0", llm.calls.Load())
	}
	if len(rec.queries) != 0 {
		t.Fatalf("memory queries = %d, want 0", len(rec.queries))
	}
}

func TestThink_StandardPathMergesStreams(t *testing.T) {
	present := `{"sentiment":"positive","intent":"bragging","claims":["ran 10k"],"emotional_state":"excited","topics":["running"],"conversational_pattern":"single_turn"}`
	merge := `{"tension_level":0.7,"tension_type":"direct_contradiction","contradictions":["said they hate running"],"response_strategy":"challenge","suggested_tone":"teasing","inner_monologue":"They told me they hate running last week."}`

	rec := &fakeRecaller{result: memory.QueryResult{
		Results: []memory.Hit{
			{Content: "user says they hate running"},
			{Content: "user bought new shoes"},
			{Content: "user lives near a park"},
			{Content: "user drinks too much coffee"},
		},
		Tier: memory.TierFastGate,
	}}

	// Present is the only LLM call in the parallel phase and merge runs
	// after both streams join, so the reply order is deterministic.
	llm := &scriptedLLM{replies: []string{present, merge}}
	e := NewEngine(llm, rec)

	m := e.Think(context.Background(), Input{UserMessage: "I just ran a 10k this morning, feeling great about it"})
	if m.Path != PathStandard {
		t.Fatalf("path = %q", m.Path)
	}
	if len(m.MemoryInsights) != 3 {
		t.Fatalf("insights = %d, want capped at 3", len(m.MemoryInsights))
	}
	if len(rec.queries) != 1 {
		t.Fatalf("memory queries = %d, want 1", len(rec.queries))
	}
	// 2 calls: present + merge.
	if llm.calls.Load() != 2 {
		t.Fatalf("llm calls = %d, want 2", llm.calls.Load())
	}
}

func TestThink_DeepPathExtractsSearchIntent(t *testing.T) {
	rec := &fakeRecaller{}
	llm := &scriptedLLM{replies: []string{"project deadline argument", "{}", "{}"}}
	e := NewEngine(llm, rec)

	text := "Actually that's not what we agreed, I'm frustrated about how the deadline talk went"
	m := e.Think(context.Background(), Input{UserMessage: text})
	if m.Path != PathDeep {
		t.Fatalf("path = %q, want deep", m.Path)
	}
	// Search intent extraction runs before the parallel streams, so the
	// first LLM reply is always the term list and the memory query uses it.
	if len(rec.queries) != 1 || rec.queries[0] != "project deadline argument" {
		t.Fatalf("memory queries = %v", rec.queries)
	}
	if llm.calls.Load() != 3 {
		t.Fatalf("llm calls = %d, want 3", llm.calls.Load())
	}
}

func TestThink_LLMFailureDegradesToDefaults(t *testing.T) {
	rec := &fakeRecaller{result: memory.QueryResult{Results: []memory.Hit{{Content: "a fact"}}}}
	llm := &scriptedLLM{err: errors.New("provider down")}
	e := NewEngine(llm, rec)

	m := e.Think(context.Background(), Input{UserMessage: "tell me about the trip we planned for next summer"})
	if m.ResponseStrategy != "acknowledge" || m.SuggestedTone != "warm" || m.TensionType != "none" {
		t.Fatalf("defaults not applied: %+v", m)
	}
	if len(m.MemoryInsights) != 1 {
		t.Fatalf("memory insights lost on LLM failure: %+v", m.MemoryInsights)
	}
}

func TestExtractJSONObject(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", `{"a":1}`, `{"a":1}`},
		{"fenced", "```json\n{\"a\":1}\n```", `{"a":1}`},
		{"thinking block", "[THINKING]hmm[/THINKING]\n{\"a\":1}", `{"a":1}`},
		{"prose around", "Here you go: {\"a\":1} hope that helps", `{"a":1}`},
		{"no braces", "no json here", "no json here"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := extractJSONObject(tt.in); got != tt.want {
				t.Fatalf("extractJSONObject(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestBuildCognitiveContext(t *testing.T) {
	m := Merge{
		TensionLevel:     0.7,
		TensionType:      "direct_contradiction",
		ResponseStrategy: "challenge",
		SuggestedTone:    "teasing",
		InnerMonologue:   "They said the opposite last week.",
		MemoryInsights:   []string{"hates running", "bought shoes", "lives near park", "extra"},
		Contradictions:   []string{"claimed to love running"},
	}
	block := BuildCognitiveContext(m)

	for _, want := range []string{
		"YOUR INNER THOUGHTS",
		"They said the opposite last week.",
		"0.7/1.0 (direct_contradiction)",
		"challenge",
		"teasing",
		"- hates running",
		"- claimed to love running",
		"NEVER say \"I checked my memory.\"",
	} {
		if !strings.Contains(block, want) {
			t.Fatalf("context block missing %q:\n%s", want, block)
		}
	}
	if strings.Contains(block, "extra") {
		t.Fatal("insights not capped at 3")
	}
}

func TestBuildCognitiveContext_EmptyLists(t *testing.T) {
	block := BuildCognitiveContext(defaultMerge(PathStandard))
	if !strings.Contains(block, "Memory Insights:**\n- None") {
		t.Fatalf("missing None placeholder for insights:\n%s", block)
	}
	if !strings.Contains(block, "Contradictions Detected:**\n- None") {
		t.Fatalf("missing None placeholder for contradictions:\n%s", block)
	}
}

func TestSentenceCount(t *testing.T) {
	tests := []struct {
		in   string
		want int
	}{
		{"one sentence.", 1},
		{"one. two. three.", 3},
		{"what?! really?!", 2},
		{"no terminal punctuation", 1},
		{"", 0},
	}
	for _, tt := range tests {
		if got := sentenceCount(tt.in); got != tt.want {
			t.Errorf("sentenceCount(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}
