package ingest

import (
	"strings"
	"testing"
)

func TestChunk_ShortTextSingleChunk(t *testing.T) {
	c := NewChunker()
	got := c.Chunk("one small paragraph")
	if len(got) != 1 || got[0] != "one small paragraph" {
		t.Fatalf("chunks = %v", got)
	}
	if got := c.Chunk("   "); got != nil {
		t.Fatalf("chunks = %v, want nil", got)
	}
}

func TestChunk_SplitsOnParagraphs(t *testing.T) {
	c := NewChunkerWithSize(100, 0)
	para := strings.Repeat("alpha beta gamma. ", 4)
	text := para + "\n\n" + para + "\n\n" + para

	chunks := c.Chunk(text)
	if len(chunks) < 2 {
		t.Fatalf("chunks = %d, want split", len(chunks))
	}
	for i, ch := range chunks {
		if len(ch) > 100 {
			t.Fatalf("chunk %d = %d chars", i, len(ch))
		}
	}
}

func TestChunk_OverlapCarriesContext(t *testing.T) {
	c := NewChunkerWithSize(200, 40)
	var sentences []string
	for i := 0; i < 30; i++ {
		sentences = append(sentences, "fact number "+strings.Repeat("x", i%7)+" recorded here.")
	}
	chunks := c.Chunk(strings.Join(sentences, " "))
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	// Each chunk after the first starts with text from the previous one.
	for i := 1; i < len(chunks); i++ {
		head := chunks[i]
		if len(head) > 30 {
			head = head[:30]
		}
		if !strings.Contains(chunks[i-1], strings.Fields(head)[0]) {
			t.Fatalf("chunk %d has no overlap with predecessor", i)
		}
	}
}

func TestChunk_HardCutsUnbreakableText(t *testing.T) {
	c := NewChunkerWithSize(50, 0)
	chunks := c.Chunk(strings.Repeat("a", 160))
	if len(chunks) < 3 {
		t.Fatalf("chunks = %d", len(chunks))
	}
	for _, ch := range chunks {
		if len(ch) > 50 {
			t.Fatalf("chunk = %d chars", len(ch))
		}
	}
}

func TestChunk_NoContentLost(t *testing.T) {
	c := NewChunkerWithSize(120, 20)
	text := "The queue drops superseded generations. " +
		"Dedup keys expire after an hour.\n\n" +
		"Flood control releases one reply per burst. " +
		"Workers check the generation before sending."

	joined := strings.Join(c.Chunk(text), " ")
	for _, phrase := range []string{
		"superseded generations",
		"expire after an hour",
		"one reply per burst",
		"generation before sending",
	} {
		if !strings.Contains(joined, phrase) {
			t.Fatalf("lost %q in %q", phrase, joined)
		}
	}
}
