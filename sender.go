package parley

import (
	"context"
	"time"
	"unicode/utf8"
)

// Sender delivers outbound traffic to the chat channel. Implementations live
// under channel/ (CLI bridge, telegram). Implementations serialize their own
// outbound calls; the underlying transports are not reentrant.
type Sender interface {
	// SendText delivers one message to a chat target. quoteID, when
	// non-empty, asks the channel to render the message as a reply.
	SendText(ctx context.Context, target, text, quoteID string) error
	// SendTyping emits a typing indicator. Best-effort; errors are the
	// implementation's to log and swallow.
	SendTyping(ctx context.Context, target string)
	// MarkSeen acknowledges an inbound message (read receipt). Best-effort.
	MarkSeen(ctx context.Context, target, messageID string)
}

// DefaultChunkSize is the largest single message pushed to a channel before
// splitting. Mirrors what messaging apps render comfortably.
const DefaultChunkSize = 4000

// DefaultChunkDelay is the pause between chunks of one long reply.
const DefaultChunkDelay = 800 * time.Millisecond

// SplitMessage splits text into chunks of at most chunkSize bytes,
// breaking at the latest natural boundary inside each chunk: a double
// newline, then a single newline, then a space, then a hard cut. Leading
// whitespace carried over a break is dropped.
func SplitMessage(text string, chunkSize int) []string {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	var chunks []string
	for text != "" {
		if len(text) <= chunkSize {
			chunks = append(chunks, text)
			break
		}
		cut := lastIndexWithin(text, "\n\n", chunkSize)
		if cut == -1 {
			cut = lastIndexWithin(text, "\n", chunkSize)
		}
		if cut == -1 {
			cut = lastIndexWithin(text, " ", chunkSize)
		}
		if cut == -1 {
			// Hard cut: back off to a rune boundary so multi-byte text
			// never splits mid-character.
			cut = chunkSize
			for cut > 0 && !utf8.RuneStart(text[cut]) {
				cut--
			}
			if cut == 0 {
				cut = chunkSize
			}
		}
		chunks = append(chunks, text[:cut])
		text = trimLeftSpace(text[cut:])
	}
	return chunks
}

func lastIndexWithin(s, sep string, limit int) int {
	if limit > len(s) {
		limit = len(s)
	}
	for i := limit - len(sep); i >= 0; i-- {
		if s[i:i+len(sep)] == sep {
			return i
		}
	}
	return -1
}

func trimLeftSpace(s string) string {
	for len(s) > 0 && (s[0] == ' ' || s[0] == '\n' || s[0] == '\t' || s[0] == '\r') {
		s = s[1:]
	}
	return s
}

// LongSendOption configures SendLong.
type LongSendOption func(*longSend)

type longSend struct {
	chunkSize int
	delay     time.Duration
}

// ChunkSize overrides the chunk size (default: 4000).
func ChunkSize(n int) LongSendOption {
	return func(o *longSend) {
		if n > 0 {
			o.chunkSize = n
		}
	}
}

// ChunkDelay overrides the inter-chunk delay (default: 800ms).
func ChunkDelay(d time.Duration) LongSendOption {
	return func(o *longSend) {
		if d >= 0 {
			o.delay = d
		}
	}
}

// SendLong delivers text to target through s, splitting replies longer than
// the chunk size at natural boundaries and pacing the chunks. The first
// failed chunk aborts the remainder and returns the error.
func SendLong(ctx context.Context, s Sender, target, text string, opts ...LongSendOption) error {
	cfg := longSend{chunkSize: DefaultChunkSize, delay: DefaultChunkDelay}
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(text) <= cfg.chunkSize {
		return s.SendText(ctx, target, text, "")
	}

	chunks := SplitMessage(text, cfg.chunkSize)
	for i, chunk := range chunks {
		if err := s.SendText(ctx, target, chunk, ""); err != nil {
			return err
		}
		if i < len(chunks)-1 && cfg.delay > 0 {
			timer := time.NewTimer(cfg.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	return nil
}
