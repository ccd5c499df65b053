package parley

import (
	"context"
	"errors"
	"sync"
)

// fakeSender records outbound calls and can be scripted to fail.
type fakeSender struct {
	mu       sync.Mutex
	sent     []sentText
	typing   int
	seen     []string
	failFrom int // fail SendText calls numbered >= failFrom (1-based); 0 = never
	calls    int
}

type sentText struct {
	target  string
	text    string
	quoteID string
}

func (f *fakeSender) SendText(_ context.Context, target, text, quoteID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.failFrom > 0 && f.calls >= f.failFrom {
		return errors.New("transport down")
	}
	f.sent = append(f.sent, sentText{target: target, text: text, quoteID: quoteID})
	return nil
}

func (f *fakeSender) SendTyping(_ context.Context, _ string) {
	f.mu.Lock()
	f.typing++
	f.mu.Unlock()
}

func (f *fakeSender) MarkSeen(_ context.Context, _ string, messageID string) {
	f.mu.Lock()
	f.seen = append(f.seen, messageID)
	f.mu.Unlock()
}

func (f *fakeSender) sentTexts() []sentText {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]sentText, len(f.sent))
	copy(out, f.sent)
	return out
}

var _ Sender = (*fakeSender)(nil)

// userMsg builds a minimal inbound user message for pipeline tests.
func userMsg(messageID, chatID, text string) InboundMessage {
	return InboundMessage{
		MessageID:  messageID,
		ChatID:     chatID,
		Text:       text,
		SenderRole: RoleUser,
		SenderName: chatID,
	}
}
