package parley

import (
	"log/slog"
	"strings"
	"sync"
	"time"
)

// FlushFunc receives one flood-gate batch: the combined text of all buffered
// messages for a chat and the metadata of the last message in the batch.
type FlushFunc func(chatID, text string, last InboundMessage)

// FloodGate batches rapidly arriving messages per chat with a sliding
// debounce. The first arrival for a chat opens a buffer and schedules a flush
// after the window; each subsequent arrival appends to the buffer and pushes
// the flush out again. On flush the buffered texts are joined with a blank
// line, in arrival order, and handed to the flush callback together with the
// newest message's metadata.
//
// People often send a thought as three or four quick messages. Without the
// gate each fragment would trigger its own reply; with it the model sees the
// whole thought at once.
//
// Batches for the same chat are delivered strictly in the order they opened,
// even when the callback blocks. Across chats there is no ordering.
// Safe for concurrent use.
type FloodGate struct {
	mu      sync.Mutex
	window  time.Duration
	deliver FlushFunc
	buffers map[string]*floodBuffer
	tail    map[string]chan struct{} // per-chat delivery chain
	nextSeq uint64
	closed  bool
	wg      sync.WaitGroup
	logger  *slog.Logger
}

type floodBuffer struct {
	seq   uint64 // bumped on every reschedule so stale timers no-op
	texts []string
	last  InboundMessage
	timer *time.Timer
}

// FloodGateOption configures a FloodGate.
type FloodGateOption func(*FloodGate)

// FloodWindow sets the debounce window (default: 3s).
func FloodWindow(d time.Duration) FloodGateOption {
	return func(f *FloodGate) {
		if d > 0 {
			f.window = d
		}
	}
}

// FloodLogger sets the structured logger for batch events.
func FloodLogger(l *slog.Logger) FloodGateOption {
	return func(f *FloodGate) { f.logger = l }
}

// NewFloodGate creates a flood gate that delivers batches to deliver.
func NewFloodGate(deliver FlushFunc, opts ...FloodGateOption) *FloodGate {
	f := &FloodGate{
		window:  3 * time.Second,
		deliver: deliver,
		buffers: make(map[string]*floodBuffer),
		tail:    make(map[string]chan struct{}),
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.logger == nil {
		f.logger = nopLogger
	}
	return f
}

// Incoming buffers one message and (re)schedules the flush for its chat.
// Messages arriving after Close are dropped.
func (f *FloodGate) Incoming(msg InboundMessage) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.closed {
		return
	}

	chatID := msg.ChatID
	buf, ok := f.buffers[chatID]
	if !ok {
		buf = &floodBuffer{}
		f.buffers[chatID] = buf
		f.logger.Debug("flood gate: batch opened", "chat_id", chatID)
	} else {
		buf.timer.Stop()
	}
	buf.texts = append(buf.texts, msg.Text)
	buf.last = msg

	f.nextSeq++
	seq := f.nextSeq
	buf.seq = seq
	buf.timer = time.AfterFunc(f.window, func() { f.fire(chatID, seq) })
}

// fire flushes the chat's buffer if it is still the one this timer was armed
// for. A reschedule bumps the buffer's seq, so a stale timer finds a mismatch
// and returns without flushing.
func (f *FloodGate) fire(chatID string, seq uint64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	buf, ok := f.buffers[chatID]
	if !ok || buf.seq != seq {
		return
	}
	delete(f.buffers, chatID)
	f.dispatchLocked(chatID, buf)
}

// dispatchLocked hands a flushed buffer to the delivery chain for its chat.
// Must be called with f.mu held. Delivery runs on its own goroutine but waits
// for the previous batch of the same chat to finish first, so a slow callback
// (for example an enqueue blocking on a full queue) cannot reorder batches.
func (f *FloodGate) dispatchLocked(chatID string, buf *floodBuffer) {
	prev := f.tail[chatID]
	done := make(chan struct{})
	f.tail[chatID] = done

	text := strings.Join(buf.texts, "\n\n")
	last := buf.last
	f.logger.Info("flood gate: batch flushed",
		"chat_id", chatID,
		"messages", len(buf.texts),
		"chars", len(text))

	f.wg.Add(1)
	go func() {
		defer f.wg.Done()
		defer close(done)
		if prev != nil {
			<-prev
		}
		f.deliver(chatID, text, last)

		f.mu.Lock()
		if f.tail[chatID] == done {
			delete(f.tail, chatID)
		}
		f.mu.Unlock()
	}()
}

// Pending returns the number of chats with an open buffer.
func (f *FloodGate) Pending() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.buffers)
}

// Close stops accepting messages. When flush is true, pending buffers are
// delivered immediately; otherwise they are discarded. Close blocks until all
// in-flight deliveries have completed.
func (f *FloodGate) Close(flush bool) {
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		f.wg.Wait()
		return
	}
	f.closed = true
	for chatID, buf := range f.buffers {
		buf.timer.Stop()
		delete(f.buffers, chatID)
		if flush {
			f.dispatchLocked(chatID, buf)
		} else {
			f.logger.Debug("flood gate: batch discarded", "chat_id", chatID, "messages", len(buf.texts))
		}
	}
	f.mu.Unlock()
	f.wg.Wait()
}
