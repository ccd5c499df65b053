package parley

import (
	"sync"
	"time"
)

// Deduplicator tracks recently seen message IDs so webhook retries do not
// re-execute the pipeline. Entries expire after a sliding window; expired
// entries are swept lazily on every lookup. State is in-process only: after
// a restart a retry within the window may be re-processed, which is acceptable.
// Safe for concurrent use.
type Deduplicator struct {
	mu     sync.Mutex
	window time.Duration
	seen   map[string]time.Time // message_id → first seen
}

// NewDeduplicator creates a deduplicator with the given window.
// A non-positive window falls back to the default of 5 minutes.
func NewDeduplicator(window time.Duration) *Deduplicator {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Deduplicator{
		window: window,
		seen:   make(map[string]time.Time),
	}
}

// IsDuplicate reports whether messageID was already seen within the window.
// Unseen IDs are recorded as a side effect. Empty IDs are never duplicates.
func (d *Deduplicator) IsDuplicate(messageID string) bool {
	if messageID == "" {
		return false
	}
	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()
	cutoff := now.Add(-d.window)
	for id, at := range d.seen {
		if at.Before(cutoff) {
			delete(d.seen, id)
		}
	}

	if _, ok := d.seen[messageID]; ok {
		return true
	}
	d.seen[messageID] = now
	return false
}

// Len returns the number of live (unswept) entries. Intended for status reporting.
func (d *Deduplicator) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
