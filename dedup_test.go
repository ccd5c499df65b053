package parley

import (
	"testing"
	"time"
)

func TestDeduplicator_FirstSeenIsNotDuplicate(t *testing.T) {
	d := NewDeduplicator(time.Minute)
	if d.IsDuplicate("wa_1") {
		t.Fatal("first sighting reported as duplicate")
	}
	if !d.IsDuplicate("wa_1") {
		t.Fatal("second sighting within window not reported as duplicate")
	}
}

func TestDeduplicator_EmptyIDNeverDuplicate(t *testing.T) {
	d := NewDeduplicator(time.Minute)
	if d.IsDuplicate("") {
		t.Fatal("empty id reported as duplicate")
	}
	if d.IsDuplicate("") {
		t.Fatal("empty id reported as duplicate on repeat")
	}
	if d.Len() != 0 {
		t.Fatalf("empty ids should not be recorded, got %d entries", d.Len())
	}
}

func TestDeduplicator_ExpiresAfterWindow(t *testing.T) {
	d := NewDeduplicator(30 * time.Millisecond)
	if d.IsDuplicate("wa_2") {
		t.Fatal("first sighting reported as duplicate")
	}
	time.Sleep(60 * time.Millisecond)
	if d.IsDuplicate("wa_2") {
		t.Fatal("expired entry still reported as duplicate")
	}
}

func TestDeduplicator_LazySweepRemovesStale(t *testing.T) {
	d := NewDeduplicator(30 * time.Millisecond)
	d.IsDuplicate("a")
	d.IsDuplicate("b")
	time.Sleep(60 * time.Millisecond)
	// Any lookup sweeps the whole map.
	d.IsDuplicate("c")
	if got := d.Len(); got != 1 {
		t.Fatalf("expected only the fresh entry after sweep, got %d", got)
	}
}

func TestDeduplicator_DefaultWindow(t *testing.T) {
	d := NewDeduplicator(0)
	if d.window != 5*time.Minute {
		t.Fatalf("default window = %v, want 5m", d.window)
	}
}
