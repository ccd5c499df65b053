package parley

import (
	"sort"
	"testing"
	"time"
)

func TestNewID_UniqueAndWellFormed(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := NewID()
		if len(id) != 36 {
			t.Fatalf("id %q has length %d", id, len(id))
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestNewID_TimeSortable(t *testing.T) {
	// UUIDv7 embeds a millisecond timestamp, so ids generated across a
	// clock tick sort in generation order.
	first := NewID()
	time.Sleep(2 * time.Millisecond)
	second := NewID()

	ids := []string{second, first}
	sort.Strings(ids)
	if ids[0] != first {
		t.Errorf("ids not time-ordered: %q !< %q", first, second)
	}
}

func TestNowUnix(t *testing.T) {
	now := time.Now().Unix()
	got := NowUnix()
	if got < now || got > now+2 {
		t.Errorf("NowUnix() = %d, wall clock = %d", got, now)
	}
}
