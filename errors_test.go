package parley

import (
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestErrorMessages(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{&ErrLLM{Provider: "gemini", Message: "empty candidates"}, "gemini: empty candidates"},
		{&ErrHTTP{Status: 429, Body: "slow down"}, "http 429: slow down"},
		{&ErrStore{Op: "add_memory", Err: errors.New("disk full")}, "store add_memory: disk full"},
		{&ErrChannel{Channel: "wacli", Message: "binary not found"}, "channel wacli: binary not found"},
		{&ErrHalt{Response: "I can't process that request."}, "halted: I can't process that request."},
	}
	for _, tc := range cases {
		if got := tc.err.Error(); got != tc.want {
			t.Errorf("Error() = %q, want %q", got, tc.want)
		}
	}
}

func TestErrStoreUnwrap(t *testing.T) {
	inner := errors.New("locked")
	wrapped := fmt.Errorf("init: %w", &ErrStore{Op: "upsert_edge", Err: inner})
	if !errors.Is(wrapped, inner) {
		t.Error("inner error not reachable through ErrStore")
	}
	var se *ErrStore
	if !errors.As(wrapped, &se) || se.Op != "upsert_edge" {
		t.Errorf("errors.As failed, se = %+v", se)
	}
}

func TestSentinels(t *testing.T) {
	if !errors.Is(fmt.Errorf("enqueue: %w", ErrQueueFull), ErrQueueFull) {
		t.Error("ErrQueueFull not matchable when wrapped")
	}
	if !errors.Is(fmt.Errorf("lookup: %w", ErrNotFound), ErrNotFound) {
		t.Error("ErrNotFound not matchable when wrapped")
	}
}

func TestParseRetryAfter(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
	}{
		{"", 0},
		{"30", 30 * time.Second},
		{"0", 0},
		{"-5", 0},
		{"soon", 0},
	}
	for _, tc := range cases {
		if got := ParseRetryAfter(tc.in); got != tc.want {
			t.Errorf("ParseRetryAfter(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}

func TestParseRetryAfter_HTTPDate(t *testing.T) {
	future := time.Now().Add(45 * time.Second).UTC().Format("Mon, 02 Jan 2006 15:04:05") + " GMT"
	d := ParseRetryAfter(future)
	if d < 40*time.Second || d > 46*time.Second {
		t.Errorf("ParseRetryAfter(date) = %v, want ~45s", d)
	}

	past := time.Now().Add(-time.Minute).UTC().Format("Mon, 02 Jan 2006 15:04:05") + " GMT"
	if d := ParseRetryAfter(past); d != 0 {
		t.Errorf("past date should give 0, got %v", d)
	}
}
