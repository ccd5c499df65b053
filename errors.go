package parley

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// ErrQueueFull is returned by TaskQueue.Enqueue when the queue stayed full
// past the enqueue deadline. The ingress maps it to a retryable 503.
var ErrQueueFull = errors.New("task queue full")

// ErrNotFound is returned by store lookups for missing rows.
var ErrNotFound = errors.New("not found")

// ErrLLM is a provider-level failure (bad response, unparseable body).
type ErrLLM struct {
	Provider string
	Message  string
}

func (e *ErrLLM) Error() string {
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// ErrHTTP is a non-OK HTTP response from a provider or transport.
// RetryAfter carries the parsed Retry-After header when present.
type ErrHTTP struct {
	Status     int
	Body       string
	RetryAfter time.Duration
}

func (e *ErrHTTP) Error() string {
	return fmt.Sprintf("http %d: %s", e.Status, e.Body)
}

// ErrStore is a persistence failure. Op names the operation ("add_memory",
// "upsert_edge"); wrapped errors are reachable via errors.Unwrap.
type ErrStore struct {
	Op  string
	Err error
}

func (e *ErrStore) Error() string {
	return fmt.Sprintf("store %s: %v", e.Op, e.Err)
}

func (e *ErrStore) Unwrap() error { return e.Err }

// ErrChannel is an outbound delivery failure. Fatal marks transport-missing
// conditions (CLI binary absent) that will not recover without operator
// action.
type ErrChannel struct {
	Channel string
	Message string
	Fatal   bool
}

func (e *ErrChannel) Error() string {
	return fmt.Sprintf("channel %s: %s", e.Channel, e.Message)
}

// ErrHalt is returned by input guards to stop a message before it reaches
// the pipeline. Response is the polite user-facing text.
type ErrHalt struct {
	Response string
}

func (e *ErrHalt) Error() string {
	return "halted: " + e.Response
}

// ParseRetryAfter parses a Retry-After header value, either delta-seconds
// ("30") or an HTTP-date. Returns 0 when absent or unparseable.
func ParseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		if secs < 0 {
			return 0
		}
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
