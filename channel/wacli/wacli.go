// Package wacli implements parley.Sender over an external message CLI
// (the local gateway binary that owns the WhatsApp session). Every outbound
// operation is one CLI invocation; the process is assumed non-reentrant, so
// calls are serialized by a single mutex.
package wacli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/nevindra/parley"
)

const (
	// DefaultSendTimeout bounds a full message send.
	DefaultSendTimeout = 30 * time.Second
	// actionTimeout bounds best-effort actions (typing, mark-read).
	actionTimeout = 5 * time.Second
)

// runFunc executes one CLI invocation and returns stdout, stderr and the
// process error. Replaced in tests.
type runFunc func(ctx context.Context, name string, args ...string) (stdout, stderr []byte, err error)

// Sender delivers messages through the CLI.
type Sender struct {
	cli     string
	channel string
	timeout time.Duration
	logger  *slog.Logger
	run     runFunc

	mu sync.Mutex
}

// Option configures a Sender.
type Option func(*Sender)

// WithChannel sets the CLI channel argument (default "whatsapp").
func WithChannel(channel string) Option {
	return func(s *Sender) { s.channel = channel }
}

// WithSendTimeout overrides the per-send timeout.
func WithSendTimeout(d time.Duration) Option {
	return func(s *Sender) {
		if d > 0 {
			s.timeout = d
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Sender) { s.logger = l }
}

// New creates a CLI-backed Sender. cli is the binary name or full path.
func New(cli string, opts ...Option) *Sender {
	s := &Sender{
		cli:     cli,
		channel: "whatsapp",
		timeout: DefaultSendTimeout,
		logger:  nopLogger,
		run:     runCommand,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// runCommand is the production runFunc.
func runCommand(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	err := cmd.Run()
	return stdout.Bytes(), stderr.Bytes(), err
}

// SendText delivers one message. quoteID, when non-empty, renders the
// message as a reply.
func (s *Sender) SendText(ctx context.Context, target, text, quoteID string) error {
	args := []string{
		"message", "send",
		"--channel", s.channel,
		"--target", target,
		"--message", text,
		"--json",
	}
	if quoteID != "" {
		args = append(args, "--quote", quoteID)
	}
	_, err := s.invoke(ctx, s.timeout, args)
	return err
}

// SendTyping emits a typing indicator. Failures are logged and swallowed.
func (s *Sender) SendTyping(ctx context.Context, target string) {
	args := []string{
		"message", "send",
		"--channel", s.channel,
		"--target", target,
		"--action", "typing_on",
	}
	if _, err := s.invoke(ctx, actionTimeout, args); err != nil {
		s.logger.Debug("wacli: typing failed", "target", target, "error", err)
	}
}

// MarkSeen acknowledges an inbound message. Failures are logged and
// swallowed.
func (s *Sender) MarkSeen(ctx context.Context, target, messageID string) {
	args := []string{
		"message", "send",
		"--channel", s.channel,
		"--target", target,
		"--action", "mark_read",
		"--id", messageID,
	}
	if _, err := s.invoke(ctx, actionTimeout, args); err != nil {
		s.logger.Debug("wacli: mark seen failed", "target", target, "error", err)
	}
}

// LoopResult reports one outbound smoke test.
type LoopResult struct {
	OK                 bool   `json:"ok"`
	LocalLoopConfirmed bool   `json:"local_loop_confirmed"`
	Route              string `json:"route,omitempty"`
	DryRun             bool   `json:"dry_run"`
	Target             string `json:"target"`
	DurationMs         int64  `json:"duration_ms"`
	ReturnCode         int    `json:"return_code"`
	Stderr             string `json:"stderr,omitempty"`
}

// LoopTest validates the outbound path end to end. The target phone is
// normalized to digits with a + prefix; dryRun asks the CLI not to deliver.
// The loop counts as locally confirmed when the CLI reports the "gateway"
// route.
func (s *Sender) LoopTest(ctx context.Context, target, message string, dryRun bool, timeout time.Duration) (LoopResult, error) {
	phone := NormalizePhone(target)
	if phone == "" {
		return LoopResult{}, &parley.ErrChannel{Channel: s.channel, Message: "target is required"}
	}
	if message = strings.TrimSpace(message); message == "" {
		message = "local-loop-test"
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}

	args := []string{
		"message", "send",
		"--channel", s.channel,
		"--target", "+" + phone,
		"--message", message,
		"--json",
	}
	if dryRun {
		args = append(args, "--dry-run")
	}

	started := time.Now()
	stdout, err := s.invoke(ctx, timeout, args)
	result := LoopResult{
		DryRun:     dryRun,
		Target:     "+" + phone,
		DurationMs: time.Since(started).Milliseconds(),
	}
	if err != nil {
		var chErr *parley.ErrChannel
		if errors.As(err, &chErr) {
			result.Stderr = chErr.Message
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ReturnCode = exitErr.ExitCode()
		} else {
			result.ReturnCode = -1
		}
		return result, err
	}

	result.OK = true
	result.Route = ExtractRoute(stdout)
	result.LocalLoopConfirmed = result.Route == "gateway"
	return result, nil
}

// invoke serializes and runs one CLI call under its own deadline, returning
// stdout on success.
func (s *Sender) invoke(ctx context.Context, timeout time.Duration, args []string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	stdout, stderr, err := s.run(ctx, s.cli, args...)
	if err == nil {
		return stdout, nil
	}

	if errors.Is(err, exec.ErrNotFound) {
		s.logger.Error("wacli: CLI binary not found", "cli", s.cli)
		return nil, &parley.ErrChannel{
			Channel: s.channel,
			Message: fmt.Sprintf("CLI %q not found", s.cli),
			Fatal:   true,
		}
	}
	if ctx.Err() != nil {
		return nil, &parley.ErrChannel{
			Channel: s.channel,
			Message: fmt.Sprintf("CLI timed out after %s", timeout),
		}
	}

	msg := strings.TrimSpace(string(stderr))
	if msg == "" {
		msg = err.Error()
	}
	if len(msg) > 200 {
		msg = msg[:200]
	}
	return nil, &parley.ErrChannel{Channel: s.channel, Message: msg}
}

// NormalizePhone strips a phone number to bare digits.
func NormalizePhone(raw string) string {
	var b strings.Builder
	for _, c := range raw {
		if c >= '0' && c <= '9' {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// ExtractRoute parses the CLI's JSON stdout for the delivery route: the
// top-level "via" or "delivery" field, or "payload.via".
func ExtractRoute(stdout []byte) string {
	raw := bytes.TrimSpace(stdout)
	if len(raw) == 0 {
		return ""
	}
	var payload struct {
		Via      string `json:"via"`
		Delivery string `json:"delivery"`
		Payload  struct {
			Via string `json:"via"`
		} `json:"payload"`
	}
	if err := json.Unmarshal(raw, &payload); err != nil {
		return ""
	}
	if payload.Via != "" {
		return payload.Via
	}
	if payload.Delivery != "" {
		return payload.Delivery
	}
	return payload.Payload.Via
}

// Compile-time interface check.
var _ parley.Sender = (*Sender)(nil)
