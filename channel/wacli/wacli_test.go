package wacli

import (
	"context"
	"errors"
	"os/exec"
	"testing"
	"time"

	"github.com/nevindra/parley"
)

// fakeRun records invocations and plays back scripted results.
type fakeRun struct {
	calls  [][]string
	stdout []byte
	stderr []byte
	err    error
}

func (f *fakeRun) run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	f.calls = append(f.calls, append([]string{name}, args...))
	return f.stdout, f.stderr, f.err
}

func testSender(t *testing.T, f *fakeRun) *Sender {
	t.Helper()
	s := New("openclaw")
	s.run = f.run
	return s
}

func hasArgPair(args []string, flag, value string) bool {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}

func TestSendText_BuildsCommand(t *testing.T) {
	f := &fakeRun{stdout: []byte(`{"via":"gateway"}`)}
	s := testSender(t, f)

	if err := s.SendText(context.Background(), "+15550001111", "hello", ""); err != nil {
		t.Fatalf("send: %v", err)
	}
	if len(f.calls) != 1 {
		t.Fatalf("calls = %d", len(f.calls))
	}
	args := f.calls[0]
	if args[0] != "openclaw" || args[1] != "message" || args[2] != "send" {
		t.Fatalf("args = %v", args)
	}
	if !hasArgPair(args, "--channel", "whatsapp") || !hasArgPair(args, "--target", "+15550001111") {
		t.Fatalf("args = %v", args)
	}
	for _, a := range args {
		if a == "--quote" {
			t.Fatal("quote flag sent without quote ID")
		}
	}
}

func TestSendText_QuoteFlag(t *testing.T) {
	f := &fakeRun{}
	s := testSender(t, f)
	s.SendText(context.Background(), "+1555", "hi", "msg-42")
	if !hasArgPair(f.calls[0], "--quote", "msg-42") {
		t.Fatalf("args = %v", f.calls[0])
	}
}

func TestSendText_CLIErrorUsesStderr(t *testing.T) {
	f := &fakeRun{stderr: []byte("session expired\n"), err: errors.New("exit status 1")}
	s := testSender(t, f)

	err := s.SendText(context.Background(), "+1555", "hi", "")
	var chErr *parley.ErrChannel
	if !errors.As(err, &chErr) {
		t.Fatalf("err = %T", err)
	}
	if chErr.Message != "session expired" || chErr.Fatal {
		t.Fatalf("err = %+v", chErr)
	}
}

func TestSendText_MissingBinaryIsFatal(t *testing.T) {
	f := &fakeRun{err: exec.ErrNotFound}
	s := testSender(t, f)

	err := s.SendText(context.Background(), "+1555", "hi", "")
	var chErr *parley.ErrChannel
	if !errors.As(err, &chErr) || !chErr.Fatal {
		t.Fatalf("err = %v, want fatal channel error", err)
	}
}

func TestSendTyping_SwallowsErrors(t *testing.T) {
	f := &fakeRun{err: errors.New("exit status 1")}
	s := testSender(t, f)
	s.SendTyping(context.Background(), "+1555")
	if !hasArgPair(f.calls[0], "--action", "typing_on") {
		t.Fatalf("args = %v", f.calls[0])
	}
}

func TestMarkSeen_PassesMessageID(t *testing.T) {
	f := &fakeRun{}
	s := testSender(t, f)
	s.MarkSeen(context.Background(), "+1555", "wamid.123")
	args := f.calls[0]
	if !hasArgPair(args, "--action", "mark_read") || !hasArgPair(args, "--id", "wamid.123") {
		t.Fatalf("args = %v", args)
	}
}

func TestLoopTest_DryRunConfirmsGatewayRoute(t *testing.T) {
	f := &fakeRun{stdout: []byte(`{"payload":{"via":"gateway"}}`)}
	s := testSender(t, f)

	res, err := s.LoopTest(context.Background(), "(555) 000-1111", "", true, 10*time.Second)
	if err != nil {
		t.Fatalf("loop test: %v", err)
	}
	if !res.OK || !res.LocalLoopConfirmed || res.Route != "gateway" {
		t.Fatalf("result = %+v", res)
	}
	if res.Target != "+5550001111" {
		t.Fatalf("target = %q", res.Target)
	}

	args := f.calls[0]
	if !hasArgPair(args, "--message", "local-loop-test") {
		t.Fatalf("default message missing: %v", args)
	}
	if args[len(args)-1] != "--dry-run" {
		t.Fatalf("dry-run flag missing: %v", args)
	}
}

func TestLoopTest_EmptyTarget(t *testing.T) {
	s := testSender(t, &fakeRun{})
	if _, err := s.LoopTest(context.Background(), "abc", "m", true, time.Second); err == nil {
		t.Fatal("expected error for digitless target")
	}
}

func TestNormalizePhone(t *testing.T) {
	tests := []struct{ in, want string }{
		{"+1 (555) 000-1111", "15550001111"},
		{"15550001111", "15550001111"},
		{"no digits", ""},
	}
	for _, tt := range tests {
		if got := NormalizePhone(tt.in); got != tt.want {
			t.Errorf("NormalizePhone(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestExtractRoute(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"top level via", `{"via":"gateway"}`, "gateway"},
		{"delivery", `{"delivery":"direct"}`, "direct"},
		{"nested payload", `{"payload":{"via":"gateway"}}`, "gateway"},
		{"via wins over delivery", `{"via":"a","delivery":"b"}`, "a"},
		{"not json", "sent ok", ""},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := ExtractRoute([]byte(tt.in)); got != tt.want {
				t.Fatalf("ExtractRoute = %q, want %q", got, tt.want)
			}
		})
	}
}
