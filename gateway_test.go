package parley

import (
	"context"
	"testing"
	"time"
)

func startGateway(t *testing.T, sender Sender, process ProcessFunc, opts ...GatewayOption) *Gateway {
	t.Helper()
	gw := NewGateway(sender, process, opts...)
	gw.Start(context.Background())
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		gw.Shutdown(ctx)
	})
	return gw
}

func TestGateway_WebhookRetryIsDeduplicated(t *testing.T) {
	sender := &fakeSender{}
	gw := startGateway(t, sender, func(_ context.Context, _ *Task) (string, error) {
		return "hello back", nil
	}, GatewayFloodWindow(30*time.Millisecond))

	first := gw.Submit(userMsg("wa_1", "c", "hello"))
	if first.Status != "queued" || !first.Accepted {
		t.Fatalf("first receipt = %+v", first)
	}

	second := gw.Submit(userMsg("wa_1", "c", "hello"))
	if second.Status != "skipped" || second.Reason != SkipDuplicate || !second.Accepted {
		t.Fatalf("retry receipt = %+v", second)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && len(sender.sentTexts()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	if got := sender.sentTexts(); len(got) != 1 {
		t.Fatalf("outbound sends = %d, want exactly 1", len(got))
	}
}

func TestGateway_SkipsOwnAndEmptyMessages(t *testing.T) {
	gw := startGateway(t, &fakeSender{}, func(_ context.Context, _ *Task) (string, error) {
		return "x", nil
	})

	own := InboundMessage{MessageID: "m", ChatID: "c", Text: "hi", SenderRole: RoleAssistant}
	if r := gw.Submit(own); r.Reason != SkipOwnMessage {
		t.Fatalf("own message receipt = %+v", r)
	}

	empty := userMsg("m2", "c", "   ")
	if r := gw.Submit(empty); r.Reason != SkipEmpty {
		t.Fatalf("empty message receipt = %+v", r)
	}
}

func TestGateway_RapidBurstBecomesOneTask(t *testing.T) {
	sender := &fakeSender{}
	var got *Task
	done := make(chan struct{})
	gw := startGateway(t, sender, func(_ context.Context, task *Task) (string, error) {
		got = task
		close(done)
		return "one reply", nil
	}, GatewayFloodWindow(60*time.Millisecond))

	gw.Submit(userMsg("m1", "c", "hey"))
	time.Sleep(10 * time.Millisecond)
	gw.Submit(userMsg("m2", "c", "you there"))
	time.Sleep(10 * time.Millisecond)
	gw.Submit(userMsg("m3", "c", "plz respond"))

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("no task processed")
	}

	if got.UserMessage != "hey\n\nyou there\n\nplz respond" {
		t.Fatalf("combined message = %q", got.UserMessage)
	}
	if got.MessageID != "m3" {
		t.Fatalf("task metadata from %q, want latest message m3", got.MessageID)
	}
	if stats := gw.Queue().Stats(); stats.History != 1 {
		t.Fatalf("tasks created = %d, want 1", stats.History)
	}
}

func TestGateway_ShutdownFlushesAndDrains(t *testing.T) {
	sender := &fakeSender{}
	gw := NewGateway(sender, func(_ context.Context, _ *Task) (string, error) {
		return "late reply", nil
	}, GatewayFloodWindow(time.Hour))
	gw.Start(context.Background())

	gw.Submit(userMsg("m1", "c", "stranded"))

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	gw.Shutdown(ctx)

	if got := sender.sentTexts(); len(got) != 1 || got[0].text != "late reply" {
		t.Fatalf("pending message not processed at shutdown: %v", got)
	}

	// New submissions are refused after shutdown.
	if r := gw.Submit(userMsg("m2", "c", "too late")); r.Status != "skipped" {
		t.Fatalf("post-shutdown receipt = %+v", r)
	}
}

func TestGateway_IdleReflectsPipelineState(t *testing.T) {
	block := make(chan struct{})
	gw := startGateway(t, &fakeSender{}, func(_ context.Context, _ *Task) (string, error) {
		<-block
		return "ok", nil
	}, GatewayFloodWindow(10*time.Millisecond))

	if !gw.Idle() {
		t.Fatal("fresh gateway not idle")
	}
	gw.Submit(userMsg("m1", "c", "work"))
	time.Sleep(100 * time.Millisecond)
	if gw.Idle() {
		t.Fatal("gateway idle while a worker is busy")
	}
	close(block)
}

func TestGateway_DroppedBatchSettlesAsFailed(t *testing.T) {
	events := make(chan TaskEvent, 16)
	// No workers started: the queue holds one task and never drains, so the
	// second chat's batch times out waiting for space.
	gw := NewGateway(&fakeSender{}, func(_ context.Context, _ *Task) (string, error) {
		return "", nil
	},
		QueueSize(1),
		GatewayFloodWindow(10*time.Millisecond),
		EnqueueTimeout(30*time.Millisecond),
		GatewayEvents(func(ev TaskEvent) { events <- ev }),
	)

	// First batch occupies the queue's only slot before the second arrives.
	gw.Submit(userMsg("m1", "chat-a", "first"))
	waitForStatus(t, events, "chat-a", TaskQueued)

	gw.Submit(userMsg("m2", "chat-b", "second"))
	waitForStatus(t, events, "chat-b", TaskFailed)
}

func waitForStatus(t *testing.T, events <-chan TaskEvent, chatID string, status TaskStatus) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case ev := <-events:
			if ev.ChatID == chatID && ev.Status == status {
				return
			}
		case <-deadline:
			t.Fatalf("no %s event for %s", status, chatID)
		}
	}
}
