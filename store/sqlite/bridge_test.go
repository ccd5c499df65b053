package sqlite

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/nevindra/parley"
)

func testBridge(t *testing.T) *BridgeDB {
	t.Helper()
	b := NewBridge(filepath.Join(t.TempDir(), "whatsapp_bridge.db"))
	if err := b.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	t.Cleanup(func() { b.Close() })
	return b
}

func TestBridgeDB_Lifecycle(t *testing.T) {
	b := testBridge(t)
	ctx := context.Background()

	rec := parley.BridgeRecord{
		MessageID:      "wamid.1",
		FromPhone:      "+15551234567",
		ToPhone:        "+15557654321",
		ConversationID: "15551234567@s.whatsapp.net",
		Text:           "hey, you around?",
	}
	if err := b.RecordInbound(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}

	got, err := b.GetInbound(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "received" {
		t.Fatalf("status = %q, want received", got.Status)
	}
	if got.Channel != "whatsapp" {
		t.Fatalf("channel = %q, want whatsapp default", got.Channel)
	}

	if err := b.UpdateStatus(ctx, "wamid.1", "queued", "task-1", "", ""); err != nil {
		t.Fatalf("queued: %v", err)
	}
	if err := b.UpdateStatus(ctx, "wamid.1", "done", "", "sure, what's up?", ""); err != nil {
		t.Fatalf("done: %v", err)
	}

	got, err = b.GetInbound(ctx, "wamid.1")
	if err != nil {
		t.Fatalf("get after done: %v", err)
	}
	if got.Status != "done" {
		t.Fatalf("status = %q, want done", got.Status)
	}
	// Empty taskID on the second update must not clear the stored value.
	if got.TaskID != "task-1" {
		t.Fatalf("task_id = %q, want task-1", got.TaskID)
	}
	if got.Reply != "sure, what's up?" {
		t.Fatalf("reply = %q", got.Reply)
	}
}

func TestBridgeDB_DuplicateKeepsStatus(t *testing.T) {
	b := testBridge(t)
	ctx := context.Background()

	rec := parley.BridgeRecord{MessageID: "wamid.2", Text: "first"}
	if err := b.RecordInbound(ctx, rec); err != nil {
		t.Fatalf("record: %v", err)
	}
	if err := b.UpdateStatus(ctx, "wamid.2", "queued", "task-2", "", ""); err != nil {
		t.Fatalf("queued: %v", err)
	}

	// Webhook retry re-delivers the same message ID.
	rec.Text = "first (redelivered)"
	if err := b.RecordInbound(ctx, rec); err != nil {
		t.Fatalf("re-record: %v", err)
	}

	got, err := b.GetInbound(ctx, "wamid.2")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != "queued" {
		t.Fatalf("status = %q, want queued preserved across redelivery", got.Status)
	}
	if got.Text != "first (redelivered)" {
		t.Fatalf("text = %q, want refreshed", got.Text)
	}
}

func TestBridgeDB_GetInboundNotFound(t *testing.T) {
	b := testBridge(t)
	_, err := b.GetInbound(context.Background(), "missing")
	if !errors.Is(err, parley.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
