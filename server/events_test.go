package server

import (
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nevindra/parley"
)

func TestEvents_StreamsTaskLifecycle(t *testing.T) {
	s, srv := testServer(t)

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http") + "/gateway/events"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	// Give the server a beat to register the client before publishing.
	time.Sleep(50 * time.Millisecond)
	s.Events()(parley.TaskEvent{
		TaskID: "t1", ChatID: "c1", Status: parley.TaskQueued, At: 123, QueueDepth: 1,
	})

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, payload, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}

	var ev parley.TaskEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if ev.TaskID != "t1" || ev.Status != parley.TaskQueued {
		t.Fatalf("event = %+v", ev)
	}
}

func TestHub_DropsSlowClient(t *testing.T) {
	h := newHub(nopLogger)
	c := h.add(nil)

	for i := 0; i < clientBuffer+5; i++ {
		h.Publish(parley.TaskEvent{TaskID: "x", Status: parley.TaskQueued})
	}

	h.mu.Lock()
	_, stillThere := h.clients[c]
	h.mu.Unlock()
	if stillThere {
		t.Fatal("slow client was not dropped")
	}
	// Channel is closed; drain must terminate.
	n := 0
	for range c.send {
		n++
	}
	if n != clientBuffer {
		t.Fatalf("buffered = %d, want %d", n, clientBuffer)
	}
}
