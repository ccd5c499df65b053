package parley

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"
)

func startPool(t *testing.T, sender Sender, process ProcessFunc, opts ...PoolOption) (*TaskQueue, *WorkerPool) {
	t.Helper()
	q := NewTaskQueue(10)
	p := NewWorkerPool(q, sender, process, opts...)
	ctx, cancel := context.WithCancel(context.Background())
	p.Start(ctx)
	t.Cleanup(func() {
		cancel()
		p.Wait()
	})
	return q, p
}

// waitSettled polls the queue history until the task reaches a terminal
// state, then checks it matches want. Reading through the queue keeps the
// test on the right side of the queue's mutex.
func waitSettled(t *testing.T, q *TaskQueue, taskID string, want TaskStatus) *Task {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		for _, task := range q.History(0) {
			if task.ID == taskID {
				if task.Status != want {
					t.Fatalf("task %s status = %s, want %s", taskID, task.Status, want)
				}
				return task
			}
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("task %s never settled", taskID)
	return nil
}

func TestWorkerPool_CompletesAndDelivers(t *testing.T) {
	sender := &fakeSender{}
	q, _ := startPool(t, sender, func(_ context.Context, task *Task) (string, error) {
		return "reply to " + task.UserMessage, nil
	}, Workers(1))

	err := q.Enqueue(context.Background(), &Task{ID: "t1", ChatID: "c", UserMessage: "hello", MessageID: "m1"})
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	task := waitSettled(t, q, "t1", TaskCompleted)

	got := sender.sentTexts()
	if len(got) != 1 || got[0].text != "reply to hello" {
		t.Fatalf("sent = %v", got)
	}
	if len(sender.seen) != 1 || sender.seen[0] != "m1" {
		t.Fatalf("mark-seen = %v, want [m1]", sender.seen)
	}
	if task.Generation != 1 {
		t.Fatalf("generation = %d, want 1", task.Generation)
	}
	if task.Response != "reply to hello" {
		t.Fatalf("response = %q", task.Response)
	}
}

func TestWorkerPool_SupersedesStaleReply(t *testing.T) {
	sender := &fakeSender{}
	release := make(chan struct{})
	var mu sync.Mutex
	started := 0

	process := func(_ context.Context, task *Task) (string, error) {
		mu.Lock()
		started++
		first := started == 1
		mu.Unlock()
		if first {
			<-release // message A stuck in the LLM
		}
		return "reply:" + task.UserMessage, nil
	}

	// Two workers so B can start while A is blocked.
	q, pool := startPool(t, sender, process, Workers(2))
	ctx := context.Background()

	q.Enqueue(ctx, &Task{ID: "a", ChatID: "c", UserMessage: "A"})
	time.Sleep(50 * time.Millisecond) // A is picked up and blocks
	q.Enqueue(ctx, &Task{ID: "b", ChatID: "c", UserMessage: "B"})

	waitSettled(t, q, "b", TaskCompleted)
	close(release)
	waitSettled(t, q, "a", TaskSuperseded)

	// Only B's reply was delivered.
	for _, st := range sender.sentTexts() {
		if st.text == "reply:A" {
			t.Fatal("stale reply for A was delivered")
		}
	}
	stats := pool.Stats()
	if stats.Superseded != 1 || stats.Completed != 1 {
		t.Fatalf("stats = %+v", stats)
	}
}

func TestWorkerPool_ErrorAfterSupersessionStaysSilent(t *testing.T) {
	sender := &fakeSender{}
	release := make(chan struct{})
	var mu sync.Mutex
	started := 0

	process := func(_ context.Context, _ *Task) (string, error) {
		mu.Lock()
		started++
		first := started == 1
		mu.Unlock()
		if first {
			<-release
			return "", errors.New("llm exploded")
		}
		return "ok", nil
	}

	q, _ := startPool(t, sender, process, Workers(2))
	ctx := context.Background()

	q.Enqueue(ctx, &Task{ID: "a", ChatID: "c", UserMessage: "A"})
	time.Sleep(50 * time.Millisecond)
	q.Enqueue(ctx, &Task{ID: "b", ChatID: "c", UserMessage: "B"})
	waitSettled(t, q, "b", TaskCompleted)
	close(release)
	waitSettled(t, q, "a", TaskSuperseded)

	// No apology for the superseded failure.
	for _, st := range sender.sentTexts() {
		if strings.Contains(st.text, "glitch") {
			t.Fatalf("apology sent for superseded task: %q", st.text)
		}
	}
}

func TestWorkerPool_FailureSendsApology(t *testing.T) {
	sender := &fakeSender{}
	q, _ := startPool(t, sender, func(_ context.Context, _ *Task) (string, error) {
		return "", errors.New("llm timeout")
	}, Workers(1), Apology("sorry, try again"))

	q.Enqueue(context.Background(), &Task{ID: "t", ChatID: "c", UserMessage: "hi"})
	task := waitSettled(t, q, "t", TaskFailed)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) && len(sender.sentTexts()) == 0 {
		time.Sleep(10 * time.Millisecond)
	}
	got := sender.sentTexts()
	if len(got) != 1 || got[0].text != "sorry, try again" {
		t.Fatalf("sent = %v, want one apology", got)
	}
	if task.Error != "llm timeout" {
		t.Fatalf("task error = %q", task.Error)
	}
}

func TestWorkerPool_SenderFailureMarksFailed(t *testing.T) {
	sender := &fakeSender{failFrom: 1}
	q, _ := startPool(t, sender, func(_ context.Context, _ *Task) (string, error) {
		return "the reply", nil
	}, Workers(1))

	q.Enqueue(context.Background(), &Task{ID: "t", ChatID: "c", UserMessage: "hi"})
	task := waitSettled(t, q, "t", TaskFailed)

	if !strings.HasPrefix(task.Error, "send failed") {
		t.Fatalf("task error = %q", task.Error)
	}
}

func TestWorkerPool_TypingHeartbeat(t *testing.T) {
	sender := &fakeSender{}
	q, _ := startPool(t, sender, func(_ context.Context, _ *Task) (string, error) {
		time.Sleep(120 * time.Millisecond)
		return "done", nil
	}, Workers(1), TypingInterval(40*time.Millisecond))

	q.Enqueue(context.Background(), &Task{ID: "t", ChatID: "c", UserMessage: "hi"})
	waitSettled(t, q, "t", TaskCompleted)

	sender.mu.Lock()
	typing := sender.typing
	sender.mu.Unlock()
	if typing < 2 {
		t.Fatalf("typing emitted %d times, want at least 2", typing)
	}
}

func TestWorkerPool_GenerationsAreMonotonicPerChat(t *testing.T) {
	sender := &fakeSender{}
	q, pool := startPool(t, sender, func(_ context.Context, _ *Task) (string, error) {
		return "ok", nil
	}, Workers(1))
	ctx := context.Background()

	ids := []string{"g1", "g2", "g3"}
	for _, id := range ids {
		q.Enqueue(ctx, &Task{ID: id, ChatID: "c", UserMessage: "m"})
	}
	for i, id := range ids {
		task := waitSettled(t, q, id, TaskCompleted)
		if task.Generation != int64(i+1) {
			t.Fatalf("task %s generation = %d, want %d", id, task.Generation, i+1)
		}
	}
	if pool.Generation("c") != 3 {
		t.Fatalf("counter = %d, want 3", pool.Generation("c"))
	}
}
