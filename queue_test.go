package parley

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestTaskQueue_FIFO(t *testing.T) {
	q := NewTaskQueue(10)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		task := &Task{ID: fmt.Sprintf("t%d", i), ChatID: "c", UserMessage: "m"}
		if err := q.Enqueue(ctx, task); err != nil {
			t.Fatalf("enqueue: %v", err)
		}
	}

	for i := 0; i < 3; i++ {
		task, err := q.Dequeue(ctx)
		if err != nil {
			t.Fatalf("dequeue: %v", err)
		}
		if want := fmt.Sprintf("t%d", i); task.ID != want {
			t.Fatalf("dequeue order: got %s, want %s", task.ID, want)
		}
		if task.Status != TaskProcessing {
			t.Fatalf("status after dequeue = %s, want processing", task.Status)
		}
		if task.ProcessingStarted == 0 {
			t.Fatal("ProcessingStarted not stamped")
		}
	}
}

func TestTaskQueue_EnqueueBlocksWhenFullThenErrQueueFull(t *testing.T) {
	q := NewTaskQueue(1)
	ctx := context.Background()

	if err := q.Enqueue(ctx, &Task{ID: "a", ChatID: "c"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	shortCtx, cancel := context.WithTimeout(ctx, 30*time.Millisecond)
	defer cancel()
	err := q.Enqueue(shortCtx, &Task{ID: "b", ChatID: "c"})
	if !errors.Is(err, ErrQueueFull) {
		t.Fatalf("enqueue on full queue: got %v, want ErrQueueFull", err)
	}
	if q.Stats().Active != 1 {
		t.Fatalf("rejected task left in active set: %+v", q.Stats())
	}
}

func TestTaskQueue_EnqueueUnblocksWhenSpaceFrees(t *testing.T) {
	q := NewTaskQueue(1)
	ctx := context.Background()
	q.Enqueue(ctx, &Task{ID: "a", ChatID: "c"})

	done := make(chan error, 1)
	go func() {
		done <- q.Enqueue(ctx, &Task{ID: "b", ChatID: "c"})
	}()

	time.Sleep(20 * time.Millisecond)
	if _, err := q.Dequeue(ctx); err != nil {
		t.Fatalf("dequeue: %v", err)
	}

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("blocked enqueue returned %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("enqueue still blocked after space freed")
	}
}

func TestTaskQueue_TerminalTransitions(t *testing.T) {
	tests := []struct {
		name   string
		settle func(q *TaskQueue, task *Task)
		status TaskStatus
	}{
		{"complete", func(q *TaskQueue, task *Task) { q.Complete(task, "hi") }, TaskCompleted},
		{"fail", func(q *TaskQueue, task *Task) { q.Fail(task, "boom") }, TaskFailed},
		{"supersede", func(q *TaskQueue, task *Task) { q.Supersede(task) }, TaskSuperseded},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q := NewTaskQueue(10)
			ctx := context.Background()
			q.Enqueue(ctx, &Task{ID: "t", ChatID: "c"})
			task, _ := q.Dequeue(ctx)

			tt.settle(q, task)

			if task.Status != tt.status {
				t.Fatalf("status = %s, want %s", task.Status, tt.status)
			}
			if task.ProcessingFinished < task.ProcessingStarted {
				t.Fatal("ProcessingFinished before ProcessingStarted")
			}
			if task.ProcessingStarted < task.CreatedAt {
				t.Fatal("ProcessingStarted before CreatedAt")
			}
			stats := q.Stats()
			if stats.Active != 0 {
				t.Fatalf("settled task still active: %+v", stats)
			}
			if stats.History != 1 {
				t.Fatalf("history = %d, want 1", stats.History)
			}
		})
	}
}

func TestTaskQueue_FirstTerminalTransitionWins(t *testing.T) {
	q := NewTaskQueue(10)
	ctx := context.Background()
	q.Enqueue(ctx, &Task{ID: "t", ChatID: "c"})
	task, _ := q.Dequeue(ctx)

	q.Supersede(task)
	q.Fail(task, "late failure")

	if task.Status != TaskSuperseded {
		t.Fatalf("second transition overwrote the first: %s", task.Status)
	}
	if q.Stats().History != 1 {
		t.Fatalf("task archived twice: history = %d", q.Stats().History)
	}
}

func TestTaskQueue_HistoryTrimmedFIFO(t *testing.T) {
	q := NewTaskQueue(10, QueueHistory(3))
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		task := &Task{ID: fmt.Sprintf("t%d", i), ChatID: "c"}
		q.Enqueue(ctx, task)
		got, _ := q.Dequeue(ctx)
		q.Complete(got, "ok")
	}

	hist := q.History(0)
	if len(hist) != 3 {
		t.Fatalf("history length = %d, want 3", len(hist))
	}
	if hist[0].ID != "t2" || hist[2].ID != "t4" {
		t.Fatalf("oldest entries not trimmed first: %s..%s", hist[0].ID, hist[2].ID)
	}
}

func TestTaskQueue_EventsEmittedPerTransition(t *testing.T) {
	var events []TaskStatus
	q := NewTaskQueue(10, QueueEvents(func(e TaskEvent) {
		events = append(events, e.Status)
	}))
	ctx := context.Background()

	q.Enqueue(ctx, &Task{ID: "t", ChatID: "c"})
	task, _ := q.Dequeue(ctx)
	q.Complete(task, "ok")

	want := []TaskStatus{TaskQueued, TaskProcessing, TaskCompleted}
	if len(events) != len(want) {
		t.Fatalf("events = %v, want %v", events, want)
	}
	for i := range want {
		if events[i] != want[i] {
			t.Fatalf("events = %v, want %v", events, want)
		}
	}
}
