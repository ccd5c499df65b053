package parley

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// QueueStats is a point-in-time snapshot of the TaskQueue.
type QueueStats struct {
	Pending int `json:"pending"`
	Active  int `json:"active"`
	History int `json:"history"`
}

// EventSink receives task lifecycle transitions. Used by the status
// websocket and metrics; may be nil.
type EventSink func(TaskEvent)

// TaskQueue is a bounded FIFO of tasks with a status lifecycle and a bounded
// history of settled tasks. Enqueue blocks cooperatively when the queue is
// full; Dequeue blocks until a task is available. Each task takes exactly one
// terminal transition: Complete, Fail, or Supersede. Safe for concurrent use.
type TaskQueue struct {
	ch chan *Task

	mu      sync.Mutex
	active  map[string]*Task
	history []*Task

	maxHistory int
	events     EventSink
	logger     *slog.Logger
}

// QueueOption configures a TaskQueue.
type QueueOption func(*TaskQueue)

// QueueHistory sets the bounded history size (default: 500).
func QueueHistory(n int) QueueOption {
	return func(q *TaskQueue) {
		if n > 0 {
			q.maxHistory = n
		}
	}
}

// QueueEvents sets the lifecycle event sink. The sink is called synchronously
// on every status transition; keep it fast.
func QueueEvents(sink EventSink) QueueOption {
	return func(q *TaskQueue) { q.events = sink }
}

// QueueLogger sets the structured logger for queue events.
func QueueLogger(l *slog.Logger) QueueOption {
	return func(q *TaskQueue) { q.logger = l }
}

// NewTaskQueue creates a bounded task queue. A non-positive size falls back
// to the default of 100.
func NewTaskQueue(size int, opts ...QueueOption) *TaskQueue {
	if size <= 0 {
		size = 100
	}
	q := &TaskQueue{
		ch:         make(chan *Task, size),
		active:     make(map[string]*Task),
		maxHistory: 500,
	}
	for _, opt := range opts {
		opt(q)
	}
	if q.logger == nil {
		q.logger = nopLogger
	}
	return q
}

// Enqueue adds a task. When the queue is full it blocks until space frees up
// or ctx is done; a deadline expiry surfaces as ErrQueueFull so the ingress
// can answer with a retryable status instead of hanging the webhook.
func (q *TaskQueue) Enqueue(ctx context.Context, task *Task) error {
	if task.Status == "" {
		task.Status = TaskQueued
	}
	if task.CreatedAt == 0 {
		task.CreatedAt = time.Now().UnixMilli()
	}

	q.mu.Lock()
	q.active[task.ID] = task
	q.mu.Unlock()

	select {
	case q.ch <- task:
		q.logger.Debug("queue: task enqueued", "task_id", task.ID, "chat_id", task.ChatID, "pending", len(q.ch))
		q.emit(task)
		return nil
	case <-ctx.Done():
		q.mu.Lock()
		delete(q.active, task.ID)
		q.mu.Unlock()
		if ctx.Err() == context.DeadlineExceeded {
			return ErrQueueFull
		}
		return ctx.Err()
	}
}

// Dequeue removes the oldest queued task, marks it processing, and stamps
// ProcessingStarted. Blocks until a task arrives or ctx is done.
func (q *TaskQueue) Dequeue(ctx context.Context) (*Task, error) {
	select {
	case task := <-q.ch:
		q.mu.Lock()
		task.Status = TaskProcessing
		task.ProcessingStarted = time.Now().UnixMilli()
		q.mu.Unlock()
		q.emit(task)
		return task, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Complete settles a task successfully with its response text.
func (q *TaskQueue) Complete(task *Task, response string) {
	q.settle(task, TaskCompleted, func(t *Task) { t.Response = response })
}

// Fail settles a task with an error message.
func (q *TaskQueue) Fail(task *Task, errMsg string) {
	q.settle(task, TaskFailed, func(t *Task) { t.Error = errMsg })
}

// Supersede settles a task that was overtaken by a newer task for the same
// chat. Not an error; nothing is delivered.
func (q *TaskQueue) Supersede(task *Task) {
	q.settle(task, TaskSuperseded, nil)
}

func (q *TaskQueue) settle(task *Task, status TaskStatus, mutate func(*Task)) {
	q.mu.Lock()
	if task.Status == TaskCompleted || task.Status == TaskFailed || task.Status == TaskSuperseded {
		// Already terminal; the first transition wins.
		q.mu.Unlock()
		return
	}
	task.Status = status
	task.ProcessingFinished = time.Now().UnixMilli()
	if task.ProcessingStarted > 0 {
		task.ProcessingTimeMS = task.ProcessingFinished - task.ProcessingStarted
	}
	if mutate != nil {
		mutate(task)
	}
	delete(q.active, task.ID)
	q.history = append(q.history, task)
	if len(q.history) > q.maxHistory {
		q.history = q.history[len(q.history)-q.maxHistory:]
	}
	q.mu.Unlock()

	q.logger.Debug("queue: task settled", "task_id", task.ID, "status", string(status), "processing_ms", task.ProcessingTimeMS)
	q.emit(task)
}

func (q *TaskQueue) emit(task *Task) {
	if q.events == nil {
		return
	}
	q.events(TaskEvent{
		TaskID:     task.ID,
		ChatID:     task.ChatID,
		Status:     task.Status,
		At:         time.Now().UnixMilli(),
		QueueDepth: len(q.ch),
	})
}

// Stats returns a snapshot of queue depth, active tasks, and history size.
func (q *TaskQueue) Stats() QueueStats {
	q.mu.Lock()
	defer q.mu.Unlock()
	return QueueStats{
		Pending: len(q.ch),
		Active:  len(q.active),
		History: len(q.history),
	}
}

// Pending returns the number of queued (not yet dequeued) tasks.
func (q *TaskQueue) Pending() int { return len(q.ch) }

// History returns a copy of the most recent settled tasks, oldest first.
func (q *TaskQueue) History(limit int) []*Task {
	q.mu.Lock()
	defer q.mu.Unlock()
	h := q.history
	if limit > 0 && len(h) > limit {
		h = h[len(h)-limit:]
	}
	out := make([]*Task, len(h))
	copy(out, h)
	return out
}
