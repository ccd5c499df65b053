package parley

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProcessFunc runs the full response pipeline for one task (cognition,
// memory, LLM) and returns the reply text. It may take seconds; the worker
// holds no locks while it runs.
type ProcessFunc func(ctx context.Context, task *Task) (string, error)

// PoolStats is a snapshot of worker pool counters.
type PoolStats struct {
	Workers    int   `json:"workers"`
	Busy       int   `json:"busy"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
	Superseded int64 `json:"superseded"`
}

// WorkerPool drains the task queue with a fixed set of workers. Each worker
// loops dequeue → process → send → settle. A per-chat generation counter
// suppresses stale replies: every task picked up for a chat bumps the
// counter, and a reply is delivered only if the task's stamp still equals
// the counter when processing finishes. A user who sends a second message
// while the first is still in the LLM never sees the stale first reply.
type WorkerPool struct {
	queue   *TaskQueue
	sender  Sender
	process ProcessFunc

	workers        int
	typingInterval time.Duration
	sendTimeout    time.Duration
	chunkSize      int
	chunkDelay     time.Duration
	apology        string
	logger         *slog.Logger

	genMu sync.Mutex
	gens  map[string]int64

	busy       atomic.Int64
	completed  atomic.Int64
	failed     atomic.Int64
	superseded atomic.Int64

	wg sync.WaitGroup
}

// PoolOption configures a WorkerPool.
type PoolOption func(*WorkerPool)

// Workers sets the number of concurrent workers (default: 2).
func Workers(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// TypingInterval sets how often the typing indicator is re-emitted while a
// task is processing (default: 4s).
func TypingInterval(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d > 0 {
			p.typingInterval = d
		}
	}
}

// SendTimeout bounds each outbound send (default: 30s).
func SendTimeout(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d > 0 {
			p.sendTimeout = d
		}
	}
}

// PoolChunkSize sets the reply chunk size (default: 4000).
func PoolChunkSize(n int) PoolOption {
	return func(p *WorkerPool) {
		if n > 0 {
			p.chunkSize = n
		}
	}
}

// PoolChunkDelay sets the inter-chunk delay for long replies (default: 800ms).
func PoolChunkDelay(d time.Duration) PoolOption {
	return func(p *WorkerPool) {
		if d >= 0 {
			p.chunkDelay = d
		}
	}
}

// Apology sets the text sent when a task fails after processing started.
func Apology(text string) PoolOption {
	return func(p *WorkerPool) {
		if text != "" {
			p.apology = text
		}
	}
}

// PoolLogger sets the structured logger for worker events.
func PoolLogger(l *slog.Logger) PoolOption {
	return func(p *WorkerPool) { p.logger = l }
}

// NewWorkerPool creates a pool that drains queue, processes tasks with
// process, and delivers replies through sender.
func NewWorkerPool(queue *TaskQueue, sender Sender, process ProcessFunc, opts ...PoolOption) *WorkerPool {
	p := &WorkerPool{
		queue:          queue,
		sender:         sender,
		process:        process,
		workers:        2,
		typingInterval: 4 * time.Second,
		sendTimeout:    30 * time.Second,
		chunkSize:      DefaultChunkSize,
		chunkDelay:     DefaultChunkDelay,
		apology:        "A technical glitch occurred. Please try again.",
		gens:           make(map[string]int64),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = nopLogger
	}
	return p
}

// Start launches the workers. They run until ctx is cancelled; each finishes
// its current task first. Wait blocks until all workers have exited.
func (p *WorkerPool) Start(ctx context.Context) {
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func(id int) {
			defer p.wg.Done()
			p.loop(ctx, id)
		}(i)
	}
	p.logger.Info("worker pool started", "workers", p.workers)
}

// Wait blocks until all workers have exited after ctx cancellation.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

func (p *WorkerPool) loop(ctx context.Context, id int) {
	for {
		task, err := p.queue.Dequeue(ctx)
		if err != nil {
			return
		}
		// In-flight tasks run to completion on shutdown; per-call
		// timeouts inside the pipeline still bound the work.
		p.busy.Add(1)
		p.handle(context.WithoutCancel(ctx), task, id)
		p.busy.Add(-1)
	}
}

// bumpGeneration stamps the task with the next generation for its chat.
func (p *WorkerPool) bumpGeneration(task *Task) {
	p.genMu.Lock()
	p.gens[task.ChatID]++
	task.Generation = p.gens[task.ChatID]
	p.genMu.Unlock()
}

// isStale reports whether a newer task for the same chat has been stamped
// since this one.
func (p *WorkerPool) isStale(task *Task) bool {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	return task.Generation != p.gens[task.ChatID]
}

// Generation returns the current generation counter for a chat.
func (p *WorkerPool) Generation(chatID string) int64 {
	p.genMu.Lock()
	defer p.genMu.Unlock()
	return p.gens[chatID]
}

func (p *WorkerPool) handle(ctx context.Context, task *Task, workerID int) {
	p.bumpGeneration(task)
	p.logger.Info("worker: processing",
		"worker", workerID,
		"task_id", task.ID,
		"chat_id", task.ChatID,
		"generation", task.Generation)

	// Read receipt, fire and forget.
	if task.MessageID != "" {
		ackCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		p.sender.MarkSeen(ackCtx, task.ChatID, task.MessageID)
		cancel()
	}

	// Typing heartbeat until processing settles.
	typingCtx, stopTyping := context.WithCancel(ctx)
	typingDone := make(chan struct{})
	go func() {
		defer close(typingDone)
		p.keepTyping(typingCtx, task.ChatID)
	}()

	response, err := p.process(ctx, task)

	stopTyping()
	<-typingDone

	if err != nil {
		if p.isStale(task) {
			p.queue.Supersede(task)
			p.superseded.Add(1)
			p.logger.Info("worker: errored task already superseded",
				"worker", workerID, "task_id", task.ID, "chat_id", task.ChatID)
			return
		}
		p.queue.Fail(task, err.Error())
		p.failed.Add(1)
		p.logger.Error("worker: task failed", "worker", workerID, "task_id", task.ID, "error", err)
		p.sendApology(ctx, task.ChatID)
		return
	}

	if p.isStale(task) {
		p.queue.Supersede(task)
		p.superseded.Add(1)
		p.logger.Info("worker: reply superseded, dropping",
			"worker", workerID,
			"task_id", task.ID,
			"chat_id", task.ChatID,
			"generation", task.Generation)
		return
	}

	if response == "" {
		p.queue.Fail(task, "empty response")
		p.failed.Add(1)
		p.sendApology(ctx, task.ChatID)
		return
	}

	sendCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	sendErr := SendLong(sendCtx, p.sender, task.ChatID, response,
		ChunkSize(p.chunkSize), ChunkDelay(p.chunkDelay))
	cancel()

	if sendErr != nil {
		p.queue.Fail(task, "send failed: "+sendErr.Error())
		p.failed.Add(1)
		p.logger.Error("worker: send failed", "worker", workerID, "task_id", task.ID, "error", sendErr)
		p.sendApology(ctx, task.ChatID)
		return
	}

	p.queue.Complete(task, response)
	p.completed.Add(1)
	p.logger.Info("worker: delivered",
		"worker", workerID,
		"task_id", task.ID,
		"chat_id", task.ChatID,
		"processing_ms", task.ProcessingTimeMS)
}

func (p *WorkerPool) keepTyping(ctx context.Context, chatID string) {
	ticker := time.NewTicker(p.typingInterval)
	defer ticker.Stop()
	p.sender.SendTyping(ctx, chatID)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.sender.SendTyping(ctx, chatID)
		}
	}
}

func (p *WorkerPool) sendApology(ctx context.Context, chatID string) {
	apCtx, cancel := context.WithTimeout(ctx, p.sendTimeout)
	defer cancel()
	if err := p.sender.SendText(apCtx, chatID, p.apology, ""); err != nil {
		p.logger.Warn("worker: apology send failed", "chat_id", chatID, "error", err)
	}
}

// Stats returns a snapshot of pool counters.
func (p *WorkerPool) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		Busy:       int(p.busy.Load()),
		Completed:  p.completed.Load(),
		Failed:     p.failed.Load(),
		Superseded: p.superseded.Load(),
	}
}
