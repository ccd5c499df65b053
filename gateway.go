package parley

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

// Receipt is the ingress acknowledgement for one webhook delivery.
type Receipt struct {
	Status     string `json:"status"` // "queued" or "skipped"
	Reason     string `json:"reason,omitempty"`
	Accepted   bool   `json:"accepted"`
	TaskID     string `json:"task_id,omitempty"`
	QueueDepth int    `json:"task_queue_depth"`
}

// Skip reasons reported in Receipt.Reason.
const (
	SkipOwnMessage = "own_message"
	SkipEmpty      = "empty"
	SkipDuplicate  = "duplicate"
)

// Gateway wires the inbound pipeline: dedup → flood gate → task queue →
// worker pool → sender. Build one in main and hand it to the HTTP ingress;
// nothing in here is a singleton.
type Gateway struct {
	dedup *Deduplicator
	flood *FloodGate
	queue *TaskQueue
	pool  *WorkerPool

	enqueueTimeout time.Duration
	flushOnClose   bool
	closed         atomic.Bool
	cancelWorkers  context.CancelFunc
	logger         *slog.Logger
}

// GatewayOption configures a Gateway.
type GatewayOption func(*gatewayConfig)

type gatewayConfig struct {
	dedupWindow    time.Duration
	floodWindow    time.Duration
	queueSize      int
	historySize    int
	enqueueTimeout time.Duration
	flushOnClose   bool
	events         EventSink
	logger         *slog.Logger
	poolOpts       []PoolOption
}

// DedupWindow sets the duplicate-suppression window (default: 5m).
func DedupWindow(d time.Duration) GatewayOption {
	return func(c *gatewayConfig) { c.dedupWindow = d }
}

// GatewayFloodWindow sets the flood-gate debounce window (default: 3s).
func GatewayFloodWindow(d time.Duration) GatewayOption {
	return func(c *gatewayConfig) { c.floodWindow = d }
}

// QueueSize bounds the task queue (default: 100).
func QueueSize(n int) GatewayOption {
	return func(c *gatewayConfig) { c.queueSize = n }
}

// HistorySize bounds the settled-task history (default: 500).
func HistorySize(n int) GatewayOption {
	return func(c *gatewayConfig) { c.historySize = n }
}

// EnqueueTimeout bounds how long a flushed batch may wait for queue space
// before it is dropped with an error log (default: 30s).
func EnqueueTimeout(d time.Duration) GatewayOption {
	return func(c *gatewayConfig) {
		if d > 0 {
			c.enqueueTimeout = d
		}
	}
}

// DiscardOnClose drops pending flood buffers at shutdown instead of
// flushing them.
func DiscardOnClose() GatewayOption {
	return func(c *gatewayConfig) { c.flushOnClose = false }
}

// GatewayEvents sets the task lifecycle event sink.
func GatewayEvents(sink EventSink) GatewayOption {
	return func(c *gatewayConfig) { c.events = sink }
}

// GatewayLogger sets the structured logger shared by the pipeline stages.
func GatewayLogger(l *slog.Logger) GatewayOption {
	return func(c *gatewayConfig) { c.logger = l }
}

// PoolOptions forwards options to the worker pool.
func PoolOptions(opts ...PoolOption) GatewayOption {
	return func(c *gatewayConfig) { c.poolOpts = append(c.poolOpts, opts...) }
}

// NewGateway builds the pipeline around a sender and a processing function.
func NewGateway(sender Sender, process ProcessFunc, opts ...GatewayOption) *Gateway {
	cfg := gatewayConfig{
		dedupWindow:    5 * time.Minute,
		floodWindow:    3 * time.Second,
		queueSize:      100,
		historySize:    500,
		enqueueTimeout: 30 * time.Second,
		flushOnClose:   true,
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.logger == nil {
		cfg.logger = nopLogger
	}

	g := &Gateway{
		enqueueTimeout: cfg.enqueueTimeout,
		flushOnClose:   cfg.flushOnClose,
		logger:         cfg.logger,
	}
	g.dedup = NewDeduplicator(cfg.dedupWindow)
	g.queue = NewTaskQueue(cfg.queueSize,
		QueueHistory(cfg.historySize),
		QueueEvents(cfg.events),
		QueueLogger(cfg.logger))
	g.pool = NewWorkerPool(g.queue, sender, process,
		append([]PoolOption{PoolLogger(cfg.logger)}, cfg.poolOpts...)...)
	g.flood = NewFloodGate(g.onBatch,
		FloodWindow(cfg.floodWindow),
		FloodLogger(cfg.logger))
	return g
}

// Start launches the worker pool. Workers stop after Shutdown.
func (g *Gateway) Start(ctx context.Context) {
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g.cancelWorkers = cancel
	g.pool.Start(workerCtx)
}

// Submit runs the ingress checks for one normalized message and either
// admits it to the flood gate or reports why it was skipped. Always returns
// quickly; batching and queueing happen behind the debounce window.
func (g *Gateway) Submit(msg InboundMessage) Receipt {
	depth := g.queue.Pending()

	if g.closed.Load() {
		return Receipt{Status: "skipped", Reason: "shutting_down", QueueDepth: depth}
	}
	if msg.SenderRole != RoleUser {
		return Receipt{Status: "skipped", Reason: SkipOwnMessage, QueueDepth: depth}
	}
	if trimLeftSpace(msg.Text) == "" {
		return Receipt{Status: "skipped", Reason: SkipEmpty, QueueDepth: depth}
	}
	if g.dedup.IsDuplicate(msg.MessageID) {
		// Acknowledged as accepted so the transport does not retry again.
		return Receipt{Status: "skipped", Reason: SkipDuplicate, Accepted: true, QueueDepth: depth}
	}

	g.flood.Incoming(msg)
	return Receipt{Status: "queued", Accepted: true, QueueDepth: depth}
}

// onBatch converts one flood-gate batch into a queued task. Runs on the
// flood gate's per-chat delivery chain, so blocking here when the queue is
// full back-pressures later batches of the same chat without reordering.
func (g *Gateway) onBatch(chatID, text string, last InboundMessage) {
	task := &Task{
		ID:          NewID(),
		ChatID:      chatID,
		UserMessage: text,
		MessageID:   last.MessageID,
		SenderName:  last.SenderName,
		IsGroup:     last.IsGroup,
		Persona:     last.Persona,
	}
	ctx, cancel := context.WithTimeout(context.Background(), g.enqueueTimeout)
	defer cancel()
	if err := g.queue.Enqueue(ctx, task); err != nil {
		g.logger.Error("gateway: enqueue failed, batch dropped",
			"chat_id", chatID,
			"task_id", task.ID,
			"error", err)
		// Settle as failed so the drop shows up in task history and on
		// the event stream, not just in logs.
		g.queue.Fail(task, "enqueue timed out, batch dropped: "+err.Error())
	}
}

// EnqueueTask admits a task directly, bypassing dedup and the flood gate.
// Used for worker-scheduled follow-ups (auto-continue).
func (g *Gateway) EnqueueTask(ctx context.Context, task *Task) error {
	if g.closed.Load() {
		return context.Canceled
	}
	return g.queue.Enqueue(ctx, task)
}

// Queue exposes the task queue for status endpoints.
func (g *Gateway) Queue() *TaskQueue { return g.queue }

// Pool exposes the worker pool for status endpoints.
func (g *Gateway) Pool() *WorkerPool { return g.pool }

// Idle reports whether the pipeline has no queued work and no busy workers.
// The maintenance loop uses this to pick safe windows.
func (g *Gateway) Idle() bool {
	return g.queue.Pending() == 0 && g.pool.Stats().Busy == 0
}

// Shutdown stops intake, flushes or discards pending flood buffers, waits
// for the queue to drain until ctx expires, then stops the workers and waits
// for in-flight tasks to settle.
func (g *Gateway) Shutdown(ctx context.Context) {
	if !g.closed.CompareAndSwap(false, true) {
		return
	}
	g.logger.Info("gateway: shutting down", "flush_pending", g.flushOnClose)
	g.flood.Close(g.flushOnClose)

	drain := time.NewTicker(50 * time.Millisecond)
	defer drain.Stop()
	for g.queue.Pending() > 0 {
		select {
		case <-ctx.Done():
			g.logger.Warn("gateway: drain deadline expired", "pending", g.queue.Pending())
			goto stop
		case <-drain.C:
		}
	}
stop:
	if g.cancelWorkers != nil {
		g.cancelWorkers()
	}
	g.pool.Wait()
	g.logger.Info("gateway: stopped")
}
