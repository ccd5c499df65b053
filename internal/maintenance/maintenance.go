// Package maintenance runs periodic housekeeping in idle windows: graph
// pruning, conflict ledger pruning, and memory importance decay.
package maintenance

import (
	"context"
	"log/slog"
	"time"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/graph"
	"github.com/nevindra/parley/memory"
)

// Defaults for the idle-gated cycle.
const (
	DefaultInterval = 10 * time.Minute
	DefaultRecheck  = 60 * time.Second

	// Memories untouched this long lose one importance point per cycle.
	DefaultDecayAfter = 30 * 24 * time.Hour
	DefaultDecayFloor = 1
)

// Tasks are the housekeeping targets. Nil fields are skipped.
type Tasks struct {
	Graph     *graph.Graph
	Conflicts *memory.ConflictManager
	Decayer   parley.MemoryDecayer
}

// Loop is the idle-gated maintenance ticker. A cycle runs only when the
// pipeline reports idle; otherwise the loop re-checks on a short interval
// so housekeeping never competes with live traffic.
type Loop struct {
	idle  func() bool
	tasks Tasks

	interval   time.Duration
	recheck    time.Duration
	decayAfter time.Duration
	decayFloor int

	logger *slog.Logger
	now    func() time.Time
}

// Option configures a Loop.
type Option func(*Loop)

// WithInterval sets the cycle interval (default: 10m).
func WithInterval(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.interval = d
		}
	}
}

// WithRecheck sets the busy re-check interval (default: 60s).
func WithRecheck(d time.Duration) Option {
	return func(l *Loop) {
		if d > 0 {
			l.recheck = d
		}
	}
}

// WithDecay tunes importance decay.
func WithDecay(after time.Duration, floor int) Option {
	return func(l *Loop) {
		if after > 0 {
			l.decayAfter = after
		}
		if floor > 0 {
			l.decayFloor = floor
		}
	}
}

// WithLogger sets a structured logger.
func WithLogger(lg *slog.Logger) Option {
	return func(l *Loop) { l.logger = lg }
}

// New creates a maintenance loop gated on idle.
func New(idle func() bool, tasks Tasks, opts ...Option) *Loop {
	l := &Loop{
		idle:       idle,
		tasks:      tasks,
		interval:   DefaultInterval,
		recheck:    DefaultRecheck,
		decayAfter: DefaultDecayAfter,
		decayFloor: DefaultDecayFloor,
		logger:     nopLogger,
		now:        time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Run blocks until ctx is cancelled. Each wakeup either runs a full cycle
// (pipeline idle) or backs off to the short re-check interval.
func (l *Loop) Run(ctx context.Context) {
	l.logger.Info("maintenance: loop started",
		"interval", l.interval, "recheck", l.recheck)

	timer := time.NewTimer(l.interval)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			l.logger.Info("maintenance: loop stopped")
			return
		case <-timer.C:
		}

		if !l.idle() {
			timer.Reset(l.recheck)
			continue
		}

		l.RunOnce(ctx)
		timer.Reset(l.interval)
	}
}

// RunOnce executes one maintenance cycle immediately. Each task failure is
// logged and does not block the others.
func (l *Loop) RunOnce(ctx context.Context) {
	start := l.now()

	if l.tasks.Graph != nil {
		edges, nodes, err := l.tasks.Graph.Prune(ctx)
		if err != nil {
			l.logger.Warn("maintenance: graph prune failed", "error", err)
		} else if edges > 0 || nodes > 0 {
			l.logger.Info("maintenance: graph pruned", "edges", edges, "nodes", nodes)
		}
	}

	if l.tasks.Conflicts != nil {
		if removed := l.tasks.Conflicts.Prune(); removed > 0 {
			l.logger.Info("maintenance: conflicts pruned", "removed", removed)
		}
	}

	if l.tasks.Decayer != nil {
		cutoff := l.now().Add(-l.decayAfter)
		touched, err := l.tasks.Decayer.DecayImportance(ctx, cutoff, l.decayFloor)
		if err != nil {
			l.logger.Warn("maintenance: importance decay failed", "error", err)
		} else if touched > 0 {
			l.logger.Info("maintenance: importance decayed", "records", touched)
		}
	}

	l.logger.Debug("maintenance: cycle finished", "elapsed", l.now().Sub(start))
}
