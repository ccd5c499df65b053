// Package app wires the gateway pipeline, HTTP ingress, and maintenance
// loop into one runnable unit. main constructs the dependencies; App owns
// their lifecycle.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/cognition"
	"github.com/nevindra/parley/graph"
	"github.com/nevindra/parley/ingest"
	"github.com/nevindra/parley/internal/config"
	"github.com/nevindra/parley/internal/maintenance"
	"github.com/nevindra/parley/memory"
	"github.com/nevindra/parley/observer"
	"github.com/nevindra/parley/persona"
	"github.com/nevindra/parley/route"
	"github.com/nevindra/parley/server"
)

// Shutdown deadlines. The queue drain gets the long one; everything else
// should settle quickly once intake stops.
const (
	httpShutdownTimeout  = 5 * time.Second
	drainShutdownTimeout = 30 * time.Second
)

// Deps holds injected dependencies for the App. Sender, LLM, Embedder, and
// Memory are required; nil optional fields disable their feature.
type Deps struct {
	Sender   parley.Sender
	LLM      parley.Provider
	Embedder parley.EmbeddingProvider
	Memory   *memory.Engine

	Router    *route.Router
	Cognition *cognition.Engine
	Graph     *graph.Graph
	History   parley.HistoryStore
	Bridge    parley.BridgeIndex
	Conflicts *memory.ConflictManager
	Personas  *persona.Registry
	Ingest    *ingest.Service
	Loop      server.LoopTester
	Guard     parley.InputGuard
	Decayer   parley.MemoryDecayer
	Entities  *memory.EntityGate

	Instruments *observer.Instruments
	Logger      *slog.Logger
}

// App composes the message pipeline for one process.
type App struct {
	cfg    config.Config
	logger *slog.Logger

	gateway *parley.Gateway
	server  *server.Server
	http    *http.Server
	maint   *maintenance.Loop

	personas *persona.Registry
}

// New assembles the pipeline. The event sink fan-out lets the gateway be
// built before the consumers that subscribe to it.
func New(cfg config.Config, d Deps) (*App, error) {
	if d.Sender == nil || d.LLM == nil || d.Memory == nil {
		return nil, fmt.Errorf("app: sender, llm, and memory are required")
	}
	logger := d.Logger
	if logger == nil {
		logger = nopLogger
	}
	if d.Entities == nil {
		d.Entities = memory.NewEntityGate()
	}

	proc := &processor{
		llm:       d.LLM,
		router:    d.Router,
		memory:    d.Memory,
		cognition: d.Cognition,
		graph:     d.Graph,
		history:   d.History,
		bridge:    d.Bridge,
		conflicts: d.Conflicts,
		personas:  d.Personas,
		entities:  d.Entities,
		logger:    logger,
	}

	sinks := &sinkFan{}
	gwOpts := []parley.GatewayOption{
		parley.GatewayEvents(sinks.Publish),
		parley.GatewayLogger(logger),
	}
	if cfg.Gateway.FloodWindowMS > 0 {
		gwOpts = append(gwOpts, parley.GatewayFloodWindow(time.Duration(cfg.Gateway.FloodWindowMS)*time.Millisecond))
	}
	if cfg.Gateway.QueueSize > 0 {
		gwOpts = append(gwOpts, parley.QueueSize(cfg.Gateway.QueueSize))
	}
	if cfg.Gateway.Workers > 0 {
		gwOpts = append(gwOpts, parley.PoolOptions(parley.Workers(cfg.Gateway.Workers)))
	}
	gw := parley.NewGateway(d.Sender, proc.Process, gwOpts...)
	proc.gateway = gw

	srvOpts := []server.Option{
		server.WithAPIKey(cfg.Server.APIKey),
		server.WithBridgeToken(cfg.Server.BridgeToken),
		server.WithCORS(cfg.Server.CORSOrigins),
		server.WithModels(cfg.Routing.FlashModel, cfg.Routing.ProModel),
		server.WithLogger(logger),
	}
	if d.Guard != nil {
		srvOpts = append(srvOpts, server.WithGuard(d.Guard))
	}
	if d.Graph != nil {
		srvOpts = append(srvOpts, server.WithGraph(d.Graph))
	}
	if d.Conflicts != nil {
		srvOpts = append(srvOpts, server.WithConflicts(d.Conflicts))
	}
	if d.Personas != nil {
		srvOpts = append(srvOpts, server.WithPersonas(d.Personas))
	}
	if d.Ingest != nil {
		srvOpts = append(srvOpts, server.WithIngest(d.Ingest))
	}
	if d.Bridge != nil {
		srvOpts = append(srvOpts, server.WithBridge(d.Bridge))
	}
	if d.Loop != nil {
		srvOpts = append(srvOpts, server.WithLoopTester(d.Loop))
	}
	if d.Instruments != nil {
		inst := d.Instruments
		srvOpts = append(srvOpts, server.WithSkipRecorder(func(reason string) {
			if reason == parley.SkipDuplicate {
				inst.RecordDedupHit(context.Background())
			}
		}))
	}
	srv := server.New(gw, d.Memory, srvOpts...)

	sinks.Add(srv.Events())
	if d.Instruments != nil {
		sinks.Add(d.Instruments.TaskSink())
	}

	maint := maintenance.New(gw.Idle, maintenance.Tasks{
		Graph:     d.Graph,
		Conflicts: d.Conflicts,
		Decayer:   d.Decayer,
	},
		maintenance.WithInterval(time.Duration(cfg.Maintenance.IntervalMinutes)*time.Minute),
		maintenance.WithRecheck(time.Duration(cfg.Maintenance.RecheckSeconds)*time.Second),
		maintenance.WithLogger(logger),
	)

	return &App{
		cfg:    cfg,
		logger: logger,
		gateway: gw,
		server:  srv,
		http: &http.Server{
			Addr:              cfg.Server.ListenAddr(),
			Handler:           srv.Router(),
			ReadHeaderTimeout: 10 * time.Second,
		},
		maint:    maint,
		personas: d.Personas,
	}, nil
}

// Gateway exposes the pipeline for tests and diagnostics.
func (a *App) Gateway() *parley.Gateway { return a.gateway }

// Run starts the workers, persona watchers, maintenance loop, and HTTP
// server, then blocks until ctx is cancelled or the server fails.
func (a *App) Run(ctx context.Context) error {
	a.gateway.Start(ctx)

	if a.personas != nil {
		for _, store := range a.personas.All() {
			go func(s *persona.Store) {
				if err := s.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
					a.logger.Warn("app: persona watch stopped", "persona", s.Name(), "error", err)
				}
			}(store)
		}
	}

	go a.maint.Run(ctx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Info("app: listening", "addr", a.http.Addr)
		if err := a.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		a.shutdown()
		return fmt.Errorf("app: http server: %w", err)
	case <-ctx.Done():
		a.shutdown()
		return nil
	}
}

// RunWithSignal wraps Run with OS signal handling for graceful shutdown.
func (a *App) RunWithSignal() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return a.Run(ctx)
}

// shutdown stops intake first, drains the queue, then closes the rest.
func (a *App) shutdown() {
	a.logger.Info("app: shutting down")

	httpCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
	if err := a.http.Shutdown(httpCtx); err != nil {
		a.logger.Warn("app: http shutdown", "error", err)
	}
	cancel()

	drainCtx, cancel := context.WithTimeout(context.Background(), drainShutdownTimeout)
	a.gateway.Shutdown(drainCtx)
	cancel()

	a.server.Close()
	a.logger.Info("app: stopped")
}

// sinkFan fans one task event stream out to every registered sink. The
// gateway gets Publish at construction; consumers register afterwards.
type sinkFan struct {
	mu    sync.RWMutex
	sinks []parley.EventSink
}

func (f *sinkFan) Add(s parley.EventSink) {
	if s == nil {
		return
	}
	f.mu.Lock()
	f.sinks = append(f.sinks, s)
	f.mu.Unlock()
}

func (f *sinkFan) Publish(ev parley.TaskEvent) {
	f.mu.RLock()
	sinks := f.sinks
	f.mu.RUnlock()
	for _, s := range sinks {
		s(ev)
	}
}
