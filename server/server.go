// Package server is the HTTP ingress for the gateway: webhook intake,
// status and health reporting, persona and conflict administration, and
// the task lifecycle event stream.
package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	jsoniter "github.com/json-iterator/go"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/channel/wacli"
	"github.com/nevindra/parley/graph"
	"github.com/nevindra/parley/ingest"
	"github.com/nevindra/parley/memory"
	"github.com/nevindra/parley/persona"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// LoopTester runs the channel's local delivery smoke test.
type LoopTester interface {
	LoopTest(ctx context.Context, target, message string, dryRun bool, timeout time.Duration) (wacli.LoopResult, error)
}

// Server holds the ingress dependencies. Build one in main with New and
// mount Router on an http.Server; there are no package-level singletons.
type Server struct {
	gateway   *parley.Gateway
	guard     parley.InputGuard
	mem       *memory.Engine
	graph     *graph.Graph
	conflicts *memory.ConflictManager
	personas  *persona.Registry
	ingestor  *ingest.Service
	bridge    parley.BridgeIndex
	loop      LoopTester
	events    *Hub

	onSkip func(reason string)

	apiKey      string
	bridgeToken string
	corsOrigins []string
	flashModel  string
	proModel    string
	logger      *slog.Logger
	started     time.Time
}

// Option configures a Server.
type Option func(*Server)

// WithAPIKey gates the webhook and admin endpoints behind an x-api-key
// header. Empty key disables auth.
func WithAPIKey(key string) Option {
	return func(s *Server) { s.apiKey = key }
}

// WithBridgeToken gates the bridge endpoints (loop test, job lookup).
func WithBridgeToken(token string) Option {
	return func(s *Server) { s.bridgeToken = token }
}

// WithCORS sets the allowed origins. "*" allows any.
func WithCORS(origins []string) Option {
	return func(s *Server) { s.corsOrigins = origins }
}

// WithGuard screens inbound text before it reaches the gateway.
func WithGuard(g parley.InputGuard) Option {
	return func(s *Server) { s.guard = g }
}

// WithGraph enables graph counts in /health.
func WithGraph(g *graph.Graph) Option {
	return func(s *Server) { s.graph = g }
}

// WithConflicts enables the conflict endpoints.
func WithConflicts(m *memory.ConflictManager) Option {
	return func(s *Server) { s.conflicts = m }
}

// WithPersonas enables persona-addressed chat and /persona/rebuild.
func WithPersonas(r *persona.Registry) Option {
	return func(s *Server) { s.personas = r }
}

// WithIngest enables POST /ingest.
func WithIngest(svc *ingest.Service) Option {
	return func(s *Server) { s.ingestor = svc }
}

// WithBridge enables the inbound message index behind /whatsapp/jobs.
func WithBridge(idx parley.BridgeIndex) Option {
	return func(s *Server) { s.bridge = idx }
}

// WithLoopTester enables POST /whatsapp/loop-test.
func WithLoopTester(lt LoopTester) Option {
	return func(s *Server) { s.loop = lt }
}

// WithModels names the routed models for /health reporting.
func WithModels(flash, pro string) Option {
	return func(s *Server) { s.flashModel, s.proModel = flash, pro }
}

// WithSkipRecorder observes skipped submissions (metrics). Called with the
// receipt reason for every non-accepted or skipped delivery.
func WithSkipRecorder(fn func(reason string)) Option {
	return func(s *Server) { s.onSkip = fn }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) { s.logger = l }
}

// New builds a Server around the gateway pipeline and memory engine.
func New(gw *parley.Gateway, mem *memory.Engine, opts ...Option) *Server {
	s := &Server{
		gateway: gw,
		mem:     mem,
		logger:  nopLogger,
		started: time.Now(),
	}
	for _, o := range opts {
		o(s)
	}
	s.events = newHub(s.logger)
	return s
}

// Events returns the task lifecycle sink to plug into the gateway.
func (s *Server) Events() parley.EventSink { return s.events.Publish }

// Close drops all event stream clients.
func (s *Server) Close() { s.events.Close() }

// Router builds the chi route tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(s.corsMiddleware)

	r.Get("/health", s.handleHealth)
	r.Get("/gateway/status", s.handleStatus)
	r.Get("/gateway/events", s.handleEvents)

	r.Group(func(r chi.Router) {
		r.Use(s.requireAPIKey)
		r.Post("/chat", s.handleChat)
		r.Post("/v1/chat/completions", s.handleChat)
		r.Post("/chat/{persona}", s.handleChat)
		r.Post("/persona/rebuild", s.handlePersonaRebuild)
		r.Post("/ingest", s.handleIngest)
		r.Get("/conflicts", s.handleConflicts)
		r.Post("/conflicts/{id}/resolve", s.handleConflictResolve)
	})

	r.Group(func(r chi.Router) {
		r.Use(s.requireBridgeToken)
		r.Post("/whatsapp/loop-test", s.handleLoopTest)
		r.Get("/whatsapp/jobs/{messageID}", s.handleJobStatus)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
