// Command parleyd runs the conversational message gateway: webhook ingress,
// the task pipeline, memory, and the channel adapter, wired from parley.toml
// and the environment.
package main

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/nevindra/parley"
	"github.com/nevindra/parley/channel/telegram"
	"github.com/nevindra/parley/channel/wacli"
	"github.com/nevindra/parley/cognition"
	"github.com/nevindra/parley/graph"
	"github.com/nevindra/parley/ingest"
	"github.com/nevindra/parley/internal/app"
	"github.com/nevindra/parley/internal/config"
	"github.com/nevindra/parley/memory"
	"github.com/nevindra/parley/observer"
	"github.com/nevindra/parley/persona"
	"github.com/nevindra/parley/provider/resolve"
	"github.com/nevindra/parley/route"
	"github.com/nevindra/parley/server"
	"github.com/nevindra/parley/store/chromem"
	"github.com/nevindra/parley/store/postgres"
	"github.com/nevindra/parley/store/qdrant"
	"github.com/nevindra/parley/store/sqlite"
)

func main() {
	_ = godotenv.Load()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	cfg := config.Load(os.Getenv("PARLEY_CONFIG"))
	if err := cfg.Validate(); err != nil {
		fatal(logger, "config invalid", err)
	}

	ctx := context.Background()

	// Observability is opt-in; the daemon runs fine without a collector.
	var inst *observer.Instruments
	var obsShutdown func(context.Context) error
	if cfg.Observer.Enabled {
		pricing := make(map[string]observer.ModelPricing, len(cfg.Observer.Pricing))
		for model, p := range cfg.Observer.Pricing {
			pricing[model] = observer.ModelPricing{InputPerMillion: p.Input, OutputPerMillion: p.Output}
		}
		var err error
		inst, obsShutdown, err = observer.Init(ctx, pricing)
		if err != nil {
			logger.Warn("observer init failed, continuing without telemetry", "error", err)
			inst = nil
		}
	}

	// Provider fallback chain: proxy → direct key → local vault → openrouter.
	chain, err := resolve.Chain([]resolve.Variant{
		{Kind: resolve.KindOAuthProxy, GatewayURL: cfg.LLM.GatewayURL, GatewayToken: cfg.LLM.GatewayToken, Model: cfg.Routing.ProModel},
		{Kind: resolve.KindDirectAPIKey, APIKey: cfg.LLM.GeminiAPIKey, Model: cfg.Routing.FlashModel},
		{Kind: resolve.KindLocalVault, Host: cfg.LLM.VaultHost, Model: cfg.LLM.VaultModel},
		{Kind: resolve.KindOpenRouterFallback, APIKey: cfg.LLM.OpenRouterAPIKey, Model: cfg.LLM.OpenRouterModel},
	}, resolve.ChainLogger(logger))
	if err != nil {
		fatal(logger, "provider chain", err)
	}
	llm := parley.WithRetry(chain, parley.RetryLogger(logger))
	if cfg.LLM.RPM > 0 || cfg.LLM.TPM > 0 {
		llm = parley.WithRateLimit(llm, parley.RPM(cfg.LLM.RPM), parley.TPM(cfg.LLM.TPM))
	}
	if inst != nil {
		llm = observer.WrapProvider(llm, cfg.Routing.FlashModel, inst)
	}

	embedder, err := resolve.EmbeddingProvider(resolve.EmbeddingConfig{
		Provider:   cfg.Embedding.Provider,
		APIKey:     cfg.Embedding.APIKey,
		Host:       cfg.Embedding.Host,
		Model:      cfg.Embedding.Model,
		Dimensions: cfg.Embedding.Dimensions,
	})
	if err != nil {
		fatal(logger, "embedding provider", err)
	}
	embedding := parley.WithEmbeddingRetry(embedder, parley.RetryLogger(logger))
	if inst != nil {
		embedding = observer.WrapEmbedding(embedding, cfg.Embedding.Model, inst)
	}

	// The sqlite store always carries history, graph, and the bridge index;
	// the memory index can live elsewhere.
	if err := os.MkdirAll(filepath.Join(cfg.Workspace, "db"), 0o755); err != nil {
		fatal(logger, "workspace", err)
	}
	dbPath := filepath.Join(cfg.Workspace, "db", "memory.db")

	base := sqlite.New(dbPath, sqlite.WithLogger(logger))
	if err := base.Init(ctx); err != nil {
		fatal(logger, "sqlite init", err)
	}
	var history parley.HistoryStore = base

	var index parley.MemoryIndex
	switch cfg.Memory.Index {
	case "sqlite":
		index = base
	case "postgres":
		pool, err := pgxpool.New(ctx, cfg.Memory.PostgresDSN)
		if err != nil {
			fatal(logger, "postgres connect", err)
		}
		pg := postgres.New(pool, postgres.WithEmbeddingDimension(cfg.Embedding.Dimensions))
		if err := pg.Init(ctx); err != nil {
			fatal(logger, "postgres init", err)
		}
		index = pg
		history = pg
	case "qdrant":
		q, err := qdrant.New(cfg.Memory.QdrantHost, cfg.Memory.QdrantPort, "", false, qdrant.WithLogger(logger))
		if err != nil {
			fatal(logger, "qdrant connect", err)
		}
		index = q
	case "chromem":
		c, err := chromem.New(
			chromem.WithPersistence(filepath.Join(cfg.Workspace, "db", "chromem"), false),
			chromem.WithLogger(logger))
		if err != nil {
			fatal(logger, "chromem init", err)
		}
		index = c
	}
	var decayer parley.MemoryDecayer
	if d, ok := index.(parley.MemoryDecayer); ok {
		decayer = d
	}

	graphDB := sqlite.NewGraph(filepath.Join(cfg.Workspace, "db", "knowledge_graph.db"),
		sqlite.WithGraphLogger(logger))
	if err := graphDB.Init(ctx); err != nil {
		fatal(logger, "graph init", err)
	}
	bridgeDB := sqlite.NewBridge(filepath.Join(cfg.Workspace, "whatsapp_bridge.db"),
		sqlite.WithBridgeLogger(logger))
	if err := bridgeDB.Init(ctx); err != nil {
		fatal(logger, "bridge init", err)
	}

	conflicts, err := memory.NewConflictManager(
		filepath.Join(cfg.Workspace, "conflicts.json"),
		memory.WithConflictLogger(logger))
	if err != nil {
		fatal(logger, "conflict manager", err)
	}

	entities := memory.NewEntityGate()
	if err := entities.LoadFile(filepath.Join(cfg.Workspace, "data", "entities.json")); err != nil {
		logger.Warn("entity dictionary load failed", "error", err)
	}

	mem := memory.NewEngine(index, embedding,
		memory.WithGraph(graphDB),
		memory.WithEntities(entities),
		memory.WithScorer(llm),
		memory.WithBackupLog(filepath.Join(cfg.Workspace, "_archived_memories", "persistent_log.jsonl")),
		memory.WithLogger(logger))

	cog := cognition.NewEngine(llm, mem,
		cognition.WithGraph(graphDB),
		cognition.WithLogger(logger))

	router := route.New(llm, cfg.Routing.FlashModel, cfg.Routing.ProModel, route.WithLogger(logger))

	// Persona stores; the default persona registers first.
	names := orderedPersonas(cfg.Persona.Names, cfg.Persona.Default)
	stores := make([]*persona.Store, 0, len(names))
	for _, name := range names {
		store, err := persona.New(name, cfg.Persona.Dir, persona.WithLogger(logger))
		if err != nil {
			fatal(logger, "persona "+name, err)
		}
		stores = append(stores, store)
	}
	personas := persona.NewRegistry(stores...)

	var sender parley.Sender
	var loop server.LoopTester
	switch cfg.Channel.Kind {
	case "wacli":
		wa := wacli.New(cfg.Channel.CLIPath, wacli.WithLogger(logger))
		sender = wa
		loop = wa
	case "telegram":
		tg, err := telegram.New(cfg.Channel.TelegramToken, telegram.WithLogger(logger))
		if err != nil {
			fatal(logger, "telegram", err)
		}
		sender = tg
	}
	if inst != nil {
		sender = observer.WrapSender(sender, cfg.Channel.Kind, inst)
	}

	var guard parley.InputGuard
	if !cfg.Guard.Skip {
		guard = parley.Guards{
			parley.NewInjectionGuard(),
			parley.NewLengthGuard(cfg.Guard.MaxLength),
		}
	}

	application, err := app.New(cfg, app.Deps{
		Sender:      sender,
		LLM:         llm,
		Embedder:    embedding,
		Memory:      mem,
		Router:      router,
		Cognition:   cog,
		Graph:       graph.New(graphDB, graph.WithLogger(logger)),
		History:     history,
		Bridge:      bridgeDB,
		Conflicts:   conflicts,
		Personas:    personas,
		Ingest:      ingest.New(index, embedding, ingest.WithLogger(logger)),
		Loop:        loop,
		Guard:       guard,
		Decayer:     decayer,
		Entities:    entities,
		Instruments: inst,
		Logger:      logger,
	})
	if err != nil {
		fatal(logger, "app", err)
	}

	runErr := application.RunWithSignal()
	if obsShutdown != nil {
		if err := obsShutdown(context.Background()); err != nil {
			logger.Warn("observer shutdown", "error", err)
		}
	}
	if runErr != nil {
		fatal(logger, "run", runErr)
	}
}

// orderedPersonas puts the default persona first so the registry treats it
// as the fallback.
func orderedPersonas(names []string, def string) []string {
	out := make([]string, 0, len(names)+1)
	if def != "" {
		out = append(out, def)
	}
	for _, n := range names {
		if n != def {
			out = append(out, n)
		}
	}
	return out
}

func fatal(logger *slog.Logger, msg string, err error) {
	logger.Error(msg, "error", err)
	os.Exit(1)
}
