// Package chromem implements parley.MemoryIndex using chromem-go, an
// embedded pure-Go vector store. It needs no external service and no CGO:
// vectors live in memory with optional gob persistence, which makes it the
// default for zero-config installs where even SQLite is unwanted.
package chromem

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"

	"github.com/nevindra/parley"
)

// DefaultCollection is the chromem collection holding memory documents.
const DefaultCollection = "parley_memories"

// Index implements parley.MemoryIndex over a chromem-go collection.
//
// All vectors are precomputed by the caller; the embedding function wired
// into chromem exists only to satisfy its API and always errors.
type Index struct {
	db          *chromem.DB
	col         *chromem.Collection
	persistPath string
	compress    bool
	logger      *slog.Logger

	mu sync.Mutex
}

var _ parley.MemoryIndex = (*Index)(nil)

// Option configures an Index.
type Option func(*config)

type config struct {
	collection  string
	persistPath string
	compress    bool
	logger      *slog.Logger
}

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(c *config) { c.collection = name }
}

// WithPersistence stores vectors under dir as a gob file, reloaded on the
// next New. Without it the index is memory-only.
func WithPersistence(dir string, compress bool) Option {
	return func(c *config) {
		c.persistPath = dir
		c.compress = compress
	}
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New creates an Index, loading a previously persisted database when one
// exists at the configured path.
func New(opts ...Option) (*Index, error) {
	cfg := config{collection: DefaultCollection, logger: nopLogger}
	for _, o := range opts {
		o(&cfg)
	}

	var db *chromem.DB
	if cfg.persistPath != "" {
		if err := os.MkdirAll(cfg.persistPath, 0o755); err != nil {
			return nil, &parley.ErrStore{Op: "chromem_mkdir", Err: err}
		}
		path := dbFile(cfg.persistPath, cfg.compress)
		if _, statErr := os.Stat(path); statErr == nil {
			loaded, err := chromem.NewPersistentDB(path, cfg.compress)
			if err != nil {
				cfg.logger.Warn("chromem: failed to load persisted index, starting fresh", "path", path, "error", err)
				db = chromem.NewDB()
			} else {
				db = loaded
				cfg.logger.Info("chromem: index loaded", "path", path)
			}
		} else {
			db = chromem.NewDB()
		}
	} else {
		db = chromem.NewDB()
	}

	// Vectors are always supplied precomputed.
	embed := func(ctx context.Context, text string) ([]float32, error) {
		return nil, errors.New("chromem: embedding must be precomputed")
	}
	col, err := db.GetOrCreateCollection(cfg.collection, nil, embed)
	if err != nil {
		return nil, &parley.ErrStore{Op: "chromem_collection", Err: err}
	}

	return &Index{
		db:          db,
		col:         col,
		persistPath: cfg.persistPath,
		compress:    cfg.compress,
		logger:      cfg.logger,
	}, nil
}

// AddMemory stores one memory document with its precomputed embedding.
func (x *Index) AddMemory(ctx context.Context, rec parley.MemoryRecord, embedding []float32) error {
	if len(embedding) == 0 {
		return &parley.ErrStore{Op: "chromem_add_memory", Err: errors.New("empty embedding")}
	}
	if rec.ID == "" {
		rec.ID = parley.NewID()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = parley.NowUnix()
	}
	if rec.Importance == 0 {
		rec.Importance = 5
	}

	doc := chromem.Document{
		ID:      rec.ID,
		Content: rec.Content,
		Metadata: map[string]string{
			"entity":     rec.Entity,
			"category":   rec.Category,
			"importance": strconv.Itoa(rec.Importance),
			"created_at": strconv.FormatInt(rec.CreatedAt, 10),
		},
		Embedding: embedding,
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if err := x.col.AddDocuments(ctx, []chromem.Document{doc}, runtime.NumCPU()); err != nil {
		return &parley.ErrStore{Op: "chromem_add_memory", Err: err}
	}
	if err := x.persist(); err != nil {
		x.logger.Warn("chromem: persist failed after add", "error", err)
	}
	return nil
}

// Search returns the top-k memories by cosine similarity.
func (x *Index) Search(ctx context.Context, embedding []float32, topK int) ([]parley.ScoredMemory, error) {
	// chromem rejects queries asking for more results than stored docs.
	if n := x.col.Count(); topK > n {
		topK = n
	}
	if topK == 0 {
		return nil, nil
	}

	hits, err := x.col.QueryEmbedding(ctx, embedding, topK, nil, nil)
	if err != nil {
		return nil, &parley.ErrStore{Op: "chromem_search", Err: err}
	}

	results := make([]parley.ScoredMemory, 0, len(hits))
	for _, h := range hits {
		rec := parley.MemoryRecord{
			ID:       h.ID,
			Content:  h.Content,
			Entity:   h.Metadata["entity"],
			Category: h.Metadata["category"],
		}
		rec.Importance, _ = strconv.Atoi(h.Metadata["importance"])
		rec.CreatedAt, _ = strconv.ParseInt(h.Metadata["created_at"], 10, 64)
		m := parley.ScoredMemory{MemoryRecord: rec, Similarity: float64(h.Similarity)}
		results = append(results, m)
	}
	return results, nil
}

// Stats reports document count and, when persisted, the gob file size.
func (x *Index) Stats(ctx context.Context) (parley.MemoryStats, error) {
	st := parley.MemoryStats{Documents: int64(x.col.Count())}
	if x.persistPath != "" {
		if fi, err := os.Stat(dbFile(x.persistPath, x.compress)); err == nil {
			st.SizeBytes = fi.Size()
		}
	}
	return st, nil
}

// Close flushes the index to disk when persistence is enabled.
func (x *Index) Close() error {
	x.mu.Lock()
	defer x.mu.Unlock()
	return x.persist()
}

func (x *Index) persist() error {
	if x.persistPath == "" {
		return nil
	}
	path := dbFile(x.persistPath, x.compress)
	if err := x.db.ExportToFile(path, x.compress, ""); err != nil {
		return fmt.Errorf("chromem: export: %w", err)
	}
	return nil
}

func dbFile(dir string, compress bool) string {
	name := "memories.gob"
	if compress {
		name += ".gz"
	}
	return filepath.Join(dir, name)
}
