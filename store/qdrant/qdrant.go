// Package qdrant implements parley.MemoryIndex backed by a Qdrant server.
// It is the external-service alternative to store/sqlite for deployments
// where the memory index outgrows a single embedded file: similarity search
// runs server-side over Qdrant's HNSW graph.
package qdrant

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/qdrant/go-client/qdrant"

	"github.com/nevindra/parley"
)

// DefaultCollection is the Qdrant collection holding memory documents.
const DefaultCollection = "parley_memories"

// Index implements parley.MemoryIndex over a Qdrant collection. The
// collection is created lazily on the first AddMemory, sized to the first
// embedding seen.
type Index struct {
	client     *qdrant.Client
	collection string
	logger     *slog.Logger

	mu      sync.Mutex
	ensured bool
}

var _ parley.MemoryIndex = (*Index)(nil)

// Option configures an Index.
type Option func(*Index)

// WithCollection overrides the collection name.
func WithCollection(name string) Option {
	return func(x *Index) { x.collection = name }
}

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(x *Index) { x.logger = l }
}

// New creates an Index against a Qdrant gRPC endpoint.
func New(host string, port int, apiKey string, useTLS bool, opts ...Option) (*Index, error) {
	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   host,
		Port:   port,
		APIKey: apiKey,
		UseTLS: useTLS,
	})
	if err != nil {
		return nil, &parley.ErrStore{Op: "qdrant_connect", Err: err}
	}
	x := &Index{client: client, collection: DefaultCollection, logger: nopLogger}
	for _, o := range opts {
		o(x)
	}
	return x, nil
}

// ensureCollection creates the collection with cosine distance if it does
// not exist yet. Vector size comes from the first embedding stored.
func (x *Index) ensureCollection(ctx context.Context, dim int) error {
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.ensured {
		return nil
	}

	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return err
	}
	if !exists {
		err = x.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: x.collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(dim),
				Distance: qdrant.Distance_Cosine,
			}),
		})
		// Concurrent creators race; "already exists" is success.
		if err != nil && !strings.Contains(err.Error(), "already exists") {
			return err
		}
		x.logger.Info("qdrant: collection created", "collection", x.collection, "dim", dim)
	}
	x.ensured = true
	return nil
}

// AddMemory upserts one memory document as a point whose payload carries the
// record fields.
func (x *Index) AddMemory(ctx context.Context, rec parley.MemoryRecord, embedding []float32) error {
	if len(embedding) == 0 {
		return &parley.ErrStore{Op: "qdrant_add_memory", Err: errEmptyEmbedding}
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
	if err := x.ensureCollection(ctx, len(embedding)); err != nil {
		return &parley.ErrStore{Op: "qdrant_ensure", Err: err}
	}

	point := &qdrant.PointStruct{
		Id:      qdrant.NewID(rec.ID),
		Vectors: qdrant.NewVectors(embedding...),
		Payload: qdrant.NewValueMap(map[string]any{
			"content":    rec.Content,
			"entity":     rec.Entity,
			"category":   rec.Category,
			"importance": int64(rec.Importance),
			"created_at": rec.CreatedAt,
		}),
	}
	_, err := x.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: x.collection,
		Points:         []*qdrant.PointStruct{point},
	})
	if err != nil {
		return &parley.ErrStore{Op: "qdrant_add_memory", Err: err}
	}
	return nil
}

// Search returns the top-k memories by cosine similarity.
func (x *Index) Search(ctx context.Context, embedding []float32, topK int) ([]parley.ScoredMemory, error) {
	limit := uint64(topK)
	points, err := x.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: x.collection,
		Query:          qdrant.NewQuery(embedding...),
		Limit:          &limit,
		WithPayload:    qdrant.NewWithPayload(true),
	})
	if err != nil {
		// A missing collection just means nothing was stored yet.
		if strings.Contains(err.Error(), "doesn't exist") || strings.Contains(err.Error(), "not found") {
			return nil, nil
		}
		return nil, &parley.ErrStore{Op: "qdrant_search", Err: err}
	}

	results := make([]parley.ScoredMemory, 0, len(points))
	for _, p := range points {
		m := parley.ScoredMemory{Similarity: float64(p.Score)}
		if id := p.Id.GetUuid(); id != "" {
			m.ID = id
		}
		payload := p.Payload
		if v, ok := payload["content"]; ok {
			m.Content = v.GetStringValue()
		}
		if v, ok := payload["entity"]; ok {
			m.Entity = v.GetStringValue()
		}
		if v, ok := payload["category"]; ok {
			m.Category = v.GetStringValue()
		}
		if v, ok := payload["importance"]; ok {
			m.Importance = int(v.GetIntegerValue())
		}
		if v, ok := payload["created_at"]; ok {
			m.CreatedAt = v.GetIntegerValue()
		}
		results = append(results, m)
	}
	return results, nil
}

// Stats reports the point count. Qdrant does not expose per-collection byte
// size over the points API, so SizeBytes stays zero.
func (x *Index) Stats(ctx context.Context) (parley.MemoryStats, error) {
	exists, err := x.client.CollectionExists(ctx, x.collection)
	if err != nil {
		return parley.MemoryStats{}, &parley.ErrStore{Op: "qdrant_stats", Err: err}
	}
	if !exists {
		return parley.MemoryStats{}, nil
	}
	count, err := x.client.Count(ctx, &qdrant.CountPoints{CollectionName: x.collection})
	if err != nil {
		return parley.MemoryStats{}, &parley.ErrStore{Op: "qdrant_stats", Err: err}
	}
	return parley.MemoryStats{Documents: int64(count)}, nil
}

// Close closes the underlying gRPC connection.
func (x *Index) Close() error { return x.client.Close() }
