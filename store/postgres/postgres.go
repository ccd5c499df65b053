// Package postgres implements parley.MemoryIndex using PostgreSQL with
// pgvector for native vector similarity search. It is the scale-up
// alternative to store/sqlite: the schema is equivalent, but similarity
// ranking runs in the database over an HNSW index instead of in-process.
//
// The Store accepts an externally-owned *pgxpool.Pool via constructor
// injection. The caller creates and closes the pool.
package postgres

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/nevindra/parley"
)

// Store implements parley.MemoryIndex backed by PostgreSQL with pgvector.
// Vector search uses HNSW indexes with cosine distance.
type Store struct {
	pool *pgxpool.Pool
	cfg  pgConfig
}

// pgConfig holds store configuration set via Option functions.
type pgConfig struct {
	embeddingDimension int // 0 = untyped vector
	hnswM              int // 0 = pgvector default (16)
	hnswEFConstruction int // 0 = pgvector default (64)
	hnswEFSearch       int // 0 = pgvector default (40)
}

// Option configures a PostgreSQL Store.
type Option func(*pgConfig)

// WithEmbeddingDimension sets the vector column dimension (e.g. 1536, 768).
// When set, CREATE TABLE uses vector(N) instead of untyped vector, enabling
// better index optimization and catching dimension mismatches at insert time.
// Only affects new table creation (no ALTER on existing tables).
func WithEmbeddingDimension(dim int) Option {
	return func(c *pgConfig) { c.embeddingDimension = dim }
}

// WithHNSWM sets the HNSW m parameter (max connections per node).
// Higher values improve recall at the cost of memory. Default: pgvector's 16.
func WithHNSWM(m int) Option {
	return func(c *pgConfig) { c.hnswM = m }
}

// WithEFConstruction sets the HNSW ef_construction parameter (build-time
// candidate list size). Higher values improve index quality at the cost of
// slower builds. Default: pgvector's 64.
func WithEFConstruction(ef int) Option {
	return func(c *pgConfig) { c.hnswEFConstruction = ef }
}

// WithEFSearch sets the HNSW ef_search parameter (query-time candidate list
// size). Higher values improve recall at the cost of latency. Default:
// pgvector's 40. Applied via SET during Init().
func WithEFSearch(ef int) Option {
	return func(c *pgConfig) { c.hnswEFSearch = ef }
}

var _ parley.MemoryIndex = (*Store)(nil)
var _ parley.MemoryDecayer = (*Store)(nil)
var _ parley.HistoryStore = (*Store)(nil)

// New creates a Store using an existing pgxpool.Pool.
// The caller owns the pool and is responsible for closing it.
func New(pool *pgxpool.Pool, opts ...Option) *Store {
	var cfg pgConfig
	for _, o := range opts {
		o(&cfg)
	}
	return &Store{pool: pool, cfg: cfg}
}

func (s *Store) vectorType() string {
	if s.cfg.embeddingDimension > 0 {
		return fmt.Sprintf("vector(%d)", s.cfg.embeddingDimension)
	}
	return "vector"
}

func (s *Store) hnswWithClause() string {
	var parts []string
	if s.cfg.hnswM > 0 {
		parts = append(parts, fmt.Sprintf("m = %d", s.cfg.hnswM))
	}
	if s.cfg.hnswEFConstruction > 0 {
		parts = append(parts, fmt.Sprintf("ef_construction = %d", s.cfg.hnswEFConstruction))
	}
	if len(parts) == 0 {
		return ""
	}
	return " WITH (" + strings.Join(parts, ", ") + ")"
}

// Init creates the pgvector extension, tables, and indexes.
// Safe to call multiple times (all statements are idempotent).
func (s *Store) Init(ctx context.Context) error {
	vtype := s.vectorType()
	hnswWith := s.hnswWithClause()

	stmts := []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			entity TEXT NOT NULL DEFAULT '',
			category TEXT NOT NULL DEFAULT 'misc',
			importance INTEGER NOT NULL DEFAULT 5,
			embedding %s,
			created_at BIGINT NOT NULL
		)`, vtype),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories USING hnsw (embedding vector_cosine_ops)%s`, hnswWith),
		`CREATE INDEX IF NOT EXISTS memories_entity_idx ON memories(entity)`,
		`CREATE INDEX IF NOT EXISTS memories_category_idx ON memories(category)`,

		`CREATE TABLE IF NOT EXISTS chat_history (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at BIGINT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS chat_history_chat_idx ON chat_history(chat_id, created_at)`,
	}

	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return &parley.ErrStore{Op: "pg_init", Err: err}
		}
	}

	if s.cfg.hnswEFSearch > 0 {
		if _, err := s.pool.Exec(ctx, fmt.Sprintf("SET hnsw.ef_search = %d", s.cfg.hnswEFSearch)); err != nil {
			return &parley.ErrStore{Op: "pg_ef_search", Err: err}
		}
	}
	return nil
}

// AddMemory stores one memory document and its embedding.
func (s *Store) AddMemory(ctx context.Context, rec parley.MemoryRecord, embedding []float32) error {
	if rec.ID == "" {
		rec.ID = parley.NewID()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = parley.NowUnix()
	}
	if rec.Importance == 0 {
		rec.Importance = 5
	}

	if len(embedding) > 0 {
		embStr := serializeEmbedding(embedding)
		_, err := s.pool.Exec(ctx,
			`INSERT INTO memories (id, content, entity, category, importance, embedding, created_at)
			 VALUES ($1, $2, $3, $4, $5, $6::vector, $7)
			 ON CONFLICT (id) DO UPDATE SET
			   content = EXCLUDED.content,
			   entity = EXCLUDED.entity,
			   category = EXCLUDED.category,
			   importance = EXCLUDED.importance,
			   embedding = EXCLUDED.embedding`,
			rec.ID, rec.Content, rec.Entity, rec.Category, rec.Importance, embStr, rec.CreatedAt)
		if err != nil {
			return &parley.ErrStore{Op: "pg_add_memory", Err: err}
		}
		return nil
	}

	_, err := s.pool.Exec(ctx,
		`INSERT INTO memories (id, content, entity, category, importance, embedding, created_at)
		 VALUES ($1, $2, $3, $4, $5, NULL, $6)
		 ON CONFLICT (id) DO UPDATE SET
		   content = EXCLUDED.content,
		   entity = EXCLUDED.entity,
		   category = EXCLUDED.category,
		   importance = EXCLUDED.importance,
		   embedding = NULL`,
		rec.ID, rec.Content, rec.Entity, rec.Category, rec.Importance, rec.CreatedAt)
	if err != nil {
		return &parley.ErrStore{Op: "pg_add_memory", Err: err}
	}
	return nil
}

// Search returns the top-k memories by cosine similarity using pgvector's
// distance operator over the HNSW index.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]parley.ScoredMemory, error) {
	embStr := serializeEmbedding(embedding)
	rows, err := s.pool.Query(ctx,
		`SELECT id, content, entity, category, importance, created_at,
		        1 - (embedding <=> $1::vector) AS score
		 FROM memories
		 WHERE embedding IS NOT NULL
		 ORDER BY embedding <=> $1::vector
		 LIMIT $2`,
		embStr, topK)
	if err != nil {
		return nil, &parley.ErrStore{Op: "pg_search", Err: err}
	}
	defer rows.Close()

	var results []parley.ScoredMemory
	for rows.Next() {
		var m parley.ScoredMemory
		if err := rows.Scan(&m.ID, &m.Content, &m.Entity, &m.Category, &m.Importance, &m.CreatedAt, &m.Similarity); err != nil {
			return nil, &parley.ErrStore{Op: "pg_scan_memory", Err: err}
		}
		results = append(results, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &parley.ErrStore{Op: "pg_search", Err: err}
	}
	return results, nil
}

// Stats reports document count and approximate table size.
func (s *Store) Stats(ctx context.Context) (parley.MemoryStats, error) {
	var st parley.MemoryStats
	err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM memories`).Scan(&st.Documents)
	if err != nil {
		return parley.MemoryStats{}, &parley.ErrStore{Op: "pg_stats", Err: err}
	}
	err = s.pool.QueryRow(ctx, `SELECT COALESCE(pg_total_relation_size('memories'), 0)`).Scan(&st.SizeBytes)
	if err != nil {
		return parley.MemoryStats{}, &parley.ErrStore{Op: "pg_stats", Err: err}
	}
	return st, nil
}

// DecayImportance lowers importance by one point for memories older than the
// cutoff, never below the floor. Returns rows touched.
func (s *Store) DecayImportance(ctx context.Context, olderThan time.Time, floor int) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE memories SET importance = importance - 1 WHERE created_at < $1 AND importance > $2`,
		olderThan.Unix(), floor)
	if err != nil {
		return 0, &parley.ErrStore{Op: "pg_decay", Err: err}
	}
	return int(tag.RowsAffected()), nil
}

// AppendTurn records one message in a chat's history.
func (s *Store) AppendTurn(ctx context.Context, chatID string, msg parley.HistoryMessage) error {
	if msg.CreatedAt == 0 {
		msg.CreatedAt = parley.NowUnix()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_history (id, chat_id, role, content, created_at) VALUES ($1, $2, $3, $4, $5)`,
		parley.NewID(), chatID, msg.Role, msg.Content, msg.CreatedAt)
	if err != nil {
		return &parley.ErrStore{Op: "pg_append_turn", Err: err}
	}
	return nil
}

// RecentTurns returns up to limit most recent messages, oldest first.
func (s *Store) RecentTurns(ctx context.Context, chatID string, limit int) ([]parley.HistoryMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT role, content, created_at FROM chat_history
		 WHERE chat_id = $1 ORDER BY created_at DESC LIMIT $2`,
		chatID, limit)
	if err != nil {
		return nil, &parley.ErrStore{Op: "pg_recent_turns", Err: err}
	}
	defer rows.Close()

	var msgs []parley.HistoryMessage
	for rows.Next() {
		var m parley.HistoryMessage
		if err := rows.Scan(&m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, &parley.ErrStore{Op: "pg_scan_turn", Err: err}
		}
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, &parley.ErrStore{Op: "pg_recent_turns", Err: err}
	}

	// Reverse to chronological order (oldest first).
	for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
		msgs[i], msgs[j] = msgs[j], msgs[i]
	}
	return msgs, nil
}

// Close is a no-op. The caller owns the pool and manages its lifecycle.
func (s *Store) Close() error { return nil }

// serializeEmbedding converts []float32 to a string like "[0.1,0.2,0.3]"
// suitable for pgvector's text input format.
func serializeEmbedding(embedding []float32) string {
	parts := make([]string, len(embedding))
	for i, v := range embedding {
		parts[i] = strconv.FormatFloat(float64(v), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}
