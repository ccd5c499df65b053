// Package sqlite implements parley's persistent stores on pure-Go SQLite
// with in-process brute-force vector search. Zero CGO required.
//
// Three databases mirror the on-disk layout of the assistant workspace:
// memory.db (documents + embeddings + chat history), knowledge_graph.db
// (entity nodes and weighted edges), and whatsapp_bridge.db (inbound
// message index). Each gets its own type so callers can place the files
// independently.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/nevindra/parley"

	_ "modernc.org/sqlite" // pure-Go SQLite driver
)

// StoreOption configures a SQLite Store.
type StoreOption func(*Store)

// WithLogger sets a structured logger for the store. When set, the store
// emits debug logs for every operation including timing and row counts.
func WithLogger(l *slog.Logger) StoreOption {
	return func(s *Store) { s.logger = l }
}

// Store is the memory database: documents with JSON-text embeddings plus
// per-chat conversation history. Implements parley.MemoryIndex,
// parley.MemoryDecayer, and parley.HistoryStore.
type Store struct {
	db     *sql.DB
	logger *slog.Logger
}

var (
	_ parley.MemoryIndex   = (*Store)(nil)
	_ parley.MemoryDecayer = (*Store)(nil)
	_ parley.HistoryStore  = (*Store)(nil)
)

// nopLogger is a logger that discards all output.
var nopLogger = slog.New(discardHandler{})

type discardHandler struct{}

func (discardHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (discardHandler) Handle(context.Context, slog.Record) error { return nil }
func (d discardHandler) WithAttrs([]slog.Attr) slog.Handler      { return d }
func (d discardHandler) WithGroup(string) slog.Handler           { return d }

// New creates a Store using a local SQLite file at dbPath.
// It opens a single shared connection pool with SetMaxOpenConns(1) so that
// all goroutines serialize through one connection, eliminating SQLITE_BUSY
// errors caused by concurrent writers opening independent connections.
func New(dbPath string, opts ...StoreOption) *Store {
	s := &Store{db: openDB(dbPath), logger: nopLogger}
	for _, o := range opts {
		o(s)
	}
	s.logger.Debug("sqlite: memory store opened", "path", dbPath)
	return s
}

func openDB(dbPath string) *sql.DB {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		// sql.Open only fails when the driver is not registered; with the
		// blank import above that never happens.
		panic(fmt.Sprintf("sqlite: open driver: %v", err))
	}
	db.SetMaxOpenConns(1)
	return db
}

// applyPragmas sets WAL journaling, relaxed sync, and foreign keys.
func applyPragmas(ctx context.Context, db *sql.DB) error {
	for _, pragma := range []string{
		`PRAGMA journal_mode=WAL`,
		`PRAGMA synchronous=NORMAL`,
		`PRAGMA foreign_keys=ON`,
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			return fmt.Errorf("pragma: %w", err)
		}
	}
	return nil
}

// Init creates the schema. Safe to call on every boot.
func (s *Store) Init(ctx context.Context) error {
	start := time.Now()
	s.logger.Debug("sqlite: memory init started")
	if err := applyPragmas(ctx, s.db); err != nil {
		return err
	}
	tables := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			id TEXT PRIMARY KEY,
			content TEXT NOT NULL,
			entity TEXT,
			category TEXT NOT NULL,
			importance INTEGER NOT NULL DEFAULT 5,
			embedding TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_category ON documents(category)`,
		`CREATE TABLE IF NOT EXISTS history (
			id TEXT PRIMARY KEY,
			chat_id TEXT NOT NULL,
			role TEXT NOT NULL,
			content TEXT NOT NULL,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_history_chat ON history(chat_id, created_at)`,
	}
	for _, ddl := range tables {
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return &parley.ErrStore{Op: "init", Err: err}
		}
	}
	s.logger.Info("sqlite: memory init completed", "duration", time.Since(start))
	return nil
}

// retryWrite runs fn with backoff on SQLITE_BUSY lock contention: up to 5
// attempts starting at 100ms.
func retryWrite(ctx context.Context, fn func() error) error {
	return retry.Do(fn,
		retry.Context(ctx),
		retry.Attempts(5),
		retry.Delay(100*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.RetryIf(func(err error) bool {
			return err != nil && strings.Contains(strings.ToLower(err.Error()), "locked")
		}),
	)
}

// AddMemory stores a record and its embedding.
func (s *Store) AddMemory(ctx context.Context, rec parley.MemoryRecord, embedding []float32) error {
	start := time.Now()
	if rec.ID == "" {
		rec.ID = parley.NewID()
	}
	if rec.CreatedAt == 0 {
		rec.CreatedAt = parley.NowUnix()
	}
	if rec.Importance <= 0 {
		rec.Importance = 5
	}
	err := retryWrite(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO documents (id, content, entity, category, importance, embedding, created_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
			rec.ID, rec.Content, rec.Entity, rec.Category, rec.Importance, serializeEmbedding(embedding), rec.CreatedAt)
		return execErr
	})
	if err != nil {
		s.logger.Error("sqlite: add memory failed", "id", rec.ID, "error", err, "duration", time.Since(start))
		return &parley.ErrStore{Op: "add_memory", Err: err}
	}
	s.logger.Debug("sqlite: memory added", "id", rec.ID, "category", rec.Category, "duration", time.Since(start))
	return nil
}

// Search returns the top-k documents by cosine similarity to the query
// embedding. Rows without a stored embedding are skipped.
func (s *Store) Search(ctx context.Context, embedding []float32, topK int) ([]parley.ScoredMemory, error) {
	start := time.Now()
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, entity, category, importance, embedding, created_at FROM documents`)
	if err != nil {
		s.logger.Error("sqlite: search failed", "error", err, "duration", time.Since(start))
		return nil, &parley.ErrStore{Op: "search", Err: err}
	}
	defer rows.Close()

	var all []parley.ScoredMemory
	for rows.Next() {
		var rec parley.MemoryRecord
		var entity sql.NullString
		var embText sql.NullString
		if err := rows.Scan(&rec.ID, &rec.Content, &entity, &rec.Category, &rec.Importance, &embText, &rec.CreatedAt); err != nil {
			continue
		}
		rec.Entity = entity.String
		emb, parseErr := deserializeEmbedding(embText.String)
		if parseErr != nil || len(emb) == 0 {
			continue
		}
		all = append(all, parley.ScoredMemory{
			MemoryRecord: rec,
			Similarity:   float64(cosineSimilarity(embedding, emb)),
		})
	}

	sort.Slice(all, func(i, j int) bool { return all[i].Similarity > all[j].Similarity })
	if len(all) > topK {
		all = all[:topK]
	}
	s.logger.Debug("sqlite: search ok", "count", len(all), "duration", time.Since(start))
	return all, nil
}

// Stats reports document count and the approximate payload size.
func (s *Store) Stats(ctx context.Context) (parley.MemoryStats, error) {
	var st parley.MemoryStats
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(content) + LENGTH(COALESCE(embedding, ''))), 0) FROM documents`).
		Scan(&st.Documents, &st.SizeBytes)
	if err != nil {
		return parley.MemoryStats{}, &parley.ErrStore{Op: "stats", Err: err}
	}
	return st, nil
}

// DecayImportance lowers importance by one point for documents older than
// the cutoff, never below floor. Maintenance calls this during idle windows.
func (s *Store) DecayImportance(ctx context.Context, olderThan time.Time, floor int) (int, error) {
	var touched int64
	err := retryWrite(ctx, func() error {
		res, execErr := s.db.ExecContext(ctx,
			`UPDATE documents SET importance = importance - 1 WHERE created_at < ? AND importance > ?`,
			olderThan.Unix(), floor)
		if execErr != nil {
			return execErr
		}
		touched, _ = res.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, &parley.ErrStore{Op: "decay", Err: err}
	}
	s.logger.Debug("sqlite: importance decayed", "rows", touched)
	return int(touched), nil
}

// AppendTurn records one conversation message.
func (s *Store) AppendTurn(ctx context.Context, chatID string, msg parley.HistoryMessage) error {
	if msg.ID == "" {
		msg.ID = parley.NewID()
	}
	if msg.CreatedAt == 0 {
		msg.CreatedAt = parley.NowUnix()
	}
	err := retryWrite(ctx, func() error {
		_, execErr := s.db.ExecContext(ctx,
			`INSERT INTO history (id, chat_id, role, content, created_at) VALUES (?, ?, ?, ?, ?)`,
			msg.ID, chatID, msg.Role, msg.Content, msg.CreatedAt)
		return execErr
	})
	if err != nil {
		return &parley.ErrStore{Op: "append_turn", Err: err}
	}
	return nil
}

// RecentTurns returns up to limit most recent turns for a chat, oldest first.
func (s *Store) RecentTurns(ctx context.Context, chatID string, limit int) ([]parley.HistoryMessage, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, chat_id, role, content, created_at FROM history WHERE chat_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		chatID, limit)
	if err != nil {
		return nil, &parley.ErrStore{Op: "recent_turns", Err: err}
	}
	defer rows.Close()

	var out []parley.HistoryMessage
	for rows.Next() {
		var m parley.HistoryMessage
		if err := rows.Scan(&m.ID, &m.ChatID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			continue
		}
		out = append(out, m)
	}
	// Reverse into chronological order.
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// DB returns the underlying connection for sharing with sibling stores.
func (s *Store) DB() *sql.DB { return s.db }

// Close closes the database.
func (s *Store) Close() error { return s.db.Close() }

func serializeEmbedding(embedding []float32) string {
	if len(embedding) == 0 {
		return ""
	}
	b, err := json.Marshal(embedding)
	if err != nil {
		return ""
	}
	return string(b)
}

func deserializeEmbedding(text string) ([]float32, error) {
	if text == "" {
		return nil, nil
	}
	var emb []float32
	if err := json.Unmarshal([]byte(text), &emb); err != nil {
		return nil, err
	}
	return emb, nil
}

func cosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB)))
}
