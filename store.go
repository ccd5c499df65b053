package parley

import (
	"context"
	"time"
)

// MemoryIndex stores memory documents with embeddings and supports
// similarity search. Implementations live under store/; the default is
// store/sqlite with embeddings kept as JSON arrays.
type MemoryIndex interface {
	// AddMemory stores a record along with its embedding vector.
	AddMemory(ctx context.Context, rec MemoryRecord, embedding []float32) error
	// Search returns the top-k records by cosine similarity.
	Search(ctx context.Context, embedding []float32, topK int) ([]ScoredMemory, error)
	// Stats reports document count and approximate index size.
	Stats(ctx context.Context) (MemoryStats, error)
}

// MemoryDecayer is an optional MemoryIndex capability: backends that track
// importance in-row can decay stale records during maintenance windows.
type MemoryDecayer interface {
	// DecayImportance lowers importance by one point for records older
	// than the cutoff, never below the floor. Returns rows touched.
	DecayImportance(ctx context.Context, olderThan time.Time, floor int) (int, error)
}

// GraphStore persists the knowledge graph of entities and relations.
type GraphStore interface {
	// UpsertNode inserts a node or merges properties into an existing one.
	UpsertNode(ctx context.Context, node GraphNode) error
	// UpsertEdge inserts an edge or, on conflict, updates the weight and
	// appends new evidence.
	UpsertEdge(ctx context.Context, edge GraphEdge) error
	// HasNode reports whether a node exists.
	HasNode(ctx context.Context, name string) (bool, error)
	// Neighborhood returns the 1-hop context block for an entity, or ""
	// when the entity has no edges.
	Neighborhood(ctx context.Context, entity string, maxLines int) (string, error)
	// Connections walks breadth-first from an entity up to maxDepth hops.
	Connections(ctx context.Context, entity string, maxDepth int) ([]GraphEdge, error)
	// Prune deletes edges below the weight threshold and then nodes with
	// no remaining edges. Returns edges and nodes removed.
	Prune(ctx context.Context, minWeight float64) (edges, nodes int, err error)
	// Counts reports node and edge totals.
	Counts(ctx context.Context) (nodes, edges int, err error)
}

// HistoryStore keeps recent per-chat conversation turns for prompt context.
type HistoryStore interface {
	// AppendTurn records a single message in a chat's history.
	AppendTurn(ctx context.Context, chatID string, msg HistoryMessage) error
	// RecentTurns returns up to limit most recent messages, oldest first.
	RecentTurns(ctx context.Context, chatID string, limit int) ([]HistoryMessage, error)
}

// BridgeIndex tracks each inbound channel message through the pipeline so
// the bridge can answer job-status queries. Statuses move
// received → queued → done/failed.
type BridgeIndex interface {
	// RecordInbound stores one inbound message; message IDs are unique.
	RecordInbound(ctx context.Context, rec BridgeRecord) error
	// UpdateStatus advances a message's status. Empty taskID, reply, and
	// errMsg leave the stored values untouched.
	UpdateStatus(ctx context.Context, messageID, status, taskID, reply, errMsg string) error
	// GetInbound looks up one message by ID.
	GetInbound(ctx context.Context, messageID string) (BridgeRecord, error)
}
