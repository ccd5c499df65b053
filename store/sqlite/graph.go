package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nevindra/parley"
)

// GraphDB is the persistent knowledge graph: entity nodes and weighted
// directed edges in their own SQLite file. Implements parley.GraphStore.
//
// The graph is a directed multigraph with cycles, so it is kept as plain
// rows keyed by name with adjacency indices, never as in-memory objects
// with back-references.
type GraphDB struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ parley.GraphStore = (*GraphDB)(nil)

// GraphOption configures a GraphDB.
type GraphOption func(*GraphDB)

// WithGraphLogger sets a structured logger for the graph store.
func WithGraphLogger(l *slog.Logger) GraphOption {
	return func(g *GraphDB) { g.logger = l }
}

// NewGraph creates a GraphDB using a local SQLite file at dbPath.
func NewGraph(dbPath string, opts ...GraphOption) *GraphDB {
	g := &GraphDB{db: openDB(dbPath), logger: nopLogger}
	for _, o := range opts {
		o(g)
	}
	g.logger.Debug("sqlite: graph store opened", "path", dbPath)
	return g
}

// Init creates the schema and adjacency indices. Safe on every boot.
func (g *GraphDB) Init(ctx context.Context) error {
	start := time.Now()
	if err := applyPragmas(ctx, g.db); err != nil {
		return err
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS nodes (
			name TEXT PRIMARY KEY,
			type TEXT NOT NULL DEFAULT 'entity',
			properties TEXT NOT NULL DEFAULT '{}',
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS edges (
			source TEXT NOT NULL REFERENCES nodes(name),
			target TEXT NOT NULL REFERENCES nodes(name),
			relation TEXT NOT NULL,
			weight REAL NOT NULL DEFAULT 1.0,
			evidence TEXT NOT NULL DEFAULT '',
			created_at INTEGER NOT NULL,
			PRIMARY KEY (source, target, relation)
		)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target)`,
		`CREATE INDEX IF NOT EXISTS idx_edges_relation ON edges(relation)`,
		`CREATE INDEX IF NOT EXISTS idx_nodes_type ON nodes(type)`,
	}
	for _, ddl := range stmts {
		if _, err := g.db.ExecContext(ctx, ddl); err != nil {
			return &parley.ErrStore{Op: "graph_init", Err: err}
		}
	}
	g.logger.Info("sqlite: graph init completed", "duration", time.Since(start))
	return nil
}

// UpsertNode inserts a node or refreshes type, properties, and updated_at on
// an existing one. Names are case-sensitive canonical strings.
func (g *GraphDB) UpsertNode(ctx context.Context, node parley.GraphNode) error {
	now := parley.NowUnix()
	err := retryWrite(ctx, func() error {
		_, execErr := g.db.ExecContext(ctx, `
			INSERT INTO nodes (name, type, properties, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?)
			ON CONFLICT(name) DO UPDATE SET
				type = excluded.type,
				properties = excluded.properties,
				updated_at = excluded.updated_at`,
			node.Name, nodeType(node.Type), node.PropertiesJSON(), now, now)
		return execErr
	})
	if err != nil {
		return &parley.ErrStore{Op: "upsert_node", Err: err}
	}
	return nil
}

func nodeType(t string) string {
	if t == "" {
		return "entity"
	}
	return t
}

// UpsertEdge ensures both endpoints exist, then inserts the edge or, on a
// repeated (source, target, relation), updates the weight and appends the
// new evidence with a " | " separator. Idempotent with accumulation: k
// upserts leave one row whose evidence holds k fragments.
func (g *GraphDB) UpsertEdge(ctx context.Context, edge parley.GraphEdge) error {
	now := parley.NowUnix()
	if edge.Weight == 0 {
		edge.Weight = 1.0
	}
	err := retryWrite(ctx, func() error {
		tx, txErr := g.db.BeginTx(ctx, nil)
		if txErr != nil {
			return txErr
		}
		defer tx.Rollback()

		for _, name := range []string{edge.Source, edge.Target} {
			if _, execErr := tx.ExecContext(ctx, `
				INSERT INTO nodes (name, type, properties, created_at, updated_at)
				VALUES (?, 'entity', '{}', ?, ?)
				ON CONFLICT(name) DO NOTHING`,
				name, now, now); execErr != nil {
				return execErr
			}
		}

		var existing string
		row := tx.QueryRowContext(ctx,
			`SELECT evidence FROM edges WHERE source = ? AND target = ? AND relation = ?`,
			edge.Source, edge.Target, edge.Relation)
		switch scanErr := row.Scan(&existing); scanErr {
		case nil:
			evidence := existing
			if edge.Evidence != "" {
				if evidence != "" {
					evidence += " | " + edge.Evidence
				} else {
					evidence = edge.Evidence
				}
			}
			if _, execErr := tx.ExecContext(ctx,
				`UPDATE edges SET weight = ?, evidence = ? WHERE source = ? AND target = ? AND relation = ?`,
				edge.Weight, evidence, edge.Source, edge.Target, edge.Relation); execErr != nil {
				return execErr
			}
		case sql.ErrNoRows:
			if _, execErr := tx.ExecContext(ctx,
				`INSERT INTO edges (source, target, relation, weight, evidence, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
				edge.Source, edge.Target, edge.Relation, edge.Weight, edge.Evidence, now); execErr != nil {
				return execErr
			}
		default:
			return scanErr
		}
		return tx.Commit()
	})
	if err != nil {
		return &parley.ErrStore{Op: "upsert_edge", Err: err}
	}
	g.logger.Debug("sqlite: edge upserted", "source", edge.Source, "relation", edge.Relation, "target", edge.Target)
	return nil
}

// HasNode reports whether a node exists.
func (g *GraphDB) HasNode(ctx context.Context, name string) (bool, error) {
	var one int
	err := g.db.QueryRowContext(ctx, `SELECT 1 FROM nodes WHERE name = ?`, name).Scan(&one)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, &parley.ErrStore{Op: "has_node", Err: err}
	}
	return true, nil
}

// Neighborhood renders the 1-hop context block for an entity: a header line
// followed by at most maxLines edges touching the entity, heaviest first.
// Returns "" when the entity has no edges.
func (g *GraphDB) Neighborhood(ctx context.Context, entity string, maxLines int) (string, error) {
	if maxLines <= 0 {
		maxLines = 20
	}
	rows, err := g.db.QueryContext(ctx, `
		SELECT source, target, relation, weight FROM edges
		WHERE source = ? OR target = ?
		ORDER BY weight DESC
		LIMIT ?`, entity, entity, maxLines)
	if err != nil {
		return "", &parley.ErrStore{Op: "neighborhood", Err: err}
	}
	defer rows.Close()

	var b strings.Builder
	n := 0
	for rows.Next() {
		var source, target, relation string
		var weight float64
		if err := rows.Scan(&source, &target, &relation, &weight); err != nil {
			continue
		}
		if n == 0 {
			fmt.Fprintf(&b, "Knowledge about %s:\n", entity)
		}
		fmt.Fprintf(&b, "  %s --[%s]--> %s (w=%.2f)\n", source, relation, target, weight)
		n++
	}
	if n == 0 {
		return "", nil
	}
	return strings.TrimRight(b.String(), "\n"), nil
}

// Connections walks breadth-first from entity following outgoing edges up
// to maxDepth hops and returns the discovered edges in visit order.
func (g *GraphDB) Connections(ctx context.Context, entity string, maxDepth int) ([]parley.GraphEdge, error) {
	if maxDepth <= 0 {
		maxDepth = 4
	}
	visited := map[string]bool{entity: true}
	frontier := []string{entity}
	var out []parley.GraphEdge

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []string
		for _, name := range frontier {
			edges, err := g.outgoing(ctx, name)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				out = append(out, e)
				if !visited[e.Target] {
					visited[e.Target] = true
					next = append(next, e.Target)
				}
			}
		}
		frontier = next
	}
	return out, nil
}

func (g *GraphDB) outgoing(ctx context.Context, source string) ([]parley.GraphEdge, error) {
	rows, err := g.db.QueryContext(ctx,
		`SELECT source, target, relation, weight, evidence, created_at FROM edges WHERE source = ? ORDER BY weight DESC`,
		source)
	if err != nil {
		return nil, &parley.ErrStore{Op: "outgoing", Err: err}
	}
	defer rows.Close()

	var out []parley.GraphEdge
	for rows.Next() {
		var e parley.GraphEdge
		if err := rows.Scan(&e.Source, &e.Target, &e.Relation, &e.Weight, &e.Evidence, &e.CreatedAt); err != nil {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Prune deletes edges below minWeight, then nodes left without any edges.
func (g *GraphDB) Prune(ctx context.Context, minWeight float64) (edges, nodes int, err error) {
	err = retryWrite(ctx, func() error {
		res, execErr := g.db.ExecContext(ctx, `DELETE FROM edges WHERE weight < ?`, minWeight)
		if execErr != nil {
			return execErr
		}
		e, _ := res.RowsAffected()

		res, execErr = g.db.ExecContext(ctx, `
			DELETE FROM nodes WHERE name NOT IN (SELECT source FROM edges)
			AND name NOT IN (SELECT target FROM edges)`)
		if execErr != nil {
			return execErr
		}
		n, _ := res.RowsAffected()
		edges, nodes = int(e), int(n)
		return nil
	})
	if err != nil {
		return 0, 0, &parley.ErrStore{Op: "prune", Err: err}
	}
	if edges > 0 || nodes > 0 {
		g.logger.Info("sqlite: graph pruned", "edges", edges, "nodes", nodes, "min_weight", minWeight)
	}
	return edges, nodes, nil
}

// Counts reports node and edge totals.
func (g *GraphDB) Counts(ctx context.Context) (nodes, edges int, err error) {
	if err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&nodes); err != nil {
		return 0, 0, &parley.ErrStore{Op: "counts", Err: err}
	}
	if err = g.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&edges); err != nil {
		return 0, 0, &parley.ErrStore{Op: "counts", Err: err}
	}
	return nodes, edges, nil
}

// Close closes the database.
func (g *GraphDB) Close() error { return g.db.Close() }
