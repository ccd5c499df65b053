// Package graph wraps a parley.GraphStore with the fact-level operations
// the cognition and memory layers speak: triple upserts, neighborhood
// context blocks, and breadth-first path finding between entities.
package graph

import (
	"context"
	"log/slog"

	"github.com/nevindra/parley"
)

// DefaultMaxDepth bounds path searches.
const DefaultMaxDepth = 4

// PruneThreshold is the weight below which maintenance removes edges.
const PruneThreshold = 0.1

// Graph is the knowledge graph facade.
type Graph struct {
	store  parley.GraphStore
	logger *slog.Logger
}

// Option configures a Graph.
type Option func(*Graph)

// WithLogger sets a structured logger.
func WithLogger(l *slog.Logger) Option {
	return func(g *Graph) { g.logger = l }
}

// New creates a Graph over a store.
func New(store parley.GraphStore, opts ...Option) *Graph {
	g := &Graph{store: store, logger: nopLogger}
	for _, o := range opts {
		o(g)
	}
	return g
}

// AddNode upserts an entity node.
func (g *Graph) AddNode(ctx context.Context, name, nodeType string, props map[string]any) error {
	return g.store.UpsertNode(ctx, parley.GraphNode{Name: name, Type: nodeType, Properties: props})
}

// AddFact upserts one (source, relation, target) triple. Endpoints are
// created on demand; repeating a triple updates the weight and accumulates
// evidence.
func (g *Graph) AddFact(ctx context.Context, source, relation, target string, weight float64, evidence string) error {
	return g.store.UpsertEdge(ctx, parley.GraphEdge{
		Source:   source,
		Target:   target,
		Relation: relation,
		Weight:   weight,
		Evidence: evidence,
	})
}

// HasNode reports whether an entity exists.
func (g *Graph) HasNode(ctx context.Context, name string) (bool, error) {
	return g.store.HasNode(ctx, name)
}

// Neighborhood returns the 1-hop context block for an entity, "" when the
// entity has no edges.
func (g *Graph) Neighborhood(ctx context.Context, entity string) (string, error) {
	return g.store.Neighborhood(ctx, entity, 20)
}

// Neighbors returns the edges reachable from an entity in one hop.
func (g *Graph) Neighbors(ctx context.Context, entity string) ([]parley.GraphEdge, error) {
	return g.store.Connections(ctx, entity, 1)
}

// FindPath walks breadth-first from start and returns the first path to end
// within maxDepth hops, or nil when none exists. maxDepth <= 0 uses
// DefaultMaxDepth.
func (g *Graph) FindPath(ctx context.Context, start, end string, maxDepth int) ([]parley.GraphEdge, error) {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	if start == end {
		return []parley.GraphEdge{}, nil
	}

	type hop struct {
		node string
		path []parley.GraphEdge
	}
	visited := map[string]bool{start: true}
	frontier := []hop{{node: start}}

	for depth := 0; depth < maxDepth && len(frontier) > 0; depth++ {
		var next []hop
		for _, h := range frontier {
			edges, err := g.store.Connections(ctx, h.node, 1)
			if err != nil {
				return nil, err
			}
			for _, e := range edges {
				if visited[e.Target] {
					continue
				}
				path := append(append([]parley.GraphEdge{}, h.path...), e)
				if e.Target == end {
					return path, nil
				}
				visited[e.Target] = true
				next = append(next, hop{node: e.Target, path: path})
			}
		}
		frontier = next
	}
	return nil, nil
}

// Prune removes edges below PruneThreshold and then orphaned nodes.
func (g *Graph) Prune(ctx context.Context) (edges, nodes int, err error) {
	edges, nodes, err = g.store.Prune(ctx, PruneThreshold)
	if err == nil && (edges > 0 || nodes > 0) {
		g.logger.Info("graph: pruned", "edges", edges, "nodes", nodes)
	}
	return edges, nodes, err
}

// Counts reports node and edge totals for health reporting.
func (g *Graph) Counts(ctx context.Context) (nodes, edges int, err error) {
	return g.store.Counts(ctx)
}
