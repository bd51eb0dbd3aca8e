package graph

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codegraphhq/codegraph/pkg/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SyncToMirror performs a full one-way synchronization from SQLite to a
// Memgraph/Neo4j instance. It clears the mirror and re-inserts everything,
// batched to keep statements bounded on large codebases.
func SyncToMirror(ctx context.Context, store Store, driver neo4j.DriverWithContext, logger *slog.Logger) error {
	return syncToMirror(ctx, store, newNeo4jSessionFactory(driver), logger)
}

func syncToMirror(ctx context.Context, store Store, sessions sessionFactory, logger *slog.Logger) error {
	session := sessions(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	logger.Info("clearing mirror data")
	if _, err := session.Run(ctx, "MATCH (n) DETACH DELETE n", nil); err != nil {
		return fmt.Errorf("clearing mirror: %w", err)
	}

	logger.Info("creating mirror indexes")
	for _, cypher := range []string{
		"CREATE INDEX ON :Symbol(id)",
		"CREATE INDEX ON :Symbol(kind)",
		"CREATE INDEX ON :Symbol(name)",
	} {
		if _, err := session.Run(ctx, cypher, nil); err != nil {
			logger.Warn("creating index (may already exist)", "error", err)
		}
	}

	nodes, err := store.ListNodes(ctx, NodeFilter{})
	if err != nil {
		return fmt.Errorf("listing nodes: %w", err)
	}
	logger.Info("syncing nodes to mirror", "count", len(nodes))

	const batchSize = 500
	for i := 0; i < len(nodes); i += batchSize {
		end := min(i+batchSize, len(nodes))
		batch := nodes[i:end]

		params := make([]map[string]any, len(batch))
		for j, n := range batch {
			params[j] = nodeToParams(n)
		}

		cypher := `
			UNWIND $nodes AS node
			MERGE (n:Symbol {id: node.id})
			SET n.kind = node.kind,
			    n.name = node.name,
			    n.qualified_name = node.qualified_name,
			    n.file_path = node.file_path,
			    n.language = node.language,
			    n.complexity = node.complexity,
			    n.lines = node.lines
		`
		if _, err := session.Run(ctx, cypher, map[string]any{"nodes": params}); err != nil {
			return fmt.Errorf("syncing node batch at %d: %w", i, err)
		}
	}

	edges, err := store.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		return fmt.Errorf("listing edges: %w", err)
	}
	logger.Info("syncing edges to mirror", "count", len(edges))

	for i := 0; i < len(edges); i += batchSize {
		end := min(i+batchSize, len(edges))
		batch := edges[i:end]

		params := make([]map[string]any, len(batch))
		for j, e := range batch {
			params[j] = map[string]any{
				"source_id": e.SourceID,
				"target_id": e.TargetID,
				"type":      string(e.Type),
			}
		}

		cypher := `
			UNWIND $edges AS edge
			MATCH (from:Symbol {id: edge.source_id})
			MATCH (to:Symbol {id: edge.target_id})
			MERGE (from)-[r:REL {type: edge.type}]->(to)
		`
		if _, err := session.Run(ctx, cypher, map[string]any{"edges": params}); err != nil {
			return fmt.Errorf("syncing edge batch at %d: %w", i, err)
		}
	}

	logger.Info("mirror sync complete", "nodes", len(nodes), "edges", len(edges))
	return nil
}

func nodeToParams(n models.Node) map[string]any {
	return map[string]any{
		"id":             n.ID,
		"kind":           string(n.Kind),
		"name":           n.Name,
		"qualified_name": n.QualifiedName,
		"file_path":      n.FilePath,
		"language":       n.Language,
		"complexity":     n.Complexity,
		"lines":          n.Lines,
	}
}
