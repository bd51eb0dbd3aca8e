package graph

import (
	"context"
	"log/slog"

	"github.com/codegraphhq/codegraph/pkg/models"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// SyncedStore wraps a SQLiteStore and mirrors node and edge writes to a
// Memgraph/Neo4j instance for visualization. SQLite stays the source of
// truth: mirror failures are logged and never block the local write.
type SyncedStore struct {
	*SQLiteStore
	sessions sessionFactory
	driver   neo4j.DriverWithContext
	logger   *slog.Logger
}

// NewSyncedStore creates a SyncedStore. If driver is nil, no mirroring occurs.
func NewSyncedStore(store *SQLiteStore, driver neo4j.DriverWithContext, logger *slog.Logger) *SyncedStore {
	s := &SyncedStore{
		SQLiteStore: store,
		driver:      driver,
		logger:      logger,
	}
	if driver != nil {
		s.sessions = newNeo4jSessionFactory(driver)
	}
	return s
}

// UpsertNode writes the node to SQLite and mirrors it.
func (s *SyncedStore) UpsertNode(ctx context.Context, node models.Node) error {
	if err := s.SQLiteStore.UpsertNode(ctx, node); err != nil {
		return err
	}
	if s.sessions != nil {
		if err := s.mirrorNode(ctx, node); err != nil {
			s.logger.Warn("mirroring node failed", "nodeID", node.ID, "error", err)
		}
	}
	return nil
}

// ApplyFiles applies the batch to SQLite and mirrors the batch contents.
// The mirror is written after the local commit, so it can only ever lag
// the source of truth, never lead it.
func (s *SyncedStore) ApplyFiles(ctx context.Context, files []ResolvedFile) error {
	if err := s.SQLiteStore.ApplyFiles(ctx, files); err != nil {
		return err
	}
	if s.sessions == nil {
		return nil
	}
	for _, f := range files {
		for _, n := range f.Nodes {
			if err := s.mirrorNode(ctx, n); err != nil {
				s.logger.Warn("mirroring node failed", "nodeID", n.ID, "error", err)
			}
		}
		for _, e := range f.Edges {
			if err := s.mirrorEdge(ctx, e); err != nil {
				s.logger.Warn("mirroring edge failed", "source", e.SourceID, "target", e.TargetID, "error", err)
			}
		}
	}
	return nil
}

// Close closes both the SQLite and mirror connections.
func (s *SyncedStore) Close() error {
	sqlErr := s.SQLiteStore.Close()
	if s.driver != nil {
		if mgErr := s.driver.Close(context.Background()); mgErr != nil && sqlErr == nil {
			return mgErr
		}
	}
	return sqlErr
}

func (s *SyncedStore) mirrorNode(ctx context.Context, node models.Node) error {
	session := s.sessions(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	cypher := `
		MERGE (n:Symbol {id: $id})
		SET n.kind = $kind,
		    n.name = $name,
		    n.qualified_name = $qualifiedName,
		    n.file_path = $filePath,
		    n.language = $language,
		    n.complexity = $complexity,
		    n.lines = $lines
	`

	_, err := session.Run(ctx, cypher, map[string]any{
		"id":            node.ID,
		"kind":          string(node.Kind),
		"name":          node.Name,
		"qualifiedName": node.QualifiedName,
		"filePath":      node.FilePath,
		"language":      node.Language,
		"complexity":    node.Complexity,
		"lines":         node.Lines,
	})
	return err
}

func (s *SyncedStore) mirrorEdge(ctx context.Context, edge models.Edge) error {
	session := s.sessions(ctx)
	defer session.Close(ctx) //nolint:errcheck // best-effort cleanup

	cypher := `
		MATCH (from:Symbol {id: $sourceID})
		MATCH (to:Symbol {id: $targetID})
		MERGE (from)-[r:REL {type: $type}]->(to)
	`

	_, err := session.Run(ctx, cypher, map[string]any{
		"sourceID": edge.SourceID,
		"targetID": edge.TargetID,
		"type":     string(edge.Type),
	})
	return err
}

// Underlying returns the wrapped SQLiteStore.
func (s *SyncedStore) Underlying() *SQLiteStore {
	return s.SQLiteStore
}

// HasMirror returns true if Memgraph/Neo4j mirroring is active.
func (s *SyncedStore) HasMirror() bool {
	return s.sessions != nil
}
