package graph

import (
	"context"
	"time"

	"github.com/codegraphhq/codegraph/pkg/models"
)

// Store defines the interface for persisting and querying the code graph.
// It knows nothing about query syntax; the engine package drives it.
type Store interface {
	// Init verifies the schema version and creates tables on first use.
	Init(ctx context.Context) error

	// Close closes the store connection.
	Close() error

	// UpsertNode inserts or updates a node by canonical id.
	UpsertNode(ctx context.Context, node models.Node) error

	// GetNode retrieves a node by canonical id.
	GetNode(ctx context.Context, id string) (*models.Node, error)

	// FindNode resolves a node reference: exact id first, then qualified
	// name, then bare name. Returns nil when nothing matches.
	FindNode(ctx context.Context, ref string) (*models.Node, error)

	// ListNodes returns nodes matching the given filter.
	ListNodes(ctx context.Context, filter NodeFilter) ([]models.Node, error)

	// ListEdges returns edges matching the given filter.
	ListEdges(ctx context.Context, filter EdgeFilter) ([]models.Edge, error)

	// BuildAdjacency builds in-memory adjacency lists from all edges.
	// outgoing is keyed by source id, incoming by target id.
	BuildAdjacency(ctx context.Context) (outgoing, incoming map[string][]models.Edge, err error)

	// ApplyFiles atomically replaces the node sets, outgoing edges, and
	// hash rows of the given files in one transaction. Edges may cross
	// file boundaries within the batch; if anything fails the entire
	// batch rolls back.
	ApplyFiles(ctx context.Context, files []ResolvedFile) error

	// GetFileHash returns the stored hash row for a file, or nil.
	GetFileHash(ctx context.Context, path string) (*models.FileHash, error)

	// StaleFiles returns the paths from current whose stored hash is
	// missing or differs from the supplied hash.
	StaleFiles(ctx context.Context, current map[string]string) ([]string, error)

	// Stats returns node/edge counts, total and by type.
	Stats(ctx context.Context) (*Stats, error)

	// RecordScan records an ingest run.
	RecordScan(ctx context.Context, scan Scan) (int64, error)

	// UpdateScan updates an ingest run record.
	UpdateScan(ctx context.Context, id int64, status string, nodesFound, edgesFound int) error

	// ListScans returns recent ingest run records.
	ListScans(ctx context.Context, limit int) ([]Scan, error)
}

// ResolvedFile is one file's fully resolved contribution to the graph:
// its node set, the edges originating from those nodes, and the content
// hash recorded once the file is applied.
type ResolvedFile struct {
	Path  string
	Hash  string
	Nodes []models.Node
	Edges []models.Edge
}

// NodeFilter specifies criteria for listing nodes.
type NodeFilter struct {
	Kind     string
	FilePath string
	Language string
	Name     string
}

// EdgeFilter specifies criteria for listing edges.
type EdgeFilter struct {
	Type     string
	SourceID string
	TargetID string
}

// Stats summarizes store contents.
type Stats struct {
	Nodes       int            `json:"nodes"`
	Edges       int            `json:"edges"`
	NodesByKind map[string]int `json:"nodes_by_kind"`
	EdgesByType map[string]int `json:"edges_by_type"`
	Files       int            `json:"files"`
}

// Scan represents one ingest run.
type Scan struct {
	ID         int64      `json:"id"`
	SourcePath string     `json:"source_path"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	NodesFound int        `json:"nodes_found"`
	EdgesFound int        `json:"edges_found"`
	Status     string     `json:"status"`
}
