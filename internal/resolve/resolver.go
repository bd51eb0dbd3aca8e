package resolve

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/pkg/models"
)

// Result summarizes one resolution run.
type Result struct {
	Files int `json:"files"`
	Nodes int `json:"nodes"`
	Edges int `json:"edges"`
	// Gaps counts references that resolved to nothing. A gap produces no
	// edge and no error; it is recorded here so callers can report it.
	Gaps int `json:"gaps"`
}

// Pipeline turns raw scan output into resolved graph edges. It builds a
// symbol index over the nodes already in the store plus the incoming
// batch, resolves each reference against it, and writes the outcome in
// one all-or-nothing store transaction.
type Pipeline struct {
	store  graph.Store
	logger *slog.Logger
}

// NewPipeline creates a resolution pipeline over the given store.
func NewPipeline(store graph.Store, logger *slog.Logger) *Pipeline {
	return &Pipeline{store: store, logger: logger}
}

// ResolveBatch resolves and stores one scan batch. Nodes are identified
// deterministically before indexing, so re-emitting an unchanged file is
// an idempotent upsert. References whose source or symbol resolve to
// nothing are dropped (counted as gaps), never materialized as edges.
func (p *Pipeline) ResolveBatch(ctx context.Context, batch models.ScanBatch) (*Result, error) {
	index, err := p.buildIndex(ctx, batch)
	if err != nil {
		return nil, err
	}

	res := &Result{Files: len(batch.Files)}
	files := make([]graph.ResolvedFile, 0, len(batch.Files))

	for fi := range batch.Files {
		f := &batch.Files[fi]
		edges := make([]models.Edge, 0, len(f.References))
		seen := make(map[models.Edge]bool)

		for _, ref := range f.References {
			sourceID, ok := index.Resolve(ref.SourceID, "")
			if !ok {
				res.Gaps++
				p.logger.Debug("reference source not found", "file", f.Path, "source", ref.SourceID)
				continue
			}
			targetID, ok := index.Resolve(ref.Symbol, targetKind(ref.Type))
			if !ok {
				res.Gaps++
				continue
			}
			e := models.Edge{SourceID: sourceID, TargetID: targetID, Type: ref.Type}
			if seen[e] {
				continue
			}
			seen[e] = true
			edges = append(edges, e)
		}

		files = append(files, graph.ResolvedFile{
			Path:  f.Path,
			Hash:  f.Hash,
			Nodes: f.Nodes,
			Edges: edges,
		})
		res.Nodes += len(f.Nodes)
		res.Edges += len(edges)
	}

	if err := p.store.ApplyFiles(ctx, files); err != nil {
		return nil, fmt.Errorf("applying batch: %w", err)
	}

	p.logger.Info("batch resolved",
		"files", res.Files, "nodes", res.Nodes, "edges", res.Edges, "gaps", res.Gaps)
	return res, nil
}

// buildIndex indexes every node already stored plus every node in the
// batch. Stored nodes belonging to files the batch replaces are skipped:
// their file's new node set supersedes them, and they are pruned when the
// batch applies. Indexing them would resolve references onto nodes that
// no longer exist by commit time; skipping them turns such references
// into gaps instead.
func (p *Pipeline) buildIndex(ctx context.Context, batch models.ScanBatch) (*Index, error) {
	index := NewIndex()

	replaced := make(map[string]bool, len(batch.Files))
	for _, f := range batch.Files {
		replaced[f.Path] = true
	}

	existing, err := p.store.ListNodes(ctx, graph.NodeFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing stored nodes: %w", err)
	}
	for _, n := range existing {
		if replaced[n.FilePath] {
			continue
		}
		index.Add(n)
	}

	for fi := range batch.Files {
		f := &batch.Files[fi]
		for ni := range f.Nodes {
			n := &f.Nodes[ni]
			if n.FilePath == "" {
				n.FilePath = f.Path
			}
			if batch.Language != "" && n.Language == "" {
				n.Language = batch.Language
			}
			n.Identify()
			index.Add(*n)
		}
	}

	return index, nil
}
