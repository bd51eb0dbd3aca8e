package graph

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/codegraphhq/codegraph/pkg/models"
)

// GraphData holds a full graph snapshot for export.
type GraphData struct {
	Nodes []models.Node `json:"nodes"`
	Edges []models.Edge `json:"edges"`
}

// ExportJSON returns the graph as a JSON string.
func ExportJSON(ctx context.Context, store Store) (string, error) {
	nodes, err := store.ListNodes(ctx, NodeFilter{})
	if err != nil {
		return "", fmt.Errorf("listing nodes: %w", err)
	}
	edges, err := store.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		return "", fmt.Errorf("listing edges: %w", err)
	}

	data := GraphData{Nodes: nodes, Edges: edges}
	if data.Nodes == nil {
		data.Nodes = []models.Node{}
	}
	if data.Edges == nil {
		data.Edges = []models.Edge{}
	}

	b, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b), nil
}

// ExportDOT returns the graph in Graphviz DOT format.
func ExportDOT(ctx context.Context, store Store) (string, error) {
	nodes, err := store.ListNodes(ctx, NodeFilter{})
	if err != nil {
		return "", fmt.Errorf("listing nodes: %w", err)
	}
	edges, err := store.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		return "", fmt.Errorf("listing edges: %w", err)
	}

	var b strings.Builder
	b.WriteString("digraph codegraph {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled];\n\n")

	for _, n := range nodes {
		label := fmt.Sprintf("%s\\n(%s)", displayName(n), n.Kind)
		b.WriteString(fmt.Sprintf("  %q [label=%q, fillcolor=%q];\n", n.ID, label, kindColor(n.Kind)))
	}

	b.WriteString("\n")

	for _, e := range edges {
		b.WriteString(fmt.Sprintf("  %q -> %q [label=%q];\n", e.SourceID, e.TargetID, e.Type))
	}

	b.WriteString("}\n")
	return b.String(), nil
}

// ExportMermaid returns the graph in Mermaid format.
func ExportMermaid(ctx context.Context, store Store) (string, error) {
	nodes, err := store.ListNodes(ctx, NodeFilter{})
	if err != nil {
		return "", fmt.Errorf("listing nodes: %w", err)
	}
	edges, err := store.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		return "", fmt.Errorf("listing edges: %w", err)
	}

	var b strings.Builder
	b.WriteString("graph LR\n")

	for _, n := range nodes {
		b.WriteString(fmt.Sprintf("  %s[\"%s (%s)\"]\n", mermaidSafeID(n.ID), displayName(n), n.Kind))
	}

	for _, e := range edges {
		b.WriteString(fmt.Sprintf("  %s -->|%s| %s\n", mermaidSafeID(e.SourceID), e.Type, mermaidSafeID(e.TargetID)))
	}

	return b.String(), nil
}

func displayName(n models.Node) string {
	if n.QualifiedName != "" {
		return n.QualifiedName
	}
	return n.Name
}

func kindColor(k models.NodeKind) string {
	switch k {
	case models.KindModule:
		return "#AED6F1"
	case models.KindFunction:
		return "#A3E4D7"
	case models.KindClass:
		return "#F9E79F"
	default:
		return "#D5D8DC"
	}
}

func mermaidSafeID(id string) string {
	r := strings.NewReplacer(":", "_", ".", "_", "-", "_", "/", "_")
	return r.Replace(id)
}
