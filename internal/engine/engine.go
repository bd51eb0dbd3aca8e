package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/internal/query"
	"github.com/codegraphhq/codegraph/pkg/models"
)

// ErrTargetNotFound is returned when a traversal target resolves to no
// stored node. An unknown target is an error, not an empty traversal.
var ErrTargetNotFound = errors.New("target not found")

// TraversalNode is one node reached by a traversal, annotated with its
// BFS depth from the target and the edge type that reached it.
type TraversalNode struct {
	Node     models.Node     `json:"node"`
	Depth    int             `json:"depth"`
	EdgeType models.EdgeType `json:"edge_type"`
}

// Result holds the outcome of one executed query. Exactly one of Nodes
// and Traversal is set, mirroring the two AST arms.
type Result struct {
	Nodes     []models.Node   `json:"nodes,omitempty"`
	Traversal []TraversalNode `json:"traversal,omitempty"`
	Target    *models.Node    `json:"target,omitempty"`
}

// Engine plans and executes parsed queries against a graph store.
type Engine struct {
	store  graph.Store
	logger *slog.Logger
}

// New creates an execution engine over the given store.
func New(store graph.Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Execute runs a parsed query and returns its result.
func (e *Engine) Execute(ctx context.Context, q *query.Query) (*Result, error) {
	switch {
	case q.Select != nil:
		nodes, err := e.executeSelect(ctx, q.Select)
		if err != nil {
			return nil, err
		}
		return &Result{Nodes: nodes}, nil
	case q.Show != nil:
		return e.executeShow(ctx, q.Show)
	default:
		return nil, fmt.Errorf("empty query AST")
	}
}

// executeSelect applies the kind filter in SQL, then evaluates the
// predicate conjunction, sort, and limit in memory. An empty result is
// valid, not an error.
func (e *Engine) executeSelect(ctx context.Context, sel *query.SelectQuery) ([]models.Node, error) {
	nodes, err := e.store.ListNodes(ctx, graph.NodeFilter{Kind: sel.Kind})
	if err != nil {
		return nil, fmt.Errorf("listing nodes: %w", err)
	}

	filtered := nodes[:0]
	for _, n := range nodes {
		if matchesAll(n, sel.Where) {
			filtered = append(filtered, n)
		}
	}
	nodes = filtered

	if sel.OrderBy != "" {
		sortNodes(nodes, sel.OrderBy, sel.Desc)
	}
	if sel.Limit > 0 && len(nodes) > sel.Limit {
		nodes = nodes[:sel.Limit]
	}
	return nodes, nil
}

func matchesAll(n models.Node, preds []query.Predicate) bool {
	for _, p := range preds {
		if !matches(n, p) {
			return false
		}
	}
	return true
}

func matches(n models.Node, p query.Predicate) bool {
	if query.IsNumericField(p.Field) {
		have := numericValue(n, p.Field)
		want, err := strconv.Atoi(p.Value)
		if err != nil {
			return false
		}
		switch p.Op {
		case query.OpEq:
			return have == want
		case query.OpNe:
			return have != want
		case query.OpGt:
			return have > want
		case query.OpGe:
			return have >= want
		case query.OpLt:
			return have < want
		case query.OpLe:
			return have <= want
		}
		return false
	}

	have := stringValue(n, p.Field)
	switch p.Op {
	case query.OpEq:
		return have == p.Value
	case query.OpNe:
		return have != p.Value
	case query.OpLike:
		return strings.Contains(have, p.Value)
	case query.OpGt:
		return have > p.Value
	case query.OpGe:
		return have >= p.Value
	case query.OpLt:
		return have < p.Value
	case query.OpLe:
		return have <= p.Value
	}
	return false
}

func numericValue(n models.Node, field string) int {
	switch field {
	case "complexity":
		return n.Complexity
	case "lines":
		return n.Lines
	case "start_line":
		return n.StartLine
	case "end_line":
		return n.EndLine
	}
	return 0
}

func stringValue(n models.Node, field string) string {
	switch field {
	case "name":
		return n.Name
	case "qualified_name":
		return n.QualifiedName
	case "file_path":
		return n.FilePath
	case "language":
		return n.Language
	case "kind":
		return string(n.Kind)
	}
	return ""
}

// sortNodes orders nodes by the given field, with canonical id as the
// tiebreaker so equal keys still produce a deterministic order.
func sortNodes(nodes []models.Node, field string, desc bool) {
	numeric := query.IsNumericField(field)
	sort.SliceStable(nodes, func(i, j int) bool {
		var less, eq bool
		if numeric {
			a, b := numericValue(nodes[i], field), numericValue(nodes[j], field)
			less, eq = a < b, a == b
		} else {
			a, b := stringValue(nodes[i], field), stringValue(nodes[j], field)
			less, eq = a < b, a == b
		}
		if eq {
			return nodes[i].ID < nodes[j].ID
		}
		if desc {
			return !less
		}
		return less
	})
}

// executeShow resolves the target and runs the traversal the AST names.
// CALLERS and CALLEES walk only CALLS edges; DEPENDENCIES and DEPENDENTS
// walk every edge type. IMPACT is the unbounded transitive closure of
// dependents.
func (e *Engine) executeShow(ctx context.Context, show *query.ShowQuery) (*Result, error) {
	target, err := e.store.FindNode(ctx, show.Target)
	if err != nil {
		return nil, fmt.Errorf("resolving target: %w", err)
	}
	if target == nil {
		return nil, fmt.Errorf("%w: %q", ErrTargetNotFound, show.Target)
	}

	outgoing, incoming, err := e.store.BuildAdjacency(ctx)
	if err != nil {
		return nil, fmt.Errorf("building adjacency: %w", err)
	}

	var (
		adj      map[string][]models.Edge
		forward  bool
		onlyType models.EdgeType
		depth    = show.Depth
	)
	switch show.Kind {
	case query.ShowDependencies:
		adj, forward = outgoing, true
	case query.ShowDependents:
		adj, forward = incoming, false
	case query.ShowCallees:
		adj, forward, onlyType = outgoing, true, models.EdgeCalls
	case query.ShowCallers:
		adj, forward, onlyType = incoming, false, models.EdgeCalls
	case query.ShowImpact:
		adj, forward, depth = incoming, false, 0
	default:
		return nil, fmt.Errorf("unknown traversal kind %q", show.Kind)
	}

	traversal, err := e.walk(ctx, target.ID, adj, forward, onlyType, depth)
	if err != nil {
		return nil, err
	}
	return &Result{Traversal: traversal, Target: target}, nil
}

// walk performs a breadth-first traversal from startID. A node is
// reported at its shortest-path depth; maxDepth 0 means unbounded.
func (e *Engine) walk(ctx context.Context, startID string, adj map[string][]models.Edge, forward bool, onlyType models.EdgeType, maxDepth int) ([]TraversalNode, error) {
	type queueItem struct {
		nodeID string
		depth  int
	}

	visited := map[string]bool{startID: true}
	queue := []queueItem{{nodeID: startID, depth: 0}}
	var result []TraversalNode

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		if maxDepth > 0 && current.depth >= maxDepth {
			continue
		}

		for _, edge := range adj[current.nodeID] {
			if onlyType != "" && edge.Type != onlyType {
				continue
			}
			nextID := edge.TargetID
			if !forward {
				nextID = edge.SourceID
			}
			if visited[nextID] {
				continue
			}
			visited[nextID] = true

			n, err := e.store.GetNode(ctx, nextID)
			if err != nil {
				return nil, fmt.Errorf("loading node %s: %w", nextID, err)
			}
			if n == nil {
				continue
			}
			result = append(result, TraversalNode{
				Node:     *n,
				Depth:    current.depth + 1,
				EdgeType: edge.Type,
			})
			queue = append(queue, queueItem{nodeID: nextID, depth: current.depth + 1})
		}
	}

	return result, nil
}
