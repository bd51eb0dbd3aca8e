package engine

import (
	"context"
	"fmt"
	"sort"

	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/pkg/models"
)

// Cycle is one elementary cycle: a closed walk that visits each of its
// nodes exactly once. Nodes starts at the cycle's smallest node id, so
// every cycle has exactly one canonical spelling. Length always equals
// len(Nodes).
type Cycle struct {
	Nodes  []string `json:"nodes"`
	Length int      `json:"length"`
}

// FindCycles reports every elementary cycle in the stored graph. Tarjan's
// algorithm first narrows the search to strongly connected components;
// elementary cycles are then enumerated per component. Cycles are ordered
// by their smallest node id, then by length.
func (e *Engine) FindCycles(ctx context.Context) ([]Cycle, error) {
	edges, err := e.store.ListEdges(ctx, graph.EdgeFilter{})
	if err != nil {
		return nil, fmt.Errorf("listing edges: %w", err)
	}

	// Parallel edges of different types collapse to one adjacency entry;
	// cycle membership cares about reachability, not edge type.
	adj := make(map[string][]string)
	seen := make(map[[2]string]bool)
	for _, ed := range edges {
		key := [2]string{ed.SourceID, ed.TargetID}
		if seen[key] {
			continue
		}
		seen[key] = true
		adj[ed.SourceID] = append(adj[ed.SourceID], ed.TargetID)
	}

	var cycles []Cycle
	for _, scc := range stronglyConnected(adj) {
		cycles = append(cycles, enumerateCycles(scc, adj)...)
	}

	sort.Slice(cycles, func(i, j int) bool {
		if cycles[i].Nodes[0] != cycles[j].Nodes[0] {
			return cycles[i].Nodes[0] < cycles[j].Nodes[0]
		}
		return cycles[i].Length < cycles[j].Length
	})
	return cycles, nil
}

// tarjanState carries the bookkeeping for Tarjan's SCC algorithm.
type tarjanState struct {
	adj     map[string][]string
	index   int
	stack   []string
	onStack map[string]bool
	indices map[string]int
	lowLink map[string]int
	sccs    [][]string
}

// stronglyConnected returns every strongly connected component with more
// than one node, plus single nodes that carry a self loop. Components
// smaller than that cannot contain a cycle.
func stronglyConnected(adj map[string][]string) [][]string {
	nodes := make([]string, 0, len(adj))
	seen := make(map[string]bool)
	for from, tos := range adj {
		if !seen[from] {
			seen[from] = true
			nodes = append(nodes, from)
		}
		for _, to := range tos {
			if !seen[to] {
				seen[to] = true
				nodes = append(nodes, to)
			}
		}
	}
	sort.Strings(nodes)

	t := &tarjanState{
		adj:     adj,
		onStack: make(map[string]bool),
		indices: make(map[string]int),
		lowLink: make(map[string]int),
	}
	for _, n := range nodes {
		if _, visited := t.indices[n]; !visited {
			t.strongConnect(n)
		}
	}

	var result [][]string
	for _, scc := range t.sccs {
		if len(scc) > 1 || hasSelfLoop(scc[0], adj) {
			sort.Strings(scc)
			result = append(result, scc)
		}
	}
	return result
}

func (t *tarjanState) strongConnect(nodeID string) {
	t.indices[nodeID] = t.index
	t.lowLink[nodeID] = t.index
	t.index++

	t.stack = append(t.stack, nodeID)
	t.onStack[nodeID] = true

	for _, succ := range t.adj[nodeID] {
		if _, visited := t.indices[succ]; !visited {
			t.strongConnect(succ)
			t.lowLink[nodeID] = min(t.lowLink[nodeID], t.lowLink[succ])
		} else if t.onStack[succ] {
			t.lowLink[nodeID] = min(t.lowLink[nodeID], t.indices[succ])
		}
	}

	if t.lowLink[nodeID] == t.indices[nodeID] {
		var scc []string
		for {
			w := t.stack[len(t.stack)-1]
			t.stack = t.stack[:len(t.stack)-1]
			t.onStack[w] = false
			scc = append(scc, w)
			if w == nodeID {
				break
			}
		}
		t.sccs = append(t.sccs, scc)
	}
}

func hasSelfLoop(id string, adj map[string][]string) bool {
	for _, to := range adj[id] {
		if to == id {
			return true
		}
	}
	return false
}

// enumerateCycles lists the elementary cycles inside one strongly
// connected component. Each cycle is found exactly once by searching
// from its smallest node id and only visiting ids not smaller than the
// start, so the canonical rotation falls out of the search itself.
func enumerateCycles(scc []string, adj map[string][]string) []Cycle {
	member := make(map[string]bool, len(scc))
	for _, id := range scc {
		member[id] = true
	}

	var cycles []Cycle
	for _, start := range scc {
		path := []string{start}
		onPath := map[string]bool{start: true}

		var dfs func(current string)
		dfs = func(current string) {
			for _, next := range adj[current] {
				if next == start {
					cycle := make([]string, len(path))
					copy(cycle, path)
					cycles = append(cycles, Cycle{Nodes: cycle, Length: len(cycle)})
					continue
				}
				if !member[next] || next < start || onPath[next] {
					continue
				}
				onPath[next] = true
				path = append(path, next)
				dfs(next)
				path = path[:len(path)-1]
				onPath[next] = false
			}
		}
		dfs(start)
	}
	return cycles
}

// NodesFor loads the node records for a cycle's id list, in order.
func (e *Engine) NodesFor(ctx context.Context, c Cycle) ([]models.Node, error) {
	nodes := make([]models.Node, 0, len(c.Nodes))
	for _, id := range c.Nodes {
		n, err := e.store.GetNode(ctx, id)
		if err != nil {
			return nil, err
		}
		if n != nil {
			nodes = append(nodes, *n)
		}
	}
	return nodes, nil
}
