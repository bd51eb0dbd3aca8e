package resolve

import (
	"github.com/codegraphhq/codegraph/pkg/models"
)

// indexEntry records one identifying form of a node.
type indexEntry struct {
	id   string
	kind models.NodeKind
}

// Index maps every identifying form of a node — canonical id, qualified
// name, and bare name — to the owning node's canonical id. Probes follow
// a fixed precedence: exact id, then qualified name, then bare name.
// The precedence is policy, not an artifact of insertion order, and is
// covered by tests.
type Index struct {
	byID    map[string]indexEntry
	byQName map[string][]indexEntry
	byName  map[string][]indexEntry
}

// NewIndex creates an empty symbol index.
func NewIndex() *Index {
	return &Index{
		byID:    make(map[string]indexEntry),
		byQName: make(map[string][]indexEntry),
		byName:  make(map[string][]indexEntry),
	}
}

// Add registers a node under all of its identifying forms. Later Adds
// for the same canonical id overwrite the id key but append to the name
// keys; the bare-name probe accepts any same-named match anyway.
func (ix *Index) Add(n models.Node) {
	e := indexEntry{id: n.ID, kind: n.Kind}
	ix.byID[n.ID] = e
	if n.QualifiedName != "" {
		ix.byQName[n.QualifiedName] = append(ix.byQName[n.QualifiedName], e)
	}
	if n.Name != "" {
		ix.byName[n.Name] = append(ix.byName[n.Name], e)
	}
}

// Len returns the number of distinct canonical ids indexed.
func (ix *Index) Len() int {
	return len(ix.byID)
}

// Resolve maps a symbolic reference to a canonical node id. want
// restricts matches to one node kind; pass "" to accept any kind.
//
// Bare-name resolution returns the first same-named match. With name
// collisions this can pick the wrong node; that is a known, bounded
// trade-off of the precedence policy, deliberately left without further
// disambiguation heuristics.
func (ix *Index) Resolve(symbol string, want models.NodeKind) (string, bool) {
	if e, ok := ix.byID[symbol]; ok && kindMatches(e.kind, want) {
		return e.id, true
	}
	if id, ok := firstMatch(ix.byQName[symbol], want); ok {
		return id, true
	}
	return firstMatch(ix.byName[symbol], want)
}

func firstMatch(entries []indexEntry, want models.NodeKind) (string, bool) {
	for _, e := range entries {
		if kindMatches(e.kind, want) {
			return e.id, true
		}
	}
	return "", false
}

func kindMatches(have, want models.NodeKind) bool {
	return want == "" || have == want
}

// targetKind maps an edge type to the node kind its references resolve
// against: calls land on functions, imports on modules, extends on
// classes. Unknown edge types probe all kinds.
func targetKind(t models.EdgeType) models.NodeKind {
	switch t {
	case models.EdgeCalls:
		return models.KindFunction
	case models.EdgeImports:
		return models.KindModule
	case models.EdgeExtends:
		return models.KindClass
	default:
		return ""
	}
}
