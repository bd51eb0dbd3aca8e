package query

import (
	"strconv"
	"strings"
)

// Query is the canonical AST both concrete syntaxes compile to. Exactly
// one arm is set. A Query lives only for the call that parsed it and is
// never persisted.
type Query struct {
	Select *SelectQuery
	Show   *ShowQuery
}

// SelectQuery is a tabular query: filter nodes by kind and predicates,
// order, and cap the result.
type SelectQuery struct {
	Kind    string // canonical node kind, "" means any
	Where   []Predicate
	OrderBy string // canonical field name, "" means unordered
	Desc    bool
	Limit   int // 0 means no limit
}

// Op is a predicate comparison operator.
type Op string

// Comparison operators shared by both syntaxes.
const (
	OpEq   Op = "="
	OpNe   Op = "!="
	OpGt   Op = ">"
	OpGe   Op = ">="
	OpLt   Op = "<"
	OpLe   Op = "<="
	OpLike Op = "~" // substring / pattern match
)

// Predicate is one field comparison. Predicates in a Where list are a
// conjunction. Value holds the literal with quotes stripped; numeric
// fields are validated at construction time.
type Predicate struct {
	Field string
	Op    Op
	Value string
}

// ShowKind selects the traversal a Show query performs.
type ShowKind string

// The five traversal kinds.
const (
	ShowDependencies ShowKind = "DEPENDENCIES"
	ShowDependents   ShowKind = "DEPENDENTS"
	ShowCallers      ShowKind = "CALLERS"
	ShowCallees      ShowKind = "CALLEES"
	ShowImpact       ShowKind = "IMPACT"
)

// ShowQuery is a traversal query from a target node reference.
type ShowQuery struct {
	Kind   ShowKind
	Target string
	Depth  int // defaults to 1; ignored by IMPACT, which is unbounded
}

// nodeKinds maps every accepted node-type token (full word, plural,
// short alias, single letter) to the canonical kind. Single letters are
// legal here because the token sits in node-type position; the same
// letter in predicate position is a field (see fieldNames). That
// positional rule, not semantic guessing, is the whole disambiguation
// story.
var nodeKinds = map[string]string{
	"function": "function", "functions": "function", "fn": "function", "f": "function",
	"class": "class", "classes": "class", "cls": "class", "c": "class",
	"module": "module", "modules": "module", "mod": "module", "m": "module",
	"node": "", "nodes": "", "any": "", "*": "",
}

// fieldNames maps every accepted field token to the canonical field.
var fieldNames = map[string]string{
	"name": "name", "n": "name",
	"qualified_name": "qualified_name", "qname": "qualified_name", "q": "qualified_name",
	"file": "file_path", "file_path": "file_path", "path": "file_path", "f": "file_path",
	"language": "language", "lang": "language", "g": "language",
	"complexity": "complexity", "cx": "complexity", "c": "complexity",
	"lines": "lines", "l": "lines",
	"kind": "kind", "k": "kind",
	"start_line": "start_line",
	"end_line":   "end_line",
}

// numericFields lists canonical fields compared as integers.
var numericFields = map[string]bool{
	"complexity": true,
	"lines":      true,
	"start_line": true,
	"end_line":   true,
}

// showKinds maps every accepted traversal keyword to its canonical kind.
var showKinds = map[string]ShowKind{
	"dependencies": ShowDependencies, "deps": ShowDependencies,
	"dependents": ShowDependents, "rdeps": ShowDependents,
	"callers": ShowCallers,
	"callees": ShowCallees,
	"impact":  ShowImpact,
}

// canonicalKind resolves a node-type token, or reports failure.
func canonicalKind(tok string) (string, bool) {
	k, ok := nodeKinds[strings.ToLower(tok)]
	return k, ok
}

// canonicalField resolves a field token, or reports failure.
func canonicalField(tok string) (string, bool) {
	f, ok := fieldNames[strings.ToLower(tok)]
	return f, ok
}

// canonicalShowKind resolves a traversal keyword, or reports failure.
func canonicalShowKind(tok string) (ShowKind, bool) {
	k, ok := showKinds[strings.ToLower(tok)]
	return k, ok
}

// IsNumericField reports whether the canonical field compares as an integer.
func IsNumericField(field string) bool {
	return numericFields[field]
}

// newPredicate is the shared construction path for both grammars: it
// canonicalizes the field, checks operator/field compatibility, and
// validates numeric literals, so the two parsers cannot drift apart on
// predicate semantics.
func newPredicate(field string, op Op, value string) (Predicate, error) {
	canon, ok := canonicalField(field)
	if !ok {
		return Predicate{}, semanticf("unknown field %q", field)
	}
	if IsNumericField(canon) {
		if op == OpLike {
			return Predicate{}, semanticf("field %q is numeric and does not support pattern match", canon)
		}
		if _, err := strconv.Atoi(value); err != nil {
			return Predicate{}, semanticf("field %q requires a numeric value, got %q", canon, value)
		}
	}
	return Predicate{Field: canon, Op: op, Value: value}, nil
}

// newOrderBy is the shared construction path for sort keys.
func newOrderBy(field string) (string, error) {
	canon, ok := canonicalField(field)
	if !ok {
		return "", semanticf("unknown sort field %q", field)
	}
	return canon, nil
}
