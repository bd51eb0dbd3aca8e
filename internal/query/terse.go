package query

import (
	"strconv"
	"strings"
)

// terseOps lists operator spellings longest-first so ">=" wins over ">".
var terseOps = []string{">=", "<=", "!=", "==", "=", ">", "<", "~"}

// parseTerse parses the token-minimal syntax. Tokens are whitespace
// separated; a token containing a comparison operator is a predicate.
//
//	fn c>50 sort c- 10
//	callers main d2
//
// The first token decides the query shape: a traversal keyword starts a
// show query, anything else must be a node-type selector.
func parseTerse(input string) (*Query, error) {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}
	// Track each token's byte offset for error messages.
	offsets := make([]int, len(fields))
	searchFrom := 0
	for i, f := range fields {
		offsets[i] = strings.Index(input[searchFrom:], f) + searchFrom
		searchFrom = offsets[i] + len(f)
	}

	if kind, ok := canonicalShowKind(fields[0]); ok {
		return parseTerseShow(kind, fields, offsets, len(input))
	}
	return parseTerseSelect(fields, offsets, len(input))
}

// parseTerseShow handles `<traversal> <target> [d<N>]`.
func parseTerseShow(kind ShowKind, fields []string, offsets []int, end int) (*Query, error) {
	if len(fields) < 2 {
		return nil, &SyntaxError{Pos: end, Msg: "expected target after " + fields[0]}
	}
	show := &ShowQuery{Kind: kind, Target: fields[1], Depth: 1}

	rest := fields[2:]
	if len(rest) > 1 {
		return nil, &SyntaxError{Pos: offsets[3], Token: fields[3], Msg: "unexpected trailing input"}
	}
	if len(rest) == 1 {
		tok := rest[0]
		if len(tok) < 2 || (tok[0] != 'd' && tok[0] != 'D') {
			return nil, &SyntaxError{Pos: offsets[2], Token: tok, Msg: "expected depth suffix d<N>"}
		}
		n, err := strconv.Atoi(tok[1:])
		if err != nil || n < 1 {
			return nil, &SyntaxError{Pos: offsets[2], Token: tok, Msg: "depth requires a positive integer"}
		}
		show.Depth = n
	}
	return &Query{Show: show}, nil
}

// parseTerseSelect handles `<kind> [pred]... [sort field[+|-]] [limit]`.
func parseTerseSelect(fields []string, offsets []int, end int) (*Query, error) {
	kind, ok := canonicalKind(fields[0])
	if !ok {
		return nil, semanticf("unknown node type %q", fields[0])
	}
	sel := &SelectQuery{Kind: kind}

	i := 1
	for i < len(fields) {
		tok := fields[i]

		if strings.EqualFold(tok, "sort") {
			i++
			if i >= len(fields) {
				return nil, &SyntaxError{Pos: end, Msg: "expected sort field after sort"}
			}
			spec := fields[i]
			switch {
			case strings.HasSuffix(spec, "-"):
				sel.Desc = true
				spec = spec[:len(spec)-1]
			case strings.HasSuffix(spec, "+"):
				spec = spec[:len(spec)-1]
			}
			field, err := newOrderBy(spec)
			if err != nil {
				return nil, err
			}
			sel.OrderBy = field
			i++
			continue
		}

		if field, op, value, ok := splitTerseOp(tok); ok {
			pred, err := newPredicate(field, op, value)
			if err != nil {
				return nil, err
			}
			sel.Where = append(sel.Where, pred)
			i++
			continue
		}

		// A bare integer is the result cap and must come last.
		n, err := strconv.Atoi(tok)
		if err != nil || n < 0 {
			return nil, &SyntaxError{Pos: offsets[i], Token: tok, Msg: "expected predicate, sort, or limit"}
		}
		if i != len(fields)-1 {
			return nil, &SyntaxError{Pos: offsets[i+1], Token: fields[i+1], Msg: "limit must be the final token"}
		}
		sel.Limit = n
		i++
	}

	return &Query{Select: sel}, nil
}

// splitTerseOp splits a predicate token like "c>50" or "n~parse" into
// its field, operator, and value parts.
func splitTerseOp(tok string) (field string, op Op, value string, ok bool) {
	best := -1
	var bestOp string
	for _, o := range terseOps {
		idx := strings.Index(tok, o)
		if idx > 0 && (best == -1 || idx < best || (idx == best && len(o) > len(bestOp))) {
			best = idx
			bestOp = o
		}
	}
	if best == -1 {
		return "", "", "", false
	}
	field = tok[:best]
	value = strings.Trim(tok[best+len(bestOp):], `'"`)
	switch bestOp {
	case "=", "==":
		op = OpEq
	case "!=":
		op = OpNe
	case ">":
		op = OpGt
	case ">=":
		op = OpGe
	case "<":
		op = OpLt
	case "<=":
		op = OpLe
	case "~":
		op = OpLike
	}
	if value == "" {
		return "", "", "", false
	}
	return field, op, value, true
}
