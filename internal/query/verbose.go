package query

import (
	"strconv"
	"strings"
)

// token is one lexed unit of verbose query text.
type token struct {
	pos  int
	text string
	// quoted marks string literals; their text has quotes stripped.
	quoted bool
}

// lexVerbose splits verbose query text into tokens, tracking byte
// offsets for error reporting. Single and double quotes delimit string
// literals. Comparison operators lex as standalone tokens even without
// surrounding whitespace, and commas are their own tokens.
func lexVerbose(input string) ([]token, error) {
	var toks []token
	i := 0
	for i < len(input) {
		c := input[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'' || c == '"':
			quote := c
			j := i + 1
			for j < len(input) && input[j] != quote {
				j++
			}
			if j >= len(input) {
				return nil, &SyntaxError{Pos: i, Msg: "unterminated string literal"}
			}
			toks = append(toks, token{pos: i, text: input[i+1 : j], quoted: true})
			i = j + 1
		case c == ',':
			toks = append(toks, token{pos: i, text: ","})
			i++
		case c == '<' || c == '>' || c == '!' || c == '=':
			j := i + 1
			if j < len(input) && (input[j] == '=' || (c == '<' && input[j] == '>')) {
				j++
			}
			toks = append(toks, token{pos: i, text: input[i:j]})
			i = j
		case c == '*':
			toks = append(toks, token{pos: i, text: "*"})
			i++
		default:
			j := i
			for j < len(input) && !isVerboseBreak(input[j]) {
				j++
			}
			if j == i {
				return nil, &SyntaxError{Pos: i, Token: string(c), Msg: "unexpected character"}
			}
			toks = append(toks, token{pos: i, text: input[i:j]})
			i = j
		}
	}
	return toks, nil
}

func isVerboseBreak(c byte) bool {
	switch c {
	case ' ', '\t', '\n', '\r', '\'', '"', ',', '<', '>', '!', '=':
		return true
	}
	return false
}

// verboseParser consumes a token stream with one-token lookahead.
type verboseParser struct {
	toks []token
	pos  int
	end  int // byte length of input, for errors past the last token
}

func (p *verboseParser) peek() (token, bool) {
	if p.pos >= len(p.toks) {
		return token{}, false
	}
	return p.toks[p.pos], true
}

func (p *verboseParser) next() (token, bool) {
	t, ok := p.peek()
	if ok {
		p.pos++
	}
	return t, ok
}

// expectKeyword consumes the next token and requires it to equal the
// keyword case-insensitively.
func (p *verboseParser) expectKeyword(kw string) error {
	t, ok := p.next()
	if !ok {
		return &SyntaxError{Pos: p.end, Msg: "expected " + kw}
	}
	if !strings.EqualFold(t.text, kw) {
		return &SyntaxError{Pos: t.pos, Token: t.text, Msg: "expected " + kw}
	}
	return nil
}

func (p *verboseParser) errHere(msg string) error {
	if t, ok := p.peek(); ok {
		return &SyntaxError{Pos: t.pos, Token: t.text, Msg: msg}
	}
	return &SyntaxError{Pos: p.end, Msg: msg}
}

// parseVerbose parses the SQL-like syntax. The first token has already
// been identified as SELECT or SHOW by the dispatcher.
func parseVerbose(input string) (*Query, error) {
	toks, err := lexVerbose(input)
	if err != nil {
		return nil, err
	}
	p := &verboseParser{toks: toks, end: len(input)}

	head, ok := p.next()
	if !ok {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}
	switch strings.ToUpper(head.text) {
	case "SELECT":
		return p.parseSelect()
	case "SHOW":
		return p.parseShow()
	default:
		return nil, &SyntaxError{Pos: head.pos, Token: head.text, Msg: "expected SELECT or SHOW"}
	}
}

// parseSelect handles
//
//	SELECT * FROM <kind> [WHERE pred [AND pred]...]
//	    [ORDER BY field [ASC|DESC]] [LIMIT n]
func (p *verboseParser) parseSelect() (*Query, error) {
	sel := &SelectQuery{}

	t, ok := p.next()
	if !ok {
		return nil, &SyntaxError{Pos: p.end, Msg: "expected projection after SELECT"}
	}
	if t.text != "*" {
		return nil, &SyntaxError{Pos: t.pos, Token: t.text, Msg: "only * projection is supported"}
	}
	if err := p.expectKeyword("FROM"); err != nil {
		return nil, err
	}

	t, ok = p.next()
	if !ok {
		return nil, &SyntaxError{Pos: p.end, Msg: "expected node type after FROM"}
	}
	kind, ok := canonicalKind(t.text)
	if !ok {
		return nil, semanticf("unknown node type %q", t.text)
	}
	sel.Kind = kind

	for {
		t, ok := p.peek()
		if !ok {
			break
		}
		switch strings.ToUpper(t.text) {
		case "WHERE":
			p.next()
			preds, err := p.parsePredicates()
			if err != nil {
				return nil, err
			}
			sel.Where = append(sel.Where, preds...)
		case "ORDER":
			p.next()
			if err := p.expectKeyword("BY"); err != nil {
				return nil, err
			}
			ft, ok := p.next()
			if !ok {
				return nil, &SyntaxError{Pos: p.end, Msg: "expected sort field after ORDER BY"}
			}
			field, err := newOrderBy(ft.text)
			if err != nil {
				return nil, err
			}
			sel.OrderBy = field
			if dir, ok := p.peek(); ok {
				switch strings.ToUpper(dir.text) {
				case "ASC":
					p.next()
				case "DESC":
					p.next()
					sel.Desc = true
				}
			}
		case "LIMIT":
			p.next()
			nt, ok := p.next()
			if !ok {
				return nil, &SyntaxError{Pos: p.end, Msg: "expected count after LIMIT"}
			}
			n, err := strconv.Atoi(nt.text)
			if err != nil || n < 0 {
				return nil, &SyntaxError{Pos: nt.pos, Token: nt.text, Msg: "LIMIT requires a non-negative integer"}
			}
			sel.Limit = n
		default:
			return nil, &SyntaxError{Pos: t.pos, Token: t.text, Msg: "expected WHERE, ORDER BY, or LIMIT"}
		}
	}

	return &Query{Select: sel}, nil
}

// parsePredicates parses one or more AND-joined predicates.
func (p *verboseParser) parsePredicates() ([]Predicate, error) {
	var preds []Predicate
	for {
		pred, err := p.parsePredicate()
		if err != nil {
			return nil, err
		}
		preds = append(preds, pred)

		t, ok := p.peek()
		if !ok || !strings.EqualFold(t.text, "AND") {
			return preds, nil
		}
		p.next()
	}
}

func (p *verboseParser) parsePredicate() (Predicate, error) {
	ft, ok := p.next()
	if !ok {
		return Predicate{}, &SyntaxError{Pos: p.end, Msg: "expected field name"}
	}
	if ft.quoted {
		return Predicate{}, &SyntaxError{Pos: ft.pos, Token: ft.text, Msg: "field name cannot be quoted"}
	}

	ot, ok := p.next()
	if !ok {
		return Predicate{}, &SyntaxError{Pos: p.end, Msg: "expected comparison operator"}
	}
	var op Op
	switch strings.ToUpper(ot.text) {
	case "=", "==":
		op = OpEq
	case "!=", "<>":
		op = OpNe
	case ">":
		op = OpGt
	case ">=":
		op = OpGe
	case "<":
		op = OpLt
	case "<=":
		op = OpLe
	case "LIKE", "~":
		op = OpLike
	default:
		return Predicate{}, &SyntaxError{Pos: ot.pos, Token: ot.text, Msg: "expected comparison operator"}
	}

	vt, ok := p.next()
	if !ok {
		return Predicate{}, &SyntaxError{Pos: p.end, Msg: "expected comparison value"}
	}
	return newPredicate(ft.text, op, vt.text)
}

// parseShow handles
//
//	SHOW <traversal> OF <target> [DEPTH n]
func (p *verboseParser) parseShow() (*Query, error) {
	t, ok := p.next()
	if !ok {
		return nil, &SyntaxError{Pos: p.end, Msg: "expected traversal kind after SHOW"}
	}
	kind, ok := canonicalShowKind(t.text)
	if !ok {
		return nil, semanticf("unknown traversal %q", t.text)
	}

	if err := p.expectKeyword("OF"); err != nil {
		return nil, err
	}

	tt, ok := p.next()
	if !ok {
		return nil, &SyntaxError{Pos: p.end, Msg: "expected target after OF"}
	}
	show := &ShowQuery{Kind: kind, Target: tt.text, Depth: 1}

	if t, ok := p.peek(); ok {
		if !strings.EqualFold(t.text, "DEPTH") {
			return nil, &SyntaxError{Pos: t.pos, Token: t.text, Msg: "expected DEPTH or end of query"}
		}
		p.next()
		nt, ok := p.next()
		if !ok {
			return nil, &SyntaxError{Pos: p.end, Msg: "expected count after DEPTH"}
		}
		n, err := strconv.Atoi(nt.text)
		if err != nil || n < 1 {
			return nil, &SyntaxError{Pos: nt.pos, Token: nt.text, Msg: "DEPTH requires a positive integer"}
		}
		show.Depth = n
	}
	if t, ok := p.peek(); ok {
		return nil, &SyntaxError{Pos: t.pos, Token: t.text, Msg: "unexpected trailing input"}
	}

	return &Query{Show: show}, nil
}
