package query

import "fmt"

// SyntaxError reports malformed query text. Pos is the byte offset of
// the offending token in the original input.
type SyntaxError struct {
	Pos   int
	Token string
	Msg   string
}

func (e *SyntaxError) Error() string {
	if e.Token == "" {
		return fmt.Sprintf("syntax error at offset %d: %s", e.Pos, e.Msg)
	}
	return fmt.Sprintf("syntax error at offset %d near %q: %s", e.Pos, e.Token, e.Msg)
}

// SemanticError reports a well-formed query that references something
// unknown (a field, a sort key, a traversal target). It is raised before
// any store access.
type SemanticError struct {
	Msg string
}

func (e *SemanticError) Error() string {
	return e.Msg
}

func semanticf(format string, args ...any) *SemanticError {
	return &SemanticError{Msg: fmt.Sprintf(format, args...)}
}
