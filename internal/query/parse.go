package query

import "strings"

// Parse compiles query text in either concrete syntax into the canonical
// AST. Input starting with SELECT or SHOW (case-insensitive) is parsed
// as the verbose syntax; everything else as the terse syntax. Both
// syntaxes produce structurally identical ASTs for equivalent intent.
func Parse(input string) (*Query, error) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return nil, &SyntaxError{Pos: 0, Msg: "empty query"}
	}

	head := trimmed
	if idx := strings.IndexAny(trimmed, " \t\n\r"); idx >= 0 {
		head = trimmed[:idx]
	}
	switch strings.ToUpper(head) {
	case "SELECT", "SHOW":
		return parseVerbose(trimmed)
	}
	return parseTerse(trimmed)
}
