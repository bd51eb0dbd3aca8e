package query

import (
	"errors"
	"reflect"
	"testing"
)

// TestGoldenPairs checks that paired terse and verbose query strings
// parse to structurally identical ASTs.
func TestGoldenPairs(t *testing.T) {
	pairs := []struct {
		name    string
		terse   string
		verbose string
	}{
		{
			name:    "complexity filter sorted and capped",
			terse:   "fn c>50 sort c- 10",
			verbose: "SELECT * FROM functions WHERE complexity > 50 ORDER BY complexity DESC LIMIT 10",
		},
		{
			name:    "bare kind scan",
			terse:   "classes",
			verbose: "SELECT * FROM classes",
		},
		{
			name:    "single letter kind",
			terse:   "m",
			verbose: "SELECT * FROM modules",
		},
		{
			name:    "any kind with name pattern",
			terse:   "* n~parse",
			verbose: "SELECT * FROM nodes WHERE name LIKE 'parse'",
		},
		{
			name:    "conjunction with ascending sort",
			terse:   "fn c>=10 l<200 sort n+",
			verbose: "SELECT * FROM functions WHERE complexity >= 10 AND lines < 200 ORDER BY name ASC",
		},
		{
			name:    "file path equality",
			terse:   "f f=src/main.py",
			verbose: "SELECT * FROM functions WHERE file = 'src/main.py'",
		},
		{
			name:    "inequality",
			terse:   "fn g!=python",
			verbose: "SELECT * FROM functions WHERE language <> 'python'",
		},
		{
			name:    "callers with depth",
			terse:   "callers main d2",
			verbose: "SHOW CALLERS OF main DEPTH 2",
		},
		{
			name:    "dependencies default depth",
			terse:   "deps utils",
			verbose: "SHOW DEPENDENCIES OF utils",
		},
		{
			name:    "reverse dependencies",
			terse:   "rdeps app.models.User d3",
			verbose: "SHOW DEPENDENTS OF app.models.User DEPTH 3",
		},
		{
			name:    "impact",
			terse:   "impact parseArgs",
			verbose: "SHOW IMPACT OF parseArgs",
		},
		{
			name:    "callees",
			terse:   "callees main",
			verbose: "SHOW CALLEES OF main",
		},
	}

	for _, tc := range pairs {
		t.Run(tc.name, func(t *testing.T) {
			terseAST, err := Parse(tc.terse)
			if err != nil {
				t.Fatalf("terse parse failed: %v", err)
			}
			verboseAST, err := Parse(tc.verbose)
			if err != nil {
				t.Fatalf("verbose parse failed: %v", err)
			}
			if !reflect.DeepEqual(terseAST, verboseAST) {
				t.Errorf("ASTs differ:\nterse   %+v %+v\nverbose %+v %+v",
					terseAST.Select, terseAST.Show, verboseAST.Select, verboseAST.Show)
			}
		})
	}
}

func TestParseSelectFields(t *testing.T) {
	q, err := Parse("SELECT * FROM functions WHERE complexity > 50 ORDER BY complexity DESC LIMIT 10")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.Select == nil {
		t.Fatal("expected a select query")
	}
	sel := q.Select
	if sel.Kind != "function" {
		t.Errorf("kind = %q, want function", sel.Kind)
	}
	want := []Predicate{{Field: "complexity", Op: OpGt, Value: "50"}}
	if !reflect.DeepEqual(sel.Where, want) {
		t.Errorf("where = %+v, want %+v", sel.Where, want)
	}
	if sel.OrderBy != "complexity" || !sel.Desc {
		t.Errorf("order = %q desc=%v, want complexity desc", sel.OrderBy, sel.Desc)
	}
	if sel.Limit != 10 {
		t.Errorf("limit = %d, want 10", sel.Limit)
	}
}

func TestParseShowDefaults(t *testing.T) {
	q, err := Parse("callers main")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.Show == nil {
		t.Fatal("expected a show query")
	}
	if q.Show.Kind != ShowCallers || q.Show.Target != "main" || q.Show.Depth != 1 {
		t.Errorf("got %+v, want callers of main depth 1", q.Show)
	}
}

// TestSingleLetterPosition checks that the same letter resolves as a
// node type in type position and as a field in predicate position.
func TestSingleLetterPosition(t *testing.T) {
	q, err := Parse("c c>5")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.Select.Kind != "class" {
		t.Errorf("kind = %q, want class", q.Select.Kind)
	}
	if len(q.Select.Where) != 1 || q.Select.Where[0].Field != "complexity" {
		t.Errorf("where = %+v, want one complexity predicate", q.Select.Where)
	}

	q, err = Parse("f f~internal/")
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if q.Select.Kind != "function" {
		t.Errorf("kind = %q, want function", q.Select.Kind)
	}
	if len(q.Select.Where) != 1 || q.Select.Where[0].Field != "file_path" {
		t.Errorf("where = %+v, want one file_path predicate", q.Select.Where)
	}
}

func TestSyntaxErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"empty", ""},
		{"verbose missing from", "SELECT * functions"},
		{"verbose unterminated string", "SELECT * FROM functions WHERE name = 'main"},
		{"verbose bad limit", "SELECT * FROM functions LIMIT ten"},
		{"verbose show missing of", "SHOW CALLERS main"},
		{"verbose trailing junk", "SHOW CALLERS OF main DEPTH 2 extra"},
		{"terse bad depth", "callers main dx"},
		{"terse limit not last", "fn 10 c>5"},
		{"terse show missing target", "callers"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			var syn *SyntaxError
			if !errors.As(err, &syn) {
				t.Fatalf("got %v, want SyntaxError", err)
			}
		})
	}
}

func TestSyntaxErrorPosition(t *testing.T) {
	_, err := Parse("SELECT * FRM functions")
	var syn *SyntaxError
	if !errors.As(err, &syn) {
		t.Fatalf("got %v, want SyntaxError", err)
	}
	if syn.Token != "FRM" {
		t.Errorf("token = %q, want FRM", syn.Token)
	}
	if syn.Pos != 9 {
		t.Errorf("pos = %d, want 9", syn.Pos)
	}
}

func TestSemanticErrors(t *testing.T) {
	cases := []struct {
		name  string
		input string
	}{
		{"unknown field verbose", "SELECT * FROM functions WHERE bogus > 5"},
		{"unknown field terse", "fn bogus>5"},
		{"unknown kind verbose", "SELECT * FROM widgets"},
		{"unknown kind terse", "widgets c>5"},
		{"unknown sort field", "fn c>5 sort bogus"},
		{"unknown traversal", "SHOW NEIGHBORS OF main"},
		{"pattern on numeric field", "fn c~5"},
		{"non numeric value", "fn c>fast"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse(tc.input)
			var sem *SemanticError
			if !errors.As(err, &sem) {
				t.Fatalf("got %v, want SemanticError", err)
			}
		})
	}
}

func TestQuotedValues(t *testing.T) {
	q, err := Parse(`SELECT * FROM functions WHERE name = "hello world"`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if got := q.Select.Where[0].Value; got != "hello world" {
		t.Errorf("value = %q, want %q", got, "hello world")
	}
}
