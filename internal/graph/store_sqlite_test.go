package graph

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/codegraphhq/codegraph/pkg/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:", 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func makeNode(id, name string, kind models.NodeKind, filePath string) models.Node {
	return models.Node{
		ID: id, Kind: kind, Name: name,
		QualifiedName: "pkg." + name, FilePath: filePath,
		Language: "python", Complexity: 1, Lines: 10,
	}
}

func TestUpsertAndGetNode(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	node := models.Node{
		ID: "function:abc", Kind: models.KindFunction, Name: "parseArgs",
		QualifiedName: "app.cli.parseArgs", FilePath: "app/cli.py",
		StartLine: 10, EndLine: 52, Language: "python",
		Complexity: 7, Lines: 42,
	}

	if err := store.UpsertNode(ctx, node); err != nil {
		t.Fatal(err)
	}

	got, err := store.GetNode(ctx, "function:abc")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Fatal("expected node, got nil")
	}
	if got.Name != "parseArgs" {
		t.Errorf("Name = %q, want parseArgs", got.Name)
	}
	if got.QualifiedName != "app.cli.parseArgs" {
		t.Errorf("QualifiedName = %q, want app.cli.parseArgs", got.QualifiedName)
	}
	if got.Complexity != 7 || got.Lines != 42 {
		t.Errorf("metrics = %d/%d, want 7/42", got.Complexity, got.Lines)
	}

	// Upsert with same id replaces fields.
	node.Complexity = 9
	if err := store.UpsertNode(ctx, node); err != nil {
		t.Fatal(err)
	}
	got, err = store.GetNode(ctx, "function:abc")
	if err != nil {
		t.Fatal(err)
	}
	if got.Complexity != 9 {
		t.Errorf("Complexity after upsert = %d, want 9", got.Complexity)
	}
}

func TestGetNodeMissing(t *testing.T) {
	store := newTestStore(t)
	got, err := store.GetNode(context.Background(), "function:nope")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Fatalf("got %+v, want nil", got)
	}
}

// TestFindNodePrecedence verifies the id > qualified name > bare name
// probe order.
func TestFindNodePrecedence(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	// A node whose bare name collides with another node's id would be
	// pathological; the realistic collision is two nodes sharing a name.
	a := makeNode("function:aaa", "run", models.KindFunction, "a.py")
	a.QualifiedName = "a.run"
	b := makeNode("function:bbb", "run", models.KindFunction, "b.py")
	b.QualifiedName = "b.run"
	for _, n := range []models.Node{a, b} {
		if err := store.UpsertNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.FindNode(ctx, "function:bbb")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "function:bbb" {
		t.Errorf("id probe returned %+v, want function:bbb", got)
	}

	got, err = store.FindNode(ctx, "b.run")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "function:bbb" {
		t.Errorf("qualified name probe returned %+v, want function:bbb", got)
	}

	// Bare name is ambiguous; first match in id order wins.
	got, err = store.FindNode(ctx, "run")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || got.ID != "function:aaa" {
		t.Errorf("bare name probe returned %+v, want function:aaa", got)
	}

	got, err = store.FindNode(ctx, "ghost")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("unknown ref returned %+v, want nil", got)
	}
}

func TestListNodesFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	for _, n := range []models.Node{
		makeNode("function:a", "alpha", models.KindFunction, "a.py"),
		makeNode("function:b", "beta", models.KindFunction, "b.py"),
		makeNode("class:c", "Gamma", models.KindClass, "a.py"),
	} {
		if err := store.UpsertNode(ctx, n); err != nil {
			t.Fatal(err)
		}
	}

	cases := []struct {
		name   string
		filter NodeFilter
		want   int
	}{
		{"all", NodeFilter{}, 3},
		{"by kind", NodeFilter{Kind: "function"}, 2},
		{"by file", NodeFilter{FilePath: "a.py"}, 2},
		{"by kind and file", NodeFilter{Kind: "class", FilePath: "a.py"}, 1},
		{"by name", NodeFilter{Name: "beta"}, 1},
		{"no match", NodeFilter{Kind: "module"}, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			nodes, err := store.ListNodes(ctx, tc.filter)
			if err != nil {
				t.Fatal(err)
			}
			if len(nodes) != tc.want {
				t.Errorf("got %d nodes, want %d", len(nodes), tc.want)
			}
		})
	}
}

// TestApplyFilesCrossFileEdges applies a batch whose edges span two
// files; both must land because nodes are written before any edge.
func TestApplyFilesCrossFileEdges(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ApplyFiles(ctx, []ResolvedFile{
		{
			Path:  "a.py",
			Hash:  "ha",
			Nodes: []models.Node{makeNode("function:a", "a", models.KindFunction, "a.py")},
			Edges: []models.Edge{{SourceID: "function:a", TargetID: "function:b", Type: models.EdgeCalls}},
		},
		{
			Path:  "b.py",
			Hash:  "hb",
			Nodes: []models.Node{makeNode("function:b", "b", models.KindFunction, "b.py")},
		},
	})
	if err != nil {
		t.Fatal(err)
	}

	edges, err := store.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 1 {
		t.Fatalf("got %d edges, want 1", len(edges))
	}
}

// TestApplyFilesAtomic rolls the whole batch back when one edge violates
// a foreign key.
func TestApplyFilesAtomic(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ApplyFiles(ctx, []ResolvedFile{{
		Path:  "a.py",
		Hash:  "ha",
		Nodes: []models.Node{makeNode("function:a", "a", models.KindFunction, "a.py")},
		Edges: []models.Edge{{SourceID: "function:a", TargetID: "function:missing", Type: models.EdgeCalls}},
	}})
	if err == nil {
		t.Fatal("expected foreign key failure")
	}

	nodes, err := store.ListNodes(ctx, NodeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 0 {
		t.Errorf("got %d nodes after rollback, want 0", len(nodes))
	}
	if fh, _ := store.GetFileHash(ctx, "a.py"); fh != nil {
		t.Errorf("hash row survived rollback: %+v", fh)
	}
}

// TestApplyFilesPrunesRemovedNodes re-applies a file with a smaller node
// set; vanished nodes and their edges must go.
func TestApplyFilesPrunesRemovedNodes(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	apply := func(nodes []models.Node, edges []models.Edge) {
		t.Helper()
		if err := store.ApplyFiles(ctx, []ResolvedFile{{
			Path: "a.py", Hash: "h1", Nodes: nodes, Edges: edges,
		}}); err != nil {
			t.Fatal(err)
		}
	}

	a := makeNode("function:a", "a", models.KindFunction, "a.py")
	b := makeNode("function:b", "b", models.KindFunction, "a.py")
	apply([]models.Node{a, b}, []models.Edge{{SourceID: "function:a", TargetID: "function:b", Type: models.EdgeCalls}})

	// b disappears from the file.
	apply([]models.Node{a}, nil)

	nodes, err := store.ListNodes(ctx, NodeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(nodes) != 1 || nodes[0].ID != "function:a" {
		t.Errorf("nodes = %+v, want only function:a", nodes)
	}
	edges, err := store.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if len(edges) != 0 {
		t.Errorf("got %d edges, want 0 after cascade", len(edges))
	}
}

func TestFileHashesAndStaleFiles(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ApplyFiles(ctx, []ResolvedFile{
		{Path: "a.py", Hash: "h1", Nodes: []models.Node{makeNode("function:a", "a", models.KindFunction, "a.py")}},
		{Path: "b.py", Hash: "h2", Nodes: []models.Node{makeNode("function:b", "b", models.KindFunction, "b.py")}},
	})
	if err != nil {
		t.Fatal(err)
	}

	fh, err := store.GetFileHash(ctx, "a.py")
	if err != nil {
		t.Fatal(err)
	}
	if fh == nil || fh.Hash != "h1" {
		t.Fatalf("hash = %+v, want h1", fh)
	}

	stale, err := store.StaleFiles(ctx, map[string]string{
		"a.py": "h1",      // unchanged
		"b.py": "changed", // differs
		"c.py": "h3",      // unknown
	})
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"b.py", "c.py"}
	if len(stale) != len(want) || stale[0] != want[0] || stale[1] != want[1] {
		t.Errorf("stale = %v, want %v", stale, want)
	}
}

// TestSchemaVersionMismatch opens a store written under a newer schema
// version and expects a SchemaError without any table access.
func TestSchemaVersionMismatch(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Init(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.ExecContext(ctx, `UPDATE schema_meta SET version = 999`); err != nil {
		t.Fatal(err)
	}
	if err := store.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close() //nolint:errcheck // best-effort cleanup

	err = reopened.Init(ctx)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want SchemaError", err)
	}
	if se.Found != 999 || se.Want != schemaVersion {
		t.Errorf("SchemaError = %+v, want found 999 want %d", se, schemaVersion)
	}
}

// TestSchemaUnversionedRejected treats tables without a version marker
// as incompatible rather than guessing.
func TestSchemaUnversionedRejected(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.db")
	ctx := context.Background()

	store, err := NewSQLiteStore(path, 0)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := store.db.ExecContext(ctx, `CREATE TABLE nodes (id TEXT PRIMARY KEY)`); err != nil {
		t.Fatal(err)
	}

	err = store.Init(ctx)
	var se *SchemaError
	if !errors.As(err, &se) {
		t.Fatalf("got %v, want SchemaError", err)
	}
	if se.Found != 0 {
		t.Errorf("Found = %d, want 0", se.Found)
	}
	_ = store.Close()
}

// TestReaderSeesCommittedState checks snapshot behavior across two
// connections to the same database file: a reader mid-write sees the
// pre-transaction state, then the post-commit state, never a partial one.
func TestReaderSeesCommittedState(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "graph.db")
	ctx := context.Background()

	writer, err := NewSQLiteStore(path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer writer.Close() //nolint:errcheck // best-effort cleanup
	if err := writer.Init(ctx); err != nil {
		t.Fatal(err)
	}

	reader, err := NewSQLiteStore(path, time.Second)
	if err != nil {
		t.Fatal(err)
	}
	defer reader.Close() //nolint:errcheck // best-effort cleanup
	if err := reader.Init(ctx); err != nil {
		t.Fatal(err)
	}

	tx, err := writer.db.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO nodes (id, kind, name, file_path) VALUES ('function:x', 'function', 'x', 'x.py')
	`); err != nil {
		t.Fatal(err)
	}

	got, err := reader.GetNode(ctx, "function:x")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Error("reader observed an uncommitted row")
	}

	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}

	got, err = reader.GetNode(ctx, "function:x")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil {
		t.Error("reader did not observe the committed row")
	}
}

func TestEmbeddings(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	if err := store.UpsertNode(ctx, makeNode("function:a", "a", models.KindFunction, "a.py")); err != nil {
		t.Fatal(err)
	}

	vec := []byte{0x01, 0x02, 0x03}
	if err := store.SetEmbedding(ctx, "function:a", vec); err != nil {
		t.Fatal(err)
	}
	got, err := store.GetEmbedding(ctx, "function:a")
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 0x01 {
		t.Errorf("vector = %v, want %v", got, vec)
	}

	got, err = store.GetEmbedding(ctx, "function:none")
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("missing embedding = %v, want nil", got)
	}
}

func TestStats(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ApplyFiles(ctx, []ResolvedFile{{
		Path: "a.py",
		Hash: "h1",
		Nodes: []models.Node{
			makeNode("function:a", "a", models.KindFunction, "a.py"),
			makeNode("function:b", "b", models.KindFunction, "a.py"),
			makeNode("class:c", "C", models.KindClass, "a.py"),
		},
		Edges: []models.Edge{{SourceID: "function:a", TargetID: "function:b", Type: models.EdgeCalls}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	stats, err := store.Stats(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if stats.Nodes != 3 || stats.Edges != 1 || stats.Files != 1 {
		t.Errorf("stats = %+v, want 3 nodes 1 edge 1 file", stats)
	}
	if stats.NodesByKind["function"] != 2 || stats.NodesByKind["class"] != 1 {
		t.Errorf("by kind = %v", stats.NodesByKind)
	}
	if stats.EdgesByType["CALLS"] != 1 {
		t.Errorf("by type = %v", stats.EdgesByType)
	}
}

func TestScanLifecycle(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	id, err := store.RecordScan(ctx, Scan{
		SourcePath: "batch.json",
		StartedAt:  time.Now(),
		Status:     "running",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := store.UpdateScan(ctx, id, "completed", 10, 4); err != nil {
		t.Fatal(err)
	}

	scans, err := store.ListScans(ctx, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(scans) != 1 {
		t.Fatalf("got %d scans, want 1", len(scans))
	}
	sc := scans[0]
	if sc.Status != "completed" || sc.NodesFound != 10 || sc.EdgesFound != 4 {
		t.Errorf("scan = %+v", sc)
	}
	if sc.FinishedAt == nil {
		t.Error("FinishedAt not set")
	}
}

func TestBuildAdjacency(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	err := store.ApplyFiles(ctx, []ResolvedFile{{
		Path: "a.py",
		Hash: "h1",
		Nodes: []models.Node{
			makeNode("function:a", "a", models.KindFunction, "a.py"),
			makeNode("function:b", "b", models.KindFunction, "a.py"),
		},
		Edges: []models.Edge{{SourceID: "function:a", TargetID: "function:b", Type: models.EdgeCalls}},
	}})
	if err != nil {
		t.Fatal(err)
	}

	out, in, err := store.BuildAdjacency(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(out["function:a"]) != 1 || len(in["function:b"]) != 1 {
		t.Errorf("adjacency out=%v in=%v", out, in)
	}
}
