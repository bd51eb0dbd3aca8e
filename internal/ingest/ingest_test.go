package ingest

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/internal/notify"
)

func newTestIngester(t *testing.T) (*Ingester, graph.Store) {
	t.Helper()
	store, err := graph.NewSQLiteStore(":memory:", 0)
	if err != nil {
		t.Fatalf("opening store: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("initializing store: %v", err)
	}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(store, logger), store
}

func writeBatch(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("writing batch: %v", err)
	}
	return path
}

const jsonBatch = `{
  "language": "python",
  "files": [
    {
      "path": "app/main.py",
      "hash": "abc123",
      "nodes": [
        {"kind": "function", "name": "main", "qualified_name": "app.main.main", "complexity": 3, "lines": 20},
        {"kind": "function", "name": "parseArgs", "qualified_name": "app.main.parseArgs", "complexity": 7, "lines": 40}
      ],
      "references": [
        {"source_id": "app.main.main", "symbol": "parseArgs", "type": "CALLS"}
      ]
    }
  ]
}`

const yamlBatch = `
language: python
files:
  - path: app/util.py
    hash: def456
    nodes:
      - kind: function
        name: helper
        qualified_name: app.util.helper
        complexity: 2
        lines: 10
    references: []
`

func TestRunSyncJSON(t *testing.T) {
	in, store := newTestIngester(t)
	path := writeBatch(t, "batch.json", jsonBatch)

	res := in.RunSync(context.Background(), Request{Paths: []string{path}})
	if res.Error != nil {
		t.Fatalf("ingest: %v", res.Error)
	}
	if res.Files != 1 || res.Nodes != 2 || res.Edges != 1 || res.Gaps != 0 {
		t.Errorf("result = %+v, want 1 file, 2 nodes, 1 edge, 0 gaps", res)
	}

	stats, err := store.Stats(context.Background())
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.Nodes != 2 || stats.Edges != 1 {
		t.Errorf("stored %d nodes %d edges, want 2 and 1", stats.Nodes, stats.Edges)
	}

	scans, err := store.ListScans(context.Background(), 10)
	if err != nil {
		t.Fatalf("list scans: %v", err)
	}
	if len(scans) != 1 || scans[0].Status != "completed" {
		t.Errorf("scans = %+v, want one completed record", scans)
	}
}

func TestRunSyncYAML(t *testing.T) {
	in, _ := newTestIngester(t)
	path := writeBatch(t, "batch.yaml", yamlBatch)

	res := in.RunSync(context.Background(), Request{Paths: []string{path}})
	if res.Error != nil {
		t.Fatalf("ingest: %v", res.Error)
	}
	if res.Nodes != 1 {
		t.Errorf("nodes = %d, want 1", res.Nodes)
	}
}

// TestUnchangedFilesSkipped re-ingests the same batch and expects the
// second run to skip every file.
func TestUnchangedFilesSkipped(t *testing.T) {
	in, _ := newTestIngester(t)
	path := writeBatch(t, "batch.json", jsonBatch)

	first := in.RunSync(context.Background(), Request{Paths: []string{path}})
	if first.Error != nil {
		t.Fatalf("first ingest: %v", first.Error)
	}
	second := in.RunSync(context.Background(), Request{Paths: []string{path}})
	if second.Error != nil {
		t.Fatalf("second ingest: %v", second.Error)
	}
	if second.Files != 0 || second.Skipped != 1 {
		t.Errorf("second run = %+v, want 0 files, 1 skipped", second)
	}
}

func TestForceReingests(t *testing.T) {
	in, _ := newTestIngester(t)
	path := writeBatch(t, "batch.json", jsonBatch)

	in.RunSync(context.Background(), Request{Paths: []string{path}})
	res := in.RunSync(context.Background(), Request{Paths: []string{path}, Force: true})
	if res.Error != nil {
		t.Fatalf("forced ingest: %v", res.Error)
	}
	if res.Files != 1 || res.Skipped != 0 {
		t.Errorf("forced run = %+v, want 1 file, 0 skipped", res)
	}
}

func TestIngestFailureMarksScan(t *testing.T) {
	in, store := newTestIngester(t)
	path := writeBatch(t, "broken.json", `{not json`)

	res := in.RunSync(context.Background(), Request{Paths: []string{path}})
	if res.Error == nil {
		t.Fatal("expected decode error")
	}
	scans, err := store.ListScans(context.Background(), 10)
	if err != nil {
		t.Fatalf("list scans: %v", err)
	}
	if len(scans) != 1 || scans[0].Status != "failed" {
		t.Errorf("scans = %+v, want one failed record", scans)
	}
}

// TestNotifierReceivesEvent attaches a webhook notifier and expects one
// event per finished run, carrying the run's outcome.
func TestNotifierReceivesEvent(t *testing.T) {
	var events []notify.Event
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var ev notify.Event
		_ = json.NewDecoder(r.Body).Decode(&ev)
		events = append(events, ev)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	in, _ := newTestIngester(t)
	in.SetNotifier(notify.NewWebhookNotifier(server.URL, nil))
	path := writeBatch(t, "batch.json", jsonBatch)

	res := in.RunSync(context.Background(), Request{Paths: []string{path}})
	if res.Error != nil {
		t.Fatalf("ingest: %v", res.Error)
	}

	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	ev := events[0]
	if ev.Status != "completed" || ev.ScanID != res.ScanID {
		t.Errorf("event = %+v, want completed scan %d", ev, res.ScanID)
	}
	if ev.Nodes != 2 || ev.Edges != 1 {
		t.Errorf("event counts = %d nodes %d edges, want 2/1", ev.Nodes, ev.Edges)
	}
}

// TestNotifierFailureIsNotFatal points the notifier at a dead endpoint;
// the run itself must still succeed.
func TestNotifierFailureIsNotFatal(t *testing.T) {
	in, _ := newTestIngester(t)
	in.SetNotifier(notify.NewWebhookNotifier("http://127.0.0.1:1/unreachable", nil))
	path := writeBatch(t, "batch.json", jsonBatch)

	res := in.RunSync(context.Background(), Request{Paths: []string{path}})
	if res.Error != nil {
		t.Fatalf("ingest failed on notifier error: %v", res.Error)
	}
}

func TestLoadBatchUnsupported(t *testing.T) {
	path := writeBatch(t, "batch.txt", "whatever")
	if _, err := LoadBatch(path); err == nil {
		t.Fatal("expected unsupported format error")
	}
}

func TestDiscoverBatches(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{"a.json", "b.yaml", "c.txt"} {
		if err := os.WriteFile(filepath.Join(dir, name), []byte("{}"), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	if err := os.MkdirAll(filepath.Join(dir, "sub"), 0o750); err != nil {
		t.Fatalf("mkdir: %v", err)
	}

	paths, err := DiscoverBatches([]string{dir})
	if err != nil {
		t.Fatalf("discover: %v", err)
	}
	if len(paths) != 2 {
		t.Errorf("got %d paths, want 2: %v", len(paths), paths)
	}
}
