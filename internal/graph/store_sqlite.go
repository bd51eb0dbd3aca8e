package graph

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/codegraphhq/codegraph/pkg/models"
	_ "modernc.org/sqlite"
)

// schemaVersion is bumped whenever the table layout changes. Stores
// written under a different version are rejected at open time.
const schemaVersion = 1

const schema = `
CREATE TABLE IF NOT EXISTS schema_meta (
    version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS nodes (
    id             TEXT PRIMARY KEY,
    kind           TEXT NOT NULL,
    name           TEXT NOT NULL,
    qualified_name TEXT,
    file_path      TEXT NOT NULL,
    start_line     INTEGER DEFAULT 0,
    end_line       INTEGER DEFAULT 0,
    language       TEXT,
    complexity     INTEGER DEFAULT 0,
    lines          INTEGER DEFAULT 0
);

CREATE TABLE IF NOT EXISTS edges (
    source_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    target_id TEXT NOT NULL REFERENCES nodes(id) ON DELETE CASCADE,
    type      TEXT NOT NULL,
    PRIMARY KEY (source_id, target_id, type)
);

CREATE TABLE IF NOT EXISTS file_hashes (
    file_path         TEXT PRIMARY KEY,
    content_hash      TEXT NOT NULL,
    last_processed_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
    node_id    TEXT PRIMARY KEY REFERENCES nodes(id) ON DELETE CASCADE,
    vector     BLOB NOT NULL,
    updated_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS scans (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    source_path TEXT NOT NULL,
    started_at  DATETIME NOT NULL,
    finished_at DATETIME,
    nodes_found INTEGER DEFAULT 0,
    edges_found INTEGER DEFAULT 0,
    status      TEXT DEFAULT 'running'
);

CREATE INDEX IF NOT EXISTS idx_nodes_kind ON nodes(kind);
CREATE INDEX IF NOT EXISTS idx_nodes_name ON nodes(name);
CREATE INDEX IF NOT EXISTS idx_nodes_qname ON nodes(qualified_name) WHERE qualified_name IS NOT NULL;
CREATE INDEX IF NOT EXISTS idx_nodes_file ON nodes(file_path);
CREATE INDEX IF NOT EXISTS idx_edges_source ON edges(source_id);
CREATE INDEX IF NOT EXISTS idx_edges_target ON edges(target_id);
CREATE INDEX IF NOT EXISTS idx_edges_type ON edges(type);
`

// SQLiteStore implements Store using SQLite in WAL mode, so a single
// writer process and any number of reader processes can share the file.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) a SQLite-backed store. busyTimeout
// bounds how long a writer waits on a lock before SQLITE_BUSY surfaces.
func NewSQLiteStore(dbPath string, busyTimeout time.Duration) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	dsn := fmt.Sprintf("%s?_pragma=foreign_keys(1)&_pragma=journal_mode(wal)&_pragma=busy_timeout(%d)",
		dbPath, busyTimeout.Milliseconds())
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}

	return &SQLiteStore{db: db, path: dbPath}, nil
}

// Init checks the schema version marker before touching any other table,
// and creates the schema on a fresh store. A mismatched or unversioned
// layout fails with a SchemaError; nothing else is read from such a store.
func (s *SQLiteStore) Init(ctx context.Context) error {
	hasMeta, err := s.tableExists(ctx, "schema_meta")
	if err != nil {
		return err
	}

	if hasMeta {
		var found int
		if err := s.db.QueryRowContext(ctx, `SELECT version FROM schema_meta LIMIT 1`).Scan(&found); err != nil {
			return fmt.Errorf("reading schema version: %w", err)
		}
		if found != schemaVersion {
			return &SchemaError{Path: s.path, Found: found, Want: schemaVersion}
		}
		return nil
	}

	hasNodes, err := s.tableExists(ctx, "nodes")
	if err != nil {
		return err
	}
	if hasNodes {
		// Tables without a version marker predate versioning entirely.
		return &SchemaError{Path: s.path, Found: 0, Want: schemaVersion}
	}

	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return wrapConflict("creating schema", err)
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO schema_meta (version) VALUES (?)`, schemaVersion)
	return wrapConflict("writing schema version", err)
}

func (s *SQLiteStore) tableExists(ctx context.Context, name string) (bool, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("inspecting schema: %w", err)
	}
	return n > 0, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Path returns the on-disk location of the store.
func (s *SQLiteStore) Path() string {
	return s.path
}

const nodeColumns = `id, kind, name, qualified_name, file_path, start_line, end_line, language, complexity, lines`

// UpsertNode inserts or updates a node by canonical id.
func (s *SQLiteStore) UpsertNode(ctx context.Context, node models.Node) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO nodes (`+nodeColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			kind = excluded.kind,
			name = excluded.name,
			qualified_name = excluded.qualified_name,
			file_path = excluded.file_path,
			start_line = excluded.start_line,
			end_line = excluded.end_line,
			language = excluded.language,
			complexity = excluded.complexity,
			lines = excluded.lines
	`, node.ID, string(node.Kind), node.Name, nullString(node.QualifiedName), node.FilePath,
		node.StartLine, node.EndLine, nullString(node.Language), node.Complexity, node.Lines)
	return wrapConflict("upserting node", err)
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func scanNode(row interface{ Scan(dest ...any) error }) (*models.Node, error) {
	var n models.Node
	var qname, language sql.NullString

	err := row.Scan(&n.ID, &n.Kind, &n.Name, &qname, &n.FilePath,
		&n.StartLine, &n.EndLine, &language, &n.Complexity, &n.Lines)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}

	n.QualifiedName = qname.String
	n.Language = language.String
	return &n, nil
}

// GetNode retrieves a single node by canonical id.
func (s *SQLiteStore) GetNode(ctx context.Context, id string) (*models.Node, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+nodeColumns+` FROM nodes WHERE id = ?`, id)
	return scanNode(row)
}

// FindNode resolves a node reference: exact canonical id, then qualified
// name, then bare name. Ambiguous name references resolve to the first
// match in id order; callers wanting precision pass qualified names.
func (s *SQLiteStore) FindNode(ctx context.Context, ref string) (*models.Node, error) {
	if n, err := s.GetNode(ctx, ref); err != nil || n != nil {
		return n, err
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE qualified_name = ? ORDER BY id LIMIT 1`, ref)
	if n, err := scanNode(row); err != nil || n != nil {
		return n, err
	}
	row = s.db.QueryRowContext(ctx,
		`SELECT `+nodeColumns+` FROM nodes WHERE name = ? ORDER BY id LIMIT 1`, ref)
	return scanNode(row)
}

// ListNodes returns nodes matching the given filter, ordered by kind
// then name for stable output.
func (s *SQLiteStore) ListNodes(ctx context.Context, filter NodeFilter) ([]models.Node, error) {
	query := `SELECT ` + nodeColumns + ` FROM nodes WHERE 1=1`
	var args []any

	if filter.Kind != "" {
		query += ` AND kind = ?`
		args = append(args, filter.Kind)
	}
	if filter.FilePath != "" {
		query += ` AND file_path = ?`
		args = append(args, filter.FilePath)
	}
	if filter.Language != "" {
		query += ` AND language = ?`
		args = append(args, filter.Language)
	}
	if filter.Name != "" {
		query += ` AND name = ?`
		args = append(args, filter.Name)
	}

	query += ` ORDER BY kind, name, id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var nodes []models.Node
	for rows.Next() {
		n, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, *n)
	}
	return nodes, rows.Err()
}

// ListEdges returns edges matching the given filter.
func (s *SQLiteStore) ListEdges(ctx context.Context, filter EdgeFilter) ([]models.Edge, error) {
	query := `SELECT source_id, target_id, type FROM edges WHERE 1=1`
	var args []any

	if filter.Type != "" {
		query += ` AND type = ?`
		args = append(args, filter.Type)
	}
	if filter.SourceID != "" {
		query += ` AND source_id = ?`
		args = append(args, filter.SourceID)
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}

	query += ` ORDER BY type, source_id, target_id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var edges []models.Edge
	for rows.Next() {
		var e models.Edge
		if err := rows.Scan(&e.SourceID, &e.TargetID, &e.Type); err != nil {
			return nil, err
		}
		edges = append(edges, e)
	}
	return edges, rows.Err()
}

// ApplyFiles replaces the node sets, outgoing edges, and hash rows of
// the given files inside one transaction. Nodes for every file land
// first so edges may cross file boundaries within the batch; if anything
// fails (including a foreign key on an edge target) the whole batch
// rolls back, and readers never observe a partially resolved batch.
func (s *SQLiteStore) ApplyFiles(ctx context.Context, files []ResolvedFile) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return wrapConflict("beginning batch", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	for _, f := range files {
		ids := make([]any, 0, len(f.Nodes))
		for _, n := range f.Nodes {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO nodes (`+nodeColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
				ON CONFLICT(id) DO UPDATE SET
					kind = excluded.kind,
					name = excluded.name,
					qualified_name = excluded.qualified_name,
					file_path = excluded.file_path,
					start_line = excluded.start_line,
					end_line = excluded.end_line,
					language = excluded.language,
					complexity = excluded.complexity,
					lines = excluded.lines
			`, n.ID, string(n.Kind), n.Name, nullString(n.QualifiedName), n.FilePath,
				n.StartLine, n.EndLine, nullString(n.Language), n.Complexity, n.Lines); err != nil {
				return wrapConflict("upserting node", err)
			}
			ids = append(ids, n.ID)
		}

		// Drop nodes that vanished from the file; their edges cascade.
		del := `DELETE FROM nodes WHERE file_path = ?`
		args := []any{f.Path}
		if len(ids) > 0 {
			del += ` AND id NOT IN (?` + strings.Repeat(",?", len(ids)-1) + `)`
			args = append(args, ids...)
		}
		if _, err := tx.ExecContext(ctx, del, args...); err != nil {
			return wrapConflict("pruning removed nodes", err)
		}
	}

	for _, f := range files {
		// Re-resolution rewrites each file's outgoing edges from scratch.
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM edges WHERE source_id IN (SELECT id FROM nodes WHERE file_path = ?)`, f.Path); err != nil {
			return wrapConflict("clearing stale edges", err)
		}

		for _, e := range f.Edges {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO edges (source_id, target_id, type) VALUES (?, ?, ?)
				ON CONFLICT(source_id, target_id, type) DO NOTHING
			`, e.SourceID, e.TargetID, string(e.Type)); err != nil {
				return wrapConflict("inserting edge", err)
			}
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO file_hashes (file_path, content_hash, last_processed_at)
			VALUES (?, ?, ?)
			ON CONFLICT(file_path) DO UPDATE SET
				content_hash = excluded.content_hash,
				last_processed_at = excluded.last_processed_at
		`, f.Path, f.Hash, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return wrapConflict("updating file hash", err)
		}
	}

	return wrapConflict("committing batch", tx.Commit())
}

// GetFileHash returns the stored hash row for a file, or nil.
func (s *SQLiteStore) GetFileHash(ctx context.Context, path string) (*models.FileHash, error) {
	var fh models.FileHash
	var processedAt string
	err := s.db.QueryRowContext(ctx,
		`SELECT file_path, content_hash, last_processed_at FROM file_hashes WHERE file_path = ?`, path).
		Scan(&fh.Path, &fh.Hash, &processedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	fh.ProcessedAt, _ = time.Parse(time.RFC3339, processedAt)
	return &fh, nil
}

// StaleFiles returns paths whose stored hash is missing or differs from
// the supplied map, in path order.
func (s *SQLiteStore) StaleFiles(ctx context.Context, current map[string]string) ([]string, error) {
	stored := make(map[string]string, len(current))
	rows, err := s.db.QueryContext(ctx, `SELECT file_path, content_hash FROM file_hashes`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	for rows.Next() {
		var p, h string
		if err := rows.Scan(&p, &h); err != nil {
			return nil, err
		}
		stored[p] = h
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	var stale []string
	for p, h := range current {
		if stored[p] != h {
			stale = append(stale, p)
		}
	}
	sort.Strings(stale)
	return stale, nil
}

// SetEmbedding stores the embedding vector for a node. Vector generation
// lives outside this core; the store only keeps the bytes.
func (s *SQLiteStore) SetEmbedding(ctx context.Context, nodeID string, vector []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO embeddings (node_id, vector, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			vector = excluded.vector,
			updated_at = excluded.updated_at
	`, nodeID, vector, time.Now().UTC().Format(time.RFC3339))
	return wrapConflict("storing embedding", err)
}

// GetEmbedding returns the stored embedding for a node, or nil.
func (s *SQLiteStore) GetEmbedding(ctx context.Context, nodeID string) ([]byte, error) {
	var vector []byte
	err := s.db.QueryRowContext(ctx, `SELECT vector FROM embeddings WHERE node_id = ?`, nodeID).Scan(&vector)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, err
	}
	return vector, nil
}

// Stats returns node/edge counts, total and by type.
func (s *SQLiteStore) Stats(ctx context.Context) (*Stats, error) {
	st := &Stats{
		NodesByKind: make(map[string]int),
		EdgesByType: make(map[string]int),
	}

	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM nodes`).Scan(&st.Nodes); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&st.Edges); err != nil {
		return nil, err
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM file_hashes`).Scan(&st.Files); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `SELECT kind, COUNT(*) FROM nodes GROUP BY kind ORDER BY kind`)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup
	for rows.Next() {
		var k string
		var c int
		if err := rows.Scan(&k, &c); err != nil {
			return nil, err
		}
		st.NodesByKind[k] = c
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	erows, err := s.db.QueryContext(ctx, `SELECT type, COUNT(*) FROM edges GROUP BY type ORDER BY type`)
	if err != nil {
		return nil, err
	}
	defer erows.Close() //nolint:errcheck // best-effort cleanup
	for erows.Next() {
		var t string
		var c int
		if err := erows.Scan(&t, &c); err != nil {
			return nil, err
		}
		st.EdgesByType[t] = c
	}
	return st, erows.Err()
}

// RecordScan inserts a new ingest run record and returns its ID.
func (s *SQLiteStore) RecordScan(ctx context.Context, scan Scan) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO scans (source_path, started_at, status) VALUES (?, ?, ?)
	`, scan.SourcePath, scan.StartedAt.Format(time.RFC3339), scan.Status)
	if err != nil {
		return 0, wrapConflict("recording scan", err)
	}
	return res.LastInsertId()
}

// UpdateScan updates an ingest run record with its final status and counts.
func (s *SQLiteStore) UpdateScan(ctx context.Context, id int64, status string, nodesFound, edgesFound int) error {
	now := time.Now().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		UPDATE scans SET status = ?, nodes_found = ?, edges_found = ?, finished_at = ? WHERE id = ?
	`, status, nodesFound, edgesFound, now, id)
	return wrapConflict("updating scan", err)
}

// ListScans returns the most recent ingest run records, up to limit.
func (s *SQLiteStore) ListScans(ctx context.Context, limit int) ([]Scan, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, source_path, started_at, finished_at, nodes_found, edges_found, status
		FROM scans ORDER BY id DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close() //nolint:errcheck // best-effort cleanup

	var scans []Scan
	for rows.Next() {
		var sc Scan
		var finishedAt sql.NullString
		var startedAt string
		if err := rows.Scan(&sc.ID, &sc.SourcePath, &startedAt, &finishedAt, &sc.NodesFound, &sc.EdgesFound, &sc.Status); err != nil {
			return nil, err
		}
		sc.StartedAt, _ = time.Parse(time.RFC3339, startedAt)
		if finishedAt.Valid {
			t, _ := time.Parse(time.RFC3339, finishedAt.String)
			sc.FinishedAt = &t
		}
		scans = append(scans, sc)
	}
	return scans, rows.Err()
}

// BuildAdjacency builds in-memory adjacency lists from all edges for
// traversal. outgoing is keyed by source, incoming by target.
func (s *SQLiteStore) BuildAdjacency(ctx context.Context) (outgoing, incoming map[string][]models.Edge, err error) {
	edges, err := s.ListEdges(ctx, EdgeFilter{})
	if err != nil {
		return nil, nil, err
	}

	outgoing = make(map[string][]models.Edge)
	incoming = make(map[string][]models.Edge)

	for _, e := range edges {
		outgoing[e.SourceID] = append(outgoing[e.SourceID], e)
		incoming[e.TargetID] = append(incoming[e.TargetID], e)
	}

	return outgoing, incoming, nil
}
