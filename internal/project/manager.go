package project

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/codegraphhq/codegraph/internal/graph"
)

// DataDir is the per-project directory holding the graph database.
const DataDir = ".codegraph"

// DBFile is the database filename inside DataDir.
const DBFile = "graph.db"

// ErrNoProject is returned when no project root can be located above the
// starting directory.
var ErrNoProject = errors.New("no project found")

// Manager owns one open store handle per project root. Handles are
// opened on first use and kept until Close; there is deliberately no
// eviction, so long-lived processes hold one handle per project they
// have touched. Concurrent callers share the cached handle; cross-process
// coordination is left to the store's write-ahead log and busy timeout.
type Manager struct {
	mu          sync.Mutex
	stores      map[string]graph.Store
	busyTimeout time.Duration
	defaultRoot string
	logger      *slog.Logger
	closed      bool
}

// NewManager creates a Manager. busyTimeout bounds writer waits for every
// store it opens.
func NewManager(busyTimeout time.Duration, logger *slog.Logger) *Manager {
	return &Manager{
		stores:      make(map[string]graph.Store),
		busyTimeout: busyTimeout,
		logger:      logger,
	}
}

// SetDefaultRoot sets the project root OpenFrom falls back to when no
// project is found above the starting directory. The fallback applies
// only when root already holds a project database; an empty root
// disables it.
func (m *Manager) SetDefaultRoot(root string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultRoot = root
}

// Locate walks upward from startDir looking for a directory containing
// DataDir/DBFile and returns that directory as the project root.
func Locate(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", startDir, err)
	}
	for {
		marker := filepath.Join(dir, DataDir, DBFile)
		if info, err := os.Stat(marker); err == nil && !info.IsDir() {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w above %s", ErrNoProject, startDir)
		}
		dir = parent
	}
}

// Open returns the store for the given project root, opening and
// initializing it on first use. The root is canonicalized so different
// spellings of the same directory share one handle.
func (m *Manager) Open(ctx context.Context, root string) (graph.Store, error) {
	canonical, err := canonicalRoot(root)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil, errors.New("project manager is closed")
	}
	if store, ok := m.stores[canonical]; ok {
		return store, nil
	}

	dbPath := filepath.Join(canonical, DataDir, DBFile)
	store, err := graph.NewSQLiteStore(dbPath, m.busyTimeout)
	if err != nil {
		return nil, fmt.Errorf("opening project %s: %w", canonical, err)
	}
	if err := store.Init(ctx); err != nil {
		store.Close() //nolint:errcheck // init failure is the error that matters
		return nil, err
	}

	m.stores[canonical] = store
	m.logger.Debug("project opened", "root", canonical)
	return store, nil
}

// OpenFrom locates the project root above startDir and opens its store.
// When the walk finds nothing and a default root is configured and
// initialized, that root is opened instead.
func (m *Manager) OpenFrom(ctx context.Context, startDir string) (graph.Store, string, error) {
	root, err := Locate(startDir)
	if err != nil {
		if !errors.Is(err, ErrNoProject) {
			return nil, "", err
		}
		fallback := m.fallbackRoot()
		if fallback == "" {
			return nil, "", err
		}
		root = fallback
	}
	store, err := m.Open(ctx, root)
	if err != nil {
		return nil, "", err
	}
	return store, root, nil
}

// fallbackRoot returns the configured default root if it holds a project
// database, "" otherwise.
func (m *Manager) fallbackRoot() string {
	m.mu.Lock()
	root := m.defaultRoot
	m.mu.Unlock()
	if root == "" {
		return ""
	}
	marker := filepath.Join(root, DataDir, DBFile)
	if info, err := os.Stat(marker); err != nil || info.IsDir() {
		return ""
	}
	return root
}

// Roots returns the canonical roots of all currently open projects.
func (m *Manager) Roots() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	roots := make([]string, 0, len(m.stores))
	for root := range m.stores {
		roots = append(roots, root)
	}
	return roots
}

// Close closes every open store. The manager accepts no further Opens.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true

	var firstErr error
	for root, store := range m.stores {
		if err := store.Close(); err != nil {
			m.logger.Warn("closing project store failed", "root", root, "error", err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	m.stores = nil
	return firstErr
}

// canonicalRoot resolves symlinks and relative segments so one directory
// maps to exactly one cache key.
func canonicalRoot(root string) (string, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolving %s: %w", root, err)
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		// The directory may not exist yet; fall back to the absolute path.
		if os.IsNotExist(err) {
			return abs, nil
		}
		return "", fmt.Errorf("resolving %s: %w", root, err)
	}
	return resolved, nil
}
