package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/internal/notify"
	"github.com/codegraphhq/codegraph/internal/resolve"
	"github.com/codegraphhq/codegraph/pkg/models"
)

// Request describes one ingest run over scan batch files.
type Request struct {
	Paths []string
	// Force ingests every file even when its stored content hash matches.
	Force bool
}

// Result is returned after an ingest run completes.
type Result struct {
	ScanID  int64
	Files   int
	Skipped int
	Nodes   int
	Edges   int
	Gaps    int
	Error   error
}

// Ingester loads scan batches, drops files whose content is unchanged,
// and feeds the rest through the resolution pipeline.
type Ingester struct {
	store    graph.Store
	pipeline *resolve.Pipeline
	logger   *slog.Logger
	notifier notify.Notifier
	mu       sync.Mutex
	running  map[int64]context.CancelFunc
}

// New creates an Ingester over the given store.
func New(store graph.Store, logger *slog.Logger) *Ingester {
	return &Ingester{
		store:    store,
		pipeline: resolve.NewPipeline(store, logger),
		logger:   logger,
		running:  make(map[int64]context.CancelFunc),
	}
}

// SetNotifier attaches a notifier that receives an event when an ingest
// run finishes. Notification failures are logged, never fatal.
func (in *Ingester) SetNotifier(n notify.Notifier) {
	in.notifier = n
}

// RunSync executes an ingest synchronously and returns the result.
func (in *Ingester) RunSync(ctx context.Context, req Request) Result {
	scanID, _ := in.store.RecordScan(ctx, graph.Scan{
		SourcePath: strings.Join(req.Paths, ", "),
		StartedAt:  time.Now(),
		Status:     "running",
	})

	res := in.execute(ctx, req)
	res.ScanID = scanID

	if res.Error != nil {
		_ = in.store.UpdateScan(ctx, scanID, "failed", 0, 0)
		in.sendNotification(ctx, scanID, req, res, "failed")
		return res
	}
	_ = in.store.UpdateScan(ctx, scanID, "completed", res.Nodes, res.Edges)
	in.sendNotification(ctx, scanID, req, res, "completed")
	return res
}

// RunAsync launches an ingest in a goroutine and returns the scan ID
// immediately. Progress lands in the scans table.
func (in *Ingester) RunAsync(ctx context.Context, req Request) (int64, error) {
	scanID, err := in.store.RecordScan(ctx, graph.Scan{
		SourcePath: strings.Join(req.Paths, ", "),
		StartedAt:  time.Now(),
		Status:     "running",
	})
	if err != nil {
		return 0, fmt.Errorf("recording scan: %w", err)
	}

	asyncCtx, cancel := context.WithCancel(context.Background())
	in.mu.Lock()
	in.running[scanID] = cancel
	in.mu.Unlock()

	go func() {
		defer cancel()
		defer func() {
			in.mu.Lock()
			delete(in.running, scanID)
			in.mu.Unlock()
		}()

		res := in.execute(asyncCtx, req)
		if res.Error != nil {
			in.logger.Error("async ingest failed", "scanID", scanID, "error", res.Error)
			_ = in.store.UpdateScan(asyncCtx, scanID, "failed", 0, 0)
			in.sendNotification(asyncCtx, scanID, req, res, "failed")
			return
		}
		_ = in.store.UpdateScan(asyncCtx, scanID, "completed", res.Nodes, res.Edges)
		in.logger.Info("async ingest completed",
			"scanID", scanID, "files", res.Files, "nodes", res.Nodes, "edges", res.Edges)
		in.sendNotification(asyncCtx, scanID, req, res, "completed")
	}()

	return scanID, nil
}

func (in *Ingester) sendNotification(ctx context.Context, scanID int64, req Request, res Result, status string) {
	if in.notifier == nil {
		return
	}
	message := "ingest completed"
	if res.Error != nil {
		message = res.Error.Error()
	}
	event := notify.Event{
		ScanID:    scanID,
		Source:    strings.Join(req.Paths, ", "),
		Status:    status,
		Files:     res.Files,
		Skipped:   res.Skipped,
		Nodes:     res.Nodes,
		Edges:     res.Edges,
		Gaps:      res.Gaps,
		Message:   message,
		Timestamp: time.Now(),
	}
	if err := in.notifier.Send(ctx, event); err != nil {
		in.logger.Warn("notification failed", "notifier", in.notifier.Name(), "scanID", scanID, "error", err)
	}
}

// IsRunning returns true if any ingest is currently in progress.
func (in *Ingester) IsRunning() bool {
	in.mu.Lock()
	defer in.mu.Unlock()
	return len(in.running) > 0
}

func (in *Ingester) execute(ctx context.Context, req Request) Result {
	var res Result
	for _, path := range req.Paths {
		batch, err := LoadBatch(path)
		if err != nil {
			res.Error = err
			return res
		}

		if !req.Force {
			kept, skipped, err := in.dropUnchanged(ctx, batch)
			if err != nil {
				res.Error = err
				return res
			}
			batch.Files = kept
			res.Skipped += skipped
		}
		if len(batch.Files) == 0 {
			in.logger.Debug("batch unchanged, skipping", "path", path)
			continue
		}

		out, err := in.pipeline.ResolveBatch(ctx, *batch)
		if err != nil {
			res.Error = fmt.Errorf("resolving %s: %w", path, err)
			return res
		}
		res.Files += out.Files
		res.Nodes += out.Nodes
		res.Edges += out.Edges
		res.Gaps += out.Gaps
	}
	return res
}

// dropUnchanged removes files whose stored content hash matches the
// batch, so re-ingesting an unchanged batch is cheap and idempotent.
func (in *Ingester) dropUnchanged(ctx context.Context, batch *models.ScanBatch) (kept []models.FileScan, skipped int, err error) {
	current := make(map[string]string, len(batch.Files))
	for _, f := range batch.Files {
		current[f.Path] = f.Hash
	}
	stale, err := in.store.StaleFiles(ctx, current)
	if err != nil {
		return nil, 0, fmt.Errorf("checking file hashes: %w", err)
	}
	staleSet := make(map[string]bool, len(stale))
	for _, p := range stale {
		staleSet[p] = true
	}

	for _, f := range batch.Files {
		if staleSet[f.Path] {
			kept = append(kept, f)
		} else {
			skipped++
		}
	}
	return kept, skipped, nil
}
