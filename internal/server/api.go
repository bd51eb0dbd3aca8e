package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/codegraphhq/codegraph/internal/engine"
	"github.com/codegraphhq/codegraph/internal/graph"
	"github.com/codegraphhq/codegraph/internal/ingest"
	"github.com/codegraphhq/codegraph/internal/query"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleQuery accepts a query string in either syntax, executes it, and
// returns the tabular or traversal result.
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Query string `json:"query"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Query == "" {
		writeError(w, http.StatusBadRequest, "query required")
		return
	}

	ast, err := query.Parse(req.Query)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	result, err := s.engine.Execute(r.Context(), ast)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// writeEngineError maps executor errors to status codes: missing targets
// are 404, writer conflicts 409, the rest 500.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrTargetNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case graph.IsConflict(err):
		writeError(w, http.StatusConflict, err.Error())
	default:
		s.logger.Error("executing query", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	nodes, err := s.store.ListNodes(ctx, graph.NodeFilter{})
	if err != nil {
		s.logger.Error("listing nodes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	edges, err := s.store.ListEdges(ctx, graph.EdgeFilter{})
	if err != nil {
		s.logger.Error("listing edges", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	writeJSON(w, http.StatusOK, graph.GraphData{Nodes: nodes, Edges: edges})
}

func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	filter := graph.NodeFilter{
		Kind:     r.URL.Query().Get("kind"),
		FilePath: r.URL.Query().Get("file"),
		Language: r.URL.Query().Get("language"),
		Name:     r.URL.Query().Get("name"),
	}

	nodes, err := s.store.ListNodes(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing nodes", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, nodes)
}

func (s *Server) handleNodeByID(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "node id required")
		return
	}

	node, err := s.store.FindNode(r.Context(), id)
	if err != nil {
		s.logger.Error("finding node", "id", id, "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	if node == nil {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

func (s *Server) handleEdges(w http.ResponseWriter, r *http.Request) {
	filter := graph.EdgeFilter{
		Type:     r.URL.Query().Get("type"),
		SourceID: r.URL.Query().Get("from"),
		TargetID: r.URL.Query().Get("to"),
	}

	edges, err := s.store.ListEdges(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing edges", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, edges)
}

// handleImpact is a convenience endpoint equivalent to `impact <target>`.
func (s *Server) handleImpact(w http.ResponseWriter, r *http.Request) {
	target := r.PathValue("target")
	if target == "" {
		writeError(w, http.StatusBadRequest, "target required")
		return
	}

	result, err := s.engine.Execute(r.Context(), &query.Query{
		Show: &query.ShowQuery{Kind: query.ShowImpact, Target: target, Depth: 1},
	})
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCycles(w http.ResponseWriter, r *http.Request) {
	cycles, err := s.engine.FindCycles(r.Context())
	if err != nil {
		s.logger.Error("finding cycles", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(cycles),
		"cycles": cycles,
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.Stats(r.Context())
	if err != nil {
		s.logger.Error("reading stats", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleScans(w http.ResponseWriter, r *http.Request) {
	limit := 20
	if l := r.URL.Query().Get("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 && parsed <= 500 {
			limit = parsed
		}
	}

	scans, err := s.store.ListScans(r.Context(), limit)
	if err != nil {
		s.logger.Error("listing scans", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, scans)
}

func (s *Server) handleIngestStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]bool{"running": s.ingester.IsRunning()})
}

// handleTriggerIngest starts an asynchronous ingest of the given batch
// files and returns the scan id.
func (s *Server) handleTriggerIngest(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Paths []string `json:"paths"`
		Force bool     `json:"force"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if len(req.Paths) == 0 {
		writeError(w, http.StatusBadRequest, "paths required")
		return
	}
	for _, p := range req.Paths {
		if !ingest.Supported(p) {
			writeError(w, http.StatusBadRequest, "unsupported batch file: "+p)
			return
		}
	}

	scanID, err := s.ingester.RunAsync(r.Context(), ingest.Request{Paths: req.Paths, Force: req.Force})
	if err != nil {
		s.logger.Error("starting ingest", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"scan_id": scanID})
}

func (s *Server) handleExportJSON(w http.ResponseWriter, r *http.Request) {
	out, err := graph.ExportJSON(r.Context(), s.store)
	if err != nil {
		s.logger.Error("exporting json", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleExportDOT(w http.ResponseWriter, r *http.Request) {
	out, err := graph.ExportDOT(r.Context(), s.store)
	if err != nil {
		s.logger.Error("exporting dot", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/vnd.graphviz")
	_, _ = w.Write([]byte(out))
}

func (s *Server) handleExportMermaid(w http.ResponseWriter, r *http.Request) {
	out, err := graph.ExportMermaid(r.Context(), s.store)
	if err != nil {
		s.logger.Error("exporting mermaid", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(out))
}
