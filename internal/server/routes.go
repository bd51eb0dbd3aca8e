package server

import "net/http"

// RegisterRoutes registers all API routes on the given mux.
func RegisterRoutes(mux *http.ServeMux, s *Server) {
	mux.HandleFunc("GET /healthz", s.handleHealthz)
	mux.HandleFunc("POST /api/v1/query", s.handleQuery)
	mux.HandleFunc("GET /api/v1/graph", s.handleGraph)
	mux.HandleFunc("GET /api/v1/graph/nodes", s.handleNodes)
	mux.HandleFunc("GET /api/v1/graph/nodes/{id...}", s.handleNodeByID)
	mux.HandleFunc("GET /api/v1/graph/edges", s.handleEdges)
	mux.HandleFunc("GET /api/v1/impact/{target...}", s.handleImpact)
	mux.HandleFunc("GET /api/v1/cycles", s.handleCycles)
	mux.HandleFunc("GET /api/v1/stats", s.handleStats)
	mux.HandleFunc("GET /api/v1/scans", s.handleScans)
	mux.HandleFunc("GET /api/v1/ingest/status", s.handleIngestStatus)

	mux.HandleFunc("GET /api/v1/export/json", s.handleExportJSON)
	mux.HandleFunc("GET /api/v1/export/dot", s.handleExportDOT)
	mux.HandleFunc("GET /api/v1/export/mermaid", s.handleExportMermaid)

	if !s.readOnly {
		mux.HandleFunc("POST /api/v1/ingest", s.handleTriggerIngest)
	}
}
