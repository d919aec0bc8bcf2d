package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/abramin/kernelscan/internal/store"
)

// Server is the read-only report API.
type Server struct {
	store      *store.Store
	httpServer *http.Server
	port       int
}

// Config holds server configuration.
type Config struct {
	Port     int
	StoreDir string
	StoreDSN string
}

// New creates a new server instance.
func New(cfg Config) (*Server, error) {
	st, err := store.OpenDSN(cfg.StoreDir, cfg.StoreDSN)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	return newServer(st, cfg.Port), nil
}

func newServer(st *store.Store, port int) *Server {
	s := &Server{
		store: st,
		port:  port,
	}

	mux := http.NewServeMux()

	// API routes
	mux.HandleFunc("/api/runs", s.corsMiddleware(s.handleRuns))
	mux.HandleFunc("/api/runs/", s.corsMiddleware(s.handleRun))
	mux.HandleFunc("/api/stats", s.corsMiddleware(s.handleStats))

	// Health check
	mux.HandleFunc("/api/health", s.corsMiddleware(s.handleHealth))

	mux.HandleFunc("/", s.handleStatic)

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

// Start starts the server and blocks until ctx is done or the process is
// interrupted, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() {
		log.Printf("Server starting on http://localhost:%d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		s.store.Close()
		return fmt.Errorf("server error: %w", err)
	}
	log.Println("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}

	if err := s.store.Close(); err != nil {
		return fmt.Errorf("closing store: %w", err)
	}

	log.Println("Server stopped")
	return nil
}

// Port returns the configured port.
func (s *Server) Port() int {
	return s.port
}

// corsMiddleware adds CORS headers for local development.
func (s *Server) corsMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		if r.Method != http.MethodGet {
			writeError(w, http.StatusMethodNotAllowed, "method not allowed")
			return
		}

		next(w, r)
	}
}

// writeJSON writes a JSON response.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Error encoding JSON: %v", err)
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

// writeStoreError maps store errors to responses.
func writeStoreError(w http.ResponseWriter, err error, what string) {
	if errors.Is(err, store.ErrRunNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	log.Printf("Error loading %s: %v", what, err)
	writeError(w, http.StatusInternalServerError, "failed to load "+what)
}

// handleHealth returns server health status.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "store": s.store.Driver()})
}

// handleStats returns store statistics.
func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.GetStats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// handleRuns handles GET /api/runs?limit=n
func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		l, err := strconv.Atoi(limitStr)
		if err != nil || l < 0 {
			writeError(w, http.StatusBadRequest, "invalid limit")
			return
		}
		limit = l
	}

	runs, err := s.store.ListRuns(limit)
	if err != nil {
		writeStoreError(w, err, "runs")
		return
	}
	if runs == nil {
		runs = []store.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// handleRun handles everything under /api/runs/:id. The ID "latest" names
// the most recent run.
//
//	GET /api/runs/:id
//	GET /api/runs/:id/report
//	GET /api/runs/:id/kernels
//	GET /api/runs/:id/entrypoints
//	GET /api/runs/:id/classes?disposition=emit
//	GET /api/runs/:id/methods
//	GET /api/runs/:id/edges?status=unavailable
//	GET /api/runs/:id/diagnostics
//	GET /api/runs/:id/graph?root=<sig>&depth=n
func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	path := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/runs/"), "/")
	idStr, action, _ := strings.Cut(path, "/")
	if idStr == "" {
		writeError(w, http.StatusBadRequest, "missing run ID")
		return
	}

	run, err := s.lookupRun(idStr)
	if err != nil {
		writeStoreError(w, err, "run")
		return
	}
	id := run.ID
	q := r.URL.Query()

	var (
		body any
		what = action
	)
	switch action {
	case "":
		body, what = run, "run"
	case "report":
		body, err = s.store.Report(id)
	case "kernels":
		body, err = nonNil(s.store.Kernels(id))
	case "entrypoints":
		body, err = nonNil(s.store.Entrypoints(id))
	case "classes":
		body, err = nonNil(s.store.Classes(id, q.Get("disposition")))
	case "methods":
		body, err = nonNil(s.store.Methods(id))
	case "edges":
		body, err = nonNil(s.store.Edges(id, q.Get("status")))
	case "diagnostics":
		body, err = nonNil(s.store.Diagnostics(id))
	case "graph":
		s.handleGraph(w, r, id)
		return
	default:
		writeError(w, http.StatusNotFound, "unknown run resource")
		return
	}
	if err != nil {
		writeStoreError(w, err, what)
		return
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) lookupRun(id string) (*store.Run, error) {
	if id == "latest" {
		return s.store.LatestRun()
	}
	return s.store.GetRun(store.RunID(id))
}

// handleGraph returns the call graph below a root method. Without a root it
// starts from the first kernel entry point.
func (s *Server) handleGraph(w http.ResponseWriter, r *http.Request, id store.RunID) {
	q := r.URL.Query()
	filter := DefaultGraphFilter()
	filter.HidePlatform = q.Get("hide_platform") == "true"
	filter.HideUnavailable = q.Get("hide_unavailable") == "true"
	if noise := q.Get("noise"); noise != "" {
		filter.NoisePackages = strings.Split(noise, ",")
	}
	if stop := q.Get("stop_at"); stop != "" {
		filter.StopAtPackagePrefix = strings.Split(stop, ",")
	}

	depth := filter.MaxDepth
	if depthStr := q.Get("depth"); depthStr != "" {
		d, err := strconv.Atoi(depthStr)
		if err != nil || d < 1 {
			writeError(w, http.StatusBadRequest, "invalid depth")
			return
		}
		depth = d
	}

	root := q.Get("root")
	if root == "" {
		eps, err := s.store.Entrypoints(id)
		if err != nil {
			writeStoreError(w, err, "entrypoints")
			return
		}
		if len(eps) == 0 {
			writeError(w, http.StatusNotFound, "run has no entry points")
			return
		}
		root = eps[0].Method
	}

	gb, err := NewGraphBuilder(s.store, id, filter)
	if err != nil {
		writeStoreError(w, err, "graph")
		return
	}
	writeJSON(w, http.StatusOK, gb.BuildFromRoot(root, depth))
}

func nonNil[T any](v []T, err error) ([]T, error) {
	if v == nil {
		v = []T{}
	}
	return v, err
}

// handleStatic serves a small index of the API.
func (s *Server) handleStatic(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}
	html := `<!DOCTYPE html>
<html>
<head>
    <title>kernelscan</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
               max-width: 800px; margin: 50px auto; padding: 20px; }
        .api-list { background: #f5f5f5; padding: 20px; border-radius: 8px; }
        .api-list a { display: block; margin: 10px 0; color: #0066cc; }
        pre { background: #f0f0f0; padding: 10px; border-radius: 4px; overflow-x: auto; }
    </style>
</head>
<body>
    <h1>kernelscan report server</h1>
    <div class="api-list">
        <h3>Available Endpoints:</h3>
        <a href="/api/stats">GET /api/stats</a> - Store statistics
        <a href="/api/runs">GET /api/runs</a> - Recent runs
        <a href="/api/runs/latest">GET /api/runs/latest</a> - Latest run summary
        <a href="/api/runs/latest/classes?disposition=emit">GET /api/runs/latest/classes?disposition=emit</a> - Classes to generate
        <a href="/api/runs/latest/edges?status=unavailable">GET /api/runs/latest/edges?status=unavailable</a> - Calls that could not be followed
        <a href="/api/runs/latest/graph">GET /api/runs/latest/graph</a> - Call graph from the first kernel
        <a href="/api/health">GET /api/health</a> - Health check
    </div>
    <h3>Example Usage:</h3>
    <pre>
curl http://localhost:` + strconv.Itoa(s.port) + `/api/runs/latest/report
    </pre>
</body>
</html>`
	w.Header().Set("Content-Type", "text/html")
	w.Write([]byte(html))
}
