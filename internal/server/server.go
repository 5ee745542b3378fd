package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/lazypower/curator/internal/engine"
	"github.com/lazypower/curator/internal/store"
)

// Server is the curator HTTP API server.
type Server struct {
	engine  *engine.Engine
	router  chi.Router
	version string
	dbPath  string
	started time.Time
}

// New creates a new Server over the given engine. dbPath is reported by
// the health endpoint.
func New(eng *engine.Engine, dbPath, version string) *Server {
	s := &Server{
		engine:  eng,
		version: version,
		dbPath:  dbPath,
		started: time.Now(),
	}
	s.routes()
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		// Ingestion and outcome reporting
		r.Post("/patterns", s.handleCreatePattern)
		r.Get("/patterns/top", s.handleTop)
		r.Get("/patterns/bottom", s.handleBottom)
		r.Get("/patterns/{id}", s.handleGetPattern)
		r.Get("/patterns/{id}/score", s.handleScore)
		r.Post("/patterns/{id}/outcome", s.handleOutcome)
		r.Put("/patterns/{id}/favorite", s.handleFavorite)
		r.Delete("/patterns/{id}/favorite", s.handleUnfavorite)

		// Scoring
		r.Get("/scores", s.handleScoreAll)
		r.Get("/scores/distribution", s.handleDistribution)

		// Merging
		r.Post("/merge", s.handleMerge)
		r.Post("/merge/group", s.handleMergeGroup)
		r.Get("/merges", s.handleMergeHistory)
		r.Get("/merges/stats", s.handleMergeStats)

		// Pruning and backups
		r.Get("/prune/candidates", s.handleCandidates)
		r.Post("/prune", s.handlePrune)
		r.Get("/backups", s.handleListBackups)
		r.Get("/backups/stats", s.handleBackupStats)
		r.Post("/backups/{id}/restore", s.handleRestore)

		r.Post("/maintenance", s.handleMaintenance)
	})

	s.router = r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dbOK := true
	if err := s.engine.Store.Ping(); err != nil {
		dbOK = false
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"version": s.version,
		"uptime":  time.Since(s.started).Seconds(),
		"db":      dbOK,
		"db_path": s.dbPath,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// writeEngineError maps engine and store errors to HTTP status codes.
func writeEngineError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, engine.ErrNotFound), errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, engine.ErrInvalidGroup), errors.Is(err, store.ErrInvalidPattern):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

// pathID parses the {id} URL parameter.
func pathID(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// queryLimit returns the positive limit query parameter, or def.
func queryLimit(r *http.Request, def int) int {
	if l := r.URL.Query().Get("limit"); l != "" {
		if n, err := strconv.Atoi(l); err == nil && n > 0 {
			return n
		}
	}
	return def
}

// queryApply reports whether apply=true was passed. Anything else is a dry run.
func queryApply(r *http.Request) bool {
	apply, _ := strconv.ParseBool(r.URL.Query().Get("apply"))
	return apply
}
