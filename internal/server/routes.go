package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lazypower/curator/internal/engine"
)

func (s *Server) handleCreatePattern(w http.ResponseWriter, r *http.Request) {
	var req struct {
		PatternText    string `json:"pattern_text"`
		CorrectionText string `json:"correction_text"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if strings.TrimSpace(req.PatternText) == "" {
		writeError(w, http.StatusBadRequest, "pattern_text required")
		return
	}

	p, err := s.engine.CreatePattern(req.PatternText, req.CorrectionText)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPattern(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	p, err := s.engine.GetPattern(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleScore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	b, err := s.engine.Score(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (s *Server) handleOutcome(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var req struct {
		Success *bool `json:"success"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if req.Success == nil {
		writeError(w, http.StatusBadRequest, "success required")
		return
	}

	if err := s.engine.RecordOutcome(id, *req.Success); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "id": id, "success": *req.Success})
}

func (s *Server) handleFavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.engine.Favorite(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "favorite": true})
}

func (s *Server) handleUnfavorite(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.engine.Unfavorite(id); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"id": id, "favorite": false})
}

func (s *Server) handleScoreAll(w http.ResponseWriter, r *http.Request) {
	sum, err := s.engine.ScoreAll()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sum)
}

func (s *Server) handleDistribution(w http.ResponseWriter, r *http.Request) {
	buckets, err := s.engine.Distribution()
	if err != nil {
		writeEngineError(w, err)
		return
	}

	type bucketJSON struct {
		Range string `json:"range"`
		Count int    `json:"count"`
	}
	out := make([]bucketJSON, len(buckets))
	for i, n := range buckets {
		out[i] = bucketJSON{Range: engine.BucketLabels[i], Count: n}
	}
	writeJSON(w, http.StatusOK, map[string]any{"buckets": out})
}

func (s *Server) handleTop(w http.ResponseWriter, r *http.Request) {
	ranked, err := s.engine.Top(queryLimit(r, 10))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": nonNil(ranked)})
}

func (s *Server) handleBottom(w http.ResponseWriter, r *http.Request) {
	ranked, err := s.engine.Bottom(queryLimit(r, 10))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"patterns": nonNil(ranked)})
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.MergeAllSimilar(queryApply(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleMergeGroup(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs []int64 `json:"ids"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json")
		return
	}
	rec, err := s.engine.MergeGroup(req.IDs)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) handleMergeHistory(w http.ResponseWriter, r *http.Request) {
	records, err := s.engine.MergeHistory(queryLimit(r, 10))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"merges": nonNil(records)})
}

func (s *Server) handleMergeStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.MergeStats()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	candidates, err := s.engine.Candidates()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"candidates": nonNil(candidates)})
}

func (s *Server) handlePrune(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Prune(queryApply(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleListBackups(w http.ResponseWriter, r *http.Request) {
	backups, err := s.engine.ListBackups(queryLimit(r, 20))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"backups": nonNil(backups)})
}

func (s *Server) handleBackupStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.engine.BackupStats()
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *Server) handleRestore(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid id")
		return
	}
	res, err := s.engine.Restore(id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	// A missing backup is reported in the body, not as an HTTP error.
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleMaintenance(w http.ResponseWriter, r *http.Request) {
	report, err := s.engine.Maintain(r.Context(), queryApply(r))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
