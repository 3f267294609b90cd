package server

import (
	"net/http"
	"strings"
	"time"
)

// handleStatus reports the aggregate counters a validator operator polls to
// judge daemon health beyond the bare liveness of /health.
func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"uptimeSeconds":    int64(time.Since(s.startedAt).Seconds()),
		"whitelistSize":    s.whitelist.Size(),
		"pendingConsensus": s.gate.Len(),
		"activeBatch":      s.registry.HasActive(),
		"batchesTracked":   len(s.registry.List()),
		"submissionsTotal": s.metrics.submissionsTotal.Load(),
	})
}

// handleBatches lists every tracked batch's summary (§6 GET /batches).
func (s *Server) handleBatches(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"batches": s.registry.List()})
}

// handleBatchByID dispatches the three path-parameterized batch read
// endpoints: /batch/{id}, /batch/{id}/tasks, /batch/{id}/task/{taskId}.
func (s *Server) handleBatchByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/batch/")
	parts := strings.Split(strings.Trim(rest, "/"), "/")
	if len(parts) == 0 || parts[0] == "" {
		http.NotFound(w, r)
		return
	}

	batch, ok := s.registry.Get(parts[0])
	if !ok {
		writeError(w, http.StatusNotFound, "not_found", "batch not found")
		return
	}

	switch {
	case len(parts) == 1:
		writeJSON(w, http.StatusOK, batch.Snapshot())

	case len(parts) == 2 && parts[1] == "tasks":
		writeJSON(w, http.StatusOK, map[string]any{"tasks": batch.Snapshot().Tasks})

	case len(parts) == 3 && parts[1] == "task":
		tr, ok := batch.TaskSnapshot(parts[2])
		if !ok {
			writeError(w, http.StatusNotFound, "not_found", "task not found")
			return
		}
		writeJSON(w, http.StatusOK, tr)

	default:
		http.NotFound(w, r)
	}
}
