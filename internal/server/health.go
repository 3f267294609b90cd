package server

import (
	"net/http"
	"time"
)

// handleHealth is a pure liveness probe. Readiness — whether the whitelist
// has completed its first refresh — is reported separately by /status, per
// §4.1's cold-start contract living at the submission handler instead.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}
