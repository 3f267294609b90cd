package server

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"

	"github.com/basilica-network/term-executor/internal/archive"
	"github.com/basilica-network/term-executor/internal/auth"
	"github.com/basilica-network/term-executor/internal/consensus"
	"github.com/basilica-network/term-executor/internal/session"
)

// handleSubmit is the §4.8 choreographer: authenticate, cap and hash the
// upload, vote on the consensus gate, and on Reached admit a new batch.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.metrics.submissionsTotal.Add(1)

	triple, err := auth.ExtractAuthTriple(r.Header)
	if err != nil {
		s.rejectAuth(r.Context(), w, "", err)
		return
	}

	if s.whitelist.Size() == 0 {
		writeError(w, http.StatusServiceUnavailable, "whitelist_not_ready", "whitelist has not completed its first refresh")
		return
	}

	if err := s.authenticator.Verify(triple); err != nil {
		s.rejectAuth(r.Context(), w, triple.Hotkey, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxArchiveBytes)
	if err := r.ParseMultipartForm(1 << 20); err != nil {
		writeError(w, http.StatusBadRequest, "archive_too_large", "submission exceeds the configured size limit")
		return
	}
	defer func() {
		if r.MultipartForm != nil {
			_ = r.MultipartForm.RemoveAll()
		}
	}()

	data, err := readArchiveField(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "missing_archive", `multipart field "archive" or "file" is required`)
		return
	}

	if s.gate.IsAtCapacity() {
		writeError(w, http.StatusServiceUnavailable, "too_many_pending", "consensus gate is at capacity")
		return
	}

	sum := sha256.Sum256(data)
	hash := hex.EncodeToString(sum[:])

	total := s.whitelist.Size()
	required := s.cfg.RequiredVotes(total)
	concurrency := s.effectiveConcurrency(r)

	result := s.gate.Vote(hash, triple.Hotkey, data, concurrency, required, total)
	if s.audit != nil {
		_ = s.audit.RecordConsensus(r.Context(), triple.Hotkey, hash, consensusStatusLabel(result.Status), result.Votes, result.Required)
	}

	switch result.Status {
	case consensus.Pending, consensus.AlreadyVoted:
		s.metrics.consensusPendingTotal.Add(1)
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":   "pending_consensus",
			"hash":     hash,
			"votes":    result.Votes,
			"required": result.Required,
			"total":    result.Total,
		})
	case consensus.Reached:
		s.metrics.consensusReachedTotal.Add(1)
		s.admitReachedSubmission(w, result)
	}
}

// effectiveConcurrency clamps the optional concurrent_tasks query parameter
// to the configured ceiling (§4.8 step 8).
func (s *Server) effectiveConcurrency(r *http.Request) int {
	limit := s.cfg.MaxConcurrentTasks
	if q := r.URL.Query().Get("concurrent_tasks"); q != "" {
		if n, err := strconv.Atoi(q); err == nil && n > 0 && n < limit {
			return n
		}
	}
	return limit
}

// admitReachedSubmission runs the hasActive -> newBatch -> spawn sequence
// under submitMu, guarding the admission race §5 calls out explicitly.
func (s *Server) admitReachedSubmission(w http.ResponseWriter, result consensus.Result) {
	s.submitMu.Lock()
	defer s.submitMu.Unlock()

	if s.registry.HasActive() {
		writeError(w, http.StatusServiceUnavailable, "busy", "another batch is already running")
		return
	}

	workDir, err := os.MkdirTemp(s.cfg.WorkspaceBase, "archive-*")
	if err != nil {
		writeError(w, http.StatusBadRequest, "extraction_failed", fmt.Sprintf("could not create extraction directory: %v", err))
		return
	}
	defer os.RemoveAll(workDir)

	extracted, err := archive.Load(result.Payload, workDir)
	if err != nil {
		writeError(w, http.StatusBadRequest, "extraction_failed", err.Error())
		return
	}

	batch := s.registry.NewBatch(len(extracted.Tasks))
	// Mark the batch active synchronously, still holding submitMu, so the
	// next submission's HasActive() check (§5) cannot observe a gap between
	// this batch's admission and executor.Run actually starting it.
	batch.SetStatus(session.StatusExtracting)
	go s.executor.Run(batch, extracted, result.ConcurrentHint)

	writeJSON(w, http.StatusAccepted, map[string]any{
		"batchId":          batch.ID,
		"totalTasks":       len(extracted.Tasks),
		"concurrentTasks":  result.ConcurrentHint,
		"wsUrl":            "/ws?batch_id=" + batch.ID,
		"consensusReached": true,
		"votes":            result.Votes,
		"required":         result.Required,
	})
}

// readArchiveField reads either the "archive" or "file" multipart field,
// per §6's accepted field-name pair.
func readArchiveField(r *http.Request) ([]byte, error) {
	for _, field := range []string{"archive", "file"} {
		f, _, err := r.FormFile(field)
		if err != nil {
			continue
		}
		defer f.Close()
		return io.ReadAll(f)
	}
	return nil, errors.New("missing archive field")
}

// rejectAuth maps an auth error onto the 401 {error,message} shape and
// records it in the audit trail when configured.
func (s *Server) rejectAuth(ctx context.Context, w http.ResponseWriter, hotkey string, err error) {
	s.metrics.authFailuresTotal.Add(1)

	var ae *auth.AuthError
	code, message := "missing_auth", err.Error()
	if errors.As(err, &ae) {
		code, message = string(ae.Code), ae.Message
	}

	if s.audit != nil {
		_ = s.audit.RecordAuth(ctx, hotkey, code, message)
	}

	writeError(w, http.StatusUnauthorized, code, message)
}

func consensusStatusLabel(status consensus.Status) string {
	switch status {
	case consensus.Reached:
		return "reached"
	case consensus.AlreadyVoted:
		return "already_voted"
	default:
		return "pending"
	}
}
