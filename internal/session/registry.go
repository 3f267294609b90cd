package session

import (
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Registry is the concurrent map batchId -> Batch (C5).
type Registry struct {
	ttl time.Duration

	mu      sync.Mutex
	batches map[string]*Batch
}

// NewRegistry constructs an empty Registry with the given per-batch TTL.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		ttl:     ttl,
		batches: make(map[string]*Batch),
	}
}

// NewBatch mints a v4 UUID, creates a Batch with status Pending, inserts it,
// and returns it.
func (r *Registry) NewBatch(totalTasks int) *Batch {
	b := newBatch(uuid.NewString(), totalTasks)
	r.mu.Lock()
	r.batches[b.ID] = b
	r.mu.Unlock()
	return b
}

// Get returns the batch with the given id, if present.
func (r *Registry) Get(id string) (*Batch, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	b, ok := r.batches[id]
	return b, ok
}

// HasActive returns true if any batch's status is Running or Extracting.
// This is an advisory check per §5: admission at the submission handler
// should still guard the hasActive -> newBatch -> spawn sequence with its
// own mutex to avoid the race the spec explicitly calls out.
func (r *Registry) HasActive() bool {
	r.mu.Lock()
	snapshot := make([]*Batch, 0, len(r.batches))
	for _, b := range r.batches {
		snapshot = append(snapshot, b)
	}
	r.mu.Unlock()

	for _, b := range snapshot {
		switch b.Status() {
		case StatusRunning, StatusExtracting:
			return true
		}
	}
	return false
}

// List returns a snapshot of every tracked batch's BatchResult, most
// recently created first.
func (r *Registry) List() []BatchResult {
	r.mu.Lock()
	snapshot := make([]*Batch, 0, len(r.batches))
	for _, b := range r.batches {
		snapshot = append(snapshot, b)
	}
	r.mu.Unlock()

	sort.Slice(snapshot, func(i, j int) bool { return snapshot[i].CreatedAt.After(snapshot[j].CreatedAt) })

	out := make([]BatchResult, 0, len(snapshot))
	for _, b := range snapshot {
		out = append(out, b.Snapshot())
	}
	return out
}

// ReapLoop runs until done is closed, cancelling and evicting batches older
// than the configured TTL every interval (default 60s per §4.5).
func (r *Registry) ReapLoop(done <-chan struct{}, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			r.reapOnce()
		}
	}
}

func (r *Registry) reapOnce() {
	cutoff := time.Now().Add(-r.ttl)

	r.mu.Lock()
	var expired []*Batch
	for id, b := range r.batches {
		if b.CreatedAt.Before(cutoff) {
			expired = append(expired, b)
			delete(r.batches, id)
		}
	}
	r.mu.Unlock()

	for _, b := range expired {
		b.Cancel()
		b.Events.Close()
	}
}
