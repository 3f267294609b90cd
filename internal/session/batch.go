package session

import (
	"context"
	"sync"
	"time"
)

// Batch is one execution of one uploaded archive (§3 data model). The
// mutable BatchResult fields are guarded by mu; readers take a brief lock
// to snapshot (§5 shared-resource policy).
type Batch struct {
	ID        string
	CreatedAt time.Time

	cancel context.CancelFunc
	ctx    context.Context

	Events *EventBus

	mu     sync.Mutex
	result BatchResult
	tasks  map[string]int // taskID -> index into result.Tasks
}

func newBatch(id string, totalTasks int) *Batch {
	ctx, cancel := context.WithCancel(context.Background())
	return &Batch{
		ID:        id,
		CreatedAt: time.Now(),
		cancel:    cancel,
		ctx:       ctx,
		Events:    NewEventBus(),
		result: BatchResult{
			ID:         id,
			CreatedAt:  time.Now(),
			Status:     StatusPending,
			TotalTasks: totalTasks,
		},
		tasks: make(map[string]int),
	}
}

// Context returns the batch's cancellation context; task workers should
// select on Done() at every pipeline checkpoint (§4.7.1, §5).
func (b *Batch) Context() context.Context { return b.ctx }

// Cancel trips the batch's one-writer-many-reader cancel signal.
func (b *Batch) Cancel() { b.cancel() }

// InitTasks seeds placeholder TaskResults (status Queued) for every task id
// in order, so /batch/{id}/tasks has a stable shape before any worker runs.
func (b *Batch) InitTasks(taskIDs []string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.Tasks = make([]TaskResult, len(taskIDs))
	for i, id := range taskIDs {
		b.result.Tasks[i] = TaskResult{TaskID: id, Status: TaskQueued}
		b.tasks[id] = i
	}
}

// SetStatus transitions the batch's overall status.
func (b *Batch) SetStatus(status BatchStatus) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.Status = status
}

// SetError records a fatal batch-level error and marks the batch Failed.
func (b *Batch) SetError(err string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.Status = StatusFailed
	b.result.Error = err
}

// UpdateTask merges a TaskResult update into the batch's task slice,
// ignoring backward status transitions (invariant §3.6).
func (b *Batch) UpdateTask(tr TaskResult) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.tasks[tr.TaskID]
	if !ok {
		return
	}
	current := b.result.Tasks[idx]
	if !CanAdvance(current.Status, tr.Status) {
		return
	}
	b.result.Tasks[idx] = tr
}

// FinalizeCounts recomputes completed/passed/failed/aggregateReward from
// the current task slice, per invariants §3.1 and §3.2.
func (b *Batch) FinalizeCounts() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var completed, passed, failed int
	var rewardSum float64
	for _, tr := range b.result.Tasks {
		switch tr.Status {
		case TaskCompleted, TaskFailed:
			completed++
			if tr.Passed {
				passed++
			} else {
				failed++
			}
			rewardSum += tr.Reward
		}
	}
	b.result.Completed = completed
	b.result.Passed = passed
	b.result.Failed = failed
	if b.result.TotalTasks > 0 {
		b.result.AggregateReward = rewardSum / float64(b.result.TotalTasks)
	} else {
		b.result.AggregateReward = 0.0
	}
}

// SetDuration records the batch's total wall-clock duration.
func (b *Batch) SetDuration(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.result.DurationMs = d.Milliseconds()
}

// Snapshot returns a copy of the current BatchResult.
func (b *Batch) Snapshot() BatchResult {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.result
	out.Tasks = append([]TaskResult(nil), b.result.Tasks...)
	return out
}

// Status returns the current BatchStatus without copying the whole result.
func (b *Batch) Status() BatchStatus {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.result.Status
}

// TaskSnapshot returns a copy of one task's current result, and whether it
// was found.
func (b *Batch) TaskSnapshot(taskID string) (TaskResult, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	idx, ok := b.tasks[taskID]
	if !ok {
		return TaskResult{}, false
	}
	return b.result.Tasks[idx], true
}
