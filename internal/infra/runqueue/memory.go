package runqueue

import (
	"sort"
	"sync"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

// MemoryBackend is the bounded in-memory RunScheduler backend (C12). It is
// lost on restart — callers needing durability across process restarts
// should use the sqlite-backed Backend instead.
type MemoryBackend struct {
	mu       sync.Mutex
	capacity int
	queued   []domain.AgentRun // priority-ordered, FIFO within a priority class
	byID     map[string]*domain.AgentRun
	idemKeys map[string]string // idempotency key -> run id
}

// NewMemoryBackend constructs a MemoryBackend with the given bounded
// capacity for queued (not yet claimed) runs.
func NewMemoryBackend(capacity int) *MemoryBackend {
	if capacity <= 0 {
		capacity = 1000
	}
	return &MemoryBackend{
		capacity: capacity,
		byID:     make(map[string]*domain.AgentRun),
		idemKeys: make(map[string]string),
	}
}

// Enqueue inserts run into the priority-ordered queue, deduplicating by
// idempotency key. Returns domain.QueueFullError if the queue is at
// capacity.
func (b *MemoryBackend) Enqueue(run domain.AgentRun) (string, bool, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if run.IdempotencyKey != "" {
		if existingID, ok := b.idemKeys[run.IdempotencyKey]; ok {
			return existingID, true, nil
		}
	}

	if len(b.queued) >= b.capacity {
		return "", false, &domain.QueueFullError{Size: len(b.queued), Capacity: b.capacity}
	}

	run.Status = domain.RunQueued
	stored := run
	b.byID[run.ID] = &stored
	if run.IdempotencyKey != "" {
		b.idemKeys[run.IdempotencyKey] = run.ID
	}

	b.queued = append(b.queued, stored)
	sort.SliceStable(b.queued, func(i, j int) bool {
		if b.queued[i].Priority.Weight() != b.queued[j].Priority.Weight() {
			return b.queued[i].Priority.Weight() < b.queued[j].Priority.Weight()
		}
		return b.queued[i].CreatedAt.Before(b.queued[j].CreatedAt)
	})
	return run.ID, false, nil
}

// Claim pops the highest-priority, earliest-enqueued run and marks it
// running. Returns nil, nil if the queue is empty.
func (b *MemoryBackend) Claim() (*domain.AgentRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.queued) == 0 {
		return nil, nil
	}
	run := b.queued[0]
	b.queued = b.queued[1:]

	run.Status = domain.RunRunning
	run.UpdatedAt = time.Now()
	stored := b.byID[run.ID]
	stored.Status = run.Status
	stored.UpdatedAt = run.UpdatedAt

	out := *stored
	return &out, nil
}

// Complete records a terminal (or otherwise updated) status for runID.
func (b *MemoryBackend) Complete(runID string, status domain.RunStatus, result map[string]any, errMsg string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	run, ok := b.byID[runID]
	if !ok {
		return domain.ErrRunNotFound
	}
	run.Status = status
	run.Result = result
	run.Error = errMsg
	run.UpdatedAt = time.Now()
	return nil
}

// Get returns a copy of the run record for runID.
func (b *MemoryBackend) Get(runID string) (*domain.AgentRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	run, ok := b.byID[runID]
	if !ok {
		return nil, domain.ErrRunNotFound
	}
	out := *run
	return &out, nil
}

// List returns up to limit runs, most-recently-updated first.
func (b *MemoryBackend) List(limit int) ([]domain.AgentRun, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([]domain.AgentRun, 0, len(b.byID))
	for _, run := range b.byID {
		out = append(out, *run)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].UpdatedAt.After(out[j].UpdatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ReenqueueOrphaned is a no-op for the in-memory backend: a process crash
// loses the in-memory queue entirely, so there is nothing left to recover.
func (b *MemoryBackend) ReenqueueOrphaned() (int, error) { return 0, nil }
