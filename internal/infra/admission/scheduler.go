// Package admission implements the admission scheduler (C9): three
// concurrency gates — global, per-client, per-model — acquired in order and
// released in reverse, plus the round-robin fairness policy across client
// queues required by §4.7/§8.
//
// The gate/queue shape is adapted from the teacher's
// internal/infra/scheduler.Scheduler (a priority task queue with a fixed
// worker pool); here the "workers" are concurrency permits rather than
// goroutines, and admission is a blocking acquire/release pair rather than
// a submit/execute callback, but the round-robin dispatch-on-release loop
// and the same table-wide mutex discipline are ported directly.
package admission

import (
	"context"
	"sync"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

// Config bounds admission behavior.
type Config struct {
	MaxConcurrentRequests      int
	PerClientDefaultConcurrency int
	PerModelConcurrencyLimits  map[string]int
	SemaphoreTimeout           time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		MaxConcurrentRequests:       64,
		PerClientDefaultConcurrency: 8,
		PerModelConcurrencyLimits:   map[string]int{},
		SemaphoreTimeout:            30 * time.Second,
	}
}

type waiter struct {
	clientID string
	modelID  string
	granted  chan error
}

// Scheduler enforces the three admission gates and the per-client
// round-robin fairness policy.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config

	globalInUse    int
	perClientInUse map[string]int
	perModelInUse  map[string]int

	clientQueues map[string][]*waiter
	clientOrder  []string // round-robin order of clients with pending waiters
	rrCursor     int
	waitingCount int

	metrics domain.MetricsSink
	closed  bool
}

// New constructs a Scheduler.
func New(cfg Config, metrics domain.MetricsSink) *Scheduler {
	if cfg.MaxConcurrentRequests <= 0 {
		cfg.MaxConcurrentRequests = DefaultConfig().MaxConcurrentRequests
	}
	if cfg.PerClientDefaultConcurrency <= 0 {
		cfg.PerClientDefaultConcurrency = DefaultConfig().PerClientDefaultConcurrency
	}
	if cfg.PerModelConcurrencyLimits == nil {
		cfg.PerModelConcurrencyLimits = map[string]int{}
	}
	if cfg.SemaphoreTimeout <= 0 {
		cfg.SemaphoreTimeout = DefaultConfig().SemaphoreTimeout
	}
	return &Scheduler{
		cfg:            cfg,
		perClientInUse: make(map[string]int),
		perModelInUse:  make(map[string]int),
		clientQueues:   make(map[string][]*waiter),
		metrics:        metrics,
	}
}

// Acquire blocks until all three gates (global, per-client, per-model) are
// held for (clientID, modelID), or until ctx is cancelled or the scheduler's
// semaphore timeout elapses, whichever comes first. On success it returns a
// release function that must be called exactly once, from any goroutine,
// to release the gates in reverse order. A cancelled or timed-out Acquire
// releases nothing (it never partially acquired) and increments no metric.
func (s *Scheduler) Acquire(ctx context.Context, clientID, modelID string) (func(), error) {
	if clientID == "" {
		clientID = "anonymous"
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil, domain.ErrAdmissionClosed
	}

	w := &waiter{clientID: clientID, modelID: modelID, granted: make(chan error, 1)}
	s.enqueueLocked(w)
	s.dispatchLocked()
	s.mu.Unlock()

	timeout := s.cfg.SemaphoreTimeout
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case err := <-w.granted:
		if err != nil {
			return nil, err
		}
		return func() { s.release(clientID, modelID) }, nil
	case <-ctx.Done():
		s.abandon(w)
		return nil, ctx.Err()
	case <-timer.C:
		s.abandon(w)
		return nil, domain.ErrAdmissionTimeout
	}
}

// enqueueLocked appends w to its client's queue, registering the client in
// the round-robin order if it wasn't already waiting. Caller holds s.mu.
func (s *Scheduler) enqueueLocked(w *waiter) {
	q, existed := s.clientQueues[w.clientID]
	s.clientQueues[w.clientID] = append(q, w)
	if !existed {
		s.clientOrder = append(s.clientOrder, w.clientID)
	}
	s.waitingCount++
	if s.metrics != nil {
		s.metrics.SetQueuedRequests(s.waitingCount)
	}
}

// dispatchLocked admits as many queued waiters as gate capacity allows,
// visiting clients in round-robin order so that no single client can starve
// the others: each full pass over clientOrder admits at most one waiter per
// client before cycling back. Caller holds s.mu.
func (s *Scheduler) dispatchLocked() {
	if len(s.clientOrder) == 0 {
		return
	}

	for attempts := 0; attempts < len(s.clientOrder); attempts++ {
		if len(s.clientOrder) == 0 {
			return
		}
		if s.globalInUse >= s.cfg.MaxConcurrentRequests {
			// Nobody can be admitted; leave the cursor on the client whose
			// turn is next.
			return
		}
		if s.rrCursor >= len(s.clientOrder) {
			s.rrCursor = 0
		}
		clientID := s.clientOrder[s.rrCursor]
		q := s.clientQueues[clientID]
		if len(q) == 0 {
			s.removeClientLocked(clientID)
			attempts = -1 // restart the pass against the shrunk order
			continue
		}

		w := q[0]
		if !s.tryAdmitLocked(w) {
			s.rrCursor++
			continue
		}

		s.clientQueues[clientID] = q[1:]
		s.waitingCount--
		if s.metrics != nil {
			s.metrics.SetQueuedRequests(s.waitingCount)
		}
		if len(s.clientQueues[clientID]) == 0 {
			s.removeClientLocked(clientID)
		} else {
			s.rrCursor++
		}
		w.granted <- nil
	}
}

func (s *Scheduler) removeClientLocked(clientID string) {
	delete(s.clientQueues, clientID)
	for i, id := range s.clientOrder {
		if id == clientID {
			s.clientOrder = append(s.clientOrder[:i], s.clientOrder[i+1:]...)
			break
		}
	}
	if s.rrCursor > len(s.clientOrder) {
		s.rrCursor = 0
	}
}

func (s *Scheduler) tryAdmitLocked(w *waiter) bool {
	if s.globalInUse >= s.cfg.MaxConcurrentRequests {
		return false
	}
	if s.perClientInUse[w.clientID] >= s.cfg.PerClientDefaultConcurrency {
		return false
	}
	if limit, ok := s.cfg.PerModelConcurrencyLimits[w.modelID]; ok && limit > 0 {
		if s.perModelInUse[w.modelID] >= limit {
			return false
		}
	}
	s.globalInUse++
	s.perClientInUse[w.clientID]++
	s.perModelInUse[w.modelID]++
	return true
}

// abandon removes w from its client's queue if it is still waiting there
// (it may have just been granted concurrently, in which case the grant
// wins and the gates it acquired are released normally via Release).
func (s *Scheduler) abandon(w *waiter) {
	s.mu.Lock()
	defer s.mu.Unlock()

	select {
	case err := <-w.granted:
		if err == nil {
			// Granted right as we gave up — release immediately so the
			// gates are not leaked.
			s.releaseLocked(w.clientID, w.modelID)
		}
		return
	default:
	}

	q := s.clientQueues[w.clientID]
	for i, qw := range q {
		if qw == w {
			s.clientQueues[w.clientID] = append(q[:i], q[i+1:]...)
			s.waitingCount--
			if s.metrics != nil {
				s.metrics.SetQueuedRequests(s.waitingCount)
			}
			if len(s.clientQueues[w.clientID]) == 0 {
				s.removeClientLocked(w.clientID)
			}
			break
		}
	}
}

func (s *Scheduler) release(clientID, modelID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.releaseLocked(clientID, modelID)
	s.dispatchLocked()
}

// releaseLocked releases gates in the reverse order they were acquired:
// per-model, then per-client, then global. Caller holds s.mu.
func (s *Scheduler) releaseLocked(clientID, modelID string) {
	if n := s.perModelInUse[modelID]; n > 0 {
		s.perModelInUse[modelID] = n - 1
	}
	if n := s.perClientInUse[clientID]; n > 0 {
		s.perClientInUse[clientID] = n - 1
	}
	if s.globalInUse > 0 {
		s.globalInUse--
	}
}

// WaitingCount returns the current number of queued (not yet admitted)
// requests, exposed as the waiting_queue_count gauge.
func (s *Scheduler) WaitingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.waitingCount
}

// Close marks the scheduler closed; subsequent Acquire calls fail
// immediately with domain.ErrAdmissionClosed. Waiters already blocked are
// left to their ctx/timeout path — Close does not forcibly wake them.
func (s *Scheduler) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}
