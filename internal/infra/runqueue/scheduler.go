// Package runqueue implements the priority-aware run scheduler (C12): an
// in-memory bounded queue or a durable SQLite-backed queue, consumed by a
// configurable number of workers, with crash-recovery re-enqueue of any run
// left "running" at restart.
//
// The worker-pool-over-a-pluggable-backend shape is adapted from the
// teacher's internal/infra/scheduler.Scheduler (priority heap + fixed
// worker goroutines draining via a condition variable); here the backend
// is pluggable (memory vs. durable sqlite) because the durable backend's
// claim is a polled SQL statement rather than an in-process wakeup.
package runqueue

import (
	"context"
	"log"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

// Backend is the pluggable run-queue storage: MemoryBackend (volatile,
// bounded) or SQLiteBackend (durable, survives restart).
type Backend interface {
	Enqueue(run domain.AgentRun) (runID string, existed bool, err error)
	Claim() (*domain.AgentRun, error)
	Complete(runID string, status domain.RunStatus, result map[string]any, errMsg string) error
	Get(runID string) (*domain.AgentRun, error)
	List(limit int) ([]domain.AgentRun, error)
	ReenqueueOrphaned() (int, error)
}

// Handler executes one claimed run, returning its result payload.
type Handler func(ctx context.Context, run domain.AgentRun) (map[string]any, error)

// Config bounds scheduler behavior.
type Config struct {
	Workers      int
	PollInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{Workers: 4, PollInterval: 200 * time.Millisecond}
}

// Scheduler is the RunScheduler orchestrator (C12): submission plus a
// worker pool that claims and executes runs against a pluggable Backend.
type Scheduler struct {
	backend Backend
	handler Handler
	cfg     Config
	bus     domain.EventPublisher
	metrics domain.MetricsSink
}

// New constructs a Scheduler.
func New(backend Backend, handler Handler, cfg Config, bus domain.EventPublisher, metrics domain.MetricsSink) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = DefaultConfig().Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig().PollInterval
	}
	return &Scheduler{backend: backend, handler: handler, cfg: cfg, bus: bus, metrics: metrics}
}

// Submit persists run and enqueues it. A repeat submission carrying an
// already-seen idempotency key returns the original run id with existed=true
// and does not enqueue a duplicate.
func (s *Scheduler) Submit(run domain.AgentRun) (id string, existed bool, err error) {
	return s.backend.Enqueue(run)
}

// Get returns the run record for runID.
func (s *Scheduler) Get(runID string) (*domain.AgentRun, error) {
	return s.backend.Get(runID)
}

// List returns up to limit runs.
func (s *Scheduler) List(limit int) ([]domain.AgentRun, error) {
	return s.backend.List(limit)
}

// Run recovers any orphaned "running" rows, then blocks running cfg.Workers
// worker goroutines until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	if n, err := s.backend.ReenqueueOrphaned(); err != nil {
		log.Printf("[runqueue] reenqueue orphaned runs: %v", err)
	} else if n > 0 {
		log.Printf("[runqueue] re-enqueued %d orphaned run(s) from a prior crash", n)
	}

	done := make(chan struct{})
	for i := 0; i < s.cfg.Workers; i++ {
		go s.worker(ctx, done)
	}
	for i := 0; i < s.cfg.Workers; i++ {
		<-done
	}
	return ctx.Err()
}

func (s *Scheduler) worker(ctx context.Context, done chan<- struct{}) {
	defer func() { done <- struct{}{} }()

	ticker := time.NewTicker(s.cfg.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.claimAndRun(ctx)
		}
	}
}

func (s *Scheduler) claimAndRun(ctx context.Context) {
	run, err := s.backend.Claim()
	if err != nil {
		log.Printf("[runqueue] claim: %v", err)
		return
	}
	if run == nil {
		return
	}

	s.publish("agent_run_started", run.ID)
	result, err := s.handler(ctx, *run)
	if err != nil {
		if cerr := s.backend.Complete(run.ID, domain.RunFailed, nil, err.Error()); cerr != nil {
			log.Printf("[runqueue] complete(failed) %s: %v", run.ID, cerr)
		}
		s.publish("agent_run_failed", run.ID)
		if s.metrics != nil {
			s.metrics.IncAgentRun(string(domain.RunFailed))
		}
		return
	}

	if cerr := s.backend.Complete(run.ID, domain.RunCompleted, result, ""); cerr != nil {
		log.Printf("[runqueue] complete(ok) %s: %v", run.ID, cerr)
	}
	s.publish("agent_run_completed", run.ID)
	if s.metrics != nil {
		s.metrics.IncAgentRun(string(domain.RunCompleted))
	}
}

func (s *Scheduler) publish(eventType, runID string) {
	if s.bus != nil {
		s.bus.Publish(eventType, map[string]any{"run_id": runID})
	}
}
