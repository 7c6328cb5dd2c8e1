// Package breaker implements the three-state circuit breaker used to gate
// requests to any remote endpoint (helper peers, backend health probes).
// It is adapted from the teacher's internal/infra/healing.CircuitBreaker,
// with one semantic change required by §4.2/§8: record_success performs a
// full, unconditional reset (rather than decaying the failure count by one)
// so that calling it on an already-closed, zero-failure breaker is
// trivially a no-op — this is also exactly what the original Python
// implementation does (helpers/circuit_breaker.py: record_success always
// sets failure_count = 0).
package breaker

import (
	"fmt"
	"sync"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

// State is the three-state circuit-breaker state machine, re-exported under
// a short local name for readability in this package.
type State = domain.CircuitState

// Config configures failure threshold and recovery timeout.
type Config struct {
	FailureThreshold int           // consecutive failures before opening
	ResetTimeout     time.Duration // time in open before probing half-open
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
	}
}

// Breaker is a single three-state circuit breaker instance. It is safe for
// concurrent use; state check/transition is atomic per instance.
type Breaker struct {
	mu     sync.Mutex
	name   string
	config Config

	state       State
	failures    int
	lastFailure time.Time

	now func() time.Time // injectable clock for tests
}

// New creates a named circuit breaker (name appears in error messages, e.g.
// the peer URL it gates).
func New(name string, cfg Config) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = DefaultConfig().FailureThreshold
	}
	if cfg.ResetTimeout <= 0 {
		cfg.ResetTimeout = DefaultConfig().ResetTimeout
	}
	return &Breaker{
		name:   name,
		config: cfg,
		state:  domain.CircuitClosed,
		now:    time.Now,
	}
}

// State returns the current state, lazily transitioning open -> half_open
// if the reset timeout has elapsed since the last failure. This is the only
// place that transition happens, per §4.2 ("evaluated whenever state is
// read").
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stateLocked()
}

func (b *Breaker) stateLocked() State {
	if b.state == domain.CircuitOpen && b.now().Sub(b.lastFailure) >= b.config.ResetTimeout {
		b.state = domain.CircuitHalfOpen
	}
	return b.state
}

// AllowsRequest reports whether a request may proceed: true iff state is
// not open.
func (b *Breaker) AllowsRequest() bool {
	return b.State() != domain.CircuitOpen
}

// Allow returns nil if a request may proceed, or a wrapped ErrCircuitOpen
// naming the breaker otherwise.
func (b *Breaker) Allow() error {
	if b.AllowsRequest() {
		return nil
	}
	return fmt.Errorf("%s: %w", b.name, domain.ErrCircuitOpen)
}

// RecordSuccess unconditionally resets the breaker to closed with zero
// failures, from any state. Calling it on an already-closed, zero-failure
// breaker is a no-op.
func (b *Breaker) RecordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.CircuitClosed
	b.failures = 0
}

// RecordFailure stamps the failure time and increments the consecutive
// failure count. A single failure while half_open re-opens immediately;
// in closed state, the breaker opens once failures reach the threshold.
func (b *Breaker) RecordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.lastFailure = b.now()
	b.failures++

	switch b.stateLocked() {
	case domain.CircuitHalfOpen:
		b.state = domain.CircuitOpen
	default:
		if b.failures >= b.config.FailureThreshold {
			b.state = domain.CircuitOpen
		}
	}
}

// Reset forces the breaker back to closed, clearing all counters.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.state = domain.CircuitClosed
	b.failures = 0
	b.lastFailure = time.Time{}
}

// Snapshot is a read-only view of breaker internals, useful for admin
// status endpoints.
type Snapshot struct {
	Name        string    `json:"name"`
	State       State     `json:"state"`
	Failures    int       `json:"failures"`
	LastFailure time.Time `json:"last_failure,omitempty"`
}

// Snapshot returns the current breaker state without mutating it (other
// than the lazy open->half_open transition State() itself performs).
func (b *Breaker) Snapshot() Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return Snapshot{
		Name:        b.name,
		State:       b.stateLocked(),
		Failures:    b.failures,
		LastFailure: b.lastFailure,
	}
}

// Name returns the breaker's identifying name.
func (b *Breaker) Name() string { return b.name }
