package admission

import (
	"context"
	"sync"
	"testing"
	"time"
)

type fakeMetrics struct {
	mu     sync.Mutex
	queued int
}

func (f *fakeMetrics) ObserveModelQueueWait(string, string, float64)    {}
func (f *fakeMetrics) ObserveRequestLatency(float64)                    {}
func (f *fakeMetrics) ObserveModelLoadDuration(string, string, float64) {}
func (f *fakeMetrics) ObserveTokensPerSecond(string, string, float64)   {}
func (f *fakeMetrics) IncRequests()                                     {}
func (f *fakeMetrics) IncModelEviction(string)                          {}
func (f *fakeMetrics) IncAgentRun(string)                               {}
func (f *fakeMetrics) SetLoadedModels(int)                              {}
func (f *fakeMetrics) SetQueuedRequests(n int)                          { f.mu.Lock(); f.queued = n; f.mu.Unlock() }

func newTestScheduler(t *testing.T, cfg Config) *Scheduler {
	t.Helper()
	return New(cfg, &fakeMetrics{})
}

func TestAcquireRelease_BasicGates(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrentRequests: 1, PerClientDefaultConcurrency: 1})

	release, err := s.Acquire(context.Background(), "c1", "m1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	done := make(chan struct{})
	go func() {
		release2, err := s.Acquire(context.Background(), "c2", "m1")
		if err != nil {
			t.Errorf("second Acquire() error: %v", err)
			return
		}
		release2()
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	release()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never admitted after release")
	}
}

func TestAcquire_PerModelLimit(t *testing.T) {
	s := newTestScheduler(t, Config{
		MaxConcurrentRequests:       10,
		PerClientDefaultConcurrency: 10,
		PerModelConcurrencyLimits:   map[string]int{"m1": 1},
	})

	release1, err := s.Acquire(context.Background(), "c1", "m1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if _, err := s.Acquire(ctx, "c2", "m1"); err == nil {
		t.Error("expected per-model limit to block second acquire")
	}

	release1()
	release2, err := s.Acquire(context.Background(), "c2", "m1")
	if err != nil {
		t.Fatalf("Acquire() after release error: %v", err)
	}
	release2()
}

func TestAcquire_TimeoutReleasesNothing(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrentRequests: 1, PerClientDefaultConcurrency: 1, SemaphoreTimeout: 20 * time.Millisecond})

	release, err := s.Acquire(context.Background(), "c1", "m1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer release()

	if _, err := s.Acquire(context.Background(), "c2", "m1"); err == nil {
		t.Error("expected timeout error")
	}

	if n := s.WaitingCount(); n != 0 {
		t.Errorf("WaitingCount() = %d, want 0 after timeout", n)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrentRequests: 1, PerClientDefaultConcurrency: 1})

	release, err := s.Acquire(context.Background(), "c1", "m1")
	if err != nil {
		t.Fatalf("Acquire() error: %v", err)
	}
	defer release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := s.Acquire(ctx, "c2", "m1"); err == nil {
		t.Error("expected context cancellation error")
	}
}

// TestFairness_RoundRobin: two clients each submit more requests than the
// global concurrency allows; completion counts must never differ by more
// than one at any point, per §4.7/§8.
func TestFairness_RoundRobin(t *testing.T) {
	s := newTestScheduler(t, Config{MaxConcurrentRequests: 1, PerClientDefaultConcurrency: 10})

	const perClient = 5
	completions := make(chan string, perClient*2)

	// Hold the single global slot while both clients enqueue, so every
	// request is already waiting when the first one is admitted.
	releaseBlocker, err := s.Acquire(context.Background(), "blocker", "m1")
	if err != nil {
		t.Fatalf("blocker Acquire() error: %v", err)
	}

	var wg sync.WaitGroup
	for _, client := range []string{"a", "b"} {
		client := client
		for i := 0; i < perClient; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				release, err := s.Acquire(context.Background(), client, "m1")
				if err != nil {
					t.Errorf("Acquire() error: %v", err)
					return
				}
				time.Sleep(2 * time.Millisecond)
				completions <- client
				release()
			}()
			time.Sleep(time.Millisecond) // stagger enqueue order deterministically
		}
	}
	time.Sleep(10 * time.Millisecond)
	releaseBlocker()
	wg.Wait()
	close(completions)

	counts := map[string]int{}
	maxDiff := 0
	for c := range completions {
		counts[c]++
		diff := counts["a"] - counts["b"]
		if diff < 0 {
			diff = -diff
		}
		if diff > maxDiff {
			maxDiff = diff
		}
	}
	if maxDiff > 1 {
		t.Errorf("completion counts diverged by %d, want <= 1 (counts=%v)", maxDiff, counts)
	}
}
