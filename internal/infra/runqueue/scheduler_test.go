package runqueue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

func TestMemoryBackend_QueueFull(t *testing.T) {
	b := NewMemoryBackend(1)

	if _, _, err := b.Enqueue(domain.AgentRun{ID: "a", Priority: domain.PriorityNormal, CreatedAt: time.Now()}); err != nil {
		t.Fatalf("first Enqueue() error: %v", err)
	}
	_, _, err := b.Enqueue(domain.AgentRun{ID: "b", Priority: domain.PriorityNormal, CreatedAt: time.Now()})
	var qf *domain.QueueFullError
	if err == nil {
		t.Fatal("expected QueueFullError on second enqueue")
	}
	if !asQueueFull(err, &qf) {
		t.Fatalf("error = %v, want *domain.QueueFullError", err)
	}
	if qf.Size != 1 || qf.Capacity != 1 {
		t.Errorf("QueueFullError = %+v, want {Size:1 Capacity:1}", qf)
	}
}

func asQueueFull(err error, target **domain.QueueFullError) bool {
	if qf, ok := err.(*domain.QueueFullError); ok {
		*target = qf
		return true
	}
	return false
}

func TestMemoryBackend_IdempotencyKey(t *testing.T) {
	b := NewMemoryBackend(10)

	id1, existed1, err := b.Enqueue(domain.AgentRun{ID: "a", Priority: domain.PriorityNormal, CreatedAt: time.Now(), IdempotencyKey: "k1"})
	if err != nil || existed1 {
		t.Fatalf("first Enqueue() = (%v, %v, %v)", id1, existed1, err)
	}
	id2, existed2, err := b.Enqueue(domain.AgentRun{ID: "b", Priority: domain.PriorityNormal, CreatedAt: time.Now(), IdempotencyKey: "k1"})
	if err != nil {
		t.Fatalf("second Enqueue() error: %v", err)
	}
	if !existed2 || id2 != id1 {
		t.Errorf("second Enqueue() = (%v, %v), want (%v, true)", id2, existed2, id1)
	}
}

func TestScheduler_PriorityDispatch(t *testing.T) {
	backend := NewMemoryBackend(10)
	now := time.Now()

	if _, _, err := backend.Enqueue(domain.AgentRun{ID: "run-batch", Priority: domain.PriorityBatch, CreatedAt: now}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := backend.Enqueue(domain.AgentRun{ID: "run-normal", Priority: domain.PriorityNormal, CreatedAt: now.Add(time.Millisecond)}); err != nil {
		t.Fatal(err)
	}
	if _, _, err := backend.Enqueue(domain.AgentRun{ID: "run-interactive", Priority: domain.PriorityInteractive, CreatedAt: now.Add(2 * time.Millisecond)}); err != nil {
		t.Fatal(err)
	}

	var mu sync.Mutex
	var order []string
	handler := func(ctx context.Context, run domain.AgentRun) (map[string]any, error) {
		mu.Lock()
		order = append(order, run.ID)
		mu.Unlock()
		return nil, nil
	}

	sched := New(backend, handler, Config{Workers: 1, PollInterval: 2 * time.Millisecond}, nil, nil)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	mu.Lock()
	defer mu.Unlock()
	want := []string{"run-interactive", "run-normal", "run-batch"}
	if len(order) != len(want) {
		t.Fatalf("order = %v, want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Errorf("order[%d] = %q, want %q (full: %v)", i, order[i], want[i], order)
		}
	}
}

func TestScheduler_SubmitAndGet(t *testing.T) {
	backend := NewMemoryBackend(10)
	sched := New(backend, func(ctx context.Context, run domain.AgentRun) (map[string]any, error) {
		return map[string]any{"ok": true}, nil
	}, Config{Workers: 1, PollInterval: 2 * time.Millisecond}, nil, nil)

	id, existed, err := sched.Submit(domain.AgentRun{ID: "r1", Priority: domain.PriorityNormal, CreatedAt: time.Now()})
	if err != nil || existed {
		t.Fatalf("Submit() = (%v, %v, %v)", id, existed, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	sched.Run(ctx)

	run, err := sched.Get("r1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if run.Status != domain.RunCompleted {
		t.Errorf("Status = %q, want %q", run.Status, domain.RunCompleted)
	}
}
