package lifecycle

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
	"github.com/lmx-project/lmx/internal/infra/compatregistry"
)

type fakeBus struct {
	events []string
}

func (f *fakeBus) Publish(eventType string, data map[string]any) { f.events = append(f.events, eventType) }

type fakeMetrics struct{ loaded int }

func (f *fakeMetrics) ObserveModelQueueWait(string, string, float64)    {}
func (f *fakeMetrics) ObserveRequestLatency(float64)                    {}
func (f *fakeMetrics) ObserveModelLoadDuration(string, string, float64) {}
func (f *fakeMetrics) ObserveTokensPerSecond(string, string, float64)   {}
func (f *fakeMetrics) IncRequests()                                     {}
func (f *fakeMetrics) IncModelEviction(string)                          {}
func (f *fakeMetrics) IncAgentRun(string)                               {}
func (f *fakeMetrics) SetLoadedModels(n int)                            { f.loaded = n }
func (f *fakeMetrics) SetQueuedRequests(int)                            {}

type fakeEngine struct{ closed bool }

func (e *fakeEngine) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResult, error) {
	return domain.GenerateResult{Content: "ok"}, nil
}
func (e *fakeEngine) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.Token, error) {
	return nil, errors.New("unused")
}
func (e *fakeEngine) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, errors.New("unused")
}
func (e *fakeEngine) Close() error { e.closed = true; return nil }

type fakeChildLoader struct {
	fail   map[string]bool
	result domain.LoadResult
}

func (f *fakeChildLoader) Load(ctx context.Context, spec domain.LoadSpec) (*domain.LoadResult, *domain.LoaderFailure) {
	if f.fail[spec.Backend] {
		return nil, &domain.LoaderFailure{Code: "model_loader_crashed", Message: "boom"}
	}
	r := f.result
	r.Backend = spec.Backend
	r.OK = true
	return &r, nil
}

func newTestTable(t *testing.T, childLdr ChildLoader) (*Table, *fakeBus, *fakeMetrics) {
	t.Helper()
	dir := t.TempDir()
	reg := compatregistry.Open(filepath.Join(dir, "registry.json"))
	bus := &fakeBus{}
	metrics := &fakeMetrics{}
	factory := func(ctx context.Context, spec domain.LoadSpec) (domain.Backend, error) {
		return &fakeEngine{}, nil
	}
	tbl := New(nil, reg, childLdr, factory, bus, metrics, DefaultConfig())
	return tbl, bus, metrics
}

func TestLoadSucceedsAndPublishesModelLoaded(t *testing.T) {
	tbl, bus, metrics := newTestTable(t, &fakeChildLoader{})
	m, err := tbl.Load(context.Background(), "model-a", LoadOptions{Backend: "mlx-lm"})
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if m.Backend != "mlx-lm" {
		t.Fatalf("unexpected backend %q", m.Backend)
	}
	if metrics.loaded != 1 {
		t.Fatalf("expected 1 loaded model, got %d", metrics.loaded)
	}
	found := false
	for _, e := range bus.events {
		if e == "model_loaded" {
			found = true
		}
	}
	if !found {
		t.Fatal("expected model_loaded event")
	}
}

func TestLoadIsIdempotentForAlreadyLoadedModel(t *testing.T) {
	tbl, _, _ := newTestTable(t, &fakeChildLoader{})
	ctx := context.Background()
	first, err := tbl.Load(ctx, "model-a", LoadOptions{Backend: "mlx-lm"})
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := tbl.Load(ctx, "model-a", LoadOptions{Backend: "mlx-lm"})
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Fatal("expected second load to return the same entry without reloading")
	}
}

func TestLoadAllBackendsFailedReturnsError(t *testing.T) {
	tbl, _, _ := newTestTable(t, &fakeChildLoader{fail: map[string]bool{"vllm-mlx": true, "mlx-lm": true}})
	_, err := tbl.Load(context.Background(), "model-a", LoadOptions{})
	if !errors.Is(err, domain.ErrAllBackendsFailed) {
		t.Fatalf("expected ErrAllBackendsFailed, got %v", err)
	}
}

func TestUnloadFailsWhenInUse(t *testing.T) {
	tbl, _, _ := newTestTable(t, &fakeChildLoader{})
	tbl.Load(context.Background(), "model-a", LoadOptions{Backend: "mlx-lm"})
	tbl.Acquire("model-a")

	if err := tbl.Unload("model-a"); !errors.Is(err, domain.ErrModelInUse) {
		t.Fatalf("expected ErrModelInUse, got %v", err)
	}
	tbl.Release("model-a")
	if err := tbl.Unload("model-a"); err != nil {
		t.Fatalf("expected unload to succeed once released, got %v", err)
	}
}

func TestTouchUpdatesLastUsedAndRequestCount(t *testing.T) {
	tbl, _, _ := newTestTable(t, &fakeChildLoader{})
	tbl.Load(context.Background(), "model-a", LoadOptions{Backend: "mlx-lm"})
	before, _ := tbl.Get("model-a")
	firstUsed := before.LastUsed
	time.Sleep(time.Millisecond)
	tbl.Touch("model-a")
	after, _ := tbl.Get("model-a")
	if !after.LastUsed.After(firstUsed) {
		t.Fatal("expected LastUsed to advance")
	}
	if after.RequestCount != 1 {
		t.Fatalf("expected RequestCount 1, got %d", after.RequestCount)
	}
}

func TestKeepAliveZeroDisablesEviction(t *testing.T) {
	tbl, _, _ := newTestTable(t, &fakeChildLoader{})
	zero := time.Duration(0)
	tbl.Load(context.Background(), "model-a", LoadOptions{Backend: "mlx-lm", KeepAlive: &zero})
	m, _ := tbl.Get("model-a")
	ttl, disabled := tbl.keepAlive(m)
	if !disabled {
		t.Fatalf("expected eviction disabled, got ttl=%v disabled=%v", ttl, disabled)
	}
}

