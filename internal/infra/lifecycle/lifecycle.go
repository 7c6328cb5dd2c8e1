// Package lifecycle implements the loaded-model table (C8): load, unload,
// canary verification, LRU eviction under a memory cap, and the
// last-used bookkeeping the admission and generation layers depend on.
//
// The LRU/refcount shape — a map keyed by id plus a container/list for
// recency ordering, O(1) acquire/evict, zero-leak via explicit release —
// is ported from the teacher's internal/infra/engine/pool.go (Pool,
// poolEntry, evictOne), generalized from a single always-resident-backend
// pool to a multi-backend table whose entries arrive via the isolated
// child-loader protocol (loader.ChildLoader) and compatibility-registry
// backed candidate selection (backendpolicy.Candidates), per §4.6.
package lifecycle

import (
	"container/list"
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
	"github.com/lmx-project/lmx/internal/infra/backendpolicy"
	"github.com/lmx-project/lmx/internal/infra/compatregistry"
	"github.com/lmx-project/lmx/internal/infra/memmon"
)

// ChildLoader is the subset of loader.ChildLoader the lifecycle table
// depends on, narrowed for testability.
type ChildLoader interface {
	Load(ctx context.Context, spec domain.LoadSpec) (*domain.LoadResult, *domain.LoaderFailure)
}

// EngineFactory constructs the long-lived, in-process backend handle used
// for actual serving once the child loader has proven (via its own
// canary, in its own process) that the (model, backend) combination loads
// cleanly. It is deliberately distinct from loader.BackendFactory: that
// one runs inside the disposable child; this one runs in the parent and
// its result outlives the request that created it.
type EngineFactory func(ctx context.Context, spec domain.LoadSpec) (domain.Backend, error)

// Publisher is the narrow event-emission surface the lifecycle table uses.
type Publisher interface {
	Publish(eventType string, data map[string]any)
}

// Config bounds lifecycle behavior.
type Config struct {
	PolicyConfig     backendpolicy.Config
	DefaultKeepAlive time.Duration
	LoadTimeout      time.Duration
	EstimateGB       func(modelID string) float64
}

// DefaultConfig returns conservative defaults.
func DefaultConfig() Config {
	return Config{
		DefaultKeepAlive: 30 * time.Minute,
		LoadTimeout:      5 * time.Minute,
		EstimateGB:       func(string) float64 { return 4.0 },
	}
}

// Table is the loaded-model table (C8).
type Table struct {
	mu      sync.Mutex
	models  map[string]*entry
	lru     *list.List
	loading map[string]struct{} // model ids currently inside Load()

	mem      *memmon.Monitor
	registry *compatregistry.Registry
	childLdr ChildLoader
	engines  EngineFactory
	bus      Publisher
	metrics  domain.MetricsSink
	cfg      Config
}

type entry struct {
	model   *domain.LoadedModel
	element *list.Element
}

// New constructs a Table.
func New(mem *memmon.Monitor, registry *compatregistry.Registry, childLdr ChildLoader, engines EngineFactory, bus Publisher, metrics domain.MetricsSink, cfg Config) *Table {
	if cfg.DefaultKeepAlive <= 0 {
		cfg.DefaultKeepAlive = 30 * time.Minute
	}
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Minute
	}
	if cfg.EstimateGB == nil {
		cfg.EstimateGB = func(string) float64 { return 4.0 }
	}
	return &Table{
		models:   make(map[string]*entry),
		lru:      list.New(),
		loading:  make(map[string]struct{}),
		mem:      mem,
		registry: registry,
		childLdr: childLdr,
		engines:  engines,
		bus:      bus,
		metrics:  metrics,
		cfg:      cfg,
	}
}

// LoadOptions carries the caller-supplied per-request overrides for Load.
type LoadOptions struct {
	Backend     string
	UseBatching bool
	Overrides   map[string]any
	KeepAlive   *time.Duration // nil: use default; non-nil: explicit (0 disables eviction)
}

// Load loads a model, trying backend candidates in policy order, evicting
// LRU entries to make room, and running a canary generation before
// committing the entry. Returns domain.ErrAlreadyLoading if a load for
// this model id is already in flight, domain.ErrAllBackendsFailed if every
// candidate failed, or domain.ErrInsufficientMemory if eviction could not
// free enough room.
func (t *Table) Load(ctx context.Context, modelID string, opts LoadOptions) (*domain.LoadedModel, error) {
	t.mu.Lock()
	if _, ok := t.models[modelID]; ok {
		m := t.models[modelID].model
		t.mu.Unlock()
		return m, nil
	}
	if _, ok := t.loading[modelID]; ok {
		t.mu.Unlock()
		return nil, domain.ErrAlreadyLoading
	}
	t.loading[modelID] = struct{}{}
	t.mu.Unlock()

	defer func() {
		t.mu.Lock()
		delete(t.loading, modelID)
		t.mu.Unlock()
	}()

	requiredGB := t.cfg.EstimateGB(modelID)
	if !t.makeRoom(requiredGB) {
		return nil, domain.ErrInsufficientMemory
	}

	cfg := t.cfg.PolicyConfig
	candidates := backendpolicy.Candidates(modelID, cfg, t.registry, false)
	if opts.Backend != "" {
		candidates = []string{opts.Backend}
	}

	lctx, cancel := context.WithTimeout(ctx, t.cfg.LoadTimeout)
	defer cancel()

	var lastFailure *domain.LoaderFailure
	for _, backend := range candidates {
		spec := domain.LoadSpec{
			ModelID:     modelID,
			Backend:     backend,
			UseBatching: opts.UseBatching,
			Overrides:   opts.Overrides,
		}

		result, failure := t.childLdr.Load(lctx, spec)
		if failure != nil {
			lastFailure = failure
			t.recordAndPublishFailure(modelID, backend, failure.Error())
			continue
		}
		if !result.OK {
			reason := ""
			if result.Reason != nil {
				reason = *result.Reason
			}
			lastFailure = &domain.LoaderFailure{Code: "probe_failed", Message: reason}
			t.recordAndPublishFailure(modelID, backend, reason)
			continue
		}

		engine, err := t.engines(ctx, spec)
		if err != nil {
			lastFailure = &domain.LoaderFailure{Code: "probe_failed", Message: err.Error()}
			t.recordAndPublishFailure(modelID, backend, err.Error())
			continue
		}

		model := t.commit(modelID, domain.BackendTag(backend), engine, opts)
		if err := t.registry.Record(domain.CompatibilityRecord{
			ModelID: modelID, Backend: backend, Outcome: domain.OutcomePass, Timestamp: time.Now(),
		}); err != nil {
			log.Printf("[lifecycle] registry record failed: %v", err)
		}
		t.bus.Publish("model_loaded", map[string]any{"model_id": modelID, "backend": backend})
		log.Printf("[lifecycle] loaded %s via %s", modelID, backend)
		return model, nil
	}

	if lastFailure == nil {
		lastFailure = &domain.LoaderFailure{Code: "all_backends_failed", Message: "no backend candidates available"}
	}
	return nil, fmt.Errorf("%w: %s", domain.ErrAllBackendsFailed, lastFailure.Message)
}

func (t *Table) recordAndPublishFailure(modelID, backend, reason string) {
	if err := t.registry.Record(domain.CompatibilityRecord{
		ModelID: modelID, Backend: backend, Outcome: domain.OutcomeFail, Reason: reason, Timestamp: time.Now(),
	}); err != nil {
		log.Printf("[lifecycle] registry record failed: %v", err)
	}
	t.bus.Publish("model_load_failed", map[string]any{"model_id": modelID, "backend": backend, "reason": reason})
}

func (t *Table) commit(modelID string, backend domain.BackendTag, engine domain.Backend, opts LoadOptions) *domain.LoadedModel {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	m := &domain.LoadedModel{
		ModelID:      modelID,
		Backend:      backend,
		Engine:       engine,
		LoadedAt:     now,
		LastUsed:     now,
		EstimatedGB:  t.cfg.EstimateGB(modelID),
		Overrides:    opts.Overrides,
		Batching:     opts.UseBatching,
		KeepAlive:    opts.KeepAlive,
		KeepAliveSet: opts.KeepAlive != nil,
	}
	e := &entry{model: m}
	e.element = t.lru.PushFront(e)
	t.models[modelID] = e
	t.metrics.SetLoadedModels(len(t.models))
	return m
}

// keepAlive returns the effective TTL for an entry: its own setting if
// explicitly configured (even if zero, meaning "never evict"), else the
// table default.
func (t *Table) keepAlive(m *domain.LoadedModel) (ttl time.Duration, disabled bool) {
	if m.KeepAliveSet {
		if m.KeepAlive == nil {
			return 0, true
		}
		if *m.KeepAlive == 0 {
			return 0, true
		}
		return *m.KeepAlive, false
	}
	return t.cfg.DefaultKeepAlive, false
}

// makeRoom evicts LRU-ordered, idle, unreferenced entries until the memory
// monitor reports enough headroom for requiredGB, or there is nothing left
// to evict. Returns false if it could not free enough room.
func (t *Table) makeRoom(requiredGB float64) bool {
	if t.mem == nil {
		return true
	}
	if t.mem.CanLoad(requiredGB) {
		return true
	}

	for {
		t.mu.Lock()
		victim := t.selectVictimLocked()
		if victim == nil {
			t.mu.Unlock()
			return t.mem.CanLoad(requiredGB)
		}
		t.evictLocked(victim)
		t.mu.Unlock()

		if t.mem.CanLoad(requiredGB) {
			return true
		}
	}
}

// selectVictimLocked returns the least-recently-used entry that is both
// unreferenced and past its keep-alive TTL, or nil if none qualifies.
// Caller must hold t.mu.
func (t *Table) selectVictimLocked() *entry {
	now := time.Now()
	for e := t.lru.Back(); e != nil; e = e.Prev() {
		ent := e.Value.(*entry)
		m := ent.model
		if m.RefCount != 0 {
			continue
		}
		ttl, disabled := t.keepAlive(m)
		if disabled {
			continue
		}
		if now.Sub(m.LastUsed) < ttl {
			continue
		}
		return ent
	}
	return nil
}

func (t *Table) evictLocked(ent *entry) {
	ent.model.Engine.Close()
	t.lru.Remove(ent.element)
	delete(t.models, ent.model.ModelID)
	t.metrics.SetLoadedModels(len(t.models))
	t.metrics.IncModelEviction(ent.model.ModelID)
	t.bus.Publish("model_unloaded", map[string]any{"model_id": ent.model.ModelID, "reason": "lru_eviction"})
	log.Printf("[lifecycle] evicted %s (lru)", ent.model.ModelID)
}

// Unload removes a model from the table. Fails with domain.ErrModelInUse
// if any generation is in flight.
func (t *Table) Unload(modelID string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.models[modelID]
	if !ok {
		return domain.ErrModelNotFound
	}
	if e.model.RefCount != 0 {
		return domain.ErrModelInUse
	}
	e.model.Engine.Close()
	t.lru.Remove(e.element)
	delete(t.models, modelID)
	t.metrics.SetLoadedModels(len(t.models))
	t.bus.Publish("model_unloaded", map[string]any{"model_id": modelID, "reason": "requested"})
	return nil
}

// List returns a snapshot of all currently loaded models.
func (t *Table) List() []domain.LoadedModel {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]domain.LoadedModel, 0, len(t.models))
	for _, e := range t.models {
		out = append(out, *e.model)
	}
	return out
}

// Get returns the loaded model record for modelID, if present.
func (t *Table) Get(modelID string) (*domain.LoadedModel, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.models[modelID]
	if !ok {
		return nil, false
	}
	return e.model, true
}

// IsLoaded reports whether modelID currently has a table entry.
func (t *Table) IsLoaded(modelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.models[modelID]
	return ok
}

// Touch bumps last-used and moves the entry to the front of the LRU list,
// called by the generator around every dispatched request.
func (t *Table) Touch(modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.models[modelID]
	if !ok {
		return
	}
	e.model.LastUsed = time.Now()
	e.model.RequestCount++
	t.lru.MoveToFront(e.element)
}

// Acquire increments the in-flight generation count for modelID, pinning
// it against LRU eviction. Release must be called exactly once per
// successful Acquire.
func (t *Table) Acquire(modelID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.models[modelID]
	if !ok {
		return false
	}
	e.model.RefCount++
	return true
}

// Release decrements the in-flight generation count for modelID.
func (t *Table) Release(modelID string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.models[modelID]
	if !ok {
		return
	}
	if e.model.RefCount > 0 {
		e.model.RefCount--
	}
}
