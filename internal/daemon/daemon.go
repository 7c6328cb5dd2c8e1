// Package daemon wires the core components (C1-C13) into a running LMX
// server process and holds its TOML configuration.
package daemon

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lmx-project/lmx/internal/api"
	"github.com/lmx-project/lmx/internal/app"
	"github.com/lmx-project/lmx/internal/domain"
	"github.com/lmx-project/lmx/internal/infra/admission"
	"github.com/lmx-project/lmx/internal/infra/backendpolicy"
	"github.com/lmx-project/lmx/internal/infra/breaker"
	"github.com/lmx-project/lmx/internal/infra/compatregistry"
	"github.com/lmx-project/lmx/internal/infra/engine"
	"github.com/lmx-project/lmx/internal/infra/eventbus"
	"github.com/lmx-project/lmx/internal/infra/helper"
	"github.com/lmx-project/lmx/internal/infra/lifecycle"
	"github.com/lmx-project/lmx/internal/infra/loader"
	"github.com/lmx-project/lmx/internal/infra/memmon"
	"github.com/lmx-project/lmx/internal/infra/metrics"
	"github.com/lmx-project/lmx/internal/infra/modelstore"
	"github.com/lmx-project/lmx/internal/infra/runqueue"
	"github.com/lmx-project/lmx/internal/infra/sessions"
	"github.com/lmx-project/lmx/internal/infra/skills"
	"github.com/lmx-project/lmx/internal/infra/sqlite"
)

// Daemon is the core LMX runtime: it constructs and owns C1-C13 plus their
// storage and transport collaborators, and serves the HTTP API over them.
type Daemon struct {
	Config Config

	DB         *sqlite.DB
	Models     *modelstore.Manager
	Memory     *memmon.Monitor
	Registry   *compatregistry.Registry
	Events     *eventbus.Bus
	Metrics    *metrics.Collector
	ChildLdr   *loader.ChildLoader
	Lifecycle  *lifecycle.Table
	Admission  *admission.Scheduler
	Generator  *app.Generator
	RunQueue   *runqueue.Scheduler
	Sessions   *sessions.Store
	Skills     *skills.Registry
	Helpers    *helper.Fabric
	Server     *api.Server

	state  *stateTracker
	cancel context.CancelFunc
}

// New loads configuration from $LMX_HOME and constructs a Daemon.
func New() (*Daemon, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return NewWithConfig(cfg)
}

// NewWithConfig constructs a Daemon from an explicit configuration,
// wiring every core component (C1-C13) and its storage/transport
// collaborators together.
func NewWithConfig(cfg Config) (*Daemon, error) {
	home := LMXHome()

	db, err := sqlite.Open(home)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	modelsDir := cfg.Models.Dir
	if modelsDir == "" {
		modelsDir = filepath.Join(home, "models")
	}
	modelsMgr := modelstore.NewManager(modelsDir, db)
	if err := modelsMgr.Init(); err != nil {
		return nil, fmt.Errorf("init model store: %w", err)
	}

	mem, err := memmon.New(cfg.Scheduler.MemoryThresholdPercent)
	if err != nil {
		return nil, fmt.Errorf("init memory monitor: %w", err)
	}

	reg := compatregistry.Open(filepath.Join(home, "compat_registry.json"))
	bus := eventbus.New()
	mc := metrics.NewCollector()

	loadTimeout := durationOr(cfg.Scheduler.LoadTimeout, 5*time.Minute)
	childLdr := loader.NewChildLoader(loadTimeout)

	paths := engine.Paths{LMXHome: home}
	resolve := func(modelID string) (string, error) { return modelsMgr.Resolve(modelID) }
	progress := func(msg string) { log.Printf("[daemon] %s", msg) }
	engineFactory := engine.NewEngineFactory(resolve, paths, progress)

	lifecycleCfg := lifecycle.DefaultConfig()
	lifecycleCfg.PolicyConfig = backendpolicy.Config{
		PreferenceOrder:     cfg.Scheduler.BackendPreferenceOrder,
		GGUFFallbackEnabled: cfg.Scheduler.GGUFFallbackEnabled,
	}
	lifecycleCfg.DefaultKeepAlive = durationOr(cfg.Scheduler.DefaultKeepAlive, 30*time.Minute)
	lifecycleCfg.LoadTimeout = loadTimeout
	lc := lifecycle.New(mem, reg, childLdr, engineFactory, bus, mc, lifecycleCfg)

	admCfg := admission.DefaultConfig()
	if cfg.Scheduler.MaxConcurrentRequests > 0 {
		admCfg.MaxConcurrentRequests = cfg.Scheduler.MaxConcurrentRequests
	}
	if cfg.Scheduler.PerClientConcurrency > 0 {
		admCfg.PerClientDefaultConcurrency = cfg.Scheduler.PerClientConcurrency
	}
	if cfg.Scheduler.PerModelConcurrency != nil {
		admCfg.PerModelConcurrencyLimits = cfg.Scheduler.PerModelConcurrency
	}
	admCfg.SemaphoreTimeout = durationOr(cfg.Scheduler.AdmissionTimeout, 30*time.Second)
	adm := admission.New(admCfg, mc)

	gen := app.NewGenerator(lc, adm, bus, mc, app.GeneratorConfig{AutoLoad: true})

	runQueue := newRunQueue(cfg, db, bus, mc, gen)

	sessionStore := sessions.NewStore(filepath.Join(home, "sessions"))
	skillRegistry := skills.NewDefaultRegistry()

	peers := make([]helper.PeerConfig, 0, len(cfg.Helpers.Peers))
	for _, p := range cfg.Helpers.Peers {
		timeout := time.Duration(p.TimeoutSeconds) * time.Second
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		failureThreshold := p.FailureThreshold
		if failureThreshold <= 0 {
			failureThreshold = 5
		}
		peers = append(peers, helper.PeerConfig{
			Name:        p.Name,
			URL:         p.URL,
			Timeout:     timeout,
			RetryBudget: p.RetryBudget,
			Breaker: breaker.Config{
				FailureThreshold: failureThreshold,
				ResetTimeout:     durationOr(p.ResetTimeout, 30*time.Second),
			},
		})
	}
	probeInterval := time.Duration(cfg.Helpers.ProbeIntervalSeconds) * time.Second
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	fabric := helper.New(peers, probeInterval)

	loadShedder := api.NewLoadShedder(mem, loadShedThreshold(cfg))

	var rateLimiter *api.RateLimiter
	if cfg.Security.RateLimit != "" {
		rl, err := api.ParseRateLimit(cfg.Security.RateLimit)
		if err != nil {
			log.Printf("[daemon] invalid rate_limit %q, ignoring: %v", cfg.Security.RateLimit, err)
		} else {
			rateLimiter = api.NewRateLimiter(rl)
		}
	}

	srv := api.NewServer(api.Config{
		Generator:      gen,
		Models:         lc,
		ModelStore:     modelsMgr,
		RunQueue:       runQueue,
		Events:         bus,
		Skills:         skillRegistry,
		Sessions:       sessionStore,
		LoadShedder:    loadShedder,
		RateLimiter:    rateLimiter,
		AdminKey:       cfg.Security.AdminKey,
		InferenceKey:   cfg.Security.InferenceKey,
		MetricsEnabled: cfg.Security.MetricsEnabled && cfg.Telemetry.Prometheus,
		Version:        "dev",
	})

	d := &Daemon{
		Config:    cfg,
		DB:        db,
		Models:    modelsMgr,
		Memory:    mem,
		Registry:  reg,
		Events:    bus,
		Metrics:   mc,
		ChildLdr:  childLdr,
		Lifecycle: lc,
		Admission: adm,
		Generator: gen,
		RunQueue:  runQueue,
		Sessions:  sessionStore,
		Skills:    skillRegistry,
		Helpers:   fabric,
		Server:    srv,
		state:     newStateTracker(home),
	}

	return d, nil
}

// newRunQueue selects the in-memory or durable SQLite run-queue backend per
// cfg.Agents.Durable and wires a handler that dispatches a run's request
// through the generator, the same path a chat completion takes.
func newRunQueue(cfg Config, db *sqlite.DB, bus domain.EventPublisher, mc domain.MetricsSink, gen *app.Generator) *runqueue.Scheduler {
	var backend runqueue.Backend
	if cfg.Agents.Durable {
		backend = runqueue.NewSQLiteBackend(db)
	} else {
		queueSize := cfg.Agents.QueueSize
		if queueSize <= 0 {
			queueSize = 1000
		}
		backend = runqueue.NewMemoryBackend(queueSize)
	}

	rqCfg := runqueue.DefaultConfig()
	if cfg.Agents.Workers > 0 {
		rqCfg.Workers = cfg.Agents.Workers
	}
	rqCfg.PollInterval = durationOr(cfg.Agents.PollInterval, 200*time.Millisecond)

	handler := func(ctx context.Context, run domain.AgentRun) (map[string]any, error) {
		req, clientID, err := generateRequestFromRun(run)
		if err != nil {
			return nil, err
		}
		result, err := gen.Generate(ctx, req, clientID)
		if err != nil {
			return nil, err
		}
		return map[string]any{
			"content":       result.Content,
			"finish_reason": result.FinishReason,
			"prompt_tokens": result.PromptTokens,
			"output_tokens": result.OutputTokens,
		}, nil
	}

	return runqueue.New(backend, handler, rqCfg, bus, mc)
}

// generateRequestFromRun extracts a GenerateRequest from an AgentRun's free
// form request payload: {"model": "...", "messages": [{"role":...,
// "content":...}, ...], "params": {...}, "client_id": "..."}.
func generateRequestFromRun(run domain.AgentRun) (domain.GenerateRequest, string, error) {
	modelID, _ := run.Request["model"].(string)
	if modelID == "" {
		return domain.GenerateRequest{}, "", fmt.Errorf("agent run %s: request.model is required", run.ID)
	}

	var messages []domain.ChatMessage
	if raw, ok := run.Request["messages"].([]any); ok {
		for _, item := range raw {
			m, ok := item.(map[string]any)
			if !ok {
				continue
			}
			role, _ := m["role"].(string)
			content, _ := m["content"].(string)
			messages = append(messages, domain.ChatMessage{Role: role, Content: content})
		}
	}

	params, _ := run.Request["params"].(map[string]any)
	clientID, _ := run.Request["client_id"].(string)
	if clientID == "" {
		clientID = "agent-" + run.ID
	}

	return domain.GenerateRequest{ModelID: modelID, Messages: messages, Params: params}, clientID, nil
}

func loadShedThreshold(cfg Config) float64 {
	if cfg.Scheduler.LoadShedThresholdPercent > 0 {
		return cfg.Scheduler.LoadShedThresholdPercent
	}
	return 95
}

// Serve starts the HTTP server and every background subsystem (run-queue
// workers, helper-fabric health probes, runtime-state tracking) as an
// errgroup, blocking until ctx is cancelled or a termination signal
// arrives, then shuts everything down gracefully.
func (d *Daemon) Serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	d.cancel = cancel

	d.restoreFromUncleanShutdown(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sub, ok := d.Events.Subscribe()
		if !ok {
			return nil
		}
		defer d.Events.Unsubscribe(sub)
		for {
			select {
			case <-gctx.Done():
				return nil
			case <-sub.Done:
				return nil
			case evt := <-sub.C:
				d.state.onEvent(evt.Type, evt.Data)
			}
		}
	})

	g.Go(func() error { return d.RunQueue.Run(gctx) })
	g.Go(func() error { return d.Helpers.Run(gctx) })

	addr := fmt.Sprintf("%s:%d", d.Config.API.Host, d.Config.API.Port)
	httpServer := &http.Server{
		Addr:         addr,
		Handler:      d.Server.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute, // long enough for SSE streaming
		IdleTimeout:  2 * time.Minute,
	}

	g.Go(func() error {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})

	g.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case <-sigCh:
		case <-gctx.Done():
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		_ = httpServer.Shutdown(shutdownCtx)
		d.Close()
		return nil
	})

	log.Printf("[daemon] lmx serving on http://%s", addr)
	if d.Config.Telemetry.Prometheus {
		log.Printf("[daemon] metrics: http://%s/metrics", addr)
	}

	return g.Wait()
}

// restoreFromUncleanShutdown consults runtime_state.json: if the prior run
// did not shut down cleanly, it issues one best-effort Load per model id
// that was resident at the time, so a crash or kill -9 doesn't silently
// drop a warm model out from under callers who expect it still loaded.
func (d *Daemon) restoreFromUncleanShutdown(ctx context.Context) {
	st := loadRuntimeState(statePath(LMXHome()))
	if st.LastCleanShutdown || len(st.LoadedModels) == 0 {
		return
	}

	seen := make(map[string]struct{}, len(st.LoadedModels))
	for _, modelID := range st.LoadedModels {
		if modelID == "" {
			continue
		}
		if _, dup := seen[modelID]; dup {
			continue
		}
		seen[modelID] = struct{}{}

		log.Printf("[daemon] restoring %s after unclean shutdown", modelID)
		if _, err := d.Lifecycle.Load(ctx, modelID, lifecycle.LoadOptions{}); err != nil {
			log.Printf("[daemon] restore of %s failed: %v", modelID, err)
		}
	}
}

// Close releases all daemon resources and marks the runtime state clean, so
// a subsequent start does not attempt an unnecessary restore.
func (d *Daemon) Close() {
	if d.cancel != nil {
		d.cancel()
	}
	if d.Admission != nil {
		d.Admission.Close()
	}
	for _, m := range d.Lifecycle.List() {
		if err := d.Lifecycle.Unload(m.ModelID); err != nil {
			log.Printf("[daemon] unload %s on shutdown: %v", m.ModelID, err)
		}
	}
	if d.state != nil {
		d.state.markClean()
	}
	if d.DB != nil {
		_ = d.DB.Close()
	}
}
