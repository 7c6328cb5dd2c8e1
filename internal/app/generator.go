package app

import (
	"context"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
	"github.com/lmx-project/lmx/internal/infra/lifecycle"
)

// ModelResolver is the subset of lifecycle.Table the generator depends on.
type ModelResolver interface {
	Get(modelID string) (*domain.LoadedModel, bool)
	Load(ctx context.Context, modelID string, opts lifecycle.LoadOptions) (*domain.LoadedModel, error)
	Touch(modelID string)
	Acquire(modelID string) bool
	Release(modelID string)
}

// Admitter is the subset of admission.Scheduler the generator depends on.
type Admitter interface {
	Acquire(ctx context.Context, clientID, modelID string) (func(), error)
}

// GeneratorConfig bounds generation behavior.
type GeneratorConfig struct {
	CallTimeout time.Duration
	AutoLoad    bool
}

// Generator implements C10: resolve the model, acquire admission gates,
// dispatch to the backend under a per-call timeout, record metrics and
// events, and release gates on every exit path.
type Generator struct {
	models    ModelResolver
	admission Admitter
	bus       domain.EventPublisher
	metrics   domain.MetricsSink
	cfg       GeneratorConfig
}

// NewGenerator constructs a Generator.
func NewGenerator(models ModelResolver, admission Admitter, bus domain.EventPublisher, metrics domain.MetricsSink, cfg GeneratorConfig) *Generator {
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 2 * time.Minute
	}
	return &Generator{models: models, admission: admission, bus: bus, metrics: metrics, cfg: cfg}
}

// resolve returns the loaded model entry, auto-loading it if configured and
// not already resident.
func (g *Generator) resolve(ctx context.Context, modelID string) (*domain.LoadedModel, error) {
	if m, ok := g.models.Get(modelID); ok {
		return m, nil
	}
	if !g.cfg.AutoLoad {
		return nil, domain.ErrModelNotFound
	}
	return g.models.Load(ctx, modelID, lifecycle.LoadOptions{})
}

// admit resolves the model and acquires the admission gates, returning the
// resolved model, a release function for both the model pin and the
// admission gates (in that reverse order), and the measured queue wait.
func (g *Generator) admit(ctx context.Context, req domain.GenerateRequest, clientID string) (*domain.LoadedModel, func(), time.Duration, error) {
	model, err := g.resolve(ctx, req.ModelID)
	if err != nil {
		return nil, nil, 0, err
	}

	waitStart := time.Now()
	releaseAdmission, err := g.admission.Acquire(ctx, clientID, req.ModelID)
	queueWait := time.Since(waitStart)
	if err != nil {
		return nil, nil, queueWait, err
	}
	if g.metrics != nil {
		g.metrics.ObserveModelQueueWait(req.ModelID, string(model.Backend), queueWait.Seconds())
	}

	if !g.models.Acquire(req.ModelID) {
		releaseAdmission()
		return nil, nil, queueWait, domain.ErrModelNotFound
	}

	release := func() {
		g.models.Release(req.ModelID)
		releaseAdmission()
	}
	return model, release, queueWait, nil
}

// Generate runs a single non-streaming completion for req on behalf of
// clientID.
func (g *Generator) Generate(ctx context.Context, req domain.GenerateRequest, clientID string) (domain.GenerateResult, error) {
	model, release, _, err := g.admit(ctx, req, clientID)
	if err != nil {
		return domain.GenerateResult{}, err
	}
	defer release()

	g.models.Touch(req.ModelID)
	start := time.Now()

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	defer cancel()

	result, err := model.Engine.Generate(callCtx, req)
	elapsed := time.Since(start)

	if err != nil {
		if g.metrics != nil {
			g.metrics.ObserveRequestLatency(elapsed.Seconds())
		}
		if ctx.Err() == nil { // not a client cancellation — count as a real failure
			g.publish("generation_failed", req.ModelID, string(model.Backend), err.Error())
		}
		return domain.GenerateResult{}, err
	}

	g.recordCompletion(req.ModelID, string(model.Backend), elapsed, result.OutputTokens)
	return result, nil
}

// Stream runs a streaming completion, proxying backend tokens and releasing
// admission/model gates exactly once, when the underlying stream closes or
// ctx is cancelled.
func (g *Generator) Stream(ctx context.Context, req domain.GenerateRequest, clientID string) (<-chan domain.Token, error) {
	model, release, _, err := g.admit(ctx, req, clientID)
	if err != nil {
		return nil, err
	}

	g.models.Touch(req.ModelID)

	callCtx, cancel := context.WithTimeout(ctx, g.cfg.CallTimeout)
	upstream, err := model.Engine.Stream(callCtx, req)
	if err != nil {
		cancel()
		release()
		return nil, err
	}

	out := make(chan domain.Token, 16)
	go func() {
		defer close(out)
		defer cancel()
		defer release()

		start := time.Now()
		tokens := 0
		var streamErr error

		for tok := range upstream {
			tokens++
			if tok.Err != nil {
				streamErr = tok.Err
			}
			select {
			case out <- tok:
			case <-ctx.Done():
				return
			}
			if tok.FinishReason != "" {
				break
			}
		}

		elapsed := time.Since(start)
		if streamErr != nil {
			g.publish("generation_failed", req.ModelID, string(model.Backend), streamErr.Error())
			return
		}
		if ctx.Err() != nil {
			return // cancelled: no completion metric
		}
		g.recordCompletion(req.ModelID, string(model.Backend), elapsed, tokens)
	}()

	return out, nil
}

func (g *Generator) recordCompletion(modelID, backend string, elapsed time.Duration, outputTokens int) {
	if g.metrics != nil {
		g.metrics.ObserveRequestLatency(elapsed.Seconds())
		g.metrics.IncRequests()
		if elapsed > 0 && outputTokens > 0 {
			g.metrics.ObserveTokensPerSecond(modelID, backend, float64(outputTokens)/elapsed.Seconds())
		}
	}
	g.publish("generation_completed", modelID, backend, "")
}

func (g *Generator) publish(eventType, modelID, backend, reason string) {
	if g.bus == nil {
		return
	}
	data := map[string]any{"model_id": modelID, "backend": backend}
	if reason != "" {
		data["reason"] = reason
	}
	g.bus.Publish(eventType, data)
}
