package domain

import "context"

// ─── Service Interfaces ─────────────────────────────────────────────────────
// These interfaces define boundaries between layers. Infrastructure
// implements them; application layer depends on them.

// Backend is the single capability a concrete inference engine exposes once
// a model is loaded: generate, stream, embed, close. Dynamic dispatch over the
// three backend tags (vllm-mlx, mlx-lm, gguf) is modeled as a narrow
// interface, never as inheritance — each concrete backend is a distinct type
// satisfying this contract.
type Backend interface {
	// Generate runs a single non-streaming completion.
	Generate(ctx context.Context, req GenerateRequest) (GenerateResult, error)

	// Stream runs a streaming completion, sending one Token per generated
	// piece on the returned channel. The channel is closed when the
	// generation ends (either normally or due to ctx cancellation); a
	// generation error is reported on the final Token's Err field.
	Stream(ctx context.Context, req GenerateRequest) (<-chan Token, error)

	// Embed computes embedding vectors for the given inputs.
	Embed(ctx context.Context, input []string) ([][]float32, error)

	// Close releases any resources (subprocess, file handles) held by the
	// backend. Close must be safe to call more than once.
	Close() error
}

// EventPublisher is the narrow capability components need to publish
// ServerEvents without depending on the full EventBus implementation.
type EventPublisher interface {
	Publish(eventType string, data map[string]any)
}

// MetricsSink is the narrow capability components need to record
// observations without depending on the concrete Prometheus registry.
type MetricsSink interface {
	ObserveModelQueueWait(modelID, backend string, seconds float64)
	ObserveRequestLatency(seconds float64)
	ObserveModelLoadDuration(modelID, backend string, seconds float64)
	ObserveTokensPerSecond(modelID, backend string, tps float64)
	IncRequests()
	IncModelEviction(modelID string)
	IncAgentRun(status string)
	SetLoadedModels(n int)
	SetQueuedRequests(n int)
}
