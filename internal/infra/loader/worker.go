package loader

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/lmx-project/lmx/internal/domain"
)

// BackendFactory constructs and canary-probes a backend for the given spec.
// It is supplied by the daemon wiring (cmd/lmx) so the loader package stays
// free of any concrete backend implementation. A non-nil error here becomes
// a graceful LoadResult{OK:false}, not a crash — only a panic or an
// unresponsive worker is treated as an isolation failure.
type BackendFactory func(ctx context.Context, spec domain.LoadSpec) (engine domain.Backend, telemetry map[string]any, err error)

// canaryPrompt is the minimal generation used to verify a freshly
// constructed backend can actually produce tokens before the parent
// commits it to the lifecycle table, per §4.5's "canary generation"
// requirement.
const canaryPrompt = "Say OK."

// RunWorker is the entrypoint for a re-exec'd child process (invoked when
// os.Args[1] == WorkerFlag). It reads a LoadSpec from stdin, builds and
// canary-probes a backend via factory, and writes exactly one JSON
// envelope line to stdout before returning. It deliberately never calls
// os.Exit itself — the caller (main) decides the process exit code so a
// recovered panic can still flush its failure envelope first.
func RunWorker(ctx context.Context, stdin io.Reader, stdout io.Writer, factory BackendFactory) (exitCode int) {
	defer func() {
		if r := recover(); r != nil {
			writeEnvelope(stdout, wireEnvelope{Kind: "failure", Failure: &domain.LoaderFailure{
				Code:    "model_loader_crashed",
				Message: fmt.Sprintf("loader worker panicked: %v", r),
			}})
			exitCode = 1
		}
	}()

	raw, err := io.ReadAll(stdin)
	if err != nil {
		writeEnvelope(stdout, wireEnvelope{Kind: "failure", Failure: &domain.LoaderFailure{
			Code: "loader_invalid_spec", Message: fmt.Sprintf("read stdin: %v", err),
		}})
		return 1
	}

	spec, err := DecodeLoadSpec(raw)
	if err != nil {
		writeEnvelope(stdout, wireEnvelope{Kind: "failure", Failure: &domain.LoaderFailure{
			Code: "loader_invalid_spec", Message: fmt.Sprintf("decode spec: %v", err),
		}})
		return 1
	}

	start := time.Now()
	engine, telemetry, buildErr := factory(ctx, spec)
	if buildErr != nil {
		reason := buildErr.Error()
		writeEnvelope(stdout, wireEnvelope{Kind: "result", Result: &domain.LoadResult{
			OK: false, Backend: spec.Backend, Reason: &reason,
		}})
		return 0
	}
	defer engine.Close()

	if !spec.ProbeOnly {
		if telemetry == nil {
			telemetry = map[string]any{}
		}
		telemetry["load_duration_seconds"] = time.Since(start).Seconds()
	}

	canaryErr := runCanary(ctx, engine)
	if canaryErr != nil {
		reason := fmt.Sprintf("canary probe failed: %v", canaryErr)
		writeEnvelope(stdout, wireEnvelope{Kind: "result", Result: &domain.LoadResult{
			OK: false, Backend: spec.Backend, Reason: &reason,
		}})
		return 0
	}

	writeEnvelope(stdout, wireEnvelope{Kind: "result", Result: &domain.LoadResult{
		OK: true, Backend: spec.Backend, Telemetry: telemetry,
	}})
	return 0
}

func runCanary(ctx context.Context, engine domain.Backend) error {
	cctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	_, err := engine.Generate(cctx, domain.GenerateRequest{
		Messages: []domain.ChatMessage{{Role: "user", Content: canaryPrompt}},
		Params:   map[string]any{"max_tokens": 8},
	})
	return err
}

func writeEnvelope(w io.Writer, env wireEnvelope) {
	data, err := json.Marshal(env)
	if err != nil {
		data, _ = json.Marshal(wireEnvelope{Kind: "failure", Failure: &domain.LoaderFailure{
			Code: "model_loader_crashed", Message: "failed to marshal loader output",
		}})
	}
	fmt.Fprintln(w, string(data))
}
