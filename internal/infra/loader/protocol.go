// Package loader implements the isolated child-loader protocol (C7): a
// parent-side supervisor (ChildLoader) that spawns an out-of-process worker
// to construct and canary-probe a single model's backend, plus the worker
// entrypoint itself (RunWorker, invoked when the process is re-executed
// with the loader-worker flag).
//
// The process-isolation shape — exec.Command, an early-exit monitoring
// goroutine racing a timeout, a bounded stderr ring buffer, graceful-then-
// forced shutdown — is ported from the teacher's
// internal/infra/engine/subprocess.go (SubprocessBackend.LoadModel and
// waitForServerWithFeedback), adapted from HTTP-health-probing a
// llama-server binary to JSON-over-stdio framing a self-reexec worker, per
// §4.5 and §9 ("Subprocess IPC").
package loader

import (
	"encoding/json"

	"github.com/lmx-project/lmx/internal/domain"
)

// EncodeLoadSpec serializes a LoadSpec for the wire.
func EncodeLoadSpec(spec domain.LoadSpec) ([]byte, error) {
	return json.Marshal(spec)
}

// DecodeLoadSpec deserializes a LoadSpec from the wire.
func DecodeLoadSpec(data []byte) (domain.LoadSpec, error) {
	var spec domain.LoadSpec
	err := json.Unmarshal(data, &spec)
	return spec, err
}

// EncodeLoadResult serializes a LoadResult for the wire.
func EncodeLoadResult(result domain.LoadResult) ([]byte, error) {
	return json.Marshal(result)
}

// DecodeLoadResult deserializes a LoadResult from the wire.
func DecodeLoadResult(data []byte) (domain.LoadResult, error) {
	var result domain.LoadResult
	err := json.Unmarshal(data, &result)
	return result, err
}

// EncodeLoaderFailure serializes a LoaderFailure for the wire.
func EncodeLoaderFailure(failure domain.LoaderFailure) ([]byte, error) {
	return json.Marshal(failure)
}

// DecodeLoaderFailure deserializes a LoaderFailure from the wire.
func DecodeLoaderFailure(data []byte) (domain.LoaderFailure, error) {
	var failure domain.LoaderFailure
	err := json.Unmarshal(data, &failure)
	return failure, err
}

// wireEnvelope discriminates a worker's single JSON line of output between
// a successful LoadResult and a LoaderFailure, since both can appear on
// exit code 0 (a graceful "ok=false" failure is still a LoadResult, per
// §4.5 — it's the transport, not the outcome, that the envelope tags).
type wireEnvelope struct {
	Kind    string               `json:"kind"` // "result" | "failure"
	Result  *domain.LoadResult   `json:"result,omitempty"`
	Failure *domain.LoaderFailure `json:"failure,omitempty"`
}
