package loader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/lmx-project/lmx/internal/domain"
)

type fakeBackend struct {
	genErr error
}

func (f *fakeBackend) Generate(ctx context.Context, req domain.GenerateRequest) (domain.GenerateResult, error) {
	if f.genErr != nil {
		return domain.GenerateResult{}, f.genErr
	}
	return domain.GenerateResult{Content: "OK"}, nil
}
func (f *fakeBackend) Stream(ctx context.Context, req domain.GenerateRequest) (<-chan domain.Token, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBackend) Embed(ctx context.Context, input []string) ([][]float32, error) {
	return nil, errors.New("not implemented")
}
func (f *fakeBackend) Close() error { return nil }

func TestRunWorkerSuccessWritesResultEnvelope(t *testing.T) {
	spec := domain.LoadSpec{ModelID: "m", Backend: "mlx-lm"}
	specJSON, _ := EncodeLoadSpec(spec)

	var out bytes.Buffer
	factory := func(ctx context.Context, s domain.LoadSpec) (domain.Backend, map[string]any, error) {
		return &fakeBackend{}, map[string]any{"port": 1234}, nil
	}

	code := RunWorker(context.Background(), bytes.NewReader(specJSON), &out, factory)
	if code != 0 {
		t.Fatalf("expected exit 0, got %d", code)
	}

	var env wireEnvelope
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Kind != "result" || env.Result == nil || !env.Result.OK {
		t.Fatalf("expected ok result envelope, got %+v", env)
	}
}

func TestRunWorkerFactoryErrorIsGracefulResult(t *testing.T) {
	spec := domain.LoadSpec{ModelID: "m", Backend: "gguf"}
	specJSON, _ := EncodeLoadSpec(spec)
	var out bytes.Buffer

	factory := func(ctx context.Context, s domain.LoadSpec) (domain.Backend, map[string]any, error) {
		return nil, nil, errors.New("unsupported quantization")
	}

	code := RunWorker(context.Background(), bytes.NewReader(specJSON), &out, factory)
	if code != 0 {
		t.Fatalf("expected exit 0 for graceful failure, got %d", code)
	}

	var env wireEnvelope
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Kind != "result" || env.Result.OK {
		t.Fatalf("expected ok=false result, got %+v", env)
	}
	if env.Result.Reason == nil || !strings.Contains(*env.Result.Reason, "unsupported quantization") {
		t.Fatalf("expected reason to surface factory error, got %+v", env.Result.Reason)
	}
}

func TestRunWorkerCanaryFailureIsGracefulResult(t *testing.T) {
	spec := domain.LoadSpec{ModelID: "m", Backend: "gguf"}
	specJSON, _ := EncodeLoadSpec(spec)
	var out bytes.Buffer

	factory := func(ctx context.Context, s domain.LoadSpec) (domain.Backend, map[string]any, error) {
		return &fakeBackend{genErr: errors.New("context overflow")}, nil, nil
	}

	RunWorker(context.Background(), bytes.NewReader(specJSON), &out, factory)

	var env wireEnvelope
	json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env)
	if env.Result == nil || env.Result.OK {
		t.Fatalf("expected canary failure to produce ok=false, got %+v", env)
	}
}

func TestRunWorkerInvalidSpecIsFailureEnvelope(t *testing.T) {
	var out bytes.Buffer
	factory := func(ctx context.Context, s domain.LoadSpec) (domain.Backend, map[string]any, error) {
		t.Fatal("factory should not be called for invalid input")
		return nil, nil, nil
	}

	code := RunWorker(context.Background(), strings.NewReader("not json"), &out, factory)
	if code == 0 {
		t.Fatal("expected non-zero exit for invalid spec")
	}
	var env wireEnvelope
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Kind != "failure" || env.Failure.Code != "loader_invalid_spec" {
		t.Fatalf("expected loader_invalid_spec failure, got %+v", env)
	}
}

func TestRunWorkerRecoversPanic(t *testing.T) {
	var out bytes.Buffer
	specJSON, _ := EncodeLoadSpec(domain.LoadSpec{ModelID: "m"})
	factory := func(ctx context.Context, s domain.LoadSpec) (domain.Backend, map[string]any, error) {
		panic("native extension segfault")
	}

	code := RunWorker(context.Background(), bytes.NewReader(specJSON), &out, factory)
	if code != 1 {
		t.Fatalf("expected exit 1 after recovered panic, got %d", code)
	}
	var env wireEnvelope
	if err := json.Unmarshal(bytes.TrimSpace(out.Bytes()), &env); err != nil {
		t.Fatalf("decode envelope: %v", err)
	}
	if env.Kind != "failure" || env.Failure.Code != "model_loader_crashed" {
		t.Fatalf("expected model_loader_crashed failure, got %+v", env)
	}
}

func TestLimitedBufferTrimsToMax(t *testing.T) {
	b := &limitedBuffer{max: 8}
	b.Write([]byte("0123456789"))
	if got := b.String(); got != "23456789" {
		t.Fatalf("expected trimmed tail, got %q", got)
	}
}

func TestTailReturnsSuffixWithinBound(t *testing.T) {
	long := strings.Repeat("x", 3000)
	got := tail(long)
	if len(got) != 2048 {
		t.Fatalf("expected 2048-byte tail, got %d", len(got))
	}
}

func TestLoadResultRoundTrip(t *testing.T) {
	reason := "bad quant"
	original := domain.LoadResult{OK: false, Backend: "gguf", Reason: &reason, Telemetry: map[string]any{"k": "v"}}
	data, err := EncodeLoadResult(original)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	decoded, err := DecodeLoadResult(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.OK != original.OK || decoded.Backend != original.Backend || *decoded.Reason != *original.Reason {
		t.Fatalf("round trip mismatch: %+v vs %+v", decoded, original)
	}
}
