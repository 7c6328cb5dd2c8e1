package helper

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/lmx-project/lmx/internal/infra/breaker"
)

func TestForward_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := New([]PeerConfig{{Name: "peer1", URL: srv.URL}}, time.Minute)

	result, err := f.Forward(context.Background(), "peer1", http.MethodGet, "/v1/chat/completions", nil)
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if !result.OK || result.StatusCode != http.StatusOK {
		t.Errorf("result = %+v, want OK=true status=200", result)
	}
}

func TestForward_CircuitOpenShortCircuits(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	f := New([]PeerConfig{{Name: "peer1", URL: srv.URL, RetryBudget: 0, Breaker: breaker.Config{FailureThreshold: 1, ResetTimeout: time.Hour}}}, time.Minute)

	if _, err := f.Forward(context.Background(), "peer1", http.MethodGet, "/x", nil); err != nil {
		t.Fatalf("Forward() error: %v", err)
	}

	result, err := f.Forward(context.Background(), "peer1", http.MethodGet, "/x", nil)
	if err != nil {
		t.Fatalf("Forward() error: %v", err)
	}
	if result.OK || result.Error != "circuit open" {
		t.Errorf("result = %+v, want circuit-open short-circuit", result)
	}
	if got := atomic.LoadInt32(&hits); got != 1 {
		t.Errorf("server hit %d times, want 1 (second call should short-circuit)", got)
	}
}

func TestProbeLoop_SuccessRecordsBreakerSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	f := New([]PeerConfig{{Name: "peer1", URL: srv.URL}}, 10*time.Millisecond)
	f.peers["peer1"].circuit.RecordFailure()

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Millisecond)
	defer cancel()
	f.Run(ctx)

	snap, ok := f.BreakerSnapshot("peer1")
	if !ok {
		t.Fatal("peer1 breaker snapshot missing")
	}
	if snap.Failures != 0 {
		t.Errorf("Failures = %d, want 0 after successful probe", snap.Failures)
	}
}
