// Package helper implements the helper fabric (C13): per-peer HTTP clients
// gated by a circuit breaker, with bounded retries on transient transport
// errors and a background health-probe loop that only ever records success
// on the breaker (never trips it — only real request failures do, per
// §4.2/§4.12).
//
// The concurrent-subsystem-supervision shape (one goroutine per peer probe
// loop, first error cancels the group) follows
// golang.org/x/sync/errgroup, the same pattern used for concurrent
// installer/loader workers in the model-runner reference scheduler this
// package is grounded on.
package helper

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/lmx-project/lmx/internal/infra/breaker"
)

// PeerConfig describes one helper node.
type PeerConfig struct {
	Name        string
	URL         string
	Timeout     time.Duration
	RetryBudget int
	Breaker     breaker.Config
}

// Peer is a configured helper node: its HTTP client and circuit breaker.
type Peer struct {
	cfg     PeerConfig
	client  *http.Client
	circuit *breaker.Breaker
}

// Fabric manages the set of configured helper peers.
type Fabric struct {
	peers         map[string]*Peer
	probeInterval time.Duration
}

// New constructs a Fabric from peer configs.
func New(peers []PeerConfig, probeInterval time.Duration) *Fabric {
	if probeInterval <= 0 {
		probeInterval = 30 * time.Second
	}
	f := &Fabric{peers: make(map[string]*Peer, len(peers)), probeInterval: probeInterval}
	for _, cfg := range peers {
		if cfg.Timeout <= 0 {
			cfg.Timeout = 30 * time.Second
		}
		if cfg.RetryBudget <= 0 {
			cfg.RetryBudget = 2
		}
		f.peers[cfg.Name] = &Peer{
			cfg:     cfg,
			client:  &http.Client{Timeout: cfg.Timeout},
			circuit: breaker.New(cfg.Name, cfg.Breaker),
		}
	}
	return f
}

// Peers returns the configured peer names.
func (f *Fabric) Peers() []string {
	names := make([]string, 0, len(f.peers))
	for name := range f.peers {
		names = append(names, name)
	}
	return names
}

// BreakerSnapshot returns the circuit breaker status for peerName.
func (f *Fabric) BreakerSnapshot(peerName string) (breaker.Snapshot, bool) {
	p, ok := f.peers[peerName]
	if !ok {
		return breaker.Snapshot{}, false
	}
	return p.circuit.Snapshot(), true
}

// ForwardResult is the outcome of forwarding a request to a peer.
type ForwardResult struct {
	OK         bool
	StatusCode int
	Body       []byte
	Error      string
}

// Forward issues method/path against peerName with bounded retries on
// transient transport errors. If the peer's breaker is open, it
// short-circuits with {OK:false, Error:"circuit open"} without attempting
// any network call.
func (f *Fabric) Forward(ctx context.Context, peerName, method, path string, body io.Reader) (ForwardResult, error) {
	peer, ok := f.peers[peerName]
	if !ok {
		return ForwardResult{}, fmt.Errorf("unknown helper peer %q", peerName)
	}

	if err := peer.circuit.Allow(); err != nil {
		return ForwardResult{OK: false, Error: "circuit open"}, nil
	}

	var lastErr error
	attempts := peer.cfg.RetryBudget + 1
	for attempt := 0; attempt < attempts; attempt++ {
		req, err := http.NewRequestWithContext(ctx, method, peer.cfg.URL+path, body)
		if err != nil {
			return ForwardResult{}, err
		}
		resp, err := peer.client.Do(req)
		if err != nil {
			lastErr = err
			select {
			case <-ctx.Done():
				return ForwardResult{}, ctx.Err()
			case <-time.After(backoff(attempt)):
			}
			continue
		}

		data, _ := io.ReadAll(resp.Body)
		resp.Body.Close()

		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("peer %s returned %d", peerName, resp.StatusCode)
			continue
		}

		peer.circuit.RecordSuccess()
		return ForwardResult{OK: true, StatusCode: resp.StatusCode, Body: data}, nil
	}

	peer.circuit.RecordFailure()
	return ForwardResult{OK: false, Error: lastErr.Error()}, nil
}

func backoff(attempt int) time.Duration {
	d := time.Duration(100*(attempt+1)) * time.Millisecond
	if d > 2*time.Second {
		return 2 * time.Second
	}
	return d
}

// Run starts one background health-probe loop per peer, polling /healthz at
// probeInterval. A probe success records success on that peer's breaker
// (enabling recovery from half_open); a probe failure is logged only and
// never trips the breaker. Run blocks until ctx is cancelled.
func (f *Fabric) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for name, peer := range f.peers {
		name, peer := name, peer
		g.Go(func() error {
			f.probeLoop(gctx, name, peer)
			return nil
		})
	}
	return g.Wait()
}

func (f *Fabric) probeLoop(ctx context.Context, name string, peer *Peer) {
	ticker := time.NewTicker(f.probeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			f.probeOnce(ctx, name, peer)
		}
	}
}

func (f *Fabric) probeOnce(ctx context.Context, name string, peer *Peer) {
	probeCtx, cancel := context.WithTimeout(ctx, peer.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, peer.cfg.URL+"/healthz", nil)
	if err != nil {
		log.Printf("[helper] probe %s: %v", name, err)
		return
	}
	resp, err := peer.client.Do(req)
	if err != nil {
		log.Printf("[helper] probe %s failed: %v", name, err)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusOK {
		peer.circuit.RecordSuccess()
		return
	}
	log.Printf("[helper] probe %s returned %d", name, resp.StatusCode)
}
