package api

import (
	"net/http"
)

// exemptPaths never get load-shed, per §4.9 — health probes must answer
// even while the server is shedding everything else.
var exemptPaths = map[string]bool{
	"/healthz":      true,
	"/readyz":       true,
	"/admin/health": true,
}

// MemoryStatus is the narrow capability the load shedder needs from the
// memory monitor.
type MemoryStatus interface {
	UsagePercent() float64
}

// LoadShedder is HTTP boundary middleware (C11): once memory usage reaches
// ThresholdPercent, every non-exempt request is rejected with 503 rather
// than admitted and left to fail deeper in the stack.
type LoadShedder struct {
	mem             MemoryStatus
	thresholdPercent float64
}

// NewLoadShedder constructs a LoadShedder. thresholdPercent defaults to 95
// when <= 0.
func NewLoadShedder(mem MemoryStatus, thresholdPercent float64) *LoadShedder {
	if thresholdPercent <= 0 {
		thresholdPercent = 95
	}
	return &LoadShedder{mem: mem, thresholdPercent: thresholdPercent}
}

// Middleware returns the chi-compatible middleware function.
func (l *LoadShedder) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if exemptPaths[r.URL.Path] || l.mem == nil {
			next.ServeHTTP(w, r)
			return
		}

		usage := l.mem.UsagePercent()
		if usage < l.thresholdPercent {
			next.ServeHTTP(w, r)
			return
		}

		w.Header().Set("Retry-After", "30")
		writeErrorEnvelope(w, http.StatusServiceUnavailable, errOverloaded())
	})
}

func errOverloaded() apiError {
	return apiError{
		Message: "Server under memory pressure",
		Type:    "server_error",
		Code:    "overloaded",
	}
}
