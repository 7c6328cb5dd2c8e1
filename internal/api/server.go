// Package api provides the HTTP server for LMX: an OpenAI-compatible
// inference surface plus the agent-run queue, skills, sessions and admin
// endpoints layered on top of it.
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lmx-project/lmx/internal/domain"
	"github.com/lmx-project/lmx/internal/infra/eventbus"
)

// ModelResolver is the subset of lifecycle.Table the HTTP layer depends on
// directly (the rest goes through Generator).
type ModelResolver interface {
	Get(modelID string) (*domain.LoadedModel, bool)
	List() []domain.LoadedModel
	IsLoaded(modelID string) bool
}

// ModelStore is the subset of modelstore.Manager needed to list and
// describe locally available model weights.
type ModelStore interface {
	List() ([]domain.ModelInfo, error)
	Show(name string) (*domain.ModelInfo, error)
}

// Generator is the subset of app.Generator the chat/embeddings handlers
// depend on.
type Generator interface {
	Generate(ctx context.Context, req domain.GenerateRequest, clientID string) (domain.GenerateResult, error)
	Stream(ctx context.Context, req domain.GenerateRequest, clientID string) (<-chan domain.Token, error)
}

// RunQueue is the subset of runqueue.Scheduler the agent-run endpoints
// depend on.
type RunQueue interface {
	Submit(run domain.AgentRun) (id string, existed bool, err error)
	Get(runID string) (*domain.AgentRun, error)
	List(limit int) ([]domain.AgentRun, error)
}

// Server is the LMX HTTP API server.
type Server struct {
	generator      Generator
	models         ModelResolver
	modelStore     ModelStore
	runQueue       RunQueue
	events         *eventbus.Bus
	skills         SkillRegistry
	sessions       SessionStore
	loadShedder    *LoadShedder
	rateLimiter    *RateLimiter
	adminKey       string
	inferenceKey   string
	metricsEnabled bool
	version        string
}

// Config bundles the optional wiring for a Server. Only Generator,
// ModelResolver and ModelStore are required; everything else degrades to
// "route not mounted" when left nil/zero.
type Config struct {
	Generator      Generator
	Models         ModelResolver
	ModelStore     ModelStore
	RunQueue       RunQueue
	Events         *eventbus.Bus
	Skills         SkillRegistry
	Sessions       SessionStore
	LoadShedder    *LoadShedder
	RateLimiter    *RateLimiter
	AdminKey       string
	InferenceKey   string
	MetricsEnabled bool
	Version        string
}

// NewServer constructs a Server from cfg.
func NewServer(cfg Config) *Server {
	version := cfg.Version
	if version == "" {
		version = "dev"
	}
	return &Server{
		generator:      cfg.Generator,
		models:         cfg.Models,
		modelStore:     cfg.ModelStore,
		runQueue:       cfg.RunQueue,
		events:         cfg.Events,
		skills:         cfg.Skills,
		sessions:       cfg.Sessions,
		loadShedder:    cfg.LoadShedder,
		rateLimiter:    cfg.RateLimiter,
		adminKey:       cfg.AdminKey,
		inferenceKey:   cfg.InferenceKey,
		metricsEnabled: cfg.MetricsEnabled,
		version:        version,
	}
}

// Handler returns the chi router with all routes mounted.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(5 * time.Minute))
	r.Use(corsMiddleware)
	if s.loadShedder != nil {
		r.Use(s.loadShedder.Middleware)
	}
	if s.rateLimiter != nil {
		r.Use(s.rateLimiter.Middleware)
	}

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)

	r.Route("/v1", func(r chi.Router) {
		if s.inferenceKey != "" {
			r.Use(s.inferenceAuth)
		}

		r.Get("/models", s.handleListModels)
		r.Get("/models/{model}", s.handleShowModel)
		r.Post("/chat/completions", s.handleChatCompletions)
		r.Post("/embeddings", s.handleEmbeddings)

		if s.runQueue != nil {
			r.Route("/agents/runs", func(r chi.Router) {
				r.Post("/", s.handleSubmitRun)
				r.Get("/", s.handleListRuns)
				r.Get("/{id}", s.handleGetRun)
			})
		}

		if s.skills != nil {
			r.Route("/skills", func(r chi.Router) {
				r.Get("/", s.handleListSkills)
				r.Post("/{name}/invoke", s.handleInvokeSkill)
			})
		}

		if s.sessions != nil {
			r.Route("/sessions", func(r chi.Router) {
				r.Get("/", s.adminGate(s.handleListSessions))
				r.Get("/search", s.adminGate(s.handleSearchSessions))
				r.Get("/{id}", s.adminGate(s.handleGetSession))
				r.Delete("/{id}", s.adminGate(s.handleDeleteSession))
			})
		}
	})

	r.Route("/admin", func(r chi.Router) {
		r.Get("/health", s.handleAdminHealth)
		if s.events != nil {
			r.Get("/events", s.adminGate(s.handleAdminEvents))
		}
	})

	if s.metricsEnabled {
		r.Handle("/metrics", promhttp.Handler())
	}

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": s.version})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if s.models == nil || len(s.models.List()) == 0 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{
			"status": "unavailable",
			"reason": "no models loaded",
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

func (s *Server) handleAdminHealth(w http.ResponseWriter, r *http.Request) {
	status := "ok"
	if s.loadShedder != nil && s.loadShedder.mem != nil && s.loadShedder.mem.UsagePercent() > 95 {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": status})
}

// adminGate requires a matching X-Admin-Key header whenever an admin key is
// configured; with no key configured, the route is open (local-only
// deployments don't need one).
func (s *Server) adminGate(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminKey != "" && r.Header.Get("X-Admin-Key") != s.adminKey {
			writeErrorEnvelope(w, http.StatusUnauthorized, apiError{
				Message: "missing or invalid admin key",
				Type:    "invalid_request_error",
				Code:    "unauthorized",
			})
			return
		}
		next(w, r)
	}
}

// inferenceAuth requires a matching credential on every /v1 inference route
// when an inference API key is configured, per §6: "Authorization: Bearer"
// or "X-Api-Key" header, or "?api_key=" query parameter for WebSocket
// clients that cannot set headers.
func (s *Server) inferenceAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.inferenceKey == "" || credentialMatches(r, s.inferenceKey) {
			next.ServeHTTP(w, r)
			return
		}
		writeErrorEnvelope(w, http.StatusUnauthorized, apiError{
			Message: "missing or invalid API key",
			Type:    "invalid_request_error",
			Code:    "unauthorized",
		})
	})
}

func credentialMatches(r *http.Request, key string) bool {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if strings.HasPrefix(auth, "Bearer ") && strings.TrimPrefix(auth, "Bearer ") == key {
			return true
		}
	}
	if r.Header.Get("X-Api-Key") == key {
		return true
	}
	return r.URL.Query().Get("api_key") == key
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Admin-Key")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
