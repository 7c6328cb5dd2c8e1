// Durable multi-agent run submission and lookup (C12), backed by
// runqueue.Scheduler.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lmx-project/lmx/internal/domain"
)

type submitRunRequest struct {
	Request        map[string]any `json:"request"`
	Priority       string         `json:"priority"`
	IdempotencyKey string         `json:"idempotency_key"`
}

type runResponse struct {
	ID             string         `json:"id"`
	Status         domain.RunStatus `json:"status"`
	Priority       domain.RunPriority `json:"priority"`
	Request        map[string]any `json:"request,omitempty"`
	Result         map[string]any `json:"result,omitempty"`
	Error          string         `json:"error,omitempty"`
	CreatedAt      string         `json:"created_at"`
	UpdatedAt      string         `json:"updated_at"`
}

func toRunResponse(run domain.AgentRun) runResponse {
	return runResponse{
		ID:        run.ID,
		Status:    run.Status,
		Priority:  run.Priority,
		Request:   run.Request,
		Result:    run.Result,
		Error:     run.Error,
		CreatedAt: run.CreatedAt.Format(timeLayout),
		UpdatedAt: run.UpdatedAt.Format(timeLayout),
	}
}

const timeLayout = "2006-01-02T15:04:05Z07:00"

func (s *Server) handleSubmitRun(w http.ResponseWriter, r *http.Request) {
	var req submitRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status, apiErr := errInvalidInput("invalid request body: "+err.Error(), "")
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	if req.Request == nil {
		status, apiErr := errInvalidInput("request is required", "request")
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	run := domain.AgentRun{
		ID:             uuid.New().String(),
		Request:        req.Request,
		Status:         domain.RunQueued,
		Priority:       domain.NormalizePriority(req.Priority),
		IdempotencyKey: req.IdempotencyKey,
	}

	id, existed, err := s.runQueue.Submit(run)
	if err != nil {
		if _, ok := asQueueFull(err); ok {
			status, apiErr := errQueueFull()
			writeErrorEnvelope(w, status, apiErr)
			return
		}
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	got, err := s.runQueue.Get(id)
	if err != nil {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	status := http.StatusCreated
	if existed {
		status = http.StatusOK
	}
	writeJSON(w, status, toRunResponse(*got))
}

func asQueueFull(err error) (*domain.QueueFullError, bool) {
	qf, ok := err.(*domain.QueueFullError)
	return qf, ok
}

func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	run, err := s.runQueue.Get(id)
	if err != nil {
		status, apiErr := errRunNotFound(id)
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, toRunResponse(*run))
}

func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	limit := 100
	runs, err := s.runQueue.List(limit)
	if err != nil {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	out := make([]runResponse, len(runs))
	for i, run := range runs {
		out[i] = toRunResponse(run)
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": out})
}
