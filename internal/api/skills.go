package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/lmx-project/lmx/internal/infra/skills"
)

// SkillRegistry is the subset of skills.Registry the HTTP layer depends on.
type SkillRegistry interface {
	List() []skills.Manifest
	Invoke(ctx context.Context, name string, input map[string]any, approved bool) (map[string]any, error)
}

func (s *Server) handleListSkills(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"data": s.skills.List()})
}

type invokeSkillRequest struct {
	Input    map[string]any `json:"input"`
	Approved bool           `json:"approved"`
}

func (s *Server) handleInvokeSkill(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req invokeSkillRequest
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			status, apiErr := errInvalidInput("invalid request body: "+err.Error(), "")
			writeErrorEnvelope(w, status, apiErr)
			return
		}
	}

	result, err := s.skills.Invoke(r.Context(), name, req.Input, req.Approved)
	if err != nil {
		switch {
		case errors.Is(err, skills.ErrSkillNotFound):
			status, apiErr := errSkillNotFound(name)
			writeErrorEnvelope(w, status, apiErr)
		case errors.Is(err, skills.ErrApprovalRequired):
			status, apiErr := errSkillApprovalRequired(name)
			writeErrorEnvelope(w, status, apiErr)
		default:
			status, apiErr := errInvalidInput(err.Error(), "input")
			writeErrorEnvelope(w, status, apiErr)
		}
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"result": result})
}
