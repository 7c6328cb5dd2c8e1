package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/lmx-project/lmx/internal/infra/sessions"
)

// SessionStore is the subset of sessions.Store the HTTP layer depends on.
type SessionStore interface {
	List(opts sessions.ListOptions) ([]sessions.Session, error)
	Get(id string) (*sessions.Session, bool, error)
	Delete(id string) error
	Search(query string, limit int) ([]sessions.Session, error)
}

func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	opts := sessions.ListOptions{
		Limit:  atoiOr(q.Get("limit"), 50),
		Offset: atoiOr(q.Get("offset"), 0),
		Model:  q.Get("model"),
		Tag:    q.Get("tag"),
	}
	if since := q.Get("since"); since != "" {
		if t, err := time.Parse(time.RFC3339, since); err == nil {
			opts.Since = t
		}
	}

	list, err := s.sessions.List(opts)
	if err != nil {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": list})
}

func (s *Server) handleGetSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	session, ok, err := s.sessions.Get(id)
	if err != nil {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	if !ok {
		status, apiErr := errSessionNotFound(id)
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (s *Server) handleDeleteSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.sessions.Delete(id); err != nil {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleSearchSessions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	results, err := s.sessions.Search(q.Get("q"), atoiOr(q.Get("limit"), 50))
	if err != nil {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"data": results})
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
