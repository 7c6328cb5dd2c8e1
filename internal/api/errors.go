// Structured error responses, matching OpenAI's error envelope shape and
// the taxonomy in §7: one constructor per surfaced error code, each mapped
// to the HTTP status the spec assigns it.
package api

import (
	"encoding/json"
	"net/http"
)

// apiError is the inner "error" object of the OpenAI-style envelope.
type apiError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Param   string `json:"param,omitempty"`
	Code    string `json:"code"`
}

// errorEnvelope is the full JSON body returned for any failed request.
type errorEnvelope struct {
	Error apiError `json:"error"`
}

func writeErrorEnvelope(w http.ResponseWriter, status int, e apiError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorEnvelope{Error: e})
}

func errModelNotFound(modelID string) (int, apiError) {
	return http.StatusNotFound, apiError{
		Message: "model not found: " + modelID,
		Type:    "invalid_request_error",
		Param:   "model",
		Code:    "model_not_found",
	}
}

func errInvalidInput(message, param string) (int, apiError) {
	return http.StatusBadRequest, apiError{
		Message: message,
		Type:    "invalid_request_error",
		Param:   param,
		Code:    "invalid_input",
	}
}

func errModelInUse(modelID string) (int, apiError) {
	return http.StatusConflict, apiError{
		Message: "model in use: " + modelID,
		Type:    "invalid_request_error",
		Code:    "model_in_use",
	}
}

func errInsufficientMemory() (int, apiError) {
	return http.StatusInsufficientStorage, apiError{
		Message: "insufficient memory to load model",
		Type:    "server_error",
		Code:    "insufficient_memory",
	}
}

func errAdmissionTimeout() (int, apiError) {
	return http.StatusServiceUnavailable, apiError{
		Message: "admission timeout — server is at capacity",
		Type:    "server_error",
		Code:    "admission_timeout",
	}
}

func errModelLoadFailed(detail string) (int, apiError) {
	return http.StatusBadGateway, apiError{
		Message: "model load failed: " + detail,
		Type:    "server_error",
		Code:    "model_load_failed",
	}
}

func errEmbeddingUnavailable() (int, apiError) {
	return http.StatusServiceUnavailable, apiError{
		Message: "embedding backend unavailable for this model",
		Type:    "server_error",
		Code:    "embedding_unavailable",
	}
}

func errDownloadNotFound(downloadID string) (int, apiError) {
	return http.StatusNotFound, apiError{
		Message: "download not found: " + downloadID,
		Type:    "invalid_request_error",
		Code:    "download_not_found",
	}
}

func errRunNotFound(runID string) (int, apiError) {
	return http.StatusNotFound, apiError{
		Message: "run not found: " + runID,
		Type:    "invalid_request_error",
		Code:    "run_not_found",
	}
}

func errSkillNotFound(name string) (int, apiError) {
	return http.StatusNotFound, apiError{
		Message: "skill not found: " + name,
		Type:    "invalid_request_error",
		Code:    "skill_not_found",
	}
}

func errSkillApprovalRequired(name string) (int, apiError) {
	return http.StatusForbidden, apiError{
		Message: "skill requires approval: " + name,
		Type:    "invalid_request_error",
		Code:    "skill_approval_required",
	}
}

func errSessionNotFound(id string) (int, apiError) {
	return http.StatusNotFound, apiError{
		Message: "session not found: " + id,
		Type:    "invalid_request_error",
		Code:    "session_not_found",
	}
}

// errInternal returns a sanitized message to the client. It does not log;
// any server-side logging of the detail is left to the caller.
func errInternal() (int, apiError) {
	return http.StatusInternalServerError, apiError{
		Message: "internal server error",
		Type:    "server_error",
		Code:    "internal_error",
	}
}

func errQueueFull() (int, apiError) {
	return http.StatusServiceUnavailable, apiError{
		Message: "run queue is full",
		Type:    "server_error",
		Code:    "overloaded",
	}
}
