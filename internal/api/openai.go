// OpenAI-compatible surface: model listing, chat completions (streaming and
// non-streaming), and embeddings. Streaming follows the SSE framing
// convention from the teacher's chat handler (bufio flush per event,
// terminated by a literal "data: [DONE]" line) but adds the mid-stream
// error contract: a backend error arriving after tokens have already been
// sent is folded into one final content frame plus a normal stop frame,
// rather than breaking the stream with a bare HTTP error the client has no
// way to parse once headers are already flushed.
package api

import (
	"bufio"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/lmx-project/lmx/internal/domain"
)

// --- /v1/models ---

type modelObject struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

func (s *Server) handleListModels(w http.ResponseWriter, r *http.Request) {
	infos, err := s.modelStore.List()
	if err != nil {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	data := make([]modelObject, len(infos))
	for i, info := range infos {
		data[i] = modelObject{ID: info.Name, Object: "model", Created: info.PulledAt.Unix(), OwnedBy: "local"}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{"object": "list", "data": data})
}

func (s *Server) handleShowModel(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "model")
	info, err := s.modelStore.Show(name)
	if err != nil {
		status, apiErr := errModelNotFound(name)
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(modelObject{ID: info.Name, Object: "model", Created: info.PulledAt.Unix(), OwnedBy: "local"})
}

// --- /v1/chat/completions ---

type chatCompletionRequest struct {
	Model       string               `json:"model"`
	Messages    []domain.ChatMessage `json:"messages"`
	Stream      bool                 `json:"stream"`
	Temperature *float64             `json:"temperature,omitempty"`
	TopP        *float64             `json:"top_p,omitempty"`
	MaxTokens   *int                 `json:"max_tokens,omitempty"`
	Stop        []string             `json:"stop,omitempty"`
}

func (r chatCompletionRequest) params() map[string]any {
	p := map[string]any{}
	if r.Temperature != nil {
		p["temperature"] = *r.Temperature
	}
	if r.TopP != nil {
		p["top_p"] = *r.TopP
	}
	if r.MaxTokens != nil {
		p["max_tokens"] = *r.MaxTokens
	}
	if len(r.Stop) > 0 {
		p["stop"] = r.Stop
	}
	return p
}

type chatDelta struct {
	Role    string `json:"role,omitempty"`
	Content string `json:"content,omitempty"`
}

type chatCompletionChoice struct {
	Index        int                 `json:"index"`
	Message      *domain.ChatMessage `json:"message,omitempty"`
	Delta        *chatDelta          `json:"delta,omitempty"`
	FinishReason *string             `json:"finish_reason"`
}

type chatCompletionUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

type chatCompletionResponse struct {
	ID      string                 `json:"id"`
	Object  string                 `json:"object"`
	Created int64                  `json:"created"`
	Model   string                 `json:"model"`
	Choices []chatCompletionChoice `json:"choices"`
	Usage   *chatCompletionUsage   `json:"usage,omitempty"`
}

func completionID() string {
	return "chatcmpl-" + uuid.New().String()
}

func (s *Server) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	var req chatCompletionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status, apiErr := errInvalidInput("invalid request body: "+err.Error(), "")
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	if req.Model == "" {
		status, apiErr := errInvalidInput("model is required", "model")
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	if len(req.Messages) == 0 {
		status, apiErr := errInvalidInput("messages must not be empty", "messages")
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	genReq := domain.GenerateRequest{ModelID: req.Model, Messages: req.Messages, Params: req.params()}
	clientID := clientIP(r)

	if req.Stream {
		s.streamChatCompletion(w, r, genReq, clientID)
		return
	}
	s.nonStreamChatCompletion(w, r, genReq, clientID)
}

func (s *Server) nonStreamChatCompletion(w http.ResponseWriter, r *http.Request, req domain.GenerateRequest, clientID string) {
	result, err := s.generator.Generate(r.Context(), req, clientID)
	if err != nil {
		writeGenerateError(w, err, req.ModelID)
		return
	}

	finish := result.FinishReason
	if finish == "" {
		finish = "stop"
	}
	resp := chatCompletionResponse{
		ID:      completionID(),
		Object:  "chat.completion",
		Created: time.Now().Unix(),
		Model:   req.ModelID,
		Choices: []chatCompletionChoice{{
			Index:        0,
			Message:      &domain.ChatMessage{Role: "assistant", Content: result.Content},
			FinishReason: &finish,
		}},
		Usage: &chatCompletionUsage{
			PromptTokens:     result.PromptTokens,
			CompletionTokens: result.OutputTokens,
			TotalTokens:      result.PromptTokens + result.OutputTokens,
		},
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (s *Server) streamChatCompletion(w http.ResponseWriter, r *http.Request, req domain.GenerateRequest, clientID string) {
	tokens, err := s.generator.Stream(r.Context(), req, clientID)
	if err != nil {
		writeGenerateError(w, err, req.ModelID)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		status, apiErr := errInternal()
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	id := completionID()
	created := time.Now().Unix()
	writer := bufio.NewWriter(w)

	writeFrame := func(delta chatDelta, finish *string) {
		chunk := chatCompletionResponse{
			ID:      id,
			Object:  "chat.completion.chunk",
			Created: created,
			Model:   req.ModelID,
			Choices: []chatCompletionChoice{{Index: 0, Delta: &delta, FinishReason: finish}},
		}
		data, _ := json.Marshal(chunk)
		fmt.Fprintf(writer, "data: %s\n\n", data)
		writer.Flush()
		flusher.Flush()
	}

	writeFrame(chatDelta{Role: "assistant"}, nil)

	for tok := range tokens {
		if tok.Err != nil {
			// The client has already committed to reading an SSE stream by
			// this point, so a mid-stream backend error is folded into one
			// final content frame rather than left as a silently dead
			// connection.
			writeFrame(chatDelta{Content: "[Error: " + tok.Err.Error() + "]"}, nil)
			stop := "stop"
			writeFrame(chatDelta{}, &stop)
			break
		}
		if tok.Content != "" {
			writeFrame(chatDelta{Content: tok.Content}, nil)
		}
		if tok.FinishReason != "" {
			finish := tok.FinishReason
			writeFrame(chatDelta{}, &finish)
			break
		}
	}

	fmt.Fprint(writer, "data: [DONE]\n\n")
	writer.Flush()
	flusher.Flush()
}

func writeGenerateError(w http.ResponseWriter, err error, modelID string) {
	switch err {
	case domain.ErrModelNotFound:
		status, apiErr := errModelNotFound(modelID)
		writeErrorEnvelope(w, status, apiErr)
	case domain.ErrAdmissionTimeout:
		status, apiErr := errAdmissionTimeout()
		writeErrorEnvelope(w, status, apiErr)
	default:
		status, apiErr := errModelLoadFailed(err.Error())
		writeErrorEnvelope(w, status, apiErr)
	}
}

// --- /v1/embeddings ---

type embeddingsRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embeddingObject struct {
	Index     int       `json:"index"`
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
}

type embeddingsResponse struct {
	Object string            `json:"object"`
	Model  string            `json:"model"`
	Data   []embeddingObject `json:"data"`
}

func (s *Server) handleEmbeddings(w http.ResponseWriter, r *http.Request) {
	var req embeddingsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		status, apiErr := errInvalidInput("invalid request body: "+err.Error(), "")
		writeErrorEnvelope(w, status, apiErr)
		return
	}
	if req.Model == "" || len(req.Input) == 0 {
		status, apiErr := errInvalidInput("model and input are required", "")
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	model, ok := s.models.Get(req.Model)
	if !ok {
		status, apiErr := errModelNotFound(req.Model)
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	vectors, err := model.Engine.Embed(r.Context(), req.Input)
	if err != nil {
		status, apiErr := errEmbeddingUnavailable()
		writeErrorEnvelope(w, status, apiErr)
		return
	}

	data := make([]embeddingObject, len(vectors))
	for i, v := range vectors {
		data[i] = embeddingObject{Index: i, Object: "embedding", Embedding: v}
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(embeddingsResponse{Object: "list", Model: req.Model, Data: data})
}
