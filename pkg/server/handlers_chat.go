package server

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/lks21c/hdsp-agent/pkg/llms"
)

type chatRequest struct {
	Message        string `json:"message"`
	ConversationID string `json:"conversationId,omitempty"`
}

type chatResponse struct {
	Response       string `json:"response"`
	ConversationID string `json:"conversationId"`
	Model          string `json:"model"`
}

// sseFrame is one event on the chat stream. A terminal frame has done=true;
// an error frame carries the message in error instead of content.
type sseFrame struct {
	Content        string `json:"content,omitempty"`
	Done           bool   `json:"done"`
	ConversationID string `json:"conversationId,omitempty"`
	Error          string `json:"error,omitempty"`
}

func (s *Server) chatSetup(w http.ResponseWriter, r *http.Request) (provider llms.Provider, message, conversationID, contextText string, ok bool) {
	var req chatRequest
	if !decodeBody(w, r, &req) {
		return nil, "", "", "", false
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return nil, "", "", "", false
	}

	s.mu.RLock()
	provider = s.provider
	limit := s.cfg.Session.ContextLimit
	s.mu.RUnlock()

	conversationID = req.ConversationID
	if conversationID == "" {
		conversationID = s.sessions.Create("").ID
	}
	return provider, req.Message, conversationID, s.sessions.BuildContext(conversationID, limit), true
}

func (s *Server) handleChatMessage(w http.ResponseWriter, r *http.Request) {
	provider, message, conversationID, contextText, ok := s.chatSetup(w, r)
	if !ok {
		return
	}

	response, err := provider.Generate(r.Context(), message, contextText)
	s.metrics.ObserveLLMCall("chat", err)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}

	s.sessions.StoreExchange(conversationID, message, response)
	writeJSON(w, http.StatusOK, chatResponse{
		Response:       response,
		ConversationID: conversationID,
		Model:          provider.ModelName(),
	})
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	provider, message, conversationID, contextText, ok := s.chatSetup(w, r)
	if !ok {
		return
	}

	flusher, canFlush := w.(http.Flusher)
	if !canFlush {
		writeError(w, http.StatusInternalServerError, "streaming unsupported")
		return
	}

	chunks, err := provider.GenerateStreaming(r.Context(), message, contextText)
	s.metrics.ObserveLLMCall("chat_stream", err)
	if err != nil {
		writeErrorFrom(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	var full strings.Builder
	for chunk := range chunks {
		switch chunk.Type {
		case llms.ChunkTypeText:
			full.WriteString(chunk.Text)
			writeSSE(w, flusher, sseFrame{Content: chunk.Text})
		case llms.ChunkTypeError:
			writeSSE(w, flusher, sseFrame{Error: chunk.Error.Error(), Done: true})
			return
		case llms.ChunkTypeDone:
			writeSSE(w, flusher, sseFrame{Done: true, ConversationID: conversationID})
		}
	}

	if full.Len() > 0 {
		s.sessions.StoreExchange(conversationID, message, full.String())
	}
}

func writeSSE(w http.ResponseWriter, flusher http.Flusher, frame sseFrame) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}
	_, _ = w.Write([]byte("data: "))
	_, _ = w.Write(data)
	_, _ = w.Write([]byte("\n\n"))
	flusher.Flush()
}
