package api

import (
	"context"
	"fmt"
	"net/http"

	"github.com/ashureev/oracle-shell/internal/chat"
	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/ashureev/oracle-shell/internal/identity"
	"github.com/go-chi/chi/v5"
)

// ChatSender runs chat exchanges.
type ChatSender interface {
	Send(ctx context.Context, req chat.Request) (*chat.Reply, error)
	History(sessionID string, mode domain.Mode) ([]chat.Message, error)
}

// AssistantResolver returns the upstream assistant id.
type AssistantResolver interface {
	AssistantID(ctx context.Context) (string, error)
}

// ChatHandler handles chat and assistant endpoints.
type ChatHandler struct {
	chat      ChatSender
	assistant AssistantResolver
}

// NewChatHandler creates a chat handler.
func NewChatHandler(sender ChatSender, assistant AssistantResolver) *ChatHandler {
	return &ChatHandler{chat: sender, assistant: assistant}
}

// RegisterRoutes registers chat routes.
func (h *ChatHandler) RegisterRoutes(r chi.Router) {
	r.Post("/api/chat", h.Send)
	r.Get("/api/chat/history", h.History)
	r.Get("/api/assistant", h.Assistant)
}

type chatRequest struct {
	Message string `json:"message"`
	Mode    string `json:"mode"`
}

// Send posts a message to the oracle for the caller's session.
func (h *ChatHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	mode, err := domain.ParseMode(req.Mode)
	if err != nil {
		writeError(w, r, err)
		return
	}

	reply, err := h.chat.Send(r.Context(), chat.Request{
		SessionID: identity.SessionIDFromContext(r.Context()),
		Mode:      mode,
		Message:   req.Message,
		Owner:     identity.OwnerFromContext(r.Context()),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, reply)
}

// History returns the caller's transcript for one mode.
func (h *ChatHandler) History(w http.ResponseWriter, r *http.Request) {
	mode, err := domain.ParseMode(r.URL.Query().Get("mode"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	sessionID := identity.SessionIDFromContext(r.Context())
	messages, err := h.chat.History(sessionID, mode)
	if err != nil {
		writeError(w, r, err)
		return
	}
	JSON(w, http.StatusOK, map[string]interface{}{
		"session_id": sessionID,
		"mode":       mode,
		"messages":   messages,
	})
}

// Assistant verifies or creates the upstream assistant and returns its id.
func (h *ChatHandler) Assistant(w http.ResponseWriter, r *http.Request) {
	id, err := h.assistant.AssistantID(r.Context())
	if err != nil {
		writeError(w, r, fmt.Errorf("resolve assistant: %w: %w", domain.ErrUpstreamUnavailable, err))
		return
	}
	JSON(w, http.StatusOK, map[string]string{"assistantId": id})
}
