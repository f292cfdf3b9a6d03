package terminal

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/ashureev/oracle-shell/internal/chat"
	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/ashureev/oracle-shell/internal/identity"
	"github.com/coder/websocket"
)

const (
	writeTimeout = 10 * time.Second
	// pendingFrames bounds frames read ahead while a prompt is in flight.
	pendingFrames = 8
)

// ChatSender runs chat exchanges.
type ChatSender interface {
	Send(ctx context.Context, req chat.Request) (*chat.Reply, error)
	History(sessionID string, mode domain.Mode) ([]chat.Message, error)
}

// WebSocketHandler serves oracle prompts over a WebSocket.
type WebSocketHandler struct {
	chat          ChatSender
	sm            *SessionManager
	allowedOrigin string
	isDev         bool
}

// NewWebSocketHandler creates a new WebSocket handler.
func NewWebSocketHandler(sender ChatSender, sm *SessionManager, allowedOrigin string, isDev bool) *WebSocketHandler {
	return &WebSocketHandler{
		chat:          sender,
		sm:            sm,
		allowedOrigin: allowedOrigin,
		isDev:         isDev,
	}
}

// wsMessage is the frame format in both directions.
type wsMessage struct {
	Type     string         `json:"type"`
	Mode     string         `json:"mode,omitempty"`
	Content  string         `json:"content,omitempty"`
	ShardID  string         `json:"shard_id,omitempty"`
	Messages []chat.Message `json:"messages,omitempty"`
}

// ServeHTTP implements http.Handler for WebSocket upgrade.
func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	owner := identity.OwnerFromContext(r.Context())
	sessionID := identity.SessionIDFromContext(r.Context())
	slog.Info("WebSocket connection request", "owner", owner, "session_id", sessionID, "ip", identity.IPFromRequest(r))

	if !h.checkOrigin(r) {
		http.Error(w, "origin not allowed", http.StatusForbidden)
		return
	}

	ws, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		slog.Error("Failed to accept WebSocket", "error", err, "owner", owner)
		return
	}
	defer func() {
		if closeErr := ws.Close(websocket.StatusNormalClosure, "session ended"); closeErr != nil {
			slog.Debug("Failed to close websocket", "error", closeErr, "owner", owner)
		}
	}()

	h.sm.Register(owner, sessionID, ws)
	defer h.sm.Unregister(owner, sessionID, ws)

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	frames := make(chan wsMessage, pendingFrames)
	go func() {
		defer cancel()
		defer close(frames)
		h.readLoop(ctx, ws, frames, owner)
	}()

	for {
		select {
		case <-ctx.Done():
			slog.Info("Oracle session ended", "owner", owner, "session_id", sessionID)
			return
		case msg, ok := <-frames:
			if !ok {
				return
			}
			if !h.dispatch(ctx, ws, msg, owner, sessionID) {
				return
			}
		}
	}
}

func (h *WebSocketHandler) checkOrigin(r *http.Request) bool {
	if h.isDev {
		return true
	}
	origin := r.Header.Get("Origin")
	if origin == "" || h.allowedOrigin == "*" || h.allowedOrigin == "" {
		return true
	}
	if origin == h.allowedOrigin {
		return true
	}
	slog.Warn("WebSocket origin rejected", "origin", origin, "allowed", h.allowedOrigin)
	return false
}

// readLoop decodes frames until the socket closes. Malformed frames are
// answered with an error frame.
func (h *WebSocketHandler) readLoop(ctx context.Context, ws *websocket.Conn, frames chan<- wsMessage, owner string) {
	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 || ctx.Err() != nil {
				slog.Debug("WebSocket closed", "owner", owner)
			} else {
				slog.Warn("WebSocket read error", "error", err, "owner", owner)
			}
			return
		}

		var msg wsMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			msg = wsMessage{Type: "invalid"}
		}
		select {
		case frames <- msg:
		case <-ctx.Done():
			return
		}
	}
}

// dispatch handles one frame and reports whether the session continues.
func (h *WebSocketHandler) dispatch(ctx context.Context, ws *websocket.Conn, msg wsMessage, owner, sessionID string) bool {
	// Frames queued on a socket that another tab has since replaced are dropped.
	if h.sm.GetActive(owner, sessionID) != ws {
		slog.Debug("Dropping frame for replaced socket", "type", msg.Type, "owner", owner, "session_id", sessionID)
		return false
	}

	var out wsMessage
	switch msg.Type {
	case "prompt":
		out = h.prompt(ctx, msg, owner, sessionID)
	case "history":
		out = h.history(msg, sessionID)
	case "ping":
		out = wsMessage{Type: "pong"}
	case "close":
		_ = h.writeJSON(ctx, ws, wsMessage{Type: "closed"})
		return false
	default:
		out = wsMessage{Type: "error", Content: "ERROR: unsupported frame"}
	}

	if err := h.writeJSON(ctx, ws, out); err != nil {
		slog.Debug("Failed to write frame", "type", out.Type, "error", err, "owner", owner)
		return false
	}
	return true
}

func (h *WebSocketHandler) prompt(ctx context.Context, msg wsMessage, owner, sessionID string) wsMessage {
	mode, err := domain.ParseMode(msg.Mode)
	if err != nil {
		return wsMessage{Type: "error", Content: "ERROR: " + chat.ErrorText(err)}
	}

	reply, err := h.chat.Send(ctx, chat.Request{
		SessionID: sessionID,
		Mode:      mode,
		Message:   msg.Content,
		Owner:     owner,
	})
	if err != nil {
		return wsMessage{Type: "error", Mode: string(mode), Content: "ERROR: " + chat.ErrorText(err)}
	}

	out := wsMessage{Type: "response", Mode: string(mode), Content: reply.Content}
	if reply.Shard != nil {
		out.ShardID = reply.Shard.ID
	}
	return out
}

func (h *WebSocketHandler) history(msg wsMessage, sessionID string) wsMessage {
	mode, err := domain.ParseMode(msg.Mode)
	if err != nil {
		return wsMessage{Type: "error", Content: "ERROR: " + chat.ErrorText(err)}
	}
	messages, err := h.chat.History(sessionID, mode)
	if err != nil {
		return wsMessage{Type: "error", Mode: string(mode), Content: "ERROR: " + chat.ErrorText(err)}
	}
	return wsMessage{Type: "history", Mode: string(mode), Messages: messages}
}

func (h *WebSocketHandler) writeJSON(ctx context.Context, ws *websocket.Conn, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()
	return ws.Write(writeCtx, websocket.MessageText, data)
}
