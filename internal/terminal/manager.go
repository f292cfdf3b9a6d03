// Package terminal serves the oracle terminal over WebSocket.
package terminal

import (
	"log/slog"
	"sync"

	"github.com/coder/websocket"
)

// SessionManager tracks the active socket per owner and session. A new
// socket for the same pair replaces the old one.
type SessionManager struct {
	mu     sync.RWMutex
	active map[string]map[string]*websocket.Conn
}

// NewSessionManager creates a new session manager.
func NewSessionManager() *SessionManager {
	return &SessionManager{
		active: make(map[string]map[string]*websocket.Conn),
	}
}

// GetActive returns the active connection for an owner and session.
func (m *SessionManager) GetActive(owner, sessionID string) *websocket.Conn {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if sessions, ok := m.active[owner]; ok {
		return sessions[sessionID]
	}
	return nil
}

// Register records conn as the active socket, closing any socket it replaces.
func (m *SessionManager) Register(owner, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.active[owner]; !exists {
		m.active[owner] = make(map[string]*websocket.Conn)
	}

	if existing, exists := m.active[owner][sessionID]; exists && existing != conn {
		_ = existing.Close(websocket.StatusNormalClosure, "session replaced")
	}

	m.active[owner][sessionID] = conn
	slog.Info("Oracle socket registered", "owner", owner, "session_id", sessionID)
}

// Unregister removes conn if it is still the active socket.
func (m *SessionManager) Unregister(owner, sessionID string, conn *websocket.Conn) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if sessions, ok := m.active[owner]; ok {
		if current, exists := sessions[sessionID]; exists && current == conn {
			delete(sessions, sessionID)
			if len(sessions) == 0 {
				delete(m.active, owner)
			}
			slog.Info("Oracle socket unregistered", "owner", owner, "session_id", sessionID)
		}
	}
}

// Count returns the number of active sockets.
func (m *SessionManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	n := 0
	for _, sessions := range m.active {
		n += len(sessions)
	}
	return n
}

// CloseAll closes every active socket, used on shutdown.
func (m *SessionManager) CloseAll() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for owner, sessions := range m.active {
		for sid, conn := range sessions {
			_ = conn.Close(websocket.StatusGoingAway, "server shutting down")
			slog.Info("Oracle socket closed", "owner", owner, "session_id", sid)
		}
	}
	m.active = make(map[string]map[string]*websocket.Conn)
}
