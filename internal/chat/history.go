package chat

import (
	"container/list"
	"sync"
	"time"

	"github.com/ashureev/oracle-shell/internal/domain"
)

// Role identifies who wrote a transcript entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one transcript entry.
type Message struct {
	Role      Role      `json:"role"`
	Content   string    `json:"content"`
	Error     bool      `json:"error,omitempty"`
	ShardID   string    `json:"shard_id,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// History keeps a bounded transcript per session and mode. Each transcript
// has its own list so one session's burst cannot evict another's entries.
type History struct {
	mu      sync.RWMutex
	lists   map[domain.ThreadKey]*list.List
	maxSize int
}

// NewHistory creates a history keeping at most maxSize entries per
// transcript.
func NewHistory(maxSize int) *History {
	if maxSize <= 0 {
		maxSize = 200
	}
	return &History{
		lists:   make(map[domain.ThreadKey]*list.List),
		maxSize: maxSize,
	}
}

// Append adds msg to the transcript for key, evicting the oldest entries
// beyond the limit.
func (h *History) Append(key domain.ThreadKey, msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	l, ok := h.lists[key]
	if !ok {
		l = list.New()
		h.lists[key] = l
	}
	l.PushBack(msg)
	for l.Len() > h.maxSize {
		l.Remove(l.Front())
	}
}

// Messages returns a copy of the transcript for key, oldest first.
func (h *History) Messages(key domain.ThreadKey) []Message {
	h.mu.RLock()
	defer h.mu.RUnlock()

	l, ok := h.lists[key]
	if !ok {
		return []Message{}
	}
	out := make([]Message, 0, l.Len())
	for e := l.Front(); e != nil; e = e.Next() {
		out = append(out, e.Value.(Message))
	}
	return out
}
