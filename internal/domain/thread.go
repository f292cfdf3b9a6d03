package domain

import "fmt"

// ThreadKey identifies a conversation thread: one per session and mode.
type ThreadKey struct {
	SessionID string
	Mode      Mode
}

func (k ThreadKey) String() string {
	return k.SessionID + ":" + string(k.Mode)
}

// Validate checks that the key names a session and a recognized mode.
func (k ThreadKey) Validate() error {
	if k.SessionID == "" {
		return &ValidationError{Field: "session_id", Reason: "must not be empty"}
	}
	if !k.Mode.Valid() {
		return &ValidationError{Field: "mode", Reason: fmt.Sprintf("unrecognized mode %q", k.Mode)}
	}
	return nil
}

// ConversationThread binds a thread key to the handle issued upstream.
type ConversationThread struct {
	SessionID    string `json:"session_id"`
	Mode         Mode   `json:"mode"`
	ThreadHandle string `json:"thread_handle"`
}
