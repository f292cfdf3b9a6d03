// Package chat runs oracle conversations: it resolves the session's thread,
// waits for the completion and archives each exchange as a Truth Shard.
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ashureev/oracle-shell/internal/domain"
	"github.com/ashureev/oracle-shell/internal/oracle"
)

// ThreadResolver is the part of the resolver the chat service drives.
type ThreadResolver interface {
	ResolveThread(ctx context.Context, sessionID string, mode domain.Mode) (string, error)
	PostAndComplete(ctx context.Context, handle string, mode domain.Mode, userMessage string) (string, error)
	Invalidate(sessionID string, mode domain.Mode, handle string) error
}

// ShardMinter archives completed exchanges.
type ShardMinter interface {
	MintShard(ctx context.Context, prompt, response string, mode domain.Mode, owner string) (*domain.TruthShard, error)
}

// Request is one user message.
type Request struct {
	SessionID string
	Mode      domain.Mode
	Message   string
	Owner     string
}

// Reply is the oracle's answer. Shard is nil when archiving failed.
type Reply struct {
	Content string             `json:"content"`
	Mode    domain.Mode        `json:"mode"`
	Shard   *domain.TruthShard `json:"shard,omitempty"`
}

// Service composes the resolver and the archive.
type Service struct {
	resolver ThreadResolver
	shards   ShardMinter
	history  *History
	logger   *slog.Logger
	now      func() time.Time
}

// NewService creates a chat service.
func NewService(resolver ThreadResolver, shards ShardMinter, history *History, logger *slog.Logger) *Service {
	if history == nil {
		history = NewHistory(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		resolver: resolver,
		shards:   shards,
		history:  history,
		logger:   logger,
		now:      time.Now,
	}
}

// Send delivers the message to the session's thread and returns the reply.
// Failures are also recorded in the transcript as an inline error entry.
func (s *Service) Send(ctx context.Context, req Request) (*Reply, error) {
	key := domain.ThreadKey{SessionID: req.SessionID, Mode: req.Mode}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return nil, &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	s.history.Append(key, Message{Role: RoleUser, Content: message, Timestamp: s.now()})

	handle, err := s.resolver.ResolveThread(ctx, req.SessionID, req.Mode)
	if err != nil {
		return nil, s.fail(key, err)
	}

	text, err := s.resolver.PostAndComplete(ctx, handle, req.Mode, message)
	if err != nil {
		if oracle.IsStaleThread(err) {
			if ierr := s.resolver.Invalidate(req.SessionID, req.Mode, handle); ierr != nil {
				s.logger.Warn("Failed to invalidate stale thread", "session_id", req.SessionID, "thread", handle, "error", ierr)
			}
		}
		return nil, s.fail(key, err)
	}

	reply := &Reply{Content: text, Mode: req.Mode}
	shard, err := s.shards.MintShard(ctx, message, text, req.Mode, req.Owner)
	if err != nil {
		// The reply is still delivered; only the archive entry is lost.
		s.logger.Error("Failed to mint shard",
			"session_id", req.SessionID,
			"mode", req.Mode,
			"error", err)
	} else {
		reply.Shard = shard
	}

	entry := Message{Role: RoleAssistant, Content: text, Timestamp: s.now()}
	if shard != nil {
		entry.ShardID = shard.ID
	}
	s.history.Append(key, entry)

	return reply, nil
}

// History returns the transcript for the session and mode.
func (s *Service) History(sessionID string, mode domain.Mode) ([]Message, error) {
	key := domain.ThreadKey{SessionID: sessionID, Mode: mode}
	if err := key.Validate(); err != nil {
		return nil, err
	}
	return s.history.Messages(key), nil
}

func (s *Service) fail(key domain.ThreadKey, err error) error {
	if !errors.Is(err, context.Canceled) {
		s.logger.Warn("Chat request failed", "session_id", key.SessionID, "mode", key.Mode, "error", err)
	}
	s.history.Append(key, Message{
		Role:      RoleAssistant,
		Content:   "ERROR: " + ErrorText(err),
		Error:     true,
		Timestamp: s.now(),
	})
	return err
}

// ErrorText renders err for display in the terminal.
func ErrorText(err error) string {
	var gerr *domain.GenerationFailedError
	switch {
	case errors.As(err, &gerr):
		return fmt.Sprintf("the vision collapsed (%s)", gerr.Reason)
	case errors.Is(err, domain.ErrGenerationTimeout):
		return "the oracle fell silent before the vision completed"
	case errors.Is(err, domain.ErrUpstreamUnavailable):
		return "the oracle is unreachable, try again"
	case errors.Is(err, domain.ErrStoreUnavailable):
		return "the archive is unreachable"
	case errors.Is(err, domain.ErrValidation):
		return err.Error()
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "request abandoned"
	default:
		return "failed to get response"
	}
}
