package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/ashureev/oracle-shell/internal/domain"
	"golang.org/x/sync/singleflight"
)

// Config tunes thread resolution and completion polling.
type Config struct {
	// PollInterval is the fixed delay between job status polls.
	PollInterval time.Duration
	// GenerationTimeout bounds the total wait for one completion.
	GenerationTimeout time.Duration
	// CreateTimeout bounds one upstream thread creation.
	CreateTimeout time.Duration
	// VerifyThreads checks cached handles upstream before reuse.
	VerifyThreads bool
}

// DefaultConfig returns the default resolver configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval:      time.Second,
		GenerationTimeout: 2 * time.Minute,
		CreateTimeout:     30 * time.Second,
	}
}

const cancelJobTimeout = 5 * time.Second

// Resolver keeps exactly one upstream thread per session and mode and runs
// completions on it.
type Resolver struct {
	svc      CompletionService
	registry Registry
	cfg      Config
	group    singleflight.Group
	logger   *slog.Logger

	// mu makes each registry compare-and-set step atomic with respect to
	// the others. It is never held across an upstream call.
	mu sync.Mutex
}

// NewResolver creates a resolver. Zero config fields take their defaults.
func NewResolver(svc CompletionService, registry Registry, cfg Config, logger *slog.Logger) *Resolver {
	def := DefaultConfig()
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.GenerationTimeout <= 0 {
		cfg.GenerationTimeout = def.GenerationTimeout
	}
	if cfg.CreateTimeout <= 0 {
		cfg.CreateTimeout = def.CreateTimeout
	}
	if registry == nil {
		registry = NewMemoryRegistry()
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{svc: svc, registry: registry, cfg: cfg, logger: logger}
}

// ResolveThread returns the thread handle for the session and mode,
// creating it upstream on first use. Concurrent callers for the same pair
// share one creation.
func (r *Resolver) ResolveThread(ctx context.Context, sessionID string, mode domain.Mode) (string, error) {
	key := domain.ThreadKey{SessionID: sessionID, Mode: mode}
	if err := key.Validate(); err != nil {
		return "", err
	}

	handle, ok, err := r.registry.Lookup(key)
	if err != nil {
		return "", fmt.Errorf("lookup thread %s: %w: %w", key, domain.ErrStoreUnavailable, err)
	}
	if !ok {
		return r.create(ctx, key, "")
	}
	if !r.cfg.VerifyThreads {
		return handle, nil
	}

	exists, err := r.svc.ThreadExists(ctx, handle)
	if err != nil {
		return "", fmt.Errorf("verify thread %s: %w: %w", key, domain.ErrUpstreamUnavailable, err)
	}
	if exists {
		return handle, nil
	}

	r.logger.Warn("Cached thread missing upstream, creating a new one",
		"session_id", sessionID,
		"mode", mode,
		"thread", handle)
	return r.create(ctx, key, handle)
}

// create makes a new thread for key unless another caller already replaced
// stale. The creation runs detached from ctx so a caller that gives up does
// not strand a thread that was already created upstream.
func (r *Resolver) create(ctx context.Context, key domain.ThreadKey, stale string) (string, error) {
	ch := r.group.DoChan(key.String(), func() (any, error) {
		current, ok, err := r.registry.Lookup(key)
		if err != nil {
			return "", fmt.Errorf("lookup thread %s: %w: %w", key, domain.ErrStoreUnavailable, err)
		}
		if ok && current != stale {
			return current, nil
		}

		createCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.cfg.CreateTimeout)
		defer cancel()

		handle, err := r.svc.CreateThread(createCtx)
		if err != nil {
			return "", fmt.Errorf("create thread %s: %w: %w", key, domain.ErrUpstreamUnavailable, err)
		}

		r.mu.Lock()
		defer r.mu.Unlock()
		if err := r.registry.Store(key, handle); err != nil {
			return "", fmt.Errorf("record thread %s: %w: %w", key, domain.ErrStoreUnavailable, err)
		}

		r.logger.Info("Thread created", "session_id", key.SessionID, "mode", key.Mode, "thread", handle)
		return handle, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", res.Err
		}
		handle, ok := res.Val.(string)
		if !ok || handle == "" {
			return "", fmt.Errorf("create thread %s: no handle recorded: %w", key, domain.ErrStoreUnavailable)
		}
		return handle, nil
	case <-ctx.Done():
		return "", ctx.Err()
	}
}

// Invalidate forgets handle for the session and mode if it is still the
// recorded one, so the next ResolveThread creates a fresh thread.
func (r *Resolver) Invalidate(sessionID string, mode domain.Mode, handle string) error {
	key := domain.ThreadKey{SessionID: sessionID, Mode: mode}
	forgotten, err := r.forget(key, handle)
	if err != nil {
		return fmt.Errorf("invalidate thread %s: %w", key, err)
	}
	if forgotten {
		r.logger.Info("Thread invalidated", "session_id", sessionID, "mode", mode, "thread", handle)
	}
	return nil
}

func (r *Resolver) forget(key domain.ThreadKey, handle string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok, err := r.registry.Lookup(key)
	if err != nil || !ok || current != handle {
		return false, err
	}
	if err := r.registry.Forget(key); err != nil {
		return false, err
	}
	return true, nil
}

// PostAndComplete appends the user message to the thread, starts a
// completion with the mode's persona and waits for its result.
func (r *Resolver) PostAndComplete(ctx context.Context, handle string, mode domain.Mode, userMessage string) (string, error) {
	persona, ok := PersonaFor(mode)
	if !ok {
		return "", &domain.ValidationError{Field: "mode", Reason: fmt.Sprintf("unrecognized mode %q", mode)}
	}
	if handle == "" {
		return "", &domain.ValidationError{Field: "thread", Reason: "must not be empty"}
	}
	if strings.TrimSpace(userMessage) == "" {
		return "", &domain.ValidationError{Field: "message", Reason: "must not be empty"}
	}

	if err := r.svc.AppendMessage(ctx, handle, userMessage); err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("append message: %w: %w", domain.ErrUpstreamUnavailable, err)
	}

	job, err := r.svc.StartCompletionJob(ctx, handle, persona.Instructions, persona.Sampling)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", fmt.Errorf("start completion: %w: %w", domain.ErrUpstreamUnavailable, err)
	}
	r.logger.Debug("Completion job started", "thread", handle, "job", job.JobID, "mode", mode)

	return r.await(ctx, job)
}

// await polls job on a fixed interval until it reaches a terminal state,
// the generation budget runs out, or ctx is cancelled.
func (r *Resolver) await(ctx context.Context, job JobHandle) (string, error) {
	budget, cancel := context.WithTimeoutCause(ctx, r.cfg.GenerationTimeout, domain.ErrGenerationTimeout)
	defer cancel()

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	polls := 0
	for {
		status, err := r.svc.GetJobStatus(budget, job)
		polls++
		if err != nil {
			if budget.Err() != nil {
				return "", r.abandon(ctx, job, polls)
			}
			return "", fmt.Errorf("poll job %s: %w: %w", job.JobID, domain.ErrUpstreamUnavailable, err)
		}

		switch status.State {
		case JobCompleted:
			if strings.TrimSpace(status.ResultText) == "" {
				return "", &domain.GenerationFailedError{Reason: "completion returned no text"}
			}
			r.logger.Debug("Completion job finished", "job", job.JobID, "polls", polls)
			return status.ResultText, nil
		case JobFailed:
			r.logger.Warn("Completion job failed", "job", job.JobID, "reason", status.FailureReason)
			return "", &domain.GenerationFailedError{Reason: status.FailureReason}
		}

		select {
		case <-budget.Done():
			return "", r.abandon(ctx, job, polls)
		case <-ticker.C:
		}
	}
}

// abandon cancels a job nobody is waiting for any more.
func (r *Resolver) abandon(ctx context.Context, job JobHandle, polls int) error {
	cancelCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cancelJobTimeout)
	defer cancel()
	if err := r.svc.CancelJob(cancelCtx, job); err != nil {
		r.logger.Warn("Failed to cancel abandoned job", "job", job.JobID, "error", err)
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	return fmt.Errorf("job %s after %s (%d polls): %w", job.JobID, r.cfg.GenerationTimeout, polls, domain.ErrGenerationTimeout)
}

// IsStaleThread reports whether err means the thread handle is gone upstream.
func IsStaleThread(err error) bool {
	return errors.Is(err, ErrThreadNotFound)
}
