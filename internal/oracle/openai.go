package oracle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI Assistants adapter.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	AssistantID string
	Model       string
}

// OpenAIService implements CompletionService on the OpenAI Assistants API:
// threads hold the conversation and runs are the completion jobs.
type OpenAIService struct {
	client openai.Client
	model  string
	logger *slog.Logger

	mu          sync.Mutex
	assistantID string
	verified    bool
}

// NewOpenAIService creates the adapter. The client does not retry on its
// own; retry policy belongs to callers.
func NewOpenAIService(cfg OpenAIConfig, logger *slog.Logger) *OpenAIService {
	if logger == nil {
		logger = slog.Default()
	}
	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
		option.WithMaxRetries(0),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	return &OpenAIService{
		client:      openai.NewClient(opts...),
		model:       cfg.Model,
		logger:      logger,
		assistantID: cfg.AssistantID,
	}
}

// AssistantID returns the assistant used for runs. A configured id is
// verified once; when it is missing upstream a new assistant is created.
func (s *OpenAIService) AssistantID(ctx context.Context) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.assistantID != "" && s.verified {
		return s.assistantID, nil
	}

	if s.assistantID != "" {
		_, err := s.client.Beta.Assistants.Get(ctx, s.assistantID)
		if err == nil {
			s.verified = true
			return s.assistantID, nil
		}
		if !isNotFound(err) {
			return "", fmt.Errorf("verify assistant %s: %w", s.assistantID, err)
		}
		s.logger.Warn("Assistant not found, creating new one", "assistant_id", s.assistantID)
		s.assistantID = ""
	}

	assistant, err := s.client.Beta.Assistants.New(ctx, openai.BetaAssistantNewParams{
		Model:        shared.ChatModel(s.model),
		Name:         openai.String(AssistantName),
		Instructions: openai.String(AssistantInstructions),
	})
	if err != nil {
		return "", fmt.Errorf("create assistant: %w", err)
	}
	s.assistantID = assistant.ID
	s.verified = true
	s.logger.Info("Created new assistant", "assistant_id", assistant.ID, "model", s.model)
	return s.assistantID, nil
}

// CreateThread opens a new thread.
func (s *OpenAIService) CreateThread(ctx context.Context) (string, error) {
	thread, err := s.client.Beta.Threads.New(ctx, openai.BetaThreadNewParams{})
	if err != nil {
		return "", fmt.Errorf("create thread: %w", err)
	}
	return thread.ID, nil
}

// ThreadExists reports whether the thread is still known upstream.
func (s *OpenAIService) ThreadExists(ctx context.Context, thread string) (bool, error) {
	_, err := s.client.Beta.Threads.Get(ctx, thread)
	if err == nil {
		return true, nil
	}
	if isNotFound(err) {
		return false, nil
	}
	return false, fmt.Errorf("get thread %s: %w", thread, err)
}

// AppendMessage adds a user message to the thread.
func (s *OpenAIService) AppendMessage(ctx context.Context, thread, text string) error {
	_, err := s.client.Beta.Threads.Messages.New(ctx, thread, openai.BetaThreadMessageNewParams{
		Role: openai.BetaThreadMessageNewParamsRole("user"),
		Content: openai.BetaThreadMessageNewParamsContentUnion{
			OfString: openai.String(text),
		},
	})
	if err != nil {
		if isNotFound(err) {
			return fmt.Errorf("thread %s: %w", thread, ErrThreadNotFound)
		}
		return fmt.Errorf("add message to %s: %w", thread, err)
	}
	return nil
}

// StartCompletionJob creates a run on the thread with the given persona
// instructions.
func (s *OpenAIService) StartCompletionJob(ctx context.Context, thread, instructions string, params SamplingParams) (JobHandle, error) {
	assistantID, err := s.AssistantID(ctx)
	if err != nil {
		return JobHandle{}, err
	}

	run, err := s.client.Beta.Threads.Runs.New(ctx, thread, openai.BetaThreadRunNewParams{
		AssistantID:  assistantID,
		Instructions: openai.String(instructions),
		Temperature:  openai.Float(params.Temperature),
		TopP:         openai.Float(params.TopP),
	})
	if err != nil {
		if isNotFound(err) {
			return JobHandle{}, fmt.Errorf("thread %s: %w", thread, ErrThreadNotFound)
		}
		return JobHandle{}, fmt.Errorf("create run on %s: %w", thread, err)
	}
	return JobHandle{ThreadID: thread, JobID: run.ID}, nil
}

// GetJobStatus retrieves the run and, once completed, its reply text.
func (s *OpenAIService) GetJobStatus(ctx context.Context, job JobHandle) (JobStatus, error) {
	run, err := s.client.Beta.Threads.Runs.Get(ctx, job.ThreadID, job.JobID)
	if err != nil {
		return JobStatus{}, fmt.Errorf("get run %s: %w", job.JobID, err)
	}

	status := jobStatusFromRun(run)
	if status.State != JobCompleted {
		return status, nil
	}

	text, err := s.replyText(ctx, job)
	if err != nil {
		return JobStatus{}, err
	}
	status.ResultText = text
	return status, nil
}

// CancelJob cancels a run that is still in progress.
func (s *OpenAIService) CancelJob(ctx context.Context, job JobHandle) error {
	if _, err := s.client.Beta.Threads.Runs.Cancel(ctx, job.ThreadID, job.JobID); err != nil {
		return fmt.Errorf("cancel run %s: %w", job.JobID, err)
	}
	return nil
}

// replyText collects the text parts of the assistant message the run wrote.
func (s *OpenAIService) replyText(ctx context.Context, job JobHandle) (string, error) {
	page, err := s.client.Beta.Threads.Messages.List(ctx, job.ThreadID, openai.BetaThreadMessageListParams{
		RunID: openai.String(job.JobID),
		Order: openai.BetaThreadMessageListParamsOrder("desc"),
	})
	if err != nil {
		return "", fmt.Errorf("list messages for run %s: %w", job.JobID, err)
	}

	for _, msg := range page.Data {
		if string(msg.Role) != "assistant" {
			continue
		}
		var b strings.Builder
		for _, part := range msg.Content {
			if part.Type == "text" {
				b.WriteString(part.Text.Value)
			}
		}
		if b.Len() > 0 {
			return b.String(), nil
		}
	}
	return "", fmt.Errorf("run %s produced no text reply", job.JobID)
}

func jobStatusFromRun(run *openai.Run) JobStatus {
	switch string(run.Status) {
	case "completed":
		return JobStatus{State: JobCompleted}
	case "failed":
		reason := run.LastError.Message
		if reason == "" {
			reason = "run failed"
		}
		return JobStatus{State: JobFailed, FailureReason: reason}
	case "cancelled", "expired", "incomplete":
		return JobStatus{State: JobFailed, FailureReason: "run " + string(run.Status)}
	case "requires_action":
		// No tools are registered, so nothing can satisfy the action.
		return JobStatus{State: JobFailed, FailureReason: "run requires tool action"}
	default:
		return JobStatus{State: JobInProgress}
	}
}

func isNotFound(err error) bool {
	var apiErr *openai.Error
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

var _ CompletionService = (*OpenAIService)(nil)
