// Package oracle resolves conversation threads per session and mode and
// drives completion jobs on the upstream model service.
package oracle

import (
	"context"
	"errors"
)

// ErrThreadNotFound is returned by a CompletionService when a thread handle
// is no longer known upstream.
var ErrThreadNotFound = errors.New("thread not found")

// JobState is the lifecycle state of a completion job.
type JobState string

const (
	JobInProgress JobState = "IN_PROGRESS"
	JobCompleted  JobState = "COMPLETED"
	JobFailed     JobState = "FAILED"
)

// Terminal reports whether no further transitions are possible.
func (s JobState) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// JobHandle identifies a completion job on a thread.
type JobHandle struct {
	ThreadID string
	JobID    string
}

// JobStatus is one observation of a completion job.
type JobStatus struct {
	State         JobState
	ResultText    string
	FailureReason string
}

// SamplingParams tune the completion.
type SamplingParams struct {
	Temperature float64
	TopP        float64
}

// CompletionService is the upstream model API.
type CompletionService interface {
	// CreateThread opens a new conversation thread.
	CreateThread(ctx context.Context) (string, error)

	// ThreadExists reports whether the handle is still valid upstream.
	ThreadExists(ctx context.Context, thread string) (bool, error)

	// AppendMessage adds a user message to the thread.
	AppendMessage(ctx context.Context, thread, text string) error

	// StartCompletionJob asks the model to answer on the thread.
	StartCompletionJob(ctx context.Context, thread, instructions string, params SamplingParams) (JobHandle, error)

	// GetJobStatus polls the job once.
	GetJobStatus(ctx context.Context, job JobHandle) (JobStatus, error)

	// CancelJob abandons a job that is still running.
	CancelJob(ctx context.Context, job JobHandle) error
}
