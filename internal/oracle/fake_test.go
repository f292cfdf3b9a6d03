package oracle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// fakeCompletion is an in-memory CompletionService whose jobs complete
// after a configurable number of polls.
type fakeCompletion struct {
	mu sync.Mutex

	createDelay  time.Duration
	createErr    error
	appendErr    error
	pollsToDone  int
	failReason   string
	neverFinish  bool
	reply        func(instructions, message string) string
	threads      map[string][]string
	jobs         map[string]*fakeJob
	creates      int
	polls        int
	cancelled    []string
	lastSampling SamplingParams
}

type fakeJob struct {
	thread       string
	instructions string
	polls        int
}

func newFakeCompletion() *fakeCompletion {
	return &fakeCompletion{
		pollsToDone: 2,
		threads:     make(map[string][]string),
		jobs:        make(map[string]*fakeJob),
		reply: func(_, message string) string {
			return "the oracle hears: " + message
		},
	}
}

func (f *fakeCompletion) CreateThread(ctx context.Context) (string, error) {
	if f.createDelay > 0 {
		select {
		case <-time.After(f.createDelay):
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return "", f.createErr
	}
	f.creates++
	id := fmt.Sprintf("thread_%d", f.creates)
	f.threads[id] = nil
	return id, nil
}

func (f *fakeCompletion) ThreadExists(_ context.Context, thread string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.threads[thread]
	return ok, nil
}

func (f *fakeCompletion) AppendMessage(_ context.Context, thread, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.appendErr != nil {
		return f.appendErr
	}
	if _, ok := f.threads[thread]; !ok {
		return fmt.Errorf("thread %s: %w", thread, ErrThreadNotFound)
	}
	f.threads[thread] = append(f.threads[thread], text)
	return nil
}

func (f *fakeCompletion) StartCompletionJob(_ context.Context, thread, instructions string, params SamplingParams) (JobHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("run_%d", len(f.jobs)+1)
	f.jobs[id] = &fakeJob{thread: thread, instructions: instructions}
	f.lastSampling = params
	return JobHandle{ThreadID: thread, JobID: id}, nil
}

func (f *fakeCompletion) GetJobStatus(ctx context.Context, job JobHandle) (JobStatus, error) {
	if err := ctx.Err(); err != nil {
		return JobStatus{}, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	j, ok := f.jobs[job.JobID]
	if !ok {
		return JobStatus{}, errors.New("unknown job")
	}
	f.polls++
	j.polls++
	if f.neverFinish || j.polls < f.pollsToDone {
		return JobStatus{State: JobInProgress}, nil
	}
	if f.failReason != "" {
		return JobStatus{State: JobFailed, FailureReason: f.failReason}, nil
	}
	msgs := f.threads[j.thread]
	last := ""
	if len(msgs) > 0 {
		last = msgs[len(msgs)-1]
	}
	return JobStatus{State: JobCompleted, ResultText: f.reply(j.instructions, last)}, nil
}

func (f *fakeCompletion) CancelJob(_ context.Context, job JobHandle) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, job.JobID)
	return nil
}

func (f *fakeCompletion) dropThread(thread string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.threads, thread)
}

func (f *fakeCompletion) createCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates
}

func (f *fakeCompletion) pollCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.polls
}

func (f *fakeCompletion) cancelledJobs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.cancelled...)
}
