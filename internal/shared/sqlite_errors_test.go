package shared

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestIsSQLiteConflictError(t *testing.T) {
	if IsSQLiteConflictError(nil) {
		t.Error("nil should not be a conflict")
	}
	if !IsSQLiteConflictError(errors.New("exec: SQLITE_BUSY (5)")) {
		t.Error("expected SQLITE_BUSY to be a conflict")
	}
	if !IsSQLiteConflictError(errors.New("database is locked")) {
		t.Error("expected locked database to be a conflict")
	}
	if IsSQLiteConflictError(errors.New("no such table")) {
		t.Error("unexpected conflict for schema error")
	}
}

func TestRetryStopsOnSuccess(t *testing.T) {
	calls := 0
	err := Retry(context.Background(), RetryPolicy{MaxAttempts: 5, BaseDelay: time.Millisecond}, "test", func(context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("database is locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 calls, got %d", calls)
	}
}

func TestRetrySkipsNonRetryable(t *testing.T) {
	calls := 0
	want := errors.New("constraint failed")
	p := BusyRetryPolicy
	p.BaseDelay = time.Millisecond
	err := Retry(context.Background(), p, "test", func(context.Context) error {
		calls++
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected %v, got %v", want, err)
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt, got %d", calls)
	}
}

func TestRetryHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	calls := 0
	err := Retry(ctx, RetryPolicy{MaxAttempts: 3, BaseDelay: time.Hour}, "test", func(context.Context) error {
		calls++
		return errors.New("SQLITE_BUSY")
	})
	if err == nil {
		t.Fatal("expected error")
	}
	if calls != 1 {
		t.Fatalf("expected 1 call before cancellation, got %d", calls)
	}
}
