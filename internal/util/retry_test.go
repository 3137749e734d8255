package util

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryWithContext(t *testing.T) {
	calls := 0
	result, err := RetryWithContext(context.Background(), 3, func(context.Context) (int, error) {
		calls++
		if calls < 2 {
			return 0, errors.New("transient")
		}
		return 42, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if result != 42 {
		t.Fatalf("unexpected result: got %d, want 42", result)
	}
	if calls != 2 {
		t.Fatalf("unexpected attempts: got %d, want 2", calls)
	}
}

func TestRetryWithContextExhausted(t *testing.T) {
	want := errors.New("still broken")
	calls := 0
	_, err := RetryWithContext(context.Background(), 2, func(context.Context) (int, error) {
		calls++
		return 0, want
	})
	if !errors.Is(err, want) {
		t.Fatalf("expected last error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("unexpected attempts: got %d, want 2", calls)
	}
}

func TestRetryWithContextDefaultsToOneTry(t *testing.T) {
	calls := 0
	_, _ = RetryWithContext(context.Background(), 0, func(context.Context) (int, error) {
		calls++
		return 0, errors.New("fail")
	})
	if calls != 1 {
		t.Fatalf("unexpected attempts: got %d, want 1", calls)
	}
}

func TestRetryWithContextStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := RetryWithContext(ctx, 5, func(context.Context) (int, error) {
		calls++
		cancel()
		return 0, errors.New("transient")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("retry after cancel: %d calls", calls)
	}
}

func TestRetryWithContextPassesThroughContextErrors(t *testing.T) {
	_, err := RetryWithContext(context.Background(), 5, func(context.Context) (int, error) {
		return 0, context.DeadlineExceeded
	})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline error, got %v", err)
	}
}

func TestRetryBackoffDoublesWait(t *testing.T) {
	start := time.Now()
	calls := 0
	err := RetryBackoff(context.Background(), 3, 10*time.Millisecond, func(context.Context) error {
		calls++
		return errors.New("transient")
	})
	if err == nil {
		t.Fatalf("expected final error")
	}
	if calls != 3 {
		t.Fatalf("unexpected attempts: got %d, want 3", calls)
	}
	// waits 10ms + 20ms between the three attempts
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Fatalf("backoff too short: %v", elapsed)
	}
}

func TestRetryBackoffStopsOnSuccess(t *testing.T) {
	calls := 0
	err := RetryBackoff(context.Background(), 5, time.Millisecond, func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 2 {
		t.Fatalf("unexpected attempts: got %d, want 2", calls)
	}
}
