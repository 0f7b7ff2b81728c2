package stocksync

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryDo_TransientErrorsAreRetried(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 3, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return Transient(errors.New("flaky"))
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success on the third attempt, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestRetryDo_PermanentErrorsReturnImmediately(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	permanent := errors.New("bad request")
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return permanent
	})
	if !errors.Is(err, permanent) {
		t.Fatalf("expected the permanent error back, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("a permanent error must not be retried, got %d attempts", calls)
	}
}

func TestRetryDo_ExhaustionReturnsLastError(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 2, BaseBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}

	calls := 0
	err := policy.Do(context.Background(), func(ctx context.Context) error {
		calls++
		return Transient(errors.New("still down"))
	})
	if !IsTransient(err) {
		t.Fatalf("expected the last transient error, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected exactly MaxAttempts attempts, got %d", calls)
	}
}

func TestRetryDo_CancelledContextStopsBackoff(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 10, BaseBackoff: time.Hour, MaxBackoff: time.Hour}

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- policy.Do(ctx, func(ctx context.Context) error {
			calls++
			return Transient(errors.New("down"))
		})
	}()
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Do did not return after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected a single attempt before cancellation, got %d", calls)
	}
}

func TestBackoff_GrowsAndCaps(t *testing.T) {
	policy := RetryPolicy{MaxAttempts: 5, BaseBackoff: 100 * time.Millisecond, MaxBackoff: 300 * time.Millisecond}
	cases := []struct {
		attempt  int
		expected time.Duration
	}{
		{1, 100 * time.Millisecond},
		{2, 200 * time.Millisecond},
		{3, 300 * time.Millisecond},
		{4, 300 * time.Millisecond},
	}
	for _, tc := range cases {
		if got := policy.backoff(tc.attempt); got != tc.expected {
			t.Fatalf("backoff(%d) = %s, expected %s", tc.attempt, got, tc.expected)
		}
	}
}
