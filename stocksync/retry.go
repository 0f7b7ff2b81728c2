package stocksync

import (
	"context"
	"math"
	"time"

	"bitbucket.org/mmdatafocus/stocksync_backend/utils"
)

// RetryPolicy is the single retry configuration applied at the adapter
// boundary. Call sites never hand-roll their own fetch-catch-sleep loops.
type RetryPolicy struct {
	MaxAttempts int
	BaseBackoff time.Duration
	MaxBackoff  time.Duration
}

func RetryPolicyFromEnv() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: utils.EnvInt("SYNC_RETRY_MAX_ATTEMPTS", 3),
		BaseBackoff: utils.EnvDuration("SYNC_RETRY_BASE_BACKOFF", 500*time.Millisecond),
		MaxBackoff:  utils.EnvDuration("SYNC_RETRY_MAX_BACKOFF", 10*time.Second),
	}
}

func (p RetryPolicy) backoff(attempt int) time.Duration {
	if attempt <= 0 {
		return p.BaseBackoff
	}
	// base * 2^(attempt-1), capped.
	exp := float64(attempt - 1)
	delay := time.Duration(float64(p.BaseBackoff) * math.Pow(2, exp))
	if delay > p.MaxBackoff {
		return p.MaxBackoff
	}
	return delay
}

// Do runs fn, retrying transient errors up to MaxAttempts with exponential
// backoff. Permanent errors and context cancellation return immediately.
func (p RetryPolicy) Do(ctx context.Context, fn func(context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts <= 0 {
		attempts = 1
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !IsTransient(lastErr) {
			return lastErr
		}
		if attempt == attempts {
			break
		}

		timer := time.NewTimer(p.backoff(attempt))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
	return lastErr
}
