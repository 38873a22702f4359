package workflow

import (
	"context"
	"time"
)

// RetryPolicy bounds how often a failing step is re-attempted.
type RetryPolicy struct {
	MaxAttempts int           // Total attempts per step, including the first
	BaseDelay   time.Duration // Delay after the first failure
	MaxDelay    time.Duration // Cap on the backoff
}

// DefaultRetryPolicy retries a step up to three times starting at 500ms.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		MaxAttempts: 3,
		BaseDelay:   500 * time.Millisecond,
		MaxDelay:    10 * time.Second,
	}
}

// Delay returns the wait after the given number of failed attempts:
// BaseDelay doubled per extra failure, capped at MaxDelay, with 10% jitter.
func (p RetryPolicy) Delay(failures int) time.Duration {
	const maxShift = 30

	if p.BaseDelay <= 0 {
		return 0
	}
	delay := p.BaseDelay
	for i := 1; i < failures && i < maxShift; i++ {
		delay *= 2
		if p.MaxDelay > 0 && delay >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	if p.MaxDelay > 0 && delay >= p.MaxDelay {
		return p.MaxDelay
	}

	if jitterRange := delay / 10; jitterRange > 0 {
		jitter := time.Duration(time.Now().UnixNano() % int64(jitterRange))
		delay += jitter - jitterRange/2
	}
	return delay
}

func (p RetryPolicy) attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// sleep waits for d or until ctx is done.
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
