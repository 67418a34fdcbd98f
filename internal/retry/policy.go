package retry

import (
	"context"
	"fmt"
	"math"
	"time"
)

// Policy is an exponential backoff schedule.
type Policy struct {
	MaxAttempts int
	InitDelay   time.Duration
	Multiplier  float64
	MaxDelay    time.Duration

	// OnRetry, when set, is called before sleeping ahead of the next attempt.
	OnRetry func(attempt int, err error, wait time.Duration)
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		InitDelay:   2 * time.Second,
		Multiplier:  2.0,
		MaxDelay:    30 * time.Second,
	}
}

// NoRetry runs the function exactly once.
func NoRetry() Policy {
	return Policy{MaxAttempts: 1}
}

// Execute calls fn until it succeeds, returns a NonRetriable failure, the
// attempts are exhausted, or ctx is done.
func (p Policy) Execute(ctx context.Context, fn func() (ErrorKind, error)) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	made := 0
	for attempt := 0; attempt < attempts; attempt++ {
		made++
		kind, err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if kind == NonRetriable || attempt == attempts-1 {
			break
		}

		wait := p.delay(attempt)
		if p.OnRetry != nil {
			p.OnRetry(attempt+1, err, wait)
		}

		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return fmt.Errorf("retry aborted after %d attempts: %w", attempt+1, ctx.Err())
		case <-timer.C:
		}
	}

	if made == 1 {
		return lastErr
	}
	return fmt.Errorf("after %d attempts: %w", made, lastErr)
}

// delay returns the wait before attempt+1, capped at MaxDelay.
func (p Policy) delay(attempt int) time.Duration {
	d := float64(p.InitDelay) * math.Pow(p.Multiplier, float64(attempt))
	if p.MaxDelay > 0 && d > float64(p.MaxDelay) {
		return p.MaxDelay
	}
	return time.Duration(d)
}
