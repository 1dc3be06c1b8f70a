package retryutil

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

type Classification int

const (
	// Retryable errors consume an attempt and back off.
	Retryable Classification = iota
	// Fatal errors abandon the remaining attempts immediately.
	Fatal
)

// Classifier decides whether an error from a unit of work is worth
// retrying. A nil Classifier treats every error as Retryable.
type Classifier func(err error) Classification

type Policy struct {
	MaxAttempts   int
	BaseDelay     time.Duration
	BackoffFactor float64
	MaxDelay      time.Duration
}

func (p Policy) withDefaults() Policy {
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = 3
	}
	if p.BaseDelay <= 0 {
		p.BaseDelay = time.Second
	}
	if p.BackoffFactor <= 0 {
		p.BackoffFactor = 2
	}
	if p.MaxDelay <= 0 {
		p.MaxDelay = time.Second * 30
	}
	return p
}

func (p Policy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.BackoffFactor)
		if d >= p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// ExhaustedError reports that every attempt failed with a retryable
// error. The final underlying error is preserved for errors.Is/As.
type ExhaustedError struct {
	Attempts int
	Err      error
}

func (e *ExhaustedError) Error() string {
	return fmt.Sprintf("all %d attempts failed: %s", e.Attempts, e.Err)
}

func (e *ExhaustedError) Unwrap() error {
	return e.Err
}

// Do runs work until it succeeds, a Fatal error occurs, the policy's
// attempts are exhausted, or ctx is cancelled. It returns the number of
// attempts actually made. Do holds no state between calls and is safe
// to use concurrently from independent workers.
func Do[T any](ctx context.Context, policy Policy, classify Classifier, name string, work func(ctx context.Context) (T, error)) (T, int, error) {
	var zero T
	policy = policy.withDefaults()

	var lastErr error
	for attempt := 1; attempt <= policy.MaxAttempts; attempt++ {
		out, err := work(ctx)
		if err == nil {
			return out, attempt, nil
		}
		lastErr = err

		if classify != nil && classify(err) == Fatal {
			slog.WarnContext(ctx, "fatal error, not retrying",
				"op", name, "attempt", attempt, "err", err)
			return zero, attempt, err
		}
		if attempt == policy.MaxAttempts {
			break
		}

		delay := policy.delay(attempt)
		slog.WarnContext(ctx, "attempt failed, backing off",
			"op", name,
			"attempt", attempt,
			"max_attempts", policy.MaxAttempts,
			"delay", delay,
			"err", err)

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return zero, attempt, ctx.Err()
		case <-timer.C:
		}
	}

	slog.ErrorContext(ctx, "all attempts failed",
		"op", name, "attempts", policy.MaxAttempts, "err", lastErr)
	return zero, policy.MaxAttempts, &ExhaustedError{
		Attempts: policy.MaxAttempts,
		Err:      lastErr,
	}
}
