package retryutil

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fastPolicy() Policy {
	return Policy{
		MaxAttempts:   3,
		BaseDelay:     time.Millisecond,
		BackoffFactor: 2,
		MaxDelay:      time.Millisecond * 10,
	}
}

func TestRetriesUntilSuccess(t *testing.T) {
	calls := 0
	out, attempts, err := Do(context.Background(), fastPolicy(), nil, "test",
		func(ctx context.Context) (string, error) {
			calls++
			if calls < 3 {
				return "", errors.New("transient")
			}
			return "ok", nil
		})
	require.NoError(t, err)
	require.Equal(t, "ok", out)
	require.Equal(t, 3, attempts)
	require.Equal(t, 3, calls)
}

func TestFatalStopsImmediately(t *testing.T) {
	fatal := errors.New("bad credentials")
	classify := func(err error) Classification {
		if errors.Is(err, fatal) {
			return Fatal
		}
		return Retryable
	}

	calls := 0
	_, attempts, err := Do(context.Background(), fastPolicy(), classify, "test",
		func(ctx context.Context) (string, error) {
			calls++
			return "", fatal
		})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, attempts)
	require.Equal(t, 1, calls)
}

func TestExhaustionWrapsLastError(t *testing.T) {
	underlying := errors.New("still down")
	_, attempts, err := Do(context.Background(), fastPolicy(), nil, "test",
		func(ctx context.Context) (int, error) {
			return 0, underlying
		})
	require.Equal(t, 3, attempts)
	require.ErrorIs(t, err, underlying)

	var exhausted *ExhaustedError
	require.ErrorAs(t, err, &exhausted)
	require.Equal(t, 3, exhausted.Attempts)
}

func TestCancelledContextAbortsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	policy := Policy{MaxAttempts: 5, BaseDelay: time.Minute}
	_, attempts, err := Do(ctx, policy, nil, "test",
		func(ctx context.Context) (int, error) {
			cancel()
			return 0, errors.New("transient")
		})
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, attempts)
}

func TestDelayIsCapped(t *testing.T) {
	p := Policy{
		MaxAttempts:   10,
		BaseDelay:     time.Second,
		BackoffFactor: 10,
		MaxDelay:      time.Second * 5,
	}.withDefaults()

	require.Equal(t, time.Second, p.delay(1))
	require.Equal(t, time.Second*5, p.delay(2))
	require.Equal(t, time.Second*5, p.delay(8))
}
