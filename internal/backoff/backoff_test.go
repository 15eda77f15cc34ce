package backoff

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestExponentialDelays(t *testing.T) {
	p := Exponential(5, 100*time.Millisecond, time.Second)
	require.Equal(t, uint(6), p.Attempts)
	require.Equal(t, 100*time.Millisecond, p.Delay(1))
	require.Equal(t, 200*time.Millisecond, p.Delay(2))
	require.Equal(t, 800*time.Millisecond, p.Delay(4))
	require.Equal(t, time.Second, p.Delay(5))
	require.Equal(t, time.Second, p.Delay(10))
}

func TestDoRetriesUntilSuccess(t *testing.T) {
	calls := 0
	got, err := Do(context.Background(), NoDelay(5), nil, "test", func(error) bool { return true }, func(context.Context) (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("flaky")
		}
		return 42, nil
	})
	require.NoError(t, err)
	require.Equal(t, 42, got)
	require.Equal(t, 3, calls)
}

func TestDoStopsOnNonRetryable(t *testing.T) {
	fatal := errors.New("fatal")
	calls := 0
	_, err := Do(context.Background(), NoDelay(5), nil, "test", func(err error) bool { return !errors.Is(err, fatal) }, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, fatal
	})
	require.ErrorIs(t, err, fatal)
	require.Equal(t, 1, calls)
}

func TestDoGivesUpAfterAttempts(t *testing.T) {
	calls := 0
	_, err := Do(context.Background(), NoDelay(3), nil, "test", func(error) bool { return true }, func(context.Context) (struct{}, error) {
		calls++
		return struct{}{}, errors.New("down")
	})
	require.EqualError(t, err, "down")
	require.Equal(t, 3, calls)
}

func TestSleepHonorsContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	p := Policy{Attempts: 2, Delay: func(uint) time.Duration { return time.Hour }}
	require.ErrorIs(t, p.Sleep(ctx, 1), context.Canceled)
}
