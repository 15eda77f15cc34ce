package backoff

import (
	"context"
	"time"

	"github.com/avast/retry-go/v4"
	"go.uber.org/zap"

	"tokenScope/internal/metrics"
)

// Policy is an injectable retry policy. Attempts counts every try including
// the first; Delay returns the wait before retry n (starting at 1).
type Policy struct {
	Attempts uint
	Delay    func(n uint) time.Duration
}

// Exponential doubles base on each retry, capped at maxDelay.
func Exponential(maxRetries int, base, maxDelay time.Duration) Policy {
	if maxRetries < 0 {
		maxRetries = 0
	}
	if base <= 0 {
		base = 100 * time.Millisecond
	}
	return Policy{
		Attempts: uint(maxRetries) + 1,
		Delay: func(n uint) time.Duration {
			delay := base
			for i := uint(1); i < n; i++ {
				delay *= 2
				if maxDelay > 0 && delay >= maxDelay {
					return maxDelay
				}
			}
			return delay
		},
	}
}

// NoDelay retries immediately. Used by tests.
func NoDelay(attempts uint) Policy {
	return Policy{Attempts: attempts, Delay: func(uint) time.Duration { return 0 }}
}

func (b Policy) attempts() uint {
	if b.Attempts == 0 {
		return 1
	}
	return b.Attempts
}

func (b Policy) delay(n uint) time.Duration {
	if b.Delay == nil {
		return 0
	}
	return b.Delay(n)
}

// Sleep waits for the n-th delay or until ctx is done.
func (b Policy) Sleep(ctx context.Context, n uint) error {
	d := b.delay(n)
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

// Do runs fn until it succeeds, retryIf rejects the error, or the policy's
// attempts are used up. Only the last error is returned.
func Do[T any](
	ctx context.Context,
	policy Policy,
	logger *zap.Logger,
	op string,
	retryIf func(error) bool,
	fn func(context.Context) (T, error),
) (T, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	return retry.DoWithData(
		func() (T, error) {
			return fn(ctx)
		},
		retry.Context(ctx),
		retry.Attempts(policy.attempts()),
		retry.DelayType(func(n uint, _ error, _ *retry.Config) time.Duration {
			return policy.delay(n + 1)
		}),
		retry.LastErrorOnly(true),
		retry.RetryIf(retryIf),
		retry.OnRetry(func(n uint, err error) {
			metrics.RPCRetries.WithLabelValues(op).Inc()
			logger.Warn("rpc call failed, retrying",
				zap.String("op", op),
				zap.Uint("attempt", n+1),
				zap.Error(err),
			)
		}),
	)
}
