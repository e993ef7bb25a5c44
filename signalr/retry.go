package signalr

import (
	"context"
	"errors"
	"time"

	"github.com/krantius/bittrex-signalr-go/internal/ctxtime"
)

// retryConfig is the {retries, minDelay} contract for the retry harness.
// Retries < 0 means unlimited.
type retryConfig struct {
	Retries  int
	MinDelay time.Duration
}

// retryAttempt is delivered to onAttempt after each failed, retriable
// attempt, for observability.
type retryAttempt struct {
	Attempt int
	HasMore bool
	Err     error
}

// retryDo invokes work up to (cfg.Retries+1) times with a fixed delay
// between attempts. isConnecting is polled before and immediately after
// each attempt; the moment it reports false, retryDo stops and resolves
// with errRetryIgnored without touching the in-flight result. A work
// error wrapped in fatalError short-circuits the budget immediately.
// onAttempt only fires for attempts that will be retried; the caller is
// responsible for reporting the terminal failure once retryDo returns.
func retryDo[T any](
	ctx context.Context,
	cfg retryConfig,
	isConnecting func() bool,
	work func(context.Context) (T, error),
	onAttempt func(retryAttempt),
) (T, int, error) {
	var zero T
	var lastErr error
	attempts := 0

	for i := 0; cfg.Retries < 0 || i <= cfg.Retries; i++ {
		if !isConnecting() {
			return zero, attempts, errRetryIgnored
		}
		attempts++
		result, err := work(ctx)
		if !isConnecting() {
			return zero, attempts, errRetryIgnored
		}
		if err == nil {
			return result, attempts, nil
		}
		lastErr = err

		var fatalErr fatalError
		if errors.As(err, &fatalErr) {
			return zero, attempts, err
		}

		hasMore := cfg.Retries < 0 || i < cfg.Retries
		if onAttempt != nil && hasMore {
			onAttempt(retryAttempt{Attempt: attempts, HasMore: true, Err: err})
		}
		if !hasMore {
			break
		}
		if err := ctxtime.Sleep(ctx, cfg.MinDelay); err != nil {
			return zero, attempts, err
		}
	}
	return zero, attempts, lastErr
}
