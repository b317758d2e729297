package utils

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryPolicy bounds retries of one logical provider call.
// MaxRetries counts retries after the first attempt.
type RetryPolicy struct {
	MaxRetries int
	BaseDelay  time.Duration
	MaxDelay   time.Duration
}

func normalizeRetryPolicy(policy RetryPolicy) RetryPolicy {
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.BaseDelay <= 0 {
		policy.BaseDelay = time.Second
	}
	if policy.MaxDelay < policy.BaseDelay {
		policy.MaxDelay = policy.BaseDelay
	}
	return policy
}

// Attempts is the total number of tries the policy allows.
func (p RetryPolicy) Attempts() int {
	return normalizeRetryPolicy(p).MaxRetries + 1
}

// NewBackOff returns the delay schedule of the policy: BaseDelay doubling
// up to MaxDelay, without jitter.
func (p RetryPolicy) NewBackOff() *backoff.ExponentialBackOff {
	p = normalizeRetryPolicy(p)
	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = p.BaseDelay
	exp.MaxInterval = p.MaxDelay
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.Reset()
	return exp
}

// Retry runs op until it succeeds or the policy gives up. Permanent errors
// and context errors stop retrying at once.
func Retry[T any](ctx context.Context, policy RetryPolicy, name string, op func(ctx context.Context) (T, error)) (T, error) {
	policy = normalizeRetryPolicy(policy)

	attempt := 0
	return backoff.Retry(ctx, func() (T, error) {
		attempt++
		res, err := op(ctx)
		if err != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)) {
			return res, backoff.Permanent(err)
		}
		return res, err
	},
		backoff.WithBackOff(policy.NewBackOff()),
		backoff.WithMaxTries(uint(policy.MaxRetries+1)),
		backoff.WithMaxElapsedTime(0),
		backoff.WithNotify(func(err error, wait time.Duration) {
			slog.Warn("provider call failed, retrying",
				"operation", name,
				"attempt", attempt,
				"max_retries", policy.MaxRetries,
				"wait", wait.String(),
				"error", err.Error())
		}),
	)
}

// Permanent marks err as not worth retrying.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return backoff.Permanent(err)
}

// IsRetryableStatus reports whether an HTTP status is transient.
func IsRetryableStatus(code int) bool {
	switch {
	case code == http.StatusTooManyRequests, code == http.StatusRequestTimeout:
		return true
	case code >= http.StatusInternalServerError:
		return true
	default:
		return false
	}
}
