package huberrors

import (
	"math/rand"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy configures the exponential backoff applied to retryable
// errors per §7: initial 1s, cap 30s, jitter +-25%, bounded attempts.
type RetryPolicy struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	MaxAttempts     int
}

// DefaultRetryPolicy matches the defaults named in §7.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		MaxAttempts:     5,
	}
}

// NewBackOff builds a jittered exponential backoff.BackOff bounded to
// p.MaxAttempts retries, suitable for backoff.Retry / backoff.RetryNotify.
func (p RetryPolicy) NewBackOff() backoff.BackOff {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = p.InitialInterval
	eb.MaxInterval = p.MaxInterval
	eb.RandomizationFactor = 0.25
	eb.Multiplier = 2.0
	var b backoff.BackOff = eb
	if p.MaxAttempts > 0 {
		b = backoff.WithMaxRetries(b, uint64(p.MaxAttempts))
	}
	return b
}

// Jitter returns d adjusted by up to +-25%, matching §7's retry jitter
// for callers that roll their own retry loop instead of using
// backoff.Retry.
func Jitter(d time.Duration) time.Duration {
	delta := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * delta
	return d + time.Duration(offset)
}

// Retryable reports whether err should be retried per the hub's
// propagation policy (§7): it returns the Retryable field of the first
// *Error in err's chain (New, NewWithCause and FromError default that
// field from the Code's NET_*/TIMEOUT_OPERATION family). An error with
// no *Error in its chain is not retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	var e *Error
	if ok := As(err, &e); ok {
		return e.Retryable
	}
	return false
}

// As is a small local alias to avoid importing errors in call sites
// that only need this one check.
func As(err error, target **Error) bool {
	for err != nil {
		if e, ok := err.(*Error); ok {
			*target = e
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
