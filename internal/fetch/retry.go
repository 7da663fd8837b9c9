package fetch

import (
	"context"
	"errors"
	"time"
)

// MaxBackoff caps the pause between two attempts of Retry.
const MaxBackoff = 5 * time.Second

type permanentError struct {
	err error
}

func (e *permanentError) Error() string {
	return e.err.Error()
}

func (e *permanentError) Unwrap() error {
	return e.err
}

// Permanent marks err as not worth retrying. Retry returns the wrapped error
// as soon as fn reports it.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &permanentError{err: err}
}

// Retry runs fn up to maxRetries+1 times. The pause starts at backoff and
// doubles after every failed attempt, up to MaxBackoff. It stops early when
// ctx is done or fn returns a Permanent error.
func Retry(ctx context.Context, maxRetries int, backoff time.Duration, fn func(context.Context) error) error {
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}
	attempts := max(maxRetries, 0) + 1

	var err error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			if werr := pause(ctx, backoff); werr != nil {
				return werr
			}
			backoff = min(backoff*2, MaxBackoff)
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		var perm *permanentError
		if errors.As(err, &perm) {
			return perm.err
		}
	}
	return err
}

func pause(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
