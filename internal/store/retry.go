package store

import (
	"context"
	"errors"
	"time"
)

const (
	retryAttempts = 5
	retryBase     = 100 * time.Millisecond
	retryCap      = 2 * time.Second
)

// Retry runs fn, retrying ErrStorageUnavailable failures with bounded
// exponential backoff. Other errors, including ErrNotFound, return
// immediately. When attempts are exhausted the last error is returned and the
// caller decides how to degrade.
func Retry(ctx context.Context, fn func(context.Context) error) error {
	delay := retryBase
	var err error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return ctx.Err()
			}
			delay *= 2
			if delay > retryCap {
				delay = retryCap
			}
		}
		err = fn(ctx)
		if err == nil || !errors.Is(err, ErrStorageUnavailable) {
			return err
		}
	}
	return err
}
