package retry

import (
	"context"
	"time"

	"github.com/venuehub/marketplace/internal/apperr"
)

// Do runs fn up to attempts times with exponential backoff starting at
// base. Only errors the taxonomy marks retryable are retried; anything
// else is returned immediately. Context cancellation wins over backoff.
func Do(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}
		if !apperr.Retryable(apperr.TypeOf(err)) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(base << uint(i)):
		}
	}
	return err
}
