package discovery

import (
	"context"
	"time"
)

// rpcRetry runs a chain call, retrying transient failures up to retries
// additional attempts with doubling backoff. Context cancellation wins
// over the backoff timer.
func rpcRetry(ctx context.Context, retries int, backoff time.Duration, call func(context.Context) error) error {
	if retries < 0 {
		retries = 0
	}
	if backoff <= 0 {
		backoff = 100 * time.Millisecond
	}

	var err error
	for attempt := 0; attempt <= retries; attempt++ {
		if err = call(ctx); err == nil {
			return nil
		}
		if attempt == retries {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return err
}
