// Package retry implements bounded retries with exponential backoff
// and jitter for transient store failures.
package retry

import (
	"context"
	"math/rand"
	"time"
)

// Do runs fn up to attempts times. Between tries it sleeps
// base*2^n plus up to 50% random jitter. It returns nil on the first
// success, ctx.Err() if the context ends while waiting, and otherwise
// the last error from fn.
func Do(ctx context.Context, attempts int, base time.Duration, fn func(ctx context.Context) error) error {
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(ctx); err == nil {
			return nil
		}
		if i == attempts-1 {
			break
		}

		backoff := base << uint(i)
		jitter := time.Duration(rand.Int63n(int64(backoff)/2 + 1))
		select {
		case <-time.After(backoff + jitter):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return err
}
