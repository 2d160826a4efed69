package llm

import (
	"context"
	"fmt"
	"time"
)

// RetryExhaustedError reports that every attempt of a retried operation
// failed. Last holds the error from the final attempt.
type RetryExhaustedError struct {
	Attempts int
	Last     error
}

func (e *RetryExhaustedError) Error() string {
	return fmt.Sprintf("retry exhausted after %d attempts: %v", e.Attempts, e.Last)
}

func (e *RetryExhaustedError) Unwrap() error {
	return e.Last
}

// Retry runs fn up to attempts times, backing off briefly between
// attempts, and returns the first successful result. On exhaustion it
// returns the zero value and a *RetryExhaustedError; callers get a typed
// failure instead of a sentinel result.
func Retry[T any](ctx context.Context, attempts int, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}
		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}
		lastErr = err

		if i < attempts-1 {
			backoff := time.Duration(i+1) * 500 * time.Millisecond
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return zero, &RetryExhaustedError{Attempts: attempts, Last: lastErr}
}
