package store

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Defaults for Retrying when the configured values are not positive.
const (
	DefaultRetryAttempts = 3
	DefaultRetryDelay    = 500 * time.Millisecond
)

// RetryError is returned once every attempt of a store call has failed.
type RetryError struct {
	Op       string
	Attempts int
	Err      error
}

func (e *RetryError) Error() string {
	return fmt.Sprintf("%s failed after %d attempts: %v", e.Op, e.Attempts, e.Err)
}

// Unwrap exposes both ErrUnavailable and the last underlying failure.
func (e *RetryError) Unwrap() []error {
	return []error{ErrUnavailable, e.Err}
}

// Retrying wraps a Store with a bounded, fixed-delay retry on every call.
type Retrying struct {
	next     Store
	attempts int
	delay    time.Duration

	// OnRetry, if set, is called before each repeated attempt.
	OnRetry func(op string, attempt int, err error)
}

// NewRetrying wraps next. Non-positive attempts and a negative delay fall back
// to the defaults. A zero delay retries immediately.
func NewRetrying(next Store, attempts int, delay time.Duration) *Retrying {
	if attempts <= 0 {
		attempts = DefaultRetryAttempts
	}
	if delay < 0 {
		delay = DefaultRetryDelay
	}
	return &Retrying{next: next, attempts: attempts, delay: delay}
}

func (r *Retrying) do(ctx context.Context, op string, fn func() error) error {
	var last error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		if attempt > 1 {
			if r.OnRetry != nil {
				r.OnRetry(op, attempt, last)
			}
			timer := time.NewTimer(r.delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("%s: %w", op, ctx.Err())
			case <-timer.C:
			}
		}
		if last = fn(); last == nil {
			return nil
		}
		if errors.Is(last, ErrInvalidRange) {
			return last
		}
	}
	return &RetryError{Op: op, Attempts: r.attempts, Err: last}
}

func (r *Retrying) GetRange(ctx context.Context, name string) ([][]string, error) {
	var out [][]string
	err := r.do(ctx, "get range "+name, func() error {
		var err error
		out, err = r.next.GetRange(ctx, name)
		return err
	})
	return out, err
}

func (r *Retrying) AppendRows(ctx context.Context, name string, rows [][]string) error {
	return r.do(ctx, "append rows to "+name, func() error {
		return r.next.AppendRows(ctx, name, rows)
	})
}

func (r *Retrying) BatchUpdate(ctx context.Context, updates []RangeUpdate) error {
	return r.do(ctx, "batch update", func() error {
		return r.next.BatchUpdate(ctx, updates)
	})
}

func (r *Retrying) Migrate(ctx context.Context) error {
	return r.do(ctx, "migrate", func() error {
		return r.next.Migrate(ctx)
	})
}

func (r *Retrying) Close() error {
	return r.next.Close()
}
