// Package retry wraps a single outbound call with bounded exponential
// backoff. Backoff is deterministic (no jitter): attempt n sleeps
// min(base*2^(n-1), cap), which with the defaults yields 0.5s, 1s, 2s, 4s, 8s.
package retry

import (
	"context"
	"time"

	"github.com/tinyland-inc/picobridge/pkg/events"
)

const (
	DefaultMaxAttempts = 5
	DefaultBaseDelay   = 500 * time.Millisecond
	DefaultMaxDelay    = 8 * time.Second
)

// Classifier reports whether an error is worth retrying and the HTTP-ish
// status code inferred from it (0 when unknown).
type Classifier func(err error) (retryable bool, statusCode int)

type options struct {
	maxAttempts int
	baseDelay   time.Duration
	maxDelay    time.Duration
	sink        events.Sink
	sleep       func(ctx context.Context, d time.Duration) error
}

// Option configures a retrying call.
type Option func(*options)

// WithMaxAttempts caps the number of attempts (including the first).
func WithMaxAttempts(n int) Option {
	return func(o *options) { o.maxAttempts = n }
}

// WithBaseDelay sets the first backoff delay.
func WithBaseDelay(d time.Duration) Option {
	return func(o *options) { o.baseDelay = d }
}

// WithMaxDelay caps the backoff delay.
func WithMaxDelay(d time.Duration) Option {
	return func(o *options) { o.maxDelay = d }
}

// WithSink directs retry events to a sink.
func WithSink(s events.Sink) Option {
	return func(o *options) { o.sink = s }
}

// WithSleep overrides the sleep function; used by tests.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(o *options) { o.sleep = fn }
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Do runs call until it succeeds, the error is classified non-retryable, the
// attempt budget is exhausted, or ctx is canceled. No new backoff sleep is
// scheduled once ctx is done; the last call error is returned unchanged.
func Do[T any](ctx context.Context, operation string, call func() (T, error), isRetryable Classifier, opts ...Option) (T, error) {
	o := options{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		maxDelay:    DefaultMaxDelay,
		sink:        events.NopSink{},
		sleep:       sleepCtx,
	}
	for _, opt := range opts {
		opt(&o)
	}

	var zero T
	for attempt := 1; ; attempt++ {
		result, err := call()
		if err == nil {
			return result, nil
		}

		shouldRetry, statusCode := isRetryable(err)
		if !shouldRetry || attempt >= o.maxAttempts {
			return zero, err
		}
		if ctx.Err() != nil {
			return zero, err
		}

		delay := o.baseDelay << (attempt - 1)
		if delay > o.maxDelay {
			delay = o.maxDelay
		}

		o.sink.Emit(ctx, events.Event{
			Name: events.RetryAttempt,
			At:   time.Now().UTC(),
			Fields: map[string]any{
				"operation":     operation,
				"attempt":       attempt,
				"status_code":   statusCode,
				"retry_delay_s": delay.Seconds(),
				"error":         err.Error(),
			},
		})

		if sleepErr := o.sleep(ctx, delay); sleepErr != nil {
			return zero, err
		}
	}
}
