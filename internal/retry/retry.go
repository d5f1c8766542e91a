// Package retry implements retry-with-exponential-backoff for outbound HTTP
// operations, with status- and network-error-based classification.
package retry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"syscall"
	"time"
)

// Options configure a single Do call. Zero values fall back to defaults.
type Options struct {
	MaxAttempts       int
	InitialDelay      time.Duration
	MaxDelay          time.Duration
	BackoffMultiplier float64
	// RetryableStatuses overrides the default retryable HTTP status set.
	RetryableStatuses []int
}

var defaultRetryableStatuses = []int{408, 429, 500, 502, 503, 504}

func (o Options) withDefaults() Options {
	if o.MaxAttempts <= 0 {
		o.MaxAttempts = 3
	}
	if o.InitialDelay <= 0 {
		o.InitialDelay = time.Second
	}
	if o.MaxDelay <= 0 {
		o.MaxDelay = 10 * time.Second
	}
	if o.BackoffMultiplier <= 0 {
		o.BackoffMultiplier = 2
	}
	if o.RetryableStatuses == nil {
		o.RetryableStatuses = defaultRetryableStatuses
	}
	return o
}

// HTTPError carries an upstream HTTP status so the executor can classify it.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	if e.Body == "" {
		return fmt.Sprintf("upstream returned status %d", e.Status)
	}
	return fmt.Sprintf("upstream returned status %d: %s", e.Status, e.Body)
}

// Executor runs operations with retry and emits a structured warning per
// retry attempt. OnRetry, when set, is invoked once per retried failure
// (metrics hook).
type Executor struct {
	Logger  *slog.Logger
	OnRetry func()
	// Sleep is split out for testability.
	Sleep func(time.Duration)
}

func NewExecutor(logger *slog.Logger) *Executor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{Logger: logger, Sleep: time.Sleep}
}

// Do runs op up to opts.MaxAttempts times. A non-retryable error, or the
// final attempt's error, is propagated unchanged. Backoff sleeps are plain
// delays with no jitter; synchronized callers share thundering-herd risk.
func (e *Executor) Do(ctx context.Context, op func(ctx context.Context) error, opts Options) error {
	opts = opts.withDefaults()
	delay := opts.InitialDelay

	var lastErr error
	for attempt := 1; attempt <= opts.MaxAttempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == opts.MaxAttempts || !retryable(lastErr, opts) {
			return lastErr
		}

		current := delay
		if current > opts.MaxDelay {
			current = opts.MaxDelay
		}
		e.Logger.Warn("retrying after error",
			"attempt", attempt,
			"maxAttempts", opts.MaxAttempts,
			"delay", current,
			"error", lastErr)
		if e.OnRetry != nil {
			e.OnRetry()
		}
		sleep := e.Sleep
		if sleep == nil {
			sleep = time.Sleep
		}
		sleep(current)
		delay = time.Duration(float64(delay) * opts.BackoffMultiplier)
	}
	return lastErr
}

// DoValue is Do for operations that produce a value.
func DoValue[T any](ctx context.Context, e *Executor, op func(ctx context.Context) (T, error), opts Options) (T, error) {
	var out T
	err := e.Do(ctx, func(ctx context.Context) error {
		v, err := op(ctx)
		if err != nil {
			return err
		}
		out = v
		return nil
	}, opts)
	return out, err
}

func retryable(err error, opts Options) bool {
	var he *HTTPError
	if errors.As(err, &he) {
		for _, s := range opts.RetryableStatuses {
			if he.Status == s {
				return true
			}
		}
		// 404 is retried to absorb read-after-write races in the upstream
		// API: the webhook can arrive before the order is committed.
		switch he.Status {
		case 404, 408, 429:
			return true
		}
		return false
	}

	// Client-side timeout.
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return true
	}

	// Connection-level failures.
	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ETIMEDOUT) {
		return true
	}
	var dnsErr *net.DNSError
	return errors.As(err, &dnsErr)
}
