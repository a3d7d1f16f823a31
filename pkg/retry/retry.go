// Package retry runs fallible operations with bounded attempts and linear backoff.
package retry

import (
	"context"
	"log/slog"
	"time"

	"github.com/screwyprof/restaker/pkg/clock"
)

// Default configuration values
const (
	DefaultMaxAttempts = 3
	DefaultBaseDelay   = 5 * time.Second
)

// Option configures a single Do call
type Option func(*settings)

type settings struct {
	maxAttempts int
	baseDelay   time.Duration
	clock       clock.Clock
	logger      *slog.Logger
	operation   string
}

// WithMaxAttempts sets the total number of attempts (not retries)
func WithMaxAttempts(n int) Option {
	return func(s *settings) {
		if n > 0 {
			s.maxAttempts = n
		}
	}
}

// WithBaseDelay sets the delay unit; attempt k waits baseDelay*k before the next try
func WithBaseDelay(d time.Duration) Option {
	return func(s *settings) {
		if d >= 0 {
			s.baseDelay = d
		}
	}
}

// WithClock injects a custom Clock (e.g., for testing)
func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

// WithLogger sets the logger used for failed attempts
func WithLogger(l *slog.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithOperation names the operation in log records
func WithOperation(name string) Option {
	return func(s *settings) { s.operation = name }
}

// Do invokes op until it succeeds or maxAttempts is reached. The error of the
// final attempt is returned as is, callers decide whether it is fatal.
func Do[T any](ctx context.Context, op func(ctx context.Context) (T, error), opts ...Option) (T, error) {
	s := settings{
		maxAttempts: DefaultMaxAttempts,
		baseDelay:   DefaultBaseDelay,
		clock:       clock.SystemClock{},
		logger:      slog.Default(),
		operation:   "operation",
	}
	for _, opt := range opts {
		opt(&s)
	}

	var (
		result T
		err    error
	)
	for attempt := 1; attempt <= s.maxAttempts; attempt++ {
		result, err = op(ctx)
		if err == nil {
			return result, nil
		}

		s.logger.WarnContext(ctx, "Attempt failed",
			slog.String("operation", s.operation),
			slog.Int("attempt", attempt),
			slog.Int("maxAttempts", s.maxAttempts),
			slog.Any("error", err),
		)

		if attempt == s.maxAttempts {
			break
		}
		if waitErr := clock.Wait(ctx, s.clock, s.baseDelay*time.Duration(attempt)); waitErr != nil {
			break
		}
	}

	var zero T
	return zero, err
}
