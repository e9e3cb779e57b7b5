// Package retry re-invokes a failing operation with optional delay and backoff.
package retry

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"batchgate/internal/batcher"
	"batchgate/internal/operation"
)

// Config holds retry configuration
type Config struct {
	// Attempts is the maximum number of tries. 0 retries forever.
	Attempts int
	// Retryable selects errors that allow another try. nil retries every error.
	Retryable func(error) bool
	// Delay is slept before the first retry
	Delay time.Duration
	// Backoff multiplies the delay after each retry. 0 means 1.
	Backoff float64
}

// Validate checks the options
func (c Config) Validate() error {
	if c.Attempts < 0 {
		return fmt.Errorf("%w: attempts must be >= 0, but got %d", batcher.ErrConfiguration, c.Attempts)
	}
	if c.Delay < 0 {
		return fmt.Errorf("%w: delay must be >= 0, but got %s", batcher.ErrConfiguration, c.Delay)
	}
	if c.Backoff != 0 && c.Backoff < 1 {
		return fmt.Errorf("%w: backoff must be >= 1, but got %g", batcher.ErrConfiguration, c.Backoff)
	}
	return nil
}

// On returns a predicate matching any of errs with errors.Is
func On(errs ...error) func(error) bool {
	return func(err error) bool {
		for _, target := range errs {
			if errors.Is(err, target) {
				return true
			}
		}
		return false
	}
}

// Wrap returns f with retry logic. The error of the last attempt, or the
// first non-retryable one, is returned unchanged.
func Wrap(f operation.Func, cfg Config, logger zerolog.Logger) (operation.Func, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Backoff == 0 {
		cfg.Backoff = 1
	}
	logger = logger.With().Str("component", "retry").Logger()

	return func(ctx context.Context, args operation.Args) (operation.Vector, error) {
		delay := cfg.Delay
		for attempt := 1; ; attempt++ {
			out, err := f(ctx, args)
			if err == nil {
				return out, nil
			}
			if cfg.Retryable != nil && !cfg.Retryable(err) {
				return nil, err
			}
			if cfg.Attempts > 0 && attempt >= cfg.Attempts {
				return nil, err
			}
			if ctx.Err() != nil {
				return nil, err
			}

			logger.Warn().
				Int("attempt", attempt).
				Int("maxAttempts", cfg.Attempts).
				Dur("delay", delay).
				Err(err).
				Msg("call failed, retrying")

			if err := sleep(ctx, delay); err != nil {
				return nil, err
			}
			delay = time.Duration(float64(delay) * cfg.Backoff)
		}
	}, nil
}

// Middleware returns Wrap as an operation middleware
func Middleware(cfg Config, logger zerolog.Logger) (operation.Middleware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return func(f operation.Func) operation.Func {
		wrapped, _ := Wrap(f, cfg, logger)
		return wrapped
	}, nil
}

// sleep waits for d or until ctx is done
func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
