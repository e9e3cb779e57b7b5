package guard

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"batchgate/internal/batcher"
	"batchgate/internal/operation"
)

// ErrCircuitOpen is returned while the breaker is open
var ErrCircuitOpen = errors.New("circuit breaker is open")

type breakerState int

const (
	breakerClosed breakerState = iota
	breakerOpen
	breakerHalfOpen
)

func (s breakerState) String() string {
	switch s {
	case breakerClosed:
		return "closed"
	case breakerOpen:
		return "open"
	case breakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig holds circuit breaker configuration
type BreakerConfig struct {
	Enabled             bool
	FailureThreshold    int
	RecoveryTimeout     time.Duration
	HalfOpenMaxRequests int
}

// Breaker stops calling the operation after consecutive failures
type Breaker struct {
	cfg             BreakerConfig
	state           breakerState
	failures        int
	halfOpenSuccess int
	openedAt        time.Time
	mu              sync.Mutex
	logger          zerolog.Logger
}

// NewBreaker creates a new Breaker. Zero values get defaults.
func NewBreaker(cfg BreakerConfig, logger zerolog.Logger) *Breaker {
	if cfg.FailureThreshold <= 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.RecoveryTimeout <= 0 {
		cfg.RecoveryTimeout = 30 * time.Second
	}
	if cfg.HalfOpenMaxRequests <= 0 {
		cfg.HalfOpenMaxRequests = 2
	}
	return &Breaker{
		cfg:    cfg,
		state:  breakerClosed,
		logger: logger.With().Str("component", "breaker").Logger(),
	}
}

// Allow reports whether a call may reach the operation
func (b *Breaker) Allow() bool {
	if !b.cfg.Enabled {
		return true
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerOpen:
		if time.Since(b.openedAt) < b.cfg.RecoveryTimeout {
			return false
		}
		b.state = breakerHalfOpen
		b.halfOpenSuccess = 0
		b.logger.Info().Msg("circuit half-open, probing operation")
		return true
	case breakerHalfOpen:
		return b.halfOpenSuccess < b.cfg.HalfOpenMaxRequests
	default:
		return true
	}
}

// RecordSuccess records a successful call
func (b *Breaker) RecordSuccess() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerHalfOpen:
		b.halfOpenSuccess++
		if b.halfOpenSuccess >= b.cfg.HalfOpenMaxRequests {
			b.state = breakerClosed
			b.failures = 0
			b.logger.Info().Msg("circuit closed")
		}
	case breakerClosed:
		b.failures = 0
	}
}

// RecordFailure records a failed call
func (b *Breaker) RecordFailure() {
	if !b.cfg.Enabled {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case breakerClosed:
		b.failures++
		if b.failures >= b.cfg.FailureThreshold {
			b.open()
		}
	case breakerHalfOpen:
		b.open()
	}
}

// open must be called with b.mu held
func (b *Breaker) open() {
	b.state = breakerOpen
	b.openedAt = time.Now()
	b.halfOpenSuccess = 0
	b.logger.Warn().
		Int("failures", b.failures).
		Dur("recoveryTimeout", b.cfg.RecoveryTimeout).
		Msg("circuit opened")
}

// State returns the current state name
func (b *Breaker) State() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state.String()
}

// Wrap returns f behind the breaker
func (b *Breaker) Wrap(f operation.Func) operation.Func {
	return func(ctx context.Context, args operation.Args) (operation.Vector, error) {
		if !b.Allow() {
			return nil, ErrCircuitOpen
		}

		out, err := f(ctx, args)
		switch {
		case err == nil:
			b.RecordSuccess()
		case isFailure(err):
			b.RecordFailure()
		}
		return out, err
	}
}

// Middleware returns Wrap as an operation middleware
func (b *Breaker) Middleware() operation.Middleware {
	return b.Wrap
}

// isFailure reports whether err says something about the operation's health.
// Rejected input and caller cancellation do not.
func isFailure(err error) bool {
	switch {
	case errors.Is(err, batcher.ErrShapeMismatch),
		errors.Is(err, batcher.ErrEmptyInput),
		errors.Is(err, batcher.ErrInvalidArgument),
		errors.Is(err, ErrCapacityExceeded),
		errors.Is(err, context.Canceled):
		return false
	default:
		return true
	}
}
