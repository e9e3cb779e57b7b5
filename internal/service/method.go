package service

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"batchgate/internal/batcher"
	"batchgate/internal/config"
	"batchgate/internal/guard"
	"batchgate/internal/operation"
	"batchgate/internal/retry"
)

// Method is one configured batch operation
type Method struct {
	name      string
	coalescer *batcher.Coalescer
	guard     *guard.Guard
	breaker   *guard.Breaker
	call      operation.Func
}

// MethodStats is a snapshot of a method's state
type MethodStats struct {
	Batcher  batcher.Stats `json:"batcher"`
	InFlight int           `json:"inFlight"`
	Limit    *int          `json:"limit,omitempty"`
	Rejected uint64        `json:"rejected"`
	Breaker  string        `json:"breaker,omitempty"`
}

// NewMethod builds the call pipeline for backend
func NewMethod(name string, backend operation.Func, cfg *config.MethodConfig, logger zerolog.Logger) (*Method, error) {
	logger = logger.With().Str("method", name).Logger()

	c, err := batcher.New(backend, cfg.ToBatcherConfig(), logger)
	if err != nil {
		return nil, err
	}
	m := &Method{name: name, coalescer: c}

	var mws []operation.Middleware
	if cfg.Limit != nil {
		g, err := guard.New(*cfg.Limit, logger)
		if err != nil {
			return nil, err
		}
		m.guard = g
		mws = append(mws, g.Middleware())
	}
	if cfg.Breaker != nil && cfg.Breaker.Enabled {
		m.breaker = guard.NewBreaker(guard.BreakerConfig{
			Enabled:             true,
			FailureThreshold:    cfg.Breaker.FailureThreshold,
			RecoveryTimeout:     cfg.Breaker.GetRecoveryTimeoutDuration(),
			HalfOpenMaxRequests: cfg.Breaker.HalfOpenMaxRequests,
		}, logger)
		mws = append(mws, m.breaker.Middleware())
	}
	if cfg.Retry != nil {
		mw, err := retry.Middleware(retry.Config{
			Attempts:  cfg.Retry.Attempts,
			Retryable: retryable(cfg.Retry.On),
			Delay:     cfg.Retry.GetDelayDuration(),
			Backoff:   cfg.Retry.Backoff,
		}, logger)
		if err != nil {
			return nil, err
		}
		mws = append(mws, mw)
	}
	mws = append(mws, c.Middleware())

	m.call = operation.Chain(backend, mws...)
	return m, nil
}

// Name returns the method name
func (m *Method) Name() string {
	return m.name
}

// Call runs one call through the pipeline
func (m *Method) Call(ctx context.Context, args operation.Args) (operation.Vector, error) {
	return m.call(ctx, args)
}

// Flush dispatches the open batch
func (m *Method) Flush(ctx context.Context) {
	m.coalescer.Flush(ctx)
}

// Stats returns a snapshot of the method's state
func (m *Method) Stats() MethodStats {
	s := MethodStats{Batcher: m.coalescer.Stats()}
	if m.guard != nil {
		limit := m.guard.Limit()
		s.Limit = &limit
		s.InFlight = m.guard.InFlight()
		s.Rejected = m.guard.Rejected()
	}
	if m.breaker != nil {
		s.Breaker = m.breaker.State()
	}
	return s
}

// retryable builds the retry predicate for the configured error classes.
// No classes retries every error.
func retryable(classes []string) func(error) bool {
	if len(classes) == 0 {
		return nil
	}

	var targets []error
	upstream := false
	for _, class := range classes {
		switch class {
		case config.RetryOnTimeout:
			targets = append(targets, batcher.ErrTimeout)
		case config.RetryOnPanic:
			targets = append(targets, batcher.ErrOperationPanic)
		case config.RetryOnResultLength:
			targets = append(targets, batcher.ErrResultLength)
		case config.RetryOnUpstream:
			upstream = true
		}
	}
	matches := retry.On(targets...)

	return func(err error) bool {
		if matches(err) {
			return true
		}
		return upstream && isUpstream(err)
	}
}

// isUpstream reports whether err came from the backend operation itself
func isUpstream(err error) bool {
	local := []error{
		batcher.ErrShapeMismatch,
		batcher.ErrEmptyInput,
		batcher.ErrInvalidArgument,
		batcher.ErrTimeout,
		batcher.ErrResultLength,
		batcher.ErrOperationPanic,
		guard.ErrCapacityExceeded,
		guard.ErrCircuitOpen,
		context.Canceled,
		context.DeadlineExceeded,
	}
	for _, target := range local {
		if errors.Is(err, target) {
			return false
		}
	}
	return true
}
