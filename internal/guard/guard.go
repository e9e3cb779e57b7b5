package guard

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"batchgate/internal/batcher"
	"batchgate/internal/operation"
)

// ErrCapacityExceeded is returned when a call arrives while the guard is full
var ErrCapacityExceeded = errors.New("too many concurrent calls")

// Guard rejects calls beyond a fixed number of concurrent ones
type Guard struct {
	limit    int
	sem      *semaphore.Weighted
	inFlight atomic.Int64
	rejected atomic.Uint64
	logger   zerolog.Logger
}

// New creates a Guard admitting at most limit concurrent calls.
// A limit of 0 rejects every call.
func New(limit int, logger zerolog.Logger) (*Guard, error) {
	if limit < 0 {
		return nil, fmt.Errorf("%w: limit must be >= 0, but got %d", batcher.ErrConfiguration, limit)
	}
	return &Guard{
		limit:  limit,
		sem:    semaphore.NewWeighted(int64(limit)),
		logger: logger.With().Str("component", "guard").Logger(),
	}, nil
}

// Wrap returns f protected by the guard. The slot is held until f returns,
// whatever the outcome.
func (g *Guard) Wrap(f operation.Func) operation.Func {
	return func(ctx context.Context, args operation.Args) (operation.Vector, error) {
		if !g.sem.TryAcquire(1) {
			g.rejected.Add(1)
			g.logger.Debug().Int("limit", g.limit).Msg("call rejected, capacity exceeded")
			return nil, fmt.Errorf("%w: limit=%d exceeded", ErrCapacityExceeded, g.limit)
		}
		g.inFlight.Add(1)
		defer func() {
			g.inFlight.Add(-1)
			g.sem.Release(1)
		}()

		return f(ctx, args)
	}
}

// Middleware returns Wrap as an operation middleware
func (g *Guard) Middleware() operation.Middleware {
	return g.Wrap
}

// Limit returns the configured capacity
func (g *Guard) Limit() int {
	return g.limit
}

// InFlight returns the number of calls currently admitted
func (g *Guard) InFlight() int {
	return int(g.inFlight.Load())
}

// Rejected returns the number of calls rejected so far
func (g *Guard) Rejected() uint64 {
	return g.rejected.Load()
}
