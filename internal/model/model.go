// Package model provides the built-in batchable operation: a dummy numeric
// model evaluated on a bounded pool of workers.
package model

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"batchgate/internal/batcher"
	"batchgate/internal/operation"
)

// DefaultOffset is added to every value before each square root
const DefaultOffset = 1.0

// ErrNoInput is returned when the operation is called without a vector
var ErrNoInput = errors.New("model expects exactly one numeric vector")

// Config holds predictor configuration
type Config struct {
	Workers    int
	Iterations int
	Offset     float64
}

// Predictor evaluates x <- sqrt(x + offset) repeatedly over whole batches.
// At most Workers batches are evaluated at the same time.
type Predictor struct {
	cfg       Config
	sem       *semaphore.Weighted
	logger    zerolog.Logger
	busy      atomic.Int64
	batches   atomic.Uint64
	evaluated atomic.Uint64
}

// New creates a Predictor. A zero Offset uses DefaultOffset.
func New(cfg Config, logger zerolog.Logger) (*Predictor, error) {
	if cfg.Workers <= 0 {
		return nil, fmt.Errorf("%w: workers must be > 0, but got %d", batcher.ErrConfiguration, cfg.Workers)
	}
	if cfg.Iterations < 0 {
		return nil, fmt.Errorf("%w: iterations must be >= 0, but got %d", batcher.ErrConfiguration, cfg.Iterations)
	}
	if cfg.Offset == 0 {
		cfg.Offset = DefaultOffset
	}
	return &Predictor{
		cfg:    cfg,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		logger: logger.With().Str("component", "model").Logger(),
	}, nil
}

// Predict evaluates the model for every number. It blocks while all
// workers are busy.
func (p *Predictor) Predict(ctx context.Context, numbers []float64) ([]float64, error) {
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	defer p.sem.Release(1)

	p.busy.Add(1)
	defer p.busy.Add(-1)

	start := time.Now()
	out := make([]float64, len(numbers))
	for i, x := range numbers {
		for n := 0; n < p.cfg.Iterations; n++ {
			x = math.Sqrt(math.Max(x+p.cfg.Offset, 0))
		}
		out[i] = x
	}

	p.batches.Add(1)
	p.evaluated.Add(uint64(len(numbers)))
	p.logger.Debug().
		Int("rows", len(numbers)).
		Dur("duration", time.Since(start)).
		Msg("batch evaluated")

	return out, nil
}

// Operation returns the predictor as a batch operation taking one numeric
// vector, positional or named
func (p *Predictor) Operation() operation.Func {
	return func(ctx context.Context, args operation.Args) (operation.Vector, error) {
		var v operation.Vector
		switch {
		case len(args.Positional) == 1 && len(args.Named) == 0:
			v = args.Positional[0]
		case len(args.Positional) == 0 && len(args.Named) == 1:
			for _, named := range args.Named {
				v = named
			}
		default:
			return nil, ErrNoInput
		}

		numbers, err := batcher.ToFloat64s(v)
		if err != nil {
			return nil, err
		}
		return p.Predict(ctx, numbers)
	}
}

// Busy returns the number of batches being evaluated
func (p *Predictor) Busy() int {
	return int(p.busy.Load())
}

// Batches returns the number of evaluated batches
func (p *Predictor) Batches() uint64 {
	return p.batches.Load()
}

// Evaluated returns the number of evaluated rows
func (p *Predictor) Evaluated() uint64 {
	return p.evaluated.Load()
}
