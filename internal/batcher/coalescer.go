package batcher

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"batchgate/internal/operation"
)

// Coalescer merges concurrent calls into batched invocations of one operation.
// It is safe for concurrent use; all queue, ordinal and reader-count updates
// happen under a single mutex.
type Coalescer struct {
	op     operation.Func
	cfg    Config
	agg    Aggregation
	logger zerolog.Logger

	mu            sync.Mutex
	current       uint64            // ordinal of the open batch
	queue         []operation.Args  // calls admitted into the open batch
	queuedRows    int               // rows in queue
	batches       map[uint64]*batch // batches not yet drained
	dispatched    uint64
	failedBatches uint64
}

// New creates a Coalescer for op. Invalid options fail with ErrConfiguration.
func New(op operation.Func, cfg Config, logger zerolog.Logger) (*Coalescer, error) {
	if op == nil {
		return nil, fmt.Errorf("%w: operation is nil", ErrConfiguration)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	agg, err := NewAggregation(cfg.ArgumentAggregation)
	if err != nil {
		return nil, err
	}

	return &Coalescer{
		op:      op,
		cfg:     cfg,
		agg:     agg,
		logger:  logger.With().Str("component", "batcher").Logger(),
		batches: make(map[uint64]*batch),
	}, nil
}

// Config returns the effective configuration
func (c *Coalescer) Config() Config {
	return c.cfg
}

// Middleware returns the coalescer as an operation middleware.
// The wrapped Func is ignored: the coalescer always calls its own operation.
func (c *Coalescer) Middleware() operation.Middleware {
	return func(operation.Func) operation.Func {
		return c.Submit
	}
}

// Submit adds a call to the open batch and returns the rows of the batch
// result that belong to it. If the operation fails, the same error value is
// returned to every call of the batch.
func (c *Coalescer) Submit(ctx context.Context, args operation.Args) (operation.Vector, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	t, j, err := c.admit(args)
	if err != nil {
		return nil, err
	}
	defer c.release(t.batch)

	if j != nil {
		// Size threshold reached by this call
		go c.execute(context.WithoutCancel(ctx), j)
		return c.await(ctx, t, 0)
	}

	return c.arbitrate(ctx, t)
}

// admit validates the call and appends it to the open batch.
// A non-nil job means the call filled the batch and must dispatch it.
func (c *Coalescer) admit(args operation.Args) (ticket, *job, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.queue) > 0 {
		first := c.queue[0]
		if len(args.Positional) != len(first.Positional) || !args.SameKeys(first) {
			return ticket{}, nil, ErrShapeMismatch
		}
	}

	rows, err := c.rowCount(args)
	if err != nil {
		return ticket{}, nil, err
	}
	if rows == 0 {
		return ticket{}, nil, ErrEmptyInput
	}

	b := c.batches[c.current]
	if b == nil {
		b = &batch{
			ordinal: c.current,
			state:   stateOpen,
			ready:   make(chan struct{}),
		}
		c.batches[c.current] = b
	}
	b.readers++

	c.queue = append(c.queue, args)
	t := ticket{
		batch: b,
		start: c.queuedRows,
		stop:  c.queuedRows + rows,
	}
	c.queuedRows += rows

	var j *job
	if c.queuedRows >= c.cfg.TargetBatchSize {
		j = c.closeLocked(b, triggerSize)
	}
	return t, j, nil
}

// rowCount returns the number of rows shared by every vector of the call.
// A vector the aggregation cannot measure, or one whose length differs from
// the others, fails with ErrInvalidArgument.
func (c *Coalescer) rowCount(args operation.Args) (int, error) {
	if args.IsEmpty() {
		return 0, nil
	}

	rows := -1
	check := func(name string, v operation.Vector) error {
		n, err := c.agg.Len(v)
		if err != nil {
			return fmt.Errorf("argument %s: %w", name, err)
		}
		if rows >= 0 && n != rows {
			return fmt.Errorf("%w: argument %s has %d rows, expected %d", ErrInvalidArgument, name, n, rows)
		}
		rows = n
		return nil
	}

	for i, v := range args.Positional {
		if err := check(strconv.Itoa(i), v); err != nil {
			return 0, err
		}
	}
	for key, v := range args.Named {
		if err := check(strconv.Quote(key), v); err != nil {
			return 0, err
		}
	}
	return rows, nil
}

// arbitrate waits for the batch result, dispatching the batch itself if it is
// still open after MaxWaitingTime
func (c *Coalescer) arbitrate(ctx context.Context, t ticket) (operation.Vector, error) {
	timer := time.NewTimer(c.cfg.MaxWaitingTime)
	defer timer.Stop()

	select {
	case <-t.batch.ready:
		return c.collect(t)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-timer.C:
	}

	c.mu.Lock()
	j := c.closeLocked(t.batch, triggerTimeout)
	c.mu.Unlock()

	if j != nil {
		go c.execute(context.WithoutCancel(ctx), j)
		return c.await(ctx, t, 0)
	}

	// Someone else already dispatched this batch
	return c.await(ctx, t, c.cfg.MaxProcessingTime)
}

// await blocks until the batch result is ready. A zero timeout waits for as
// long as ctx allows.
func (c *Coalescer) await(ctx context.Context, t ticket, timeout time.Duration) (operation.Vector, error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	select {
	case <-t.batch.ready:
		return c.collect(t)
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-deadline:
		c.logger.Warn().
			Uint64("batch", t.batch.ordinal).
			Dur("maxProcessingTime", timeout).
			Msg("batch result not ready in time")
		return nil, fmt.Errorf("%w: batch %d not processed within %s", ErrTimeout, t.batch.ordinal, timeout)
	}
}

// collect returns this call's share of a ready batch
func (c *Coalescer) collect(t ticket) (operation.Vector, error) {
	// The outcome is immutable once ready is closed
	res := t.batch.result
	if res.err != nil {
		return nil, res.err
	}
	return c.agg.Slice(res.values, t.start, t.stop)
}

// closeLocked closes the open batch b and takes its queue. It returns nil if
// b is no longer the open batch. Must be called with c.mu held.
func (c *Coalescer) closeLocked(b *batch, trigger string) *job {
	if b.ordinal != c.current || b.state != stateOpen {
		return nil
	}

	j := &job{
		batch:   b,
		calls:   c.queue,
		rows:    c.queuedRows,
		trigger: trigger,
	}

	b.state = stateClosing
	c.current++
	c.queue = nil
	c.queuedRows = 0
	c.dispatched++

	return j
}

// execute invokes the operation for a closed batch and publishes the outcome
func (c *Coalescer) execute(ctx context.Context, j *job) {
	start := time.Now()
	c.logger.Debug().
		Uint64("batch", j.batch.ordinal).
		Int("calls", len(j.calls)).
		Int("rows", j.rows).
		Str("trigger", j.trigger).
		Msg("dispatching batch")

	res := c.run(ctx, j)

	event := c.logger.Debug()
	if res.err != nil {
		event = c.logger.Warn().Err(res.err)
	}
	event.
		Uint64("batch", j.batch.ordinal).
		Int("calls", len(j.calls)).
		Dur("duration", time.Since(start)).
		Msg("batch completed")

	c.complete(j.batch, res)
}

// run aggregates the arguments and calls the operation, capturing any error
func (c *Coalescer) run(ctx context.Context, j *job) (res outcome) {
	defer func() {
		if r := recover(); r != nil {
			res = outcome{err: fmt.Errorf("%w: %v", ErrOperationPanic, r)}
		}
	}()

	args, err := c.aggregate(j.calls)
	if err != nil {
		return outcome{err: err}
	}

	values, err := c.op(ctx, args)
	if err != nil {
		return outcome{err: err}
	}

	n, err := c.agg.Len(values)
	if err != nil {
		return outcome{err: fmt.Errorf("%w: %v", ErrResultLength, err)}
	}
	if n != j.rows {
		return outcome{err: fmt.Errorf("%w: expected %d, got %d", ErrResultLength, j.rows, n)}
	}
	return outcome{values: values}
}

// aggregate concatenates the queued calls columnwise in arrival order
func (c *Coalescer) aggregate(calls []operation.Args) (operation.Args, error) {
	first := calls[0]
	out := operation.Args{}

	if len(first.Positional) > 0 {
		out.Positional = make([]operation.Vector, len(first.Positional))
		for i := range first.Positional {
			parts := make([]operation.Vector, len(calls))
			for j, call := range calls {
				parts[j] = call.Positional[i]
			}
			v, err := c.agg.Concat(parts)
			if err != nil {
				return operation.Args{}, err
			}
			out.Positional[i] = v
		}
	}

	if len(first.Named) > 0 {
		out.Named = make(map[string]operation.Vector, len(first.Named))
		for key := range first.Named {
			parts := make([]operation.Vector, len(calls))
			for j, call := range calls {
				parts[j] = call.Named[key]
			}
			v, err := c.agg.Concat(parts)
			if err != nil {
				return operation.Args{}, err
			}
			out.Named[key] = v
		}
	}

	return out, nil
}

// complete stores the outcome and wakes every waiter of the batch
func (c *Coalescer) complete(b *batch, res outcome) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b.result = res
	b.state = stateResultReady
	if res.err != nil {
		c.failedBatches++
	}
	close(b.ready)

	if b.readers == 0 {
		c.drainLocked(b)
	}
}

// release marks one reader of b as done. The last reader of a ready batch
// drops its bookkeeping; if every member of a still open batch has left, the
// batch is dispatched so that it does not linger.
func (c *Coalescer) release(b *batch) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b.readers--
	if b.readers > 0 {
		return
	}
	switch b.state {
	case stateResultReady:
		c.drainLocked(b)
	case stateOpen:
		if j := c.closeLocked(b, triggerAbandoned); j != nil {
			go c.execute(context.Background(), j)
		}
	}
}

// drainLocked removes b from the shared maps. Must be called with c.mu held.
func (c *Coalescer) drainLocked(b *batch) {
	b.state = stateDrained
	delete(c.batches, b.ordinal)
}

// Flush dispatches the open batch immediately and waits for the operation to
// return. It is a no-op when nothing is queued.
func (c *Coalescer) Flush(ctx context.Context) {
	c.mu.Lock()
	var j *job
	if b := c.batches[c.current]; b != nil && len(c.queue) > 0 {
		j = c.closeLocked(b, triggerFlush)
	}
	c.mu.Unlock()

	if j != nil {
		c.execute(ctx, j)
	}
}

// Stats returns a snapshot of the internal bookkeeping
func (c *Coalescer) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Stats{
		QueuedCalls:   len(c.queue),
		QueuedRows:    c.queuedRows,
		LiveBatches:   len(c.batches),
		CurrentBatch:  c.current,
		Dispatched:    c.dispatched,
		FailedBatches: c.failedBatches,
	}
}
