// Package batcher coalesces concurrent calls to a batchable operation.
//
// Every call contributes argument vectors of R rows. Calls admitted while a
// batch is open are concatenated columnwise (in arrival order) and the wrapped
// operation is invoked once for the whole batch. The returned sequence is
// sliced back so that each caller receives exactly the rows it contributed.
//
// A batch is dispatched when either
//   - the queued rows reach TargetBatchSize (the admitting call dispatches), or
//   - a waiting call hits MaxWaitingTime while its batch is still open.
//
// A call whose batch was already dispatched by someone else waits at most
// MaxProcessingTime more for the result and fails with ErrTimeout otherwise.
//
// Example:
//
//	c, err := batcher.New(predict, batcher.Config{
//	    TargetBatchSize: 10,
//	    MaxWaitingTime:  100 * time.Millisecond,
//	}, logger)
//	if err != nil {
//	    return err
//	}
//	out, err := c.Submit(ctx, operation.Args{Positional: []operation.Vector{[]float64{5}}})
package batcher
