package batcher

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchgate/internal/operation"
)

type callResult struct {
	out operation.Vector
	err error
}

// recorder is a batch operation that remembers every invocation
type recorder struct {
	mu    sync.Mutex
	calls []operation.Args
	fn    func(args operation.Args) (operation.Vector, error)
}

func (r *recorder) op(ctx context.Context, args operation.Args) (operation.Vector, error) {
	r.mu.Lock()
	r.calls = append(r.calls, args)
	r.mu.Unlock()
	return r.fn(args)
}

func (r *recorder) invocations() []operation.Args {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]operation.Args, len(r.calls))
	copy(out, r.calls)
	return out
}

// plusTen returns x+10 for every row of the first positional (or "arg1") int vector
func plusTen(args operation.Args) (operation.Vector, error) {
	var in []int
	if len(args.Positional) > 0 {
		in = args.Positional[0].([]int)
	} else {
		in = args.Named["arg1"].([]int)
	}
	out := make([]int, len(in))
	for i, v := range in {
		out[i] = v + 10
	}
	return out, nil
}

func newTestCoalescer(t *testing.T, fn func(operation.Args) (operation.Vector, error), cfg Config) (*Coalescer, *recorder) {
	t.Helper()
	rec := &recorder{fn: fn}
	c, err := New(rec.op, cfg, zerolog.Nop())
	require.NoError(t, err)
	return c, rec
}

func pos(vectors ...operation.Vector) operation.Args {
	return operation.Args{Positional: vectors}
}

// goSubmit starts a call and waits until it has been admitted, so that
// arrival order is deterministic
func goSubmit(t *testing.T, wg *conc.WaitGroup, c *Coalescer, ctx context.Context, args operation.Args, res *callResult) {
	t.Helper()
	before := c.Stats()
	wg.Go(func() {
		res.out, res.err = c.Submit(ctx, args)
	})
	require.Eventually(t, func() bool {
		s := c.Stats()
		return s.QueuedCalls > before.QueuedCalls || s.Dispatched > before.Dispatched
	}, time.Second, time.Millisecond)
}

func assertDrained(t *testing.T, c *Coalescer) {
	t.Helper()
	assert.Eventually(t, func() bool {
		s := c.Stats()
		return s.QueuedCalls == 0 && s.QueuedRows == 0 && s.LiveBatches == 0
	}, time.Second, time.Millisecond, "internal storage not cleaned: %+v", c.Stats())
}

func TestCoalescer_SingleItemsBatchSizeReached(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 3, MaxWaitingTime: 10 * time.Second})

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}, []string{"a"}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1}, []string{"b"}), &results[1])
	goSubmit(t, &wg, c, context.Background(), pos([]int{2}, []string{"c"}), &results[2])
	wg.Wait()

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{0, 1, 2}, calls[0].Positional[0])
	assert.Equal(t, []string{"a", "b", "c"}, calls[0].Positional[1])

	for i, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, []int{10 + i}, r.out)
	}
	assertDrained(t, c)
}

func TestCoalescer_KeywordArgsBatchSizeReached(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 3, MaxWaitingTime: 10 * time.Second})

	named := func(n int, s string) operation.Args {
		return operation.Args{Named: map[string]operation.Vector{"arg1": []int{n}, "arg2": []string{s}}}
	}

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), named(0, "a"), &results[0])
	goSubmit(t, &wg, c, context.Background(), named(1, "b"), &results[1])
	goSubmit(t, &wg, c, context.Background(), named(2, "c"), &results[2])
	wg.Wait()

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Empty(t, calls[0].Positional)
	assert.Equal(t, []int{0, 1, 2}, calls[0].Named["arg1"])
	assert.Equal(t, []string{"a", "b", "c"}, calls[0].Named["arg2"])

	for i, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, []int{10 + i}, r.out)
	}
}

func TestCoalescer_SingleItemsTimeout(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 10, MaxWaitingTime: 10 * time.Millisecond})

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	start := time.Now()
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}, []string{"a"}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1}, []string{"b"}), &results[1])
	goSubmit(t, &wg, c, context.Background(), pos([]int{2}, []string{"c"}), &results[2])
	wg.Wait()

	assert.Less(t, time.Since(start), 200*time.Millisecond)
	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{0, 1, 2}, calls[0].Positional[0])
	for i, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, []int{10 + i}, r.out)
	}
	assertDrained(t, c)
}

func TestCoalescer_MultiRowBatchSizeReached(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 5, MaxWaitingTime: 2 * time.Second})

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}, []string{"a"}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1, 2, 3}, []string{"b", "c", "d"}), &results[1])
	goSubmit(t, &wg, c, context.Background(), pos([]int{4}, []string{"e"}), &results[2])
	wg.Wait()

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4}, calls[0].Positional[0])
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, calls[0].Positional[1])

	require.NoError(t, results[0].err)
	require.NoError(t, results[1].err)
	require.NoError(t, results[2].err)
	assert.Equal(t, []int{10}, results[0].out)
	assert.Equal(t, []int{11, 12, 13}, results[1].out)
	assert.Equal(t, []int{14}, results[2].out)
}

func TestCoalescer_MixedArgsAndKwargs(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 5, MaxWaitingTime: 2 * time.Second})

	call := func(n []int, s []string) operation.Args {
		return operation.Args{
			Positional: []operation.Vector{n},
			Named:      map[string]operation.Vector{"arg2": s},
		}
	}

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), call([]int{0}, []string{"a"}), &results[0])
	goSubmit(t, &wg, c, context.Background(), call([]int{1, 2, 3}, []string{"b", "c", "d"}), &results[1])
	goSubmit(t, &wg, c, context.Background(), call([]int{4}, []string{"e"}), &results[2])
	wg.Wait()

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, calls[0].Named["arg2"])
	assert.Equal(t, []int{11, 12, 13}, results[1].out)
}

func TestCoalescer_ItemsRunningOverBatchSize(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 5, MaxWaitingTime: 2 * time.Second})

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1, 2, 3}), &results[1])
	goSubmit(t, &wg, c, context.Background(), pos([]int{4, 5}), &results[2])
	wg.Wait()

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5}, calls[0].Positional[0])
	assert.Equal(t, []int{10}, results[0].out)
	assert.Equal(t, []int{11, 12, 13}, results[1].out)
	assert.Equal(t, []int{14, 15}, results[2].out)
}

func TestCoalescer_UpstreamErrorPropagatedToAllCallers(t *testing.T) {
	upstreamErr := errors.New("upstream exception")
	c, _ := newTestCoalescer(t, func(operation.Args) (operation.Vector, error) {
		return nil, upstreamErr
	}, Config{TargetBatchSize: 3, MaxWaitingTime: 10 * time.Second})

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	for i := range results {
		goSubmit(t, &wg, c, context.Background(), pos([]int{i}), &results[i])
	}
	wg.Wait()

	for _, r := range results {
		assert.Same(t, upstreamErr, r.err)
		assert.Nil(t, r.out)
	}
	assert.Equal(t, uint64(1), c.Stats().FailedBatches)
	assertDrained(t, c)
}

func TestCoalescer_ShapeRejectionIsLocal(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 3, MaxWaitingTime: 200 * time.Millisecond})

	results := make([]callResult, 2)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}, []string{"a"}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1}, []string{"b"}), &results[1])

	_, err := c.Submit(context.Background(), operation.Args{
		Named: map[string]operation.Vector{"arg1": []int{2}, "arg2": []string{"c"}},
	})
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = c.Submit(context.Background(), pos([]int{1}))
	assert.ErrorIs(t, err, ErrShapeMismatch)

	_, err = c.Submit(context.Background(), pos([]int{}, []string{}))
	assert.ErrorIs(t, err, ErrEmptyInput)

	wg.Wait()

	require.NoError(t, results[0].err)
	require.NoError(t, results[1].err)
	assert.Equal(t, []int{10}, results[0].out)
	assert.Equal(t, []int{11}, results[1].out)

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{0, 1}, calls[0].Positional[0])
	assertDrained(t, c)
}

func TestCoalescer_InvalidArgumentIsLocal(t *testing.T) {
	// Returns the second column so that misaligned rows would show up
	secondColumn := func(args operation.Args) (operation.Vector, error) {
		return args.Positional[1], nil
	}
	c, rec := newTestCoalescer(t, secondColumn, Config{TargetBatchSize: 2, MaxWaitingTime: 10 * time.Second})

	results := make([]callResult, 2)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}, []string{"a"}), &results[0])

	_, err := c.Submit(context.Background(), pos([]int{1}, 5))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Submit(context.Background(), pos([]int{1}, []string{"x", "extra"}))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = c.Submit(context.Background(), pos([]int{}, []string{"x"}))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	s := c.Stats()
	assert.Equal(t, 1, s.QueuedCalls)
	assert.Equal(t, 1, s.QueuedRows)

	goSubmit(t, &wg, c, context.Background(), pos([]int{1}, []string{"b"}), &results[1])
	wg.Wait()

	require.NoError(t, results[0].err)
	require.NoError(t, results[1].err)
	assert.Equal(t, []string{"a"}, results[0].out)
	assert.Equal(t, []string{"b"}, results[1].out)

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []string{"a", "b"}, calls[0].Positional[1])
	assertDrained(t, c)
}

func TestCoalescer_RaggedNamedArguments(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 1, MaxWaitingTime: time.Second})

	_, err := c.Submit(context.Background(), operation.Args{
		Named: map[string]operation.Vector{"arg1": []int{1, 2}, "arg2": []string{"a"}},
	})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	assert.Empty(t, rec.invocations())
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCoalescer_EmptyInput(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 1, MaxWaitingTime: time.Second})

	_, err := c.Submit(context.Background(), operation.Args{})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = c.Submit(context.Background(), operation.Args{Named: map[string]operation.Vector{"x": []int{}}})
	assert.ErrorIs(t, err, ErrEmptyInput)

	_, err = c.Submit(context.Background(), pos(42))
	assert.ErrorIs(t, err, ErrInvalidArgument)

	assert.Empty(t, rec.invocations())
	assert.Equal(t, Stats{}, c.Stats())
}

func TestCoalescer_InternalStorageIsCleaned(t *testing.T) {
	c, _ := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 3, MaxWaitingTime: 10 * time.Second})

	var wg conc.WaitGroup
	results := make([]callResult, 3)
	for i := range results {
		wg.Go(func() {
			results[i].out, results[i].err = c.Submit(context.Background(), pos([]int{0}))
		})
	}
	wg.Wait()

	for _, r := range results {
		require.NoError(t, r.err)
	}
	assert.ElementsMatch(t, []interface{}{[]int{10}, []int{10}, []int{10}}, []interface{}{results[0].out, results[1].out, results[2].out})

	s := c.Stats()
	assert.Zero(t, s.QueuedCalls)
	assert.Zero(t, s.QueuedRows)
	assert.Zero(t, s.LiveBatches)
	assert.Equal(t, uint64(1), s.CurrentBatch)
}

func TestCoalescer_InternalStorageIsCleanedWhenCancelled(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 3, MaxWaitingTime: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	results := make([]callResult, 3)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, ctx, pos([]int{0}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1}), &results[1])
	cancel()
	goSubmit(t, &wg, c, context.Background(), pos([]int{2}), &results[2])
	wg.Wait()

	assert.ErrorIs(t, results[0].err, context.Canceled)
	require.NoError(t, results[1].err)
	require.NoError(t, results[2].err)
	assert.Equal(t, []int{11}, results[1].out)
	assert.Equal(t, []int{12}, results[2].out)

	// The cancelled call's rows still belong to the dispatched batch
	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []int{0, 1, 2}, calls[0].Positional[0])
	assertDrained(t, c)
}

func TestCoalescer_AllMembersCancelled(t *testing.T) {
	release := make(chan struct{})
	c, _ := newTestCoalescer(t, func(args operation.Args) (operation.Vector, error) {
		<-release
		return plusTen(args)
	}, Config{TargetBatchSize: 2, MaxWaitingTime: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	results := make([]callResult, 2)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, ctx, pos([]int{0}), &results[0])
	goSubmit(t, &wg, c, ctx, pos([]int{1}), &results[1])

	// Batch is in flight; cancel every waiter before it completes
	cancel()
	wg.Wait()
	assert.ErrorIs(t, results[0].err, context.Canceled)
	assert.ErrorIs(t, results[1].err, context.Canceled)
	assert.Equal(t, 1, c.Stats().LiveBatches)

	close(release)
	assertDrained(t, c)
}

func TestCoalescer_AbandonedOpenBatchIsDispatched(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 5, MaxWaitingTime: 10 * time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	var res callResult
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, ctx, pos([]int{0}), &res)
	cancel()
	wg.Wait()

	assert.ErrorIs(t, res.err, context.Canceled)
	assertDrained(t, c)
	require.Eventually(t, func() bool {
		return len(rec.invocations()) == 1
	}, time.Second, time.Millisecond)

	// The next call starts a fresh batch
	var next callResult
	goSubmit(t, &wg, c, context.Background(), pos([]int{7}), &next)
	c.Flush(context.Background())
	wg.Wait()

	require.NoError(t, next.err)
	assert.Equal(t, []int{17}, next.out)
	calls := rec.invocations()
	require.Len(t, calls, 2)
	assert.Equal(t, []int{7}, calls[1].Positional[0])
	assertDrained(t, c)
}

func TestCoalescer_NoDoubleDispatch(t *testing.T) {
	var rows atomic.Int64
	c, rec := newTestCoalescer(t, func(args operation.Args) (operation.Vector, error) {
		in := args.Positional[0].([]int)
		rows.Add(int64(len(in)))
		out := make([]int, len(in))
		for i, v := range in {
			out[i] = v * 2
		}
		return out, nil
	}, Config{TargetBatchSize: 4, MaxWaitingTime: time.Millisecond})

	const callers = 64
	var wg conc.WaitGroup
	var failures atomic.Int64
	for i := 0; i < callers; i++ {
		wg.Go(func() {
			time.Sleep(time.Duration(rand.Intn(3)) * time.Millisecond)
			out, err := c.Submit(context.Background(), pos([]int{i}))
			if err != nil || out.([]int)[0] != i*2 {
				failures.Add(1)
			}
		})
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assert.Equal(t, int64(callers), rows.Load(), "every row must be processed exactly once")
	assert.Equal(t, uint64(len(rec.invocations())), c.Stats().Dispatched)
	assertDrained(t, c)
}

func TestCoalescer_ConcurrentCalculationsDoNotClash(t *testing.T) {
	c, _ := newTestCoalescer(t, func(args operation.Args) (operation.Vector, error) {
		time.Sleep(time.Duration(rand.Intn(10)) * time.Millisecond)
		in := args.Positional[0].([]int)
		out := make([]int, len(in))
		for i, v := range in {
			out[i] = v * 2
		}
		return out, nil
	}, Config{TargetBatchSize: 3, MaxWaitingTime: 10 * time.Millisecond})

	var wg conc.WaitGroup
	var failures atomic.Int64
	for w := 0; w < 5; w++ {
		wg.Go(func() {
			for n := 0; n < 20; n++ {
				number := rand.Intn(1 << 20)
				out, err := c.Submit(context.Background(), pos([]int{number}))
				if err != nil || out.([]int)[0] != number*2 {
					failures.Add(1)
				}
				time.Sleep(time.Duration(rand.Intn(5)) * time.Millisecond)
			}
		})
	}
	wg.Wait()

	assert.Zero(t, failures.Load())
	assertDrained(t, c)
}

func TestCoalescer_LostArbitrationTimesOut(t *testing.T) {
	release := make(chan struct{})
	c, rec := newTestCoalescer(t, func(args operation.Args) (operation.Vector, error) {
		<-release
		return plusTen(args)
	}, Config{
		TargetBatchSize:   10,
		MaxWaitingTime:    10 * time.Millisecond,
		MaxProcessingTime: 20 * time.Millisecond,
	})

	done := []chan callResult{make(chan callResult, 1), make(chan callResult, 1)}
	for i := range done {
		go func() {
			out, err := c.Submit(context.Background(), pos([]int{i}))
			done[i] <- callResult{out: out, err: err}
		}()
		require.Eventually(t, func() bool {
			return c.Stats().QueuedCalls == i+1 || c.Stats().Dispatched > 0
		}, time.Second, time.Millisecond)
	}

	// One call dispatches on its timeout, the other defers to it and gives up
	// after MaxProcessingTime while the operation is still blocked
	var first callResult
	winner := 0
	select {
	case first = <-done[0]:
		winner = 1
	case first = <-done[1]:
		winner = 0
	case <-time.After(time.Second):
		t.Fatal("no call timed out")
	}
	assert.ErrorIs(t, first.err, ErrTimeout)

	close(release)
	second := <-done[winner]
	require.NoError(t, second.err)
	assert.Equal(t, []int{10 + winner}, second.out)

	require.Len(t, rec.invocations(), 1)
	assertDrained(t, c)
}

func TestCoalescer_ResultLengthMismatch(t *testing.T) {
	c, _ := newTestCoalescer(t, func(operation.Args) (operation.Vector, error) {
		return []int{1}, nil
	}, Config{TargetBatchSize: 2, MaxWaitingTime: time.Second})

	results := make([]callResult, 2)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1}), &results[1])
	wg.Wait()

	assert.ErrorIs(t, results[0].err, ErrResultLength)
	assert.ErrorIs(t, results[1].err, ErrResultLength)
	assertDrained(t, c)
}

func TestCoalescer_OperationPanic(t *testing.T) {
	c, _ := newTestCoalescer(t, func(operation.Args) (operation.Vector, error) {
		panic("boom")
	}, Config{TargetBatchSize: 1, MaxWaitingTime: time.Second})

	_, err := c.Submit(context.Background(), pos([]int{0}))
	assert.ErrorIs(t, err, ErrOperationPanic)
	assert.Contains(t, err.Error(), "boom")
	assertDrained(t, c)
}

func TestCoalescer_Flush(t *testing.T) {
	c, rec := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 10, MaxWaitingTime: time.Hour})

	c.Flush(context.Background()) // nothing queued

	results := make([]callResult, 2)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]int{0}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]int{1}), &results[1])

	c.Flush(context.Background())
	wg.Wait()

	require.Len(t, rec.invocations(), 1)
	assert.Equal(t, []int{10}, results[0].out)
	assert.Equal(t, []int{11}, results[1].out)
	assertDrained(t, c)
}

func TestCoalescer_NumericAggregation(t *testing.T) {
	c, rec := newTestCoalescer(t, func(args operation.Args) (operation.Vector, error) {
		in := args.Positional[0].([]float64)
		out := make([]float64, len(in))
		for i, v := range in {
			out[i] = v + 10
		}
		return out, nil
	}, Config{TargetBatchSize: 3, MaxWaitingTime: time.Second, ArgumentAggregation: AggregationNumeric})

	results := make([]callResult, 3)
	var wg conc.WaitGroup
	goSubmit(t, &wg, c, context.Background(), pos([]float64{0}), &results[0])
	goSubmit(t, &wg, c, context.Background(), pos([]interface{}{1.0}), &results[1])
	goSubmit(t, &wg, c, context.Background(), pos([]int{2}), &results[2])
	wg.Wait()

	calls := rec.invocations()
	require.Len(t, calls, 1)
	assert.Equal(t, []float64{0, 1, 2}, calls[0].Positional[0])
	for i, r := range results {
		require.NoError(t, r.err)
		assert.Equal(t, []float64{float64(10 + i)}, r.out)
	}

	_, err := c.Submit(context.Background(), pos([]string{"x"}))
	assert.ErrorIs(t, err, ErrInvalidArgument)
}

func TestCoalescer_Middleware(t *testing.T) {
	c, _ := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 1, MaxWaitingTime: time.Second})

	f := operation.Chain(nil, c.Middleware())
	out, err := f(context.Background(), pos([]int{5}))
	require.NoError(t, err)
	assert.Equal(t, []int{15}, out)
}

func TestCoalescer_CancelledBeforeAdmission(t *testing.T) {
	c, _ := newTestCoalescer(t, plusTen, Config{TargetBatchSize: 1, MaxWaitingTime: time.Second})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.Submit(ctx, pos([]int{5}))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Stats{}, c.Stats())
}

func TestNew_InvalidConfig(t *testing.T) {
	valid := Config{TargetBatchSize: 1, MaxWaitingTime: time.Second}

	tests := []struct {
		name string
		cfg  func(Config) Config
	}{
		{"zero batch size", func(c Config) Config { c.TargetBatchSize = 0; return c }},
		{"negative batch size", func(c Config) Config { c.TargetBatchSize = -1; return c }},
		{"zero waiting time", func(c Config) Config { c.MaxWaitingTime = 0; return c }},
		{"negative waiting time", func(c Config) Config { c.MaxWaitingTime = -time.Second; return c }},
		{"negative processing time", func(c Config) Config { c.MaxProcessingTime = -time.Second; return c }},
		{"unknown aggregation", func(c Config) Config { c.ArgumentAggregation = "unknown"; return c }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := New(plusTenOp, tt.cfg(valid), zerolog.Nop())
			assert.ErrorIs(t, err, ErrConfiguration)
		})
	}

	_, err := New(nil, valid, zerolog.Nop())
	assert.ErrorIs(t, err, ErrConfiguration)

	c, err := New(plusTenOp, valid, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, DefaultMaxProcessingTime, c.Config().MaxProcessingTime)
	assert.Equal(t, AggregationSequence, c.Config().ArgumentAggregation)
}

func plusTenOp(ctx context.Context, args operation.Args) (operation.Vector, error) {
	return plusTen(args)
}
