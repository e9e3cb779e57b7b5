package batcher

import (
	"fmt"
	"time"

	"batchgate/internal/operation"
)

// DefaultMaxProcessingTime is used when Config.MaxProcessingTime is zero
const DefaultMaxProcessingTime = 10 * time.Second

// Config holds the coalescer options
type Config struct {
	// TargetBatchSize is the number of queued rows that triggers an immediate
	// dispatch. The operation may still see more rows than this.
	TargetBatchSize int
	// MaxWaitingTime is how long a call waits before dispatching an
	// under-filled batch itself.
	MaxWaitingTime time.Duration
	// MaxProcessingTime bounds how long a call waits for a dispatch started
	// by another call.
	MaxProcessingTime time.Duration
	// ArgumentAggregation selects how argument vectors are concatenated.
	ArgumentAggregation AggregationKind
}

// withDefaults returns a copy of the config with unset optional fields filled
func (c Config) withDefaults() Config {
	if c.MaxProcessingTime == 0 {
		c.MaxProcessingTime = DefaultMaxProcessingTime
	}
	if c.ArgumentAggregation == "" {
		c.ArgumentAggregation = AggregationSequence
	}
	return c
}

// Validate checks the options. Unset optional fields are accepted.
func (c Config) Validate() error {
	if c.TargetBatchSize <= 0 {
		return fmt.Errorf("%w: targetBatchSize must be > 0, but got %d", ErrConfiguration, c.TargetBatchSize)
	}
	if c.MaxWaitingTime <= 0 {
		return fmt.Errorf("%w: maxWaitingTime must be > 0, but got %s", ErrConfiguration, c.MaxWaitingTime)
	}
	if c.MaxProcessingTime < 0 {
		return fmt.Errorf("%w: maxProcessingTime must be > 0, but got %s", ErrConfiguration, c.MaxProcessingTime)
	}
	switch c.ArgumentAggregation {
	case "", AggregationSequence, AggregationNumeric:
	default:
		return fmt.Errorf("%w: invalid argumentAggregation %q, must be one of %q, %q",
			ErrConfiguration, c.ArgumentAggregation, AggregationSequence, AggregationNumeric)
	}
	return nil
}

// batchState is the lifecycle of one batch
type batchState int

const (
	stateOpen batchState = iota
	stateClosing
	stateResultReady
	stateDrained
)

func (s batchState) String() string {
	switch s {
	case stateOpen:
		return "open"
	case stateClosing:
		return "closing"
	case stateResultReady:
		return "result-ready"
	case stateDrained:
		return "drained"
	default:
		return "unknown"
	}
}

// outcome is either the operation's result or the error it returned
type outcome struct {
	values operation.Vector
	err    error
}

// batch is the shared bookkeeping for one batch ordinal
type batch struct {
	ordinal uint64
	state   batchState
	ready   chan struct{} // closed once the outcome is set
	result  outcome
	readers int // admitted calls that have not read the outcome yet
}

// ticket identifies the rows a call owns in its batch
type ticket struct {
	batch *batch
	start int
	stop  int
}

// job is a closed batch handed over for execution
type job struct {
	batch   *batch
	calls   []operation.Args
	rows    int
	trigger string
}

// Dispatch triggers
const (
	triggerSize      = "size"
	triggerTimeout   = "timeout"
	triggerFlush     = "flush"
	triggerAbandoned = "abandoned" // every member left before dispatch
)

// Stats is a snapshot of the coalescer bookkeeping
type Stats struct {
	QueuedCalls   int    `json:"queuedCalls"`   // calls waiting in the open batch
	QueuedRows    int    `json:"queuedRows"`    // rows waiting in the open batch
	LiveBatches   int    `json:"liveBatches"`   // batches whose outcome has not been drained
	CurrentBatch  uint64 `json:"currentBatch"`  // ordinal of the open batch
	Dispatched    uint64 `json:"dispatched"`    // operation invocations so far
	FailedBatches uint64 `json:"failedBatches"` // invocations that ended in an error
}
