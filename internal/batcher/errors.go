package batcher

import "errors"

var (
	// ErrConfiguration is returned by New for invalid options
	ErrConfiguration = errors.New("invalid batching configuration")

	// ErrShapeMismatch is returned when a call's positional count or keyword
	// keys differ from the calls already queued in the open batch
	ErrShapeMismatch = errors.New("inconsistent use of positional and keyword arguments")

	// ErrEmptyInput is returned when a call contributes zero rows
	ErrEmptyInput = errors.New("function called with empty collections as arguments")

	// ErrInvalidArgument is returned when an argument is not a sequence the
	// configured aggregation understands
	ErrInvalidArgument = errors.New("argument cannot be aggregated")

	// ErrTimeout is returned to a call that deferred to an in-flight dispatch
	// which did not complete within MaxProcessingTime
	ErrTimeout = errors.New("timed out waiting for batch result")

	// ErrResultLength is delivered to every member of a batch whose operation
	// returned a sequence of the wrong length
	ErrResultLength = errors.New("batch result length mismatch")

	// ErrOperationPanic is delivered to every member of a batch whose
	// operation panicked
	ErrOperationPanic = errors.New("operation panicked")
)
