// Package guard limits admission to a batch operation.
//
// Guard is a non-blocking capacity limiter: once limit calls are in flight,
// further calls fail immediately with ErrCapacityExceeded instead of queueing.
// Breaker fails fast with ErrCircuitOpen after consecutive operation failures
// and lets a few probe calls through once the recovery timeout has elapsed.
//
// Both are exposed as operation middlewares:
//
//	g, _ := guard.New(20, logger)
//	b := guard.NewBreaker(guard.BreakerConfig{Enabled: true}, logger)
//	f := operation.Chain(backend, g.Middleware(), b.Middleware(), coalescer.Middleware())
package guard
