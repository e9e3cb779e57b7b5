// Package operation defines the calling convention shared by the coalescer and
// the wrappers stacked around it.
//
// An operation takes N positional and/or M named argument vectors, each a
// sequence of R rows, and returns a single sequence of R rows. Wrappers
// (admission guard, retry, coalescer) all consume and produce a Func, so they
// compose with Chain:
//
//	f := operation.Chain(backend, guard.Middleware(g), retry.Middleware(r), coalescer.Middleware())
package operation
