// Package service exposes configured batch operations over JSON-RPC.
//
// Each Method stacks, from the outside in: admission guard, circuit breaker,
// retry, and the coalescer in front of the backend operation. A Registry
// holds the methods; the Executor resolves one JSON-RPC request against it
// with result caching and is shared by the HTTP handler and the WebSocket
// transport.
//
// Params are vectors: an array of arrays is passed positionally, an object
// of arrays by name. Every vector of one call has the same length and the
// result holds one entry per row.
//
//	{"jsonrpc":"2.0","method":"predict","params":[[1.5, 2]],"id":1}
//	{"jsonrpc":"2.0","result":[1.618, 1.618],"id":1}
package service
