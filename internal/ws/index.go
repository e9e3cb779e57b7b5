// Package ws serves the JSON-RPC methods over WebSocket.
//
// Every message read from a connection is executed in its own goroutine,
// so requests pipelined on one connection land in the same batch. Responses
// are written back in completion order and matched by ID on the client side.
package ws
