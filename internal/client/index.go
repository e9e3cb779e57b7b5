// Package client is a JSON-RPC client for the WebSocket endpoint.
// Concurrent calls share one connection and are matched to responses by ID.
package client
