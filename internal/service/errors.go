package service

import (
	"context"
	"errors"

	"batchgate/internal/batcher"
	"batchgate/internal/guard"
	"batchgate/internal/jsonrpc"
	"batchgate/internal/plugin"
)

// ErrorToRPC maps a call error to a JSON-RPC error
func ErrorToRPC(err error) *jsonrpc.Error {
	var rpcErr *jsonrpc.Error
	if errors.As(err, &rpcErr) {
		return rpcErr
	}
	var pluginErr *plugin.Error
	if errors.As(err, &pluginErr) {
		return jsonrpc.NewError(pluginErr.Code, pluginErr.Message)
	}

	switch {
	case errors.Is(err, guard.ErrCapacityExceeded):
		return jsonrpc.NewError(jsonrpc.CodeCapacityExceeded, "Too many concurrent requests")
	case errors.Is(err, guard.ErrCircuitOpen):
		return jsonrpc.NewError(jsonrpc.CodeCircuitOpen, err.Error())
	case errors.Is(err, batcher.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return jsonrpc.NewError(jsonrpc.CodeTimeout, err.Error())
	case errors.Is(err, batcher.ErrShapeMismatch):
		return jsonrpc.NewError(jsonrpc.CodeShapeMismatch, err.Error())
	case errors.Is(err, batcher.ErrEmptyInput):
		return jsonrpc.NewError(jsonrpc.CodeEmptyInput, err.Error())
	case errors.Is(err, batcher.ErrInvalidArgument), errors.Is(err, ErrInvalidParams):
		return jsonrpc.NewError(jsonrpc.CodeInvalidParams, err.Error())
	case errors.Is(err, context.Canceled):
		return jsonrpc.NewError(jsonrpc.CodeInternalError, "request cancelled")
	default:
		return jsonrpc.NewError(jsonrpc.CodeUpstream, err.Error())
	}
}
