package service

import (
	"context"
	"encoding/json"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/sourcegraph/conc"

	"batchgate/internal/cache"
	"batchgate/internal/jsonrpc"
)

// Executor resolves JSON-RPC requests against a Registry
type Executor struct {
	registry *Registry
	cache    cache.Cache
	policy   *cache.Policy
	timeout  time.Duration
	logger   zerolog.Logger

	requests  atomic.Uint64
	failures  atomic.Uint64
	cacheHits atomic.Uint64
}

// ExecutorStats holds request counters
type ExecutorStats struct {
	Requests  uint64 `json:"requests"`
	Failures  uint64 `json:"failures"`
	CacheHits uint64 `json:"cacheHits"`
}

// NewExecutor creates a new Executor. A nil cache disables caching and a
// zero timeout leaves calls bounded only by the caller's context.
func NewExecutor(registry *Registry, rpcCache cache.Cache, policy *cache.Policy, timeout time.Duration, logger zerolog.Logger) *Executor {
	if rpcCache == nil {
		rpcCache = cache.NewNoopCache()
	}
	return &Executor{
		registry: registry,
		cache:    rpcCache,
		policy:   policy,
		timeout:  timeout,
		logger:   logger.With().Str("component", "executor").Logger(),
	}
}

// Registry returns the method registry
func (e *Executor) Registry() *Registry {
	return e.registry
}

// Execute runs a single request. The response is never nil.
func (e *Executor) Execute(ctx context.Context, req *jsonrpc.Request) *jsonrpc.Response {
	e.requests.Add(1)

	if err := req.Validate(); err != nil {
		e.failures.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
	}

	m, ok := e.registry.Get(req.Method)
	if !ok {
		e.failures.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrMethodNotFound)
	}

	args, err := DecodeParams(req.Params)
	if err != nil {
		e.failures.Add(1)
		return jsonrpc.NewErrorResponse(req.ID, ErrorToRPC(err))
	}

	cacheable := e.policy.IsCacheable(req.Method)
	var cacheKey string
	if cacheable {
		cacheKey = cache.GenerateKey(req.Method, req.Params)
		if cached, found := e.cache.Get(cacheKey); found {
			e.cacheHits.Add(1)
			e.logger.Debug().
				Str("method", req.Method).
				Str("cacheKey", cacheKey).
				Msg("cache hit")
			return jsonrpc.NewResponseRaw(req.ID, cached)
		}
	}

	if e.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.timeout)
		defer cancel()
	}

	out, err := m.Call(ctx, args)
	if err != nil {
		e.failures.Add(1)
		e.logger.Debug().
			Err(err).
			Str("method", req.Method).
			Msg("call failed")
		return jsonrpc.NewErrorResponse(req.ID, ErrorToRPC(err))
	}

	result, err := json.Marshal(out)
	if err != nil {
		e.failures.Add(1)
		e.logger.Error().Err(err).Str("method", req.Method).Msg("failed to marshal result")
		return jsonrpc.NewErrorResponse(req.ID, jsonrpc.ErrInternal)
	}

	if cacheable {
		e.cache.Set(cacheKey, result)
	}

	return jsonrpc.NewResponseRaw(req.ID, result)
}

// ExecuteBatch runs all requests concurrently so that calls to the same
// method coalesce. Responses keep the request order; notifications get none.
func (e *Executor) ExecuteBatch(ctx context.Context, requests []*jsonrpc.Request) []*jsonrpc.Response {
	responses := make([]*jsonrpc.Response, len(requests))

	var wg conc.WaitGroup
	for i, req := range requests {
		wg.Go(func() {
			responses[i] = e.Execute(ctx, req)
		})
	}
	wg.Wait()

	out := responses[:0]
	for i, resp := range responses {
		if requests[i].IsNotification() {
			continue
		}
		out = append(out, resp)
	}
	return out
}

// Stats returns the request counters
func (e *Executor) Stats() ExecutorStats {
	return ExecutorStats{
		Requests:  e.requests.Load(),
		Failures:  e.failures.Load(),
		CacheHits: e.cacheHits.Load(),
	}
}
