package service

import (
	"encoding/json"
	"errors"
	"io"
	"math"
	"net/http"
	"strconv"

	"github.com/rs/zerolog"

	"batchgate/internal/config"
	"batchgate/internal/guard"
	"batchgate/internal/jsonrpc"
	"batchgate/internal/operation"
)

// predictMethod is the method behind GET /predict
const predictMethod = config.DefaultMethod

// unavailableBody is returned by GET /predict when the method is at capacity
var unavailableBody = map[string]interface{}{
	"status": http.StatusServiceUnavailable,
	"title":  "Service unavailable",
	"detail": "Too many concurrent requests",
}

// Handler handles HTTP requests
type Handler struct {
	executor    *Executor
	maxBodySize int64
	logger      zerolog.Logger
}

// NewHandler creates a new Handler
func NewHandler(executor *Executor, maxBodySize int64, logger zerolog.Logger) *Handler {
	return &Handler{
		executor:    executor,
		maxBodySize: maxBodySize,
		logger:      logger.With().Str("component", "http").Logger(),
	}
}

// ServeHTTP handles HTTP requests
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/predict" && r.Method == http.MethodGet:
		h.servePredict(w, r)
	case r.URL.Path == "/stats" && r.Method == http.MethodGet:
		h.serveStats(w)
	case r.URL.Path == "/" && r.Method == http.MethodPost:
		h.serveRPC(w, r)
	case r.URL.Path == "/" || r.URL.Path == "/predict" || r.URL.Path == "/stats":
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	default:
		h.writeError(w, http.StatusNotFound, "not found")
	}
}

// serveRPC handles a JSON-RPC request or batch
func (h *Handler) serveRPC(w http.ResponseWriter, r *http.Request) {
	body, err := h.readBody(r)
	if err != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), jsonrpc.NewError(jsonrpc.CodeInvalidRequest, err.Error()))
		return
	}

	requests, isBatch, err := jsonrpc.ParseBatchRequest(body)
	if err != nil {
		h.writeJSONRPCError(w, jsonrpc.NewIDNull(), jsonrpc.ErrParse)
		return
	}

	if !isBatch {
		h.writeJSON(w, http.StatusOK, h.executor.Execute(r.Context(), requests[0]))
		return
	}

	responses := h.executor.ExecuteBatch(r.Context(), requests)
	if len(responses) == 0 {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	h.writeJSON(w, http.StatusOK, responses)
}

// readBody reads the request body, honouring maxBodySize
func (h *Handler) readBody(r *http.Request) ([]byte, error) {
	if h.maxBodySize <= 0 {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			return nil, errors.New("failed to read request body")
		}
		return body, nil
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxBodySize+1))
	if err != nil {
		return nil, errors.New("failed to read request body")
	}
	if int64(len(body)) > h.maxBodySize {
		return nil, errors.New("request body too large")
	}
	return body, nil
}

// servePredict handles GET /predict?number=x, a single-row call to predict
func (h *Handler) servePredict(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.ParseFloat(r.URL.Query().Get("number"), 64)
	if err != nil || math.IsNaN(number) || math.IsInf(number, 0) {
		h.writeJSON(w, http.StatusUnprocessableEntity, map[string]interface{}{
			"status": http.StatusUnprocessableEntity,
			"title":  "Invalid number",
			"detail": "query parameter 'number' must be a finite float",
		})
		return
	}

	m, ok := h.executor.Registry().Get(predictMethod)
	if !ok {
		h.writeError(w, http.StatusNotFound, "predict method is not configured")
		return
	}

	out, err := m.Call(r.Context(), operation.Args{Positional: []operation.Vector{[]float64{number}}})
	switch {
	case errors.Is(err, guard.ErrCapacityExceeded):
		h.writeJSON(w, http.StatusServiceUnavailable, unavailableBody)
	case err != nil:
		rpcErr := ErrorToRPC(err)
		h.logger.Warn().Err(err).Msg("predict failed")
		h.writeJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"status": http.StatusInternalServerError,
			"title":  "Prediction failed",
			"detail": rpcErr.Message,
		})
	default:
		h.writeJSON(w, http.StatusOK, map[string]interface{}{"result": out})
	}
}

// serveStats handles GET /stats
func (h *Handler) serveStats(w http.ResponseWriter) {
	h.writeJSON(w, http.StatusOK, map[string]interface{}{
		"requests": h.executor.Stats(),
		"methods":  h.executor.Registry().Stats(),
	})
}

// writeJSON writes v as a JSON body
func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		h.logger.Error().Err(err).Msg("failed to marshal response")
		h.writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
}

// writeJSONRPCError writes a JSON-RPC error response
func (h *Handler) writeJSONRPCError(w http.ResponseWriter, id jsonrpc.ID, rpcErr *jsonrpc.Error) {
	h.writeJSON(w, http.StatusOK, jsonrpc.NewErrorResponse(id, rpcErr))
}

// writeError writes a plain HTTP error
func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	http.Error(w, message, status)
}
