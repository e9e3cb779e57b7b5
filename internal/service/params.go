package service

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"batchgate/internal/operation"
)

// ErrInvalidParams is returned for params that are not vectors
var ErrInvalidParams = errors.New("invalid params")

// DecodeParams converts JSON-RPC params into call arguments.
// An array of arrays gives positional vectors, an object of arrays named ones.
func DecodeParams(raw json.RawMessage) (operation.Args, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return operation.Args{}, fmt.Errorf("%w: params are required", ErrInvalidParams)
	}

	switch raw[0] {
	case '[':
		var vectors []json.RawMessage
		if err := json.Unmarshal(raw, &vectors); err != nil {
			return operation.Args{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		args := operation.Args{Positional: make([]operation.Vector, len(vectors))}
		for i, v := range vectors {
			vec, err := decodeVector(v)
			if err != nil {
				return operation.Args{}, fmt.Errorf("%w: argument %d: %v", ErrInvalidParams, i, err)
			}
			args.Positional[i] = vec
		}
		return args, nil

	case '{':
		var vectors map[string]json.RawMessage
		if err := json.Unmarshal(raw, &vectors); err != nil {
			return operation.Args{}, fmt.Errorf("%w: %v", ErrInvalidParams, err)
		}
		args := operation.Args{Named: make(map[string]operation.Vector, len(vectors))}
		for key, v := range vectors {
			vec, err := decodeVector(v)
			if err != nil {
				return operation.Args{}, fmt.Errorf("%w: argument %s: %v", ErrInvalidParams, key, err)
			}
			args.Named[key] = vec
		}
		return args, nil

	default:
		return operation.Args{}, fmt.Errorf("%w: params must be an array or an object", ErrInvalidParams)
	}
}

// decodeVector decodes one JSON array
func decodeVector(raw json.RawMessage) ([]interface{}, error) {
	var vec []interface{}
	if err := json.Unmarshal(raw, &vec); err != nil {
		return nil, errors.New("expected an array")
	}
	if vec == nil {
		return nil, errors.New("expected an array, got null")
	}
	return vec, nil
}
