package cache

import (
	"bytes"
	"encoding/hex"
	"encoding/json"

	"golang.org/x/crypto/sha3"
)

// Policy decides which methods may be cached
type Policy struct {
	disabled map[string]bool
}

// NewPolicy creates a Policy that never caches the given methods
func NewPolicy(disabledMethods []string) *Policy {
	p := &Policy{disabled: make(map[string]bool, len(disabledMethods))}
	for _, method := range disabledMethods {
		p.disabled[method] = true
	}
	return p
}

// IsCacheable reports whether results of method may be cached
func (p *Policy) IsCacheable(method string) bool {
	if p == nil {
		return true
	}
	return !p.disabled[method]
}

// GenerateKey creates a cache key from the method and its JSON params.
// Params that differ only in whitespace or object key order share a key.
func GenerateKey(method string, params json.RawMessage) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(normalizeParams(params))
	return method + ":" + hex.EncodeToString(h.Sum(nil))
}

// normalizeParams re-encodes params so that equivalent JSON hashes the same.
// encoding/json sorts object keys on output.
func normalizeParams(params json.RawMessage) []byte {
	if len(bytes.TrimSpace(params)) == 0 {
		return []byte("null")
	}

	dec := json.NewDecoder(bytes.NewReader(params))
	dec.UseNumber()

	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return params
	}

	result, err := json.Marshal(data)
	if err != nil {
		return params
	}
	return result
}
