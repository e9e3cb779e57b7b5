package operation

import "context"

// Vector is one argument or result column: a slice holding one element per row
type Vector = interface{}

// Args holds the argument vectors of one logical call
type Args struct {
	Positional []Vector
	Named      map[string]Vector
}

// Func is the asynchronous calling convention used by every wrapper
type Func func(ctx context.Context, args Args) (Vector, error)

// Middleware wraps a Func with additional behaviour
type Middleware func(Func) Func

// SameKeys returns true if both argument sets use exactly the same keyword keys
func (a Args) SameKeys(other Args) bool {
	if len(a.Named) != len(other.Named) {
		return false
	}
	for k := range a.Named {
		if _, ok := other.Named[k]; !ok {
			return false
		}
	}
	return true
}

// IsEmpty returns true if no argument vectors were supplied at all
func (a Args) IsEmpty() bool {
	return len(a.Positional) == 0 && len(a.Named) == 0
}
