package batcher

import (
	"fmt"
	"reflect"

	"batchgate/internal/operation"
)

// AggregationKind names an argument aggregation strategy
type AggregationKind string

const (
	// AggregationSequence concatenates arbitrary slices
	AggregationSequence AggregationKind = "sequence"
	// AggregationNumeric concatenates numeric slices into []float64
	AggregationNumeric AggregationKind = "numeric"
)

// Aggregation measures, concatenates and slices argument vectors
type Aggregation interface {
	// Kind returns the strategy name
	Kind() AggregationKind
	// Len returns the number of rows in v
	Len(v operation.Vector) (int, error)
	// Concat joins vectors in order
	Concat(parts []operation.Vector) (operation.Vector, error)
	// Slice returns rows [start, stop) of v
	Slice(v operation.Vector, start, stop int) (operation.Vector, error)
}

// NewAggregation returns the strategy for kind
func NewAggregation(kind AggregationKind) (Aggregation, error) {
	switch kind {
	case AggregationSequence, "":
		return sequenceAggregation{}, nil
	case AggregationNumeric:
		return numericAggregation{}, nil
	default:
		return nil, fmt.Errorf("%w: unknown argument aggregation %q", ErrConfiguration, kind)
	}
}

// sequenceAggregation works on any Go slice
type sequenceAggregation struct{}

func (sequenceAggregation) Kind() AggregationKind {
	return AggregationSequence
}

func (sequenceAggregation) Len(v operation.Vector) (int, error) {
	rv, err := sliceValue(v)
	if err != nil {
		return 0, err
	}
	return rv.Len(), nil
}

// Concat keeps the element type when all parts share it and falls back to
// []interface{} otherwise
func (sequenceAggregation) Concat(parts []operation.Vector) (operation.Vector, error) {
	if len(parts) == 0 {
		return []interface{}{}, nil
	}

	values := make([]reflect.Value, len(parts))
	total := 0
	var elem reflect.Type
	for i, p := range parts {
		rv, err := sliceValue(p)
		if err != nil {
			return nil, err
		}
		values[i] = rv
		total += rv.Len()

		switch {
		case i == 0:
			elem = rv.Type().Elem()
		case elem != rv.Type().Elem():
			elem = reflect.TypeOf((*interface{})(nil)).Elem()
		}
	}

	out := reflect.MakeSlice(reflect.SliceOf(elem), 0, total)
	for _, rv := range values {
		if rv.Type().Elem() == elem {
			out = reflect.AppendSlice(out, rv)
			continue
		}
		for i := 0; i < rv.Len(); i++ {
			out = reflect.Append(out, rv.Index(i))
		}
	}
	return out.Interface(), nil
}

func (sequenceAggregation) Slice(v operation.Vector, start, stop int) (operation.Vector, error) {
	rv, err := sliceValue(v)
	if err != nil {
		return nil, err
	}
	if start < 0 || stop > rv.Len() || start > stop {
		return nil, fmt.Errorf("%w: rows [%d, %d) out of range for %d rows", ErrResultLength, start, stop, rv.Len())
	}
	return rv.Slice3(start, stop, stop).Interface(), nil
}

// sliceValue returns v as a reflect slice value
func sliceValue(v operation.Vector) (reflect.Value, error) {
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || rv.Kind() != reflect.Slice {
		return reflect.Value{}, fmt.Errorf("%w: expected a slice, got %T", ErrInvalidArgument, v)
	}
	return rv, nil
}

// numericAggregation converts every vector to []float64
type numericAggregation struct{}

func (numericAggregation) Kind() AggregationKind {
	return AggregationNumeric
}

func (numericAggregation) Len(v operation.Vector) (int, error) {
	rv, err := sliceValue(v)
	if err != nil {
		return 0, err
	}
	if _, ok := v.([]float64); ok {
		return rv.Len(), nil
	}
	// Validate element types without copying
	for i := 0; i < rv.Len(); i++ {
		if _, ok := toFloat(rv.Index(i)); !ok {
			return 0, fmt.Errorf("%w: element %d of %T is not numeric", ErrInvalidArgument, i, v)
		}
	}
	return rv.Len(), nil
}

func (a numericAggregation) Concat(parts []operation.Vector) (operation.Vector, error) {
	total := 0
	converted := make([][]float64, len(parts))
	for i, p := range parts {
		f, err := ToFloat64s(p)
		if err != nil {
			return nil, err
		}
		converted[i] = f
		total += len(f)
	}

	out := make([]float64, 0, total)
	for _, f := range converted {
		out = append(out, f...)
	}
	return out, nil
}

func (numericAggregation) Slice(v operation.Vector, start, stop int) (operation.Vector, error) {
	f, err := ToFloat64s(v)
	if err != nil {
		return nil, err
	}
	if start < 0 || stop > len(f) || start > stop {
		return nil, fmt.Errorf("%w: rows [%d, %d) out of range for %d rows", ErrResultLength, start, stop, len(f))
	}
	return f[start:stop:stop], nil
}

// ToFloat64s converts a numeric slice (including []interface{} holding
// numbers, as produced by encoding/json) into []float64
func ToFloat64s(v operation.Vector) ([]float64, error) {
	if f, ok := v.([]float64); ok {
		return f, nil
	}
	rv, err := sliceValue(v)
	if err != nil {
		return nil, err
	}
	out := make([]float64, rv.Len())
	for i := range out {
		f, ok := toFloat(rv.Index(i))
		if !ok {
			return nil, fmt.Errorf("%w: element %d of %T is not numeric", ErrInvalidArgument, i, v)
		}
		out[i] = f
	}
	return out, nil
}

// toFloat converts a single numeric reflect value
func toFloat(rv reflect.Value) (float64, bool) {
	if rv.Kind() == reflect.Interface {
		if rv.IsNil() {
			return 0, false
		}
		rv = rv.Elem()
	}
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), true
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), true
	default:
		return 0, false
	}
}
