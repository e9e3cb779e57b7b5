package batcher

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"batchgate/internal/operation"
)

func TestSequenceAggregation(t *testing.T) {
	agg, err := NewAggregation(AggregationSequence)
	require.NoError(t, err)

	n, err := agg.Len([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = agg.Len("ab")
	assert.ErrorIs(t, err, ErrInvalidArgument)

	joined, err := agg.Concat([]operation.Vector{[]int{1}, []int{2, 3}})
	require.NoError(t, err)
	assert.Equal(t, []int{1, 2, 3}, joined)

	mixed, err := agg.Concat([]operation.Vector{[]int{1}, []string{"x"}})
	require.NoError(t, err)
	assert.Equal(t, []interface{}{1, "x"}, mixed)

	part, err := agg.Slice([]int{1, 2, 3, 4}, 1, 3)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 3}, part)

	_, err = agg.Slice([]int{1, 2}, 1, 3)
	assert.ErrorIs(t, err, ErrResultLength)
}

func TestSequenceAggregation_SliceDoesNotAlias(t *testing.T) {
	agg, err := NewAggregation("")
	require.NoError(t, err)
	assert.Equal(t, AggregationSequence, agg.Kind())

	values := []int{1, 2, 3, 4}
	part, err := agg.Slice(values, 0, 2)
	require.NoError(t, err)

	// Appending to one caller's share must not overwrite the next caller's rows
	_ = append(part.([]int), 100)
	assert.Equal(t, []int{1, 2, 3, 4}, values)
}

func TestNumericAggregation(t *testing.T) {
	agg, err := NewAggregation(AggregationNumeric)
	require.NoError(t, err)
	assert.Equal(t, AggregationNumeric, agg.Kind())

	n, err := agg.Len([]interface{}{1.5, 2})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	_, err = agg.Len([]interface{}{1.5, "x"})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	joined, err := agg.Concat([]operation.Vector{[]int{1}, []float32{2}, []interface{}{3.0}})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3}, joined)

	part, err := agg.Slice([]float64{1, 2, 3}, 2, 3)
	require.NoError(t, err)
	assert.Equal(t, []float64{3}, part)

	_, err = agg.Slice([]float64{1}, 0, 2)
	assert.ErrorIs(t, err, ErrResultLength)
}

func TestNewAggregation_Unknown(t *testing.T) {
	_, err := NewAggregation("matrix")
	assert.ErrorIs(t, err, ErrConfiguration)
}

func TestToFloat64s(t *testing.T) {
	f, err := ToFloat64s([]uint8{1, 2})
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2}, f)

	_, err = ToFloat64s([]interface{}{nil})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	_, err = ToFloat64s(nil)
	assert.ErrorIs(t, err, ErrInvalidArgument)
}
