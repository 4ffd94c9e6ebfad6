package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorScan(t *testing.T) {
	tests := []struct {
		input    interface{}
		name     string
		expected Vector
		wantErr  bool
	}{
		{name: "nil input", input: nil, expected: nil},
		{name: "empty string", input: "", expected: nil},
		{name: "text literal", input: "[0.1,0.2,0.3]", expected: Vector{0.1, 0.2, 0.3}},
		{name: "bytes literal", input: []byte("[1,-2]"), expected: Vector{1, -2}},
		{name: "spaces around elements", input: "[ 1 , 2 ]", expected: Vector{1, 2}},
		{name: "empty brackets", input: "[]", expected: Vector{}},
		{name: "missing brackets", input: "1,2,3", wantErr: true},
		{name: "bad element", input: "[1,x]", wantErr: true},
		{name: "unsupported type", input: 42, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var v Vector
			err := v.Scan(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, v)
		})
	}
}

func TestVectorRoundTrip(t *testing.T) {
	in := Vector{0.25, -1, 0.5}
	val, err := in.Value()
	require.NoError(t, err)

	var out Vector
	require.NoError(t, out.Scan(val))
	assert.Equal(t, in, out)
}

func TestVectorValueNil(t *testing.T) {
	var v Vector
	val, err := v.Value()
	require.NoError(t, err)
	assert.Nil(t, val)
}

func TestJSONStringArrayScan(t *testing.T) {
	var arr JSONStringArray
	require.NoError(t, arr.Scan(`["politics","economy"]`))
	assert.Equal(t, JSONStringArray{"politics", "economy"}, arr)

	require.NoError(t, arr.Scan(nil))
	assert.Nil(t, arr)
}

func TestDecisionString(t *testing.T) {
	var d Decision = Assigned{TopicID: 7, Score: 0.812}
	assert.Contains(t, d.String(), "topic=7")

	d = Deferred{BestScore: 0.4, Reason: PendingLowSimilarity}
	assert.Contains(t, d.String(), "low_similarity")
}
