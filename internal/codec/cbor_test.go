package codec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sampleItem struct {
	Stage    string            `cbor:"stage"`
	Attempts int               `cbor:"attempts"`
	Labels   map[string]string `cbor:"labels,omitempty"`
	At       time.Time         `cbor:"at"`
	Body     []byte            `cbor:"body"`
}

func TestRoundtrip(t *testing.T) {
	original := sampleItem{
		Stage:    "associate",
		Attempts: 3,
		Labels:   map[string]string{"b": "2", "a": "1"},
		At:       time.Date(2024, 1, 2, 3, 4, 5, 600, time.UTC),
		Body:     []byte(`{"serial":"X1"}`),
	}

	data, err := Marshal(original)
	require.NoError(t, err)

	var decoded sampleItem
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, original.Stage, decoded.Stage)
	assert.Equal(t, original.Attempts, decoded.Attempts)
	assert.Equal(t, original.Labels, decoded.Labels)
	assert.True(t, original.At.Equal(decoded.At))
	assert.Equal(t, original.Body, decoded.Body)
}

func TestMarshalDeterministic(t *testing.T) {
	labels := map[string]string{}
	for _, k := range []string{"z", "m", "a", "q", "c"} {
		labels[k] = k
	}
	item := sampleItem{Stage: "key", Labels: labels}

	first, err := Marshal(item)
	require.NoError(t, err)
	for range 20 {
		again, err := Marshal(item)
		require.NoError(t, err)
		assert.Equal(t, first, again)
	}
}

func TestUnmarshalAnyUsesStringKeyedMaps(t *testing.T) {
	data, err := Marshal(map[string]any{"a": map[string]any{"b": 1}})
	require.NoError(t, err)

	var decoded any
	require.NoError(t, Unmarshal(data, &decoded))
	outer, ok := decoded.(map[string]any)
	require.True(t, ok)
	_, ok = outer["a"].(map[string]any)
	assert.True(t, ok)
}

func TestUnmarshalIgnoresUnknownFields(t *testing.T) {
	data, err := Marshal(map[string]any{"stage": "intake", "future_field": true})
	require.NoError(t, err)

	var decoded sampleItem
	require.NoError(t, Unmarshal(data, &decoded))
	assert.Equal(t, "intake", decoded.Stage)
}
