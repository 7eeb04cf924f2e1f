package ir

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValueSealed(t *testing.T) {
	var _ Value = Null{}
	var _ Value = String("test")
	var _ Value = Int(42)
	var _ Value = Bool(true)
	var _ Value = Array{String("a"), Int(1)}
	var _ Value = Object{"key": String("value")}
}

func TestObjectSortedKeys(t *testing.T) {
	obj := Object{"zebra": String("z"), "apple": String("a"), "banana": String("b")}
	assert.Equal(t, []string{"apple", "banana", "zebra"}, obj.SortedKeys())
}

func TestObjectSortedKeysCase(t *testing.T) {
	obj := Object{"a": Int(1), "A": Int(2), "aa": Int(3), "aA": Int(4), "Aa": Int(5), "AA": Int(6)}
	// 'A' = 65, 'a' = 97
	assert.Equal(t, []string{"A", "AA", "Aa", "a", "aA", "aa"}, obj.SortedKeys())
}

func TestCompareKindOrder(t *testing.T) {
	ordered := []Value{
		Null{},
		Bool(false),
		Bool(true),
		Int(-3),
		Int(10),
		String(""),
		String("b"),
		Array{},
		Array{Int(1)},
		Object{},
	}
	for i := 0; i < len(ordered)-1; i++ {
		assert.Equal(t, -1, Compare(ordered[i], ordered[i+1]), "%v < %v", ordered[i], ordered[i+1])
		assert.Equal(t, 1, Compare(ordered[i+1], ordered[i]))
	}
	assert.Equal(t, 0, Compare(nil, Null{}), "nil and Null are the same value")
	assert.Equal(t, 0, Compare(Object{"a": Int(1)}, Object{"a": Int(1)}))
}

func TestKeyString(t *testing.T) {
	tests := []struct {
		in   Value
		want string
		ok   bool
	}{
		{String("SN-1"), "SN-1", true},
		{Int(-42), "-42", true},
		{Bool(true), "true", true},
		{Null{}, "", false},
		{Array{}, "", false},
		{Object{}, "", false},
	}
	for _, tt := range tests {
		got, ok := KeyString(tt.in)
		assert.Equal(t, tt.ok, ok)
		assert.Equal(t, tt.want, got)
	}
}

func TestUnmarshalObject(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"s":"x","n":12,"b":false,"z":null,"a":[1,"two"],"o":{"k":"v"}}`), &obj)
	require.NoError(t, err)

	assert.Equal(t, String("x"), obj["s"])
	assert.Equal(t, Int(12), obj["n"])
	assert.Equal(t, Bool(false), obj["b"])
	assert.Equal(t, Null{}, obj["z"])
	assert.Equal(t, Array{Int(1), String("two")}, obj["a"])
	assert.Equal(t, Object{"k": String("v")}, obj["o"])
}

func TestUnmarshalRejectsFloats(t *testing.T) {
	var obj Object
	err := json.Unmarshal([]byte(`{"price":9.99}`), &obj)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "floats are not allowed")

	err = json.Unmarshal([]byte(`{"big":1e3}`), &obj)
	require.Error(t, err)
}

func TestMarshalJSONSorted(t *testing.T) {
	data, err := json.Marshal(Object{"b": Int(1), "a": Array{Null{}, Bool(true)}})
	require.NoError(t, err)
	assert.Equal(t, `{"a":[null,true],"b":1}`, string(data))
}

func TestFromAny(t *testing.T) {
	v, err := FromAny(map[string]any{
		"s": "x",
		"i": 3,
		"f": float64(4),
		"n": nil,
		"l": []any{true, json.Number("5")},
	})
	require.NoError(t, err)
	assert.Equal(t, Object{
		"s": String("x"),
		"i": Int(3),
		"f": Int(4),
		"n": Null{},
		"l": Array{Bool(true), Int(5)},
	}, v)

	_, err = FromAny(2.5)
	assert.Error(t, err)

	_, err = FromAny(uint64(1 << 63))
	assert.Error(t, err)
}

func TestToAnyRoundTrip(t *testing.T) {
	obj := Object{"a": Array{Int(1), String("x")}, "b": Null{}}
	back, err := FromAny(ToAny(obj))
	require.NoError(t, err)
	assert.Equal(t, obj, back)
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"nested": Object{"k": String("v")}, "list": Array{Int(1)}}
	cp := orig.Clone()
	cp["nested"].(Object)["k"] = String("changed")
	cp["list"].(Array)[0] = Int(2)

	assert.Equal(t, String("v"), orig["nested"].(Object)["k"])
	assert.Equal(t, Int(1), orig["list"].(Array)[0])
}
