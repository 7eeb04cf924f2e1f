package ir

import (
	"slices"
	"strings"
)

// Lookup resolves a dotted payload path such as "identifier.inventory".
// Returns false when any segment is missing or traverses a non-object.
func Lookup(obj Object, path string) (Value, bool) {
	if path == "" {
		return nil, false
	}
	var cur Value = obj
	for _, seg := range strings.Split(path, ".") {
		o, ok := cur.(Object)
		if !ok {
			return nil, false
		}
		cur, ok = o[seg]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Flatten returns the payload's leaves as field updates sorted by path.
// Nested objects contribute dotted paths; arrays and scalars are leaves.
// Empty objects contribute nothing.
func Flatten(obj Object) []FieldUpdate {
	var out []FieldUpdate
	flattenInto(&out, "", obj)
	slices.SortFunc(out, func(a, b FieldUpdate) int {
		return compareKeysRFC8785(a.Path, b.Path)
	})
	return out
}

func flattenInto(out *[]FieldUpdate, prefix string, obj Object) {
	for k, v := range obj {
		path := k
		if prefix != "" {
			path = prefix + "." + k
		}
		if nested, ok := v.(Object); ok {
			flattenInto(out, path, nested)
			continue
		}
		if v == nil {
			v = Null{}
		}
		*out = append(*out, FieldUpdate{Path: path, Value: v})
	}
}

// SetPath writes v at a dotted path, creating intermediate objects.
// Used to rebuild nested documents from flattened fields.
func SetPath(obj Object, path string, v Value) {
	segs := strings.Split(path, ".")
	cur := obj
	for _, seg := range segs[:len(segs)-1] {
		next, ok := cur[seg].(Object)
		if !ok {
			next = Object{}
			cur[seg] = next
		}
		cur = next
	}
	cur[segs[len(segs)-1]] = v
}
