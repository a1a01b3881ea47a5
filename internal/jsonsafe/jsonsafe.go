// Package jsonsafe coerces arbitrary Go values into values that encoding/json
// can always marshal. Graph metadata and generation results pass through it
// before they are persisted or embedded in a response.
package jsonsafe

import (
	"encoding/json"
	"fmt"
	"reflect"
)

// Placeholder replaces values that have no usable textual form.
const Placeholder = "[unserializable]"

// maxDepth cuts off nesting, which also stops self-referencing maps.
const maxDepth = 32

// Map returns a copy of m in which every value marshals cleanly.
// Values that fail to marshal are replaced by their fmt representation.
func Map(m map[string]any) map[string]any {
	return mapAt(m, 0)
}

func mapAt(m map[string]any, depth int) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = valueAt(v, depth+1)
	}
	return out
}

// Value returns v unchanged when it marshals, otherwise a string form of it.
// Nested maps and slices are walked so one bad element does not discard
// its siblings.
func Value(v any) any {
	return valueAt(v, 0)
}

func valueAt(v any, depth int) any {
	if depth > maxDepth {
		return Placeholder
	}
	switch t := v.(type) {
	case nil:
		return nil
	case map[string]any:
		return mapAt(t, depth)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = valueAt(e, depth+1)
		}
		return out
	}
	if _, err := json.Marshal(v); err == nil {
		return v
	}
	return describe(v)
}

// String marshals v and falls back to Placeholder when that is impossible.
func String(v any) string {
	b, err := json.Marshal(Value(v))
	if err != nil {
		return Placeholder
	}
	return string(b)
}

func describe(v any) (s string) {
	defer func() {
		if recover() != nil {
			s = Placeholder
		}
	}()
	switch reflect.ValueOf(v).Kind() {
	case reflect.Func, reflect.Chan, reflect.UnsafePointer:
		return Placeholder
	}
	s = fmt.Sprintf("%v", v)
	if s == "" {
		return Placeholder
	}
	return s
}
