package exercise

import (
	"encoding/json"
	"strings"
)

// CoerceObject returns v as a JSON object. v may already be decoded or may be
// a JSON string. Anything that is not an object becomes an empty map and ok
// reports false. Absent values (nil, empty string) are not malformed.
func CoerceObject(v any) (m map[string]any, ok bool) {
	switch t := v.(type) {
	case nil:
		return map[string]any{}, true
	case map[string]any:
		return t, true
	case Item:
		return map[string]any(t), true
	case string:
		if strings.TrimSpace(t) == "" {
			return map[string]any{}, true
		}
		return CoerceObject(parseJSON([]byte(t)))
	case []byte:
		return CoerceObject(string(t))
	case json.RawMessage:
		return CoerceObject(string(t))
	default:
		return map[string]any{}, false
	}
}

// CoerceArray returns v as a JSON array, following the same rules as
// CoerceObject.
func CoerceArray(v any) (a []any, ok bool) {
	switch t := v.(type) {
	case nil:
		return []any{}, true
	case []any:
		return t, true
	case []Item:
		out := make([]any, len(t))
		for i, it := range t {
			out[i] = map[string]any(it)
		}
		return out, true
	case string:
		if strings.TrimSpace(t) == "" {
			return []any{}, true
		}
		return CoerceArray(parseJSON([]byte(t)))
	case []byte:
		return CoerceArray(string(t))
	case json.RawMessage:
		return CoerceArray(string(t))
	default:
		return []any{}, false
	}
}

// CoerceItems returns v as a list of items. Array elements that are not
// objects are dropped and reported through ok.
func CoerceItems(v any) (items []Item, ok bool) {
	if t, isItems := v.([]Item); isItems {
		return t, true
	}
	arr, ok := CoerceArray(v)
	items = make([]Item, 0, len(arr))
	for _, el := range arr {
		m, isObj := el.(map[string]any)
		if !isObj {
			ok = false
			continue
		}
		items = append(items, Item(m))
	}
	return items, ok
}

// sentinel for unparseable input so the caller's type switch hits default
type invalidJSON struct{}

func parseJSON(b []byte) any {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return invalidJSON{}
	}
	if v == nil {
		return invalidJSON{}
	}
	return v
}
