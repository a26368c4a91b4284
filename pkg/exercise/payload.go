// Package exercise defines the document shape shared by the storage engine,
// the media manager and the HTTP adapter.
package exercise

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Payload is one version of an exercise document. Known fields are decoded
// leniently; unknown top-level keys are kept in Extra and written back out.
type Payload struct {
	ID           string         `json:"id"`
	Type         string         `json:"type"`
	Title        string         `json:"title"`
	Version      int            `json:"version"`
	CreatedAt    string         `json:"created_at,omitempty"`
	Instructions any            `json:"instructions,omitempty"`
	Items        []Item         `json:"items"`
	Columns      any            `json:"columns,omitempty"`
	Settings     map[string]any `json:"settings,omitempty"`
	Media        map[string]any `json:"media,omitempty"`
	Meta         map[string]any `json:"meta"`

	Extra map[string]json.RawMessage `json:"-"`
}

// Item is a free-form exercise item. Media fields live under the "media" key.
type Item map[string]any

// MediaKey is the item key holding the per-item media block.
const MediaKey = "media"

// Media returns the item's media block, or nil when absent or not an object.
func (it Item) Media() map[string]any {
	if it == nil {
		return nil
	}
	m, _ := it[MediaKey].(map[string]any)
	return m
}

// SetMedia replaces the item's media block. A nil block removes the key.
func (it Item) SetMedia(m map[string]any) {
	if m == nil {
		delete(it, MediaKey)
		return
	}
	it[MediaKey] = m
}

var knownKeys = map[string]struct{}{
	"id": {}, "type": {}, "title": {}, "version": {}, "created_at": {},
	"instructions": {}, "items": {}, "columns": {}, "settings": {}, "media": {}, "meta": {},
}

type payloadAlias Payload

// MarshalJSON writes the known fields followed by any preserved extra keys.
func (p Payload) MarshalJSON() ([]byte, error) {
	a := payloadAlias(p)
	if a.Items == nil {
		a.Items = []Item{}
	}
	if a.Meta == nil {
		a.Meta = map[string]any{}
	}
	known, err := marshalNoEscape(a)
	if err != nil {
		return nil, err
	}
	if len(p.Extra) == 0 {
		return known, nil
	}

	merged := make(map[string]json.RawMessage, len(p.Extra)+len(knownKeys))
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range p.Extra {
		if _, ok := knownKeys[k]; ok {
			continue
		}
		merged[k] = v
	}
	return marshalNoEscape(merged)
}

// UnmarshalJSON decodes a payload without failing on malformed known fields:
// items, meta and settings written as JSON strings or with the wrong shape
// are coerced to their empty defaults.
func (p *Payload) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("exercise: payload is not a JSON object: %w", err)
	}

	out := Payload{}
	for k, v := range raw {
		switch k {
		case "id":
			out.ID = looseString(v)
		case "type":
			out.Type = looseString(v)
		case "title":
			out.Title = looseString(v)
		case "created_at":
			out.CreatedAt = looseString(v)
		case "version":
			out.Version, _ = LooseInt(decodeAny(v))
		case "instructions":
			out.Instructions = decodeAny(v)
		case "columns":
			out.Columns = decodeAny(v)
		case "items":
			out.Items, _ = CoerceItems(decodeAny(v))
		case "settings":
			if m, _ := CoerceObject(decodeAny(v)); len(m) > 0 {
				out.Settings = m
			}
		case "media":
			if m, _ := CoerceObject(decodeAny(v)); len(m) > 0 {
				out.Media = m
			}
		case "meta":
			out.Meta, _ = CoerceObject(decodeAny(v))
		default:
			if out.Extra == nil {
				out.Extra = make(map[string]json.RawMessage)
			}
			out.Extra[k] = append(json.RawMessage(nil), v...)
		}
	}
	if out.Items == nil {
		out.Items = []Item{}
	}
	if out.Meta == nil {
		out.Meta = map[string]any{}
	}
	*p = out
	return nil
}

// Clone returns a deep copy of the payload.
func (p *Payload) Clone() *Payload {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(p)
	if err != nil {
		cp := *p
		return &cp
	}
	var out Payload
	if err := json.Unmarshal(data, &out); err != nil {
		cp := *p
		return &cp
	}
	return &out
}

// LooseInt converts a JSON number or numeric string to an int.
func LooseInt(v any) (int, bool) {
	switch n := v.(type) {
	case float64:
		return int(n), n == float64(int(n))
	case int:
		return n, true
	case int64:
		return int(n), true
	case json.Number:
		i, err := n.Int64()
		return int(i), err == nil
	case string:
		i, err := strconv.Atoi(n)
		return i, err == nil
	default:
		return 0, false
	}
}

func looseString(raw json.RawMessage) string {
	switch v := decodeAny(raw).(type) {
	case string:
		return v
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return fmt.Sprint(v)
	}
}

func decodeAny(raw json.RawMessage) any {
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return nil
	}
	return v
}

func marshalNoEscape(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}
