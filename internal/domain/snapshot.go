// Package domain holds the types shared across the fan-out engine: the
// opaque snapshot payload, cache strategy enum, and the error taxonomy.
package domain

import "encoding/json"

// Snapshot is an opaque JSON-like object. The engine never interprets its
// contents beyond the well-known fields the market-data adapter injects; it
// round-trips everywhere else.
type Snapshot map[string]interface{}

// Clone returns a shallow copy safe for a caller to mutate without affecting
// the original map.
func (s Snapshot) Clone() Snapshot {
	if s == nil {
		return nil
	}
	out := make(Snapshot, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// Marshal renders the snapshot to its self-describing textual form.
func (s Snapshot) Marshal() ([]byte, error) {
	return json.Marshal(s)
}

// UnmarshalSnapshot parses a snapshot from its textual form.
func UnmarshalSnapshot(data []byte) (Snapshot, error) {
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, err
	}
	return s, nil
}

// Flatten produces a field-map suitable for a capped-stream entry: nested
// values are JSON-encoded to strings so every leaf is a flat key/value pair.
func (s Snapshot) Flatten() map[string]string {
	out := make(map[string]string, len(s))
	for k, v := range s {
		switch val := v.(type) {
		case string:
			out[k] = val
		case nil:
			out[k] = ""
		default:
			if b, err := json.Marshal(val); err == nil {
				out[k] = string(b)
			}
		}
	}
	return out
}
