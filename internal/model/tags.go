package model

import (
	"encoding/json"
	"fmt"
)

// Tags is the free-form annotation object carried by elements, areas, osm
// users, and reports. Values are whatever encoding/json produces for the
// stored document: string, float64, bool, []any, map[string]any, nil.
type Tags map[string]any

// DecodeTags parses a stored tag column. An empty or NULL column decodes to
// an empty, non-nil map.
func DecodeTags(raw []byte) (Tags, error) {
	if len(raw) == 0 {
		return Tags{}, nil
	}
	var t Tags
	if err := json.Unmarshal(raw, &t); err != nil {
		return nil, fmt.Errorf("failed to decode tags: %w", err)
	}
	if t == nil {
		t = Tags{}
	}
	return t, nil
}

// Encode serializes the tag object for storage. encoding/json writes map keys
// in sorted order, which keeps the stored form canonical: equal objects always
// serialize to equal bytes.
func (t Tags) Encode() ([]byte, error) {
	if t == nil {
		return []byte("{}"), nil
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	return raw, nil
}

// GetString returns the string value at key, or "" when absent or not a string.
func (t Tags) GetString(key string) string {
	s, _ := t[key].(string)
	return s
}

// GetInt64 returns the numeric value at key truncated to int64, or 0 when
// absent or not a number.
func (t Tags) GetInt64(key string) int64 {
	f, _ := t[key].(float64)
	return int64(f)
}

// Has reports whether key is present.
func (t Tags) Has(key string) bool {
	_, ok := t[key]
	return ok
}

// Clone returns a shallow copy one level deep. Nested values are shared.
func (t Tags) Clone() Tags {
	out := make(Tags, len(t))
	for k, v := range t {
		out[k] = v
	}
	return out
}

// MergePatch applies patch to t and returns the result, following the JSON
// merge-patch rules: a null patch value removes the key, object values merge
// recursively, and arrays and scalars replace the previous value atomically.
// t itself is not modified.
func MergePatch(t Tags, patch Tags) Tags {
	out := t.Clone()
	if out == nil {
		out = Tags{}
	}
	for k, v := range patch {
		if v == nil {
			delete(out, k)
			continue
		}
		pv, pok := v.(map[string]any)
		cv, cok := out[k].(map[string]any)
		if pok && cok {
			out[k] = map[string]any(MergePatch(Tags(cv), Tags(pv)))
			continue
		}
		if pok {
			// Merging into a non-object replaces it, nulls inside the
			// patch object still mean removal.
			out[k] = map[string]any(MergePatch(Tags{}, Tags(pv)))
			continue
		}
		out[k] = v
	}
	return out
}
