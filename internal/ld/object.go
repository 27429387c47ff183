// Package ld implements the LD-object document model.
//
// An Object is a JSON document classified by "type" and identified by "id".
// The store treats stored objects as immutable snapshots: every layer keeps its
// own deep copy, and updates replace the whole document.
package ld

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/aweris/activitystore/internal/fault"
)

// DefaultContext is injected into objects stored without an "@context".
const DefaultContext = "https://www.w3.org/ns/activitystreams"

// TombstoneType is the type of a deleted object's replacement.
const TombstoneType = "Tombstone"

// projectionFields are copied into collection entries next to id and type.
var projectionFields = []string{"name", "summary", "published", "updated"}

// Object is a JSON-compatible LD document.
type Object map[string]any

// Validate checks the id and type invariants and returns the object's id.
func Validate(obj Object) (string, error) {
	if obj == nil {
		return "", fmt.Errorf("%w: object is nil", fault.ErrInvalidObject)
	}
	id, ok := obj["id"].(string)
	if !ok || id == "" {
		return "", fmt.Errorf("%w: must have a non-empty string 'id' field", fault.ErrInvalidObject)
	}
	if _, err := typesOf(obj["type"]); err != nil {
		return "", fmt.Errorf("%w: %s: %v", fault.ErrInvalidObject, id, err)
	}
	return id, nil
}

func typesOf(v any) ([]string, error) {
	switch t := v.(type) {
	case nil:
		return nil, fmt.Errorf("missing 'type' field")
	case string:
		if t == "" {
			return nil, fmt.Errorf("empty 'type' field")
		}
		return []string{t}, nil
	case []string:
		if len(t) == 0 {
			return nil, fmt.Errorf("empty 'type' list")
		}
		return append([]string(nil), t...), nil
	case []any:
		if len(t) == 0 {
			return nil, fmt.Errorf("empty 'type' list")
		}
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok || s == "" {
				return nil, fmt.Errorf("'type' list must contain non-empty strings")
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("'type' must be a string or list of strings, got %T", v)
	}
}

// ID returns the object's id, or "" when absent.
func (o Object) ID() string {
	id, _ := o["id"].(string)
	return id
}

// Types returns the object's types as a list. Invalid types yield nil.
func (o Object) Types() []string {
	types, _ := typesOf(o["type"])
	return types
}

// HasType reports whether any of the given types is one of the object's types.
func (o Object) HasType(types ...string) bool {
	for _, have := range o.Types() {
		for _, want := range types {
			if have == want {
				return true
			}
		}
	}
	return false
}

// Clone returns a deep copy of the object.
func (o Object) Clone() Object {
	if o == nil {
		return nil
	}
	return deepCopy(map[string]any(o)).(map[string]any)
}

func deepCopy(v any) any {
	switch t := v.(type) {
	case map[string]any:
		m := make(map[string]any, len(t))
		for k, e := range t {
			m[k] = deepCopy(e)
		}
		return m
	case Object:
		return Object(deepCopy(map[string]any(t)).(map[string]any))
	case []any:
		s := make([]any, len(t))
		for i, e := range t {
			s[i] = deepCopy(e)
		}
		return s
	case []string:
		return append([]string(nil), t...)
	case nil, string, bool, float64, float32, int, int64, int32, uint, uint64, uint32, json.Number:
		return t
	default:
		// Unusual Go values (structs, typed slices) go through JSON so the copy
		// shares nothing with the original.
		data, err := json.Marshal(t)
		if err != nil {
			return t
		}
		var out any
		if err := json.Unmarshal(data, &out); err != nil {
			return t
		}
		return out
	}
}

// WithDefaultContext returns a copy of o carrying DefaultContext when it has
// no "@context".
func (o Object) WithDefaultContext() Object {
	c := o.Clone()
	if _, ok := c["@context"]; !ok {
		c["@context"] = DefaultContext
	}
	return c
}

// Projection returns the partial representation stored in collections.
func (o Object) Projection() Object {
	p := Object{"id": o["id"], "type": deepCopy(o["type"])}
	for _, f := range projectionFields {
		if v, ok := o[f]; ok {
			p[f] = deepCopy(v)
		}
	}
	return p
}

// Tombstone returns the terminal replacement of o, deleted at now.
func (o Object) Tombstone(now time.Time) Object {
	t := Object{
		"id":         o["id"],
		"type":       TombstoneType,
		"formerType": deepCopy(o["type"]),
		"deleted":    FormatTime(now),
		"@context":   DefaultContext,
	}
	if ctx, ok := o["@context"]; ok && ctx != nil {
		t["@context"] = deepCopy(ctx)
	}
	return t
}

// FormatTime renders an instant as ISO-8601 UTC with a trailing Z.
func FormatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

// Tags returns the names of the object's tags. String tags are used as is;
// object tags contribute their "name".
func (o Object) Tags() []string {
	var out []string
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if t != "" {
				out = append(out, t)
			}
		case []string:
			for _, s := range t {
				walk(s)
			}
		case []any:
			for _, e := range t {
				walk(e)
			}
		case map[string]any:
			walk(t["name"])
		case Object:
			walk(t["name"])
		}
	}
	walk(o["tag"])
	return out
}

// Text concatenates the textual fields used for free-text matching.
func (o Object) Text() string {
	var parts []string
	for _, f := range []string{"name", "content", "summary"} {
		if s := stringify(o[f]); s != "" {
			parts = append(parts, s)
		}
	}
	parts = append(parts, o.Tags()...)
	return strings.Join(parts, " ")
}

// stringify flattens natural-language maps ("contentMap") and plain strings.
func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		var parts []string
		for _, e := range t {
			if s := stringify(e); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var parts []string
		for _, k := range keys {
			if s := stringify(t[k]); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, " ")
	default:
		return fmt.Sprint(t)
	}
}

// Decode parses a JSON document into an Object.
func Decode(data []byte) (Object, error) {
	var obj Object
	if err := json.Unmarshal(data, &obj); err != nil {
		return nil, err
	}
	if obj == nil {
		return nil, fmt.Errorf("document is not a JSON object")
	}
	return obj, nil
}
