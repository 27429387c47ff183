package query

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
)

// EncodeCursor turns the sort key of the last returned item into an opaque
// continuation token.
func EncodeCursor(values []any) string {
	data, err := json.Marshal(values)
	if err != nil {
		// Sort keys come from decoded JSON documents and always marshal.
		panic(fmt.Sprintf("query: encode cursor: %v", err))
	}
	return base64.RawURLEncoding.EncodeToString(data)
}

// DecodeCursor reverses EncodeCursor. Numbers are decoded as float64 unless
// they do not fit, in which case they stay json.Number.
func DecodeCursor(cursor string) ([]any, error) {
	data, err := base64.RawURLEncoding.DecodeString(cursor)
	if err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw []any
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("malformed cursor: %w", err)
	}
	if len(raw) == 0 {
		return nil, errors.New("malformed cursor: empty sort key")
	}
	for i, v := range raw {
		if n, ok := v.(json.Number); ok {
			if f, err := n.Float64(); err == nil {
				raw[i] = f
			}
		}
	}
	return raw, nil
}
