// Package query holds the backend-agnostic query model.
//
// A Query is built once through New from an ordered list of options, so there
// is exactly one way to construct one and later options override earlier ones:
//
//	q, err := query.New(query.FromMap(raw), query.WithSize(20))
//
// Validation happens inside New; a Query value is immutable afterwards.
package query

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"github.com/aweris/activitystore/internal/fault"
)

// DefaultSize is the page size when none is given.
const DefaultSize = 10

// Query is a validated filter specification.
type Query struct {
	text       string
	keywords   []string
	sortField  string
	descending bool
	sort       string
	size       int
	after      string
	cursor     []any
	collection string
	types      []string
}

// Option mutates a query under construction.
type Option func(*Query) error

// New builds and validates a Query.
func New(opts ...Option) (Query, error) {
	q := Query{size: DefaultSize}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&q); err != nil {
			return Query{}, err
		}
	}
	if err := q.validate(); err != nil {
		return Query{}, err
	}
	return q, nil
}

func (q *Query) validate() error {
	if q.size <= 0 {
		return fmt.Errorf("%w: size must be a positive integer, got %d", fault.ErrInvalidQuery, q.size)
	}
	q.sortField, q.descending = "", false
	if q.sort != "" {
		field, dir, hasDir := strings.Cut(q.sort, ":")
		if field == "" {
			return fmt.Errorf("%w: sort %q has no field", fault.ErrInvalidQuery, q.sort)
		}
		switch {
		case !hasDir, dir == "asc":
		case dir == "desc":
			q.descending = true
		default:
			return fmt.Errorf("%w: sort direction must be asc or desc, got %q", fault.ErrInvalidQuery, dir)
		}
		q.sortField = field
	}
	q.cursor = nil
	if q.after != "" {
		values, err := DecodeCursor(q.after)
		if err != nil {
			return fmt.Errorf("%w: %v", fault.ErrInvalidQuery, err)
		}
		q.cursor = values
	}
	return nil
}

// WithText sets the free-text filter.
func WithText(text string) Option {
	return func(q *Query) error { q.text = text; return nil }
}

// WithKeywords sets the tag filter.
func WithKeywords(keywords ...string) Option {
	return func(q *Query) error {
		q.keywords = append([]string(nil), keywords...)
		return nil
	}
}

// WithSort sets the sort spec, "field" or "field:asc|desc".
func WithSort(sort string) Option {
	return func(q *Query) error { q.sort = sort; return nil }
}

// WithSize sets the page size.
func WithSize(size int) Option {
	return func(q *Query) error { q.size = size; return nil }
}

// WithAfter resumes after the given cursor.
func WithAfter(cursor string) Option {
	return func(q *Query) error { q.after = cursor; return nil }
}

// WithCollection scopes the query to one collection.
func WithCollection(collection string) Option {
	return func(q *Query) error { q.collection = collection; return nil }
}

// WithType restricts results to objects having any of the given types.
func WithType(types ...string) Option {
	return func(q *Query) error {
		q.types = append([]string(nil), types...)
		return nil
	}
}

// From seeds a query with every field of an existing one.
func From(base Query) Option {
	return func(q *Query) error {
		q.text = base.text
		q.keywords = append([]string(nil), base.keywords...)
		q.sort = base.sort
		q.size = base.size
		q.after = base.after
		q.collection = base.collection
		q.types = append([]string(nil), base.types...)
		return nil
	}
}

// FromMap seeds a query from a decoded JSON mapping. Absent or null keys leave
// the current value untouched; unknown keys are rejected.
func FromMap(m map[string]any) Option {
	return func(q *Query) error {
		for key, v := range m {
			if v == nil {
				continue
			}
			var err error
			switch key {
			case "text":
				q.text, err = asString(key, v)
			case "keywords":
				q.keywords, err = asStrings(key, v)
			case "sort":
				q.sort, err = asString(key, v)
			case "size":
				q.size, err = asInt(key, v)
			case "after":
				q.after, err = asString(key, v)
			case "collection":
				q.collection, err = asString(key, v)
			case "type":
				q.types, err = asStrings(key, v)
			default:
				err = fmt.Errorf("%w: unknown field %q", fault.ErrInvalidQuery, key)
			}
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func asString(key string, v any) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string, got %T", fault.ErrInvalidQuery, key, v)
	}
	return s, nil
}

func asStrings(key string, v any) ([]string, error) {
	switch t := v.(type) {
	case string:
		return []string{t}, nil
	case []string:
		return append([]string(nil), t...), nil
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			s, ok := e.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %s must contain strings, got %T", fault.ErrInvalidQuery, key, e)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %s must be a string or list of strings, got %T", fault.ErrInvalidQuery, key, v)
	}
}

func asInt(key string, v any) (int, error) {
	switch t := v.(type) {
	case int:
		return t, nil
	case int64:
		return int(t), nil
	case int32:
		return int(t), nil
	case float64:
		if t != math.Trunc(t) {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", fault.ErrInvalidQuery, key, t)
		}
		return int(t), nil
	case json.Number:
		n, err := t.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s must be an integer, got %v", fault.ErrInvalidQuery, key, t)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: %s must be an integer, got %T", fault.ErrInvalidQuery, key, v)
	}
}

// Text returns the free-text filter.
func (q Query) Text() string { return q.text }

// Keywords returns a copy of the tag filter.
func (q Query) Keywords() []string { return append([]string(nil), q.keywords...) }

// Sort returns the raw sort spec.
func (q Query) Sort() string { return q.sort }

// SortField returns the field of the sort spec, or "" for the default order.
func (q Query) SortField() string { return q.sortField }

// Descending reports whether the sort spec asked for desc.
func (q Query) Descending() bool { return q.descending }

// Size returns the page size.
func (q Query) Size() int { return q.size }

// After returns the raw continuation cursor.
func (q Query) After() string { return q.after }

// Collection returns the collection scope, or "" for canonical objects.
func (q Query) Collection() string { return q.collection }

// Types returns a copy of the type filter.
func (q Query) Types() []string { return append([]string(nil), q.types...) }

// Cursor returns the decoded sort key of After, or nil.
func (q Query) Cursor() []any { return append([]any(nil), q.cursor...) }

// Map returns the non-empty fields, for logging and links.
func (q Query) Map() map[string]any {
	m := map[string]any{"size": q.size}
	if q.text != "" {
		m["text"] = q.text
	}
	if len(q.keywords) > 0 {
		m["keywords"] = q.Keywords()
	}
	if q.sort != "" {
		m["sort"] = q.sort
	}
	if q.after != "" {
		m["after"] = q.after
	}
	if q.collection != "" {
		m["collection"] = q.collection
	}
	if len(q.types) > 0 {
		m["type"] = q.Types()
	}
	return m
}
