package storage

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aweris/activitystore/internal/fault"
	"github.com/aweris/activitystore/internal/ld"
	"github.com/aweris/activitystore/internal/query"
)

// evaluate runs q over candidates in process: filter, order, then cut the
// page after the cursor. Candidates are not copied; callers pass copies.
func evaluate(q query.Query, candidates []ld.Object) (*query.Result, error) {
	matched := make([]ld.Object, 0, len(candidates))
	for _, obj := range candidates {
		if matches(q, obj) {
			matched = append(matched, obj)
		}
	}

	keys := make(map[string][]any, len(matched))
	for _, obj := range matched {
		keys[obj.ID()] = sortKey(q, obj)
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return compareKeys(keys[matched[i].ID()], keys[matched[j].ID()], q) < 0
	})

	rest := matched
	if cursor := q.Cursor(); cursor != nil {
		if want := len(sortKey(q, ld.Object{})); len(cursor) != want {
			return nil, fmt.Errorf("%w: cursor has %d sort values, want %d", fault.ErrInvalidQuery, len(cursor), want)
		}
		start := sort.Search(len(matched), func(i int) bool {
			return compareKeys(keys[matched[i].ID()], cursor, q) > 0
		})
		rest = matched[start:]
	}

	page := rest
	more := len(rest) > q.Size()
	if more {
		page = rest[:q.Size()]
	}
	var cursor []any
	if len(page) > 0 {
		cursor = keys[page[len(page)-1].ID()]
	}
	return query.NewResult(q, len(matched), page, more, cursor), nil
}

func matches(q query.Query, obj ld.Object) bool {
	if types := q.Types(); len(types) > 0 && !obj.HasType(types...) {
		return false
	}
	if text := q.Text(); text != "" {
		if !strings.Contains(strings.ToLower(obj.Text()), strings.ToLower(text)) {
			return false
		}
	}
	if keywords := q.Keywords(); len(keywords) > 0 {
		found := false
	tags:
		for _, tag := range obj.Tags() {
			for _, kw := range keywords {
				if strings.EqualFold(tag, kw) {
					found = true
					break tags
				}
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// sortKey is [field value, id] when a sort field is set, [id] otherwise.
func sortKey(q query.Query, obj ld.Object) []any {
	if field := q.SortField(); field != "" {
		return []any{normalize(obj[field]), obj.ID()}
	}
	return []any{obj.ID()}
}

func compareKeys(a, b []any, q query.Query) int {
	if q.SortField() == "" {
		return compareValues(a[0], b[0])
	}
	if c := compareField(a[0], b[0], q.Descending()); c != 0 {
		return c
	}
	return compareValues(a[1], b[1])
}

// compareField orders missing values last in both directions.
func compareField(a, b any, desc bool) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return 1
	case b == nil:
		return -1
	}
	c := compareValues(a, b)
	if desc {
		return -c
	}
	return c
}

// normalize maps numbers onto float64 so that stored ints and cursor floats
// compare equal.
func normalize(v any) any {
	switch t := v.(type) {
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func rank(v any) int {
	switch v.(type) {
	case nil:
		return 4
	case float64:
		return 0
	case string:
		return 1
	case bool:
		return 2
	default:
		return 3
	}
}

func compareValues(a, b any) int {
	a, b = normalize(a), normalize(b)
	ra, rb := rank(a), rank(b)
	if ra != rb {
		return ra - rb
	}
	switch x := a.(type) {
	case nil:
		return 0
	case float64:
		y := b.(float64)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	case string:
		return strings.Compare(x, b.(string))
	case bool:
		y := b.(bool)
		switch {
		case x == y:
			return 0
		case !x:
			return -1
		}
		return 1
	default:
		return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
	}
}
