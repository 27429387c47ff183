package query

import (
	"fmt"
	"net/url"

	"github.com/aweris/activitystore/internal/ld"
)

// CollectionType is the type of every query result.
const CollectionType = "Collection"

// Result is the ResultCollection returned by Storage.Query.
type Result struct {
	Type       string      `json:"type"`
	TotalItems int         `json:"totalItems"`
	Items      []ld.Object `json:"items"`
	After      string      `json:"after,omitempty"`
	Next       string      `json:"next,omitempty"`
}

// NewResult assembles a result page. When more items remain, cursor is the
// sort key of the last item and After/Next are populated.
func NewResult(q Query, total int, items []ld.Object, more bool, cursor []any) *Result {
	if items == nil {
		items = []ld.Object{}
	}
	r := &Result{
		Type:       CollectionType,
		TotalItems: total,
		Items:      items,
	}
	if more && len(cursor) > 0 {
		r.After = EncodeCursor(cursor)
		r.Next = fmt.Sprintf("?after=%s&size=%d", url.QueryEscape(r.After), q.Size())
	}
	return r
}

// IDs lists the ids of the items, in order.
func (r *Result) IDs() []string {
	ids := make([]string, 0, len(r.Items))
	for _, item := range r.Items {
		ids = append(ids, item.ID())
	}
	return ids
}
