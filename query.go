package activitystore

import "github.com/aweris/activitystore/internal/query"

// Query is a validated, immutable query.
type Query = query.Query

// QueryOption sets one field of a query under construction. Options apply in
// order, so the last one wins.
type QueryOption = query.Option

// DefaultPageSize is the query page size when none is given.
const DefaultPageSize = query.DefaultSize

// NewQuery builds and validates a Query.
func NewQuery(opts ...QueryOption) (Query, error) { return query.New(opts...) }

// FromQuery seeds a query with every field of q.
func FromQuery(q Query) QueryOption { return query.From(q) }

// FromMap seeds a query from a decoded JSON mapping with the keys text,
// keywords, sort, size, after, collection and type.
func FromMap(m map[string]any) QueryOption { return query.FromMap(m) }

// WithText keeps objects whose name, content, summary or tags contain text.
func WithText(text string) QueryOption { return query.WithText(text) }

// WithKeywords keeps objects tagged with any of the keywords.
func WithKeywords(keywords ...string) QueryOption { return query.WithKeywords(keywords...) }

// WithType keeps objects having any of the types.
func WithType(types ...string) QueryOption { return query.WithType(types...) }

// WithCollection runs the query over one collection's entries.
func WithCollection(name string) QueryOption { return query.WithCollection(name) }

// WithAfter resumes after the cursor of a previous page.
func WithAfter(cursor string) QueryOption { return query.WithAfter(cursor) }

// WithSize sets the page size, which must be positive.
func WithSize(size int) QueryOption { return query.WithSize(size) }

// WithSort orders results by a field, "field" or "field:asc|desc".
func WithSort(sort string) QueryOption { return query.WithSort(sort) }
