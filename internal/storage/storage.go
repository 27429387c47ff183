// Package storage implements the persistent layer for LD-objects.
//
// A Storage keeps two independent address spaces: canonical objects keyed by
// id, and per-collection projections keyed by (collection, id). An empty
// collection name addresses the canonical space.
//
// Backends:
//   - Memory: maps guarded by a RWMutex, lost on restart
//   - Elastic: two Elasticsearch indices, <prefix>-objects and <prefix>-collections
//
// Both backends report missing objects as fault.ErrNotFound, and both purge
// collection memberships when a canonical object is removed.
package storage

import (
	"context"

	"github.com/aweris/activitystore/internal/ld"
	"github.com/aweris/activitystore/internal/query"
)

// Storage persists LD-objects and their collection projections.
type Storage interface {
	// Add upserts obj, scoped to collection when non-empty.
	Add(ctx context.Context, obj ld.Object, collection string) error

	// Remove deletes id from collection, or the canonical object and every
	// membership when collection is empty. Missing ids are not an error.
	Remove(ctx context.Context, id, collection string) error

	// RemoveObject deletes the canonical object only, leaving its collection
	// memberships in place. Missing ids are not an error.
	RemoveObject(ctx context.Context, id string) error

	// Get returns a copy of the object, or fault.ErrNotFound.
	Get(ctx context.Context, id, collection string) (ld.Object, error)

	// Query evaluates q and returns one page of results.
	Query(ctx context.Context, q query.Query) (*query.Result, error)

	// Setup creates durable structures. Calling it twice is harmless.
	Setup(ctx context.Context) error

	// Teardown deletes all stored data.
	Teardown(ctx context.Context) error

	Close() error
}
