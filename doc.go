// Package activitystore provides a store for ActivityStreams LD-objects over a
// pluggable persistent backend and a pluggable cache.
//
// Reads are cache-aside, writes go to the backend and then to the cache, and
// queries always go to the backend. Collections hold partial projections of
// objects (id, type, name, summary, published, updated) and are addressed
// independently from the canonical copy. Deleting an object from a federated
// point of view means converting it into a Tombstone at the same id.
//
// Basic usage (in-process backend and cache):
//
//	store, _ := activitystore.Open(ctx, activitystore.Config{})
//	defer store.Close()
//	_ = store.Setup(ctx)
//
//	// Store and read back
//	id, _ := store.Store(ctx, activitystore.Object{"id": "u1", "type": "Note", "content": "hello"})
//	note, _ := store.Dereference(ctx, id) // @context added
//
//	// Collections
//	_ = store.AddToCollection(ctx, note, "outbox")
//	entry, _ := store.GetFromCollection(ctx, id, "outbox")
//
//	// Query with cursor pagination
//	page, _ := store.Query(ctx, activitystore.WithType("Note"), activitystore.WithSize(20))
//	next, _ := store.Query(ctx, activitystore.WithType("Note"), activitystore.WithSize(20), activitystore.WithAfter(page.After))
//
//	// Tombstone
//	tomb, _ := store.ConvertToTombstone(ctx, note)
//	fmt.Println(tomb["formerType"], tomb["deleted"])
//
// Elasticsearch and Redis:
//
//	store, _ := activitystore.Open(ctx, activitystore.Config{
//	    Backend:       activitystore.BackendElasticsearch,
//	    Cache:         activitystore.CacheRedis,
//	    Namespace:     "social",
//	    Elasticsearch: activitystore.ElasticsearchConfig{Addresses: []string{"http://localhost:9200"}},
//	    Redis:         activitystore.RedisConfig{URL: "redis://localhost:6379/0"},
//	})
//
// Snapshots to an OCI registry:
//
//	r, _ := activitystore.OpenRemote("ghcr.io/acme/activities:backup")
//	n, _ := store.Export(ctx, r)
//	n, _ = other.Import(ctx, r)
package activitystore
