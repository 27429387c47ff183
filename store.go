package activitystore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/cache"
	"github.com/aweris/activitystore/internal/ld"
	"github.com/aweris/activitystore/internal/query"
	"github.com/aweris/activitystore/internal/storage"
)

// Object is an LD-object: a JSON document with an "id" and a "type".
// Re-exported from internal/ld for convenience.
type Object = ld.Object

// Result is one page of query results.
type Result = query.Result

// Storage is the persistent port. Any implementation can be passed to New.
type Storage = storage.Storage

// Cache is the lookup port in front of Storage.
type Cache = cache.Cache

// Store composes one Storage and one Cache: reads are cache-aside, writes go
// to the backend and then to the cache, and queries go to the backend only.
type Store struct {
	storage   Storage
	cache     Cache
	namespace string
	ttl       time.Duration
	now       func() time.Time
	log       *zap.Logger
	metrics   *metrics
}

// New creates a Store over explicit ports. Setup is not called.
func New(st Storage, c Cache, opts ...Option) (*Store, error) {
	if st == nil || c == nil {
		return nil, errors.New("activitystore: storage and cache are required")
	}
	options := applyOptions(opts)

	m, err := newMetrics(options.Registerer)
	if err != nil {
		return nil, fmt.Errorf("register metrics: %w", err)
	}

	return &Store{
		storage:   st,
		cache:     c,
		namespace: options.Namespace,
		ttl:       options.TTL,
		now:       options.Clock,
		log:       options.Logger.With(zap.String("namespace", options.Namespace)),
		metrics:   m,
	}, nil
}

// Namespace returns the store's namespace.
func (s *Store) Namespace() string { return s.namespace }

// Store validates obj, fills in the default @context and writes it through to
// the backend and the cache. It returns the object's id.
//
// When the cache write fails the backend is restored to the version it held
// before the call, or the new object is removed when there was none.
// Collection memberships are never touched.
func (s *Store) Store(ctx context.Context, obj Object) (string, error) {
	id, err := s.store(ctx, obj)
	s.metrics.observe("store", err)
	return id, err
}

func (s *Store) store(ctx context.Context, obj Object) (string, error) {
	id, err := ld.Validate(obj)
	if err != nil {
		return "", err
	}
	doc := obj.WithDefaultContext()

	prev, err := s.storage.Get(ctx, id, "")
	if err != nil && !errors.Is(err, ErrNotFound) {
		return "", fmt.Errorf("store %s: %w", id, err)
	}

	if err := s.storage.Add(ctx, doc, ""); err != nil {
		return "", fmt.Errorf("store %s: %w", id, err)
	}
	if err := s.cache.Add(ctx, id, doc, s.ttl); err != nil {
		s.log.Warn("cache write failed, rolling back", zap.String("object_id", id), zap.Error(err))
		s.rollback(ctx, id, prev)
		return "", fmt.Errorf("cache %s: %w", id, err)
	}

	s.log.Info("stored object", zap.String("object_id", id), zap.Strings("object_type", doc.Types()))
	return id, nil
}

// rollback restores the canonical object at id to prev, or deletes it when
// prev is nil, and evicts the cache entry.
func (s *Store) rollback(ctx context.Context, id string, prev Object) {
	var err error
	if prev != nil {
		err = s.storage.Add(ctx, prev, "")
	} else {
		err = s.storage.RemoveObject(ctx, id)
	}
	if err != nil {
		s.log.Error("rollback failed", zap.String("object_id", id), zap.Error(err))
	}
	if err := s.cache.Remove(ctx, id); err != nil {
		s.log.Warn("cache evict failed", zap.String("object_id", id), zap.Error(err))
	}
}

// Dereference returns the object stored at id, from the cache when possible.
// A backend hit repopulates the cache. Missing objects yield ErrNotFound.
func (s *Store) Dereference(ctx context.Context, id string) (Object, error) {
	obj, err := s.dereference(ctx, id)
	s.metrics.observe("dereference", err)
	return obj, err
}

func (s *Store) dereference(ctx context.Context, id string) (Object, error) {
	if id == "" {
		return nil, fmt.Errorf("%w: empty id", ErrInvalidObject)
	}

	cached, ok, err := s.cache.Get(ctx, id)
	switch {
	case err != nil:
		s.metrics.lookup(lookupError)
		s.log.Warn("cache read failed, falling back to storage", zap.String("object_id", id), zap.Error(err))
	case ok:
		s.metrics.lookup(lookupHit)
		s.log.Debug("cache hit", zap.String("object_id", id))
		return cached, nil
	default:
		s.metrics.lookup(lookupMiss)
		s.log.Debug("cache miss", zap.String("object_id", id))
	}

	obj, err := s.storage.Get(ctx, id, "")
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("dereference %s: %w", id, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	if err := s.cache.Add(ctx, id, obj, s.ttl); err != nil {
		s.log.Warn("cache repopulation failed", zap.String("object_id", id), zap.Error(err))
	}
	return obj, nil
}

// AddToCollection writes the projection of obj into collection. The
// canonical object and the cache are not touched.
func (s *Store) AddToCollection(ctx context.Context, obj Object, collection string) error {
	err := s.addToCollection(ctx, obj, collection)
	s.metrics.observe("add_to_collection", err)
	return err
}

func (s *Store) addToCollection(ctx context.Context, obj Object, collection string) error {
	id, err := ld.Validate(obj)
	if err != nil {
		return err
	}
	if err := validCollection(collection); err != nil {
		return err
	}

	if err := s.storage.Add(ctx, obj.Projection(), collection); err != nil {
		return fmt.Errorf("add %s to %s: %w", id, collection, err)
	}
	s.log.Info("added to collection", zap.String("object_id", id), zap.String("collection", collection))
	return nil
}

// RemoveFromCollection drops the membership of id in collection only.
func (s *Store) RemoveFromCollection(ctx context.Context, id, collection string) error {
	err := s.removeFromCollection(ctx, id, collection)
	s.metrics.observe("remove_from_collection", err)
	return err
}

func (s *Store) removeFromCollection(ctx context.Context, id, collection string) error {
	if err := validCollection(collection); err != nil {
		return err
	}
	if err := s.storage.Remove(ctx, id, collection); err != nil {
		return fmt.Errorf("remove %s from %s: %w", id, collection, err)
	}
	s.log.Info("removed from collection", zap.String("object_id", id), zap.String("collection", collection))
	return nil
}

// GetFromCollection returns the projection of id stored in collection.
func (s *Store) GetFromCollection(ctx context.Context, id, collection string) (Object, error) {
	obj, err := s.getFromCollection(ctx, id, collection)
	s.metrics.observe("get_from_collection", err)
	return obj, err
}

func (s *Store) getFromCollection(ctx context.Context, id, collection string) (Object, error) {
	if err := validCollection(collection); err != nil {
		return nil, err
	}
	obj, err := s.storage.Get(ctx, id, collection)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get %s from %s: %w", id, collection, err)
	}
	if obj == nil {
		return nil, fmt.Errorf("%w: %s in collection %s", ErrNotFound, id, collection)
	}
	return obj, nil
}

// Remove hard-deletes the canonical object, every collection membership of
// it and its cache entry. Prefer ConvertToTombstone for federated objects.
func (s *Store) Remove(ctx context.Context, id string) error {
	err := s.remove(ctx, id)
	s.metrics.observe("remove", err)
	return err
}

func (s *Store) remove(ctx context.Context, id string) error {
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidObject)
	}
	if err := s.storage.Remove(ctx, id, ""); err != nil {
		return fmt.Errorf("remove %s: %w", id, err)
	}
	if err := s.cache.Remove(ctx, id); err != nil {
		s.log.Warn("cache remove failed", zap.String("object_id", id), zap.Error(err))
	}
	s.log.Info("removed object", zap.String("object_id", id))
	return nil
}

// ConvertToTombstone replaces obj with its tombstone at the same id and
// returns the tombstone. Converting a tombstone again is allowed.
func (s *Store) ConvertToTombstone(ctx context.Context, obj Object) (Object, error) {
	t, err := s.convertToTombstone(ctx, obj)
	s.metrics.observe("tombstone", err)
	return t, err
}

func (s *Store) convertToTombstone(ctx context.Context, obj Object) (Object, error) {
	id, err := ld.Validate(obj)
	if err != nil {
		return nil, err
	}
	t := obj.Tombstone(s.now())

	// store writes through, which replaces the cached original.
	if _, err := s.store(ctx, t); err != nil {
		return nil, fmt.Errorf("tombstone %s: %w", id, err)
	}
	s.log.Info("converted to tombstone", zap.String("object_id", id), zap.Any("former_type", t["formerType"]))
	return t.Clone(), nil
}

// Query builds a query from opts, later options winning, and runs it on the
// backend. The cache is never consulted.
func (s *Store) Query(ctx context.Context, opts ...QueryOption) (*Result, error) {
	res, err := s.query(ctx, opts)
	s.metrics.observe("query", err)
	return res, err
}

func (s *Store) query(ctx context.Context, opts []QueryOption) (*Result, error) {
	q, err := query.New(opts...)
	if err != nil {
		return nil, err
	}
	res, err := s.storage.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("query: %w", err)
	}
	s.log.Info("executed query",
		zap.Any("query", q.Map()),
		zap.Int("result_count", len(res.Items)),
		zap.Int("total_items", res.TotalItems),
	)
	return res, nil
}

// Setup creates the durable structures of the backend, then prepares the
// cache. It is safe to call on every start.
func (s *Store) Setup(ctx context.Context) error {
	if err := s.storage.Setup(ctx); err != nil {
		return fmt.Errorf("setup storage: %w", err)
	}
	if err := s.cache.Setup(ctx); err != nil {
		return fmt.Errorf("setup cache: %w", err)
	}
	return nil
}

// Teardown wipes the cache namespace, and all backend data when
// deleteAllBackendData is set.
func (s *Store) Teardown(ctx context.Context, deleteAllBackendData bool) error {
	var errs []error
	if err := s.cache.Teardown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("teardown cache: %w", err))
	}
	if deleteAllBackendData {
		if err := s.storage.Teardown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("teardown storage: %w", err))
		}
		s.log.Warn("deleted all backend data")
	}
	return errors.Join(errs...)
}

// Close releases both ports.
func (s *Store) Close() error {
	return errors.Join(s.cache.Close(), s.storage.Close())
}

func validCollection(collection string) error {
	if collection == "" {
		return fmt.Errorf("%w: collection name is empty", ErrInvalidCollection)
	}
	return nil
}
