package storage

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/fault"
	"github.com/aweris/activitystore/internal/ld"
	"github.com/aweris/activitystore/internal/query"
)

var _ Storage = (*Memory)(nil)

// Memory implements Storage with in-process maps.
//
// Layout:
//
//	objects:     id -> object
//	collections: name -> id -> projection
//
// Every write stores a deep copy and every read returns one.
type Memory struct {
	mu          sync.RWMutex
	objects     map[string]ld.Object
	collections map[string]map[string]ld.Object
	log         *zap.Logger
}

// NewMemory creates an empty in-process storage.
func NewMemory(log *zap.Logger) *Memory {
	if log == nil {
		log = zap.NewNop()
	}
	return &Memory{
		objects:     make(map[string]ld.Object),
		collections: make(map[string]map[string]ld.Object),
		log:         log.Named("storage.memory"),
	}
}

func (m *Memory) Add(ctx context.Context, obj ld.Object, collection string) error {
	id, err := ld.Validate(obj)
	if err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if collection == "" {
		m.objects[id] = obj.Clone()
		return nil
	}
	members, ok := m.collections[collection]
	if !ok {
		members = make(map[string]ld.Object)
		m.collections[collection] = members
	}
	members[id] = obj.Clone()
	return nil
}

func (m *Memory) Remove(ctx context.Context, id, collection string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if collection != "" {
		if members, ok := m.collections[collection]; ok {
			delete(members, id)
			if len(members) == 0 {
				delete(m.collections, collection)
			}
		}
		return nil
	}

	purged := 0
	for name, members := range m.collections {
		if _, ok := members[id]; ok {
			delete(members, id)
			purged++
		}
		if len(members) == 0 {
			delete(m.collections, name)
		}
	}
	delete(m.objects, id)
	if purged > 0 {
		m.log.Debug("purged collection memberships", zap.String("object_id", id), zap.Int("collections", purged))
	}
	return nil
}

func (m *Memory) RemoveObject(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, id)
	return nil
}

func (m *Memory) Get(ctx context.Context, id, collection string) (ld.Object, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if collection != "" {
		obj, ok := m.collections[collection][id]
		if !ok {
			return nil, fmt.Errorf("%w: %s in collection %s", fault.ErrNotFound, id, collection)
		}
		return obj.Clone(), nil
	}
	obj, ok := m.objects[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", fault.ErrNotFound, id)
	}
	return obj.Clone(), nil
}

func (m *Memory) Query(ctx context.Context, q query.Query) (*query.Result, error) {
	m.mu.RLock()
	source := m.objects
	if c := q.Collection(); c != "" {
		source = m.collections[c]
	}
	candidates := make([]ld.Object, 0, len(source))
	for _, obj := range source {
		candidates = append(candidates, obj.Clone())
	}
	m.mu.RUnlock()

	return evaluate(q, candidates)
}

// Setup is a no-op; the maps exist from construction.
func (m *Memory) Setup(ctx context.Context) error { return nil }

func (m *Memory) Teardown(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects = make(map[string]ld.Object)
	m.collections = make(map[string]map[string]ld.Object)
	return nil
}

func (m *Memory) Close() error { return nil }

// Len returns the number of canonical objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
