package cache

import (
	"context"
	"strings"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/aweris/activitystore/internal/ld"
)

var _ Cache = (*Memory)(nil)

// Memory is an in-process Cache backed by go-cache.
//
// Expiry is lazy: go-cache hides expired items from Get, and no janitor
// goroutine runs. Teardown drops expired items of every namespace as well.
type Memory struct {
	items     *gocache.Cache
	namespace string
}

// NewMemory creates an empty in-process cache.
func NewMemory(namespace string) *Memory {
	return &Memory{
		items:     gocache.New(DefaultTTL, 0),
		namespace: namespace,
	}
}

// Namespace returns a view of the same cache under another namespace.
func (m *Memory) Namespace(namespace string) *Memory {
	return &Memory{items: m.items, namespace: namespace}
}

func (m *Memory) Add(ctx context.Context, key string, value ld.Object, ttl time.Duration) error {
	m.items.Set(namespaced(m.namespace, key), value.Clone(), ttlOrDefault(ttl))
	return nil
}

func (m *Memory) Get(ctx context.Context, key string) (ld.Object, bool, error) {
	v, ok := m.items.Get(namespaced(m.namespace, key))
	if !ok {
		return nil, false, nil
	}
	obj, ok := v.(ld.Object)
	if !ok {
		m.items.Delete(namespaced(m.namespace, key))
		return nil, false, nil
	}
	return obj.Clone(), true, nil
}

func (m *Memory) Remove(ctx context.Context, key string) error {
	m.items.Delete(namespaced(m.namespace, key))
	return nil
}

func (m *Memory) Setup(ctx context.Context) error { return nil }

func (m *Memory) Teardown(ctx context.Context) error {
	prefix := namespaced(m.namespace, "")
	for key := range m.items.Items() {
		if strings.HasPrefix(key, prefix) {
			m.items.Delete(key)
		}
	}
	m.items.DeleteExpired()
	return nil
}

func (m *Memory) Close() error { return nil }

// Len counts the live entries of this namespace.
func (m *Memory) Len() int {
	prefix := namespaced(m.namespace, "")
	n := 0
	for key := range m.items.Items() {
		if strings.HasPrefix(key, prefix) {
			n++
		}
	}
	return n
}
