// Package cache implements the short-lived lookup layer in front of storage.
//
// Entries are namespaced (<escaped namespace>:<key>) so that several stores can share
// one physical cache, and Teardown only ever wipes its own namespace.
package cache

import (
	"context"
	"net/url"
	"time"

	"github.com/aweris/activitystore/internal/ld"
)

// DefaultTTL is used when an entry is added with a non-positive ttl.
const DefaultTTL = time.Hour

// Cache is a TTL-bounded key/value store of LD-objects.
type Cache interface {
	// Add stores a copy of value under key, replacing any previous entry and
	// restarting its TTL.
	Add(ctx context.Context, key string, value ld.Object, ttl time.Duration) error

	// Get returns the live entry for key. A missing or expired entry is
	// (nil, false, nil).
	Get(ctx context.Context, key string) (ld.Object, bool, error)

	// Remove deletes key. Missing keys are not an error.
	Remove(ctx context.Context, key string) error

	Setup(ctx context.Context) error

	// Teardown removes every entry of this namespace.
	Teardown(ctx context.Context) error

	Close() error
}

// namespaced builds the physical key. The namespace is query-escaped so it
// never contains ':' or a glob metacharacter, which keeps one namespace from
// prefixing another and makes "<ns>:*" a safe SCAN pattern.
func namespaced(namespace, key string) string {
	return url.QueryEscape(namespace) + ":" + key
}

func ttlOrDefault(ttl time.Duration) time.Duration {
	if ttl <= 0 {
		return DefaultTTL
	}
	return ttl
}
