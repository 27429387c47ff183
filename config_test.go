package activitystore

import (
	"context"
	"net/http"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/aweris/activitystore/internal/cache"
	"github.com/aweris/activitystore/internal/storage"
)

func TestOpenDefaults(t *testing.T) {
	ctx := context.Background()
	s, err := Open(ctx, Config{})
	require.NoError(t, err)
	defer s.Close()

	assert.Equal(t, DefaultNamespace, s.Namespace())
	assert.Equal(t, DefaultTTL, s.ttl)
	assert.IsType(t, &storage.Memory{}, s.storage)
	assert.IsType(t, &cache.Memory{}, s.cache)

	require.NoError(t, s.Setup(ctx))
	_, err = s.Store(ctx, Object{"id": "n1", "type": "Note"})
	require.NoError(t, err)
}

func TestOpenNamespaceAndTTL(t *testing.T) {
	ctx := context.Background()

	s, err := Open(ctx, Config{Namespace: "social", TTL: 5 * time.Minute}, WithNamespace("ignored"))
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, "social", s.Namespace())
	assert.Equal(t, 5*time.Minute, s.ttl)

	s2, err := Open(ctx, Config{}, WithNamespace("fallback"))
	require.NoError(t, err)
	defer s2.Close()
	assert.Equal(t, "fallback", s2.Namespace())
}

func TestOpenUnknownKindsFallBack(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	s, err := Open(context.Background(), Config{Backend: "cassandra", Cache: "memcached"}, WithLogger(zap.New(core)))
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &storage.Memory{}, s.storage)
	assert.IsType(t, &cache.Memory{}, s.cache)

	backend := logs.FilterMessage("unknown backend, using in-process storage").All()
	require.Len(t, backend, 1)
	assert.Equal(t, "cassandra", backend[0].ContextMap()["backend"])
	assert.Equal(t, 1, logs.FilterMessage("unknown cache, using in-process cache").Len())
}

func TestOpenRedis(t *testing.T) {
	ctx := context.Background()
	srv := miniredis.RunT(t)

	s, err := Open(ctx, Config{
		Cache:     CacheRedis,
		Namespace: "social",
		Redis:     RedisConfig{URL: "redis://" + srv.Addr(), Compress: true},
	})
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Setup(ctx))

	_, err = s.Store(ctx, Object{"id": "n1", "type": "Note"})
	require.NoError(t, err)
	assert.True(t, srv.Exists("social:n1"))

	got, err := s.Dereference(ctx, "n1")
	require.NoError(t, err)
	assert.Equal(t, "Note", got["type"])

	require.NoError(t, s.Teardown(ctx, false))
	assert.False(t, srv.Exists("social:n1"))
}

func TestOpenRedisInvalidURL(t *testing.T) {
	_, err := Open(context.Background(), Config{Cache: CacheRedis, Redis: RedisConfig{URL: "http://nope"}})
	require.Error(t, err)
}

type countingTransport struct{ requests atomic.Int32 }

func (c *countingTransport) RoundTrip(*http.Request) (*http.Response, error) {
	c.requests.Add(1)
	return nil, http.ErrNotSupported
}

func TestOpenElasticsearch(t *testing.T) {
	ctx := context.Background()

	_, err := Open(ctx, Config{Backend: BackendElasticsearch})
	require.Error(t, err)

	transport := &countingTransport{}
	s, err := Open(ctx, Config{
		Backend:   BackendElasticsearch,
		Namespace: "social",
		Elasticsearch: ElasticsearchConfig{
			Addresses: []string{"http://localhost:9200"},
			Transport: transport,
		},
	})
	require.NoError(t, err)
	defer s.Close()

	assert.IsType(t, &storage.Elastic{}, s.storage)
	assert.Zero(t, transport.requests.Load(), "Open must not touch the cluster")
}

func TestOpenRemote(t *testing.T) {
	r, err := OpenRemote("registry.example.com/acme/activities:backup", WithBasicAuth("u", "p"), WithConcurrency(2))
	require.NoError(t, err)
	defer r.Close()
	assert.Equal(t, "registry.example.com", r.Registry())

	_, err = OpenRemote("NOT A REF")
	require.Error(t, err)
}
