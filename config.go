package activitystore

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/cache"
	"github.com/aweris/activitystore/internal/storage"
)

// Backend kinds.
const (
	BackendMemory        = "memory"
	BackendElasticsearch = "elasticsearch"
)

// Cache kinds.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// Config selects and configures the ports built by Open.
type Config struct {
	Backend   string        `mapstructure:"backend"`
	Cache     string        `mapstructure:"cache"`
	Namespace string        `mapstructure:"namespace"`
	TTL       time.Duration `mapstructure:"ttl"`

	Elasticsearch ElasticsearchConfig `mapstructure:"elasticsearch"`
	Redis         RedisConfig         `mapstructure:"redis"`
}

// ElasticsearchConfig configures the elasticsearch backend. Indices are named
// after the store namespace.
type ElasticsearchConfig struct {
	Addresses      []string `mapstructure:"addresses"`
	Username       string   `mapstructure:"username"`
	Password       string   `mapstructure:"password"`
	APIKey         string   `mapstructure:"api_key"`
	CloudID        string   `mapstructure:"cloud_id"`
	RefreshOnWrite bool     `mapstructure:"refresh_on_write"`

	// Transport overrides the HTTP transport.
	Transport http.RoundTripper `mapstructure:"-"`
}

// RedisConfig configures the redis cache. Compress enables zstd for large
// values.
type RedisConfig struct {
	URL      string `mapstructure:"url"`
	Compress bool   `mapstructure:"compress"`
}

// Open builds the ports selected by cfg and returns a Store over them. Unknown
// kinds fall back to the in-process implementation with a warning. The store
// is not set up.
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	options := applyOptions(opts)
	log := options.Logger

	ns := cfg.Namespace
	if ns == "" {
		ns = options.Namespace
	}
	opts = append(append([]Option(nil), opts...), WithNamespace(ns), WithTTL(cfg.TTL))

	st, err := openStorage(cfg, ns, log)
	if err != nil {
		return nil, err
	}
	c, err := openCache(cfg, ns, log)
	if err != nil {
		_ = st.Close()
		return nil, err
	}

	s, err := New(st, c, opts...)
	if err != nil {
		_ = c.Close()
		_ = st.Close()
		return nil, err
	}
	log.Debug("opened store",
		zap.String("namespace", ns),
		zap.String("backend", cfg.Backend),
		zap.String("cache", cfg.Cache),
	)
	return s, nil
}

func openStorage(cfg Config, ns string, log *zap.Logger) (Storage, error) {
	switch cfg.Backend {
	case "", BackendMemory:
		return storage.NewMemory(log), nil
	case BackendElasticsearch:
		es := cfg.Elasticsearch
		st, err := storage.NewElastic(storage.ElasticConfig{
			Addresses:      es.Addresses,
			Username:       es.Username,
			Password:       es.Password,
			APIKey:         es.APIKey,
			CloudID:        es.CloudID,
			IndexPrefix:    ns,
			RefreshOnWrite: es.RefreshOnWrite,
			Transport:      es.Transport,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("open storage: %w", err)
		}
		return st, nil
	default:
		log.Warn("unknown backend, using in-process storage", zap.String("backend", cfg.Backend))
		return storage.NewMemory(log), nil
	}
}

func openCache(cfg Config, ns string, log *zap.Logger) (Cache, error) {
	switch cfg.Cache {
	case "", CacheMemory:
		return cache.NewMemory(ns), nil
	case CacheRedis:
		c, err := cache.NewRedis(cache.RedisConfig{
			URL:       cfg.Redis.URL,
			Namespace: ns,
			Compress:  cfg.Redis.Compress,
		}, log)
		if err != nil {
			return nil, fmt.Errorf("open cache: %w", err)
		}
		return c, nil
	default:
		log.Warn("unknown cache, using in-process cache", zap.String("cache", cfg.Cache))
		return cache.NewMemory(ns), nil
	}
}

// NewMemoryStorage returns the in-process Storage.
func NewMemoryStorage(log *zap.Logger) Storage { return storage.NewMemory(log) }

// NewMemoryCache returns an in-process Cache under namespace.
func NewMemoryCache(namespace string) Cache { return cache.NewMemory(namespace) }
