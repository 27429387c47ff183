package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/compression"
	"github.com/aweris/activitystore/internal/fault"
	"github.com/aweris/activitystore/internal/ld"
)

var _ Cache = (*Redis)(nil)

// scanBatch is the COUNT hint used while wiping a namespace.
const scanBatch = 100

// RedisConfig configures the Redis cache.
type RedisConfig struct {
	// URL is a redis:// or rediss:// connection string.
	URL       string
	Namespace string

	// Compress enables zstd for values above a small threshold.
	Compress bool
}

// Redis is a Cache on a Redis server. Values are framed JSON documents.
type Redis struct {
	client    *redis.Client
	codec     *compression.Compressor
	namespace string
	log       *zap.Logger
}

// NewRedis parses cfg.URL and creates a client. No connection is made until
// the first command; Setup pings the server.
func NewRedis(cfg RedisConfig, log *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("redis: parse url: %w", err)
	}
	return newRedis(redis.NewClient(opts), cfg, log)
}

func newRedis(client *redis.Client, cfg RedisConfig, log *zap.Logger) (*Redis, error) {
	if log == nil {
		log = zap.NewNop()
	}
	codec, err := compression.NewCompressor(1, cfg.Compress)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: create codec: %w", err)
	}
	return &Redis{
		client:    client,
		codec:     codec,
		namespace: cfg.Namespace,
		log:       log.Named("cache.redis"),
	}, nil
}

func (r *Redis) Add(ctx context.Context, key string, value ld.Object, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", fault.ErrInvalidObject, err)
	}
	if err := r.client.Set(ctx, namespaced(r.namespace, key), r.codec.Frame(data), ttlOrDefault(ttl)).Err(); err != nil {
		return fault.Backend("cache set "+key, err)
	}
	return nil
}

func (r *Redis) Get(ctx context.Context, key string) (ld.Object, bool, error) {
	full := namespaced(r.namespace, key)
	data, err := r.client.Get(ctx, full).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fault.Backend("cache get "+key, err)
	}

	payload, err := r.codec.Unframe(data)
	var obj ld.Object
	if err == nil {
		obj, err = ld.Decode(payload)
	}
	if err != nil {
		r.log.Warn("dropping corrupt cache entry", zap.String("key", full), zap.Error(err))
		if derr := r.client.Del(ctx, full).Err(); derr != nil {
			r.log.Warn("failed to drop corrupt cache entry", zap.String("key", full), zap.Error(derr))
		}
		return nil, false, nil
	}
	return obj, true, nil
}

func (r *Redis) Remove(ctx context.Context, key string) error {
	if err := r.client.Del(ctx, namespaced(r.namespace, key)).Err(); err != nil {
		r.log.Warn("cache remove failed", zap.String("key", key), zap.Error(err))
	}
	return nil
}

func (r *Redis) Setup(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fault.Backend("cache ping", err)
	}
	return nil
}

func (r *Redis) Teardown(ctx context.Context) error {
	pattern := namespaced(r.namespace, "*")
	var cursor uint64
	deleted := 0
	for {
		keys, next, err := r.client.Scan(ctx, cursor, pattern, scanBatch).Result()
		if err != nil {
			return fault.Backend("cache scan", err)
		}
		if len(keys) > 0 {
			if err := r.client.Del(ctx, keys...).Err(); err != nil {
				return fault.Backend("cache delete", err)
			}
			deleted += len(keys)
		}
		if next == 0 {
			break
		}
		cursor = next
	}
	r.log.Info("cleared cache namespace", zap.String("namespace", r.namespace), zap.Int("keys", deleted))
	return nil
}

func (r *Redis) Close() error {
	cerr := r.codec.Close()
	return errors.Join(r.client.Close(), cerr)
}
