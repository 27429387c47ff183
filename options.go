package activitystore

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/cache"
	"github.com/aweris/activitystore/internal/remote"
)

// DefaultNamespace prefixes cache keys and storage indices when none is set.
const DefaultNamespace = "activity_store"

// DefaultTTL is the lifetime of cache entries written by the store.
const DefaultTTL = cache.DefaultTTL

// Options configures a Store.
type Options struct {
	Logger     *zap.Logger
	Clock      func() time.Time
	TTL        time.Duration
	Namespace  string
	Registerer prometheus.Registerer
}

// Option is a functional option for configuring New and Open.
type Option func(*Options)

func defaultOptions() *Options {
	return &Options{
		Logger:    zap.NewNop(),
		Clock:     time.Now,
		TTL:       DefaultTTL,
		Namespace: DefaultNamespace,
	}
}

func applyOptions(opts []Option) *Options {
	options := defaultOptions()
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// WithLogger sets the logger. Backends created by Open get named children.
func WithLogger(log *zap.Logger) Option {
	return func(o *Options) {
		if log != nil {
			o.Logger = log
		}
	}
}

// WithClock sets the time source used for tombstones.
func WithClock(now func() time.Time) Option {
	return func(o *Options) {
		if now != nil {
			o.Clock = now
		}
	}
}

// WithTTL sets the lifetime of cache entries.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) {
		if ttl > 0 {
			o.TTL = ttl
		}
	}
}

// WithNamespace sets the namespace reported in logs and snapshots. Open also
// uses it for cache keys and index names unless Config.Namespace is set.
func WithNamespace(ns string) Option {
	return func(o *Options) {
		if ns != "" {
			o.Namespace = ns
		}
	}
}

// WithRegisterer registers the store's metrics with reg.
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *Options) { o.Registerer = reg }
}

// Authenticator provides credentials for snapshot registries.
type Authenticator = remote.Authenticator

// RemoteOptions configures OpenRemote.
type RemoteOptions struct {
	Auth        Authenticator
	Concurrency int
	Logger      *zap.Logger
}

// RemoteOption is a functional option for configuring OpenRemote.
type RemoteOption func(*RemoteOptions)

// WithAuth sets custom registry authentication.
func WithAuth(auth Authenticator) RemoteOption {
	return func(o *RemoteOptions) { o.Auth = auth }
}

// WithBasicAuth authenticates with a fixed username and password.
func WithBasicAuth(username, password string) RemoteOption {
	return func(o *RemoteOptions) {
		o.Auth = remote.StaticAuthenticator{Username: username, Password: password}
	}
}

// WithConcurrency sets the number of parallel operations for push/pull.
func WithConcurrency(n int) RemoteOption {
	return func(o *RemoteOptions) {
		if n > 0 {
			o.Concurrency = n
		}
	}
}

// WithRemoteLogger sets the logger of the snapshot transport.
func WithRemoteLogger(log *zap.Logger) RemoteOption {
	return func(o *RemoteOptions) { o.Logger = log }
}
