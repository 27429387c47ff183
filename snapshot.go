package activitystore

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/ld"
	"github.com/aweris/activitystore/internal/query"
	"github.com/aweris/activitystore/internal/remote"
)

// exportPageSize is the query page size used to walk the store.
const exportPageSize = 100

// importConcurrency bounds the parallel writes of Import.
const importConcurrency = 8

// Remote transfers snapshots. OpenRemote returns the OCI registry
// implementation.
type Remote = remote.Remote

// Snapshot is the set of canonical objects of one namespace.
type Snapshot = remote.Snapshot

// OCIRemote stores snapshots as images in an OCI registry.
type OCIRemote = remote.OCIRemote

// OpenRemote creates a registry remote for a ref like
// "ghcr.io/acme/activities:2024-05-01".
func OpenRemote(ref string, opts ...RemoteOption) (*OCIRemote, error) {
	options := &RemoteOptions{Concurrency: remote.DefaultConcurrency}
	for _, opt := range opts {
		opt(options)
	}
	r, err := remote.NewOCIRemote(ref, options.Auth, options.Logger)
	if err != nil {
		return nil, err
	}
	r.SetConcurrency(options.Concurrency)
	return r, nil
}

// Export walks every canonical object and pushes them as one snapshot.
// Collections are not exported. It returns the number of objects pushed.
func (s *Store) Export(ctx context.Context, r Remote) (int, error) {
	objects := make(map[string][]byte)
	after := ""
	for {
		q, err := query.New(query.WithSize(exportPageSize), query.WithAfter(after))
		if err != nil {
			return 0, err
		}
		res, err := s.storage.Query(ctx, q)
		if err != nil {
			return 0, fmt.Errorf("export: %w", err)
		}
		for _, obj := range res.Items {
			data, err := json.Marshal(obj)
			if err != nil {
				return 0, fmt.Errorf("export %s: %w", obj.ID(), err)
			}
			objects[obj.ID()] = data
		}
		if res.After == "" {
			break
		}
		after = res.After
	}

	if err := r.Push(ctx, &Snapshot{Namespace: s.namespace, Objects: objects}); err != nil {
		s.metrics.observe("export", err)
		return 0, fmt.Errorf("export: %w", err)
	}
	s.metrics.observe("export", nil)
	s.log.Info("exported snapshot", zap.Int("result_count", len(objects)))
	return len(objects), nil
}

// Import pulls a snapshot and stores every object in it, overwriting objects
// with the same id. It returns the number of objects stored.
func (s *Store) Import(ctx context.Context, r Remote) (int, error) {
	snap, err := r.Pull(ctx)
	if err != nil {
		s.metrics.observe("import", err)
		return 0, fmt.Errorf("import: %w", err)
	}
	if snap.Namespace != "" && snap.Namespace != s.namespace {
		s.log.Info("importing snapshot of another namespace", zap.String("source_namespace", snap.Namespace))
	}

	var stored atomic.Int64
	p := pool.New().WithMaxGoroutines(importConcurrency).WithContext(ctx).WithCancelOnError()
	for id, data := range snap.Objects {
		p.Go(func(ctx context.Context) error {
			obj, err := ld.Decode(data)
			if err != nil {
				return fmt.Errorf("decode %s: %w", id, err)
			}
			if _, err := s.Store(ctx, obj); err != nil {
				return err
			}
			stored.Add(1)
			return nil
		})
	}
	err = p.Wait()
	s.metrics.observe("import", err)
	if err != nil {
		return int(stored.Load()), fmt.Errorf("import: %w", err)
	}

	s.log.Info("imported snapshot", zap.Int("result_count", int(stored.Load())))
	return int(stored.Load()), nil
}
