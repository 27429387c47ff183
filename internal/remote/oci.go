package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"sync"
	"time"

	"github.com/google/go-containerregistry/pkg/name"
	v1 "github.com/google/go-containerregistry/pkg/v1"
	"github.com/google/go-containerregistry/pkg/v1/empty"
	"github.com/google/go-containerregistry/pkg/v1/mutate"
	"github.com/google/go-containerregistry/pkg/v1/remote"
	"github.com/google/go-containerregistry/pkg/v1/types"
	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/aweris/activitystore/internal/compression"
)

const DefaultConcurrency = 4

// Image config labels.
const (
	LabelNamespace = "dev.activitystore.namespace"
	LabelCount     = "dev.activitystore.count"
	LabelPrefixes  = "dev.activitystore.prefixes"
)

var _ Remote = (*OCIRemote)(nil)

type OCIRemote struct {
	ref         name.Reference
	auth        Authenticator
	codec       *compression.Compressor
	concurrency int
	log         *zap.Logger
}

// NewOCIRemote creates a remote from a standard Docker ref (e.g., "ttl.sh/activitystore/backup:main").
// A nil auth uses the Docker keychain.
func NewOCIRemote(imageRef string, auth Authenticator, log *zap.Logger) (*OCIRemote, error) {
	ref, err := name.ParseReference(imageRef, name.WithDefaultTag("latest"))
	if err != nil {
		return nil, fmt.Errorf("invalid image ref %q: %w", imageRef, err)
	}
	if auth == nil {
		auth = NewDefaultAuthenticator()
	}
	if log == nil {
		log = zap.NewNop()
	}
	codec, err := compression.NewCompressor(2, true)
	if err != nil {
		return nil, fmt.Errorf("create layer codec: %w", err)
	}
	return &OCIRemote{
		ref:         ref,
		auth:        auth,
		codec:       codec,
		concurrency: DefaultConcurrency,
		log:         log.Named("remote").With(zap.String("ref", ref.String())),
	}, nil
}

// SetConcurrency sets the number of parallel operations for push/pull
func (r *OCIRemote) SetConcurrency(n int) {
	if n > 0 {
		r.concurrency = n
	}
}

func (r *OCIRemote) String() string   { return r.ref.String() }
func (r *OCIRemote) Registry() string { return r.ref.Context().RegistryStr() }

func (r *OCIRemote) Close() error { return r.codec.Close() }

// objectLayer implements v1.Layer with zstd compression for remote transfer
type objectLayer struct {
	compressed   []byte
	uncompressed []byte
}

func (r *OCIRemote) newObjectLayer(data []byte) (*objectLayer, error) {
	compressed, err := r.codec.Compress(data)
	if err != nil {
		return nil, err
	}
	return &objectLayer{compressed: compressed, uncompressed: data}, nil
}

func (l *objectLayer) Digest() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.compressed))
	return h, err
}

func (l *objectLayer) DiffID() (v1.Hash, error) {
	h, _, err := v1.SHA256(bytes.NewReader(l.uncompressed))
	return h, err
}

func (l *objectLayer) Compressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.compressed)), nil
}
func (l *objectLayer) Uncompressed() (io.ReadCloser, error) {
	return io.NopCloser(bytes.NewReader(l.uncompressed)), nil
}
func (l *objectLayer) Size() (int64, error)                { return int64(len(l.compressed)), nil }
func (l *objectLayer) MediaType() (types.MediaType, error) { return types.OCILayerZStd, nil }

// Push packs the snapshot into layers and writes the image.
func (r *OCIRemote) Push(ctx context.Context, snap *Snapshot) error {
	byPrefix := GroupByPrefix(snap.Objects)
	layerPlan := BuildLayerPlan(CalculatePrefixSizes(byPrefix))

	r.log.Info("packing snapshot",
		zap.Int("objects", len(snap.Objects)),
		zap.Int("prefixes", len(byPrefix)),
		zap.Int("layers", len(layerPlan)),
	)

	prefixes := make(map[string]PrefixInfo, len(byPrefix))
	layers := make([]v1.Layer, 0, len(layerPlan))
	var totalRaw, totalCompressed int64
	for _, prefixGroup := range layerPlan {
		layerData := PackLayer(CollectPrefixObjects(prefixGroup, byPrefix))
		layer, err := r.newObjectLayer(layerData)
		if err != nil {
			return fmt.Errorf("compress layer: %w", err)
		}
		digest, err := layer.Digest()
		if err != nil {
			return fmt.Errorf("digest layer: %w", err)
		}
		totalRaw += int64(len(layerData))
		totalCompressed += int64(len(layer.compressed))

		layers = append(layers, layer)
		for _, prefix := range prefixGroup {
			prefixes[prefix] = PrefixInfo{
				Hash:  PrefixHash(byPrefix[prefix]),
				Layer: digest.String(),
			}
		}
	}

	img, err := r.buildImage(layers, snap, prefixes)
	if err != nil {
		return fmt.Errorf("build image: %w", err)
	}

	r.log.Info("uploading snapshot",
		zap.Int("layers", len(layers)),
		zap.Int64("raw_bytes", totalRaw),
		zap.Int64("compressed_bytes", totalCompressed),
	)
	if err := r.pushImage(ctx, img); err != nil {
		return fmt.Errorf("push image: %w", err)
	}
	return nil
}

func (r *OCIRemote) buildImage(layers []v1.Layer, snap *Snapshot, prefixes map[string]PrefixInfo) (v1.Image, error) {
	img := empty.Image

	if len(layers) > 0 {
		var err error
		img, err = mutate.AppendLayers(img, layers...)
		if err != nil {
			return nil, err
		}
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, err
	}
	cfg = cfg.DeepCopy()

	prefixJSON, err := json.Marshal(prefixes)
	if err != nil {
		return nil, err
	}

	cfg.Config.Labels = map[string]string{
		LabelNamespace: snap.Namespace,
		LabelCount:     strconv.Itoa(len(snap.Objects)),
		LabelPrefixes:  string(prefixJSON),
	}

	return mutate.ConfigFile(img, cfg)
}

func (r *OCIRemote) pushImage(ctx context.Context, img v1.Image) error {
	options, err := r.remoteOptions(ctx)
	if err != nil {
		return err
	}
	options = append(options, remote.WithJobs(r.concurrency))
	_, err = retry(ctx, 3, func() (struct{}, error) {
		return struct{}{}, remote.Write(r.ref, img, options...)
	})
	return err
}

// Pull fetches the image and unpacks its layers in parallel. Every prefix is
// checked against the hash recorded at push time.
func (r *OCIRemote) Pull(ctx context.Context) (*Snapshot, error) {
	options, err := r.remoteOptions(ctx)
	if err != nil {
		return nil, err
	}
	img, err := retry(ctx, 3, func() (v1.Image, error) {
		return remote.Image(r.ref, options...)
	})
	if err != nil {
		return nil, fmt.Errorf("fetch image: %w", err)
	}

	cfg, err := img.ConfigFile()
	if err != nil {
		return nil, fmt.Errorf("get config: %w", err)
	}

	countLabel, ok := cfg.Config.Labels[LabelCount]
	if !ok {
		return nil, fmt.Errorf("missing %s label", LabelCount)
	}
	count, err := strconv.Atoi(countLabel)
	if err != nil {
		return nil, fmt.Errorf("parse %s label: %w", LabelCount, err)
	}

	var prefixes map[string]PrefixInfo
	if prefixJSON := cfg.Config.Labels[LabelPrefixes]; prefixJSON != "" {
		if err := json.Unmarshal([]byte(prefixJSON), &prefixes); err != nil {
			return nil, fmt.Errorf("parse prefixes: %w", err)
		}
	}

	layers, err := img.Layers()
	if err != nil {
		return nil, fmt.Errorf("get layers: %w", err)
	}

	r.log.Info("downloading snapshot", zap.Int("layers", len(layers)))

	var mu sync.Mutex
	objects := make(map[string][]byte, count)

	p := pool.New().WithMaxGoroutines(r.concurrency).WithContext(ctx).WithCancelOnError()

	for _, layer := range layers {
		p.Go(func(ctx context.Context) error {
			rc, err := layer.Uncompressed()
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}
			data, err := io.ReadAll(rc)
			if cerr := rc.Close(); cerr != nil {
				return fmt.Errorf("close layer: %w", cerr)
			}
			if err != nil {
				return fmt.Errorf("read layer: %w", err)
			}

			unpacked, err := UnpackLayer(data)
			if err != nil {
				return fmt.Errorf("unpack layer: %w", err)
			}

			mu.Lock()
			for k, v := range unpacked {
				objects[k] = v
			}
			mu.Unlock()
			return nil
		})
	}

	if err := p.Wait(); err != nil {
		return nil, err
	}

	for prefix, got := range GroupByPrefix(objects) {
		want, ok := prefixes[prefix]
		if !ok || want.Hash != PrefixHash(got) {
			return nil, fmt.Errorf("prefix %s does not match the pushed snapshot", prefix)
		}
	}
	if len(objects) != count {
		return nil, fmt.Errorf("snapshot has %d objects, label says %d", len(objects), count)
	}

	r.log.Info("downloaded snapshot", zap.Int("objects", len(objects)))
	return &Snapshot{
		Namespace: cfg.Config.Labels[LabelNamespace],
		Objects:   objects,
	}, nil
}

func (r *OCIRemote) remoteOptions(ctx context.Context) ([]remote.Option, error) {
	auth, err := r.auth.Authenticate(r.Registry())
	if err != nil {
		return nil, fmt.Errorf("resolve credentials for %s: %w", r.Registry(), err)
	}
	return []remote.Option{remote.WithAuth(auth), remote.WithContext(ctx)}, nil
}

func retry[T any](ctx context.Context, maxAttempts int, fn func() (T, error)) (T, error) {
	var zero T
	var lastErr error
	for i := range maxAttempts {
		result, err := fn()
		if err == nil {
			return result, nil
		}
		lastErr = err
		if i < maxAttempts-1 {
			delay := time.Duration(1<<i) * 500 * time.Millisecond // 500ms, 1s, 2s, 4s...
			select {
			case <-ctx.Done():
				return zero, ctx.Err()
			case <-time.After(delay):
			}
		}
	}
	return zero, lastErr
}
