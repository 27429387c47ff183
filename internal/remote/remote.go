// Package remote ships store snapshots through OCI registries.
//
// A snapshot is packed into zstd layers grouped by the first byte of
// sha256(id), and tagged like any image:
//   - Authentication via an explicit user/password or the Docker keychain
//   - Upload ordering: layers → config → manifest
//   - Labels carry the namespace, the object count and per-prefix hashes
package remote

import "context"

// Remote handles snapshot transfer.
type Remote interface {
	// Push uploads a snapshot, replacing whatever the reference pointed to.
	Push(ctx context.Context, snap *Snapshot) error

	// Pull downloads the snapshot the reference points to.
	Pull(ctx context.Context) (*Snapshot, error)
}

// Snapshot is a set of canonical objects of one namespace.
type Snapshot struct {
	Namespace string

	// Objects maps object id to its JSON document.
	Objects map[string][]byte
}
