// Package cas implements large-payload offload (SPEC_FULL.md §3.5):
// content-addressed storage for action results that exceed a configurable
// size threshold, so the event log's output_result column stays bounded
// without changing spec.md's event schema semantics. A resolved CAS
// reference is indistinguishable from an inline value to callers.
//
// Grounded on the teacher's common/models/cas_blob.go (cas_id/media_type/
// size_bytes/content shape) and cmd/orchestrator/repository/cas_blob.go
// (Postgres-backed blob table, content-hash addressing, ON CONFLICT DO
// NOTHING idempotent insert). The teacher's Unix-socket "mover" transport
// (common/clients/mover_client.go) is not wired: it fronts a separate Rust
// io_uring sidecar process outside this module's scope, and direct
// Postgres storage is enough for the payload sizes spec.md's action
// results produce.
package cas

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noetl/noetl/internal/value"
)

// Media types for CAS-stored payloads. Unlike the teacher, which offloads
// DAGs, patch ops, run manifests and run snapshots all through the same
// blob table, this module only ever offloads one kind of payload —
// action/step output_result — so a single media type is enough; the
// column is kept for parity with the teacher's schema and future reuse.
const MediaTypeOutputResult = "application/json;type=output_result"

// RefKey is the JSON key a resolved-elsewhere-stored value is replaced
// with in an event's output_result: {"$cas_ref": "sha256:..."}.
const RefKey = "$cas_ref"

// Blob is one content-addressed payload.
type Blob struct {
	CasID     string
	MediaType string
	SizeBytes int64
	Content   []byte
	CreatedAt time.Time
}

// Store persists and retrieves content-addressed blobs.
type Store interface {
	// Put stores data under its content hash and returns the cas_id,
	// idempotently: storing the same bytes twice returns the same id.
	Put(ctx context.Context, data []byte, mediaType string) (string, error)

	// Get retrieves a blob's content by cas_id.
	Get(ctx context.Context, casID string) ([]byte, error)

	// Exists reports whether casID is already stored.
	Exists(ctx context.Context, casID string) (bool, error)
}

func hashOf(data []byte) string {
	return fmt.Sprintf("sha256:%x", sha256.Sum256(data))
}

func errNotFound(casID string) error {
	return fmt.Errorf("cas: blob %q not found", casID)
}

// Offload marshals result to JSON and, if it exceeds thresholdBytes,
// stores it in store and returns a {"$cas_ref": cas_id} pointer value in
// its place. Results at or under the threshold are returned unchanged, so
// small outputs never pay the indirection cost. thresholdBytes <= 0
// disables offload entirely (every result stays inline), same as store
// being nil.
func Offload(ctx context.Context, store Store, result value.Value, thresholdBytes int) (value.Value, error) {
	if store == nil || thresholdBytes <= 0 {
		return result, nil
	}

	data, err := json.Marshal(result.Native())
	if err != nil {
		return value.Null(), fmt.Errorf("cas: marshal result: %w", err)
	}
	if len(data) <= thresholdBytes {
		return result, nil
	}

	casID, err := store.Put(ctx, data, MediaTypeOutputResult)
	if err != nil {
		return value.Null(), fmt.Errorf("cas: put: %w", err)
	}
	return value.Map(map[string]value.Value{RefKey: value.String(casID)}), nil
}

// Resolve reads result back from store if it is a CAS reference pointer;
// any other value is returned unchanged. Callers (the Context Builder)
// use this so a CAS-backed output_result resolves transparently.
func Resolve(ctx context.Context, store Store, result value.Value) (value.Value, error) {
	ref, ok := casRef(result)
	if !ok {
		return result, nil
	}
	if store == nil {
		return value.Null(), fmt.Errorf("cas: %q is a cas reference but no store is configured", ref)
	}

	data, err := store.Get(ctx, ref)
	if err != nil {
		return value.Null(), fmt.Errorf("cas: get %q: %w", ref, err)
	}

	var native interface{}
	if err := json.Unmarshal(data, &native); err != nil {
		return value.Null(), fmt.Errorf("cas: decode %q: %w", ref, err)
	}
	return value.FromNative(native), nil
}

func casRef(v value.Value) (string, bool) {
	m, ok := v.Map()
	if !ok || len(m) != 1 {
		return "", false
	}
	refVal, ok := m[RefKey]
	if !ok || refVal.Kind() != value.KindString {
		return "", false
	}
	return refVal.String(), true
}
