// Package kv provides the shared coordination key-value store used by the
// window coordinator. All cross-process coordination relies on the atomic
// primitives here; no additional external locking exists.
package kv

import (
	"context"
	"time"
)

// Store is a TTL-bounded key-value store with the atomic primitives the
// window coordinator needs. Implementations must make SetNX and RenameNX
// atomic across processes sharing the store.
type Store interface {
	// SetNX sets an existence-only flag if absent, with expiry.
	// Returns true when this call created the flag.
	SetNX(ctx context.Context, key string, ttl time.Duration) (bool, error)

	// Exists reports whether the key is present and unexpired.
	Exists(ctx context.Context, key string) (bool, error)

	// Del removes keys. Missing keys are not an error.
	Del(ctx context.Context, keys ...string) error

	// RPush appends value to the list at key and returns the new length.
	// TTL is applied only when the push creates the list.
	RPush(ctx context.Context, key, value string, ttl time.Duration) (int, error)

	// LRange returns the full list at key in insertion order.
	// A missing key yields an empty slice.
	LRange(ctx context.Context, key string) ([]string, error)

	// RenameNX atomically moves the list at src to dst. Returns false without
	// side effects when src is absent or dst already exists.
	RenameNX(ctx context.Context, src, dst string) (bool, error)

	// Sweep removes expired entries and returns how many were purged.
	Sweep(ctx context.Context) (int, error)
}
