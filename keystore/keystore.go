// Package keystore defines the persistent key-value storage the SDK keeps
// its session artifacts in, along with in-memory, plain-file, and
// encrypted-file implementations. The abstraction mirrors a browser's
// Storage interface: string keys, string values, absent keys read as empty.
package keystore

import "context"

// Store is a durable key-value store for session artifacts.
//
// Implementations must be safe for concurrent use within a single process.
// Coordination across processes sharing the same backing data (for example
// two programs over one file) is the caller's problem; the SDK does not
// attempt cross-process mutual exclusion around refresh-token rotation.
type Store interface {
	// Get returns the value for key, or the empty string if it is not set.
	Get(ctx context.Context, key string) (string, error)
	// Set stores value under key, replacing any existing value.
	Set(ctx context.Context, key, value string) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
