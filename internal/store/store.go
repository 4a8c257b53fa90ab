// Package store provides the durable key-value store used by the request
// layer and the audit ledger to survive process restarts. Implementations
// serialize nothing themselves; callers own their own encoding.
package store

import "context"

// Store is the durable key-value contract. Keys are plain strings, values
// are opaque bytes. A missing key is reported via the bool return, not an
// error.
type Store interface {
	// Get retrieves the value for key. The second return is false if the
	// key is absent.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set writes the value for key, overwriting any previous value.
	Set(ctx context.Context, key string, value []byte) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
