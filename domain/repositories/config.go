package repositories

import (
	"context"
	"errors"
)

// ErrKeyNotFound is returned by ConfigStore.Get when a key has never been
// written.
var ErrKeyNotFound = errors.New("config: key not found")

// ConfigStore is durable key/value persistence for the provisioned identity.
// It is loaded once at boot and written on provisioning commit. The
// underlying storage is not safely reentrant, so exactly one writer may be
// active at a time; reads may run concurrently with no writer active.
type ConfigStore interface {
	// Get retrieves the value for a key. Returns ErrKeyNotFound if the key
	// has never been written.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a key-value pair, overwriting any existing value.
	Set(ctx context.Context, key string, value []byte) error

	// SetAll atomically stores multiple key-value pairs. Either every pair
	// is durable or none is, so an interrupted commit cannot leave the
	// identity half-written.
	SetAll(ctx context.Context, pairs map[string][]byte) error

	// Delete removes a key. Removing an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Close releases the underlying storage.
	Close() error
}
