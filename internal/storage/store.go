// Package storage moves tile trees between the local working directory and
// remote object storage. Keys are always forward-slash separated.
package storage

import (
	"context"
	"errors"
)

// ErrNotFound is returned (possibly wrapped) when a key does not exist.
var ErrNotFound = errors.New("storage: object not found")

// ObjectStore is a flat key/value blob store.
type ObjectStore interface {
	Get(ctx context.Context, key string) ([]byte, error)
	// Put replaces the object atomically: readers see the old or the new
	// content, never a partial write.
	Put(ctx context.Context, key string, data []byte) error
	// List returns every key under prefix, sorted.
	List(ctx context.Context, prefix string) ([]string, error)
	Delete(ctx context.Context, key string) error
}
