package store

import (
	"context"
	"errors"
)

var (
	// ErrNotFound is returned when no object exists under a key.
	ErrNotFound = errors.New("object not found")
)

// Blob is a flat key/value object store. Keys use "/" as separator.
// Put must replace an object atomically: readers see the old or the new
// content, never a partial write.
type Blob interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
	// List returns every key starting with prefix, in no particular order.
	List(ctx context.Context, prefix string) ([]string, error)
}
