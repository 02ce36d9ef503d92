package store

import (
	"context"
	"strings"
	"sync"
)

// MemoryBlob is a concurrency-safe in-memory Blob. Contents are lost on exit;
// it backs tests and STORE_BACKEND=memory.
type MemoryBlob struct {
	mu sync.RWMutex

	// key: object key, value: object bytes
	data map[string][]byte
}

// NewMemoryBlob creates an empty MemoryBlob.
func NewMemoryBlob() *MemoryBlob {
	return &MemoryBlob{
		data: make(map[string][]byte),
	}
}

// Put stores a copy of data under key.
func (b *MemoryBlob) Put(ctx context.Context, key string, data []byte) error {
	cp := make([]byte, len(data))
	copy(cp, data)

	b.mu.Lock()
	defer b.mu.Unlock()
	b.data[key] = cp
	return nil
}

// Get returns a copy of the object under key.
func (b *MemoryBlob) Get(ctx context.Context, key string) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	data, ok := b.data[key]
	if !ok {
		return nil, ErrNotFound
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	return cp, nil
}

// List returns the keys with the given prefix.
func (b *MemoryBlob) List(ctx context.Context, prefix string) ([]string, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	var keys []string
	for k := range b.data {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}
