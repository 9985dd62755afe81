package store

import (
	"context"
	"encoding/json"
	"sync"
)

// MemoryBackend keeps the document in process memory only, like the
// original sync server.
type MemoryBackend struct {
	mu  sync.RWMutex
	doc json.RawMessage
}

// NewMemoryBackend returns an empty backend.
func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{}
}

// Load returns ErrNotFound until the first Save.
func (b *MemoryBackend) Load(ctx context.Context) (json.RawMessage, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.doc == nil {
		return nil, ErrNotFound
	}
	return cloneRaw(b.doc), nil
}

func (b *MemoryBackend) Save(ctx context.Context, doc json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.doc = cloneRaw(doc)
	return nil
}

func (b *MemoryBackend) Close() error { return nil }
