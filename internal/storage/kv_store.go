package storage

import (
	"context"
	"sync"
)

// KVStore is the host object-store contract the PersistentKV backend
// persists through: an append-only sequence of opaque frames that can
// be replayed in insertion order. Modeled on the original source's
// indexeddb_backend.rs, whose store_data.rs wraps IndexedDB's object
// store add()/cursor-scan primitives; this interface is the Go-side
// seam so a real browser/WASM host can supply its own implementation
// while tests use MemoryKVStore.
type KVStore interface {
	// Append writes frame as the next entry in the store.
	Append(ctx context.Context, frame []byte) error
	// Scan returns every frame appended so far, in insertion order.
	Scan(ctx context.Context) ([][]byte, error)
}

// MemoryKVStore is an in-process KVStore, standing in for a browser's
// IndexedDB object store in tests and non-browser embeddings of the
// PersistentKV backend.
type MemoryKVStore struct {
	mu     sync.Mutex
	frames [][]byte
}

// NewMemoryKVStore returns an empty store.
func NewMemoryKVStore() *MemoryKVStore {
	return &MemoryKVStore{}
}

func (s *MemoryKVStore) Append(ctx context.Context, frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(frame))
	copy(buf, frame)
	s.frames = append(s.frames, buf)
	return nil
}

func (s *MemoryKVStore) Scan(ctx context.Context) ([][]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([][]byte, len(s.frames))
	copy(out, s.frames)
	return out, nil
}
