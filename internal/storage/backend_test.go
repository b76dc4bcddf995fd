package storage_test

import "github.com/RichardKnop/storagebackend/internal/storage"

// Compile-time assertions that every substrate satisfies the shared
// Backend facade.
var (
	_ storage.Backend = (*storage.FileBackend)(nil)
	_ storage.Backend = (*storage.MemoryBackend)(nil)
	_ storage.Backend = (*storage.PersistentKVBackend)(nil)
)
