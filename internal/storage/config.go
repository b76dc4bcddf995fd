package storage

import "fmt"

// Config carries the knobs that control how a backend opens and
// maintains its on-disk (or in-memory) store. Mirrors the original
// source's polodb_core::Config, which minisql itself never needed
// since it hardcodes a single page size and has no journal.
type Config struct {
	// InitBlockCount is the number of pages pre-allocated when a file
	// backend creates a brand new database file.
	InitBlockCount uint64
	// JournalFullSize is the journal length, in bytes, at which a
	// commit triggers a checkpoint (provided no session is alive).
	JournalFullSize uint64
	// CheckDBVersion, when true, verifies the on-disk version bytes
	// against DatabaseVersion on a non-empty file open.
	CheckDBVersion bool
	// PageSize is the fixed page width in bytes. Must be a positive
	// power of two. Immutable once a store has been created.
	PageSize uint32
}

// DefaultConfig returns the default configuration: 16 pages
// pre-allocated, a 1000-page journal-full threshold, version checking
// enabled, and a 4096-byte page size.
func DefaultConfig() Config {
	return Config{
		InitBlockCount:  16,
		JournalFullSize: 1000 * DefaultPageSize,
		CheckDBVersion:  true,
		PageSize:        DefaultPageSize,
	}
}

// Validate checks the configuration is internally consistent.
func (c Config) Validate() error {
	if c.InitBlockCount == 0 {
		return fmt.Errorf("init block count must be at least 1")
	}
	if c.PageSize == 0 || c.PageSize&(c.PageSize-1) != 0 {
		return fmt.Errorf("page size must be a positive power of two, got %d", c.PageSize)
	}
	return nil
}
