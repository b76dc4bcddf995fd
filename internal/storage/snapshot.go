package storage

import (
	"cmp"

	"github.com/benbjohnson/immutable"
)

// uint32Comparer satisfies immutable.Comparer[uint32] so Snapshot's
// backing map can be ordered by page id.
type uint32Comparer struct{}

func (uint32Comparer) Compare(a, b uint32) int {
	return cmp.Compare(a, b)
}

// Snapshot is an immutable, point-in-time view of every page in the
// store plus the logical database size that was in effect when the
// snapshot was taken. Cloning a Snapshot is O(1): the backing map is
// structurally shared (a persistent sorted map), so a session can hold
// one indefinitely without copying page data.
type Snapshot struct {
	pages      *immutable.SortedMap[uint32, *RawPage]
	dbFileSize uint64
	pageSize   uint32
}

// NewSnapshot returns an empty snapshot with the given logical size
// and page width. Every page id below dbFileSize/pageSize that is
// absent from the map is defined to be an all-zero page.
func NewSnapshot(pageSize uint32, dbFileSize uint64) Snapshot {
	return Snapshot{
		pages:      immutable.NewSortedMap[uint32, *RawPage](uint32Comparer{}),
		dbFileSize: dbFileSize,
		pageSize:   pageSize,
	}
}

// ReadPage returns the page for id if it has been materialized in
// this snapshot. A nil, false result does not necessarily mean the
// page is out of range — callers must separately check DBFileSize to
// distinguish a never-written (zero) page from one beyond the logical
// size.
func (s Snapshot) ReadPage(pageID uint32) (*RawPage, bool) {
	return s.pages.Get(pageID)
}

// DBFileSize returns the logical database size recorded by this
// snapshot, in bytes.
func (s Snapshot) DBFileSize() uint64 {
	return s.dbFileSize
}

// PageSize returns the fixed page width this snapshot was created
// with.
func (s Snapshot) PageSize() uint32 {
	return s.pageSize
}

// withPages returns a new Snapshot sharing structure with s but with
// its page map replaced. Used internally by SnapshotDraft.Commit.
func (s Snapshot) withPages(pages *immutable.SortedMap[uint32, *RawPage], dbFileSize uint64) Snapshot {
	return Snapshot{
		pages:      pages,
		dbFileSize: dbFileSize,
		pageSize:   s.pageSize,
	}
}
