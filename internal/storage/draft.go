package storage

// SnapshotDraft is a mutable, single-owner overlay on top of an
// immutable Snapshot. Reads consult the overlay first, then fall
// through to the base snapshot; writes only ever touch the overlay,
// so the base is never mutated in place. Committing merges the
// overlay into a new Snapshot and returns the dirty-page set, grounded
// on the original source's DbSnapshotDraft::commit.
type SnapshotDraft struct {
	base       Snapshot
	overlay    map[uint32]*RawPage
	dbFileSize uint64
}

// NewSnapshotDraft opens a draft layered on top of base.
func NewSnapshotDraft(base Snapshot) *SnapshotDraft {
	return &SnapshotDraft{
		base:       base,
		overlay:    make(map[uint32]*RawPage),
		dbFileSize: base.dbFileSize,
	}
}

// ReadPage returns the overlay's version of pageID if it has been
// written in this draft, else falls through to the base snapshot.
func (d *SnapshotDraft) ReadPage(pageID uint32) (*RawPage, bool) {
	if page, ok := d.overlay[pageID]; ok {
		return page, true
	}
	return d.base.ReadPage(pageID)
}

// WritePage inserts page into the overlay, replacing any prior write
// to the same page id within this draft.
func (d *SnapshotDraft) WritePage(page *RawPage) {
	d.overlay[page.PageID] = page
}

// DBFileSize returns the draft's current logical database size,
// which set_db_size may have advanced past the base snapshot's.
func (d *SnapshotDraft) DBFileSize() uint64 {
	return d.dbFileSize
}

// SetDBFileSize updates the draft's logical database size.
func (d *SnapshotDraft) SetDBFileSize(size uint64) {
	d.dbFileSize = size
}

// Commit merges the overlay into a new Snapshot built on top of base,
// returning the new snapshot and the overlay contents as the dirty
// page set. The draft must not be used again afterwards.
func (d *SnapshotDraft) Commit() (Snapshot, map[uint32]*RawPage) {
	pages := d.base.pages
	for pageID, page := range d.overlay {
		pages = pages.Set(pageID, page)
	}
	return d.base.withPages(pages, d.dbFileSize), d.overlay
}
