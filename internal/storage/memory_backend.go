package storage

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/RichardKnop/storagebackend/pkg/objectid"
)

// MemoryBackend is the volatile substrate: every page lives in an
// immutable, structurally-shared snapshot map, and writes accumulate
// in a SnapshotDraft overlay until commit. Grounded on the original
// source's memory_backend.rs (MemoryBackendInner), reworked around
// this package's Snapshot/SnapshotDraft/Transaction types instead of
// a Rust im::OrdMap.
type MemoryBackend struct {
	mu     sync.Mutex
	logger *zap.SugaredLogger

	committed Snapshot
	active    *Transaction

	sessions sessionTable[*Transaction]
}

// NewMemoryBackend creates an empty database of cfg.InitBlockCount
// pages and force-writes the header page into it before returning,
// mirroring the original source's force_write_first_block: the header
// must be visible before any user page, so it is written via a draft
// committed directly here rather than left for the first caller's
// transaction.
func NewMemoryBackend(cfg Config, logger *zap.Logger) (*MemoryBackend, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	initialSize := cfg.InitBlockCount * uint64(cfg.PageSize)

	draft := NewSnapshotDraft(NewSnapshot(cfg.PageSize, initialSize))
	draft.WritePage(&InitHeaderPage(cfg.PageSize).RawPage)
	committed, _ := draft.Commit()

	return &MemoryBackend{
		logger:    logger.Sugar(),
		committed: committed,
		sessions:  newSessionTable[*Transaction](),
	}, nil
}

func (b *MemoryBackend) draftOrCommitted() (*SnapshotDraft, Snapshot) {
	if b.active != nil {
		return b.active.Draft, Snapshot{}
	}
	return nil, b.committed
}

// readFrom resolves pageID against either a draft overlay or a bare
// committed snapshot, zero-filling pages that are within range but
// have never been written, and erroring on pages beyond the logical
// database size.
func readFrom(draft *SnapshotDraft, committed Snapshot, pageID uint32, pageSize uint32) (*RawPage, error) {
	var dbFileSize uint64
	var page *RawPage
	var ok bool

	if draft != nil {
		dbFileSize = draft.DBFileSize()
		page, ok = draft.ReadPage(pageID)
	} else {
		dbFileSize = committed.DBFileSize()
		page, ok = committed.ReadPage(pageID)
	}

	if uint64(pageID)*uint64(pageSize) >= dbFileSize {
		return nil, ErrPageOutOfRange
	}
	if ok {
		return page, nil
	}
	return NewRawPage(pageID, pageSize), nil
}

func (b *MemoryBackend) ReadPage(ctx context.Context, pageID uint32, session *objectid.ID) (*RawPage, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if session != nil {
		txn, ok := b.sessions.get(*session)
		if !ok {
			return nil, &InvalidSessionError{ID: *session}
		}
		return readFrom(txn.Draft, Snapshot{}, pageID, b.committed.PageSize())
	}

	draft, committed := b.draftOrCommitted()
	return readFrom(draft, committed, pageID, b.committed.PageSize())
}

func (b *MemoryBackend) WritePage(ctx context.Context, page *RawPage, session *objectid.ID) error {
	if session != nil {
		return ErrWriteWithSession
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil || b.active.Type != Write {
		return ErrCannotWriteDbWithoutTransaction
	}

	b.active.Draft.WritePage(page)

	extent := (uint64(page.PageID) + 1) * uint64(b.committed.PageSize())
	if extent > b.active.Draft.DBFileSize() {
		b.active.Draft.SetDBFileSize(extent)
	}

	return nil
}

func (b *MemoryBackend) StartTransaction(ctx context.Context, ty TransactionType) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		return ErrBusy
	}
	b.active = NewTransaction(ty, b.committed)
	b.logger.Debugw("started memory transaction", "type", ty.String())
	return nil
}

func (b *MemoryBackend) UpgradeReadToWrite(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil || b.active.Type != Read {
		return ErrCannotWriteDbWithoutTransaction
	}
	b.active.Type = Write
	return nil
}

func (b *MemoryBackend) Commit(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return ErrCannotWriteDbWithoutTransaction
	}

	newSnapshot, dirty := b.active.Draft.Commit()
	b.committed = newSnapshot
	b.active.DirtyPages = dirty
	b.logger.Debugw("committed memory transaction", "dirty_pages", len(dirty))
	b.active = nil
	return nil
}

func (b *MemoryBackend) Rollback(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return ErrRollbackNotInTransaction
	}
	b.active = nil
	return nil
}

func (b *MemoryBackend) DBSize() uint64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active != nil {
		return b.active.Draft.DBFileSize()
	}
	return b.committed.DBFileSize()
}

func (b *MemoryBackend) SetDBSize(ctx context.Context, size uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil || b.active.Type != Write {
		return ErrCannotWriteDbWithoutTransaction
	}
	b.active.Draft.SetDBFileSize(size)
	return nil
}

func (b *MemoryBackend) TransactionType() (TransactionType, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return 0, false
	}
	return b.active.Type, true
}

func (b *MemoryBackend) NewSession(ctx context.Context, id objectid.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessions.set(id, NewTransaction(Read, b.committed))
	return nil
}

func (b *MemoryBackend) RemoveSession(ctx context.Context, id objectid.ID) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessions.remove(id)
	return nil
}

// peekDirty returns a copy of the active write transaction's overlay
// and logical database size without committing it. Used by
// PersistentKVBackend to persist a frame before folding the same
// writes into the in-memory snapshot.
func (b *MemoryBackend) peekDirty() (map[uint32]*RawPage, uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.active == nil {
		return nil, 0, ErrCannotWriteDbWithoutTransaction
	}

	out := make(map[uint32]*RawPage, len(b.active.Draft.overlay))
	for pageID, page := range b.active.Draft.overlay {
		out[pageID] = page
	}
	return out, b.active.Draft.DBFileSize(), nil
}

func (b *MemoryBackend) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.sessions.clear()
	b.active = nil
	return nil
}
