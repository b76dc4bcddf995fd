package storage

import (
	"context"

	"github.com/RichardKnop/storagebackend/pkg/objectid"
)

// AutoStartResult is carried over from the original source's
// backend::AutoStartResult marker. It exists so a future auto-start
// facade (a caller invoking write_page/read_page without an explicit
// start_transaction) has somewhere to report whether it silently
// opened a transaction on the caller's behalf. No operation in this
// layer's spec currently drives it; it is not exercised by any
// backend method, left here to document the extension point rather
// than silently dropped.
type AutoStartResult struct {
	AutoStart bool
}

// Backend is the polymorphic facade implemented by the File, Memory
// and PersistentKV substrates. Every operation is logically exercised
// through a single mutex per instance; see internal/storage's
// *_backend.go files for the per-substrate locking.
type Backend interface {
	// ReadPage returns the page for pageID visible to session, or to
	// the current write transaction / last committed state if
	// session is nil. A page within the logical database size that
	// has never been written returns a zero-filled page; a page
	// beyond it is an error.
	ReadPage(ctx context.Context, pageID uint32, session *objectid.ID) (*RawPage, error)

	// WritePage buffers page into the active write transaction.
	// session must be nil; passing a session id is a programming
	// error (ErrWriteWithSession), per spec.md's Open Question.
	WritePage(ctx context.Context, page *RawPage, session *objectid.ID) error

	// StartTransaction opens a transaction of the given type. Fails
	// with ErrBusy if any transaction (read or write) is already active.
	StartTransaction(ctx context.Context, ty TransactionType) error

	// UpgradeReadToWrite lifts the active read transaction to a
	// write transaction, discarding any reads cached as part of it.
	UpgradeReadToWrite(ctx context.Context) error

	// Commit publishes the active transaction's writes atomically.
	// The file backend may additionally checkpoint.
	Commit(ctx context.Context) error

	// Rollback discards the active transaction.
	Rollback(ctx context.Context) error

	// DBSize returns the logical database size in bytes.
	DBSize() uint64

	// SetDBSize adjusts the logical database size. Only meaningful
	// within an active write transaction.
	SetDBSize(ctx context.Context, size uint64) error

	// TransactionType reports the kind of the currently active
	// transaction, if any.
	TransactionType() (TransactionType, bool)

	// NewSession pins a read session to the current committed state
	// under id.
	NewSession(ctx context.Context, id objectid.ID) error

	// RemoveSession releases the session pinned under id. Idempotent.
	RemoveSession(ctx context.Context, id objectid.ID) error

	// Close releases the backend's resources: sessions, locks, and
	// (for the file backend) a best-effort final checkpoint.
	Close() error
}
