package storage

import (
	"errors"
	"fmt"

	"github.com/RichardKnop/storagebackend/pkg/objectid"
)

// Sentinel errors for transaction and session discipline, in the
// teacher's style of package-level err vars (see minisql's
// errTableDoesNotExist and friends).
var (
	ErrDatabaseOccupied                = errors.New("database occupied")
	ErrNotAValidDatabase               = errors.New("not a valid database")
	ErrCannotWriteDbWithoutTransaction = errors.New("cannot write db without transaction")
	ErrRollbackNotInTransaction        = errors.New("rollback called without an active transaction")
	ErrBusy                            = errors.New("a transaction is already active")
	ErrWriteWithSession                = errors.New("write_page must not be called with a session; writes go through the anonymous write transaction")
	ErrPageOutOfRange                  = errors.New("page id is beyond the logical database size")
)

// VersionMismatchError is returned when an opened file's header
// version bytes do not match the library's expected version.
type VersionMismatchError struct {
	Expected [4]byte
	Actual   [4]byte
}

func (e *VersionMismatchError) Error() string {
	return fmt.Sprintf("database version mismatch: expected %v, got %v", e.Expected, e.Actual)
}

// InvalidSessionError is returned when an operation references a
// session id that is not currently registered with the backend.
type InvalidSessionError struct {
	ID objectid.ID
}

func (e *InvalidSessionError) Error() string {
	return fmt.Sprintf("invalid session: %s", e.ID)
}
