//go:build !windows

package storage

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

// lockFile takes a non-blocking exclusive advisory lock on f, grounded
// on bbolt's db.go POSIX flock path (syscall.Flock(fd, LOCK_EX)). A
// held lock anywhere else on the system surfaces as ErrDatabaseOccupied
// rather than blocking the caller.
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if errors.Is(err, unix.EWOULDBLOCK) {
		return ErrDatabaseOccupied
	}
	if err != nil {
		return err
	}
	return nil
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
