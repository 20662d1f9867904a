//go:build unix

package lockmgr

import (
	"errors"
	"os"

	"golang.org/x/sys/unix"
)

var errWouldBlock = errors.New("lock is held by another process")

// lockFile takes a non-blocking exclusive flock(2).
func lockFile(f *os.File) error {
	err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB)
	if err == unix.EWOULDBLOCK {
		return errWouldBlock
	}
	return err
}

func unlockFile(f *os.File) error {
	return unix.Flock(int(f.Fd()), unix.LOCK_UN)
}

// releaseFile unlinks path before dropping the lock so no new acquirer can
// lock the old inode and believe it owns the target.
func releaseFile(f *os.File, path string) error {
	rmErr := os.Remove(path)
	if os.IsNotExist(rmErr) {
		rmErr = nil
	}
	unErr := unlockFile(f)
	clErr := f.Close()
	if rmErr != nil {
		return rmErr
	}
	if unErr != nil {
		return unErr
	}
	return clErr
}

// isProcessAlive sends signal 0. EPERM means the process exists under
// another user.
func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	err := unix.Kill(pid, 0)
	return err == nil || err == unix.EPERM
}
