//go:build windows

package lockmgr

import (
	"errors"
	"os"

	"golang.org/x/sys/windows"
)

var errWouldBlock = errors.New("lock is held by another process")

// The locked byte lies far past the JSON body so other processes can still
// read holder info.
const lockOffsetHigh = 0x7fffffff

func overlapped() *windows.Overlapped {
	return &windows.Overlapped{OffsetHigh: lockOffsetHigh}
}

func lockFile(f *os.File) error {
	err := windows.LockFileEx(windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK|windows.LOCKFILE_FAIL_IMMEDIATELY, 0, 1, 0, overlapped())
	if err == windows.ERROR_LOCK_VIOLATION {
		return errWouldBlock
	}
	return err
}

func unlockFile(f *os.File) error {
	return windows.UnlockFileEx(windows.Handle(f.Fd()), 0, 1, 0, overlapped())
}

// releaseFile closes before removing: Windows refuses to delete open files.
// If a waiter already has the file open the remove fails and the file stays
// behind for that waiter, which now holds the OS lock.
func releaseFile(f *os.File, path string) error {
	unErr := unlockFile(f)
	clErr := f.Close()
	_ = os.Remove(path)
	if unErr != nil {
		return unErr
	}
	return clErr
}

func isProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	h, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	windows.CloseHandle(h)
	return true
}
