//go:build unix

// Package sys wraps the OS-level advisory lock the façade takes over an
// account root directory during Save/Load. It replaces sokv's mmap page
// wrappers (MMap/MUnmap/Remap) with a single cross-platform Lock/Unlock
// pair — the concern (an OS-backed exclusive section guarding a
// directory of files) is the same shape, just applied to a directory
// lock file instead of a mapped page range.
package sys

import (
	"os"

	"golang.org/x/sys/unix"
)

// DirLock is an advisory, process-exclusive lock over a directory,
// backed by a `.lock` file inside it.
type DirLock struct {
	file *os.File
}

// LockDir opens (creating if needed) dir/.lock and takes an exclusive
// flock on it. It blocks until the lock is available.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dir+"/.lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX); err != nil {
		f.Close()
		return nil, err
	}
	return &DirLock{file: f}, nil
}

// Unlock releases the lock and closes the backing file.
func (l *DirLock) Unlock() error {
	if l == nil || l.file == nil {
		return nil
	}
	err := unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
