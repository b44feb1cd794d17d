//go:build windows

package sys

import (
	"os"

	"golang.org/x/sys/windows"
)

// DirLock is an advisory, process-exclusive lock over a directory,
// backed by a `.lock` file inside it.
type DirLock struct {
	file *os.File
}

// LockDir opens (creating if needed) dir/.lock and takes an exclusive
// byte-range lock on it via LockFileEx, blocking until available. It is
// the Windows counterpart of sys_unix.go's flock-based implementation.
func LockDir(dir string) (*DirLock, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(dir+"\\.lock", os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	ol := new(windows.Overlapped)
	err = windows.LockFileEx(
		windows.Handle(f.Fd()),
		windows.LOCKFILE_EXCLUSIVE_LOCK,
		0,
		1, 0,
		ol,
	)
	if err != nil {
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
	ol := new(windows.Overlapped)
	err := windows.UnlockFileEx(windows.Handle(l.file.Fd()), 0, 1, 0, ol)
	closeErr := l.file.Close()
	l.file = nil
	if err != nil {
		return err
	}
	return closeErr
}
