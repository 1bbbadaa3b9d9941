//go:build windows

package discovery

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/windows"
)

// Lock uses an exclusive-CreateFile approach: opening the lock file with no
// share mode fails for any second opener, which stands in for flock(2) on
// this platform.
type Lock struct {
	handle windows.Handle
}

// AcquireLock opens <vitrine-dir>/.server.lock with exclusive access.
// Returns ErrLockHeld if another process already has it open.
func AcquireLock(vitrineDir string) (*Lock, error) {
	if err := os.MkdirAll(vitrineDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vitrine dir: %w", err)
	}
	path := lockFilePath(vitrineDir)
	pathPtr, err := syscall.UTF16PtrFromString(path)
	if err != nil {
		return nil, fmt.Errorf("converting lock path: %w", err)
	}
	handle, err := windows.CreateFile(
		pathPtr,
		windows.GENERIC_READ|windows.GENERIC_WRITE,
		0,
		nil,
		windows.CREATE_ALWAYS,
		windows.FILE_ATTRIBUTE_NORMAL,
		0,
	)
	if err != nil {
		return nil, ErrLockHeld
	}
	return &Lock{handle: handle}, nil
}

// Release closes the lock handle.
func (l *Lock) Release() error {
	if l == nil || l.handle == 0 {
		return nil
	}
	err := windows.CloseHandle(l.handle)
	l.handle = 0
	return err
}

// IsProcessAlive reports whether pid names a live process.
func IsProcessAlive(pid int) bool {
	handle, err := windows.OpenProcess(windows.PROCESS_QUERY_LIMITED_INFORMATION, false, uint32(pid))
	if err != nil {
		return false
	}
	defer windows.CloseHandle(handle)
	return true
}

// TerminateProcess is a no-op on Windows: orphan reclamation via
// lsof+SIGTERM is skipped on this platform.
func TerminateProcess(pid int) error {
	return nil
}
