//go:build !windows

package discovery

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"
)

// Lock is the cross-process advisory lock on <vitrine-dir>/.server.lock,
// gating the startup race: an exclusive, non-blocking flock(2), held only
// across discovery + PID write, never across the server's entire lifetime.
type Lock struct {
	file *os.File
}

// AcquireLock opens (creating if needed) the lock file and attempts a
// non-blocking exclusive flock. Returns ErrLockHeld if another process
// already holds it — the caller should exit immediately; another starter
// owns the race.
func AcquireLock(vitrineDir string) (*Lock, error) {
	if err := os.MkdirAll(vitrineDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating vitrine dir: %w", err)
	}
	path := lockFilePath(vitrineDir)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, fmt.Errorf("opening lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close()
		return nil, ErrLockHeld
	}
	return &Lock{file: f}, nil
}

// Release drops the flock and closes the underlying file descriptor. The
// lock file itself is left on disk — it is reused by the next starter.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	unix.Flock(int(l.file.Fd()), unix.LOCK_UN)
	return l.file.Close()
}

// IsProcessAlive reports whether pid names a live process, via the POSIX
// null-signal probe (kill(pid, 0)).
func IsProcessAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(unix.Signal(0))
	return err == nil
}

// TerminateProcess sends SIGTERM to pid, used for orphan reclamation.
func TerminateProcess(pid int) error {
	process, err := os.FindProcess(pid)
	if err != nil {
		return err
	}
	return process.Signal(unix.SIGTERM)
}
