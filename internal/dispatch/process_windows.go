//go:build windows

package dispatch

import (
	"os/exec"
	"syscall"
)

// detachCmd starts cmd in its own process group on Windows via
// CREATE_NEW_PROCESS_GROUP, mirroring internal/dispatch/process_unix.go's
// Setpgid on POSIX.
func detachCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200}
}

// terminateCmd kills the child process directly; Windows has no SIGTERM
// equivalent to send to a process group.
func terminateCmd(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}
