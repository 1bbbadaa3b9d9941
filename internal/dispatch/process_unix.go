//go:build !windows

package dispatch

import (
	"os/exec"
	"syscall"
)

// detachCmd starts cmd in its own process group so that terminating the
// dispatch doesn't also signal whatever spawned vitrine itself.
func detachCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
}

// terminateCmd sends SIGTERM to the child's entire process group.
func terminateCmd(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
}
