//go:build !windows

package discovery

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup puts the spawned starter in its own session, so it
// survives the parent CLI invocation exiting.
func detachProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
