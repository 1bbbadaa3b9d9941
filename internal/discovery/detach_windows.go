//go:build windows

package discovery

import (
	"os/exec"
	"syscall"
)

// detachProcessGroup starts the starter in its own process group on
// Windows, via CREATE_NEW_PROCESS_GROUP, so it outlives the parent CLI.
func detachProcessGroup(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: 0x00000200}
}
