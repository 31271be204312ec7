//go:build !windows

package launch

import (
	"os/exec"
	"syscall"
)

// detachCmd starts the child in a new session so it survives the parent's
// exit and is immune to its SIGHUP.
func detachCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setsid: true}
}
