//go:build windows

package launch

import (
	"os/exec"
	"syscall"
)

const createNoWindow = 0x08000000

// detachCmd starts the child in its own process group with no console window.
func detachCmd(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		CreationFlags: syscall.CREATE_NEW_PROCESS_GROUP | createNoWindow,
		HideWindow:    true,
	}
}
