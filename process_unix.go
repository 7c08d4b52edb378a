//go:build unix

package kiln

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// isolateProcess starts the command in a process group of its own.
func isolateProcess(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{
		Setpgid: true,
	}
}

// killProcess kills the process group of a command started with isolateProcess.
func killProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		unix.Kill(-cmd.Process.Pid, unix.SIGKILL)
		cmd.Process.Kill()
	}
}
