//go:build !unix

package kiln

import (
	"os/exec"
)

func isolateProcess(cmd *exec.Cmd) {}

func killProcess(cmd *exec.Cmd) {
	if cmd.Process != nil {
		cmd.Process.Kill()
	}
}
