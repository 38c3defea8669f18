//go:build !windows

package runner

import (
	"os/exec"
	"syscall"
)

// isolate puts the child in its own process group so cancellation reaches
// everything it spawned.
func isolate(cmd *exec.Cmd) {
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
}
