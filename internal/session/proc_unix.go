//go:build unix

package session

import (
	"os/exec"
	"syscall"

	"golang.org/x/sys/unix"
)

// preparePipe puts a piped child in its own process group so Close can take down
// anything it forked. pty children get a new session (and group) from pty.Start.
func preparePipe(cmd *exec.Cmd) {
	if cmd.SysProcAttr == nil {
		cmd.SysProcAttr = &syscall.SysProcAttr{}
	}
	cmd.SysProcAttr.Setpgid = true
}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	pid := cmd.Process.Pid
	if err := unix.Kill(-pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
		return cmd.Process.Kill()
	}
	return nil
}

// hangup asks the group to exit the way a closed terminal would.
func hangup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	err := unix.Kill(-cmd.Process.Pid, unix.SIGHUP)
	if err == unix.ESRCH {
		return nil
	}
	return err
}
