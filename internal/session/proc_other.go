//go:build !unix

package session

import "os/exec"

func preparePipe(cmd *exec.Cmd) {}

func killGroup(cmd *exec.Cmd) error {
	if cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

func hangup(cmd *exec.Cmd) error { return killGroup(cmd) }
