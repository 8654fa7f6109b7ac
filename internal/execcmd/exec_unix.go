// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build !windows
// +build !windows

package execcmd

import (
	"os/exec"
	"syscall"
)

// Launch starts line as a detached subprocess of the host shell. The child is
// placed in its own process group so a SIGINT delivered to the diverter's
// foreground process group does not propagate to it, and the diverter never
// waits on or reaps it: once started, the launched process is the listener's
// responsibility, not ours.
func Launch(line string) (pid uint32, err error) {
	cmd := exec.Command("/bin/sh", "-c", line)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return uint32(cmd.Process.Pid), nil
}
