// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build windows
// +build windows

package execcmd

import (
	"os/exec"
	"syscall"
)

const detachedProcess = 0x00000008

// Launch starts line as a detached subprocess via cmd.exe, flagged
// DETACHED_PROCESS so it survives the diverter process group and never
// inherits a console to interrupt.
func Launch(line string) (pid uint32, err error) {
	cmd := exec.Command("cmd.exe", "/C", line)
	cmd.SysProcAttr = &syscall.SysProcAttr{CreationFlags: detachedProcess}
	if err := cmd.Start(); err != nil {
		return 0, err
	}
	return uint32(cmd.Process.Pid), nil
}
