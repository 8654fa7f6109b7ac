// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package procinfo resolves a process name from a PID, the second half of
// OSDelegate.GetPidComm once a platform-specific 5-tuple lookup has produced
// a candidate PID.
package procinfo

import (
	"fmt"

	ps "github.com/mitchellh/go-ps"
)

// CommForPID returns the executable name go-ps reports for pid. ok is false
// if the process could not be found (it may have already exited between the
// 5-tuple lookup and this call — a normal race, not an error).
func CommForPID(pid uint32) (comm string, ok bool) {
	proc, err := ps.FindProcess(int(pid))
	if err != nil || proc == nil {
		return "", false
	}
	return proc.Executable(), true
}

// MustCommForPID is a convenience for debug logging where a missing process
// name is acceptable to render as a placeholder rather than threaded through
// an error return.
func MustCommForPID(pid uint32) string {
	comm, ok := CommForPID(pid)
	if !ok {
		return fmt.Sprintf("<pid %d>", pid)
	}
	return comm
}
