// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package execcmd

import (
	"github.com/wangwu0705/flare-fakenet-ng/internal/decision"
	"github.com/wangwu0705/flare-fakenet-ng/internal/logging"
	"github.com/wangwu0705/flare-fakenet-ng/internal/metrics"
	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
)

// Runner launches the execute command configured for a listener's newly
// observed sessions. A single Runner is shared across every listener; the
// template to substitute is supplied per call since it varies by port.
type Runner struct {
	Logger  *logging.Logger
	Metrics *metrics.Metrics
}

// Run substitutes the session's slots into template and launches it
// detached. Launch failures are logged, never propagated: a misbehaving
// execute command must not stall packet processing.
func (r *Runner) Run(template string, pkt *packetview.View, pid decision.PidInfo) {
	line := BuildCommand(template, SlotsFor(pkt, pid))
	launchedPID, err := Launch(line)
	if err != nil {
		r.Logger.Warnf("execute command failed to launch: %v", err)
		if r.Metrics != nil {
			r.Metrics.ExecuteCommandErrors.Inc()
		}
		return
	}
	r.Logger.Debugf(logging.DCB, "launched execute command pid=%d: %s", launchedPID, line)
	if r.Metrics != nil {
		r.Metrics.ExecuteCommandsLaunched.Inc()
	}
}
