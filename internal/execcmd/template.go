// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package execcmd builds and launches the per-listener execute commands
// configured for a redirected session, substituting the packet's session
// attributes into a command template and spawning it detached from the
// diverter's own process group.
package execcmd

import (
	"strconv"
	"strings"

	"github.com/wangwu0705/flare-fakenet-ng/internal/decision"
	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
)

// Slots names the six substitution points a command template may reference.
type Slots struct {
	PID      uint32
	ProcName string
	SrcAddr  string
	SrcPort  uint16
	DstAddr  string
	DstPort  uint16
}

// SlotsFor derives the substitution slots for one session from the packet
// that started it and the process that owns it.
func SlotsFor(pkt *packetview.View, pid decision.PidInfo) Slots {
	return Slots{
		PID:      pid.PID,
		ProcName: pid.Comm,
		SrcAddr:  pkt.SrcIP().String(),
		SrcPort:  pkt.SPort(),
		DstAddr:  pkt.DstIP().String(),
		DstPort:  pkt.DPort(),
	}
}

// BuildCommand substitutes the six named slots into template. An unset
// ProcName substitutes as the empty string, matching an unidentified process.
func BuildCommand(template string, s Slots) string {
	r := strings.NewReplacer(
		"{pid}", strconv.FormatUint(uint64(s.PID), 10),
		"{procname}", s.ProcName,
		"{src_addr}", s.SrcAddr,
		"{src_port}", strconv.FormatUint(uint64(s.SrcPort), 10),
		"{dst_addr}", s.DstAddr,
		"{dst_port}", strconv.FormatUint(uint64(s.DstPort), 10),
	)
	return r.Replace(template)
}
