// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pipeline wires the decision-engine stages into the fixed
// per-packet order the diverter applies to every intercepted datagram.
package pipeline

import (
	"github.com/wangwu0705/flare-fakenet-ng/internal/decision"
	"github.com/wangwu0705/flare-fakenet-ng/internal/flowtables"
	"github.com/wangwu0705/flare-fakenet-ng/internal/logging"
	"github.com/wangwu0705/flare-fakenet-ng/internal/metrics"
	"github.com/wangwu0705/flare-fakenet-ng/internal/osdelegate"
	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
	"github.com/wangwu0705/flare-fakenet-ng/internal/policy"
)

// PcapWriter is the narrow capability the pipeline needs from the capture
// backend: write raw octets for a packet observation. Implemented by
// internal/capture/pcapwriter.
type PcapWriter interface {
	WritePacket(octets []byte) error
}

// SessionHook is invoked the first time a session's tracked destination
// changes, so the caller can fire an execute-command rule.
type SessionHook func(pkt *packetview.View, pid decision.PidInfo)

// Pipeline processes one packet at a time through the fixed stage order: a
// pristine pcap write, L3 redirect/fixup (SingleHost mode only), the
// loopback skip, L4 redirect/fixup, and a second pcap write if anything
// mangled the packet.
type Pipeline struct {
	Policy       *policy.Policy
	Tables       *flowtables.Tables
	Delegate     osdelegate.Delegate
	Logger       *logging.Logger
	Pcap         PcapWriter
	Metrics      *metrics.Metrics
	OnNewSession SessionHook
}

// New constructs a Pipeline from its required collaborators. m may be nil,
// in which case metrics are skipped.
func New(pol *policy.Policy, tables *flowtables.Tables, delegate osdelegate.Delegate, logger *logging.Logger, pcap PcapWriter, m *metrics.Metrics) *Pipeline {
	return &Pipeline{Policy: pol, Tables: tables, Delegate: delegate, Logger: logger, Pcap: pcap, Metrics: m}
}

// Process runs one datagram's octets through the full pipeline and returns
// the (possibly rewritten) octets to hand back to the capture backend for
// reinjection or verdict.
func (p *Pipeline) Process(octets []byte) ([]byte, error) {
	view, parseErr := packetview.New(octets)

	if p.Pcap != nil {
		if err := p.Pcap.WritePacket(view.Octets()); err != nil {
			p.Logger.Warnf("pcap write failed: %v", err)
		}
	}

	if parseErr != nil {
		p.Logger.Debugf(logging.DGenPkt, "failed to parse packet, passing through unmodified: %v", parseErr)
		if p.Metrics != nil {
			p.Metrics.PacketsParseFailed.Inc()
		}
		return view.Octets(), nil
	}

	pid := p.lookupPid(view)

	if view.IsICMP() {
		p.Logger.Debugf(logging.DGenPkt, "ICMP type=%d code=%d %s -> %s", view.ICMPType, view.ICMPCode, view.SrcIP0(), view.DstIP0())
	}
	if _, err := decision.MaybeRedirIP(view, pid, p.Policy, p.Tables, p.Delegate); err != nil {
		return nil, err
	}
	if _, err := decision.MaybeFixupSrcIP(view, p.Policy, p.Tables); err != nil {
		return nil, err
	}

	loopback := view.SrcIP().IsLoopback() && view.DstIP().IsLoopback()
	if !loopback && (view.Proto == "TCP" || view.Proto == "UDP") {
		if _, err := decision.MaybeRedirPort(view, pid, p.Policy, p.Tables, p.Delegate, func(v *packetview.View, pi decision.PidInfo) {
			if session, ok := p.Tables.Sessions.Get(v.SPort()); ok {
				p.Logger.Debugf(logging.DSession, "new session %s: %s:%d -> %s:%d (pid=%d comm=%s)",
					session.ID, v.SrcIP0(), v.SPort0(), v.DstIP0(), v.DPort0(), pi.PID, pi.Comm)
			}
			if p.OnNewSession != nil {
				p.OnNewSession(v, pi)
			}
		}); err != nil {
			return nil, err
		}
		if _, err := decision.MaybeFixupSport(view, p.Tables); err != nil {
			return nil, err
		}
	}

	if view.Mangled {
		if p.Pcap != nil {
			if err := p.Pcap.WritePacket(view.Octets()); err != nil {
				p.Logger.Warnf("pcap write of mangled packet failed: %v", err)
			}
		}
		if p.Metrics != nil {
			p.Metrics.PacketsMangled.WithLabelValues(view.Proto).Inc()
		}
	}

	return view.Octets(), nil
}

func (p *Pipeline) lookupPid(view *packetview.View) decision.PidInfo {
	pid, comm, ok := p.Delegate.GetPidComm(view)
	return decision.PidInfo{PID: pid, Comm: comm, OK: ok}
}

// RefreshTableGauges updates the table-size gauges from the current flow
// table contents. Cheap enough to call on a short ticker; the pipeline
// itself never calls this, since the hot path should not pay for metrics
// collection on every packet.
func (p *Pipeline) RefreshTableGauges() {
	if p.Metrics == nil {
		return
	}
	p.Metrics.SessionTableSize.Set(float64(p.Tables.Sessions.Len()))
	p.Metrics.IPFwdTableSize.Set(float64(p.Tables.IPFwd.Len()))
	p.Metrics.PortFwdTableSize.Set(float64(p.Tables.PortFwd.Len()))
	p.Metrics.IgnoreTableSize.Set(float64(p.Tables.Ignore.Len()))
}
