// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package decision implements the diverter's per-packet redirect/masquerade
// state machine: the four stages maybe_redir_ip, maybe_fixup_srcip,
// maybe_redir_port, maybe_fixup_sport, gated by check_should_ignore, and the
// k-map-reduced decide_redir_port predicate. Every stage is a free function
// over the packet view, the compiled policy, and the flow tables — it holds
// no state of its own, so it is safe to call concurrently for distinct
// packets.
package decision

import (
	"net/netip"

	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
	"github.com/wangwu0705/flare-fakenet-ng/internal/flowtables"
	"github.com/wangwu0705/flare-fakenet-ng/internal/osdelegate"
	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
	"github.com/wangwu0705/flare-fakenet-ng/internal/policy"
)

// PidInfo carries the outcome of OSDelegate.GetPidComm for one packet so it
// only needs to be looked up once per packet, in PacketPipeline, and passed
// down to every stage that needs it.
type PidInfo struct {
	PID  uint32
	Comm string
	OK   bool
}

// CheckShouldIgnore is the single predicate consulted by the redirection
// stages. It returns true (leave the packet alone) if any of the gating
// conditions holds. All checks use the packet's pristine (*_0) fields, since
// later stages may have already rewritten the current ones.
func CheckShouldIgnore(pkt *packetview.View, pid PidInfo, pol *policy.Policy, od osdelegate.Delegate) bool {
	proto := flowkey.ParseProto(pkt.Proto)
	srcIP, dstIP := pkt.SrcIP0(), pkt.DstIP0()
	sport, dport := pkt.SPort0(), pkt.DPort0()

	if !pol.RedirectAllTraffic {
		return true
	}

	if pol.SingleHostMode && pid.OK {
		comm := pid.Comm
		if pol.BlacklistProcesses[comm] {
			return true
		}
		if len(pol.WhitelistProcesses) > 0 && !pol.WhitelistProcesses[comm] {
			return true
		}
		if procs, ok := pol.PortProcessBlacklist[proto][dport]; ok && containsString(procs, comm) {
			return true
		}
		if procs, ok := pol.PortProcessWhitelist[proto][dport]; ok && !containsString(procs, comm) {
			return true
		}
	}

	if pol.PortBlacklisted(proto, sport) || pol.PortBlacklisted(proto, dport) {
		return true
	}

	if pol.BlacklistHosts[dstIP.String()] {
		return true
	}

	if hosts, ok := pol.PortHostWhitelist[proto][dport]; ok && !containsString(hosts, dstIP.String()) {
		return true
	}
	if hosts, ok := pol.PortHostBlacklist[proto][dport]; ok && containsString(hosts, dstIP.String()) {
		return true
	}

	// FTP active-mode hack: a packet originated by the diverter process
	// itself, between two local non-loopback endpoints, on an unbound
	// source and destination port,
	// signals the listener opening an active-mode data connection. Blacklist
	// the source port so the reply traffic is left alone, then unconditionally
	// ignore any packet the diverter itself originated.
	if pid.OK && pid.PID == od.PID() {
		srcLocal := od.IsLocal(pkt.IPVer, srcIP) && !srcIP.IsLoopback()
		dstLocal := od.IsLocal(pkt.IPVer, dstIP) && !dstIP.IsLoopback()
		sportBound, _ := pol.IsBound(proto, sport)
		dportBound, _ := pol.IsBound(proto, dport)
		if srcLocal && dstLocal && !sportBound && !dportBound {
			pol.BlacklistPort(proto, sport)
		}
		return true
	}

	return false
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// MaybeRedirIP is stage 1 of layer-3 processing (SingleHost mode only). It
// redirects a foreign destination IP to a local one chosen by the OS
// delegate, recording the original destination in ip_fwd so the reply can be
// unmasked by MaybeFixupSrcIP. In MultiHost mode it is a no-op.
func MaybeRedirIP(pkt *packetview.View, pid PidInfo, pol *policy.Policy, tables *flowtables.Tables, od osdelegate.Delegate) (mutated bool, err error) {
	if !pol.SingleHostMode {
		return false, nil
	}
	if CheckShouldIgnore(pkt, pid, pol, od) {
		return false, nil
	}

	skey := pkt.SKey()
	dstIP := pkt.DstIP()

	if !od.IsLocal(pkt.IPVer, dstIP) {
		tables.IPFwd.Put(skey, dstIP)
		newDst := od.NewDestIP(pkt.SrcIP())
		if err := pkt.SetDstIP(newDst); err != nil {
			return false, err
		}
		return true, nil
	}

	tables.IPFwd.Delete(skey)
	return false, nil
}

// MaybeFixupSrcIP is stage 2 of layer-3 processing (SingleHost mode only). If
// the current destination endpoint corresponds to an ip_fwd entry, the
// source IP is rewritten to the originally-requested foreign address so the
// reply looks like it came from the peer the caller actually targeted.
func MaybeFixupSrcIP(pkt *packetview.View, pol *policy.Policy, tables *flowtables.Tables) (mutated bool, err error) {
	if !pol.SingleHostMode {
		return false, nil
	}
	dkey := pkt.DKey()
	origSrc, ok := tables.IPFwd.Get(dkey)
	if !ok {
		return false, nil
	}
	if err := pkt.SetSrcIP(origSrc); err != nil {
		return false, err
	}
	return true, nil
}

// DecideRedirPort is the k-map-reduced redirect decision: a pure function of
// source locality and the boundness of the source and destination ports.
func DecideRedirPort(ipver int, srcIP netip.Addr, sport, dport uint16, proto flowkey.Proto, pol *policy.Policy, od osdelegate.Delegate) bool {
	srcLocal := od.IsLocal(ipver, srcIP)
	sportBound, _ := pol.IsBound(proto, sport)
	dportBound, _ := pol.IsBound(proto, dport)

	return (!srcLocal && !dportBound) || (!sportBound && !dportBound)
}

// MaybeRedirPort is the layer-4 redirect stage.
func MaybeRedirPort(pkt *packetview.View, pid PidInfo, pol *policy.Policy, tables *flowtables.Tables, od osdelegate.Delegate, onNewSession func(*packetview.View, PidInfo)) (mutated bool, err error) {
	proto := flowkey.ParseProto(pkt.Proto)
	defaultPort, ok := pol.DefaultListener[proto]
	if !ok || defaultPort == 0 {
		return false, nil
	}

	dkey := pkt.DKey()
	if tables.PortFwd.Contains(dkey) {
		// This is a reply in an already-masqueraded conversation.
		return false, nil
	}

	_, hidden := pol.IsBound(proto, pkt.DPort())
	redirect := hidden || DecideRedirPort(pkt.IPVer, pkt.SrcIP(), pkt.SPort(), pkt.DPort(), proto, pol, od)

	skey := pkt.SKey()

	if !redirect {
		tables.PortFwd.Delete(skey)
	} else {
		if v, ok := tables.Ignore.Get(dkey); ok && v == pkt.SPort() {
			return false, nil
		}
		if CheckShouldIgnore(pkt, pid, pol, od) {
			tables.Ignore.Put(skey, pkt.DPort())
			return false, nil
		}

		tables.PortFwd.Put(skey, pkt.DPort())
		if err := pkt.SetDPort(defaultPort); err != nil {
			return false, err
		}
		mutated = true
	}

	current, seen := tables.Sessions.Get(pkt.SPort())
	isNew := !seen || current.IP != pkt.DstIP() || current.Port != pkt.DPort()
	if isNew {
		tables.Sessions.Put(pkt.SPort(), pkt.DstIP(), pkt.DPort())
		if onNewSession != nil {
			onNewSession(pkt, pid)
		}
	}

	return mutated, nil
}

// MaybeFixupSport is the layer-4 masquerade-fixup stage: if the current
// destination endpoint corresponds to a port_fwd entry, the source port is
// rewritten to the original port the foreign endpoint was told it was
// talking to.
func MaybeFixupSport(pkt *packetview.View, tables *flowtables.Tables) (mutated bool, err error) {
	dkey := pkt.DKey()
	origPort, ok := tables.PortFwd.Get(dkey)
	if !ok {
		return false, nil
	}
	if err := pkt.SetSPort(origPort); err != nil {
		return false, err
	}
	return true, nil
}
