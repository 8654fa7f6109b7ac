// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package policy holds the compiled, mostly-immutable filtering policy the
// decision engine consults on every packet: bound ports, default listeners,
// black/white lists, and per-listener overrides.
package policy

import (
	"sync"

	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
)

// ProcessPortRule is a per-listener process name whitelist or blacklist.
type ProcessPortRule map[flowkey.Proto]map[uint16][]string

// HostPortRule is a per-listener IP-literal whitelist or blacklist.
type HostPortRule map[flowkey.Proto]map[uint16][]string

// ExecuteRule maps proto/port to a command template using the six named
// substitution slots (pid, procname, src_addr, src_port, dst_addr, dst_port).
type ExecuteRule map[flowkey.Proto]map[uint16]string

// Policy is built once at startup by the configuration loader (internal/config)
// and is read-only thereafter from every decision-engine stage, with one
// exception: the FTP active-mode hack in CheckShouldIgnore appends to
// BlacklistPorts at runtime, so that field alone carries a mutex.
type Policy struct {
	// BoundPorts maps port -> hidden flag. A port is "bound" iff it is a key
	// of this map, regardless of its hidden flag.
	BoundPorts map[flowkey.Proto]map[uint16]bool

	// DefaultListener is the catch-all listener port per protocol, or 0 if
	// none is configured for that protocol.
	DefaultListener map[flowkey.Proto]uint16

	blacklistPortsMu sync.RWMutex
	blacklistPorts   map[flowkey.Proto]map[uint16]bool

	BlacklistProcesses map[string]bool
	WhitelistProcesses map[string]bool // empty means "no whitelist"
	BlacklistHosts     map[string]bool

	PortProcessWhitelist ProcessPortRule
	PortProcessBlacklist ProcessPortRule
	PortHostWhitelist    HostPortRule
	PortHostBlacklist    HostPortRule
	PortExecute          ExecuteRule

	RedirectAllTraffic bool
	SingleHostMode     bool
	DumpPackets        bool
	FixGateway         bool
	FixDNS             bool
}

// New returns an empty Policy with all maps initialized, ready for a loader
// to populate.
func New() *Policy {
	return &Policy{
		BoundPorts:           make(map[flowkey.Proto]map[uint16]bool),
		DefaultListener:      make(map[flowkey.Proto]uint16),
		blacklistPorts:       map[flowkey.Proto]map[uint16]bool{flowkey.ProtoTCP: {}, flowkey.ProtoUDP: {}},
		BlacklistProcesses:   make(map[string]bool),
		WhitelistProcesses:   make(map[string]bool),
		BlacklistHosts:       make(map[string]bool),
		PortProcessWhitelist: make(ProcessPortRule),
		PortProcessBlacklist: make(ProcessPortRule),
		PortHostWhitelist:    make(HostPortRule),
		PortHostBlacklist:    make(HostPortRule),
		PortExecute:          make(ExecuteRule),
	}
}

// IsBound reports whether port is bound for proto, and whether that binding
// is hidden.
func (p *Policy) IsBound(proto flowkey.Proto, port uint16) (bound, hidden bool) {
	m, ok := p.BoundPorts[proto]
	if !ok {
		return false, false
	}
	hidden, bound = m[port]
	return bound, hidden
}

// PortBlacklisted reports whether port is in the (possibly runtime-mutated)
// global port blacklist for proto.
func (p *Policy) PortBlacklisted(proto flowkey.Proto, port uint16) bool {
	p.blacklistPortsMu.RLock()
	defer p.blacklistPortsMu.RUnlock()
	return p.blacklistPorts[proto][port]
}

// BlacklistPort adds port to the runtime port blacklist for proto. Used only
// by the FTP active-mode hack in CheckShouldIgnore.
func (p *Policy) BlacklistPort(proto flowkey.Proto, port uint16) {
	p.blacklistPortsMu.Lock()
	defer p.blacklistPortsMu.Unlock()
	if p.blacklistPorts[proto] == nil {
		p.blacklistPorts[proto] = make(map[uint16]bool)
	}
	p.blacklistPorts[proto][port] = true
}

// SetBlacklistPorts replaces the initial configured port blacklist for proto.
// Used by the configuration loader only, before the policy is shared across
// goroutines.
func (p *Policy) SetBlacklistPorts(proto flowkey.Proto, ports []uint16) {
	m := make(map[uint16]bool, len(ports))
	for _, port := range ports {
		m[port] = true
	}
	p.blacklistPortsMu.Lock()
	defer p.blacklistPortsMu.Unlock()
	p.blacklistPorts[proto] = m
}
