// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package osdelegate declares the capability set the decision engine and
// pipeline consume from the host operating system: interface/DNS/gateway
// checks, process lookup by 5-tuple, and the redirection destination IP.
// Concrete implementations live in per-OS subpackages; the core never
// branches on GOOS.
package osdelegate

import (
	"net/netip"

	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
)

// Delegate is the capability set the decision engine needs from the host OS. It is
// supplied by reference at construction time rather than via multiple
// inheritance or a singleton.
type Delegate interface {
	// CheckActiveEthernetAdapters reports whether at least one interface is up.
	CheckActiveEthernetAdapters() bool
	// CheckIPAddresses reports whether at least one interface has an address.
	CheckIPAddresses() bool
	// CheckGateways reports whether at least one interface has a gateway set.
	CheckGateways() bool
	// FixGateway attempts to configure a missing default gateway.
	FixGateway() bool
	// CheckDNSServers reports whether a DNS server is configured.
	CheckDNSServers() bool
	// FixDNS attempts to configure a missing DNS server.
	FixDNS() bool

	// GetPidComm discovers the owning process of a packet's 5-tuple. ok is
	// false if no owning process could be identified; this is a normal
	// condition (e.g. a foreign packet), not an error.
	GetPidComm(pkt *packetview.View) (pid uint32, comm string, ok bool)

	// NewDestIP supplies the redirection target for a foreign destination
	// originating from srcIP: loopback on Linux, an external interface IP on
	// Windows (loopback is not routable there for externally-originated
	// traffic).
	NewDestIP(srcIP netip.Addr) netip.Addr

	// IsLocal reports whether ip is one of this host's addresses for the
	// given IP version (4 or 6).
	IsLocal(ipver int, ip netip.Addr) bool

	// PID returns the diverter's own process ID, used by the FTP
	// active-mode hack and the "never divert our own traffic" rule.
	PID() uint32
}
