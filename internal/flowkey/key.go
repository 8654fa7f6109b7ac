// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowkey defines the canonical (proto, ip, port) key used to index
// the diverter's flow tables.
package flowkey

import (
	"fmt"
	"net/netip"
)

// Proto names the transport protocol carried by an endpoint key. Only TCP and
// UDP have a value of their own; every other protocol, ICMP included, maps to
// ProtoUnknown. ICMP packets still pass through the layer-3 stages, so ip_fwd
// can hold keys of the form (ProtoUnknown, ip, 0).
type Proto uint8

const (
	ProtoUnknown Proto = iota
	ProtoTCP
	ProtoUDP
)

func (p Proto) String() string {
	switch p {
	case ProtoTCP:
		return "TCP"
	case ProtoUDP:
		return "UDP"
	default:
		return "UNKNOWN"
	}
}

// ParseProto maps a protocol name (case-sensitive, as used throughout
// configuration and the decision engine) to a Proto value.
func ParseProto(name string) Proto {
	switch name {
	case "TCP":
		return ProtoTCP
	case "UDP":
		return ProtoUDP
	default:
		return ProtoUnknown
	}
}

// Key is the canonical (proto, ip, port) identity used by FlowTables.
// It is comparable and usable directly as a map key: two keys are equal iff
// all three fields are byte-for-byte equal.
type Key struct {
	Proto Proto
	IP    netip.Addr
	Port  uint16
}

// New builds a Key from its components.
func New(proto Proto, ip netip.Addr, port uint16) Key {
	return Key{Proto: proto, IP: ip.Unmap(), Port: port}
}

func (k Key) String() string {
	return fmt.Sprintf("%s:%s:%d", k.Proto, k.IP, k.Port)
}

// IsValid reports whether the key has a resolvable protocol and address.
// Packets whose header failed to parse produce a zero Key that must never be
// inserted into a table.
func (k Key) IsValid() bool {
	return k.Proto != ProtoUnknown && k.IP.IsValid()
}
