// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package packetview implements a mutable view over a single captured IPv4 or
// IPv6 datagram, keeping header checksums consistent across rewrites and
// preserving an immutable snapshot of the packet as it arrived.
package packetview

import (
	"fmt"
	"net/netip"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"

	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
)

// View is constructed once per intercepted datagram by the capture backend
// and destroyed once the pipeline has handed the (possibly rewritten) octets
// back for release or reinjection.
type View struct {
	IPVer int    // 4 or 6
	Proto string // "TCP", "UDP", "ICMP", or "" if unrecognized/unparsed

	octets  []byte
	ip4     *layers.IPv4
	ip6     *layers.IPv6
	tcp     *layers.TCP
	udp     *layers.UDP
	icmp4   *layers.ICMPv4
	icmp6   *layers.ICMPv6
	decoded gopacket.Packet

	// pristine 5-tuple, frozen at construction and never updated.
	srcIP0, dstIP0     netip.Addr
	sport0, dport0     uint16
	ICMPType, ICMPCode uint8

	Mangled bool
}

// ParseError is returned by New when the octets cannot be parsed as an IPv4
// or IPv6 datagram. The caller passes the packet through the pipeline
// unmodified and logs a warning; this is a normal, locally-recovered
// condition, not a fatal one.
type ParseError struct {
	Err error
}

func (e *ParseError) Error() string { return fmt.Sprintf("packetview: parse failed: %v", e.Err) }
func (e *ParseError) Unwrap() error { return e.Err }

// New decodes raw IP octets (DLT_RAW: no link-layer header) captured off the
// wire into a View. On parse failure it returns a degraded View with
// Proto == "" alongside a *ParseError; callers must still be able to write
// the degraded view's Octets() to the capture file and otherwise leave it be.
func New(octets []byte) (*View, error) {
	v := &View{octets: octets}

	if len(octets) == 0 {
		return v, &ParseError{Err: fmt.Errorf("empty packet")}
	}

	version := octets[0] >> 4
	var firstLayer gopacket.LayerType
	switch version {
	case 4:
		v.IPVer = 4
		firstLayer = layers.LayerTypeIPv4
	case 6:
		v.IPVer = 6
		firstLayer = layers.LayerTypeIPv6
	default:
		return v, &ParseError{Err: fmt.Errorf("unrecognized IP version nibble %d", version)}
	}

	packet := gopacket.NewPacket(octets, firstLayer, gopacket.Default)
	if err := packet.ErrorLayer(); err != nil {
		return v, &ParseError{Err: err.Error()}
	}
	v.decoded = packet

	if l := packet.Layer(layers.LayerTypeIPv4); l != nil {
		v.ip4 = l.(*layers.IPv4)
		v.srcIP0, _ = netip.AddrFromSlice(v.ip4.SrcIP.To4())
		v.dstIP0, _ = netip.AddrFromSlice(v.ip4.DstIP.To4())
	}
	if l := packet.Layer(layers.LayerTypeIPv6); l != nil {
		v.ip6 = l.(*layers.IPv6)
		v.srcIP0, _ = netip.AddrFromSlice(v.ip6.SrcIP.To16())
		v.dstIP0, _ = netip.AddrFromSlice(v.ip6.DstIP.To16())
	}

	switch {
	case packet.Layer(layers.LayerTypeTCP) != nil:
		v.tcp = packet.Layer(layers.LayerTypeTCP).(*layers.TCP)
		v.Proto = "TCP"
		v.sport0 = uint16(v.tcp.SrcPort)
		v.dport0 = uint16(v.tcp.DstPort)
	case packet.Layer(layers.LayerTypeUDP) != nil:
		v.udp = packet.Layer(layers.LayerTypeUDP).(*layers.UDP)
		v.Proto = "UDP"
		v.sport0 = uint16(v.udp.SrcPort)
		v.dport0 = uint16(v.udp.DstPort)
	case packet.Layer(layers.LayerTypeICMPv4) != nil:
		v.icmp4 = packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4)
		v.Proto = "ICMP"
		v.ICMPType = uint8(v.icmp4.TypeCode.Type())
		v.ICMPCode = uint8(v.icmp4.TypeCode.Code())
	case packet.Layer(layers.LayerTypeICMPv6) != nil:
		v.icmp6 = packet.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6)
		v.Proto = "ICMP"
		v.ICMPType = uint8(v.icmp6.TypeCode.Type())
		v.ICMPCode = uint8(v.icmp6.TypeCode.Code())
	}

	return v, nil
}

// IsICMP reports whether this packet carries an ICMP header.
func (v *View) IsICMP() bool { return v.Proto == "ICMP" }

// Octets returns the current (possibly mangled) wire form of the packet.
func (v *View) Octets() []byte { return v.octets }

// SrcIP returns the current source address.
func (v *View) SrcIP() netip.Addr {
	if v.ip4 != nil {
		a, _ := netip.AddrFromSlice(v.ip4.SrcIP.To4())
		return a
	}
	if v.ip6 != nil {
		a, _ := netip.AddrFromSlice(v.ip6.SrcIP.To16())
		return a
	}
	return netip.Addr{}
}

// DstIP returns the current destination address.
func (v *View) DstIP() netip.Addr {
	if v.ip4 != nil {
		a, _ := netip.AddrFromSlice(v.ip4.DstIP.To4())
		return a
	}
	if v.ip6 != nil {
		a, _ := netip.AddrFromSlice(v.ip6.DstIP.To16())
		return a
	}
	return netip.Addr{}
}

// SPort returns the current source port, or 0 if this is not a TCP/UDP packet.
func (v *View) SPort() uint16 {
	switch {
	case v.tcp != nil:
		return uint16(v.tcp.SrcPort)
	case v.udp != nil:
		return uint16(v.udp.SrcPort)
	default:
		return 0
	}
}

// DPort returns the current destination port, or 0 if this is not a TCP/UDP packet.
func (v *View) DPort() uint16 {
	switch {
	case v.tcp != nil:
		return uint16(v.tcp.DstPort)
	case v.udp != nil:
		return uint16(v.udp.DstPort)
	default:
		return 0
	}
}

// SrcIP0, DstIP0, SPort0, DPort0 return the pristine 5-tuple captured at
// construction; they never change for the lifetime of the View.
func (v *View) SrcIP0() netip.Addr { return v.srcIP0 }
func (v *View) DstIP0() netip.Addr { return v.dstIP0 }
func (v *View) SPort0() uint16     { return v.sport0 }
func (v *View) DPort0() uint16     { return v.dport0 }

// SKey returns the canonical endpoint key for the current source endpoint.
// It must be re-derived after any rewrite: it is a function of current, not
// pristine, fields.
func (v *View) SKey() flowkey.Key {
	return flowkey.New(flowkey.ParseProto(v.Proto), v.SrcIP(), v.SPort())
}

// DKey returns the canonical endpoint key for the current destination endpoint.
func (v *View) DKey() flowkey.Key {
	return flowkey.New(flowkey.ParseProto(v.Proto), v.DstIP(), v.DPort())
}

// SetDstIP rewrites the destination address, recomputes checksums, and marks
// the packet mangled.
func (v *View) SetDstIP(ip netip.Addr) error {
	if v.ip4 != nil {
		v.ip4.DstIP = ip.AsSlice()
	} else if v.ip6 != nil {
		v.ip6.DstIP = ip.AsSlice()
	} else {
		return fmt.Errorf("packetview: SetDstIP on non-IP packet")
	}
	v.Mangled = true
	return v.reserialize()
}

// SetSrcIP rewrites the source address, recomputes checksums, and marks the
// packet mangled.
func (v *View) SetSrcIP(ip netip.Addr) error {
	if v.ip4 != nil {
		v.ip4.SrcIP = ip.AsSlice()
	} else if v.ip6 != nil {
		v.ip6.SrcIP = ip.AsSlice()
	} else {
		return fmt.Errorf("packetview: SetSrcIP on non-IP packet")
	}
	v.Mangled = true
	return v.reserialize()
}

// SetDPort rewrites the destination port, recomputes the L4 checksum
// (pseudo-header included), and marks the packet mangled.
func (v *View) SetDPort(port uint16) error {
	switch {
	case v.tcp != nil:
		v.tcp.DstPort = layers.TCPPort(port)
	case v.udp != nil:
		v.udp.DstPort = layers.UDPPort(port)
	default:
		return fmt.Errorf("packetview: SetDPort on non-TCP/UDP packet")
	}
	v.Mangled = true
	return v.reserialize()
}

// SetSPort rewrites the source port, recomputes the L4 checksum, and marks
// the packet mangled.
func (v *View) SetSPort(port uint16) error {
	switch {
	case v.tcp != nil:
		v.tcp.SrcPort = layers.TCPPort(port)
	case v.udp != nil:
		v.udp.SrcPort = layers.UDPPort(port)
	default:
		return fmt.Errorf("packetview: SetSPort on non-TCP/UDP packet")
	}
	v.Mangled = true
	return v.reserialize()
}

// reserialize re-encodes the layer stack into v.octets, recomputing IP and L4
// checksums (the L4 checksum covers an IP pseudo-header, hence the network
// layer must be supplied to SerializeLayers via SetNetworkLayerForChecksum).
func (v *View) reserialize() error {
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{ComputeChecksums: true, FixLengths: true}

	var netLayer gopacket.NetworkLayer
	if v.ip4 != nil {
		netLayer = v.ip4
	} else {
		netLayer = v.ip6
	}

	var transport gopacket.SerializableLayer
	switch {
	case v.tcp != nil:
		if err := v.tcp.SetNetworkLayerForChecksum(netLayer); err != nil {
			return err
		}
		transport = v.tcp
	case v.udp != nil:
		if err := v.udp.SetNetworkLayerForChecksum(netLayer); err != nil {
			return err
		}
		transport = v.udp
	case v.icmp4 != nil:
		transport = v.icmp4
	case v.icmp6 != nil:
		transport = v.icmp6
	}

	var layerList []gopacket.SerializableLayer
	layerList = append(layerList, netLayer.(gopacket.SerializableLayer))
	if transport != nil {
		layerList = append(layerList, transport)
		if payload := v.decoded.ApplicationLayer(); payload != nil {
			layerList = append(layerList, gopacket.Payload(payload.Payload()))
		}
	}

	if err := gopacket.SerializeLayers(buf, opts, layerList...); err != nil {
		return fmt.Errorf("packetview: reserialize: %w", err)
	}
	v.octets = buf.Bytes()
	return nil
}
