// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package linux implements osdelegate.Delegate for Linux hosts via netlink
// interface/address/route queries and a DNS resolver probe.
package linux

import (
	"fmt"
	"net"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/miekg/dns"
	"github.com/vishvananda/netlink"

	"github.com/wangwu0705/flare-fakenet-ng/internal/logging"
	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
	"github.com/wangwu0705/flare-fakenet-ng/internal/procinfo"
)

const resolvConfPath = "/etc/resolv.conf"

// Delegate is the Linux osdelegate.Delegate implementation.
type Delegate struct {
	pid    uint32
	logger *logging.Logger
}

// New returns a Delegate for the current process.
func New(logger *logging.Logger) *Delegate {
	return &Delegate{pid: uint32(os.Getpid()), logger: logger}
}

// PID returns the diverter's own process ID.
func (d *Delegate) PID() uint32 { return d.pid }

// CheckActiveEthernetAdapters reports whether at least one non-loopback
// interface is administratively up.
func (d *Delegate) CheckActiveEthernetAdapters() bool {
	links, err := netlink.LinkList()
	if err != nil {
		d.logger.Warnf("netlink.LinkList: %v", err)
		return false
	}
	for _, l := range links {
		attrs := l.Attrs()
		if attrs.Flags&net.FlagLoopback != 0 {
			continue
		}
		if attrs.Flags&net.FlagUp != 0 {
			return true
		}
	}
	return false
}

// CheckIPAddresses reports whether at least one non-loopback interface has a
// non-null address.
func (d *Delegate) CheckIPAddresses() bool {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_ALL)
	if err != nil {
		d.logger.Warnf("netlink.AddrList: %v", err)
		return false
	}
	for _, a := range addrs {
		if a.IP.IsLoopback() {
			continue
		}
		return true
	}
	return false
}

// CheckGateways reports whether at least one default route exists.
func (d *Delegate) CheckGateways() bool {
	routes, err := netlink.RouteList(nil, netlink.FAMILY_ALL)
	if err != nil {
		d.logger.Warnf("netlink.RouteList: %v", err)
		return false
	}
	for _, r := range routes {
		if r.Dst == nil && r.Gw != nil {
			return true
		}
	}
	return false
}

// FixGateway locates a configured, non-loopback address and installs a
// default route through its own interface. Some DHCP servers (VMware's
// host-only adapter among them) hand out an address with no gateway at all,
// which otherwise leaves outbound traffic with nowhere to go.
func (d *Delegate) FixGateway() bool {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		d.logger.Warnf("netlink.AddrList: %v", err)
		return false
	}
	for _, a := range addrs {
		if a.IP.IsLoopback() || a.IP.To4() == nil {
			continue
		}
		route := &netlink.Route{
			LinkIndex: a.LinkIndex,
			Gw:        a.IP,
		}
		if err := netlink.RouteAdd(route); err != nil {
			d.logger.Warnf("netlink.RouteAdd via %s: %v", a.IP, err)
			continue
		}
		d.logger.Infof("installed default route via %s", a.IP)
		return true
	}
	return false
}

// CheckDNSServers reports whether resolv.conf names at least one reachable
// resolver.
func (d *Delegate) CheckDNSServers() bool {
	cc, err := dns.ClientConfigFromFile(resolvConfPath)
	if err != nil || len(cc.Servers) == 0 {
		return false
	}
	client := &dns.Client{Timeout: 2 * time.Second}
	msg := new(dns.Msg)
	msg.SetQuestion("localhost.", dns.TypeA)
	for _, server := range cc.Servers {
		addr := net.JoinHostPort(server, cc.Port)
		if _, _, err := client.Exchange(msg, addr); err == nil {
			return true
		}
	}
	return false
}

// FixDNS points resolv.conf at the diverter's own non-loopback address, the
// same fallback FixGateway uses: in an isolated analysis network the
// diverter answers DNS queries itself.
func (d *Delegate) FixDNS() bool {
	addrs, err := netlink.AddrList(nil, netlink.FAMILY_V4)
	if err != nil {
		d.logger.Warnf("netlink.AddrList: %v", err)
		return false
	}
	var chosen net.IP
	for _, a := range addrs {
		if a.IP.IsLoopback() || a.IP.To4() == nil {
			continue
		}
		chosen = a.IP
		break
	}
	if chosen == nil {
		return false
	}
	contents := fmt.Sprintf("nameserver %s\n", chosen)
	if err := os.WriteFile(resolvConfPath, []byte(contents), 0o644); err != nil {
		d.logger.Warnf("failed to write %s: %v", resolvConfPath, err)
		return false
	}
	d.logger.Infof("wrote %s as sole nameserver in %s", chosen, resolvConfPath)
	return true
}

// NewDestIP returns loopback: on Linux any address bound by a local listener
// is reachable over the loopback interface regardless of which interface
// srcIP arrived on.
func (d *Delegate) NewDestIP(srcIP netip.Addr) netip.Addr {
	if srcIP.Is4() {
		return netip.MustParseAddr("127.0.0.1")
	}
	return netip.MustParseAddr("::1")
}

// IsLocal reports whether ip belongs to one of this host's interfaces.
func (d *Delegate) IsLocal(ipver int, ip netip.Addr) bool {
	family := netlink.FAMILY_V4
	if ipver == 6 {
		family = netlink.FAMILY_V6
	}
	addrs, err := netlink.AddrList(nil, family)
	if err != nil {
		d.logger.Warnf("netlink.AddrList: %v", err)
		return false
	}
	for _, a := range addrs {
		addrIP, ok := netip.AddrFromSlice(a.IP)
		if !ok {
			continue
		}
		if addrIP.Unmap() == ip {
			return true
		}
	}
	return ip.IsLoopback()
}

// GetPidComm resolves the packet's 5-tuple to an owning PID via /proc/net
// socket tables, then the PID to a process name.
func (d *Delegate) GetPidComm(pkt *packetview.View) (uint32, string, bool) {
	pid, ok := lookupPidByTuple(pkt)
	if !ok {
		return 0, "", false
	}
	return pid, procinfo.MustCommForPID(pid), true
}

// lookupPidByTuple scans /proc/net/{tcp,tcp6,udp,udp6} for a socket matching
// the packet's local endpoint and its inode, then /proc/*/fd for the PID
// holding that inode open.
func lookupPidByTuple(pkt *packetview.View) (uint32, bool) {
	procFile := procNetFileFor(pkt)
	if procFile == "" {
		return 0, false
	}
	inode, ok := findSocketInode(procFile, pkt.SPort())
	if !ok {
		return 0, false
	}
	return findPidForInode(inode)
}

func procNetFileFor(pkt *packetview.View) string {
	tcp := pkt.Proto == "TCP"
	v6 := pkt.IPVer == 6
	switch {
	case tcp && !v6:
		return "/proc/net/tcp"
	case tcp && v6:
		return "/proc/net/tcp6"
	case !tcp && !v6:
		return "/proc/net/udp"
	case !tcp && v6:
		return "/proc/net/udp6"
	default:
		return ""
	}
}

// findSocketInode scans a /proc/net/{tcp,udp}* table for the row whose local
// port matches sport, and returns that row's inode.
func findSocketInode(path string, sport uint16) (string, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false
	}
	want := fmt.Sprintf(":%04X", sport)
	lines := strings.Split(string(data), "\n")
	for _, line := range lines[1:] {
		fields := strings.Fields(line)
		if len(fields) < 10 {
			continue
		}
		localAddr := fields[1]
		if !strings.HasSuffix(localAddr, want) {
			continue
		}
		return fields[9], true
	}
	return "", false
}

// findPidForInode walks /proc/*/fd looking for a symlink to socket:[inode].
func findPidForInode(inode string) (uint32, bool) {
	target := fmt.Sprintf("socket:[%s]", inode)
	procEntries, err := os.ReadDir("/proc")
	if err != nil {
		return 0, false
	}
	for _, entry := range procEntries {
		if !entry.IsDir() {
			continue
		}
		pidStr := entry.Name()
		var pid uint32
		if _, err := fmt.Sscanf(pidStr, "%d", &pid); err != nil {
			continue
		}
		fdDir := fmt.Sprintf("/proc/%s/fd", pidStr)
		fds, err := os.ReadDir(fdDir)
		if err != nil {
			continue
		}
		for _, fd := range fds {
			link, err := os.Readlink(fmt.Sprintf("%s/%s", fdDir, fd.Name()))
			if err != nil {
				continue
			}
			if link == target {
				return pid, true
			}
		}
	}
	return 0, false
}
