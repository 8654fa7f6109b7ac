// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package decision

import (
	"net/netip"
	"testing"

	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
	"github.com/wangwu0705/flare-fakenet-ng/internal/flowtables"
	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
	"github.com/wangwu0705/flare-fakenet-ng/internal/policy"
)

// fakeDelegate is a minimal osdelegate.Delegate stand-in for decision-engine
// tests: locality is driven by an explicit set, not real interface queries.
type fakeDelegate struct {
	localIPs map[string]bool
	pid      uint32
	newDest  netip.Addr
}

func (f *fakeDelegate) CheckActiveEthernetAdapters() bool { return true }
func (f *fakeDelegate) CheckIPAddresses() bool            { return true }
func (f *fakeDelegate) CheckGateways() bool                { return true }
func (f *fakeDelegate) FixGateway() bool                   { return true }
func (f *fakeDelegate) CheckDNSServers() bool               { return true }
func (f *fakeDelegate) FixDNS() bool                        { return true }
func (f *fakeDelegate) GetPidComm(pkt *packetview.View) (uint32, string, bool) {
	return 0, "", false
}
func (f *fakeDelegate) NewDestIP(src netip.Addr) netip.Addr { return f.newDest }
func (f *fakeDelegate) IsLocal(ipver int, ip netip.Addr) bool {
	return f.localIPs[ip.String()]
}
func (f *fakeDelegate) PID() uint32 { return f.pid }

func tcpOctets(t *testing.T, srcIP, dstIP string, sport, dport uint16) []byte {
	t.Helper()
	// A minimal well-formed IPv4+TCP datagram, built by hand since the test
	// only needs New() to parse far enough to populate the 5-tuple.
	src := netip.MustParseAddr(srcIP).As4()
	dst := netip.MustParseAddr(dstIP).As4()

	ipHeader := []byte{
		0x45, 0x00, 0x00, 0x28,
		0x00, 0x00, 0x40, 0x00,
		0x40, 0x06, 0x00, 0x00,
		src[0], src[1], src[2], src[3],
		dst[0], dst[1], dst[2], dst[3],
	}
	tcpHeader := make([]byte, 20)
	tcpHeader[0], tcpHeader[1] = byte(sport>>8), byte(sport)
	tcpHeader[2], tcpHeader[3] = byte(dport>>8), byte(dport)
	tcpHeader[12] = 0x50 // data offset

	return append(ipHeader, tcpHeader...)
}

func newTestView(t *testing.T, srcIP, dstIP string, sport, dport uint16) *packetview.View {
	t.Helper()
	v, err := packetview.New(tcpOctets(t, srcIP, dstIP, sport, dport))
	if err != nil {
		t.Fatalf("packetview.New: %v", err)
	}
	if v.Proto != "TCP" {
		t.Fatalf("expected TCP, got %q", v.Proto)
	}
	return v
}

func TestCheckShouldIgnore_RedirectAllTrafficDisabled(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = false
	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)
	od := &fakeDelegate{localIPs: map[string]bool{}}

	if !CheckShouldIgnore(pkt, PidInfo{}, pol, od) {
		t.Fatal("expected ignore when RedirectAllTraffic is false")
	}
}

func TestCheckShouldIgnore_ProcessBlacklist(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	pol.SingleHostMode = true
	pol.BlacklistProcesses["chrome.exe"] = true
	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)
	od := &fakeDelegate{localIPs: map[string]bool{}}

	pid := PidInfo{PID: 123, Comm: "chrome.exe", OK: true}
	if !CheckShouldIgnore(pkt, pid, pol, od) {
		t.Fatal("expected ignore for blacklisted process")
	}
}

func TestCheckShouldIgnore_ProcessWhitelistExcludesOthers(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	pol.SingleHostMode = true
	pol.WhitelistProcesses["malware.exe"] = true
	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)
	od := &fakeDelegate{localIPs: map[string]bool{}}

	pid := PidInfo{PID: 123, Comm: "notepad.exe", OK: true}
	if !CheckShouldIgnore(pkt, pid, pol, od) {
		t.Fatal("expected ignore for process missing from non-empty whitelist")
	}
}

func TestCheckShouldIgnore_GlobalPortBlacklistAppliesInAnyMode(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	pol.SingleHostMode = false
	pol.SetBlacklistPorts(flowkey.ProtoTCP, []uint16{80})
	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)
	od := &fakeDelegate{localIPs: map[string]bool{}}

	if !CheckShouldIgnore(pkt, PidInfo{}, pol, od) {
		t.Fatal("expected ignore for globally blacklisted destination port")
	}
}

func TestCheckShouldIgnore_HostBlacklist(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	pol.BlacklistHosts["93.184.216.34"] = true
	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)
	od := &fakeDelegate{localIPs: map[string]bool{}}

	if !CheckShouldIgnore(pkt, PidInfo{}, pol, od) {
		t.Fatal("expected ignore for blacklisted destination host")
	}
}

func TestCheckShouldIgnore_FTPHackBlacklistsSourcePortAndIgnores(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	od := &fakeDelegate{localIPs: map[string]bool{"10.0.0.5": true, "10.0.0.9": true}, pid: 999}

	pkt := newTestView(t, "10.0.0.5", "10.0.0.9", 20, 55000)
	pid := PidInfo{PID: 999, Comm: "fakenet.exe", OK: true}

	if !CheckShouldIgnore(pkt, pid, pol, od) {
		t.Fatal("expected ignore for packet originated by diverter's own pid")
	}
	if !pol.PortBlacklisted(flowkey.ProtoTCP, 20) {
		t.Fatal("expected FTP hack to blacklist the ephemeral source port")
	}
}

func TestCheckShouldIgnore_FTPHackSkipsBlacklistWhenLoopback(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	od := &fakeDelegate{localIPs: map[string]bool{"127.0.0.1": true, "10.0.0.9": true}, pid: 999}

	pkt := newTestView(t, "127.0.0.1", "10.0.0.9", 20, 55000)
	pid := PidInfo{PID: 999, Comm: "fakenet.exe", OK: true}

	if !CheckShouldIgnore(pkt, pid, pol, od) {
		t.Fatal("expected ignore for packet originated by diverter's own pid")
	}
	if pol.PortBlacklisted(flowkey.ProtoTCP, 20) {
		t.Fatal("loopback source should not trigger the FTP symmetric-local hack")
	}
}

func TestDecideRedirPort_TruthTable(t *testing.T) {
	cases := []struct {
		name               string
		srcLocal           bool
		sportBound, dportBound bool
		want               bool
	}{
		{"foreign src, dport free", false, false, false, true},
		{"foreign src, dport bound", false, false, true, false},
		{"local src, sport free, dport free", true, false, false, true},
		{"local src, sport bound, dport free", true, true, false, false},
		{"local src, sport bound, dport bound", true, true, true, false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			pol := policy.New()
			const port1, port2 = uint16(40000), uint16(80)
			if tc.sportBound {
				pol.BoundPorts[flowkey.ProtoTCP] = map[uint16]bool{port1: false}
			}
			if tc.dportBound {
				if pol.BoundPorts[flowkey.ProtoTCP] == nil {
					pol.BoundPorts[flowkey.ProtoTCP] = map[uint16]bool{}
				}
				pol.BoundPorts[flowkey.ProtoTCP][port2] = false
			}
			srcIP := "93.184.216.34"
			localIPs := map[string]bool{}
			if tc.srcLocal {
				srcIP = "10.0.0.5"
				localIPs[srcIP] = true
			}
			od := &fakeDelegate{localIPs: localIPs}

			got := DecideRedirPort(4, netip.MustParseAddr(srcIP), port1, port2, flowkey.ProtoTCP, pol, od)
			if got != tc.want {
				t.Errorf("DecideRedirPort() = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestMaybeRedirPort_RedirectsToDefaultListenerAndTracksSession(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	pol.DefaultListener[flowkey.ProtoTCP] = 8080
	tables := flowtables.New()
	od := &fakeDelegate{localIPs: map[string]bool{"10.0.0.5": true}}

	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)

	var sessionStarted bool
	mutated, err := MaybeRedirPort(pkt, PidInfo{}, pol, tables, od, func(*packetview.View, PidInfo) {
		sessionStarted = true
	})
	if err != nil {
		t.Fatalf("MaybeRedirPort: %v", err)
	}
	if !mutated {
		t.Fatal("expected packet to be mutated")
	}
	if pkt.DPort() != 8080 {
		t.Fatalf("expected dport rewritten to 8080, got %d", pkt.DPort())
	}
	if !sessionStarted {
		t.Fatal("expected new-session callback to fire")
	}

	dkey := flowkey.New(flowkey.ProtoTCP, netip.MustParseAddr("10.0.0.5"), 40000)
	if orig, ok := tables.PortFwd.Get(dkey); !ok || orig != 80 {
		t.Fatalf("expected port_fwd entry for original dport 80, got %v, %v", orig, ok)
	}
}

func TestMaybeRedirPort_BoundListenerIsLeftAlone(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	pol.DefaultListener[flowkey.ProtoTCP] = 8080
	pol.BoundPorts[flowkey.ProtoTCP] = map[uint16]bool{80: false}
	tables := flowtables.New()
	od := &fakeDelegate{localIPs: map[string]bool{"10.0.0.5": true}}

	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)

	mutated, err := MaybeRedirPort(pkt, PidInfo{}, pol, tables, od, nil)
	if err != nil {
		t.Fatalf("MaybeRedirPort: %v", err)
	}
	if mutated {
		t.Fatal("expected no rewrite when dest port is already bound, non-hidden, local src")
	}
}

func TestMaybeFixupSport_RestoresOriginalPort(t *testing.T) {
	tables := flowtables.New()
	pkt := newTestView(t, "93.184.216.34", "10.0.0.5", 8080, 40000)

	dkey := flowkey.New(flowkey.ProtoTCP, netip.MustParseAddr("10.0.0.5"), 40000)
	tables.PortFwd.Put(dkey, 80)

	mutated, err := MaybeFixupSport(pkt, tables)
	if err != nil {
		t.Fatalf("MaybeFixupSport: %v", err)
	}
	if !mutated {
		t.Fatal("expected mutation")
	}
	if pkt.SPort() != 80 {
		t.Fatalf("expected sport fixed up to 80, got %d", pkt.SPort())
	}
}

func TestMaybeRedirIP_RedirectsForeignDestAndRecordsIPFwd(t *testing.T) {
	pol := policy.New()
	pol.RedirectAllTraffic = true
	pol.SingleHostMode = true
	tables := flowtables.New()
	od := &fakeDelegate{
		localIPs: map[string]bool{"10.0.0.5": true},
		newDest:  netip.MustParseAddr("127.0.0.1"),
	}

	pkt := newTestView(t, "10.0.0.5", "93.184.216.34", 40000, 80)

	mutated, err := MaybeRedirIP(pkt, PidInfo{}, pol, tables, od)
	if err != nil {
		t.Fatalf("MaybeRedirIP: %v", err)
	}
	if !mutated {
		t.Fatal("expected mutation")
	}
	if pkt.DstIP().String() != "127.0.0.1" {
		t.Fatalf("expected dst rewritten to 127.0.0.1, got %s", pkt.DstIP())
	}

	skey := flowkey.New(flowkey.ProtoTCP, netip.MustParseAddr("10.0.0.5"), 40000)
	if orig, ok := tables.IPFwd.Get(skey); !ok || orig.String() != "93.184.216.34" {
		t.Fatalf("expected ip_fwd entry recording original dest, got %v, %v", orig, ok)
	}
}

func TestMaybeFixupSrcIP_RestoresOriginalForeignAddress(t *testing.T) {
	pol := policy.New()
	pol.SingleHostMode = true
	tables := flowtables.New()

	pkt := newTestView(t, "127.0.0.1", "10.0.0.5", 80, 40000)

	dkey := flowkey.New(flowkey.ProtoTCP, netip.MustParseAddr("10.0.0.5"), 40000)
	tables.IPFwd.Put(dkey, netip.MustParseAddr("93.184.216.34"))

	mutated, err := MaybeFixupSrcIP(pkt, pol, tables)
	if err != nil {
		t.Fatalf("MaybeFixupSrcIP: %v", err)
	}
	if !mutated {
		t.Fatal("expected mutation")
	}
	if pkt.SrcIP().String() != "93.184.216.34" {
		t.Fatalf("expected src fixed up to 93.184.216.34, got %s", pkt.SrcIP())
	}
}
