// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package config loads the diverter's HCL configuration file and compiles it
// into a policy.Policy ready for the decision engine.
package config

import (
	"fmt"
	"strings"

	"github.com/hashicorp/hcl/v2/hclsimple"

	"github.com/wangwu0705/flare-fakenet-ng/internal/errors"
	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
	"github.com/wangwu0705/flare-fakenet-ng/internal/policy"
)

var knownSlots = map[string]bool{
	"pid":      true,
	"procname": true,
	"src_addr": true,
	"src_port": true,
	"dst_addr": true,
	"dst_port": true,
}

// Listener is one labeled listener block: a bound port and the rules that
// apply to traffic destined for it.
type Listener struct {
	Name     string `hcl:"name,label"`
	Protocol string `hcl:"protocol"`
	Port     int    `hcl:"port"`
	Hidden   bool   `hcl:"hidden,optional"`

	ProcessWhitelist []string `hcl:"process_whitelist,optional"`
	ProcessBlacklist []string `hcl:"process_blacklist,optional"`
	HostWhitelist    []string `hcl:"host_whitelist,optional"`
	HostBlacklist    []string `hcl:"host_blacklist,optional"`

	Execute string `hcl:"execute,optional"`
}

// Diverter is the single top-level configuration block.
type Diverter struct {
	NetworkMode        string `hcl:"network_mode,optional"`
	RedirectAllTraffic bool   `hcl:"redirect_all_traffic,optional"`
	DumpPackets        bool   `hcl:"dump_packets,optional"`
	PcapPrefix         string `hcl:"pcap_prefix,optional"`
	QueueNum           int    `hcl:"queue_num,optional"`

	// DefaultTCPListener/DefaultUDPListener name the listener block (by its
	// label) to use as the catch-all default for that protocol. The name
	// must resolve to a configured listener of the matching protocol; an
	// empty value falls back to the first non-hidden listener of that
	// protocol.
	DefaultTCPListener string `hcl:"defaulttcplistener,optional"`
	DefaultUDPListener string `hcl:"defaultudplistener,optional"`

	FixGateway bool `hcl:"fixgateway,optional"`
	FixDNS     bool `hcl:"fixdns,optional"`

	BlacklistPortsTCP []int `hcl:"blacklist_ports_tcp,optional"`
	BlacklistPortsUDP []int `hcl:"blacklist_ports_udp,optional"`

	BlacklistProcesses []string `hcl:"blacklist_processes,optional"`
	WhitelistProcesses []string `hcl:"whitelist_processes,optional"`
	BlacklistHosts     []string `hcl:"blacklist_hosts,optional"`

	Listeners []Listener `hcl:"listener,block"`
}

// File is the root of a parsed configuration file.
type File struct {
	Diverter Diverter `hcl:"diverter,block"`
}

// Load reads and compiles the configuration file at path into a ready-to-use
// policy, along with the raw File for the daemon-level settings (queue
// number, pcap prefix) that have no place in policy.Policy. It validates
// every execute-command template before returning, so a typo in a slot name
// is caught at startup rather than on the first matching session.
func Load(path string) (*policy.Policy, *File, error) {
	var f File
	if err := hclsimple.DecodeFile(path, nil, &f); err != nil {
		return nil, nil, errors.Wrap(err, errors.KindValidation, "failed to decode diverter config")
	}
	pol, err := Compile(&f)
	if err != nil {
		return nil, nil, err
	}
	return pol, &f, nil
}

// Compile turns a parsed File into a policy.Policy, validating cross-field
// constraints that HCL's schema alone cannot express.
func Compile(f *File) (*policy.Policy, error) {
	d := f.Diverter
	pol := policy.New()

	switch strings.ToLower(d.NetworkMode) {
	case "singlehost", "single_host", "":
		pol.SingleHostMode = true
	case "multihost", "multi_host":
		pol.SingleHostMode = false
	default:
		return nil, errors.Errorf(errors.KindValidation, "unknown network_mode %q", d.NetworkMode)
	}

	pol.RedirectAllTraffic = d.RedirectAllTraffic
	pol.DumpPackets = d.DumpPackets
	pol.FixGateway = d.FixGateway
	pol.FixDNS = d.FixDNS

	if len(d.BlacklistProcesses) > 0 && len(d.WhitelistProcesses) > 0 {
		return nil, errors.New(errors.KindValidation, "blacklist_processes and whitelist_processes are mutually exclusive")
	}
	for _, p := range d.BlacklistProcesses {
		pol.BlacklistProcesses[p] = true
	}
	for _, p := range d.WhitelistProcesses {
		pol.WhitelistProcesses[p] = true
	}
	for _, h := range d.BlacklistHosts {
		pol.BlacklistHosts[h] = true
	}

	pol.SetBlacklistPorts(flowkey.ProtoTCP, intsToPorts(d.BlacklistPortsTCP))
	pol.SetBlacklistPorts(flowkey.ProtoUDP, intsToPorts(d.BlacklistPortsUDP))

	byName := make(map[flowkey.Proto]map[string]uint16)

	for _, l := range d.Listeners {
		proto, err := parseProto(l.Protocol)
		if err != nil {
			return nil, errors.Wrapf(err, errors.KindValidation, "listener %q", l.Name)
		}
		port := uint16(l.Port)

		if len(l.ProcessWhitelist) > 0 && len(l.ProcessBlacklist) > 0 {
			return nil, errors.Errorf(errors.KindValidation, "listener %q: process_whitelist and process_blacklist are mutually exclusive", l.Name)
		}

		if pol.BoundPorts[proto] == nil {
			pol.BoundPorts[proto] = make(map[uint16]bool)
		}
		pol.BoundPorts[proto][port] = l.Hidden

		if !l.Hidden && pol.DefaultListener[proto] == 0 {
			pol.DefaultListener[proto] = port
		}

		if byName[proto] == nil {
			byName[proto] = make(map[string]uint16)
		}
		byName[proto][l.Name] = port

		ensureProcessRule(pol.PortProcessWhitelist, proto, port, l.ProcessWhitelist)
		ensureProcessRule(pol.PortProcessBlacklist, proto, port, l.ProcessBlacklist)
		ensureProcessRule(pol.PortHostWhitelist, proto, port, l.HostWhitelist)
		ensureProcessRule(pol.PortHostBlacklist, proto, port, l.HostBlacklist)

		if l.Execute != "" {
			if err := validateExecuteTemplate(l.Execute); err != nil {
				return nil, errors.Wrapf(err, errors.KindValidation, "listener %q execute template", l.Name)
			}
			if pol.PortExecute[proto] == nil {
				pol.PortExecute[proto] = make(map[uint16]string)
			}
			pol.PortExecute[proto][port] = l.Execute
		}
	}

	if err := resolveNamedDefault(pol, byName, flowkey.ProtoTCP, d.DefaultTCPListener); err != nil {
		return nil, err
	}
	if err := resolveNamedDefault(pol, byName, flowkey.ProtoUDP, d.DefaultUDPListener); err != nil {
		return nil, err
	}

	if d.RedirectAllTraffic {
		if len(byName[flowkey.ProtoTCP]) > 0 && pol.DefaultListener[flowkey.ProtoTCP] == 0 {
			return nil, errors.New(errors.KindValidation, "redirect_all_traffic requires a default TCP listener, but none resolved")
		}
		if len(byName[flowkey.ProtoUDP]) > 0 && pol.DefaultListener[flowkey.ProtoUDP] == 0 {
			return nil, errors.New(errors.KindValidation, "redirect_all_traffic requires a default UDP listener, but none resolved")
		}
	}

	return pol, nil
}

// resolveNamedDefault overrides the auto-picked (first non-hidden) default
// listener for proto with the explicitly named one, when name is set. name
// must resolve to a listener of the matching protocol; it is a fatal
// configuration error otherwise.
func resolveNamedDefault(pol *policy.Policy, byName map[flowkey.Proto]map[string]uint16, proto flowkey.Proto, name string) error {
	if name == "" {
		return nil
	}
	port, ok := byName[proto][name]
	if !ok {
		return errors.Errorf(errors.KindValidation, "default listener %q does not resolve to a configured %s listener", name, proto)
	}
	pol.DefaultListener[proto] = port
	return nil
}

func parseProto(s string) (flowkey.Proto, error) {
	proto := flowkey.ParseProto(strings.ToUpper(s))
	if proto == flowkey.ProtoUnknown {
		return proto, fmt.Errorf("unknown protocol %q, want tcp or udp", s)
	}
	return proto, nil
}

func intsToPorts(ports []int) []uint16 {
	out := make([]uint16, len(ports))
	for i, p := range ports {
		out[i] = uint16(p)
	}
	return out
}

func ensureProcessRule(rule map[flowkey.Proto]map[uint16][]string, proto flowkey.Proto, port uint16, names []string) {
	if len(names) == 0 {
		return
	}
	if rule[proto] == nil {
		rule[proto] = make(map[uint16][]string)
	}
	rule[proto][port] = names
}

// validateExecuteTemplate rejects any {slot} the six-slot substitution does
// not recognize, so a typo in a listener's execute command fails at load
// time rather than silently passing the literal brace through on first
// match.
func validateExecuteTemplate(template string) error {
	rest := template
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return nil
		}
		end := strings.IndexByte(rest[start:], '}')
		if end < 0 {
			return nil
		}
		slot := rest[start+1 : start+end]
		if !knownSlots[slot] {
			return fmt.Errorf("unrecognized slot {%s}", slot)
		}
		rest = rest[start+end+1:]
	}
}
