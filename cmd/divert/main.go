// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Command divert runs the traffic diverter as a foreground process: load a
// configuration file, install the capture hook for the host OS, and run the
// packet pipeline until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/wangwu0705/flare-fakenet-ng/internal/capture/nflogsrc"
	"github.com/wangwu0705/flare-fakenet-ng/internal/capture/nfqueuesrc"
	"github.com/wangwu0705/flare-fakenet-ng/internal/capture/pcapwriter"
	"github.com/wangwu0705/flare-fakenet-ng/internal/capture/queuesetup"
	"github.com/wangwu0705/flare-fakenet-ng/internal/config"
	"github.com/wangwu0705/flare-fakenet-ng/internal/decision"
	"github.com/wangwu0705/flare-fakenet-ng/internal/execcmd"
	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
	"github.com/wangwu0705/flare-fakenet-ng/internal/flowtables"
	"github.com/wangwu0705/flare-fakenet-ng/internal/logging"
	"github.com/wangwu0705/flare-fakenet-ng/internal/metrics"
	osdelegatelinux "github.com/wangwu0705/flare-fakenet-ng/internal/osdelegate/linux"
	"github.com/wangwu0705/flare-fakenet-ng/internal/packetview"
	"github.com/wangwu0705/flare-fakenet-ng/internal/pipeline"
	"github.com/wangwu0705/flare-fakenet-ng/internal/policy"
)

func main() {
	configPath := flag.String("config", "/etc/flare-fakenet/diverter.hcl", "path to the diverter configuration file")
	queueNum := flag.Uint("queue", 0, "NFQUEUE number to bind (overrides the config file's queue_num when nonzero)")
	pcapPrefix := flag.String("pcap-prefix", "", "capture file prefix (overrides the config file's pcap_prefix when set)")
	flag.Parse()

	logger := logging.New()
	logger.SetDebugLevel(logging.DGenPkt | logging.DDPF | logging.DIgn | logging.DSession)

	if err := run(logger, *configPath, uint16(*queueNum), *pcapPrefix); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}

func run(logger *logging.Logger, configPath string, queueNumOverride uint16, pcapPrefixOverride string) error {
	if err := setProcessName("flare-divert"); err != nil {
		logger.Warnf("SetProcessName: %v", err)
	}

	pol, file, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	od := osdelegatelinux.New(logger)
	preflight(logger, od, pol)

	tables := flowtables.New()
	m := metrics.New()

	queueNum := queueNumOverride
	if queueNum == 0 {
		queueNum = uint16(file.Diverter.QueueNum)
	}

	hook, err := queuesetup.Install(queueNum)
	if err != nil {
		return fmt.Errorf("install nftables queue rule: %w", err)
	}
	defer func() {
		if err := hook.Remove(); err != nil {
			logger.Warnf("failed to remove nftables rule: %v", err)
		}
	}()

	var pcapSink pipeline.PcapWriter
	if pol.DumpPackets {
		pcapPrefix := pcapPrefixOverride
		if pcapPrefix == "" {
			pcapPrefix = file.Diverter.PcapPrefix
		}
		if pcapPrefix == "" {
			pcapPrefix = "flare_fakenet"
		}
		pcapPath := pcapwriter.FileName(pcapPrefix, time.Now())
		pcap, err := pcapwriter.New(pcapPath)
		if err != nil {
			return fmt.Errorf("open pcap file: %w", err)
		}
		defer pcap.Close()
		logger.Infof("capturing to %s", pcapPath)
		pcapSink = pcap
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if pol.DumpPackets {
		logHook, err := queuesetup.InstallOutputLog(hook.QueueNum())
		if err != nil {
			logger.Warnf("failed to install output-traffic NFLOG mirror: %v", err)
		} else {
			defer func() {
				if err := logHook.Remove(); err != nil {
					logger.Warnf("failed to remove NFLOG mirror rule: %v", err)
				}
			}()
			logSrc, err := nflogsrc.Open(logHook.GroupNum())
			if err != nil {
				logger.Warnf("failed to open NFLOG mirror: %v", err)
			} else {
				defer logSrc.Close()
				go func() {
					sink := func(octets []byte) {
						if pcapSink != nil {
							if err := pcapSink.WritePacket(octets); err != nil {
								logger.Warnf("pcap write of locally generated packet failed: %v", err)
							}
						}
					}
					if err := logSrc.Run(ctx, sink); err != nil && ctx.Err() == nil {
						logger.Warnf("NFLOG mirror stopped: %v", err)
					}
				}()
			}
		}
	}

	runner := &execcmd.Runner{Logger: logger, Metrics: m}
	pipe := pipeline.New(pol, tables, od, logger, pcapSink, m)
	pipe.OnNewSession = func(pkt *packetview.View, pid decision.PidInfo) {
		if !pid.OK {
			return
		}
		proto := flowkey.ParseProto(pkt.Proto)
		template, ok := pol.PortExecute[proto][pkt.DPort()]
		if ok {
			runner.Run(template, pkt, pid)
		}
	}

	source, err := nfqueuesrc.Open(hook.QueueNum(), 4096)
	if err != nil {
		return fmt.Errorf("open nfqueue: %w", err)
	}
	defer source.Close()

	gaugeTicker := time.NewTicker(5 * time.Second)
	defer gaugeTicker.Stop()
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case <-gaugeTicker.C:
				pipe.RefreshTableGauges()
			}
		}
	}()

	logger.Infof("diverting traffic on nfqueue %d", hook.QueueNum())
	err = source.Run(ctx, pipe.Process)
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("nfqueue run: %w", err)
	}
	logger.Infof("shutting down")
	return nil
}

// preflight mirrors FakeNet-NG's startup sanity checks: verify the host has a
// usable interface, address, gateway, and DNS server. Fixing a missing
// gateway or DNS server is attempted only when the config opts in
// (fixgateway/fixdns), matching diverterbase.py's `if self.is_set(...)` gate
// rather than fixing unconditionally.
func preflight(logger *logging.Logger, od *osdelegatelinux.Delegate, pol *policy.Policy) {
	if !od.CheckActiveEthernetAdapters() {
		logger.Warnf("no active non-loopback interface found")
	}
	if !od.CheckIPAddresses() {
		logger.Warnf("no non-loopback IP address configured")
	}
	if !od.CheckGateways() {
		if !pol.FixGateway {
			logger.Warnf("no default gateway configured")
		} else {
			logger.Warnf("no default gateway configured, attempting to fix")
			if !od.FixGateway() {
				logger.Warnf("failed to configure a default gateway")
			}
		}
	}
	if !od.CheckDNSServers() {
		if !pol.FixDNS {
			logger.Warnf("no reachable DNS server configured")
		} else {
			logger.Warnf("no reachable DNS server configured, attempting to fix")
			if !od.FixDNS() {
				logger.Warnf("failed to configure a DNS server")
			}
		}
	}
}
