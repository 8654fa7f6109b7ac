// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package metrics exposes Prometheus counters and gauges for the decision
// engine and flow tables, so a running diverter's redirect/ignore rates and
// table sizes can be scraped without tailing its logs.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds the diverter's Prometheus collectors.
type Metrics struct {
	PacketsMangled     *prometheus.CounterVec
	PacketsIgnored     *prometheus.CounterVec
	PacketsParseFailed prometheus.Counter

	SessionTableSize prometheus.Gauge
	IPFwdTableSize   prometheus.Gauge
	PortFwdTableSize prometheus.Gauge
	IgnoreTableSize  prometheus.Gauge

	ExecuteCommandsLaunched prometheus.Counter
	ExecuteCommandErrors    prometheus.Counter
}

// New constructs the diverter's metric collectors. It does not register them
// with any registry; the caller decides whether to use the default registry
// or one scoped to the process.
func New() *Metrics {
	return &Metrics{
		PacketsMangled: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flare_fakenet_packets_mangled_total",
			Help: "Packets whose destination or source was rewritten. The stage label holds the packet's protocol (TCP, UDP or ICMP), not the stage that rewrote it.",
		}, []string{"stage"}),
		PacketsIgnored: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "flare_fakenet_packets_ignored_total",
			Help: "Packets left unmodified by CheckShouldIgnore, by reason.",
		}, []string{"reason"}),
		PacketsParseFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flare_fakenet_packets_parse_failed_total",
			Help: "Packets that failed IP/TCP/UDP header parsing.",
		}),
		SessionTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flare_fakenet_sessions_table_size",
			Help: "Current number of entries in the sessions flow table.",
		}),
		IPFwdTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flare_fakenet_ip_fwd_table_size",
			Help: "Current number of entries in the ip_fwd flow table.",
		}),
		PortFwdTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flare_fakenet_port_fwd_table_size",
			Help: "Current number of entries in the port_fwd flow table.",
		}),
		IgnoreTableSize: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "flare_fakenet_ignore_table_size",
			Help: "Current number of entries in the ignore flow table.",
		}),
		ExecuteCommandsLaunched: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flare_fakenet_execute_commands_launched_total",
			Help: "Execute-command rules launched for new sessions.",
		}),
		ExecuteCommandErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "flare_fakenet_execute_command_errors_total",
			Help: "Execute-command rules that failed to launch.",
		}),
	}
}

// Collectors returns every collector so the caller can register them in one
// pass: prometheus.DefaultRegisterer.MustRegister(m.Collectors()...).
func (m *Metrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{
		m.PacketsMangled,
		m.PacketsIgnored,
		m.PacketsParseFailed,
		m.SessionTableSize,
		m.IPFwdTableSize,
		m.PortFwdTableSize,
		m.IgnoreTableSize,
		m.ExecuteCommandsLaunched,
		m.ExecuteCommandErrors,
	}
}
