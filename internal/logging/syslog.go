// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package logging

import (
	"fmt"
	"net"
	"time"
)

// SyslogConfig configures remote syslog forwarding of diverter log lines.
type SyslogConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Protocol string // "udp" or "tcp"
	Tag      string
	Facility int
}

// DefaultSyslogConfig returns the disabled default configuration.
func DefaultSyslogConfig() SyslogConfig {
	return SyslogConfig{
		Enabled:  false,
		Port:     514,
		Protocol: "udp",
		Tag:      "flare-fakenet-ng",
		Facility: 1,
	}
}

// SyslogWriter forwards log lines to a remote syslog collector.
type SyslogWriter struct {
	cfg  SyslogConfig
	conn net.Conn
}

// NewSyslogWriter dials the configured syslog collector. An unset Port,
// Protocol or Tag takes its DefaultSyslogConfig value.
func NewSyslogWriter(cfg SyslogConfig) (*SyslogWriter, error) {
	if cfg.Host == "" {
		return nil, fmt.Errorf("syslog: host must be set")
	}
	defaults := DefaultSyslogConfig()
	if cfg.Port == 0 {
		cfg.Port = defaults.Port
	}
	if cfg.Protocol == "" {
		cfg.Protocol = defaults.Protocol
	}
	if cfg.Tag == "" {
		cfg.Tag = defaults.Tag
	}
	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	conn, err := net.DialTimeout(cfg.Protocol, addr, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("syslog: dial %s: %w", addr, err)
	}
	return &SyslogWriter{cfg: cfg, conn: conn}, nil
}

// Write sends a single log line as an RFC3164-ish syslog message. Errors are
// swallowed: a syslog collector being unreachable must never interrupt
// packet processing.
func (w *SyslogWriter) Write(p []byte) (int, error) {
	pri := w.cfg.Facility*8 + 6 // informational severity
	msg := fmt.Sprintf("<%d>%s %s: %s\n", pri, time.Now().Format(time.Stamp), w.cfg.Tag, p)
	_, _ = w.conn.Write([]byte(msg))
	return len(p), nil
}

// Close releases the underlying connection.
func (w *SyslogWriter) Close() error {
	if w.conn == nil {
		return nil
	}
	return w.conn.Close()
}
