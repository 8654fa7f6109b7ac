// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package logging wraps the standard library logger with the diverter's
// leveled, per-component debug output, matching FakeNet-NG's pdebug concept:
// a bitmask of enabled debug labels gates otherwise-silent trace lines.
package logging

import (
	"fmt"
	"log"
	"os"
)

// DebugLabel names one of the diverter's fine-grained debug categories.
type DebugLabel uint32

const (
	DGenPkt DebugLabel = 1 << iota
	DGenPktV
	DIgn
	DIPNAT
	DDPF
	DDPFV
	DPCap
	DCB
	DFTP
	DSession
)

var labelNames = map[DebugLabel]string{
	DGenPkt:  "GENPKT",
	DGenPktV: "GENPKTV",
	DIgn:     "IGN",
	DIPNAT:   "IPNAT",
	DDPF:     "DPF",
	DDPFV:    "DPFV",
	DPCap:    "PCAP",
	DCB:      "CB",
	DFTP:     "FTP",
	DSession: "SESSION",
}

// Logger is the diverter's logger: a thin wrapper over the standard library
// logger plus an optional syslog forwarder and a debug-label bitmask.
type Logger struct {
	std        *log.Logger
	debugLevel DebugLabel
	syslog     *SyslogWriter
}

// New constructs a Logger writing to stderr with the standard flags.
func New() *Logger {
	return &Logger{std: log.New(os.Stderr, "", log.LstdFlags)}
}

// SetDebugLevel enables the given bitmask of debug labels.
func (l *Logger) SetDebugLevel(mask DebugLabel) { l.debugLevel = mask }

// AttachSyslog forwards all subsequent log lines to w in addition to stderr.
func (l *Logger) AttachSyslog(w *SyslogWriter) { l.syslog = w }

// Infof logs an informational message.
func (l *Logger) Infof(format string, args ...any) { l.emit("INFO", format, args...) }

// Warnf logs a warning.
func (l *Logger) Warnf(format string, args ...any) { l.emit("WARN", format, args...) }

// Errorf logs an error.
func (l *Logger) Errorf(format string, args ...any) { l.emit("ERROR", format, args...) }

// Debugf logs a trace message only if lvl is enabled in the debug bitmask.
func (l *Logger) Debugf(lvl DebugLabel, format string, args ...any) {
	if l.debugLevel&lvl == 0 {
		return
	}
	label := labelNames[lvl]
	if label == "" {
		label = "DEBUG"
	}
	l.emit(label, format, args...)
}

func (l *Logger) emit(level, format string, args ...any) {
	line := fmt.Sprintf("[%s] %s", level, fmt.Sprintf(format, args...))
	l.std.Println(line)
	if l.syslog != nil {
		l.syslog.Write([]byte(line))
	}
}
