// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package pcapwriter writes intercepted datagrams to a DLT_RAW capture file,
// so a session can be replayed or inspected afterward in any pcap tool.
package pcapwriter

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/gopacket/gopacket"
	"github.com/gopacket/gopacket/layers"
	"github.com/gopacket/gopacket/pcapgo"
)

// Writer serializes raw IP octets into a pcap file using the DLT_RAW link
// type (no Ethernet framing: the diverter never sees link-layer headers).
type Writer struct {
	mu sync.Mutex
	f  *os.File
	w  *pcapgo.Writer
}

// FileName builds the diverter's conventional capture file name:
// "{prefix}_{YYYYMMDD_HHMMSS}.pcap", matching FakeNet-NG's naming so existing
// analysis tooling built around that convention keeps working.
func FileName(prefix string, at time.Time) string {
	return fmt.Sprintf("%s_%s.pcap", prefix, at.Format("20060102_150405"))
}

// New creates (or truncates) path and writes the pcap global header.
func New(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("pcapwriter: create %s: %w", path, err)
	}
	w := pcapgo.NewWriter(f)
	if err := w.WriteFileHeader(65535, layers.LinkTypeRaw); err != nil {
		f.Close()
		return nil, fmt.Errorf("pcapwriter: write file header: %w", err)
	}
	return &Writer{f: f, w: w}, nil
}

// WritePacket appends one raw-IP datagram observation, timestamped now.
// Concurrent calls are safe; the diverter may process multiple packets on
// distinct goroutines sharing one capture file.
func (pw *Writer) WritePacket(octets []byte) error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	ci := gopacket.CaptureInfo{
		Timestamp:     time.Now(),
		CaptureLength: len(octets),
		Length:        len(octets),
	}
	return pw.w.WritePacket(ci, octets)
}

// Close flushes and closes the underlying capture file.
func (pw *Writer) Close() error {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	return pw.f.Close()
}
