// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package pcapwriter

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestFileName(t *testing.T) {
	at := time.Date(2026, 7, 31, 12, 30, 45, 0, time.UTC)
	got := FileName("flare-fakenet-ng", at)
	want := "flare-fakenet-ng_20260731_123045.pcap"
	if got != want {
		t.Errorf("FileName() = %q, want %q", got, want)
	}
}

func TestWriter_WritesValidPcapFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.pcap")

	w, err := New(path)
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	if err := w.WritePacket([]byte{0x45, 0x00, 0x00, 0x14}); err != nil {
		t.Fatalf("WritePacket: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	info, err := os.Stat(path)
	if err != nil {
		t.Fatalf("stat: %v", err)
	}
	if info.Size() == 0 {
		t.Fatal("expected non-empty pcap file")
	}
}
