// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build windows
// +build windows

// Package windivertsrc is the Windows capture backend contract. WinDivert
// driver interop (loading the kernel driver, opening a handle, the
// WinDivertRecv/Send loop) is outside this project's scope; this package
// defines the Source interface the pipeline needs from any backend so a
// driver binding can be dropped in without touching internal/pipeline.
package windivertsrc

import (
	"context"
	"fmt"
)

// Process is called once per intercepted packet, mirroring nfqueuesrc.Process.
type Process func(octets []byte) ([]byte, error)

// Source is the capture-backend contract a WinDivert binding would implement.
type Source interface {
	Run(ctx context.Context, process Process) error
	Close() error
}

// Open always fails: no WinDivert driver binding ships with this project.
func Open(filter string) (Source, error) {
	return nil, fmt.Errorf("windivertsrc: WinDivert driver interop is not implemented")
}
