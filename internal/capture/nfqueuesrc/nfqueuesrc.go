// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

// Package nfqueuesrc is the Linux capture backend: it pulls packets from an
// NFQUEUE installed by internal/capture/queuesetup, hands their octets to a
// caller-supplied processing function, and reinjects the (possibly
// rewritten) result with a verdict.
package nfqueuesrc

import (
	"context"
	"fmt"

	"github.com/florianl/go-nfqueue/v2"
)

// Process is called once per intercepted packet. It returns the octets to
// reinject (identical to the input if nothing was mangled) or an error to
// have the packet accepted unmodified. Run discards that error; it is not
// logged.
type Process func(octets []byte) ([]byte, error)

// Source owns one NFQUEUE socket.
type Source struct {
	nf *nfqueue.Nfqueue
}

// Open binds to queueNum. maxQueueLen bounds the kernel-side backlog before
// packets are dropped rather than queued to userspace.
func Open(queueNum uint16, maxQueueLen uint32) (*Source, error) {
	cfg := nfqueue.Config{
		NfQueue:      queueNum,
		MaxPacketLen: 0xFFFF,
		MaxQueueLen:  maxQueueLen,
		Copymode:     nfqueue.NfQnlCopyPacket,
	}
	nf, err := nfqueue.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("nfqueuesrc: open queue %d: %w", queueNum, err)
	}
	return &Source{nf: nf}, nil
}

// Run registers process as the packet callback and blocks until ctx is
// canceled. Every packet is verdicted exactly once: accept-with-reinjected-
// payload on success, accept-unmodified on a processing error.
func (s *Source) Run(ctx context.Context, process Process) error {
	fn := func(a nfqueue.Attribute) int {
		if a.PacketID == nil || a.Payload == nil {
			return 0
		}
		out, err := process(*a.Payload)
		if err != nil {
			_ = s.nf.SetVerdict(*a.PacketID, nfqueue.NfAccept)
			return 0
		}
		_ = s.nf.SetVerdictWithPacket(*a.PacketID, nfqueue.NfAccept, out)
		return 0
	}
	errFn := func(e error) int { return 0 }

	if err := s.nf.RegisterWithErrorFunc(ctx, fn, errFn); err != nil {
		return fmt.Errorf("nfqueuesrc: register: %w", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close releases the NFQUEUE socket.
func (s *Source) Close() error {
	return s.nf.Close()
}
