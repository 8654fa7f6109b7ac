// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

// Package nflogsrc mirrors traffic into the pcap capture file via NFLOG.
// cmd/divert uses it, whenever dump_packets is set, for packets that local
// processes originate: the output-hook rule from queuesetup.InstallOutputLog
// logs them, and the prerouting NFQUEUE hook never sees them. Unlike
// nfqueuesrc it never verdicts a packet; NFLOG copies are purely passive.
package nflogsrc

import (
	"context"
	"fmt"

	"github.com/florianl/go-nflog/v2"
)

// Sink is called once per logged packet with its raw octets.
type Sink func(octets []byte)

// Source owns one NFLOG group socket.
type Source struct {
	nf *nflog.Nflog
}

// Open binds to groupNum.
func Open(groupNum uint16) (*Source, error) {
	cfg := nflog.Config{
		Group:    groupNum,
		Copymode: nflog.NfUlnlCopyPacket,
	}
	nf, err := nflog.Open(&cfg)
	if err != nil {
		return nil, fmt.Errorf("nflogsrc: open group %d: %w", groupNum, err)
	}
	return &Source{nf: nf}, nil
}

// Run registers sink as the packet callback and blocks until ctx is canceled.
func (s *Source) Run(ctx context.Context, sink Sink) error {
	fn := func(a nflog.Attribute) int {
		if a.Payload == nil {
			return 0
		}
		sink(*a.Payload)
		return 0
	}
	errFn := func(e error) int { return 0 }

	if err := s.nf.RegisterWithErrorFunc(ctx, fn, errFn); err != nil {
		return fmt.Errorf("nflogsrc: register: %w", err)
	}
	<-ctx.Done()
	return ctx.Err()
}

// Close releases the NFLOG socket.
func (s *Source) Close() error {
	return s.nf.Close()
}
