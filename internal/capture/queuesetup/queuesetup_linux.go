// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

//go:build linux
// +build linux

// Package queuesetup installs and tears down the single nftables rule that
// hands intercepted packets to the diverter's NFQUEUE: a "queue num N" rule
// in a dedicated table/chain, nothing more. It never touches any table but
// its own.
package queuesetup

import (
	"fmt"

	"github.com/google/nftables"
	"github.com/google/nftables/expr"
)

const (
	tableName = "flare_fakenet"
	chainName = "divert"
)

// Hook installs and removes the diverter's queue rule in its own nftables
// table. It is not a general-purpose firewall rule manager.
type Hook struct {
	queueNum uint16
	table    *nftables.Table
	chain    *nftables.Chain
}

// Install creates the diverter's dedicated table/chain (prerouting, filter
// priority) and adds a single rule that queues every packet to queueNum for
// NFQUEUE delivery.
func Install(queueNum uint16) (*Hook, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("queuesetup: connect: %w", err)
	}

	table := conn.AddTable(&nftables.Table{
		Name:   tableName,
		Family: nftables.TableFamilyINet,
	})
	chain := conn.AddChain(&nftables.Chain{
		Name:     chainName,
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookPrerouting,
		Priority: nftables.ChainPriorityFilter,
	})
	conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Queue{Num: queueNum},
		},
	})

	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("queuesetup: flush: %w", err)
	}

	return &Hook{queueNum: queueNum, table: table, chain: chain}, nil
}

// Remove deletes the diverter's dedicated table, tearing down the queue rule
// along with it.
func (h *Hook) Remove() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("queuesetup: connect: %w", err)
	}
	conn.DelTable(h.table)
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("queuesetup: flush: %w", err)
	}
	return nil
}

// QueueNum returns the NFQUEUE number this hook delivers to.
func (h *Hook) QueueNum() uint16 { return h.queueNum }

// LogHook installs and removes an NFLOG mirror rule in its own nftables
// table/chain.
type LogHook struct {
	groupNum uint16
	table    *nftables.Table
	chain    *nftables.Chain
}

// InstallOutputLog creates a dedicated table/chain on the output hook and
// logs every packet to groupNum. The diverter's queue rule lives on
// prerouting, which never sees packets a process on the box itself
// originates; mirroring output traffic to NFLOG gives the pcap sink
// visibility into that locally generated traffic without paying for a
// second NFQUEUE round trip to userspace.
func InstallOutputLog(groupNum uint16) (*LogHook, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("queuesetup: connect: %w", err)
	}

	table := conn.AddTable(&nftables.Table{
		Name:   tableName + "_output_log",
		Family: nftables.TableFamilyINet,
	})
	chain := conn.AddChain(&nftables.Chain{
		Name:     "output_log",
		Table:    table,
		Type:     nftables.ChainTypeFilter,
		Hooknum:  nftables.ChainHookOutput,
		Priority: nftables.ChainPriorityFilter,
	})
	conn.AddRule(&nftables.Rule{
		Table: table,
		Chain: chain,
		Exprs: []expr.Any{
			&expr.Log{Group: groupNum},
		},
	})

	if err := conn.Flush(); err != nil {
		return nil, fmt.Errorf("queuesetup: flush: %w", err)
	}

	return &LogHook{groupNum: groupNum, table: table, chain: chain}, nil
}

// Remove deletes the log hook's dedicated table.
func (h *LogHook) Remove() error {
	conn, err := nftables.New()
	if err != nil {
		return fmt.Errorf("queuesetup: connect: %w", err)
	}
	conn.DelTable(h.table)
	if err := conn.Flush(); err != nil {
		return fmt.Errorf("queuesetup: flush: %w", err)
	}
	return nil
}

// GroupNum returns the NFLOG group number this hook mirrors to.
func (h *LogHook) GroupNum() uint16 { return h.groupNum }
