// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

// Package flowtables holds the diverter's four independent concurrent flow
// maps. Each map is guarded by its own mutual-exclusion primitive; a probe of
// one table never holds a lock while acquiring another, so no cross-table
// lock ordering is required.
package flowtables

import (
	"net/netip"
	"sync"

	"github.com/google/uuid"

	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
)

// Endpoint is a (dst_ip, dst_port) pair recorded by the sessions table to
// detect the first packet of a new conversation. ID correlates every log
// line written about this session, from the first redirect through any
// execute-command launch it triggers.
type Endpoint struct {
	IP   netip.Addr
	Port uint16
	ID   uuid.UUID
}

// sessionTable maps a local source port to the (dst_ip, dst_port) last seen
// for it, used purely to detect new-conversation starts.
type sessionTable struct {
	mu sync.RWMutex
	m  map[uint16]Endpoint
}

// ipTable maps a source endpoint key to a single address value. Used by
// ip_fwd (original foreign dst_ip).
type ipTable struct {
	mu sync.RWMutex
	m  map[flowkey.Key]netip.Addr
}

// portTable maps a source endpoint key to a single port value. Used by
// port_fwd (original dst_port) and ignore (dst_port to ignore for).
type portTable struct {
	mu sync.RWMutex
	m  map[flowkey.Key]uint16
}

// Tables bundles the four flow maps the decision engine consults. It is
// constructed once and shared (by reference) across all pipeline goroutines;
// all synchronization is internal.
type Tables struct {
	Sessions sessionTable
	IPFwd    ipTable
	PortFwd  portTable
	Ignore   portTable
}

// New constructs an empty set of flow tables.
func New() *Tables {
	return &Tables{
		Sessions: sessionTable{m: make(map[uint16]Endpoint)},
		IPFwd:    ipTable{m: make(map[flowkey.Key]netip.Addr)},
		PortFwd:  portTable{m: make(map[flowkey.Key]uint16)},
		Ignore:   portTable{m: make(map[flowkey.Key]uint16)},
	}
}

// Get returns the endpoint recorded for sport and whether it was present.
func (t *sessionTable) Get(sport uint16) (Endpoint, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.m[sport]
	return e, ok
}

// Put records the (dst_ip, dst_port) last observed for sport, assigning it a
// fresh correlation ID, and returns the stored entry.
func (t *sessionTable) Put(sport uint16, ip netip.Addr, port uint16) Endpoint {
	e := Endpoint{IP: ip, Port: port, ID: uuid.New()}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[sport] = e
	return e
}

// Len returns the current number of tracked sessions.
func (t *sessionTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// Get returns the value stored for key and whether it was present.
func (t *ipTable) Get(key flowkey.Key) (netip.Addr, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.m[key]
	return v, ok
}

// Put inserts or overwrites the value for key.
func (t *ipTable) Put(key flowkey.Key, v netip.Addr) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key] = v
}

// Delete removes key if present; it is a no-op otherwise.
func (t *ipTable) Delete(key flowkey.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, key)
}

// Contains reports whether key has an entry.
func (t *ipTable) Contains(key flowkey.Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.m[key]
	return ok
}

// Len returns the current number of entries.
func (t *ipTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}

// Get returns the value stored for key and whether it was present.
func (t *portTable) Get(key flowkey.Key) (uint16, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	v, ok := t.m[key]
	return v, ok
}

// Put inserts or overwrites the value for key.
func (t *portTable) Put(key flowkey.Key, v uint16) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.m[key] = v
}

// Delete removes key if present; it is a no-op otherwise.
func (t *portTable) Delete(key flowkey.Key) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.m, key)
}

// Contains reports whether key has an entry.
func (t *portTable) Contains(key flowkey.Key) bool {
	t.mu.RLock()
	defer t.mu.RUnlock()
	_, ok := t.m[key]
	return ok
}

// Len returns the current number of entries.
func (t *portTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.m)
}
