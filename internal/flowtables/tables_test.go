// Copyright (C) 2026 flare-fakenet-ng contributors. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package flowtables

import (
	"net/netip"
	"testing"

	"github.com/wangwu0705/flare-fakenet-ng/internal/flowkey"
)

func TestSessionTable_PutAssignsDistinctCorrelationIDs(t *testing.T) {
	tbl := sessionTable{m: make(map[uint16]Endpoint)}
	dst := netip.MustParseAddr("93.184.216.34")

	first := tbl.Put(40000, dst, 80)
	second := tbl.Put(40001, dst, 443)

	if first.ID == second.ID {
		t.Errorf("expected distinct correlation IDs, got %s twice", first.ID)
	}

	got, ok := tbl.Get(40000)
	if !ok {
		t.Fatalf("expected session for sport 40000")
	}
	if got.ID != first.ID {
		t.Errorf("Get returned ID %s, want %s", got.ID, first.ID)
	}
	if tbl.Len() != 2 {
		t.Errorf("Len() = %d, want 2", tbl.Len())
	}
}

func TestIPTable_PutGetContainsDelete(t *testing.T) {
	tbl := ipTable{m: make(map[flowkey.Key]netip.Addr)}
	key := flowkey.Key{Proto: flowkey.ProtoTCP, IP: netip.MustParseAddr("10.0.0.5"), Port: 443}
	want := netip.MustParseAddr("93.184.216.34")

	if tbl.Contains(key) {
		t.Fatalf("expected empty table to not contain key")
	}

	tbl.Put(key, want)
	got, ok := tbl.Get(key)
	if !ok || got != want {
		t.Fatalf("Get = (%v, %v), want (%v, true)", got, ok, want)
	}
	if !tbl.Contains(key) {
		t.Errorf("expected Contains true after Put")
	}
	if tbl.Len() != 1 {
		t.Errorf("Len() = %d, want 1", tbl.Len())
	}

	tbl.Delete(key)
	if tbl.Contains(key) {
		t.Errorf("expected Contains false after Delete")
	}
}

func TestPortTable_PutGetContainsDelete(t *testing.T) {
	tbl := portTable{m: make(map[flowkey.Key]uint16)}
	key := flowkey.Key{Proto: flowkey.ProtoUDP, IP: netip.MustParseAddr("10.0.0.5"), Port: 53}

	tbl.Put(key, 9001)
	got, ok := tbl.Get(key)
	if !ok || got != 9001 {
		t.Fatalf("Get = (%v, %v), want (9001, true)", got, ok)
	}
	tbl.Delete(key)
	if _, ok := tbl.Get(key); ok {
		t.Errorf("expected Get false after Delete")
	}
}
