/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package export

import (
	"testing"

	"github.com/comoproject/como/module"
)

func TestEtableFindInsertMoveToFront(t *testing.T) {
	et := NewEtable(4)

	r1 := &module.Record{Hash: 1}
	e1 := &eentry{rec: r1}
	et.insertHead(1, e1)

	r2 := &module.Record{Hash: 1}
	e2 := &eentry{rec: r2}
	et.insertHead(1, e2)

	if et.buckets[1&(et.size-1)] != e2 {
		t.Fatal("insertHead should place the newest entry at the bucket head")
	}

	found := et.find(1, nil, nil)
	if found != e2 {
		t.Fatal("find with nil ematch should return the bucket head")
	}

	et.moveToFront(1, e1)
	if et.buckets[1&(et.size-1)] != e1 {
		t.Fatal("moveToFront should promote e1 to the bucket head")
	}
	// e2 should still be reachable, just no longer at the head.
	idx := 1 & (et.size - 1)
	seen := false
	for e := et.buckets[idx]; e != nil; e = e.next {
		if e == e2 {
			seen = true
		}
	}
	if !seen {
		t.Fatal("e2 should still be linked into the chain after moveToFront")
	}
}

func TestEarrayAppendRemoveSwapCompaction(t *testing.T) {
	a := &Earray{}
	e0 := &eentry{rec: &module.Record{Hash: 0}}
	e1 := &eentry{rec: &module.Record{Hash: 1}}
	e2 := &eentry{rec: &module.Record{Hash: 2}}
	a.Append(e0)
	a.Append(e1)
	a.Append(e2)

	a.Remove(0) // swaps e2 into slot 0
	if a.Len() != 2 {
		t.Fatalf("len = %d, want 2", a.Len())
	}
	if a.At(0) != e2.rec {
		t.Fatal("Remove should swap the last live entry into the removed slot")
	}
	if e2.idx != 0 {
		t.Fatalf("e2.idx = %d, want 0 after swap", e2.idx)
	}
}

func TestEarraySort(t *testing.T) {
	a := &Earray{}
	vals := []uint32{3, 1, 2}
	for _, v := range vals {
		a.Append(&eentry{rec: &module.Record{Hash: v}})
	}
	a.Sort(func(x, y *module.Record) int { return int(x.Hash) - int(y.Hash) })
	for i := 0; i < a.Len(); i++ {
		if a.At(i).Hash != uint32(i+1) {
			t.Fatalf("sorted[%d].Hash = %d, want %d", i, a.At(i).Hash, i+1)
		}
	}
}
