// Package memsys provides memory management for CoMo's shared-memory
// allocator.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package memsys_test

import (
	"testing"

	"github.com/comoproject/como/memsys"
)

func newAlloc(t *testing.T) *memsys.Allocator {
	t.Helper()
	a, err := memsys.MemoryInit(4)
	if err != nil {
		t.Fatalf("MemoryInit: %v", err)
	}
	return a
}

func TestAllocFreeRoundTrip(t *testing.T) {
	a := newAlloc(t)
	m := a.Global()

	off, buf, ok := m.Alloc(128)
	if !ok {
		t.Fatal("alloc failed")
	}
	if len(buf) != 128 {
		t.Fatalf("got %d bytes, want 128", len(buf))
	}
	for _, b := range buf {
		if b != 0 {
			t.Fatal("freshly allocated bytes must be zeroed")
		}
	}
	buf[0] = 0xAB
	m.Free(off)

	off2, buf2, ok := m.Alloc(128)
	if !ok {
		t.Fatal("second alloc failed")
	}
	if off2 != off {
		t.Skip("allocator chose a different block; not a correctness issue, exact-fit reuse is best-effort")
	}
	if buf2[0] != 0 {
		t.Fatal("freed bytes must be zeroed before reuse")
	}
}

func TestFreeInvalidOffsetIsFatal(t *testing.T) {
	a := newAlloc(t)
	m := a.Global()
	defer func() {
		if recover() == nil {
			t.Fatal("freeing an out-of-range offset must be fatal")
		}
	}()
	m.Free(memsys.Off(0))
}

func TestUsageTracksWorkingSet(t *testing.T) {
	a := newAlloc(t)
	m := a.Global()

	var offs []memsys.Off
	for i := 0; i < 64; i++ {
		off, _, ok := m.Alloc(256)
		if !ok {
			t.Fatalf("alloc %d failed", i)
		}
		offs = append(offs, off)
	}
	used := a.Usage()
	if used <= 0 {
		t.Fatalf("expected positive usage, got %d", used)
	}
	for _, off := range offs {
		m.Free(off)
	}
	if got := a.Usage(); got != 0 {
		t.Fatalf("usage after freeing everything = %d, want 0", got)
	}
	if a.Peak() < used {
		t.Fatalf("peak %d should be >= max usage %d", a.Peak(), used)
	}
}

func TestBoundedMapOverflowsToCatchAll(t *testing.T) {
	a := newAlloc(t)
	bounded := memsys.NewMemList(a, 2, false)

	sizes := []int{16, 32, 48, 64, 96}
	var offs []memsys.Off
	for _, sz := range sizes {
		off, _, ok := bounded.Alloc(sz)
		if !ok {
			t.Fatalf("alloc(%d) failed", sz)
		}
		offs = append(offs, off)
	}
	for _, off := range offs {
		bounded.Free(off)
	}
	// re-allocating the same sizes must still succeed: overflow blocks
	// land on the bounded map's catch-all list (slot 0), not lost.
	for _, sz := range sizes {
		if _, _, ok := bounded.Alloc(sz); !ok {
			t.Fatalf("re-alloc(%d) after free failed", sz)
		}
	}
}

func TestMergeMapsRecoversAllBytes(t *testing.T) {
	a := newAlloc(t)
	dst := memsys.NewMemList(a, 8, false)
	src := memsys.NewMemList(a, 8, false)

	var (
		total int64
		offs  []memsys.Off
	)
	for _, sz := range []int{32, 32, 64, 128, 256} {
		off, _, ok := src.Alloc(sz)
		if !ok {
			t.Fatalf("alloc(%d) failed", sz)
		}
		offs = append(offs, off)
	}
	for i, off := range offs {
		sz := []int{32, 32, 64, 128, 256}[i]
		total += int64(sz)
		src.Free(off)
	}

	recovered := memsys.MergeMaps(dst, src)
	if recovered != total {
		t.Fatalf("MergeMaps recovered %d bytes, want %d", recovered, total)
	}
	if _, _, ok := dst.Alloc(32); !ok {
		t.Fatal("dst should be able to serve an alloc after merge")
	}
}
