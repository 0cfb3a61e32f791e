// Package memsys implements the shared-memory allocator capture and export
// use to hand off aggregation tables: a single mmap-backed slab, block
// headers carrying a free/in-use magic and a free-list link, and
// per-module "maps" (memlist) of size-indexed free lists that can be
// merged back into the global map in bulk. Capture and export run
// colocated in one process and share one Allocator. Sealed tables pass
// from capture to export as Go pointers (capture.ExpiredTable); Off is the
// handle for the slab blocks those tables account their records in.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package memsys

import (
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// Off is a byte offset into the shared slab, the handle a Map hands out
// for every block. Off(0) is reserved and never a valid block.
type Off uint64

const (
	magicFree  uint32 = 0xFEEDFACE
	magicInUse uint32 = 0xC0FFEE11

	hdrSize = 16 // magic(4) + size(4) + next(8)

	// align is the granularity every block size is rounded up to.
	align = 8

	// MinSize is the smallest remainder worth splitting off a larger
	// block; a remainder below MinSize+hdrSize is left attached to the
	// block that was handed out instead.
	MinSize = 32

	// reserved is the slab prefix set aside so that offset 0 can mean
	// "nil" unambiguously.
	reserved = hdrSize
)

func roundUp(n int) uint32 {
	u := uint32(n)
	if r := u % align; r != 0 {
		u += align - r
	}
	return u
}

// Allocator owns exactly one mmap'd slab. A process creates it once, at
// startup, via MemoryInit, and every Map it hands out (global or bounded)
// draws raw bytes from the same slab.
type Allocator struct {
	slab   []byte
	top    atomic.Uint64 // bump pointer for never-yet-carved bytes
	cap    uint64
	usage  atomic.Int64
	peak   atomic.Int64
	global *Map
}

// MemoryInit mmaps an anonymous, shared slab of the given size (MiB) and
// returns an Allocator whose Global() map is reallocable -- its slot array
// may grow without bound, unlike a per-module bounded map.
func MemoryInit(mb int) (*Allocator, error) {
	size := mb * 1024 * 1024
	b, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED|unix.MAP_ANON)
	if err != nil {
		return nil, fmt.Errorf("memsys: mmap %d bytes: %w", size, err)
	}
	a := &Allocator{slab: b, cap: uint64(size)}
	a.top.Store(reserved)
	a.global = NewMemList(a, 64, true)
	return a, nil
}

func (a *Allocator) Global() *Map { return a.global }

func (a *Allocator) Usage() int64    { return a.usage.Load() }
func (a *Allocator) Peak() int64     { return a.peak.Load() }
func (a *Allocator) Capacity() int64 { return int64(a.cap) }

// Bytes materializes a slab region as a byte slice local to this process.
// It is the only place an Off becomes an addressable reference.
func (a *Allocator) Bytes(off Off, size int) []byte {
	return a.slab[uint64(off) : uint64(off)+uint64(size)]
}

func (a *Allocator) header(off Off) (magic, size uint32, next Off) {
	b := a.slab[off : off+hdrSize]
	magic = binary.BigEndian.Uint32(b[0:4])
	size = binary.BigEndian.Uint32(b[4:8])
	next = Off(binary.BigEndian.Uint64(b[8:16]))
	return
}

func (a *Allocator) setHeader(off Off, magic, size uint32, next Off) {
	b := a.slab[off : off+hdrSize]
	binary.BigEndian.PutUint32(b[0:4], magic)
	binary.BigEndian.PutUint32(b[4:8], size)
	binary.BigEndian.PutUint64(b[8:16], uint64(next))
}

func (a *Allocator) userBytes(off Off, size uint32) []byte {
	return a.slab[uint64(off)+hdrSize : uint64(off)+hdrSize+uint64(size)]
}

// newBlock bump-allocates a fresh, never-before-used block of the given
// user size. Returns ok=false once the slab is exhausted -- the caller
// (Map.Alloc) must degrade failure semantics.
func (a *Allocator) newBlock(size uint32) (off Off, ok bool) {
	need := uint64(hdrSize) + uint64(size)
	for {
		cur := a.top.Load()
		if cur+need > a.cap {
			return 0, false
		}
		if a.top.CompareAndSwap(cur, cur+need) {
			off = Off(cur)
			a.setHeader(off, magicInUse, size, 0)
			return off, true
		}
	}
}

// validate panics (a fatal error) unless off lies inside the slab and
// carries the expected magic.
func (a *Allocator) validate(off Off, wantMagic uint32) {
	if uint64(off) < reserved || uint64(off)+hdrSize > a.cap {
		panic(fmt.Sprintf("memsys: offset %d out of slab bounds", off))
	}
	magic, _, _ := a.header(off)
	if magic != wantMagic {
		panic(fmt.Sprintf("memsys: offset %d: bad magic %x, want %x", off, magic, wantMagic))
	}
}

// Map is a memlist: a per-scope table of size-indexed free lists plus a
// catch-all overflow list at slot 0. A bounded map belongs to a single
// module and never grows its slot array; the global map may.
type Map struct {
	mu      sync.Mutex
	alloc   *Allocator
	bounded bool
	sizes   []uint32 // sizes[0] is unused (slot 0 is the catch-all)
	heads   []Off
}

// NewMemList creates a map with room for `entries` distinct size classes.
// A bounded (non-reallocable) map is a per-module arena; the
// process-wide Allocator.Global() is the only reallocable one.
func NewMemList(a *Allocator, entries int, reallocable bool) *Map {
	if entries < 1 {
		entries = 1
	}
	return &Map{
		alloc:   a,
		bounded: !reallocable,
		sizes:   make([]uint32, entries),
		heads:   make([]Off, entries),
	}
}

func (m *Map) slotFor(size uint32) int {
	for i := 1; i < len(m.sizes); i++ {
		if m.sizes[i] == size {
			return i
		}
	}
	return -1
}

func (m *Map) firstFreeSlot() int {
	for i := 1; i < len(m.sizes); i++ {
		if m.sizes[i] == 0 {
			return i
		}
	}
	return -1
}

// bestFitSlot returns the indexed slot holding the smallest block that is
// still >= size, or -1 if none qualifies.
func (m *Map) bestFitSlot(size uint32) int {
	best, bestSize := -1, uint32(0)
	for i := 1; i < len(m.sizes); i++ {
		if m.heads[i] == 0 || m.sizes[i] < size {
			continue
		}
		if best == -1 || m.sizes[i] < bestSize {
			best, bestSize = i, m.sizes[i]
		}
	}
	return best
}

// insert places a free block into the map, picking (or creating) its size
// slot. Overflow -- no room for a new slot on a bounded map, or no
// existing slot matches -- goes onto slot 0's catch-all list.
func (m *Map) insert(off Off, size uint32) {
	a := m.alloc
	if slot := m.slotFor(size); slot != -1 {
		_, _, _ = a.header(off)
		a.setHeader(off, magicFree, size, m.heads[slot])
		m.heads[slot] = off
		return
	}
	if slot := m.firstFreeSlot(); slot != -1 {
		m.sizes[slot] = size
		a.setHeader(off, magicFree, size, 0)
		m.heads[slot] = off
		return
	}
	if !m.bounded {
		// grow the global map's slot table by doubling.
		grown := make([]uint32, len(m.sizes)*2)
		ghead := make([]Off, len(m.heads)*2)
		copy(grown, m.sizes)
		copy(ghead, m.heads)
		m.sizes, m.heads = grown, ghead
		slot := m.firstFreeSlot()
		m.sizes[slot] = size
		a.setHeader(off, magicFree, size, 0)
		m.heads[slot] = off
		return
	}
	// bounded map, no free slot: push onto the slot-0 catch-all list.
	a.setHeader(off, magicFree, size, m.heads[0])
	m.heads[0] = off
}

// popOverflow does a first-fit linear scan of the slot-0 catch-all list.
func (m *Map) popOverflow(size uint32) (Off, bool) {
	a := m.alloc
	var prev Off
	cur := m.heads[0]
	for cur != 0 {
		_, sz, next := a.header(cur)
		if sz >= size {
			if prev == 0 {
				m.heads[0] = next
			} else {
				_, psz, _ := a.header(prev)
				a.setHeader(prev, magicFree, psz, next)
			}
			return cur, true
		}
		prev, cur = cur, next
	}
	return 0, false
}

// Alloc implements alloc(): exact match, then best-fit among indexed
// slots, then catch-all overflow, then a fresh block carved off the slab.
// Returns (0, nil, false) on exhaustion -- the caller must degrade, never
// treat this as fatal.
func (m *Map) Alloc(size int) (off Off, buf []byte, ok bool) {
	want := roundUp(size)
	m.mu.Lock()
	defer m.mu.Unlock()

	var chosen Off
	if slot := m.slotFor(want); slot != -1 && m.heads[slot] != 0 {
		chosen = m.heads[slot]
		_, _, next := m.alloc.header(chosen)
		m.heads[slot] = next
	} else if slot := m.bestFitSlot(want); slot != -1 {
		chosen = m.heads[slot]
		_, _, next := m.alloc.header(chosen)
		m.heads[slot] = next
	} else if o, found := m.popOverflow(want); found {
		chosen = o
	} else {
		o, fresh := m.alloc.newBlock(want)
		if !fresh {
			return 0, nil, false
		}
		chosen = o
	}

	_, actualSize, _ := m.alloc.header(chosen)
	if actualSize == 0 {
		actualSize = want
	}
	if rem := actualSize - want; rem >= MinSize+hdrSize {
		// split: carve the tail off as an independent free block.
		tailOff := chosen + Off(hdrSize) + Off(want)
		tailSize := rem - hdrSize
		m.alloc.setHeader(tailOff, magicFree, tailSize, 0)
		m.insert(tailOff, tailSize)
		actualSize = want
	}

	m.alloc.setHeader(chosen, magicInUse, actualSize, 0)
	user := m.alloc.userBytes(chosen, actualSize)
	for i := range user {
		user[i] = 0
	}
	m.alloc.usage.Add(int64(actualSize))
	if u := m.alloc.usage.Load(); u > m.alloc.peak.Load() {
		m.alloc.peak.Store(u)
	}
	return chosen, user[:size:actualSize], true
}

// Free implements free(): validates the in-use magic (fatal if wrong or
// out of range), zeroes the user bytes, and reinserts into this map's
// free lists.
func (m *Map) Free(off Off) {
	a := m.alloc
	a.validate(off, magicInUse)
	_, size, _ := a.header(off)

	m.mu.Lock()
	defer m.mu.Unlock()

	user := a.userBytes(off, size)
	for i := range user {
		user[i] = 0
	}
	m.insert(off, size)
	a.usage.Add(-int64(size))
}

// MergeMaps returns src's blocks to dst: matching size classes are
// concatenated list-to-list; anything left (src's catch-all, or a class
// dst has no room for) is reinserted block by block. Returns the number of
// bytes recovered.
func MergeMaps(dst, src *Map) int64 {
	if dst == src {
		return 0
	}
	dst.mu.Lock()
	src.mu.Lock()
	defer src.mu.Unlock()
	defer dst.mu.Unlock()

	var recovered int64
	a := dst.alloc

	for i := 1; i < len(src.sizes); i++ {
		if src.heads[i] == 0 {
			continue
		}
		size := src.sizes[i]
		if slot := dst.slotFor(size); slot != -1 {
			// splice src's list onto the front of dst's matching list.
			tail := src.heads[i]
			for {
				_, sz, next := a.header(tail)
				recovered += int64(sz)
				if next == 0 {
					a.setHeader(tail, magicFree, sz, dst.heads[slot])
					break
				}
				tail = next
			}
			dst.heads[slot] = src.heads[i]
		} else {
			cur := src.heads[i]
			for cur != 0 {
				_, sz, next := a.header(cur)
				recovered += int64(sz)
				dst.insert(cur, sz)
				cur = next
			}
		}
		src.heads[i] = 0
		src.sizes[i] = 0
	}

	cur := src.heads[0]
	for cur != 0 {
		_, sz, next := a.header(cur)
		recovered += int64(sz)
		dst.insert(cur, sz)
		cur = next
	}
	src.heads[0] = 0

	return recovered
}
