/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/module"
)

// recordBlockSize is the fixed-size shared-memory block backing each
// record header. The module's own payload lives in rec.Bytes/rec.User
// (ordinary Go memory); this block exists so the table's arena genuinely
// accounts for and can merge back every live record, the way the original
// per-record shared-memory block does.
const recordBlockSize = 64

// entry is one bucket-chain link. A record chain (several entries sharing a
// logical record because the module's update() reported it full) shares one
// bucket slot but counts once against Ctable.records.
type entry struct {
	next           *entry
	prevSameRecord *entry
	rec            *module.Record
	off            memsys.Off
}

// Ctable is the per-module, per-interval capture hash table: power-of-two
// buckets, each a singly linked chain of entries.
type Ctable struct {
	buckets []*entry
	size    int

	records     int
	liveBuckets int
	firstFull   int
	lastFull    int

	ivl module.Timestamp
	ts  module.Timestamp

	flexible bool
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func NewCtable(size int) *Ctable {
	size = nextPow2(size)
	return &Ctable{buckets: make([]*entry, size), size: size, firstFull: -1, lastFull: -1}
}

func (ct *Ctable) Records() int     { return ct.records }
func (ct *Ctable) LiveBuckets() int { return ct.liveBuckets }

// TS is the timestamp of the last packet processed, or the flush boundary
// once the table has been sealed.
func (ct *Ctable) TS() module.Timestamp { return ct.ts }

func (ct *Ctable) touch(idx int) {
	if ct.firstFull < 0 {
		ct.firstFull, ct.lastFull = idx, idx
		return
	}
	if idx < ct.firstFull {
		ct.firstFull = idx
	}
	if idx > ct.lastFull {
		ct.lastFull = idx
	}
}

// Process drives one packet through the hash/match/update chain for one
// module, per the bucket-resolution and chaining rules: a match on a
// non-full record updates in place; a match on a full record grows the
// chain with a new record linked as newer; no match inserts fresh at the
// bucket head. Reports false if the packet had to be dropped for this
// module because the shared arena is exhausted -- the caller (Station)
// is responsible for counting the drop; Process never allocates a record
// at a failed offset.
func (ct *Ctable) Process(pkt *module.Packet, b *module.Behavior, cfg any, mem *memsys.Map) bool {
	if b.Check != nil && !b.Check(pkt, cfg) {
		return true
	}

	var h uint32
	if b.Hash != nil {
		h = b.Hash(pkt, cfg)
	}
	idx := int(h) & (ct.size - 1)
	ct.touch(idx)

	head := ct.buckets[idx]
	var candidate *entry
	for e := head; e != nil; e = e.next {
		if b.Match == nil {
			candidate = e
			break
		}
		if b.Match(pkt, e.rec, cfg) {
			candidate = e
			break
		}
	}

	switch {
	case candidate != nil && !candidate.rec.Full:
		candidate.rec.Full = b.Update(pkt, candidate.rec, false, cfg)
	case candidate != nil && candidate.rec.Full:
		off, _, ok := mem.Alloc(recordBlockSize)
		if !ok {
			return false
		}
		rec := &module.Record{Hash: h}
		e := &entry{rec: rec, prevSameRecord: candidate, next: head, off: off}
		ct.buckets[idx] = e
		rec.Full = b.Update(pkt, rec, true, cfg)
	default:
		off, _, ok := mem.Alloc(recordBlockSize)
		if !ok {
			return false
		}
		rec := &module.Record{Hash: h}
		e := &entry{rec: rec, next: head, off: off}
		ct.buckets[idx] = e
		ct.records++
		if head == nil {
			ct.liveBuckets++
		}
		rec.Full = b.Update(pkt, rec, true, cfg)
	}

	ct.ts = pkt.TS
	return true
}

// Free releases every live record's shared-memory block back to mem -- the
// export side calls this once a flushed table's records have all been
// absorbed, before merging mem's now-empty free lists back into the
// process-wide arena.
func (ct *Ctable) Free(mem *memsys.Map) {
	if ct.firstFull < 0 {
		return
	}
	for i := ct.firstFull; i <= ct.lastFull; i++ {
		for e := ct.buckets[i]; e != nil; e = e.next {
			mem.Free(e.off)
		}
	}
}

// Range walks every live record in bucket order, limited to the
// [firstFull, lastFull] span actually touched since the table was created.
func (ct *Ctable) Range(fn func(rec *module.Record)) {
	if ct.firstFull < 0 {
		return
	}
	for i := ct.firstFull; i <= ct.lastFull; i++ {
		for e := ct.buckets[i]; e != nil; e = e.next {
			fn(e.rec)
		}
	}
}
