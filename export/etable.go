/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package export

import "github.com/comoproject/como/module"

// eentry is one etable bucket-chain link; the same Record also lives at
// earray[idx] so the two structures can be kept in lockstep.
type eentry struct {
	next *eentry
	prev *eentry // for move-to-front
	rec  *module.Record
	idx  int // position in earray.entries, or -1 if not yet recorded there
}

// Etable supports ematch+export's match/update-by-secondary-key path;
// Earray supports the module-ordered sweep store_records performs.
// Together they are one module's persistent aggregated state, surviving
// across capture-table flushes.
type Etable struct {
	buckets []*eentry
	size    int
}

func NewEtable(size int) *Etable {
	size = nextPow2(size)
	return &Etable{buckets: make([]*eentry, size), size: size}
}

func nextPow2(n int) int {
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

// find runs ematch (default: first entry matches) over the bucket the
// capture record's hash selects.
func (et *Etable) find(h uint32, capRec *module.Record, ematch func(exportRec, captureRec *module.Record) bool) *eentry {
	idx := int(h) & (et.size - 1)
	for e := et.buckets[idx]; e != nil; e = e.next {
		if ematch == nil || ematch(e.rec, capRec) {
			return e
		}
	}
	return nil
}

func (et *Etable) insertHead(h uint32, e *eentry) {
	idx := int(h) & (et.size - 1)
	e.next = et.buckets[idx]
	if e.next != nil {
		e.next.prev = e
	}
	e.prev = nil
	et.buckets[idx] = e
}

// moveToFront promotes e within its bucket after a hit, per "move the
// touched record to the front of its bucket".
func (et *Etable) moveToFront(h uint32, e *eentry) {
	idx := int(h) & (et.size - 1)
	if et.buckets[idx] == e {
		return
	}
	if e.prev != nil {
		e.prev.next = e.next
	}
	if e.next != nil {
		e.next.prev = e.prev
	}
	e.prev = nil
	e.next = et.buckets[idx]
	if e.next != nil {
		e.next.prev = e
	}
	et.buckets[idx] = e
}

// Earray holds the module's export records contiguously so store_records
// can qsort it by the module's compare() and walk it in order. Entries
// [0, len(entries)) are always live; a DISCARD swaps the doomed slot with
// the last live one to keep that invariant without shifting the array.
type Earray struct {
	entries []*eentry
}

func (a *Earray) Len() int { return len(a.entries) }

func (a *Earray) Append(e *eentry) {
	e.idx = len(a.entries)
	a.entries = append(a.entries, e)
}

// Remove drops the entry at i by swapping in the last live entry, the
// destroy-by-swap rule the earray's compaction invariant relies on.
func (a *Earray) Remove(i int) {
	last := len(a.entries) - 1
	a.entries[i] = a.entries[last]
	a.entries[i].idx = i
	a.entries = a.entries[:last]
}

func (a *Earray) At(i int) *module.Record { return a.entries[i].rec }

func (a *Earray) Sort(compare func(a, b *module.Record) int) {
	// insertion sort: earrays are swept every flush interval and stay
	// small relative to a full record set between sweeps.
	for i := 1; i < len(a.entries); i++ {
		for j := i; j > 0 && compare(a.entries[j].rec, a.entries[j-1].rec) < 0; j-- {
			a.entries[j], a.entries[j-1] = a.entries[j-1], a.entries[j]
			a.entries[j].idx, a.entries[j-1].idx = j, j-1
		}
	}
}
