// Package capture implements the ingest side of the pipeline: merging
// per-sniffer packet streams into ordered batches, running each active
// module's filter and hash-table update over the batch, and sealing
// per-module tables on their flush interval (or early, under memory
// pressure) for handoff to export.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"context"
	"time"

	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/module"
)

// memPressureHighWater is the fraction of the global arena's capacity that
// triggers an out-of-band flexible flush.
const memPressureHighWater = 0.75

// Capture owns the merged ingest loop for one process: every sniffer
// feeding it, one station per active module, and the shared arena they
// allocate records from.
type Capture struct {
	global *memsys.Allocator
	cabuf  *Cabuf

	sniffers []*sniffEntry
	stations []*Station

	hist LoadHistogram

	// OnFlush is invoked at most once per Step with the head of any
	// tables sealed during that step -- the capture side of the FLUSH
	// IPC round-trip with export. Required.
	OnFlush func(head *ExpiredTable)
}

func NewCapture(global *memsys.Allocator, cabufSize int) *Capture {
	return &Capture{global: global, cabuf: NewCabuf(cabufSize)}
}

func (c *Capture) AddSniffer(s Sniffer, ppbufSize int) {
	c.sniffers = append(c.sniffers, &sniffEntry{s: s, pb: NewPpbuf(ppbufSize), active: true})
}

// AddModule activates a module for capture, running its init() and
// allocating nothing further until the first packet touches it.
func (c *Capture) AddModule(desc *module.Descriptor, filter func(pkt *module.Packet) bool) error {
	st, err := NewStation(desc, filter)
	if err != nil {
		return err
	}
	c.stations = append(c.stations, st)
	return nil
}

func (c *Capture) RemoveModule(name string) {
	for i, st := range c.stations {
		if st.Descriptor.Name == name {
			c.stations = append(c.stations[:i], c.stations[i+1:]...)
			return
		}
	}
}

// Step runs one ingest iteration: poll every active, unfrozen sniffer,
// merge whatever they produced into a batch, and drive every module's
// filter/hash/flush pipeline over it. Returns the batch actually processed,
// or nil if no batch could be formed this round (caller should back off
// briefly and retry).
func (c *Capture) Step() *Batch {
	gotPackets := false
	for _, se := range c.sniffers {
		if !se.active || se.frozen {
			continue
		}
		n, dropped, err := se.s.Next(se.pb)
		if err != nil {
			nlog.Warningf("capture: sniffer %q failed: %v", se.s.Name(), err)
			se.active = false
			continue
		}
		se.pb.End()
		se.drops += uint64(dropped)
		if n > 0 {
			gotPackets = true
		}
	}
	if !gotPackets {
		return nil
	}

	ppbufs := make([]*Ppbuf, 0, len(c.sniffers))
	for _, se := range c.sniffers {
		ppbufs = append(ppbufs, se.pb)
	}
	batch := mergeBatch(c.cabuf, ppbufs)
	if batch == nil {
		return nil
	}

	var expired expiredList
	var loadBytes uint64
	for i := 0; i < batch.Count(); i++ {
		pkt := batch.At(i)
		loadBytes += uint64(pkt.CapLen)
		if pkt.TS == 0 {
			continue
		}
		for _, st := range c.stations {
			if st.Filter != nil && !st.Filter(pkt) {
				continue
			}
			st.tick(pkt, c.global, &expired)
			st.Process(pkt)
		}
	}
	c.hist.Add(batch.LastPktTS, loadBytes)

	c.checkMemoryPressure(batch.LastPktTS, &expired)

	if !expired.empty() {
		c.OnFlush(expired.drain())
	}

	for _, se := range c.sniffers {
		se.pb.Begin()
	}
	return batch
}

// checkMemoryPressure forces an early flexible flush on every eligible
// module once the shared arena crosses its high-water mark; stations
// without a flexible flush capability are left alone (they may instead
// eventually freeze file-backed sniffers, handled by the caller).
func (c *Capture) checkMemoryPressure(ts module.Timestamp, out *expiredList) {
	if !c.MemoryPressureAbove(c.global.Capacity()) {
		return
	}
	for _, st := range c.stations {
		st.forceFlexibleFlush(ts, c.global, out)
	}
}

// MemoryPressureAbove reports whether the shared arena's live usage is over
// the flush-eligible fraction of capacity.
func (c *Capture) MemoryPressureAbove(capacity int64) bool {
	return float64(c.global.Usage()) > memPressureHighWater*float64(capacity)
}

// Freeze pauses every file-backed sniffer; live sniffers are never frozen
// and instead drop under pressure.
func (c *Capture) Freeze() {
	for _, se := range c.sniffers {
		if se.s.FileBacked() {
			se.frozen = true
		}
	}
}

func (c *Capture) Unfreeze() {
	for _, se := range c.sniffers {
		se.frozen = false
	}
}

// Run drives Step in a loop until ctx is canceled, backing off briefly
// whenever a round produces no batch so an idle capture process doesn't
// spin.
func (c *Capture) Run(ctx context.Context) error {
	idle := 5 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		if c.Step() == nil {
			time.Sleep(idle)
		}
	}
}
