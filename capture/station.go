/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/module"
)

// Station is everything capture privately owns for one active module: its
// current capture table and the shared-memory arena backing it, the
// compiled filter supplied by the (out-of-scope) filter compiler, and the
// module's own init()-returned configuration.
type Station struct {
	Descriptor *module.Descriptor
	Filter     func(pkt *module.Packet) bool
	Cfg        any

	table *Ctable
	mem   *memsys.Map

	flushIvl   module.Timestamp
	flushState any

	drops uint64
}

func NewStation(desc *module.Descriptor, filter func(pkt *module.Packet) bool) (*Station, error) {
	cfg, err := desc.Behavior.Init(desc.Args)
	if err != nil {
		return nil, err
	}
	return &Station{
		Descriptor: desc,
		Filter:     filter,
		Cfg:        cfg,
		flushIvl:   module.DurationToTimestamp(desc.FlushIvl),
	}, nil
}

// ensureTable lazily (re)allocates the capture table and its backing arena,
// aligning the fresh table's interval start to a flush_ivl boundary and
// giving the module a chance to prime its per-interval flush state.
func (s *Station) ensureTable(ts module.Timestamp, global *memsys.Allocator, flexible bool) {
	if s.table != nil {
		return
	}
	s.mem = memsys.NewMemList(global, 8, false)
	s.table = NewCtable(s.Descriptor.CaptureTableSize)
	s.table.flexible = flexible
	s.table.ivl = ts - ts%s.flushIvl
	if s.Descriptor.Behavior.HasFlexibleFlush() {
		s.flushState = s.Descriptor.Behavior.Flush(s.Cfg)
	}
}

// tick applies the per-packet flush rule before the packet is itself
// processed: a table whose interval has elapsed is sealed (if it holds
// records, or is flexible) and handed to out; otherwise, if empty and
// rigid, its interval simply slides forward to the packet's own slot.
func (s *Station) tick(pkt *module.Packet, global *memsys.Allocator, out *expiredList) {
	s.ensureTable(pkt.TS, global, false)

	ivlEnd := s.table.ivl + s.flushIvl
	if pkt.TS < ivlEnd {
		return
	}
	if s.table.records > 0 || s.table.flexible {
		s.seal(ivlEnd, out)
		s.ensureTable(pkt.TS, global, false)
		return
	}
	s.table.ivl = pkt.TS - pkt.TS%s.flushIvl
}

// seal closes the current table at boundary ts and appends it to out,
// releasing capture's ownership of both table and arena.
func (s *Station) seal(ts module.Timestamp, out *expiredList) {
	s.table.ts = ts
	out.push(&ExpiredTable{
		Descriptor: s.Descriptor,
		Table:      s.table,
		Mem:        s.mem,
		FlushState: s.flushState,
	})
	s.table, s.mem, s.flushState = nil, nil, nil
}

// forceFlexibleFlush implements the memory-pressure path: the module must
// have flexible flush to be eligible, and the table it's handed afterward
// is marked flexible so a subsequent empty-table store_records sweep for
// the same interval is still legal.
func (s *Station) forceFlexibleFlush(ts module.Timestamp, global *memsys.Allocator, out *expiredList) {
	if !s.Descriptor.Behavior.HasFlexibleFlush() || s.table == nil {
		return
	}
	s.seal(ts, out)
	s.ensureTable(ts, global, true)
}

// Process drives pkt through the station's current table. A packet dropped
// for arena exhaustion (spec §7: "never kills the process") is counted in
// drops rather than propagated as an error.
func (s *Station) Process(pkt *module.Packet) {
	if pkt.TS == 0 {
		return
	}
	if pkt.TS < s.table.ts {
		// non-monotonic: logged, still accepted.
		nlog.Infof("capture: %s: non-monotonic timestamp %d after %d", s.Descriptor.Name, pkt.TS, s.table.ts)
	}
	if !s.table.Process(pkt, &s.Descriptor.Behavior, s.Cfg, s.mem) {
		s.drops++
	}
}

// Drops reports how many packets this station has dropped due to arena
// exhaustion since the station was created.
func (s *Station) Drops() uint64 { return s.drops }
