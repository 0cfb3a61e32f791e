/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import "github.com/comoproject/como/module"

// liveThreshold bounds how far behind the busiest sniffer a quiet one is
// allowed to be before the merger gives up waiting for it and treats it as
// caught up. 10ms, carried over unchanged from the original tuning (which
// flagged the value itself as unverified).
const liveThreshold = module.Timestamp(10000 << 32 / 1000000) // TIME2TS(0, 10000us)

// Cabuf is the process-wide capture ring every batch is materialized into.
// Unlike Ppbuf it is written by a single goroutine (the capture mainloop)
// so it needs no locking.
type Cabuf struct {
	ring []*module.Packet
	size int
	woff int
}

func NewCabuf(size int) *Cabuf {
	return &Cabuf{ring: make([]*module.Packet, size), size: size}
}

// Batch is an ordered run of packets reserved out of the cabuf, exposed as
// up to two contiguous slices so a wrap-around reservation never needs a
// copy.
type Batch struct {
	Pkts0 []*module.Packet
	Pkts1 []*module.Packet

	LastPktTS module.Timestamp
}

func (b *Batch) Count() int { return len(b.Pkts0) + len(b.Pkts1) }

func (b *Batch) At(i int) *module.Packet {
	if i < len(b.Pkts0) {
		return b.Pkts0[i]
	}
	return b.Pkts1[i-len(b.Pkts0)]
}

// reserve copies pkts into the ring starting at woff, wrapping as needed,
// and returns the two views the caller should read back from (the second is
// nil unless the reservation wrapped).
func (c *Cabuf) reserve(pkts []*module.Packet) *Batch {
	n := len(pkts)
	start := c.woff
	first := n
	if start+first > c.size {
		first = c.size - start
	}
	copy(c.ring[start:start+first], pkts[:first])
	var p1 []*module.Packet
	if first < n {
		copy(c.ring[0:n-first], pkts[first:])
		p1 = c.ring[0 : n-first]
	}
	c.woff = (start + n) % c.size
	return &Batch{Pkts0: c.ring[start : start+first], Pkts1: p1}
}

// mergeBatch merges every sniffer's ppbuf into one timestamp-ordered run and
// reserves it in the cabuf. It returns nil when no batch can be formed yet:
// either nothing was captured, or a quiet ppbuf might still receive packets
// that would need to sort ahead of ones already available, and no other
// ppbuf is full enough to force the issue.
func mergeBatch(cabuf *Cabuf, ppbufs []*Ppbuf) *Batch {
	const infTS = module.Timestamp(^uint64(0))

	bc := len(ppbufs)
	var maxLastTS module.Timestamp
	oneFull := false
	for _, pb := range ppbufs {
		if pb.LastPktTS() > maxLastTS {
			maxLastTS = pb.LastPktTS()
		}
		if pb.Full() {
			oneFull = true
		}
	}

	ts := make([]module.Timestamp, bc)
	total := 0
	for i, pb := range ppbufs {
		if pb.Count() > 0 {
			pkt, _ := pb.Peek()
			ts[i] = pkt.TS
			total += pb.Count()
			continue
		}
		if !oneFull && maxLastTS-pb.LastPktTS() <= liveThreshold {
			// this ppbuf is recent enough that it might still fill in
			// packets that belong before ones we already have; wait.
			return nil
		}
		ts[i] = infTS
	}
	if total == 0 {
		return nil
	}

	merged := make([]*module.Packet, 0, total)
	var lastTS module.Timestamp
	for len(merged) < total {
		minI, minTS := -1, infTS
		for i, t := range ts {
			if t < minTS {
				minTS, minI = t, i
			}
		}
		pb := ppbufs[minI]
		pkt := pb.Next()
		merged = append(merged, pkt)
		lastTS = pkt.TS

		if pb.Count() > 0 {
			next, _ := pb.Peek()
			ts[minI] = next.TS
			continue
		}
		if maxLastTS-pb.LastPktTS() <= liveThreshold {
			break // stop early: pb might still grow, revisit next round
		}
		ts[minI] = infTS
	}

	batch := cabuf.reserve(merged)
	batch.LastPktTS = lastTS
	return batch
}
