/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import "github.com/comoproject/como/module"

// Ppbuf is a per-sniffer ring of packet pointers. A sniffer fills it during
// its capture round (Begin/Capture*/End) and the batch merger drains it
// (Peek/Next) afterward.
type Ppbuf struct {
	pp   []*module.Packet
	size int
	woff int
	roff int
	count int
	captured int

	lastPktTS module.Timestamp
}

func NewPpbuf(size int) *Ppbuf {
	return &Ppbuf{pp: make([]*module.Packet, size), size: size}
}

// Begin opens a capture round: roff is rewound to the oldest unread entry
// and the per-round captured counter is reset. Returns free slots.
func (b *Ppbuf) Begin() int {
	b.roff = b.woff - b.count
	if b.roff < 0 {
		b.roff += b.size
	}
	b.captured = 0
	return b.size - b.count
}

// Capture links one newly captured packet into the ring. Reports false if
// the ring has no free slot left in this round -- the sniffer must account
// the packet as dropped.
func (b *Ppbuf) Capture(pkt *module.Packet) bool {
	if b.captured >= b.size-b.count {
		return false
	}
	b.pp[b.woff] = pkt
	b.woff = (b.woff + 1) % b.size
	b.captured++
	return true
}

// End closes a capture round: if anything was captured, last_pkt_ts is
// stamped from the most recently captured packet and count absorbs captured.
func (b *Ppbuf) End() {
	if b.captured == 0 {
		return
	}
	last := b.woff - 1
	if last < 0 {
		last = b.size - 1
	}
	b.lastPktTS = b.pp[last].TS
	b.count += b.captured
	b.captured = 0
}

func (b *Ppbuf) Count() int                  { return b.count }
func (b *Ppbuf) Full() bool                  { return b.count == b.size }
func (b *Ppbuf) LastPktTS() module.Timestamp { return b.lastPktTS }

// Peek returns the head packet without consuming it.
func (b *Ppbuf) Peek() (*module.Packet, bool) {
	if b.count == 0 {
		return nil, false
	}
	return b.pp[b.roff], true
}

// Next consumes and returns the head packet.
func (b *Ppbuf) Next() *module.Packet {
	pkt := b.pp[b.roff]
	b.roff = (b.roff + 1) % b.size
	b.count--
	return pkt
}
