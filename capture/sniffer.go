/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

// Sniffer is the interface a packet source (libpcap, netflow, sflow, dag,
// a replay file, ...) implements; backends themselves are out of scope
// here, the mainloop only needs to drive their lifecycle.
type Sniffer interface {
	Name() string

	// FileBacked reports whether this source replays a finite capture
	// file (eligible for freeze/unfreeze under memory pressure) versus a
	// live feed (never frozen, may instead drop).
	FileBacked() bool

	// Next pushes newly available packets into pb via pb.Capture and
	// reports how many it pushed. An error means the source failed and
	// should be deactivated; packets it could not buffer count as drops
	// attributed to the sniffer, not to a module.
	Next(pb *Ppbuf) (captured int, dropped int, err error)
}

type sniffEntry struct {
	s      Sniffer
	pb     *Ppbuf
	active bool
	frozen bool

	drops uint64
}
