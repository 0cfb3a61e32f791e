/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"testing"

	"github.com/comoproject/como/module"
)

func fillPpbuf(pb *Ppbuf, tss ...module.Timestamp) {
	pb.Begin()
	for _, ts := range tss {
		pb.Capture(&module.Packet{TS: ts})
	}
	pb.End()
}

func TestMergeBatchOrdersAcrossSniffers(t *testing.T) {
	cabuf := NewCabuf(16)

	// packets a whole second apart: once a's last packet is taken, a is
	// further than liveThreshold behind b, so the merge does not stop early.
	a := NewPpbuf(2)
	fillPpbuf(a, module.NewTimestamp(1, 0), module.NewTimestamp(3, 0))

	b := NewPpbuf(2)
	fillPpbuf(b, module.NewTimestamp(2, 0), module.NewTimestamp(4, 0))

	batch := mergeBatch(cabuf, []*Ppbuf{a, b})
	if batch == nil {
		t.Fatal("expected a batch")
	}
	if batch.Count() != 4 {
		t.Fatalf("count = %d, want 4", batch.Count())
	}
	want := []module.Timestamp{module.NewTimestamp(1, 0), module.NewTimestamp(2, 0), module.NewTimestamp(3, 0), module.NewTimestamp(4, 0)}
	for i, w := range want {
		if got := batch.At(i).TS; got != w {
			t.Fatalf("pkt %d ts = %d, want %d", i, got, w)
		}
	}
	if batch.LastPktTS != module.NewTimestamp(4, 0) {
		t.Fatalf("LastPktTS = %d, want %d", batch.LastPktTS, module.NewTimestamp(4, 0))
	}
}

func TestMergeBatchNilWhenNothingCaptured(t *testing.T) {
	cabuf := NewCabuf(16)
	a := NewPpbuf(4)
	b := NewPpbuf(4)
	if batch := mergeBatch(cabuf, []*Ppbuf{a, b}); batch != nil {
		t.Fatalf("expected nil batch, got %+v", batch)
	}
}

func TestMergeBatchWaitsOnQuietPpbuf(t *testing.T) {
	cabuf := NewCabuf(16)

	a := NewPpbuf(4) // room left: no ppbuf is full, so nothing forces a batch
	fillPpbuf(a, 1000000)

	b := NewPpbuf(4) // empty, recently active enough to still be "live"
	b.lastPktTS = 999999

	if batch := mergeBatch(cabuf, []*Ppbuf{a, b}); batch != nil {
		t.Fatalf("expected merge to wait on the quiet ppbuf, got %+v", batch)
	}
}
