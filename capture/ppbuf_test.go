/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"testing"

	"github.com/comoproject/como/module"
)

func TestPpbufCaptureDrainRoundTrip(t *testing.T) {
	pb := NewPpbuf(4)
	pb.Begin()
	for i := 0; i < 3; i++ {
		if !pb.Capture(&module.Packet{TS: module.Timestamp(i + 1)}) {
			t.Fatalf("capture %d: unexpected drop", i)
		}
	}
	pb.End()
	if pb.Count() != 3 {
		t.Fatalf("count = %d, want 3", pb.Count())
	}
	if pb.Full() {
		t.Fatal("ring should not report full with one slot left")
	}

	for i := 0; i < 3; i++ {
		pkt, ok := pb.Peek()
		if !ok {
			t.Fatalf("peek %d: empty", i)
		}
		if pkt.TS != module.Timestamp(i+1) {
			t.Fatalf("peek %d: ts = %d, want %d", i, pkt.TS, i+1)
		}
		pb.Next()
	}
	if pb.Count() != 0 {
		t.Fatalf("count after drain = %d, want 0", pb.Count())
	}
}

func TestPpbufCaptureDropsWhenFull(t *testing.T) {
	pb := NewPpbuf(2)
	pb.Begin()
	if !pb.Capture(&module.Packet{TS: 1}) {
		t.Fatal("first capture should not drop")
	}
	if !pb.Capture(&module.Packet{TS: 2}) {
		t.Fatal("second capture should not drop")
	}
	if pb.Capture(&module.Packet{TS: 3}) {
		t.Fatal("third capture should drop: ring is full")
	}
	pb.End()
	if !pb.Full() {
		t.Fatal("ring should report full")
	}
}

func TestPpbufBeginRewindsToOldestUnread(t *testing.T) {
	pb := NewPpbuf(4)
	pb.Begin()
	pb.Capture(&module.Packet{TS: 1})
	pb.Capture(&module.Packet{TS: 2})
	pb.End()
	pb.Next() // consume TS=1, leaving TS=2 unread

	free := pb.Begin()
	if free != 3 {
		t.Fatalf("free slots = %d, want 3", free)
	}
	pkt, ok := pb.Peek()
	if !ok || pkt.TS != 2 {
		t.Fatalf("peek after Begin = %+v, %v, want TS=2", pkt, ok)
	}
}
