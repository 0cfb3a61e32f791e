/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"testing"
	"time"

	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/module"
)

// fakeSniffer feeds a fixed set of packets on its first Next call and then
// reports nothing, so a test loop can drive exactly one productive Step.
type fakeSniffer struct {
	name   string
	pkts   []module.Packet
	served bool
}

func (f *fakeSniffer) Name() string     { return f.name }
func (f *fakeSniffer) FileBacked() bool { return true }

func (f *fakeSniffer) Next(pb *Ppbuf) (int, int, error) {
	if f.served {
		return 0, 0, nil
	}
	f.served = true
	n := 0
	for i := range f.pkts {
		if pb.Capture(&f.pkts[i]) {
			n++
		}
	}
	return n, 0, nil
}

func sumBehavior() module.Behavior {
	return module.Behavior{
		Init:  func(args string) (any, error) { return nil, nil },
		Hash:  func(pkt *module.Packet, cfg any) uint32 { return 0 },
		Match: func(pkt *module.Packet, rec *module.Record, cfg any) bool { return true },
		Update: func(pkt *module.Packet, rec *module.Record, isNew bool, cfg any) bool {
			n, _ := rec.User.(*uint64)
			if n == nil {
				n = new(uint64)
				rec.User = n
			}
			*n += uint64(pkt.WireLen)
			return false
		},
	}
}

func TestCaptureStepProcessesBatch(t *testing.T) {
	global, err := memsys.MemoryInit(1)
	if err != nil {
		t.Fatalf("memsys init: %v", err)
	}

	cap := NewCapture(global, 64)
	flushed := 0
	cap.OnFlush = func(head *ExpiredTable) {
		for e := head; e != nil; e = e.Next {
			flushed++
		}
	}

	snf := &fakeSniffer{name: "eth0", pkts: []module.Packet{
		{TS: module.NewTimestamp(1, 0), WireLen: 100},
		{TS: module.NewTimestamp(2, 0), WireLen: 200},
	}}
	cap.AddSniffer(snf, 16)

	desc := &module.Descriptor{
		Name:             "sum",
		CaptureTableSize: 16,
		FlushIvl:         time.Hour, // long enough that the table never expires mid-test
		Behavior:         sumBehavior(),
	}
	if err := cap.AddModule(desc, nil); err != nil {
		t.Fatalf("add module: %v", err)
	}

	batch := cap.Step()
	if batch == nil {
		t.Fatal("expected a batch on the first productive step")
	}
	if batch.Count() != 2 {
		t.Fatalf("batch count = %d, want 2", batch.Count())
	}

	// no more packets: the next step should see nothing and return nil.
	if cap.Step() != nil {
		t.Fatal("expected nil on the second step with no new packets")
	}
}

func TestCaptureMemoryPressureAbove(t *testing.T) {
	global, err := memsys.MemoryInit(1)
	if err != nil {
		t.Fatalf("memsys init: %v", err)
	}
	cap := NewCapture(global, 4)
	if cap.MemoryPressureAbove(global.Capacity()) {
		t.Fatal("freshly initialized allocator should not be under pressure")
	}
}
