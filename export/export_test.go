/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package export

import (
	"bytes"
	"testing"

	"github.com/comoproject/como/capture"
	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/module"
)

func newTestTable(t *testing.T, global *memsys.Allocator, b module.Behavior, pkts ...module.Packet) (*capture.Ctable, *memsys.Map) {
	t.Helper()
	mem := memsys.NewMemList(global, 8, false)
	ct := capture.NewCtable(8)
	for i := range pkts {
		ct.Process(&pkts[i], &b, nil, mem)
	}
	return ct, mem
}

func storingBehavior() module.Behavior {
	return module.Behavior{
		Init:  func(args string) (any, error) { return nil, nil },
		Hash:  func(pkt *module.Packet, cfg any) uint32 { return uint32(pkt.ComoType) },
		Match: func(pkt *module.Packet, rec *module.Record, cfg any) bool { return true },
		Update: func(pkt *module.Packet, rec *module.Record, isNew bool, cfg any) bool {
			rec.User = pkt.WireLen
			return true
		},
		Action: func(rec *module.Record, ts module.Timestamp, count int, cfg any) module.Action {
			if rec == nil {
				return 0
			}
			return module.ActStore
		},
		Store: func(rec *module.Record, buf []byte, cfg any) (int, error) {
			n, _ := rec.User.(uint32)
			return copy(buf, []byte{byte(n)}), nil
		},
	}
}

// module.Packet has no Hash field; Ctable hashes via Behavior.Hash from
// packet fields, so route a synthetic field through ComoType for the test.
func pkt(comoType uint16, wireLen uint32) module.Packet {
	return module.Packet{ComoType: comoType, WireLen: wireLen}
}

func TestExporterAbsorbDirectStoresEveryRecord(t *testing.T) {
	global, err := memsys.MemoryInit(1)
	if err != nil {
		t.Fatalf("memsys init: %v", err)
	}
	b := storingBehavior()
	b.Hash = func(p *module.Packet, cfg any) uint32 { return uint32(p.ComoType) }

	ct, mem := newTestTable(t, global, b, pkt(1, 10), pkt(2, 20))

	var out bytes.Buffer
	writer := &captureWriter{buf: &out}
	desc := &module.Descriptor{Name: "direct", Behavior: b}
	ms, err := NewModuleState(desc, writer)
	if err != nil {
		t.Fatalf("new module state: %v", err)
	}

	ex := NewExporter(global)
	ex.AddModule(ms)

	head := &capture.ExpiredTable{Descriptor: desc, Table: ct, Mem: mem}
	ex.Absorb(head)

	if out.Len() != 2 {
		t.Fatalf("wrote %d bytes, want 2 (one per record)", out.Len())
	}
}

func TestExporterAbsorbAggregatedPersistsAcrossFlushes(t *testing.T) {
	global, err := memsys.MemoryInit(1)
	if err != nil {
		t.Fatalf("memsys init: %v", err)
	}
	b := storingBehavior()
	b.Hash = func(p *module.Packet, cfg any) uint32 { return uint32(p.ComoType) }
	b.EMatch = func(exportRec, captureRec *module.Record, cfg any) bool { return exportRec.Hash == captureRec.Hash }
	b.Export = func(exportRec, captureRec *module.Record, isNew bool, cfg any) {
		exportRec.User = captureRec.User
	}

	desc := &module.Descriptor{Name: "agg", ExportTableSize: 8, Behavior: b}
	var out bytes.Buffer
	ms, err := NewModuleState(desc, &captureWriter{buf: &out})
	if err != nil {
		t.Fatalf("new module state: %v", err)
	}
	if ms.etable == nil {
		t.Fatal("aggregated module should get a persistent etable")
	}

	ex := NewExporter(global)
	ex.AddModule(ms)

	ct1, mem1 := newTestTable(t, global, b, pkt(1, 10))
	ex.Absorb(&capture.ExpiredTable{Descriptor: desc, Table: ct1, Mem: mem1})
	if out.Len() != 1 {
		t.Fatalf("after first flush, wrote %d bytes, want 1", out.Len())
	}

	ct2, mem2 := newTestTable(t, global, b, pkt(1, 99))
	ex.Absorb(&capture.ExpiredTable{Descriptor: desc, Table: ct2, Mem: mem2})
	if ms.earray.Len() != 1 {
		t.Fatalf("etable should still hold exactly one record for ComoType 1, got %d", ms.earray.Len())
	}
}

func TestExporterInlineModePrintsInsteadOfStoring(t *testing.T) {
	global, err := memsys.MemoryInit(1)
	if err != nil {
		t.Fatalf("memsys init: %v", err)
	}
	b := storingBehavior()
	b.Hash = func(p *module.Packet, cfg any) uint32 { return uint32(p.ComoType) }
	b.Print = func(fmtID string, rec *module.Record, state, cfg any) ([]byte, error) {
		return []byte("x"), nil
	}

	ct, mem := newTestTable(t, global, b, pkt(1, 10))
	desc := &module.Descriptor{Name: "inline", Behavior: b}
	ms, err := NewModuleState(desc, nil)
	if err != nil {
		t.Fatalf("new module state: %v", err)
	}

	var out bytes.Buffer
	ex := NewExporter(global)
	ex.Inline = true
	ex.PrintWriter = &out
	ex.AddModule(ms)

	ex.Absorb(&capture.ExpiredTable{Descriptor: desc, Table: ct, Mem: mem})
	if out.String() != "x" {
		t.Fatalf("printed %q, want %q", out.String(), "x")
	}
}

// captureWriter is a minimal StreamWriter collecting committed bytes into buf.
type captureWriter struct {
	buf *bytes.Buffer
}

func (w *captureWriter) Reserve(size int) ([]byte, error) { return make([]byte, size), nil }
func (w *captureWriter) Commit(n int) error {
	// storeOne already wrote into the slice Reserve handed back; that slice
	// isn't retained here, so Commit appends n zero bytes and the tests
	// check only buf's length.
	w.buf.Write(make([]byte, n))
	return nil
}
