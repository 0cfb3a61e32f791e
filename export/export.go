// Package export consumes capture's expired-map lists and, per module,
// either persists records straight through (direct path) or folds them
// into a persistent aggregated table before a policy-driven sweep decides
// what actually gets written.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package export

import (
	"io"

	"github.com/comoproject/como/capture"
	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/module"
)

// ModuleState is one module's export-side state: its own init()'d config,
// its output stream writer, and -- only for the aggregated variant -- the
// persistent etable/earray surviving across flushes.
type ModuleState struct {
	Descriptor *module.Descriptor
	Cfg        any
	Writer     StreamWriter

	etable *Etable
	earray *Earray
}

func NewModuleState(desc *module.Descriptor, writer StreamWriter) (*ModuleState, error) {
	cfg, err := desc.Behavior.Init(desc.Args)
	if err != nil {
		return nil, err
	}
	ms := &ModuleState{Descriptor: desc, Cfg: cfg, Writer: writer}
	// Only a module with Export gets a persistent etable/earray; a
	// Compare-only (sorted-direct) module still goes through absorbDirect,
	// which sorts its one-shot sweep array via the same Compare callback.
	if desc.Behavior.Export != nil {
		ms.etable = NewEtable(desc.ExportTableSize)
		ms.earray = &Earray{}
	}
	return ms, nil
}

// Exporter holds every active module's export-side state and the arena
// their flushed capture tables get merged back into once drained.
type Exporter struct {
	global  *memsys.Allocator
	modules map[string]*ModuleState

	// Inline switches to single-shot command-line mode: records are
	// printed rather than persisted.
	Inline      bool
	PrintWriter io.Writer
}

func NewExporter(global *memsys.Allocator) *Exporter {
	return &Exporter{global: global, modules: make(map[string]*ModuleState)}
}

func (ex *Exporter) AddModule(ms *ModuleState) { ex.modules[ms.Descriptor.Name] = ms }
func (ex *Exporter) RemoveModule(name string)  { delete(ex.modules, name) }

// Absorb drains one FLUSH delivery: every table in the list, in order, is
// folded into its module's export state (or printed, in inline mode), then
// the table's now-empty arena is merged back into the process-wide map --
// the export side of capture's "reclaims the shared maps" handoff.
func (ex *Exporter) Absorb(head *capture.ExpiredTable) {
	for t := head; t != nil; t = t.Next {
		ms, ok := ex.modules[t.Descriptor.Name]
		if !ok {
			nlog.Warningf("export: flushed table for unknown module %q", t.Descriptor.Name)
			continue
		}
		switch {
		case ex.Inline:
			ex.inlineEmit(ms, t)
		case ms.etable != nil:
			ex.absorbAggregated(ms, t)
		default:
			ex.absorbDirect(ms, t)
		}
		t.Table.Free(t.Mem)
		memsys.MergeMaps(ex.global.Global(), t.Mem)
	}
}

// absorbDirect feeds every capture record straight into a one-shot sweep
// array -- there is no persistent export state for a direct-path module.
func (ex *Exporter) absorbDirect(ms *ModuleState, t *capture.ExpiredTable) {
	sweep := &Earray{}
	t.Table.Range(func(rec *module.Record) {
		sweep.Append(&eentry{rec: rec})
	})
	ex.sweep(ms, sweep, t.Table.TS())
}

// absorbAggregated folds every capture record into the module's persistent
// export table via ematch/export, then sweeps the persistent earray.
func (ex *Exporter) absorbAggregated(ms *ModuleState, t *capture.ExpiredTable) {
	b := &ms.Descriptor.Behavior
	var ematch func(exportRec, captureRec *module.Record) bool
	if b.EMatch != nil {
		ematch = func(exportRec, captureRec *module.Record) bool { return b.EMatch(exportRec, captureRec, ms.Cfg) }
	}
	t.Table.Range(func(rec *module.Record) {
		cand := ms.etable.find(rec.Hash, rec, ematch)
		isNew := cand == nil
		var exp *module.Record
		if isNew {
			exp = &module.Record{Hash: rec.Hash}
			e := &eentry{rec: exp}
			ms.etable.insertHead(rec.Hash, e)
			ms.earray.Append(e)
			cand = e
		} else {
			exp = cand.rec
		}
		b.Export(exp, rec, isNew, ms.Cfg)
		if !isNew {
			ms.etable.moveToFront(rec.Hash, cand)
		}
	})
	ex.sweep(ms, ms.earray, t.Table.TS())
}

// sweep is store_records: a table-level action() call gates the whole
// sweep, then (optionally sorted) each record's own action() result is
// honored. STORE_BATCH is adapted from the original's "byte count plus a
// flag" encoding into a plain retry loop: keep calling store() on the same
// record for as long as action() keeps reporting ActStoreBatch.
func (ex *Exporter) sweep(ms *ModuleState, arr *Earray, ts module.Timestamp) {
	b := &ms.Descriptor.Behavior
	if b.Action(nil, ts, 0, ms.Cfg)&module.ActStop != 0 {
		return
	}
	if b.Compare != nil {
		arr.Sort(func(a, c *module.Record) int { return b.Compare(a, c, ms.Cfg) })
	}

	for i := 0; i < arr.Len(); {
		rec := arr.At(i)
		act := b.Action(rec, ts, i, ms.Cfg)
		switch {
		case act&module.ActStop != 0:
			return
		case act&module.ActDiscard != 0:
			arr.Remove(i) // last-live entry swaps in at i; don't advance
		case act&module.ActStoreBatch != 0:
			for {
				if _, err := storeOne(b.Store, rec, ms.Cfg, ms.Writer); err != nil {
					nlog.Warningf("export: store %q: %v", ms.Descriptor.Name, err)
					break
				}
				if b.Action(rec, ts, i, ms.Cfg)&module.ActStoreBatch == 0 {
					break
				}
			}
			i++
		case act&module.ActStore != 0:
			if _, err := storeOne(b.Store, rec, ms.Cfg, ms.Writer); err != nil {
				nlog.Warningf("export: store %q: %v", ms.Descriptor.Name, err)
			}
			i++
		default:
			i++
		}
	}
}

// inlineEmit is the single-shot command-line mode: records are printed via
// the module's own callback rather than persisted.
func (ex *Exporter) inlineEmit(ms *ModuleState, t *capture.ExpiredTable) {
	b := &ms.Descriptor.Behavior
	if b.Print == nil {
		return
	}
	t.Table.Range(func(rec *module.Record) {
		out, err := b.Print("", rec, nil, ms.Cfg)
		if err != nil {
			nlog.Warningf("export: print %q: %v", ms.Descriptor.Name, err)
			return
		}
		ex.PrintWriter.Write(out)
	})
}
