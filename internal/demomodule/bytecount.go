/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
// Package demomodule is a single illustrative measurement module, statically
// linked into the daemon binaries so comocap, comoexport, and comoquery have
// something concrete to run end to end without an external module loader.
package demomodule

import (
	"encoding/binary"
	"fmt"

	"github.com/comoproject/como/module"
)

// bcState is the aggregate ByteCountBehavior accumulates into Record.User
// between update() calls: one running byte/packet total, no grouping.
type bcState struct {
	ts    module.Timestamp
	bytes uint64
	pkts  uint64
}

// ByteCountBehavior is a minimal built-in module, used to give comoexport
// (and a real capture/export pipeline) something concrete to run without
// depending on an external module loader: a single record accumulating
// total bytes and packets, stored as {ts u64}{bytes u64}{pkts u64}.
func ByteCountBehavior() module.Behavior {
	return module.Behavior{
		Init:  func(args string) (any, error) { return nil, nil },
		Check: func(pkt *module.Packet, cfg any) bool { return true },
		Hash:  func(pkt *module.Packet, cfg any) uint32 { return 0 },
		Match: func(pkt *module.Packet, rec *module.Record, cfg any) bool { return true },
		Update: func(pkt *module.Packet, rec *module.Record, isNew bool, cfg any) bool {
			st, _ := rec.User.(*bcState)
			if st == nil {
				st = &bcState{}
				rec.User = st
			}
			st.ts = pkt.TS
			st.bytes += uint64(pkt.WireLen)
			st.pkts++
			return false
		},
		Action: func(rec *module.Record, ts module.Timestamp, count int, cfg any) module.Action {
			return module.ActStore
		},
		Store: func(rec *module.Record, buf []byte, cfg any) (int, error) {
			st, _ := rec.User.(*bcState)
			if st == nil {
				return 0, fmt.Errorf("bytecount: store on empty record")
			}
			if len(buf) < 24 {
				return 24, nil
			}
			binary.BigEndian.PutUint64(buf[0:8], uint64(st.ts))
			binary.BigEndian.PutUint64(buf[8:16], st.bytes)
			binary.BigEndian.PutUint64(buf[16:24], st.pkts)
			return 24, nil
		},
		Load: func(buf []byte, cfg any) (int, module.Timestamp, error) {
			if len(buf) < 24 {
				return 0, 0, fmt.Errorf("bytecount: short record")
			}
			ts := module.Timestamp(binary.BigEndian.Uint64(buf[0:8]))
			return 24, ts, nil
		},
		Print: func(fmtID string, rec *module.Record, state, cfg any) ([]byte, error) {
			if len(rec.Bytes) < 24 {
				return nil, fmt.Errorf("bytecount: short record")
			}
			ts := module.Timestamp(binary.BigEndian.Uint64(rec.Bytes[0:8]))
			bytes := binary.BigEndian.Uint64(rec.Bytes[8:16])
			pkts := binary.BigEndian.Uint64(rec.Bytes[16:24])
			return []byte(fmt.Sprintf("%s bytes=%d pkts=%d\n", ts.Time().Format("2006-01-02T15:04:05"), bytes, pkts)), nil
		},
	}
}
