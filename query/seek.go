/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package query

import (
	"fmt"

	"github.com/comoproject/como/module"
	"github.com/comoproject/como/storage"
)

// readWindow is the chunk size seek/stream reads through a storage REGION
// at a time.
const readWindow = 64 * 1024

// seekToStart advances a reader client past every record whose timestamp
// is below start, using the module's load() to find each record's
// boundary. If the stream runs out before reaching start it returns a nil
// error with atEOF=true.
func seekToStart(svc *storage.Service, id storage.ClientID, offset uint64, start module.Timestamp, load func(buf []byte) (int, module.Timestamp, error)) (newOffset uint64, atEOF bool, err error) {
	for {
		res, err := svc.Region(id, offset, readWindow)
		if err != nil {
			return offset, false, err
		}
		if res.EOF || len(res.Data) == 0 {
			return offset, true, nil
		}
		size, ts, err := load(res.Data)
		if err != nil {
			return offset, false, fmt.Errorf("query: load() desynced at offset %d: %w", offset, err)
		}
		if size <= 0 {
			return offset, false, fmt.Errorf("query: load() returned non-positive size at offset %d", offset)
		}
		if ts >= start {
			return offset, false, nil
		}
		offset += uint64(size)
	}
}
