/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package export

import (
	"fmt"

	"github.com/comoproject/como/module"
)

// defaultProbeSize is the window export first offers a module's store();
// most wire formats fit comfortably, so the common case needs no retry.
const defaultProbeSize = 256

// storeOne calls rec's store() against writer, remapping to a larger
// window and retrying if store reports it needs more room than it was
// given. Returns the number of bytes store actually wrote, which is also
// how far the stream's commit point advances.
func storeOne(store func(rec *module.Record, buf []byte, cfg any) (int, error), rec *module.Record, cfg any, writer StreamWriter) (int, error) {
	size := defaultProbeSize
	for attempts := 0; attempts < 8; attempts++ {
		buf, err := writer.Reserve(size)
		if err != nil {
			return 0, fmt.Errorf("export: reserve %d bytes: %w", size, err)
		}
		n, err := store(rec, buf, cfg)
		if err != nil {
			return 0, err
		}
		if n <= len(buf) {
			if err := writer.Commit(n); err != nil {
				return 0, fmt.Errorf("export: commit %d bytes: %w", n, err)
			}
			return n, nil
		}
		size = n // store told us how much room it actually needs
	}
	return 0, fmt.Errorf("export: store() kept growing past %d bytes", size)
}
