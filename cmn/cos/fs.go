/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package cos

import (
	"os"

	"github.com/comoproject/como/cmn/nlog"
)

// CreateDir is mkdir -p with the project's conventional 0755 permissions.
func CreateDir(dir string) error {
	return os.MkdirAll(dir, 0o755)
}

// Close closes c, logging rather than propagating the error -- for the
// common case of a best-effort cleanup on a shutdown path.
func Close(c interface{ Close() error }) {
	if c == nil {
		return
	}
	if err := c.Close(); err != nil {
		nlog.Warningf("close: %v", err)
	}
}
