//go:build mono

// Package mono provides low-level monotonic time.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package mono

import (
	_ "unsafe" // for go:linkname
)

// NanoTime links directly into the runtime's monotonic clock, skipping the
// allocation and wall-clock read that time.Now() performs. Only safe as a
// relative clock -- never format it as a calendar time.
//
//go:linkname NanoTime runtime.nanotime
func NanoTime() int64
