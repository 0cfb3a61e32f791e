//go:build !mono

// Package mono provides low-level monotonic time used for rate limiting,
// idle-timeout bookkeeping, and log rotation -- anywhere an absolute
// wall-clock value is unnecessary and its cost is not.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package mono

import "time"

var start = time.Now()

// NanoTime returns a monotonically increasing count of nanoseconds since
// process start. Build with the "mono" tag to use the cheaper runtime hook.
func NanoTime() int64 { return int64(time.Since(start)) }
