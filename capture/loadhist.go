/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import "github.com/comoproject/como/module"

// LoadHistogram keeps the last 24 hours of captured-byte counts at
// one-minute resolution, a rolling ring rather than a fixed calendar day.
type LoadHistogram struct {
	bins    [1440]uint64
	cur     int
	binTS   module.Timestamp
	started bool
}

const loadBinPeriod = module.Timestamp(60 << 32)

// Add folds bytes captured at ts into the current minute bin, rolling
// forward (and zeroing skipped bins) as ts advances past binTS+60s.
func (h *LoadHistogram) Add(ts module.Timestamp, bytes uint64) {
	if !h.started {
		h.binTS = ts
		h.started = true
	}
	for ts >= h.binTS+loadBinPeriod {
		h.cur = (h.cur + 1) % len(h.bins)
		h.bins[h.cur] = 0
		h.binTS += loadBinPeriod
	}
	h.bins[h.cur] += bytes
}

func (h *LoadHistogram) Bins() [1440]uint64 { return h.bins }
