/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package capture

import (
	"testing"

	"github.com/comoproject/como/module"
)

func TestLoadHistogramAccumulatesWithinOneBin(t *testing.T) {
	var h LoadHistogram
	h.Add(module.NewTimestamp(0, 0), 100)
	h.Add(module.NewTimestamp(10, 0), 50)
	bins := h.Bins()
	if bins[0] != 150 {
		t.Fatalf("bin 0 = %d, want 150", bins[0])
	}
}

func TestLoadHistogramRollsForwardAndZerosSkippedBins(t *testing.T) {
	var h LoadHistogram
	h.Add(module.NewTimestamp(0, 0), 100)
	h.Add(module.NewTimestamp(125, 0), 10) // two full minutes later: rolls to bin 2
	bins := h.Bins()
	if bins[0] != 100 {
		t.Fatalf("bin 0 = %d, want 100 (unchanged)", bins[0])
	}
	if bins[1] != 0 {
		t.Fatalf("bin 1 = %d, want 0 (skipped)", bins[1])
	}
	if bins[2] != 10 {
		t.Fatalf("bin 2 = %d, want 10", bins[2])
	}
}
