/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package stats_test

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/comoproject/como/stats"
)

func TestRegistryMustRegisterAndCollect(t *testing.T) {
	r := stats.NewRegistry("capture")
	reg := prometheus.NewRegistry()
	r.MustRegister(reg)

	r.Drops.WithLabelValues("eth0").Inc()
	r.CaptureLoad.Set(1024)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	if len(families) == 0 {
		t.Fatal("expected at least one metric family after registering")
	}

	var sawDrops, sawLoad bool
	for _, mf := range families {
		switch mf.GetName() {
		case "como_capture_dropped_packets_total":
			sawDrops = true
		case "como_capture_capture_load_bytes":
			sawLoad = true
		}
	}
	if !sawDrops {
		t.Fatal("expected the dropped_packets_total metric to be registered")
	}
	if !sawLoad {
		t.Fatal("expected the capture_load_bytes metric to be registered")
	}
}

func TestRegistryMustRegisterPanicsOnDuplicate(t *testing.T) {
	reg := prometheus.NewRegistry()
	r1 := stats.NewRegistry("export")
	r1.MustRegister(reg)

	defer func() {
		if recover() == nil {
			t.Fatal("expected a panic registering the same metric names twice")
		}
	}()
	r2 := stats.NewRegistry("export")
	r2.MustRegister(reg)
}
