// Package stats exposes the process's ambient counters -- per-module and
// per-sniffer drop counts, the capture load histogram, storage client
// counts -- as Prometheus metrics.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package stats

import "github.com/prometheus/client_golang/prometheus"

// Registry is the set of metrics one CoMo role process (capture, export,
// storage, or query) registers at startup.
type Registry struct {
	Drops          *prometheus.CounterVec
	FlushCount     *prometheus.CounterVec
	FlexibleFlush  *prometheus.CounterVec
	CaptureLoad    prometheus.Gauge
	StorageClients prometheus.Gauge
	StorageBytes   *prometheus.CounterVec
}

func NewRegistry(role string) *Registry {
	r := &Registry{
		Drops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "como",
			Subsystem: role,
			Name:      "dropped_packets_total",
			Help:      "Packets dropped, labeled by the sniffer or module that dropped them.",
		}, []string{"source"}),
		FlushCount: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "como",
			Subsystem: role,
			Name:      "table_flushes_total",
			Help:      "Capture tables sealed and handed to export, by module.",
		}, []string{"module"}),
		FlexibleFlush: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "como",
			Subsystem: role,
			Name:      "flexible_flushes_total",
			Help:      "Out-of-band flushes forced by memory pressure, by module.",
		}, []string{"module"}),
		CaptureLoad: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "como",
			Subsystem: role,
			Name:      "capture_load_bytes",
			Help:      "Bytes captured in the most recently completed one-minute bin.",
		}),
		StorageClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "como",
			Subsystem: role,
			Name:      "storage_clients",
			Help:      "Currently open storage service clients.",
		}),
		StorageBytes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "como",
			Subsystem: role,
			Name:      "storage_bytes_total",
			Help:      "Bytes moved through REGION requests, by stream.",
		}, []string{"stream"}),
	}
	return r
}

// MustRegister registers every metric in r against reg, panicking (like
// prometheus's own MustRegister) on a duplicate registration -- a
// programmer error, not a runtime condition to recover from.
func (r *Registry) MustRegister(reg prometheus.Registerer) {
	reg.MustRegister(r.Drops, r.FlushCount, r.FlexibleFlush, r.CaptureLoad, r.StorageClients, r.StorageBytes)
}
