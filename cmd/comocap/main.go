// Package main runs capture and export in one process: capture merges
// sniffer streams and seals per-module tables on their flush interval,
// handing each sealed table straight to the colocated exporter instead of
// over an IPC_FLUSH round-trip to a separate process. The two roles share
// one memsys.Allocator, which is the shared-memory arena capture and
// export exchange expired tables through in the first place -- see
// DESIGN.md for why this redesign was made.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comoproject/como/capture"
	"github.com/comoproject/como/cmn/cos"
	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/export"
	"github.com/comoproject/como/ipc"
	"github.com/comoproject/como/memsys"
	"github.com/comoproject/como/stats"
)

var (
	storageSock string
	memMB       int
	cabufSize   int
	metricAddr  string
	logDir      string
)

func init() {
	flag.StringVar(&storageSock, "storage-sock", "/var/run/como/storage.sock", "AF_UNIX socket of the storage role")
	flag.IntVar(&memMB, "mem-mb", 256, "size of the shared capture/export arena, MiB")
	flag.IntVar(&cabufSize, "cabuf-size", 8192, "process-wide capture ring capacity, in packets")
	flag.StringVar(&metricAddr, "metrics", ":9402", "address to serve Prometheus metrics on")
	flag.StringVar(&logDir, "log-dir", "/var/log/como", "log directory")
}

func main() {
	flag.Parse()

	if err := cos.CreateDir(logDir); err != nil {
		cos.ExitLogf("create log dir %q: %v", logDir, err)
	}
	nlog.SetLogDirRole(logDir, "capture")
	nlog.SetTitle("como-capture")

	global, err := memsys.MemoryInit(memMB)
	if err != nil {
		cos.ExitLogf("init shared arena: %v", err)
	}

	conn, err := net.Dial("unix", storageSock)
	if err != nil {
		cos.ExitLogf("dial storage at %q: %v", storageSock, err)
	}
	defer conn.Close()
	storageClient := ipc.DialStorage(conn)
	_ = storageClient // wired per-module by AddModule once the (out-of-scope) loader supplies descriptors

	reg := stats.NewRegistry("capture")
	reg.MustRegister(prometheus.DefaultRegisterer)
	go serveMetrics()

	cap := capture.NewCapture(global, cabufSize)
	exp := export.NewExporter(global)
	cap.OnFlush = exp.Absorb

	// Module and sniffer registration is driven by the (out-of-scope)
	// dynamic loader and config grammar; a real deployment calls
	// cap.AddSniffer/cap.AddModule and exp.AddModule here before Run.

	ctx, cancel := context.WithCancel(context.Background())
	go waitForShutdown(cancel)

	nlog.Infof("capture: running with %d MiB shared arena", memMB)
	if err := cap.Run(ctx); err != nil && err != context.Canceled {
		nlog.Warningf("capture: run loop exited: %v", err)
	}
	nlog.Flush(true)
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(metricAddr, mux); err != nil {
		nlog.Warningf("capture: metrics server: %v", err)
	}
}

func waitForShutdown(cancel context.CancelFunc) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c
	cancel()
}
