// Package main runs the storage role: the process-wide append-only
// bytestream repository, reachable in-process by a supervisor-colocated
// capture/export/query, or over the wire via the ipc storage protocol.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package main

import (
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comoproject/como/cmn/cos"
	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/hk"
	"github.com/comoproject/como/ipc"
	"github.com/comoproject/como/stats"
	"github.com/comoproject/como/storage"
)

var (
	root       string
	socketPath string
	metricAddr string
	logDir     string
)

func init() {
	flag.StringVar(&root, "root", "/var/lib/como/storage", "directory holding one subdirectory per bytestream")
	flag.StringVar(&socketPath, "sock", "/var/run/como/storage.sock", "AF_UNIX socket other roles dial for the storage IPC protocol")
	flag.StringVar(&metricAddr, "metrics", ":9401", "address to serve Prometheus metrics on")
	flag.StringVar(&logDir, "log-dir", "/var/log/como", "log directory")
}

func main() {
	flag.Parse()

	if err := cos.CreateDir(logDir); err != nil {
		cos.ExitLogf("create log dir %q: %v", logDir, err)
	}
	nlog.SetLogDirRole(logDir, "storage")
	nlog.SetTitle("como-storage")

	if err := cos.CreateDir(root); err != nil {
		cos.ExitLogf("create storage root %q: %v", root, err)
	}

	reg := stats.NewRegistry("storage")
	reg.MustRegister(prometheus.DefaultRegisterer)
	go serveMetrics()

	svc := storage.NewService(root)
	svc.Start()
	go hk.DefaultHK.Run()
	hk.WaitStarted()

	os.Remove(socketPath)
	ln, err := net.Listen("unix", socketPath)
	if err != nil {
		cos.ExitLogf("listen on %q: %v", socketPath, err)
	}
	defer ln.Close()

	srv := &ipc.StorageServer{Svc: svc}
	go acceptLoop(ln, srv)

	nlog.Infof("storage: serving %q on %s", root, socketPath)
	waitForShutdown()
	nlog.Flush(true)
}

func acceptLoop(ln net.Listener, srv *ipc.StorageServer) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			nlog.Warningf("storage: accept: %v", err)
			return
		}
		go srv.Serve(conn)
	}
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(metricAddr, mux); err != nil {
		nlog.Warningf("storage: metrics server: %v", err)
	}
}

func waitForShutdown() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	sig := <-c
	fmt.Fprintf(os.Stderr, "storage: received %v, shutting down\n", sig)
}
