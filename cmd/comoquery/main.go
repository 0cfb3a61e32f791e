// Package main runs the query role: an HTTP server answering read-only
// requests against the storage role's bytestreams, resolving module names
// through a static registry built from a JSON config.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package main

import (
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flag"

	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/comoproject/como/cmn/cos"
	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/hk"
	"github.com/comoproject/como/internal/demomodule"
	"github.com/comoproject/como/module"
	"github.com/comoproject/como/query"
	"github.com/comoproject/como/stats"
	"github.com/comoproject/como/storage"
)

var (
	storageRoot string
	listenAddr  string
	metricAddr  string
	registryCfg string
	logDir      string
)

func init() {
	flag.StringVar(&storageRoot, "storage-root", "/var/lib/como/storage", "storage role's bytestream root (opened read-only, file-backed mmap shared with the storage role)")
	flag.StringVar(&listenAddr, "listen", ":9403", "address to serve query HTTP requests on")
	flag.StringVar(&metricAddr, "metrics", ":9404", "address to serve Prometheus metrics on")
	flag.StringVar(&registryCfg, "registry", "", "JSON file listing queryable modules and aliases")
	flag.StringVar(&logDir, "log-dir", "/var/log/como", "log directory")
}

// registryConfig is the on-disk module registry: name/output-stream pairs
// resolved against the built-in behaviors this binary links, plus aliases.
type registryConfig struct {
	Modules []struct {
		Name         string `json:"name"`
		Behavior     string `json:"behavior"`
		OutputStream string `json:"output_stream"`
		Args         string `json:"args"`
	} `json:"modules"`
	Aliases map[string]string `json:"aliases"`
}

var builtins = map[string]module.Behavior{
	"bytecount": demomodule.ByteCountBehavior(),
}

func loadRegistry(path string) (*query.StaticRegistry, error) {
	reg := query.NewStaticRegistry()
	if path == "" {
		return reg, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var cfg registryConfig
	jsonAPI := jsoniter.ConfigCompatibleWithStandardLibrary
	if err := jsonAPI.NewDecoder(f).Decode(&cfg); err != nil {
		return nil, err
	}
	for _, m := range cfg.Modules {
		behavior, ok := builtins[m.Behavior]
		if !ok {
			nlog.Warningf("query: registry entry %q names unknown behavior %q, skipping", m.Name, m.Behavior)
			continue
		}
		reg.Add(&module.Descriptor{
			Name:         m.Name,
			OutputStream: m.OutputStream,
			Args:         m.Args,
			Behavior:     behavior,
		})
	}
	for alias, target := range cfg.Aliases {
		reg.Alias(alias, target)
	}
	return reg, nil
}

func main() {
	flag.Parse()

	if err := cos.CreateDir(logDir); err != nil {
		cos.ExitLogf("create log dir %q: %v", logDir, err)
	}
	nlog.SetLogDirRole(logDir, "query")
	nlog.SetTitle("como-query")

	reg, err := loadRegistry(registryCfg)
	if err != nil {
		cos.ExitLogf("load registry %q: %v", registryCfg, err)
	}

	svc := storage.NewService(storageRoot)
	svc.Start()
	go hk.DefaultHK.Run()

	promReg := stats.NewRegistry("query")
	promReg.MustRegister(prometheus.DefaultRegisterer)
	go serveMetrics()

	srv := &query.Server{Storage: svc, Registry: reg}
	httpSrv := &http.Server{
		Addr:         listenAddr,
		Handler:      srv,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // streaming responses may run indefinitely
	}

	go waitForShutdown(httpSrv)

	nlog.Infof("query: serving %s against storage root %q", listenAddr, storageRoot)
	if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		nlog.Warningf("query: http server: %v", err)
	}
	nlog.Flush(true)
}

func serveMetrics() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(metricAddr, mux); err != nil {
		nlog.Warningf("query: metrics server: %v", err)
	}
}

func waitForShutdown(httpSrv *http.Server) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	<-c
	cos.Close(httpSrv)
}
