// Package main is the inline, single-shot command-line filter: it opens one
// already-captured stream through the storage role, replays records with a
// built-in module's Load/Print, and writes formatted output to stdout. This
// is the "filter module output without a running query server" path --
// capture and export themselves run colocated inside comocap.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net"
	"os"

	jsoniter "github.com/json-iterator/go"

	"github.com/comoproject/como/cmn/cos"
	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/internal/demomodule"
	"github.com/comoproject/como/ipc"
	"github.com/comoproject/como/module"
	"github.com/comoproject/como/storage"
)

var (
	storageSock string
	streamName  string
	moduleName  string
	moduleArgs  string
	format      string
	logDir      string
	configPath  string
)

func init() {
	flag.StringVar(&storageSock, "storage-sock", "/var/run/como/storage.sock", "AF_UNIX socket of the storage role")
	flag.StringVar(&streamName, "stream", "", "name of the bytestream to replay")
	flag.StringVar(&moduleName, "module", "bytecount", "built-in module to filter through")
	flag.StringVar(&moduleArgs, "args", "", "arguments passed to the module's init()")
	flag.StringVar(&format, "format", "", "output format ID passed to print(), module-defined")
	flag.StringVar(&logDir, "log-dir", "/var/log/como", "log directory")
	flag.StringVar(&configPath, "config", "", "JSON filterConfig file; overrides -stream/-module/-args/-format when given")
}

var builtins = map[string]module.Behavior{
	"bytecount": demomodule.ByteCountBehavior(),
}

func main() {
	flag.Parse()
	if configPath != "" {
		fc, err := loadFilterConfig(configPath)
		if err != nil {
			cos.ExitLogf("load config %q: %v", configPath, err)
		}
		streamName, moduleName, moduleArgs, format = fc.Stream, fc.Module, fc.Args, fc.Format
	}
	if streamName == "" {
		fmt.Fprintln(os.Stderr, "comoexport: -stream is required")
		os.Exit(2)
	}

	if err := cos.CreateDir(logDir); err != nil {
		cos.ExitLogf("create log dir %q: %v", logDir, err)
	}
	nlog.SetLogDirRole(logDir, "export")
	nlog.SetTitle("como-export-filter")

	behavior, ok := builtins[moduleName]
	if !ok {
		cos.ExitLogf("unknown built-in module %q", moduleName)
	}
	cfg, err := behavior.Init(moduleArgs)
	if err != nil {
		cos.ExitLogf("init %q: %v", moduleName, err)
	}

	conn, err := net.Dial("unix", storageSock)
	if err != nil {
		cos.ExitLogf("dial storage at %q: %v", storageSock, err)
	}
	defer conn.Close()
	client := ipc.DialStorage(conn)

	id, _, err := client.Open(streamName, storage.ModeReader, 0)
	if err != nil {
		cos.ExitLogf("open %q: %v", streamName, err)
	}
	defer client.Close(id, 0)

	out := bufio.NewWriter(os.Stdout)
	defer out.Flush()

	var state any
	if behavior.InitQuery != nil {
		state, err = behavior.InitQuery(format, "", cfg)
		if err != nil {
			cos.ExitLogf("init_qu: %v", err)
		}
	}
	if behavior.FinishQuery != nil {
		defer behavior.FinishQuery(format, state, cfg)
	}

	var offset uint64
	const window = 64 * 1024
	for {
		res, err := client.Region(id, offset, window)
		if err != nil || res.EOF || len(res.Data) == 0 {
			break
		}
		size, _, err := behavior.Load(res.Data, cfg)
		if err != nil || size <= 0 {
			nlog.Warningf("export: sync loss at offset %d, stopping", offset)
			break
		}
		rec := &module.Record{Bytes: res.Data[:size]}
		line, err := behavior.Print(format, rec, state, cfg)
		if err != nil {
			nlog.Warningf("export: print: %v", err)
			break
		}
		out.Write(line)
		offset += uint64(size)
	}
}

// jsoniter is wired here rather than encoding/json since a deployment's
// module registry config (mapping descriptor names to -module/-args
// invocations of this tool) is parsed with it; see loadFilterConfig.
var jsonAPI = jsoniter.ConfigCompatibleWithStandardLibrary

// filterConfig is the on-disk shape of a saved comoexport invocation, so a
// supervisor can store one JSON file per configured filter instead of
// reconstructing flag lines.
type filterConfig struct {
	Stream string `json:"stream"`
	Module string `json:"module"`
	Args   string `json:"args"`
	Format string `json:"format"`
}

func loadFilterConfig(path string) (filterConfig, error) {
	var fc filterConfig
	f, err := os.Open(path)
	if err != nil {
		return fc, err
	}
	defer f.Close()
	dec := jsonAPI.NewDecoder(f)
	err = dec.Decode(&fc)
	return fc, err
}
