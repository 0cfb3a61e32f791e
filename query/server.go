// Package query serves read-only HTTP clients against persisted (or, for
// on-demand modules, freshly replayed) bytestreams: it validates the
// request, resolves the module, seeks the stream to the requested start
// time, and streams records out in the requested format.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package query

import (
	"fmt"
	"net/http"
	"sync"

	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/module"
	"github.com/comoproject/como/storage"
)

// OnDemandSource relaunches capture+export transiently with the named
// source module as upstream, synthesizing input packets via the source
// module's replay callback. Orchestrating separate processes (or
// goroutines, in an in-process deployment) is outside this package; this
// is the seam a supervisor wires in.
type OnDemandSource interface {
	Relaunch(desc *module.Descriptor, sourceModule string) (RecordStream, error)
}

// RecordStream yields records from an on-demand run in timestamp order.
type RecordStream interface {
	Next() (*module.Record, bool, error)
	Close() error
}

// Server answers the minimal HTTP surface described by the wire format:
// GET /<module>?start=&end=&filter=&source=&format=&wait=&...
type Server struct {
	Storage  *storage.Service
	Registry Registry
	OnDemand OnDemandSource

	cfgMu sync.Mutex
	cfg   map[string]any // module name -> init()'d config, lazily created
}

// cfgFor returns (initializing on first use) the config query's own
// read-side callback invocations (load/print/replay) are driven with. Query
// calls init() independently of capture and export's own instances and
// keeps the result per module for the Server's lifetime.
func (s *Server) cfgFor(desc *module.Descriptor) (any, error) {
	s.cfgMu.Lock()
	defer s.cfgMu.Unlock()
	if s.cfg == nil {
		s.cfg = make(map[string]any)
	}
	if c, ok := s.cfg[desc.Name]; ok {
		return c, nil
	}
	c, err := desc.Behavior.Init(desc.Args)
	if err != nil {
		return nil, err
	}
	s.cfg[desc.Name] = c
	return c, nil
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := ParseRequest(r.URL.Path, r.URL.RawQuery)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	desc, ok := s.Registry.Resolve(req.Module)
	if !ok {
		http.Error(w, fmt.Sprintf("module %q not found", req.Module), http.StatusNotFound)
		return
	}

	if !formatAllowed(desc, req.Format) {
		http.Error(w, fmt.Sprintf("module %q does not support format %q", req.Module, req.Format), http.StatusInternalServerError)
		return
	}

	if req.Source != "" {
		s.serveOnDemand(w, req, desc)
		return
	}
	s.servePersisted(w, req, desc)
}

func formatAllowed(desc *module.Descriptor, format string) bool {
	if format == "raw" || format == "como" {
		return true
	}
	return desc.Behavior.Print != nil
}

func (s *Server) servePersisted(w http.ResponseWriter, req *Request, desc *module.Descriptor) {
	cfg, err := s.cfgFor(desc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	mode := storage.ModeReaderNonBlock
	if req.Wait {
		mode = storage.ModeReader
	}
	id, offset, err := s.Storage.Open(desc.OutputStream, mode, 0)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer s.Storage.Close(id, offset)

	load := func(buf []byte) (int, module.Timestamp, error) {
		return desc.Behavior.Load(buf, cfg)
	}
	offset, atEOF, err := seekToStart(s.Storage, id, offset, req.Start, load)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", contentType(req.Format))
	w.WriteHeader(http.StatusOK)
	if atEOF {
		return
	}

	switch req.Format {
	case "raw":
		s.streamRaw(w, id, offset, req.End, load)
	case "como":
		s.streamReplay(w, id, offset, req.End, desc, cfg, load)
	default:
		s.streamFormatted(w, id, offset, req.End, req.Format, req.Args.Encode(), desc, cfg, load)
	}
}

// advanceToNextFile recovers from a csgetrec sync loss (spec §4.5 step 6:
// "on any csgetrec sync loss, advance to the next file and continue")
// rather than ending the response. Returns ok=false when there is no next
// segment, at which point the stream really has run out.
func (s *Server) advanceToNextFile(id storage.ClientID) (uint64, bool) {
	off, err := s.Storage.Seek(id, storage.SeekRequest{Whence: storage.SeekFileNext})
	if err != nil {
		return 0, false
	}
	return off, true
}

func contentType(format string) string {
	switch format {
	case "raw":
		return "application/octet-stream"
	case "como":
		return "application/vnd.como.packetstream"
	default:
		return "text/plain; charset=utf-8"
	}
}

// streamRaw copies record bytes verbatim, advancing by load()'s declared
// record size and stopping once a record's timestamp passes end. A load()
// desync skips to the next segment file (advanceToNextFile); the stream
// ends when there is none.
func (s *Server) streamRaw(w http.ResponseWriter, id storage.ClientID, offset uint64, end module.Timestamp, load func([]byte) (int, module.Timestamp, error)) {
	for {
		res, err := s.Storage.Region(id, offset, readWindow)
		if err != nil || res.EOF || len(res.Data) == 0 {
			return
		}
		size, ts, err := load(res.Data)
		if err != nil || size <= 0 {
			nlog.Warningf("query: sync loss at offset %d, advancing to next file", offset)
			next, ok := s.advanceToNextFile(id)
			if !ok {
				return
			}
			offset = next
			continue
		}
		if ts > end {
			return
		}
		if size > len(res.Data) {
			size = len(res.Data)
		}
		w.Write(res.Data[:size])
		offset += uint64(size)
	}
}

func (s *Server) streamReplay(w http.ResponseWriter, id storage.ClientID, offset uint64, end module.Timestamp, desc *module.Descriptor, cfg any, load func([]byte) (int, module.Timestamp, error)) {
	if desc.Behavior.Replay == nil {
		return
	}
	for {
		res, err := s.Storage.Region(id, offset, readWindow)
		if err != nil || res.EOF || len(res.Data) == 0 {
			return
		}
		size, ts, err := load(res.Data)
		if err != nil || size <= 0 {
			nlog.Warningf("query: sync loss at offset %d, advancing to next file", offset)
			next, ok := s.advanceToNextFile(id)
			if !ok {
				return
			}
			offset = next
			continue
		}
		if ts > end {
			return
		}
		rec := &module.Record{Bytes: res.Data[:size]}
		out := make([]byte, readWindow)
		if _, err := desc.Behavior.Replay(rec, out, nil, cfg); err != nil {
			nlog.Warningf("query: replay %q: %v", desc.Name, err)
			return
		}
		w.Write(out)
		offset += uint64(size)
	}
}

func (s *Server) streamFormatted(w http.ResponseWriter, id storage.ClientID, offset uint64, end module.Timestamp, fmtID, args string, desc *module.Descriptor, cfg any, load func([]byte) (int, module.Timestamp, error)) {
	var state any
	if desc.Behavior.InitQuery != nil {
		st, err := desc.Behavior.InitQuery(fmtID, args, cfg)
		if err != nil {
			nlog.Warningf("query: init_qu %q: %v", desc.Name, err)
			return
		}
		state = st
	}
	if desc.Behavior.FinishQuery != nil {
		defer desc.Behavior.FinishQuery(fmtID, state, cfg)
	}

	for {
		res, err := s.Storage.Region(id, offset, readWindow)
		if err != nil || res.EOF || len(res.Data) == 0 {
			return
		}
		size, ts, err := load(res.Data)
		if err != nil || size <= 0 {
			nlog.Warningf("query: sync loss at offset %d, advancing to next file", offset)
			next, ok := s.advanceToNextFile(id)
			if !ok {
				return
			}
			offset = next
			continue
		}
		if ts > end {
			return
		}
		rec := &module.Record{Bytes: res.Data[:size]}
		out, err := desc.Behavior.Print(fmtID, rec, state, cfg)
		if err != nil {
			nlog.Warningf("query: print %q: %v", desc.Name, err)
			return
		}
		w.Write(out)
		offset += uint64(size)
	}
}

func (s *Server) serveOnDemand(w http.ResponseWriter, req *Request, desc *module.Descriptor) {
	if s.OnDemand == nil {
		http.Error(w, "on-demand sources not available", http.StatusInternalServerError)
		return
	}
	cfg, err := s.cfgFor(desc)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	stream, err := s.OnDemand.Relaunch(desc, req.Source)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	defer stream.Close()

	w.Header().Set("Content-Type", contentType(req.Format))
	w.WriteHeader(http.StatusOK)

	var state any
	if req.Format != "raw" && req.Format != "como" && desc.Behavior.InitQuery != nil {
		state, _ = desc.Behavior.InitQuery(req.Format, req.Args.Encode(), cfg)
	}
	if state != nil && desc.Behavior.FinishQuery != nil {
		defer desc.Behavior.FinishQuery(req.Format, state, cfg)
	}

	for {
		rec, ok, err := stream.Next()
		if err != nil {
			nlog.Warningf("query: on-demand replay %q: %v", desc.Name, err)
			return
		}
		if !ok {
			return
		}
		switch req.Format {
		case "raw":
			w.Write(rec.Bytes)
		case "como":
			out := make([]byte, readWindow)
			if _, err := desc.Behavior.Replay(rec, out, state, cfg); err != nil {
				return
			}
			w.Write(out)
		default:
			out, err := desc.Behavior.Print(req.Format, rec, state, cfg)
			if err != nil {
				return
			}
			w.Write(out)
		}
	}
}
