/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package query

import (
	"fmt"
	"net/url"
	"strconv"

	"github.com/comoproject/como/module"
)

// Request is one parsed GET /<module>?... query.
type Request struct {
	Module string
	Start  module.Timestamp
	End    module.Timestamp
	Filter string
	Source string
	Format string
	Wait   bool
	Args   url.Values
}

// ParseRequest validates the path and query string of an incoming GET: it
// requires a module name, numeric start/end seconds, and start <= end.
// Module existence and format legality are resolved later against live
// state.
func ParseRequest(path string, rawQuery string) (*Request, error) {
	if len(path) < 2 || path[0] != '/' {
		return nil, fmt.Errorf("missing module")
	}
	values, err := url.ParseQuery(rawQuery)
	if err != nil {
		return nil, fmt.Errorf("bad query string: %w", err)
	}

	req := &Request{
		Module: path[1:],
		Filter: values.Get("filter"),
		Source: values.Get("source"),
		Format: values.Get("format"),
		Wait:   values.Get("wait") == "yes",
		Args:   values,
	}
	if req.Module == "" {
		return nil, fmt.Errorf("missing module")
	}
	if req.Format == "" {
		req.Format = "raw"
	}
	if s := values.Get("start"); s != "" {
		sec, err := strconv.ParseUint(s, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad start: %w", err)
		}
		req.Start = module.NewTimestamp(uint32(sec), 0)
	}
	if e := values.Get("end"); e != "" {
		sec, err := strconv.ParseUint(e, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("bad end: %w", err)
		}
		req.End = module.NewTimestamp(uint32(sec), 0)
	} else {
		req.End = module.Timestamp(^uint64(0))
	}
	if req.Start > req.End {
		return nil, fmt.Errorf("start %d after end %d", req.Start.Sec(), req.End.Sec())
	}
	return req, nil
}
