/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package query_test

import (
	"testing"

	"github.com/comoproject/como/module"
	"github.com/comoproject/como/query"
)

func TestParseRequestDefaults(t *testing.T) {
	req, err := query.ParseRequest("/traffic", "")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Module != "traffic" {
		t.Fatalf("module = %q", req.Module)
	}
	if req.Format != "raw" {
		t.Fatalf("default format = %q, want raw", req.Format)
	}
	if req.Start != 0 {
		t.Fatalf("default start = %d, want 0", req.Start)
	}
	if req.End != module.Timestamp(^uint64(0)) {
		t.Fatalf("default end should be the maximum timestamp")
	}
}

func TestParseRequestMissingModule(t *testing.T) {
	if _, err := query.ParseRequest("/", ""); err == nil {
		t.Fatal("expected error for empty module name")
	}
	if _, err := query.ParseRequest("", ""); err == nil {
		t.Fatal("expected error for missing leading slash")
	}
}

func TestParseRequestStartAfterEnd(t *testing.T) {
	if _, err := query.ParseRequest("/traffic", "start=100&end=50"); err == nil {
		t.Fatal("expected error when start > end")
	}
}

func TestParseRequestFields(t *testing.T) {
	req, err := query.ParseRequest("/traffic", "start=10&end=20&format=pretty&source=eth0&wait=yes")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if req.Start.Sec() != 10 || req.End.Sec() != 20 {
		t.Fatalf("start/end = %d/%d", req.Start.Sec(), req.End.Sec())
	}
	if req.Format != "pretty" || req.Source != "eth0" || !req.Wait {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestParseRequestBadTimestamp(t *testing.T) {
	if _, err := query.ParseRequest("/traffic", "start=notanumber"); err == nil {
		t.Fatal("expected error for non-numeric start")
	}
}
