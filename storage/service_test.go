/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package storage_test

import (
	"testing"

	"github.com/comoproject/como/storage"
)

func writeAll(t *testing.T, svc *storage.Service, wid storage.ClientID, offset uint64, data []byte) uint64 {
	t.Helper()
	res, err := svc.Region(wid, offset, len(data))
	if err != nil {
		t.Fatalf("writer region at %d: %v", offset, err)
	}
	copy(res.Data, data)
	next := offset + uint64(len(data))
	if err := svc.Inform(wid, next); err != nil {
		t.Fatalf("inform %d: %v", next, err)
	}
	return next
}

func TestServiceWriterReaderRoundTrip(t *testing.T) {
	svc := storage.NewService(t.TempDir())

	wid, woff, err := svc.Open("traffic", storage.ModeWriter, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	if woff != 0 {
		t.Fatalf("writer start offset = %d, want 0", woff)
	}

	off := writeAll(t, svc, wid, woff, []byte("hello "))
	off = writeAll(t, svc, wid, off, []byte("world"))

	rid, roff, err := svc.Open("traffic", storage.ModeReaderNonBlock, 0)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	res, err := svc.Region(rid, roff, int(off-roff))
	if err != nil {
		t.Fatalf("reader region: %v", err)
	}
	if string(res.Data) != "hello world" {
		t.Fatalf("got %q, want %q", res.Data, "hello world")
	}

	// past the commit point, a non-blocking reader gets EOF rather than
	// parking.
	past, err := svc.Region(rid, off, 16)
	if err != nil {
		t.Fatalf("region past commit: %v", err)
	}
	if !past.EOF {
		t.Fatal("expected EOF for a non-blocking reader past the commit point")
	}

	if err := svc.Close(rid, 0); err != nil {
		t.Fatalf("close reader: %v", err)
	}
	if err := svc.Close(wid, off); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

func TestServiceOpenReaderMissingStreamFails(t *testing.T) {
	svc := storage.NewService(t.TempDir())
	if _, _, err := svc.Open("nope", storage.ModeReaderNonBlock, 0); err == nil {
		t.Fatal("expected error opening a nonexistent stream for reading")
	}
}

func TestServiceSecondWriterRejected(t *testing.T) {
	svc := storage.NewService(t.TempDir())
	wid, _, err := svc.Open("traffic", storage.ModeWriter, 0)
	if err != nil {
		t.Fatalf("open first writer: %v", err)
	}
	if _, _, err := svc.Open("traffic", storage.ModeWriter, 0); err == nil {
		t.Fatal("expected error opening a second writer on the same stream")
	}
	if err := svc.Close(wid, 0); err != nil {
		t.Fatalf("close writer: %v", err)
	}
}

func TestServiceWriterGapRejected(t *testing.T) {
	svc := storage.NewService(t.TempDir())
	wid, woff, err := svc.Open("traffic", storage.ModeWriter, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	_ = writeAll(t, svc, wid, woff, []byte("abc"))
	if _, err := svc.Region(wid, woff+100, 8); err == nil {
		t.Fatal("expected error writing a region that creates a gap")
	}
}

func TestServiceSeekAbsoluteOutOfRange(t *testing.T) {
	svc := storage.NewService(t.TempDir())
	wid, woff, err := svc.Open("traffic", storage.ModeWriter, 0)
	if err != nil {
		t.Fatalf("open writer: %v", err)
	}
	off := writeAll(t, svc, wid, woff, []byte("abc"))

	rid, _, err := svc.Open("traffic", storage.ModeReaderNonBlock, 0)
	if err != nil {
		t.Fatalf("open reader: %v", err)
	}
	if _, err := svc.Seek(rid, storage.SeekRequest{Whence: storage.SeekAbsolute, Offset: off + 1000}); err == nil {
		t.Fatal("expected error seeking past the end of the stream")
	}
	if got, err := svc.Seek(rid, storage.SeekRequest{Whence: storage.SeekAbsolute, Offset: woff}); err != nil || got != woff {
		t.Fatalf("seek to start: got (%d, %v), want (%d, nil)", got, err, woff)
	}
}
