// Package fs implements the on-disk layout of a CoMo bytestream:
// one directory per stream, one file per segment, each file named after its
// own starting byte offset within the stream as a fixed-width, lowercase
// hex literal. The storage service (package storage) is the only consumer;
// everything here is pure path/file-naming plumbing with no service state.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package fs

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"

	"github.com/comoproject/como/cmn/cos"
)

// NameWidth is the fixed hex-digit width of a segment file name: 16 hex
// digits cover the full range of a uint64 offset.
const NameWidth = 16

// FileName renders a segment's starting offset as its file name.
func FileName(offset uint64) string {
	return fmt.Sprintf("%0*x", NameWidth, offset)
}

// ParseFileName is the inverse of FileName; it rejects anything that is
// not exactly NameWidth lowercase hex digits, so a scan of a stream
// directory can't be confused by stray files.
func ParseFileName(name string) (offset uint64, ok bool) {
	if len(name) != NameWidth {
		return 0, false
	}
	v, err := strconv.ParseUint(name, 16, 64)
	if err != nil {
		return 0, false
	}
	// round-trip to reject non-canonical (e.g. uppercase) encodings.
	if FileName(v) != name {
		return 0, false
	}
	return v, true
}

// StreamDir returns the directory that holds one bytestream's segment
// files under root.
func StreamDir(root, name string) string { return filepath.Join(root, name) }

// EnsureStreamDir creates the stream's directory if absent, for write-open.
func EnsureStreamDir(root, name string) (string, error) {
	if err := cos.ValidateStreamName(name); err != nil {
		return "", err
	}
	dir := StreamDir(root, name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// StreamDirExists reports whether the bytestream directory is already
// present, without creating it -- used by read-mode OPEN, which must fail
// rather than create.
func StreamDirExists(root, name string) bool {
	info, err := os.Stat(StreamDir(root, name))
	return err == nil && info.IsDir()
}

// Segment describes one on-disk file belonging to a bytestream.
type Segment struct {
	Offset uint64 // starting byte offset within the stream
	Path   string
	Size   int64 // on-disk size at scan time; the writer's live file may grow further
}

// ListSegments returns every segment file in a stream directory, sorted by
// starting offset ascending -- the total order file-name offsets impose.
func ListSegments(dir string) ([]Segment, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	segs := make([]Segment, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		off, ok := ParseFileName(e.Name())
		if !ok {
			continue
		}
		info, err := e.Info()
		if err != nil {
			return nil, err
		}
		segs = append(segs, Segment{Offset: off, Path: filepath.Join(dir, e.Name()), Size: info.Size()})
	}
	sort.Slice(segs, func(i, j int) bool { return segs[i].Offset < segs[j].Offset })
	return segs, nil
}

// CreateSegment opens a brand-new segment file for appending, starting at
// offset. OPEN rejects a second writer earlier, at the storage-service
// layer, so O_EXCL here catches any leftover file from a crashed writer.
func CreateSegment(dir string, offset uint64) (*os.File, error) {
	path := filepath.Join(dir, FileName(offset))
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_RDWR|os.O_APPEND, 0o644)
}

// OpenSegmentAppend reopens an existing segment for the writer to resume
// appending to -- used when a writer reattaches to a stream it already
// wrote to before a restart.
func OpenSegmentAppend(dir string, offset uint64) (*os.File, error) {
	path := filepath.Join(dir, FileName(offset))
	return os.OpenFile(path, os.O_RDWR|os.O_APPEND, 0o644)
}

// OpenSegmentRead opens a segment read-only, for mmap(PROT_READ).
func OpenSegmentRead(dir string, offset uint64) (*os.File, error) {
	path := filepath.Join(dir, FileName(offset))
	return os.OpenFile(path, os.O_RDONLY, 0)
}

// SegmentPath joins dir and the canonical name for offset, without
// touching the filesystem.
func SegmentPath(dir string, offset uint64) string {
	return filepath.Join(dir, FileName(offset))
}
