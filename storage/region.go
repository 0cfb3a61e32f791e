/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package storage

import (
	"os"
	"time"

	"github.com/comoproject/como/fs"
	"golang.org/x/sys/unix"
)

const pageSize = 4096

// fsFile is the writer-side handle on the currently open segment: the
// bytes actually on disk may run ahead of what's committed (visible to
// readers) -- writerEnd tracks the former, segment.committed the latter.
type fsFile struct {
	file      *os.File
	writerEnd uint64 // next valid REGION offset for this segment (absolute, stream-wide)
}

// Seek implements SEEK (readers only).
func (s *Service) Seek(id ClientID, req SeekRequest) (uint64, error) {
	bs := s.lookupClientStream(id)
	if bs == nil {
		return 0, errEBADF("client %d not open", id)
	}
	bs.mu.Lock()
	defer bs.mu.Unlock()

	c, ok := bs.readers[id]
	if !ok {
		return 0, errEBADF("client %d not open", id)
	}
	if c.mode == ModeWriter {
		return 0, errEINVAL("SEEK is reader-only")
	}
	c.lastActive = time.Now()

	switch req.Whence {
	case SeekAbsolute:
		if len(bs.segments) > 0 && (req.Offset < bs.startOffset || req.Offset > bs.startOffset+bs.size) {
			return 0, errENODATA("seek offset %d out of range", req.Offset)
		}
		c.offset = req.Offset
	case SeekFileNext, SeekFilePrev:
		idx := segmentIndexFor(bs, c.offset)
		if idx < 0 {
			return 0, errENODATA("current position has no segment")
		}
		if req.Whence == SeekFileNext {
			idx++
		} else {
			idx--
		}
		if idx < 0 || idx >= len(bs.segments) {
			return 0, errENODATA("no such segment")
		}
		c.offset = bs.segments[idx].offset
	default:
		return 0, errEINVAL("bad seek whence %d", req.Whence)
	}
	s.unmapClientLocked(bs, id)
	return c.offset, nil
}

func segmentIndexFor(bs *bytestream, offset uint64) int {
	for i, sg := range bs.segments {
		end := sg.offset + sg.committed
		if offset >= sg.offset && offset < end {
			return i
		}
		if i == len(bs.segments)-1 && offset == end {
			return i
		}
	}
	return -1
}

// Region implements REGION. Blocking readers park on a channel
// until INFORM or writer CLOSE resolves them -- the parked goroutine holds
// no lock while waiting, so it never stalls the rest of the service.
func (s *Service) Region(id ClientID, offset uint64, size int) (RegionResult, error) {
	bs := s.lookupClientStream(id)
	if bs == nil {
		return RegionResult{}, errEBADF("client %d not open", id)
	}

	bs.mu.Lock()
	c, ok := bs.readers[id]
	if !ok {
		bs.mu.Unlock()
		return RegionResult{}, errEBADF("client %d not open", id)
	}
	c.lastActive = time.Now()

	if c.mode == ModeWriter {
		res, err := s.writerRegionLocked(bs, c, offset, size)
		bs.mu.Unlock()
		if err == nil {
			s.kick()
		}
		return res, err
	}

	res, blocked, ch, err := s.readerRegionLocked(bs, c, offset, size)
	if !blocked {
		bs.mu.Unlock()
		return res, err
	}
	bs.mu.Unlock()
	out := <-ch
	return out.res, out.err
}

// writerRegionLocked implements the writer half of REGION: no overwrite,
// no gap, extend with zero-fill, rotate the segment on perFileMax overflow.
// Caller holds bs.mu.
func (s *Service) writerRegionLocked(bs *bytestream, c *client, offset uint64, size int) (RegionResult, error) {
	if len(bs.segments) == 0 {
		f, err := fs.CreateSegment(bs.dir, offset)
		if err != nil {
			return RegionResult{}, errEINVAL("create segment: %v", err)
		}
		bs.startOffset = offset
		sg := &segment{offset: offset, path: fs.SegmentPath(bs.dir, offset), wf: &fsFile{file: f, writerEnd: offset}, readers: make(map[ClientID]*mappedRegion)}
		bs.segments = append(bs.segments, sg)
	}

	last := bs.segments[len(bs.segments)-1]
	if last.wf == nil {
		// writer reattached to a stream whose last segment was written by
		// a prior process instance; reopen it for append.
		f, err := fs.OpenSegmentAppend(bs.dir, last.offset)
		if err != nil {
			return RegionResult{}, errEINVAL("reopen segment for append: %v", err)
		}
		last.wf = &fsFile{file: f, writerEnd: last.offset + last.committed}
	}

	if offset != last.wf.writerEnd {
		if offset < last.wf.writerEnd {
			return RegionResult{}, errEINVAL("REGION offset %d overwrites committed data (writer at %d)", offset, last.wf.writerEnd)
		}
		return RegionResult{}, errEINVAL("REGION offset %d creates a gap (writer at %d)", offset, last.wf.writerEnd)
	}

	fileLen := offset - last.offset
	if bs.perFileMax > 0 && fileLen+uint64(size) > bs.perFileMax && fileLen > 0 {
		// rotate: close the current segment (scheduler finishes the
		// close+truncate), open a fresh one starting exactly at offset.
		last.pendingClose = true
		f, err := fs.CreateSegment(bs.dir, offset)
		if err != nil {
			return RegionResult{}, errEINVAL("create rollover segment: %v", err)
		}
		sg := &segment{offset: offset, path: fs.SegmentPath(bs.dir, offset), wf: &fsFile{file: f, writerEnd: offset}, readers: make(map[ClientID]*mappedRegion)}
		bs.segments = append(bs.segments, sg)
		last = sg
	}

	if err := fs.ZeroFillExtend(last.wf.file, int64(size)); err != nil {
		return RegionResult{}, errEINVAL("extend segment: %v", err)
	}
	last.wf.writerEnd = offset + uint64(size)

	fileOff := int64(offset - last.offset)
	full, view, err := mmapWindow(last.wf.file, fileOff, size, true)
	if err != nil {
		return RegionResult{}, errEINVAL("mmap: %v", err)
	}
	// Each REGION is a transition point for the writer: unmap whatever
	// window the previous call granted before retaining the new one.
	unmapWriter(c)
	c.writerMap = full
	c.offset = last.wf.writerEnd
	return RegionResult{Offset: offset, Data: view}, nil
}

// unmapWriter releases c's outstanding writer mapping, if any. Called on
// every subsequent REGION (rotation included) and on writer CLOSE.
func unmapWriter(c *client) {
	if c.writerMap == nil {
		return
	}
	if len(c.writerMap) > 0 {
		_ = unix.Munmap(c.writerMap)
	}
	c.writerMap = nil
}

// readerRegionLocked resolves a reader's REGION request if possible, or
// parks it (returning blocked=true) when the client is a blocking reader
// waiting on a writer that hasn't caught up yet. Caller holds bs.mu.
func (s *Service) readerRegionLocked(bs *bytestream, c *client, offset uint64, size int) (res RegionResult, blocked bool, ch chan regionOutcome, err error) {
	commitEnd := bs.startOffset + bs.size

	if len(bs.segments) == 0 && !bs.hasWriter {
		return RegionResult{EOF: true}, false, nil, nil
	}
	if len(bs.segments) > 0 && offset < bs.startOffset {
		return RegionResult{}, false, nil, errENODATA("offset %d precedes stream start %d", offset, bs.startOffset)
	}
	if offset >= commitEnd {
		if !bs.hasWriter {
			return RegionResult{EOF: true}, false, nil, nil
		}
		if c.mode == ModeReaderNonBlock {
			return RegionResult{EOF: true}, false, nil, nil
		}
		// blocking reader: park.
		breq := &blockedReq{clientID: c.id, offset: offset, size: size, result: make(chan regionOutcome, 1)}
		bs.blocked = append(bs.blocked, breq)
		return RegionResult{}, true, breq.result, nil
	}

	idx := segmentIndexFor(bs, offset)
	if idx < 0 {
		return RegionResult{}, false, nil, errENODATA("offset %d has no covering segment", offset)
	}
	sg := bs.segments[idx]
	grant := size
	segEnd := sg.offset + sg.committed
	if uint64(grant) > segEnd-offset {
		grant = int(segEnd - offset)
	}
	fileOff := int64(offset - sg.offset)
	s.unmapClientLocked(bs, c.id)
	f, openErr := openForRead(sg)
	if openErr != nil {
		return RegionResult{}, false, nil, errEINVAL("open segment: %v", openErr)
	}
	full, view, mmapErr := mmapWindow(f, fileOff, grant, false)
	if sg.wf == nil {
		defer f.Close() // the mmap itself keeps the pages resident; the fd is not needed afterward
	}
	if mmapErr != nil {
		return RegionResult{}, false, nil, errEINVAL("mmap: %v", mmapErr)
	}
	sg.readers[c.id] = &mappedRegion{segOffset: sg.offset, data: full, view: view}
	c.offset = offset + uint64(grant)
	return RegionResult{Offset: offset, Data: view}, false, nil, nil
}

func openForRead(sg *segment) (*os.File, error) {
	if sg.wf != nil {
		return sg.wf.file, nil
	}
	return os.Open(sg.path)
}

// mmapWindow maps the page containing fileOff, plus enough following pages
// to cover size bytes, and returns both the full page-aligned mapping
// (needed verbatim by Munmap) and the requested sub-slice.
func mmapWindow(f *os.File, fileOff int64, size int, writable bool) (full, view []byte, err error) {
	if f == nil || size <= 0 {
		return nil, []byte{}, nil
	}
	pageStart := (fileOff / pageSize) * pageSize
	pad := int(fileOff - pageStart)
	prot := unix.PROT_READ
	if writable {
		prot |= unix.PROT_WRITE
	}
	full, err = unix.Mmap(int(f.Fd()), pageStart, pad+size, prot, unix.MAP_SHARED)
	if err != nil {
		return nil, nil, err
	}
	return full, full[pad : pad+size], nil
}

// Inform implements INFORM: it advances the writer's commit point, the
// only place a reader's "I can see bytes < o" guarantee is established.
func (s *Service) Inform(id ClientID, offset uint64) error {
	bs := s.lookupClientStream(id)
	if bs == nil {
		return errEBADF("client %d not open", id)
	}
	bs.mu.Lock()
	c, ok := bs.readers[id]
	if !ok || c.mode != ModeWriter {
		bs.mu.Unlock()
		return errEINVAL("INFORM is writer-only")
	}
	if len(bs.segments) == 0 {
		bs.mu.Unlock()
		return errEINVAL("no segment to inform")
	}
	last := bs.segments[len(bs.segments)-1]
	if offset < last.offset || offset > last.wf.writerEnd {
		bs.mu.Unlock()
		return errEINVAL("INFORM offset %d invalid (segment [%d,%d])", offset, last.offset, last.wf.writerEnd)
	}
	newCommit := offset - last.offset
	if newCommit < last.committed {
		bs.mu.Unlock()
		return errEINVAL("INFORM offset %d would move the commit point backward", offset)
	}
	last.committed = newCommit
	bs.size = offset - bs.startOffset

	woken := s.resolveBlockedLocked(bs)
	bs.mu.Unlock()

	for _, w := range woken {
		w.ch <- w.outcome
	}
	s.kick()
	return nil
}

type blockedWake struct {
	ch      chan regionOutcome
	outcome regionOutcome
}

// resolveBlockedLocked re-evaluates every parked request against the new
// commit point, returning the ones now satisfiable. Caller holds bs.mu.
func (s *Service) resolveBlockedLocked(bs *bytestream) []blockedWake {
	var woken []blockedWake
	remaining := bs.blocked[:0]
	commitEnd := bs.startOffset + bs.size
	for _, breq := range bs.blocked {
		if breq.offset >= commitEnd && bs.hasWriter {
			remaining = append(remaining, breq)
			continue
		}
		c := bs.readers[breq.clientID]
		var out regionOutcome
		switch {
		case c == nil:
			out = regionOutcome{err: errEBADF("client %d closed while blocked", breq.clientID)}
		case breq.offset >= commitEnd:
			out = regionOutcome{res: RegionResult{EOF: true}}
		default:
			res, _, _, err := s.readerRegionLocked(bs, c, breq.offset, breq.size)
			out = regionOutcome{res: res, err: err}
		}
		woken = append(woken, blockedWake{ch: breq.result, outcome: out})
	}
	bs.blocked = remaining
	return woken
}

func (s *Service) wakeBlocked(bs *bytestream) {
	bs.mu.Lock()
	woken := s.resolveBlockedLocked(bs)
	bs.mu.Unlock()
	for _, w := range woken {
		w.ch <- w.outcome
	}
}

func (s *Service) unmapClientLocked(bs *bytestream, id ClientID) {
	for _, sg := range bs.segments {
		if r, ok := sg.readers[id]; ok {
			if len(r.data) > 0 {
				_ = unix.Munmap(r.data)
			}
			delete(sg.readers, id)
		}
	}
}

func (s *Service) releaseReaderRegions(bs *bytestream, id ClientID) {
	s.unmapClientLocked(bs, id)
}
