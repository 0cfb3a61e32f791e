/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package storage

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/comoproject/como/cmn/cos"
	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/fs"
	"github.com/comoproject/como/hk"
)

// segment tracks one on-disk file and the readers currently mapped into it.
type segment struct {
	offset    uint64
	path      string
	wf        *fsFile // nil unless this is the writer's currently open segment
	committed uint64  // bytes visible to readers; <= on-disk size
	readers   map[ClientID]*mappedRegion

	pendingClose bool // scheduler must close+truncate wf once unmapped
}

// mappedRegion is one client's current mmap window.
type mappedRegion struct {
	segOffset uint64
	pageStart int64
	data      []byte // the full mmap'd page-aligned window
	view      []byte // the requested sub-slice within data
	writable  bool
}

type blockedReq struct {
	clientID ClientID
	offset   uint64
	size     int
	result   chan regionOutcome
}

type regionOutcome struct {
	res RegionResult
	err error
}

// bytestream is one named, append-only stream: a directory of segment
// files plus the bookkeeping a single writer and any number of readers
// need, sharing a monotonically growing commit point.
type bytestream struct {
	mu   sync.Mutex
	name string
	dir  string

	segments []*segment // sorted by offset ascending
	writer   ClientID
	hasWriter bool

	startOffset uint64 // first segment's starting offset
	size        uint64 // sum of committed segment sizes

	limit      uint64
	perFileMax uint64

	blocked []*blockedReq

	readers map[ClientID]*client
}

type client struct {
	id         ClientID
	stream     string
	mode       Mode
	lastActive time.Time
	offset     uint64 // writer: commit point; reader: last granted/seek offset

	// writerMap is the writer's most recently granted full (page-aligned)
	// mmap window. A writer has at most one live mapping at a time; each
	// REGION call is a transition point that unmaps the previous one.
	writerMap []byte
}

// Service owns every bytestream under root. There is one Service per
// storage-role process.
type Service struct {
	mu      sync.Mutex
	root    string
	streams map[string]*bytestream
	clients map[ClientID]*bytestream
	nextID  atomic.Uint64

	idleTimeout time.Duration
	maxClients  int
}

// NewService creates a storage service rooted at dir. Call Start to
// register its housekeeping scheduler.
func NewService(root string) *Service {
	return &Service{
		root:        root,
		streams:     make(map[string]*bytestream),
		clients:     make(map[ClientID]*bytestream),
		idleTimeout: DefaultIdleTimeout,
		maxClients:  4096,
	}
}

// Start registers the scheduler with hk. The "changes state" half is
// satisfied by every mutating op calling s.kick after releasing its locks.
func (s *Service) Start() {
	hk.Reg("storage-scheduler"+hk.NameSuffix, s.tick, hk.StorageIdleTick())
}

func (s *Service) kick() { s.tick() }

func (s *Service) getStream(name string) *bytestream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streams[name]
}

func (s *Service) getOrCreateStream(name string) *bytestream {
	s.mu.Lock()
	defer s.mu.Unlock()
	bs, ok := s.streams[name]
	if !ok {
		bs = &bytestream{name: name, dir: fs.StreamDir(s.root, name), readers: make(map[ClientID]*client)}
		s.streams[name] = bs
	}
	return bs
}

// Open implements OPEN.
func (s *Service) Open(name string, mode Mode, sizeLimit uint64) (ClientID, uint64, error) {
	s.mu.Lock()
	if len(s.clients) >= s.maxClients {
		s.mu.Unlock()
		return 0, 0, errEMFILE("too many open clients")
	}
	s.mu.Unlock()

	if mode == ModeWriter {
		if _, err := fs.EnsureStreamDir(s.root, name); err != nil {
			return 0, 0, errEINVAL("create stream dir: %v", err)
		}
	} else if !fs.StreamDirExists(s.root, name) {
		return 0, 0, cos.NewErrNotFound("bytestream %q", name)
	}

	bs := s.getOrCreateStream(name)
	bs.mu.Lock()
	defer bs.mu.Unlock()

	if len(bs.segments) == 0 {
		segs, err := fs.ListSegments(bs.dir)
		if err != nil {
			return 0, 0, errEINVAL("list segments: %v", err)
		}
		for _, sg := range segs {
			bs.segments = append(bs.segments, &segment{offset: sg.Offset, path: sg.Path, committed: uint64(sg.Size), readers: make(map[ClientID]*mappedRegion)})
		}
		if len(bs.segments) > 0 {
			bs.startOffset = bs.segments[0].offset
			last := bs.segments[len(bs.segments)-1]
			bs.size = last.offset + last.committed - bs.startOffset
		}
	}

	if mode == ModeWriter {
		if bs.hasWriter {
			return 0, 0, errEPERM("stream %q already has a writer", name)
		}
		bs.hasWriter = true
		bs.limit = sizeLimit
		if bs.perFileMax == 0 {
			bs.perFileMax = DefaultPerFileMax
		}
	}

	id := ClientID(s.nextID.Add(1))
	c := &client{id: id, stream: name, mode: mode, lastActive: time.Now()}
	if mode == ModeWriter {
		c.offset = bs.startOffset + bs.size
		bs.writer = id
	} else {
		c.offset = bs.startOffset
	}
	bs.readers[id] = c

	s.mu.Lock()
	s.clients[id] = bs
	s.mu.Unlock()

	startOff := c.offset
	if mode != ModeWriter && len(bs.segments) == 0 {
		// empty stream, no writer yet: reader's "first file" offset is 0.
		startOff = 0
	}
	nlog.Infof("storage: OPEN %s client=%d mode=%v offset=%d", name, id, mode, startOff)
	return id, startOff, nil
}

// Close implements CLOSE.
func (s *Service) Close(id ClientID, endingOffset uint64) error {
	bs := s.lookupClientStream(id)
	if bs == nil {
		return errEBADF("client %d not open", id)
	}
	bs.mu.Lock()
	c, ok := bs.readers[id]
	if !ok {
		bs.mu.Unlock()
		return errEBADF("client %d not open", id)
	}
	isWriter := c.mode == ModeWriter
	delete(bs.readers, id)
	if isWriter {
		unmapWriter(c)
		s.commitWriterClose(bs, endingOffset)
		bs.hasWriter = false
		bs.writer = 0
	} else {
		s.releaseReaderRegions(bs, id)
	}
	bs.mu.Unlock()

	s.mu.Lock()
	delete(s.clients, id)
	s.mu.Unlock()

	s.wakeBlocked(bs)
	s.kick()
	return nil
}

// commitWriterClose finalizes the current segment's size and marks it for
// the scheduler's close+truncate; Close wakes blocked readers afterwards.
// Caller holds bs.mu.
func (s *Service) commitWriterClose(bs *bytestream, endingOffset uint64) {
	if len(bs.segments) == 0 {
		return
	}
	last := bs.segments[len(bs.segments)-1]
	if endingOffset < last.offset {
		return
	}
	committed := endingOffset - last.offset
	last.committed = committed
	bs.size = endingOffset - bs.startOffset
	last.pendingClose = true
}

func (s *Service) lookupClientStream(id ClientID) *bytestream {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clients[id]
}
