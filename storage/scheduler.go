/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package storage

import (
	"os"
	"time"

	"github.com/comoproject/como/cmn/nlog"
	"github.com/comoproject/como/fs"
	"github.com/comoproject/como/hk"
)

// tick is the storage scheduler: it runs on hk's idle cadence
// and is also kicked explicitly after any operation that changes state.
// Registered via Start as a hk.CleanupFunc, so its return value is the
// next interval to run at.
func (s *Service) tick() time.Duration {
	s.mu.Lock()
	streams := make([]*bytestream, 0, len(s.streams))
	for _, bs := range s.streams {
		streams = append(streams, bs)
	}
	s.mu.Unlock()

	for _, bs := range streams {
		s.tickStream(bs)
	}
	s.reapIdleStreams(streams)
	return hk.StorageIdleTick()
}

// tickStream runs scheduler steps 1-2 for one bytestream.
func (s *Service) tickStream(bs *bytestream) {
	bs.mu.Lock()
	pending := s.drainPendingCloses(bs)
	s.evictExpiredReadersLocked(bs)
	toDelete := s.overLimitVictimsLocked(bs)
	bs.mu.Unlock()

	for _, p := range pending {
		if err := fs.CloseThenTruncate(p.file, p.path, p.committed); err != nil {
			nlog.Warningf("storage: close+truncate %s: %v", p.path, err)
		}
	}
	for _, path := range toDelete {
		if err := os.Remove(path); err != nil {
			nlog.Warningf("storage: evict segment %s: %v", path, err)
		}
	}
}

type pendingClose struct {
	file      *os.File
	path      string
	committed int64
}

// drainPendingCloses reclaims segments the writer has rolled off of. The
// writer's own mmap window for the rolled-off segment is already gone by
// the time a segment lands here -- writerRegionLocked unmaps it at the
// rotation transition itself (see unmapWriter) -- so what's left is closing
// and truncating the underlying file to its committed size.
// Caller holds bs.mu; returns work to finish without the lock held.
func (s *Service) drainPendingCloses(bs *bytestream) []pendingClose {
	var work []pendingClose
	for i := 0; i < len(bs.segments)-1; i++ { // never touch the writer's live segment
		sg := bs.segments[i]
		if sg.pendingClose && sg.wf != nil {
			work = append(work, pendingClose{file: sg.wf.file, path: sg.path, committed: int64(sg.committed)})
			sg.wf = nil
			sg.pendingClose = false
		}
	}
	return work
}

// overLimitVictimsLocked implements scheduler step 2: once a stream with a
// writer exceeds its configured size limit, delete the oldest segment
// with no active readers; if it's still 20% over, evict remaining readers
// from the oldest segment and delete it anyway.
func (s *Service) overLimitVictimsLocked(bs *bytestream) []string {
	if !bs.hasWriter || bs.limit == 0 || bs.size <= bs.limit {
		return nil
	}
	var victims []string
	for len(bs.segments) > 1 && bs.size > bs.limit {
		oldest := bs.segments[0]
		if len(oldest.readers) > 0 && bs.size <= bs.limit+bs.limit/5 {
			break // within the 20%-over grace range, and someone's still reading it
		}
		if len(oldest.readers) > 0 {
			// more than 20% over: force-evict its readers.
			for id := range oldest.readers {
				nlog.Warningf("storage: evicting reader %d, stream %q segment over limit", id, bs.name)
				delete(oldest.readers, id)
			}
		}
		shrink := oldest.committed
		bs.segments = bs.segments[1:]
		bs.startOffset = oldest.offset + oldest.committed
		bs.size -= shrink
		victims = append(victims, oldest.path)
	}
	return victims
}

// evictExpiredReadersLocked implements scheduler step 4: reclaim readers
// that have gone idle past their timeout, recovering from crashed query
// processes.
func (s *Service) evictExpiredReadersLocked(bs *bytestream) {
	now := time.Now()
	for id, c := range bs.readers {
		if c.mode == ModeWriter {
			continue
		}
		if now.Sub(c.lastActive) > s.idleTimeout {
			s.unmapClientLocked(bs, id)
			delete(bs.readers, id)
			s.mu.Lock()
			delete(s.clients, id)
			s.mu.Unlock()
			nlog.Infof("storage: reaped idle reader %d on %q", id, bs.name)
		}
	}
}

// reapIdleStreams implements scheduler step 3: a stream with no writer and
// no readers at all is dropped from the in-memory table; its files stay on
// disk for the next OPEN to rediscover.
func (s *Service) reapIdleStreams(streams []*bytestream) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, bs := range streams {
		bs.mu.Lock()
		idle := !bs.hasWriter && len(bs.readers) == 0 && len(bs.blocked) == 0
		bs.mu.Unlock()
		if idle {
			delete(s.streams, bs.name)
		}
	}
}
