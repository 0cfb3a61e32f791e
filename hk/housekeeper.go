// Package hk provides a single process-wide mechanism for registering
// cleanup functions invoked at specified intervals, all served by one timer
// goroutine (DefaultHK.Run). The storage service's scheduler
// (storage.Service.Start) is the one `hk.Reg` callback in this repository.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package hk

import (
	"container/heap"
	"sync"
	"time"

	"github.com/comoproject/como/cmn/nlog"
)

// NameSuffix distinguishes an hk registration name from any other name the
// same string might be used for (log tags, stats names) elsewhere.
const NameSuffix = ".hk"

const (
	DayInterval      = 24 * time.Hour
	PruneActiveIval  = 10 * time.Second
	UnregInterval    = time.Duration(0) // sentinel: run once then unregister
	defaultIdleTick  = 2 * time.Second
	storageIdleTick  = 5200 * time.Millisecond // storage scheduler's idle cadence when no stream needs attention
)

// CleanupFunc runs at its registered interval. Returning a non-zero
// duration reschedules the same callback at the new interval; returning
// exactly UnregInterval (0) unregisters it -- the same contract xact/xreg's
// and transport's one-shot cleanups use upstream.
type CleanupFunc func() time.Duration

type request struct {
	name string
	f    CleanupFunc
	d    time.Duration
}

type timeoutEntry struct {
	name string
	f    CleanupFunc
	due  time.Time
	idx  int
}

type entryHeap []*timeoutEntry

func (h entryHeap) Len() int            { return len(h) }
func (h entryHeap) Less(i, j int) bool  { return h[i].due.Before(h[j].due) }
func (h entryHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].idx, h[j].idx = i, j }
func (h *entryHeap) Push(x any)         { e := x.(*timeoutEntry); e.idx = len(*h); *h = append(*h, e) }
func (h *entryHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Housekeeper owns the timer goroutine. There is one DefaultHK per process,
// mirroring the "one event loop per process" concurrency model.
type Housekeeper struct {
	mu       sync.Mutex
	byName   map[string]*timeoutEntry
	pq       entryHeap
	reqCh    chan request
	unregCh  chan string
	stopCh   chan struct{}
	started  chan struct{}
	startOne sync.Once
}

var DefaultHK = New()

func New() *Housekeeper {
	return &Housekeeper{
		byName:  make(map[string]*timeoutEntry),
		reqCh:   make(chan request, 64),
		unregCh: make(chan string, 64),
		stopCh:  make(chan struct{}),
		started: make(chan struct{}),
	}
}

// TestInit resets DefaultHK for use from a fresh test binary.
func TestInit() { DefaultHK = New() }

func Reg(name string, f CleanupFunc, interval time.Duration) {
	DefaultHK.Reg(name, f, interval)
}

func Unreg(name string) { DefaultHK.Unreg(name) }

// UnregIf is a no-op when name was never registered -- callers use it for
// defensive cleanup where double-unregistration is expected, not an error.
func UnregIf(name string, _ CleanupFunc) { DefaultHK.Unreg(name) }

func WaitStarted() { <-DefaultHK.started }

func (hk *Housekeeper) Reg(name string, f CleanupFunc, interval time.Duration) {
	if interval <= 0 {
		interval = defaultIdleTick
	}
	hk.reqCh <- request{name: name, f: f, d: interval}
}

func (hk *Housekeeper) Unreg(name string) {
	select {
	case hk.unregCh <- name:
	case <-hk.stopCh:
	}
}

func (hk *Housekeeper) Stop() { close(hk.stopCh) }

// Run is the event loop: a single goroutine that sleeps until the nearest
// due entry, fires it, and reschedules. Callbacks never block each other
// across ticks longer than the fastest-registered interval because each
// runs synchronously on this one goroutine -- by design: hk callbacks are
// expected to be cheap probes.
func (hk *Housekeeper) Run() {
	hk.startOne.Do(func() { close(hk.started) })
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		hk.drainPending()
		d := hk.nextDue()
		timer.Reset(d)

		select {
		case <-hk.stopCh:
			return
		case req := <-hk.reqCh:
			hk.apply(req)
		case name := <-hk.unregCh:
			hk.remove(name)
		case <-timer.C:
			hk.fireDue()
		}
	}
}

func (hk *Housekeeper) drainPending() {
	for {
		select {
		case req := <-hk.reqCh:
			hk.apply(req)
		case name := <-hk.unregCh:
			hk.remove(name)
		default:
			return
		}
	}
}

func (hk *Housekeeper) apply(req request) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if old, ok := hk.byName[req.name]; ok {
		heap.Remove(&hk.pq, old.idx)
	}
	e := &timeoutEntry{name: req.name, f: req.f, due: time.Now().Add(req.d)}
	hk.byName[req.name] = e
	heap.Push(&hk.pq, e)
}

func (hk *Housekeeper) remove(name string) {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	e, ok := hk.byName[name]
	if !ok {
		return
	}
	heap.Remove(&hk.pq, e.idx)
	delete(hk.byName, name)
}

func (hk *Housekeeper) nextDue() time.Duration {
	hk.mu.Lock()
	defer hk.mu.Unlock()
	if len(hk.pq) == 0 {
		return defaultIdleTick
	}
	d := time.Until(hk.pq[0].due)
	if d < 0 {
		return 0
	}
	return d
}

func (hk *Housekeeper) fireDue() {
	now := time.Now()
	for {
		hk.mu.Lock()
		if len(hk.pq) == 0 || hk.pq[0].due.After(now) {
			hk.mu.Unlock()
			return
		}
		e := heap.Pop(&hk.pq).(*timeoutEntry)
		delete(hk.byName, e.name)
		hk.mu.Unlock()

		next := hk.safeCall(e)
		if next > 0 {
			hk.apply(request{name: e.name, f: e.f, d: next})
		}
	}
}

func (hk *Housekeeper) safeCall(e *timeoutEntry) (next time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			nlog.Errorf("hk: callback %q panicked: %v", e.name, r)
			next = 0
		}
	}()
	return e.f()
}

// StorageIdleTick is the interval the storage service's scheduler runs on
// when nothing else perturbs its state.
func StorageIdleTick() time.Duration { return storageIdleTick }
