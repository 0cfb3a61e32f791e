// Package nlog is CoMo's process logger: buffered, timestamped, rotated by
// size. Every line goes to the INFO file; warnings and errors also go to
// the ERROR file and to stderr. Every CoMo process (capture, export,
// storage, query) links this package directly -- there is no external
// logging dependency in the hot path.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package nlog

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/comoproject/como/cmn/mono"
)

const maxLineSize = 2 * 1024

type severity int

const (
	sevInfo severity = iota
	sevWarn
	sevErr
)

var sevChar = "IWE"

type nlog struct {
	mw      sync.Mutex
	file    *os.File
	w       *bufio.Writer
	written atomic.Int64
	last    atomic.Int64
	erred   atomic.Bool
	sev     severity
}

var (
	toStderr     bool
	alsoToStderr bool

	logDir string
	role   string // "capture", "export", "storage", "query"
	title  string

	host string
	pid  = os.Getpid()

	nlogs [3]*nlog

	onceInit sync.Once

	// MaxSize is the per-severity log file rotation threshold.
	MaxSize int64 = 4 * 1024 * 1024
)

func init() {
	h, err := os.Hostname()
	if err != nil {
		h = "unknown"
	}
	host = h
	nlogs[sevInfo] = &nlog{sev: sevInfo}
	nlogs[sevWarn] = &nlog{sev: sevWarn}
	nlogs[sevErr] = &nlog{sev: sevErr}
}

// InitFlags registers the -logtostderr/-alsologtostderr flags shared by
// every CoMo binary.
func InitFlags(flset *flag.FlagSet) {
	flset.BoolVar(&toStderr, "logtostderr", false, "log to standard error instead of files")
	flset.BoolVar(&alsoToStderr, "alsologtostderr", false, "log to standard error as well as files")
}

// SetLogDirRole points the logger at a directory and tags every log file
// name with the process role, e.g. "storage" or "capture".
func SetLogDirRole(dir, r string) {
	logDir, role = dir, r
	onceInit.Do(initFiles)
}

func SetTitle(s string) { title = s }

func initFiles() {
	if logDir == "" {
		return
	}
	_ = os.MkdirAll(logDir, 0o755)
}

func sname() string {
	s := filepath.Base(os.Args[0])
	if role != "" {
		s += "." + role
	}
	return s
}

func fname(sev severity, t time.Time) string {
	return fmt.Sprintf("%s.%s.%s.%02d%02d-%02d%02d%02d.%d.log",
		sname(), host, sevName(sev), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), pid)
}

func sevName(s severity) string {
	switch s {
	case sevWarn:
		return "WARNING"
	case sevErr:
		return "ERROR"
	default:
		return "INFO"
	}
}

func (l *nlog) open() error {
	if logDir == "" {
		return nil
	}
	name := filepath.Join(logDir, fname(l.sev, time.Now()))
	f, err := os.OpenFile(name, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		l.erred.Store(true)
		return err
	}
	l.file = f
	l.w = bufio.NewWriterSize(f, 16*1024)
	l.written.Store(0)
	l.erred.Store(false)
	hdr := fmt.Sprintf("Started up at %s, %s for %s/%s, pid %d\n",
		time.Now().Format("2006/01/02 15:04:05"), runtime.Version(), runtime.GOOS, runtime.GOARCH, pid)
	l.w.WriteString(hdr)
	if title != "" {
		l.w.WriteString(title + "\n")
	}
	return nil
}

func (l *nlog) ensureOpen() {
	if l.file == nil && logDir != "" {
		_ = l.open()
	}
}

func (l *nlog) rotateIfNeeded() {
	if l.written.Load() < MaxSize {
		return
	}
	l.w.Flush()
	l.file.Close()
	l.file = nil
	_ = l.open()
}

func (l *nlog) writeLine(line string) {
	l.mw.Lock()
	defer l.mw.Unlock()
	if l.erred.Load() {
		os.Stderr.WriteString(line)
		return
	}
	l.ensureOpen()
	if l.w == nil {
		os.Stderr.WriteString(line)
		return
	}
	n, err := l.w.WriteString(line)
	if err != nil {
		l.erred.Store(true)
		os.Stderr.WriteString(line)
		return
	}
	l.written.Add(int64(n))
	l.last.Store(mono.NanoTime())
	if l.w.Buffered() > maxLineSize {
		l.w.Flush()
	}
	l.rotateIfNeeded()
}

func (l *nlog) since(now int64) time.Duration { return time.Duration(now - l.last.Load()) }

func (l *nlog) flush(forceClose bool) {
	l.mw.Lock()
	defer l.mw.Unlock()
	if l.w != nil {
		l.w.Flush()
	}
	if forceClose && l.file != nil {
		l.file.Sync()
		l.file.Close()
		l.file = nil
	}
}

func header(sev severity, depth int) string {
	var b strings.Builder
	b.WriteByte(sevChar[sev])
	b.WriteByte(' ')
	b.WriteString(time.Now().Format("15:04:05.000000"))
	b.WriteByte(' ')
	if _, fn, ln, ok := runtime.Caller(3 + depth); ok {
		if idx := strings.LastIndexByte(fn, filepath.Separator); idx >= 0 {
			fn = fn[idx+1:]
		}
		b.WriteString(fn)
		b.WriteByte(':')
		b.WriteString(strconv.Itoa(ln))
		b.WriteByte(' ')
	}
	return b.String()
}

func log(sev severity, depth int, format string, args ...any) {
	line := header(sev, depth)
	if format == "" {
		line += fmt.Sprintln(args...)
	} else {
		line += fmt.Sprintf(format, args...)
		if !strings.HasSuffix(line, "\n") {
			line += "\n"
		}
	}

	switch {
	case toStderr:
		os.Stderr.WriteString(line)
		return
	case alsoToStderr || sev >= sevWarn:
		os.Stderr.WriteString(line)
	}

	if sev >= sevWarn {
		nlogs[sevErr].writeLine(line)
	}
	nlogs[sevInfo].writeLine(line)
}

func InfoDepth(depth int, args ...any)    { log(sevInfo, depth, "", args...) }
func Infoln(args ...any)                  { log(sevInfo, 0, "", args...) }
func Infof(format string, args ...any)    { log(sevInfo, 0, format, args...) }
func Warningln(args ...any)               { log(sevWarn, 0, "", args...) }
func Warningf(format string, args ...any) { log(sevWarn, 0, format, args...) }
func ErrorDepth(depth int, args ...any)   { log(sevErr, depth, "", args...) }
func Errorln(args ...any)                 { log(sevErr, 0, "", args...) }
func Errorf(format string, args ...any)   { log(sevErr, 0, format, args...) }

// Flush forces buffered bytes to disk. With exit=true it also syncs and
// closes the underlying files, for use on clean process shutdown.
func Flush(exit ...bool) {
	ex := len(exit) > 0 && exit[0]
	for _, sev := range []severity{sevInfo, sevWarn, sevErr} {
		nlogs[sev].flush(ex)
	}
}

// Since returns how long it has been since the last line was written to
// the INFO or ERROR log file.
func Since() time.Duration {
	now := mono.NanoTime()
	a, b := nlogs[sevInfo].since(now), nlogs[sevErr].since(now)
	if a > b {
		return a
	}
	return b
}
