// Package storage implements the process-wide append-only bytestream
// repository: multi-reader/single-writer streams, mmap-backed regions,
// blocking and non-blocking reads, and size-bounded file rotation. A
// Service is meant to be owned by exactly one OS process (the "storage"
// role); capture, export, and query reach it either in-process (as a
// *Service) or over the wire via the ipc package's storage client, which
// speaks the same {op, client_id, offset, size, name, arg} request-reply
// shape the Service's own methods use.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package storage

import (
	"time"

	"github.com/comoproject/como/cmn/cos"
)

// ClientID identifies one OPEN session, reader or writer.
type ClientID uint64

// Mode selects OPEN's access discipline.
type Mode int

const (
	ModeWriter Mode = iota
	ModeReader
	ModeReaderNonBlock
)

func (m Mode) IsReader() bool { return m == ModeReader || m == ModeReaderNonBlock }
func (m Mode) Blocking() bool { return m == ModeReader }

// SeekWhence selects SEEK's target: an absolute offset, or the start of
// the next/previous segment file.
type SeekWhence int

const (
	SeekAbsolute SeekWhence = iota
	SeekFileNext
	SeekFilePrev
)

type SeekRequest struct {
	Whence SeekWhence
	Offset uint64 // meaningful only when Whence == SeekAbsolute
}

// DefaultIdleTimeout is how long a reader client may go without activity
// before the scheduler reaps it.
const DefaultIdleTimeout = 2 * time.Minute

// DefaultPerFileMax bounds a single segment file; crossing it triggers
// rollover to a new segment.
const DefaultPerFileMax = 64 * 1024 * 1024

var (
	errEPERM    = func(f string, a ...any) error { return cos.NewStorageErr(cos.EPERM, f, a...) }
	errEINVAL   = func(f string, a ...any) error { return cos.NewStorageErr(cos.EINVAL, f, a...) }
	errENODATA  = func(f string, a ...any) error { return cos.NewStorageErr(cos.ENODATA, f, a...) }
	errEMFILE   = func(f string, a ...any) error { return cos.NewStorageErr(cos.EMFILE, f, a...) }
	errEBADF    = func(f string, a ...any) error { return cos.NewStorageErr(cos.EBADF, f, a...) }
)

// RegionResult is REGION's reply. EOF means "granted size 0": either
// nothing has been written yet and there is no writer, or a non-blocking
// reader asked past the commit point.
type RegionResult struct {
	Offset uint64
	Data   []byte // read-only for a reader client, read-write for the writer
	EOF    bool
}
