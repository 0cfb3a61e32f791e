// Package cos provides low-level types and utilities shared by every CoMo
// process: capture, export, storage, and query.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package cos

import (
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"sync"
	"syscall"

	"github.com/comoproject/como/cmn/nlog"
)

// Storage-service error taxonomy: every client operation that fails
// returns one of these, typed, over the control channel -- never a
// process-internal pointer.
type ErrCode int

const (
	EINVAL ErrCode = iota + 1
	ENODATA
	EPERM
	EMFILE
	EBADF
)

func (c ErrCode) String() string {
	switch c {
	case EINVAL:
		return "EINVAL"
	case ENODATA:
		return "ENODATA"
	case EPERM:
		return "EPERM"
	case EMFILE:
		return "EMFILE"
	case EBADF:
		return "EBADF"
	default:
		return "EUNKNOWN"
	}
}

// StorageErr is the wire-level error returned by the storage service for a
// rejected or out-of-range client operation.
type StorageErr struct {
	Code ErrCode
	Msg  string
}

func NewStorageErr(code ErrCode, format string, a ...any) *StorageErr {
	return &StorageErr{Code: code, Msg: fmt.Sprintf(format, a...)}
}

func (e *StorageErr) Error() string { return fmt.Sprintf("%s: %s", e.Code, e.Msg) }

func IsStorageErr(err error, code ErrCode) bool {
	var se *StorageErr
	if errors.As(err, &se) {
		return se.Code == code
	}
	return false
}

// ErrNotFound models a missing module, bytestream, or format.
type ErrNotFound struct {
	what string
}

func NewErrNotFound(format string, a ...any) *ErrNotFound {
	return &ErrNotFound{fmt.Sprintf(format, a...)}
}

func (e *ErrNotFound) Error() string { return e.what + " does not exist" }

func IsErrNotFound(err error) bool {
	var e *ErrNotFound
	return errors.As(err, &e)
}

// Errs accumulates up to maxErrs distinct errors, e.g. while a module
// descriptor is being validated against several modules at once.
type Errs struct {
	errs []error
	mu   sync.Mutex
}

const maxErrs = 4

func (e *Errs) Add(err error) {
	if err == nil {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	for _, added := range e.errs {
		if added.Error() == err.Error() {
			return
		}
	}
	if len(e.errs) < maxErrs {
		e.errs = append(e.errs, err)
	}
}

func (e *Errs) Cnt() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.errs)
}

func (e *Errs) Error() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if len(e.errs) == 0 {
		return ""
	}
	err := e.errs[0]
	if cnt := len(e.errs); cnt > 1 {
		return fmt.Sprintf("%v (and %d more error%s)", err, cnt-1, Plural(cnt-1))
	}
	return err.Error()
}

func Plural(n int) string {
	if n == 1 {
		return ""
	}
	return "s"
}

//
// syscall / connection classification -- used by the query HTTP layer and
// the storage service's client-disconnect detection.
//

func IsErrConnectionReset(err error) bool { return errors.Is(err, syscall.ECONNRESET) }
func IsErrBrokenPipe(err error) bool      { return errors.Is(err, syscall.EPIPE) }
func IsEOF(err error) bool                { return errors.Is(err, os.ErrClosed) || err != nil && err.Error() == "EOF" }

func IsRetriableConnErr(err error) bool {
	return errors.Is(err, syscall.ECONNREFUSED) || IsErrConnectionReset(err) || IsErrBrokenPipe(err)
}

func isErrDNSLookup(err error) bool {
	var e *net.DNSError
	return errors.As(err, &e)
}

func IsUnreachable(err error, status int) bool {
	return errors.Is(err, syscall.ECONNREFUSED) ||
		isErrDNSLookup(err) ||
		status == http.StatusRequestTimeout ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusBadGateway
}

//
// abnormal termination
//

const fatalPrefix = "FATAL ERROR: "

func Exitf(f string, a ...any) {
	fmt.Fprintln(os.Stderr, fmt.Sprintf(fatalPrefix+f, a...))
	os.Exit(1)
}

// ExitLogf logs a fatal message (when logging is already initialized) and
// terminates the process. Used for configuration and bootstrap failures
// that leave a CoMo process with nothing useful to do.
func ExitLogf(f string, a ...any) {
	msg := fmt.Sprintf(fatalPrefix+f, a...)
	if flag.Parsed() {
		nlog.ErrorDepth(1, msg)
		nlog.Flush(true)
	}
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}
