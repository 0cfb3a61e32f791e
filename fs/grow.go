/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package fs

import (
	"os"

	"golang.org/x/sys/unix"
)

var zeroChunk = make([]byte, 64*1024)

// ZeroFillExtend grows f by n bytes of zeros using explicit writes, so the
// writer always extends a file before mmap'ing the larger region.
// The file must be opened O_APPEND so each Write lands past current EOF
// regardless of the fd's cursor.
func ZeroFillExtend(f *os.File, n int64) error {
	for n > 0 {
		chunk := int64(len(zeroChunk))
		if n < chunk {
			chunk = n
		}
		written, err := f.Write(zeroChunk[:chunk])
		if err != nil {
			return err
		}
		n -= int64(written)
	}
	return nil
}

// CloseThenTruncate closes f, then truncates the file at path to
// committed bytes. This two-step dance exists because the file was opened
// O_APPEND:
// ftruncate on an O_APPEND fd doesn't stop the *next* write from resuming
// at the pre-truncation end-of-file, so the historical implementation
// closes first. Property #1 in (sum of file sizes == committed
// span) holds either way; FtruncateOpenFile below is the alternative for
// a caller not fighting that O_APPEND quirk.
func CloseThenTruncate(f *os.File, path string, committed int64) error {
	if err := f.Close(); err != nil {
		return err
	}
	return os.Truncate(path, committed)
}

// FtruncateOpenFile truncates an already-open fd in place via the
// ftruncate(2) syscall, without requiring the close/reopen round-trip.
// Safe only for callers that don't reuse the same fd for further O_APPEND
// writes afterward.
func FtruncateOpenFile(f *os.File, committed int64) error {
	return unix.Ftruncate(int(f.Fd()), committed)
}
