/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package export

import (
	"github.com/comoproject/como/storage"
)

// StreamWriter is export's view of one module's output bytestream: reserve
// a writable window at the current commit point, then commit however many
// bytes were actually used so readers observe them.
type StreamWriter interface {
	Reserve(size int) ([]byte, error)
	Commit(n int) error
}

// serviceWriter adapts an in-process storage.Service client into a
// StreamWriter. It tracks the write cursor itself since REGION is
// offset-addressed.
type serviceWriter struct {
	svc    *storage.Service
	id     storage.ClientID
	offset uint64
}

// OpenStream opens (creating if necessary) name as a writer and returns a
// StreamWriter bound to it.
func OpenStream(svc *storage.Service, name string, sizeLimit uint64) (*serviceWriter, error) {
	id, offset, err := svc.Open(name, storage.ModeWriter, sizeLimit)
	if err != nil {
		return nil, err
	}
	return &serviceWriter{svc: svc, id: id, offset: offset}, nil
}

func (w *serviceWriter) Reserve(size int) ([]byte, error) {
	res, err := w.svc.Region(w.id, w.offset, size)
	if err != nil {
		return nil, err
	}
	return res.Data, nil
}

func (w *serviceWriter) Commit(n int) error {
	w.offset += uint64(n)
	return w.svc.Inform(w.id, w.offset)
}

func (w *serviceWriter) Close() error {
	return w.svc.Close(w.id, w.offset)
}
