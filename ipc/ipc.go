// Package ipc implements the length-prefixed message framing and fixed tag
// set the supervisor, capture, export, query, and storage roles use to
// talk to each other over AF_UNIX stream sockets.
/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package ipc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Tag identifies a message's purpose. The storage tags double as both the
// client request and -- paired with Ack/Error -- the reply.
type Tag uint16

const (
	TagModuleAdd Tag = iota + 1
	TagModuleDel
	TagModuleStart
	TagFlush
	TagFreeze
	TagDone
	TagExit

	TagStorageOpen
	TagStorageClose
	TagStorageSeek
	TagStorageRegion
	TagStorageWrite
	TagStorageInform

	TagAck
	TagError
)

func (t Tag) String() string {
	switch t {
	case TagModuleAdd:
		return "MODULE_ADD"
	case TagModuleDel:
		return "MODULE_DEL"
	case TagModuleStart:
		return "MODULE_START"
	case TagFlush:
		return "FLUSH"
	case TagFreeze:
		return "FREEZE"
	case TagDone:
		return "DONE"
	case TagExit:
		return "EXIT"
	case TagStorageOpen:
		return "S_OPEN"
	case TagStorageClose:
		return "S_CLOSE"
	case TagStorageSeek:
		return "S_SEEK"
	case TagStorageRegion:
		return "S_REGION"
	case TagStorageWrite:
		return "S_WRITE"
	case TagStorageInform:
		return "S_INFORM"
	case TagAck:
		return "ACK"
	case TagError:
		return "ERROR"
	default:
		return fmt.Sprintf("Tag(%d)", t)
	}
}

// maxPayload bounds a single message so a corrupt length prefix can never
// make a reader try to allocate an unbounded buffer.
const maxPayload = 64 << 20

// Message is one length-prefixed frame: a 2-byte tag, a 4-byte payload
// length, then the payload itself, all big-endian.
type Message struct {
	Tag     Tag
	Payload []byte
}

// WriteMessage frames and writes msg to w.
func WriteMessage(w io.Writer, msg Message) error {
	hdr := make([]byte, 6)
	binary.BigEndian.PutUint16(hdr[0:2], uint16(msg.Tag))
	binary.BigEndian.PutUint32(hdr[2:6], uint32(len(msg.Payload)))
	if _, err := w.Write(hdr); err != nil {
		return fmt.Errorf("ipc: write header: %w", err)
	}
	if len(msg.Payload) == 0 {
		return nil
	}
	if _, err := w.Write(msg.Payload); err != nil {
		return fmt.Errorf("ipc: write payload: %w", err)
	}
	return nil
}

// ReadMessage reads one framed message from r.
func ReadMessage(r io.Reader) (Message, error) {
	hdr := make([]byte, 6)
	if _, err := io.ReadFull(r, hdr); err != nil {
		return Message{}, err
	}
	tag := Tag(binary.BigEndian.Uint16(hdr[0:2]))
	size := binary.BigEndian.Uint32(hdr[2:6])
	if size > maxPayload {
		return Message{}, fmt.Errorf("ipc: payload %d exceeds max %d", size, maxPayload)
	}
	payload := make([]byte, size)
	if size > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			return Message{}, fmt.Errorf("ipc: read payload: %w", err)
		}
	}
	return Message{Tag: tag, Payload: payload}, nil
}

// ErrorCode is carried in an IPC_ERROR{id, code} reply, the storage error
// taxonomy re-exported here so it crosses the wire without pulling in the
// storage package's concrete types.
type ErrorCode uint8

const (
	ErrNone ErrorCode = iota
	ErrInval
	ErrNoData
	ErrPerm
	ErrMFile
	ErrBadF
)

// ErrorPayload is IPC_ERROR's body: the failing client's id and the code.
type ErrorPayload struct {
	ClientID uint64
	Code     ErrorCode
}

func EncodeError(p ErrorPayload) []byte {
	b := make([]byte, 9)
	binary.BigEndian.PutUint64(b[0:8], p.ClientID)
	b[8] = byte(p.Code)
	return b
}

func DecodeError(b []byte) (ErrorPayload, error) {
	if len(b) != 9 {
		return ErrorPayload{}, fmt.Errorf("ipc: bad IPC_ERROR payload length %d", len(b))
	}
	return ErrorPayload{ClientID: binary.BigEndian.Uint64(b[0:8]), Code: ErrorCode(b[8])}, nil
}
