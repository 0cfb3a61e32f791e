/*
 * Copyright (c) 2024, CoMo authors. All rights reserved.
 */
package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"net"

	"github.com/comoproject/como/cmn/cos"
	"github.com/comoproject/como/storage"
)

// StorageServer answers S_OPEN/S_CLOSE/S_SEEK/S_REGION/S_INFORM/S_WRITE
// requests arriving over one connection by driving an in-process
// storage.Service. One goroutine per connection handles that connection's
// requests in order; the Service does its own locking across connections.
type StorageServer struct {
	Svc *storage.Service
}

func (s *StorageServer) Serve(conn net.Conn) {
	defer conn.Close()
	for {
		msg, err := ReadMessage(conn)
		if err != nil {
			return
		}
		reply := s.handle(msg)
		if err := WriteMessage(conn, reply); err != nil {
			return
		}
	}
}

func (s *StorageServer) handle(msg Message) Message {
	switch msg.Tag {
	case TagStorageOpen:
		return s.handleOpen(msg.Payload)
	case TagStorageClose:
		return s.handleClose(msg.Payload)
	case TagStorageSeek:
		return s.handleSeek(msg.Payload)
	case TagStorageRegion:
		return s.handleRegion(msg.Payload)
	case TagStorageWrite:
		return s.handleWrite(msg.Payload)
	case TagStorageInform:
		return s.handleInform(msg.Payload)
	default:
		return errorMessage(0, ErrInval)
	}
}

func errorMessage(id uint64, code ErrorCode) Message {
	return Message{Tag: TagError, Payload: EncodeError(ErrorPayload{ClientID: id, Code: code})}
}

func codeFor(err error) ErrorCode {
	var se *cos.StorageErr
	if !errors.As(err, &se) {
		return ErrInval
	}
	switch se.Code {
	case cos.ENODATA:
		return ErrNoData
	case cos.EPERM:
		return ErrPerm
	case cos.EMFILE:
		return ErrMFile
	case cos.EBADF:
		return ErrBadF
	default:
		return ErrInval
	}
}

// cosCodeFor is codeFor's inverse, used on the client side to turn a wire
// ErrorCode back into the typed cos.StorageErr taxonomy so a remote client
// can tell EPERM (scenario #5, second writer) from EINVAL the same way an
// in-process caller would via errors.As/cos.IsStorageErr.
func cosCodeFor(c ErrorCode) cos.ErrCode {
	switch c {
	case ErrNoData:
		return cos.ENODATA
	case ErrPerm:
		return cos.EPERM
	case ErrMFile:
		return cos.EMFILE
	case ErrBadF:
		return cos.EBADF
	default:
		return cos.EINVAL
	}
}

// replyErr decodes a TagError reply's ErrorPayload into a typed
// *cos.StorageErr carrying op and the failing client id, instead of
// surfacing the raw payload bytes.
func replyErr(op string, payload []byte) error {
	ep, err := DecodeError(payload)
	if err != nil {
		return fmt.Errorf("ipc: %s failed: bad error payload: %w", op, err)
	}
	return cos.NewStorageErr(cosCodeFor(ep.Code), "ipc: %s failed (client %d)", op, ep.ClientID)
}

// handleOpen decodes {mode byte, sizeLimit u64, name string} and replies
// with {clientID u64, offset u64}.
func (s *StorageServer) handleOpen(p []byte) Message {
	if len(p) < 9 {
		return errorMessage(0, ErrInval)
	}
	mode := storage.Mode(p[0])
	sizeLimit := binary.BigEndian.Uint64(p[1:9])
	name := string(p[9:])
	id, offset, err := s.Svc.Open(name, mode, sizeLimit)
	if err != nil {
		return errorMessage(0, codeFor(err))
	}
	out := make([]byte, 16)
	binary.BigEndian.PutUint64(out[0:8], uint64(id))
	binary.BigEndian.PutUint64(out[8:16], offset)
	return Message{Tag: TagAck, Payload: out}
}

func (s *StorageServer) handleClose(p []byte) Message {
	if len(p) != 16 {
		return errorMessage(0, ErrInval)
	}
	id := storage.ClientID(binary.BigEndian.Uint64(p[0:8]))
	endOff := binary.BigEndian.Uint64(p[8:16])
	if err := s.Svc.Close(id, endOff); err != nil {
		return errorMessage(uint64(id), codeFor(err))
	}
	return Message{Tag: TagAck}
}

func (s *StorageServer) handleSeek(p []byte) Message {
	if len(p) != 17 {
		return errorMessage(0, ErrInval)
	}
	id := storage.ClientID(binary.BigEndian.Uint64(p[0:8]))
	whence := storage.SeekWhence(p[8])
	offset := binary.BigEndian.Uint64(p[9:17])
	newOff, err := s.Svc.Seek(id, storage.SeekRequest{Whence: whence, Offset: offset})
	if err != nil {
		return errorMessage(uint64(id), codeFor(err))
	}
	out := make([]byte, 8)
	binary.BigEndian.PutUint64(out, newOff)
	return Message{Tag: TagAck, Payload: out}
}

func (s *StorageServer) handleRegion(p []byte) Message {
	if len(p) != 20 {
		return errorMessage(0, ErrInval)
	}
	id := storage.ClientID(binary.BigEndian.Uint64(p[0:8]))
	offset := binary.BigEndian.Uint64(p[8:16])
	size := int(int32(binary.BigEndian.Uint32(p[16:20])))
	res, err := s.Svc.Region(id, offset, size)
	if err != nil {
		return errorMessage(uint64(id), codeFor(err))
	}
	out := make([]byte, 9+len(res.Data))
	binary.BigEndian.PutUint64(out[0:8], res.Offset)
	if res.EOF {
		out[8] = 1
	}
	copy(out[9:], res.Data)
	return Message{Tag: TagAck, Payload: out}
}

// handleWrite decodes {clientID u64, offset u64, data []byte}, reserves the
// matching writer region in-process and copies data into it. Unlike
// handleRegion's reader path, a writer's REGION window is local to this
// process, so a remote writer has no way to mutate it directly -- WRITE
// carries the bytes across the wire in one round trip instead.
func (s *StorageServer) handleWrite(p []byte) Message {
	if len(p) < 16 {
		return errorMessage(0, ErrInval)
	}
	id := storage.ClientID(binary.BigEndian.Uint64(p[0:8]))
	offset := binary.BigEndian.Uint64(p[8:16])
	data := p[16:]
	res, err := s.Svc.Region(id, offset, len(data))
	if err != nil {
		return errorMessage(uint64(id), codeFor(err))
	}
	copy(res.Data, data)
	return Message{Tag: TagAck}
}

func (s *StorageServer) handleInform(p []byte) Message {
	if len(p) != 16 {
		return errorMessage(0, ErrInval)
	}
	id := storage.ClientID(binary.BigEndian.Uint64(p[0:8]))
	offset := binary.BigEndian.Uint64(p[8:16])
	if err := s.Svc.Inform(id, offset); err != nil {
		return errorMessage(uint64(id), codeFor(err))
	}
	return Message{Tag: TagAck}
}

// StorageClient is the wire-level counterpart used by a process that does
// not own the storage.Service in-process (capture, export, or query
// running as a separate OS process from storage).
type StorageClient struct {
	conn net.Conn
}

func DialStorage(conn net.Conn) *StorageClient { return &StorageClient{conn: conn} }

func (c *StorageClient) roundTrip(req Message) (Message, error) {
	if err := WriteMessage(c.conn, req); err != nil {
		return Message{}, err
	}
	return ReadMessage(c.conn)
}

func (c *StorageClient) Open(name string, mode storage.Mode, sizeLimit uint64) (storage.ClientID, uint64, error) {
	p := make([]byte, 9+len(name))
	p[0] = byte(mode)
	binary.BigEndian.PutUint64(p[1:9], sizeLimit)
	copy(p[9:], name)
	reply, err := c.roundTrip(Message{Tag: TagStorageOpen, Payload: p})
	if err != nil {
		return 0, 0, err
	}
	if reply.Tag == TagError {
		return 0, 0, replyErr("OPEN", reply.Payload)
	}
	return storage.ClientID(binary.BigEndian.Uint64(reply.Payload[0:8])), binary.BigEndian.Uint64(reply.Payload[8:16]), nil
}

func (c *StorageClient) Region(id storage.ClientID, offset uint64, size int) (storage.RegionResult, error) {
	p := make([]byte, 20)
	binary.BigEndian.PutUint64(p[0:8], uint64(id))
	binary.BigEndian.PutUint64(p[8:16], offset)
	binary.BigEndian.PutUint32(p[16:20], uint32(int32(size)))
	reply, err := c.roundTrip(Message{Tag: TagStorageRegion, Payload: p})
	if err != nil {
		return storage.RegionResult{}, err
	}
	if reply.Tag == TagError {
		return storage.RegionResult{}, replyErr("REGION", reply.Payload)
	}
	return storage.RegionResult{
		Offset: binary.BigEndian.Uint64(reply.Payload[0:8]),
		EOF:    reply.Payload[8] != 0,
		Data:   reply.Payload[9:],
	}, nil
}

// WriteRegion sends data to be written at offset in one round trip -- the
// wire-level counterpart of the writable slice an in-process Region caller
// would mutate directly.
func (c *StorageClient) WriteRegion(id storage.ClientID, offset uint64, data []byte) error {
	p := make([]byte, 16+len(data))
	binary.BigEndian.PutUint64(p[0:8], uint64(id))
	binary.BigEndian.PutUint64(p[8:16], offset)
	copy(p[16:], data)
	reply, err := c.roundTrip(Message{Tag: TagStorageWrite, Payload: p})
	if err != nil {
		return err
	}
	if reply.Tag == TagError {
		return replyErr("WRITE", reply.Payload)
	}
	return nil
}

func (c *StorageClient) Inform(id storage.ClientID, offset uint64) error {
	p := make([]byte, 16)
	binary.BigEndian.PutUint64(p[0:8], uint64(id))
	binary.BigEndian.PutUint64(p[8:16], offset)
	reply, err := c.roundTrip(Message{Tag: TagStorageInform, Payload: p})
	if err != nil {
		return err
	}
	if reply.Tag == TagError {
		return replyErr("INFORM", reply.Payload)
	}
	return nil
}

func (c *StorageClient) Close(id storage.ClientID, endingOffset uint64) error {
	p := make([]byte, 16)
	binary.BigEndian.PutUint64(p[0:8], uint64(id))
	binary.BigEndian.PutUint64(p[8:16], endingOffset)
	reply, err := c.roundTrip(Message{Tag: TagStorageClose, Payload: p})
	if err != nil {
		return err
	}
	if reply.Tag == TagError {
		return replyErr("CLOSE", reply.Payload)
	}
	return nil
}
