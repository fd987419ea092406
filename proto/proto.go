// Copyright 2026 The FDFS Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package proto implements the framed request/response codec shared by the
// tracker and storage protocols: a 10-byte header carrying an 8-byte
// big-endian body length, a command byte and a status byte, followed by the
// body itself.
package proto

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"fdfs.io/errors"
	"fdfs.io/fdfs"
	"fdfs.io/log"
	"fdfs.io/pool"
)

// Header is the fixed frame header. On responses a non-zero Status carries
// the peer-reported errno, surfaced to callers verbatim through StatusError.
type Header struct {
	BodyLen int64
	Cmd     byte
	Status  byte
}

// EncodeHeader appends the wire form of h to a fresh 10-byte slice.
func EncodeHeader(h Header) []byte {
	b := make([]byte, fdfs.HeaderSize)
	binary.BigEndian.PutUint64(b[:8], uint64(h.BodyLen))
	b[8] = h.Cmd
	b[9] = h.Status
	return b
}

// DecodeHeader parses a 10-byte header.
func DecodeHeader(b []byte) (Header, error) {
	const op = "proto.DecodeHeader"
	if len(b) < fdfs.HeaderSize {
		return Header{}, errors.E(op, errors.Protocol, errors.Errorf("short header: %d bytes", len(b)))
	}
	h := Header{
		BodyLen: int64(binary.BigEndian.Uint64(b[:8])),
		Cmd:     b[8],
		Status:  b[9],
	}
	if h.BodyLen < 0 {
		return Header{}, errors.E(op, errors.Protocol, errors.Errorf("negative body length %d", h.BodyLen))
	}
	return h, nil
}

// SendRequest writes a framed request. Header and body go out in one write
// so a request is never interleaved with another on the same connection.
// On failure the connection is flagged broken and must be released.
func SendRequest(c *pool.Conn, cmd byte, body []byte, timeout time.Duration) error {
	const op = "proto.SendRequest"
	buf := make([]byte, 0, fdfs.HeaderSize+len(body))
	buf = append(buf, EncodeHeader(Header{BodyLen: int64(len(body)), Cmd: cmd})...)
	buf = append(buf, body...)
	if err := c.Send(buf, timeout); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// RecvHeader reads exactly one response header.
func RecvHeader(c *pool.Conn, timeout time.Duration) (Header, error) {
	const op = "proto.RecvHeader"
	b, err := c.ReceiveFull(fdfs.HeaderSize, timeout)
	if err != nil {
		return Header{}, errors.E(op, err)
	}
	h, err := DecodeHeader(b)
	if err != nil {
		c.MarkBroken()
		return Header{}, errors.E(op, err)
	}
	return h, nil
}

// RecvBody reads exactly bodyLen bytes. When bodyLen exceeds maxAllowed
// (and maxAllowed is non-zero) it fails with an Exhausted error without
// reading, so a corrupt length cannot force a huge allocation; the
// connection is flagged broken since the unread body would poison it.
func RecvBody(c *pool.Conn, bodyLen int64, maxAllowed int64, timeout time.Duration) ([]byte, error) {
	const op = "proto.RecvBody"
	if bodyLen == 0 {
		return nil, nil
	}
	if maxAllowed > 0 && bodyLen > maxAllowed {
		c.MarkBroken()
		return nil, errors.E(op, errors.Exhausted,
			errors.Errorf("body length %d exceeds limit %d", bodyLen, maxAllowed))
	}
	b, err := c.ReceiveFull(int(bodyLen), timeout)
	if err != nil {
		return nil, errors.E(op, err)
	}
	return b, nil
}

// RecvResponse reads a full response frame: header, status check, body.
// A non-zero status is returned as a StatusError wrapped with the matching
// error kind; the body, if any, is drained first so the connection stays
// reusable.
func RecvResponse(c *pool.Conn, maxAllowed int64, timeout time.Duration) ([]byte, error) {
	const op = "proto.RecvResponse"
	h, err := RecvHeader(c, timeout)
	if err != nil {
		return nil, errors.E(op, err)
	}
	if h.Status != 0 {
		if h.BodyLen > 0 {
			RecvBody(c, h.BodyLen, maxAllowed, timeout)
		}
		se := StatusError(h.Status)
		return nil, errors.E(op, se.Kind(), se)
	}
	return RecvBody(c, h.BodyLen, maxAllowed, timeout)
}

// Quit sends the zero-body QUIT command before a clean close.
// It is best-effort; failures are logged, not returned.
func Quit(c *pool.Conn, timeout time.Duration) {
	if err := SendRequest(c, fdfs.CmdQuit, nil, timeout); err != nil {
		log.Debug.Printf("proto: quit to %s: %v", c.Endpoint(), err)
	}
}

// ActiveTest sends the liveness check and waits for the empty response.
func ActiveTest(c *pool.Conn, timeout time.Duration) error {
	const op = "proto.ActiveTest"
	if err := SendRequest(c, fdfs.CmdActiveTest, nil, timeout); err != nil {
		return errors.E(op, err)
	}
	if _, err := RecvResponse(c, 0, timeout); err != nil {
		return errors.E(op, err)
	}
	return nil
}

// StatusError is the errno a peer reported in a response header.
type StatusError byte

// Peer-reported status codes with protocol-level meaning.
const (
	StatusNotExist  StatusError = 2  // ENOENT
	StatusExist     StatusError = 17 // EEXIST
	StatusBusy      StatusError = 16 // EBUSY
	StatusInvalid   StatusError = 22 // EINVAL
	StatusNoSpace   StatusError = 28 // ENOSPC
	StatusConnReset StatusError = 104
)

func (s StatusError) Error() string {
	switch s {
	case StatusNotExist:
		return "peer status 2: no such file"
	case StatusExist:
		return "peer status 17: file already exists"
	case StatusBusy:
		return "peer status 16: server busy"
	case StatusInvalid:
		return "peer status 22: invalid argument"
	case StatusNoSpace:
		return "peer status 28: no space left"
	}
	return fmt.Sprintf("peer status %d", byte(s))
}

// Kind maps the status to the error class callers branch on.
func (s StatusError) Kind() errors.Kind {
	switch s {
	case StatusNotExist:
		return errors.NotExist
	case StatusExist:
		return errors.Exist
	case StatusInvalid:
		return errors.Invalid
	case StatusNoSpace:
		return errors.Exhausted
	case StatusConnReset:
		return errors.Transient
	}
	return errors.Protocol
}

// PadString returns s as a fixed-width field of length n, NUL padded,
// truncated when longer.
func PadString(s string, n int) []byte {
	b := make([]byte, n)
	copy(b, s)
	return b
}

// TrimPadded extracts a string from a fixed-width field, dropping the
// trailing NULs.
func TrimPadded(b []byte) string {
	return string(bytes.TrimRight(b, "\x00"))
}

// PutInt64 appends v to b as 8 big-endian bytes.
func PutInt64(b []byte, v int64) []byte {
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(v))
	return append(b, tmp[:]...)
}

// Int64 decodes 8 big-endian bytes; short input yields 0.
func Int64(b []byte) int64 {
	if len(b) < 8 {
		return 0
	}
	return int64(binary.BigEndian.Uint64(b[:8]))
}

// PutInt32 appends v to b as 4 big-endian bytes.
func PutInt32(b []byte, v int32) []byte {
	var tmp [4]byte
	binary.BigEndian.PutUint32(tmp[:], uint32(v))
	return append(b, tmp[:]...)
}

// Int32 decodes 4 big-endian bytes; short input yields 0.
func Int32(b []byte) int32 {
	if len(b) < 4 {
		return 0
	}
	return int32(binary.BigEndian.Uint32(b[:4]))
}
