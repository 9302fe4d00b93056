// File: core/codec/codec.go
// Package codec implements the command-stream frame codec: a
// cursor-based decoder over a contiguous guest command buffer, and a
// bounds-checked encoder for reply payloads written back to guest-visible
// memory. The codec only frames; it does not interpret opcode-specific
// payloads — that is the generated per-opcode decoder's job, reached
// through the dispatch table (core/dispatch).
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package codec

import (
	"encoding/binary"
	"errors"
)

// frameHeaderSize is the fixed (opcode, length) prefix, little-endian,
// matching virtio's native byte order on every supported guest.
const frameHeaderSize = 8

// ErrTruncated indicates the buffer ends mid-frame: a complete header
// was not available, or the header declared more payload than remains.
// The dispatch engine treats this as a fatal protocol error.
var ErrTruncated = errors.New("codec: truncated frame")

// ErrOverflow indicates an encode write would exceed the destination
// buffer's bounds. Fatal for the same reason a truncated frame is.
var ErrOverflow = errors.New("codec: encode buffer overflow")

// Frame is one decoded command-stream frame. Payload aliases the
// decoder's backing buffer and is valid only until the next Next call;
// handlers that need to retain data from it must copy.
type Frame struct {
	Opcode  uint32
	Length  uint32
	Payload []byte
}

// Decoder walks a contiguous command buffer frame by frame.
type Decoder struct {
	buf    []byte
	cursor int
}

// NewDecoder wraps buf for sequential frame decoding.
func NewDecoder(buf []byte) *Decoder {
	return &Decoder{buf: buf}
}

// Next decodes the frame at the current cursor and advances past it.
// Returns (Frame{}, false, nil) at clean end of buffer, and
// (Frame{}, false, ErrTruncated) if a partial trailing frame is found.
func (d *Decoder) Next() (Frame, bool, error) {
	if d.cursor == len(d.buf) {
		return Frame{}, false, nil
	}
	if len(d.buf)-d.cursor < frameHeaderSize {
		return Frame{}, false, ErrTruncated
	}
	opcode := binary.LittleEndian.Uint32(d.buf[d.cursor:])
	length := binary.LittleEndian.Uint32(d.buf[d.cursor+4:])
	payloadStart := d.cursor + frameHeaderSize
	payloadEnd := payloadStart + int(length)
	if length > uint32(len(d.buf)-payloadStart) || payloadEnd < payloadStart {
		return Frame{}, false, ErrTruncated
	}
	d.cursor = payloadEnd
	return Frame{Opcode: opcode, Length: length, Payload: d.buf[payloadStart:payloadEnd]}, true, nil
}

// Remaining reports the number of bytes left undecoded, used by the
// dispatch engine to drain the rest of a buffer without executing
// anything once a context has gone fatal.
func (d *Decoder) Remaining() int {
	return len(d.buf) - d.cursor
}

// Encoder writes reply frames into a bounds-checked guest-visible
// buffer using a write cursor.
type Encoder struct {
	buf    []byte
	cursor int
}

// NewEncoder wraps dst for sequential reply encoding.
func NewEncoder(dst []byte) *Encoder {
	return &Encoder{buf: dst}
}

// WriteFrame appends a frame header plus payload at the current cursor.
// Returns ErrOverflow if dst has no room left, without partially writing.
func (e *Encoder) WriteFrame(opcode uint32, payload []byte) error {
	need := frameHeaderSize + len(payload)
	if len(e.buf)-e.cursor < need {
		return ErrOverflow
	}
	binary.LittleEndian.PutUint32(e.buf[e.cursor:], opcode)
	binary.LittleEndian.PutUint32(e.buf[e.cursor+4:], uint32(len(payload)))
	copy(e.buf[e.cursor+frameHeaderSize:], payload)
	e.cursor += need
	return nil
}

// Written returns the bytes written so far, aliasing the destination
// buffer.
func (e *Encoder) Written() []byte {
	return e.buf[:e.cursor]
}
