// File: core/dispatch/dispatch.go
// Package dispatch implements the command-stream dispatch engine:
// an opcode-to-handler table, driven by core/codec's decoder, that
// routes every decoded frame to its handler and stops dispatching once
// the context goes fatal. Unlike the best-effort background workers in
// internal/concurrency, a handler panic here is not swallowed — it is
// converted into a fatal protocol error, since a single dispatch
// thread must not discard the fact that a command never ran.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package dispatch

import (
	"errors"
	"fmt"

	"github.com/momentics/vrend/core/codec"
)

// ErrUnknownOpcode is returned (and marks the context fatal) when a
// frame's opcode has no registered handler.
var ErrUnknownOpcode = errors.New("dispatch: unknown opcode")

// Context is the minimal surface a dispatch Table needs from the owning
// render context: whether it has already gone fatal, and how to report
// a newly discovered fatal condition. renderctx.Context implements this.
type Context interface {
	Fatal() bool
	Fail(err error)
}

// HandlerFunc processes one decoded frame against ctx. Handlers read
// their inputs from frame.Payload, validate referenced ids through the
// object/resource registries, perform the driver call, and report
// failures by returning an error — a non-nil return always marks ctx
// fatal; the engine never recovers on its own.
type HandlerFunc func(ctx Context, frame codec.Frame) error

// Table maps opcodes to handlers. Registration is expected to happen
// once, at context construction, before any Dispatch call; Table
// itself applies no locking — build once, read concurrently.
type Table struct {
	handlers map[uint32]HandlerFunc
}

// NewTable constructs an empty dispatch table.
func NewTable() *Table {
	return &Table{handlers: make(map[uint32]HandlerFunc)}
}

// Register binds opcode to h, replacing any prior handler.
func (t *Table) Register(opcode uint32, h HandlerFunc) {
	t.handlers[opcode] = h
}

// Dispatch decodes buf frame by frame and routes each to its handler.
// A decode error (truncated frame) or an unregistered opcode marks ctx
// fatal immediately. Once ctx is fatal — whether from this call or a
// prior one — remaining frames are drained without being dispatched.
// An empty buf is a no-op returning nil.
func (t *Table) Dispatch(ctx Context, buf []byte) error {
	dec := codec.NewDecoder(buf)
	for {
		frame, ok, err := dec.Next()
		if err != nil {
			ctx.Fail(fmt.Errorf("dispatch: decode: %w", err))
			return err
		}
		if !ok {
			return nil
		}
		if ctx.Fatal() {
			continue // drain without executing
		}
		h, known := t.handlers[frame.Opcode]
		if !known {
			err := fmt.Errorf("%w: %d", ErrUnknownOpcode, frame.Opcode)
			ctx.Fail(err)
			continue
		}
		t.safeCall(ctx, h, frame)
	}
}

// safeCall invokes h, converting a recovered panic into a fatal error
// rather than swallowing it — see the package doc comment.
func (t *Table) safeCall(ctx Context, h HandlerFunc, frame codec.Frame) {
	defer func() {
		if r := recover(); r != nil {
			ctx.Fail(fmt.Errorf("dispatch: handler panic for opcode %d: %v", frame.Opcode, r))
		}
	}()
	if err := h(ctx, frame); err != nil {
		ctx.Fail(err)
	}
}
