// File: vrend.go
// Package vrend is the embedding surface of the per-context renderer
// engine: a thin facade over renderctx that a transport links against.
// It owns nothing itself — every operation delegates to the context it
// wraps — so an embedder that prefers the finer-grained packages can
// use renderctx and core/* directly.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package vrend

import (
	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/core/fence"
	"github.com/momentics/vrend/renderctx"
)

// Config re-exports the context configuration.
type Config = renderctx.Config

// DefaultConfig re-exports the baseline context configuration.
func DefaultConfig() Config { return renderctx.DefaultConfig() }

// Context is a renderer context as seen by an embedding transport.
type Context struct {
	*renderctx.Context
}

// ContextCreate creates a renderer context with the default
// configuration, querying the driver's capabilities itself.
func ContextCreate(ctxID uint32, drv driver.Driver, retireCb fence.RetireFunc, debugName string) (*Context, error) {
	cfg := DefaultConfig()
	cfg.DebugName = debugName
	return ContextCreateWithConfig(ctxID, drv, retireCb, cfg)
}

// ContextCreateWithConfig creates a renderer context with explicit
// configuration.
func ContextCreateWithConfig(ctxID uint32, drv driver.Driver, retireCb fence.RetireFunc, cfg Config) (*Context, error) {
	inner, err := renderctx.CreateWithConfig(ctxID, drv, drv.Capabilities(), retireCb, cfg)
	if err != nil {
		return nil, err
	}
	return &Context{Context: inner}, nil
}

// ContextLookup resolves a live context by the integer id the embedder
// handed the guest.
func ContextLookup(ctxID uint32) (*Context, bool) {
	inner, ok := renderctx.Lookup(ctxID)
	if !ok {
		return nil, false
	}
	return &Context{Context: inner}, true
}
