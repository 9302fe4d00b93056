// File: renderctx/registry.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Process-wide context table: contexts register here at creation and
// unregister at teardown, so an embedding transport can resolve a
// context by integer id (Lookup). The driver's async retirement path
// does not go through this table: each context binds the driver's
// retire callback directly to its own fence tracker at construction.
// One sync.RWMutex is enough — a
// server process hosts a single client connection, so the table stays
// tiny.

package renderctx

import "sync"

var (
	registryMu sync.RWMutex
	registry   = make(map[uint32]*Context)
)

// register records ctx under its id. Returns an error if the id is
// already in use — two contexts must never share an id.
func register(ctx *Context) error {
	registryMu.Lock()
	defer registryMu.Unlock()
	if _, exists := registry[ctx.id]; exists {
		return ErrDuplicateContextID
	}
	registry[ctx.id] = ctx
	return nil
}

func unregister(id uint32) {
	registryMu.Lock()
	defer registryMu.Unlock()
	delete(registry, id)
}

// Lookup returns the live context for id, if any. Exposed for an
// embedding transport that resolves a context by the integer id it
// handed the guest, independent of holding the original *Context value.
func Lookup(id uint32) (*Context, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	ctx, ok := registry[id]
	return ctx, ok
}
