// File: renderctx/debug.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Stats/debug/config surface backed by the control package
// (control.MetricsRegistry, control.DebugProbes, control.ConfigStore).
// Context structurally implements api.Debug and api.Control so an
// embedder can introspect and reconfigure every renderer context
// through the same interfaces as any other subsystem.

package renderctx

import (
	"github.com/momentics/vrend/api"
	"github.com/momentics/vrend/control"
)

var (
	_ api.Debug   = (*Context)(nil)
	_ api.Control = (*Context)(nil)
)

// registerDebugProbes wires the context's live registries into named
// debug probes, read lazily on DumpState.
func (c *Context) registerDebugProbes() {
	c.RegisterProbe("objects", func() any { return c.objects.Len() })
	c.RegisterProbe("resources", func() any { return c.resources.Len() })
	c.RegisterProbe("device_memory", func() any { return c.devMem.Len() })
	c.RegisterProbe("fence_busy_mask", func() any { return c.fences.BusyMask() })
	c.RegisterProbe("rings", func() any { return c.rings.Snapshot() })
	c.RegisterProbe("fatal", func() any { return c.Fatal() })
	control.RegisterPlatformProbes(c.debugProbes)
}

// Stats implements api.Control: a point-in-time snapshot of the
// context's metrics registry, for an embedder's telemetry surface.
func (c *Context) Stats() map[string]any {
	return c.metrics.GetSnapshot()
}

// SetMetric records or updates a named metric value.
func (c *Context) SetMetric(key string, value any) {
	c.metrics.Set(key, value)
}

// DumpState implements api.Debug: runs every registered debug probe and
// returns the results, for an embedder's introspection surface.
func (c *Context) DumpState() map[string]any {
	return c.debugProbes.DumpState()
}

// RegisterProbe implements api.Debug and api.Control's
// RegisterDebugProbe.
func (c *Context) RegisterProbe(name string, fn func() any) {
	c.debugProbes.RegisterProbe(name, fn)
}

// RegisterDebugProbe implements api.Control, delegating to RegisterProbe.
func (c *Context) RegisterDebugProbe(name string, fn func() any) {
	c.RegisterProbe(name, fn)
}

// SetConfig implements api.Control: merges cfg into the context's
// dynamic configuration store and fires any registered reload
// listeners.
func (c *Context) SetConfig(cfg map[string]any) error {
	c.config.SetConfig(cfg)
	return nil
}

// GetConfig implements api.Control: a snapshot of the current
// configuration.
func (c *Context) GetConfig() map[string]any {
	return c.config.GetSnapshot()
}

// OnReload implements api.Control, registering a hot-reload listener.
func (c *Context) OnReload(fn func()) {
	c.config.OnReload(fn)
}
