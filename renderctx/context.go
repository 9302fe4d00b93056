// File: renderctx/context.go
// Package renderctx implements the per-context renderer engine root:
// the entity that owns every other component in this module and
// exposes the command/fence/resource/ring surface to an embedding
// transport.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package renderctx

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/vrend/control"
	"github.com/momentics/vrend/core/dispatch"
	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/core/fence"
	"github.com/momentics/vrend/core/memory"
	"github.com/momentics/vrend/core/object"
	"github.com/momentics/vrend/core/resource"
	"github.com/momentics/vrend/core/ring"
)

// ErrDuplicateContextID is returned by Create when ctxID is already
// registered in the process-wide context table.
var ErrDuplicateContextID = errors.New("renderctx: duplicate context id")

// Config carries the tunables a context is created with. The zero
// value is not usable directly; start from DefaultConfig.
type Config struct {
	// DebugName is the human-readable name attached to every log line
	// this context emits.
	DebugName string
	// RingMonitorPeriod, when non-zero, pre-publishes the liveness
	// monitor's wake period so RingMonitorInit's own period is ignored.
	RingMonitorPeriod time.Duration
	// PinMonitorCPU, when non-negative, pins the ring monitor's OS
	// thread to that CPU.
	PinMonitorCPU int
	// Logger receives fatal-transition logging. Defaults
	// to slog.Default().
	Logger *slog.Logger
}

// DefaultConfig returns the baseline configuration: no pinning, no
// pre-published monitor period, the process-default logger.
func DefaultConfig() Config {
	return Config{PinMonitorCPU: -1}
}

// Context owns the object/resource/device-memory registries, the ring
// set and its monitor, the fence tracker, and the dispatch table, and
// carries the sticky fatal flag.
type Context struct {
	id        uint32
	debugName string
	drv       driver.Driver
	caps      driver.Capabilities
	logger    *slog.Logger

	fatal atomic.Bool

	objects   *object.Registry
	resources *resource.Registry
	devMem    *memory.Registry
	policy    *memory.Policy
	rings     *ring.Set
	monitor   *ring.Monitor
	fences    *fence.Tracker
	dispatch  *dispatch.Table

	config      *control.ConfigStore
	metrics     *control.MetricsRegistry
	debugProbes *control.DebugProbes

	destroyMu sync.Mutex
	destroyed bool
}

// Create allocates a context with the default configuration. See
// CreateWithConfig.
func Create(ctxID uint32, drv driver.Driver, caps driver.Capabilities, retireCb fence.RetireFunc, debugName string) (*Context, error) {
	cfg := DefaultConfig()
	cfg.DebugName = debugName
	return CreateWithConfig(ctxID, drv, caps, retireCb, cfg)
}

// CreateWithConfig allocates a context, wires every subsystem together,
// registers per-type object destructors, and records the context in the
// process-wide table keyed by ctxID.
func CreateWithConfig(ctxID uint32, drv driver.Driver, caps driver.Capabilities, retireCb fence.RetireFunc, cfg Config) (*Context, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	c := &Context{
		id:          ctxID,
		debugName:   cfg.DebugName,
		drv:         drv,
		caps:        caps,
		logger:      logger,
		objects:     object.NewRegistry(),
		devMem:      memory.NewRegistry(),
		rings:       ring.NewSet(),
		dispatch:    dispatch.NewTable(),
		config:      control.NewConfigStore(),
		metrics:     control.NewMetricsRegistry(),
		debugProbes: control.NewDebugProbes(),
	}
	c.resources = resource.NewRegistry(drv, caps)
	c.policy = memory.NewPolicy(caps, c.importResourceFd)
	c.fences = fence.NewTracker(retireCb)
	c.monitor = ring.NewMonitor(c.rings, drv, cfg.PinMonitorCPU)
	if cfg.RingMonitorPeriod > 0 {
		c.monitor.SetPeriod(cfg.RingMonitorPeriod)
	}
	drv.SetRetireCallback(c.fences.OnRetire)

	c.config.SetConfig(map[string]any{
		"debug_name":          cfg.DebugName,
		"ring_monitor_period": cfg.RingMonitorPeriod,
		"pin_monitor_cpu":     cfg.PinMonitorCPU,
	})

	c.registerObjectDestructors()
	c.registerDebugProbes()

	if err := register(c); err != nil {
		return nil, err
	}
	return c, nil
}

// importResourceFd adapts the resource registry to memory.ResourceImporter:
// it dups the named resource's fd so the device-memory allocation path
// owns an independent reference. The registry keeps ownership of the
// original fd.
func (c *Context) importResourceFd(resID uint32) (int, bool, error) {
	res, ok := c.resources.Lookup(resID)
	if !ok {
		return -1, false, resource.ErrUnknownID
	}
	if res.Fd < 0 {
		return -1, false, fmt.Errorf("renderctx: resource %d is mapping-backed, no importable fd", resID)
	}
	fd, err := unix.Dup(res.Fd)
	if err != nil {
		return -1, false, fmt.Errorf("renderctx: dup resource %d fd: %w", resID, err)
	}
	return fd, res.FdType == driver.FdTypeDmaBuf, nil
}

// registerObjectDestructors binds every ObjectType to its destructor.
// Device memory gets the full teardown through the memory registry;
// every other type is a uniform thin shim over the driver's own
// destructor table.
func (c *Context) registerObjectDestructors() {
	c.objects.RegisterDestructor(driver.ObjectTypeMemory, func(obj *object.Object) error {
		mem, ok := c.devMem.Lookup(obj.ID)
		if !ok {
			return nil
		}
		return c.devMem.FreeMemory(c.drv, mem)
	})
	for _, t := range []driver.ObjectType{
		driver.ObjectTypeDevice,
		driver.ObjectTypeBuffer,
		driver.ObjectTypeImage,
		driver.ObjectTypeSync,
		driver.ObjectTypePipeline,
		driver.ObjectTypeDescriptorSet,
	} {
		t := t
		c.objects.RegisterDestructor(t, func(obj *object.Object) error {
			return c.drv.DestroyObject(t, obj.Handle)
		})
	}
}

// Fatal reports whether the context has gone fatal. Implements
// dispatch.Context.
func (c *Context) Fatal() bool {
	return c.fatal.Load()
}

// Fail marks the context fatal and logs the triggering error with the
// context id. The flag is sticky: once true it never becomes false.
func (c *Context) Fail(err error) {
	if c.fatal.CompareAndSwap(false, true) {
		c.logger.Error("renderctx: context marked fatal", "ctx_id", c.id, "debug_name", c.debugName, "error", err)
	}
}

// SubmitCmd dispatches a batch of framed commands. A zero-length
// buffer is a no-op returning nil.
func (c *Context) SubmitCmd(buf []byte) error {
	return c.dispatch.Dispatch(c, buf)
}

// RegisterHandler binds opcode to h in this context's dispatch table.
// Per-opcode argument decoding belongs to the generated wire decoders;
// this module only owns routing.
func (c *Context) RegisterHandler(opcode uint32, h dispatch.HandlerFunc) {
	c.dispatch.Register(opcode, h)
}

// SubmitFence enqueues a fence on the timeline for ringIdx.
func (c *Context) SubmitFence(flags uint32, ringIdx uint8, fenceID uint64) error {
	return c.fences.SubmitFence(c.drv, ringIdx, fenceID, flags)
}

// RingMonitorInit starts the liveness monitor, publishing reportPeriod
// as its wake period. The period is set once here and only read by the
// monitor goroutine afterwards.
func (c *Context) RingMonitorInit(reportPeriod time.Duration) {
	c.monitor.SetPeriod(reportPeriod)
	c.monitor.Start()
}

// OnRingSeqnoUpdate records a new head seqno for ringID, called by the
// transport when it observes the guest advance a ring.
func (c *Context) OnRingSeqnoUpdate(ringID uint64, seqno uint64) {
	c.rings.OnHeadUpdate(ringID, seqno)
}

// WaitRingSeqno blocks until ringID's head passes target.
func (c *Context) WaitRingSeqno(ringID uint64, target uint64) error {
	return c.rings.WaitForSeqno(ringID, target)
}

// AttachRing begins tracking a ring so it can be waited on and
// liveness-monitored. The embedder calls this as the transport
// discovers each new ring.
func (c *Context) AttachRing(ringID uint64) error {
	return c.rings.Attach(ring.NewRing(ringID))
}

// CreateResource allocates a fresh resource-backed blob.
func (c *Context) CreateResource(resID uint32, blobID uint64, size uint64, flags uint32) (*resource.Resource, error) {
	return c.resources.Create(resID, blobID, size, flags)
}

// ImportResource registers a guest-owned fd as a resource. The
// registry takes its own reference; the caller's fd stays valid.
func (c *Context) ImportResource(resID uint32, fdType driver.FdType, fd int, size uint64) (*resource.Resource, error) {
	return c.resources.Import(resID, fdType, fd, size)
}

// DestroyResource releases resID's backing store.
func (c *Context) DestroyResource(resID uint32) error {
	return c.resources.Destroy(resID)
}

// AllocateMemory applies the device-memory allocation policy and
// performs the driver allocation, inserting the result into both the
// object registry (under ObjectTypeMemory) and the device-memory
// registry. objID must have already passed objects.Validate.
func (c *Context) AllocateMemory(objID uint64, info driver.AllocateInfo) (*memory.DeviceMemory, error) {
	props := c.drv.MemoryProperties(info.MemoryTypeIndex)
	rewritten, validFdTypes, gbmBO, err := c.policy.Allocate(info, props)
	if err != nil {
		return nil, err
	}

	handle, err := c.drv.AllocateMemory(rewritten)
	if err != nil {
		if gbmBO != nil {
			gbmBO.Close()
		}
		return nil, err
	}

	obj := &object.Object{ID: objID, Type: driver.ObjectTypeMemory, Handle: handle.Handle}
	if err := c.objects.Insert(obj, nil); err != nil {
		c.drv.FreeMemory(handle)
		if gbmBO != nil {
			gbmBO.Close()
		}
		return nil, err
	}

	mem := &memory.DeviceMemory{
		ObjectID:        objID,
		MemoryTypeIndex: info.MemoryTypeIndex,
		AllocationSize:  info.AllocationSize,
		Properties:      props,
		ValidFdTypes:    validFdTypes,
		Handle:          handle,
		GbmBO:           gbmBO,
		AllocRec:        rewritten,
	}
	c.devMem.Insert(mem)
	return mem, nil
}

// FreeMemory destroys the device-memory object named by objID, invoking
// the ObjectTypeMemory destructor registered at construction.
func (c *Context) FreeMemory(objID uint64) error {
	return c.objects.Remove(objID)
}

// ExportBlob runs the export-as-blob priority for the device memory
// named by objID.
func (c *Context) ExportBlob(objID uint64, crossDevice bool) (*memory.BlobDescriptor, error) {
	mem, ok := c.devMem.Lookup(objID)
	if !ok {
		return nil, object.ErrUnknownID
	}
	return memory.Export(c.drv, c.caps, mem, crossDevice)
}

// Destroy tears the context down: stops the ring monitor, shuts the
// ring set down (aborting any outstanding WaitRingSeqno, whose caller
// observes ring.ErrSetClosed), destroys all objects in
// reverse-dependency order, destroys all resources, and removes the
// context from the process-wide table. A second call is a no-op. Runs
// to completion regardless of the fatal flag's state.
func (c *Context) Destroy() []error {
	c.destroyMu.Lock()
	if c.destroyed {
		c.destroyMu.Unlock()
		return nil
	}
	c.destroyed = true
	c.destroyMu.Unlock()

	c.monitor.Stop()
	c.rings.Shutdown()
	for _, id := range c.rings.Snapshot() {
		c.rings.Detach(id)
	}
	unregister(c.id)

	var errs []error
	errs = append(errs, c.objects.DestroyAll()...)
	errs = append(errs, c.resources.DestroyAll()...)
	return errs
}

// ID returns the context's guest-assigned id.
func (c *Context) ID() uint32 { return c.id }

// DebugName returns the human-readable name supplied at creation.
func (c *Context) DebugName() string { return c.debugName }
