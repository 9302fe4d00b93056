// File: core/ring/monitor.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Monitor is the liveness-reporting thread: it wakes on a
// set-once-at-init period and pings the driver's "mark alive" hook for
// every attached ring. Started lazily on first use, joined at context
// teardown. The period is published exactly once via SetPeriod —
// ordinarily from renderctx's RingMonitorInit — and never changed
// afterward.

package ring

import (
	"runtime"
	"sync/atomic"
	"time"

	"github.com/momentics/vrend/affinity"
	"github.com/momentics/vrend/core/driver"
)

const defaultReportPeriod = time.Second

// Monitor periodically pings the driver's liveness hook for every ring
// in a Set.
type Monitor struct {
	set *Set
	drv driver.Driver

	periodNanos atomic.Int64

	pinCPU  int // -1 disables pinning
	quit    chan struct{}
	done    chan struct{}
	started bool
}

// NewMonitor constructs a Monitor bound to a ring Set and driver. pinCPU,
// if non-negative, pins the monitor goroutine's OS thread to that CPU.
func NewMonitor(set *Set, drv driver.Driver, pinCPU int) *Monitor {
	return &Monitor{set: set, drv: drv, pinCPU: pinCPU}
}

// SetPeriod publishes the monitor's wake period. Only the first call
// has an effect — the period is set once at init and never
// republished.
func (m *Monitor) SetPeriod(d time.Duration) {
	m.periodNanos.CompareAndSwap(0, int64(d))
}

// Start begins the monitor loop. Safe to call multiple times; only the
// first call has an effect.
func (m *Monitor) Start() {
	if m.started {
		return
	}
	m.started = true
	m.quit = make(chan struct{})
	m.done = make(chan struct{})
	go m.run()
}

// Stop signals the monitor to exit and waits for it to do so. A no-op
// if Start was never called.
func (m *Monitor) Stop() {
	if !m.started {
		return
	}
	close(m.quit)
	<-m.done
}

func (m *Monitor) run() {
	defer close(m.done)
	if m.pinCPU >= 0 {
		// The affinity mask applies to the OS thread; without locking,
		// the scheduler could migrate this goroutine off the pinned
		// thread and the pin would silently stop applying.
		runtime.LockOSThread()
		defer runtime.UnlockOSThread()
		affinity.SetAffinity(m.pinCPU)
	}

	timer := time.NewTimer(m.period())
	defer timer.Stop()
	for {
		select {
		case <-m.quit:
			return
		case <-timer.C:
			for _, id := range m.set.Snapshot() {
				m.drv.MarkRingAlive(id)
			}
			timer.Reset(m.period())
		}
	}
}

// period returns the published wake period, or a default if SetPeriod
// was never called.
func (m *Monitor) period() time.Duration {
	if p := m.periodNanos.Load(); p > 0 {
		return time.Duration(p)
	}
	return defaultReportPeriod
}
