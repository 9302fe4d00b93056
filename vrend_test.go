// File: vrend_test.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package vrend_test

import (
	"testing"
	"time"

	vrend "github.com/momentics/vrend"
	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/core/driver/fakedriver"
)

func TestFacadeCreateLookupDestroy(t *testing.T) {
	drv := fakedriver.New(driver.Capabilities{DmaBufFdExportSupported: true})
	defer drv.Close()

	ctx, err := vrend.ContextCreate(31337, drv, nil, "facade-test")
	if err != nil {
		t.Fatalf("ContextCreate: %v", err)
	}

	looked, ok := vrend.ContextLookup(31337)
	if !ok || looked.ID() != ctx.ID() {
		t.Fatalf("ContextLookup(31337) = %v, %v", looked, ok)
	}

	res, err := ctx.CreateResource(1, 0x10, 4096, 0)
	if err != nil {
		t.Fatalf("CreateResource: %v", err)
	}
	if res.Fd < 0 {
		t.Fatalf("expected a valid resource fd, got %d", res.Fd)
	}

	if errs := ctx.Destroy(); len(errs) != 0 {
		t.Fatalf("Destroy: %v", errs)
	}
	if _, ok := vrend.ContextLookup(31337); ok {
		t.Fatal("context still resolvable after Destroy")
	}
}

func TestFacadeConfigSeedsSnapshot(t *testing.T) {
	drv := fakedriver.New(driver.Capabilities{})
	defer drv.Close()

	cfg := vrend.DefaultConfig()
	cfg.DebugName = "configured"
	cfg.RingMonitorPeriod = 25 * time.Millisecond

	ctx, err := vrend.ContextCreateWithConfig(31338, drv, nil, cfg)
	if err != nil {
		t.Fatalf("ContextCreateWithConfig: %v", err)
	}
	defer ctx.Destroy()

	snap := ctx.GetConfig()
	if snap["debug_name"] != "configured" {
		t.Fatalf("debug_name = %v", snap["debug_name"])
	}
	if snap["ring_monitor_period"] != 25*time.Millisecond {
		t.Fatalf("ring_monitor_period = %v", snap["ring_monitor_period"])
	}
}
