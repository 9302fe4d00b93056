package fence_test

import (
	"sync"
	"testing"
	"time"

	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/core/driver/fakedriver"
	"github.com/momentics/vrend/core/fence"
)

func TestSubmitFenceRetiresInOrderViaDriverCallback(t *testing.T) {
	d := fakedriver.New(driver.Capabilities{})
	defer d.Close()

	var mu sync.Mutex
	var retired []uint64
	done := make(chan struct{})

	tr := fence.NewTracker(func(ringIdx uint8, fenceID uint64) {
		mu.Lock()
		retired = append(retired, fenceID)
		n := len(retired)
		mu.Unlock()
		if n == 3 {
			close(done)
		}
	})
	d.SetRetireCallback(tr.OnRetire)

	for _, id := range []uint64{10, 11, 12} {
		if err := tr.SubmitFence(d, 0, id, 0); err != nil {
			t.Fatalf("SubmitFence(%d): %v", id, err)
		}
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fences never retired")
	}

	mu.Lock()
	defer mu.Unlock()
	want := []uint64{10, 11, 12}
	if len(retired) != len(want) {
		t.Fatalf("retired = %v, want %v", retired, want)
	}
	for i, id := range want {
		if retired[i] != id {
			t.Fatalf("retired[%d] = %d, want %d", i, retired[i], id)
		}
	}
}

func TestSubmitFenceRollsBackOnDriverFailure(t *testing.T) {
	d := fakedriver.New(driver.Capabilities{})
	defer d.Close()
	// No SetRetireCallback: SubmitFence on the fake driver fails
	// immediately with "no retire callback registered".

	tr := fence.NewTracker(nil)
	if err := tr.SubmitFence(d, 0, 1, 0); err == nil {
		t.Fatal("expected error from driver rejection")
	}

	// The busy mask must have been cleared by the rollback; RetireAll
	// over an empty busy mask must not invoke loadSeqno at all.
	called := false
	tr.RetireAll(func(ringIdx uint8) uint32 {
		called = true
		return 0
	})
	if called {
		t.Fatal("RetireAll invoked loadSeqno after rollback cleared the busy mask")
	}
}

func TestOnRetireStopsAtFirstUnsignaledFence(t *testing.T) {
	d := fakedriver.New(driver.Capabilities{})
	defer d.Close()

	var retired []uint64
	tr := fence.NewTracker(func(ringIdx uint8, fenceID uint64) {
		retired = append(retired, fenceID)
	})
	// Submit three fences directly against the timeline bookkeeping by
	// reusing SubmitFence with a driver that always accepts but never
	// calls back, so we can drive OnRetire manually and deterministically.
	d.SetRetireCallback(func(ringIdx uint8, fenceID uint64) {}) // swallow async callback
	for _, id := range []uint64{1, 2, 3} {
		if err := tr.SubmitFence(d, 0, id, 0); err != nil {
			t.Fatalf("SubmitFence(%d): %v", id, err)
		}
	}

	// Observed seqno 0 means only the first submitted fence (timeline
	// seqno 0) has retired; the second and third must remain pending.
	tr.OnRetire(0, 0)
	if len(retired) != 1 || retired[0] != 1 {
		t.Fatalf("retired = %v, want [1]", retired)
	}

	tr.OnRetire(0, 2)
	if len(retired) != 3 {
		t.Fatalf("retired = %v, want 3 entries", retired)
	}
}

func TestRetireAllSweepsBusyRingsAndClearsMask(t *testing.T) {
	d := fakedriver.New(driver.Capabilities{})
	defer d.Close()
	d.SetRetireCallback(func(ringIdx uint8, fenceID uint64) {})

	var retired []uint64
	tr := fence.NewTracker(func(ringIdx uint8, fenceID uint64) {
		retired = append(retired, fenceID)
	})

	if err := tr.SubmitFence(d, 2, 77, 0); err != nil {
		t.Fatal(err)
	}

	seqnos := map[uint8]uint32{2: 0} // ring 2's single fence has seqno 0
	tr.RetireAll(func(ringIdx uint8) uint32 { return seqnos[ringIdx] })

	if len(retired) != 1 || retired[0] != 77 {
		t.Fatalf("retired = %v, want [77]", retired)
	}

	// Busy mask must now be clear: a second sweep must not call loadSeqno.
	called := false
	tr.RetireAll(func(ringIdx uint8) uint32 {
		called = true
		return 0
	})
	if called {
		t.Fatal("RetireAll invoked loadSeqno on an already-drained ring")
	}
}
