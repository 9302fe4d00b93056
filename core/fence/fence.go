// File: core/fence/fence.go
// Package fence implements the two-layer fence/timeline retirement
// pipeline: fence submission with busy-mask bookkeeping, the driver's
// asynchronous retirement callback, and a periodic retire-all sweep.
// One Timeline per ring index; fences free-list back to a shared pool
// on retirement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package fence

import (
	"fmt"
	"sync"

	"github.com/eapache/queue"

	"github.com/momentics/vrend/core/driver"
	"github.com/momentics/vrend/core/seqno"
	"github.com/momentics/vrend/pool"
)

// Fence is one in-flight submission: the guest-supplied id plus the
// timeline-local seqno assigned at submission time.
type Fence struct {
	SeqNo   uint32
	FenceID uint64
}

// RetireFunc is invoked once per fence as it retires.
type RetireFunc func(ringIdx uint8, fenceID uint64)

// Timeline tracks one ring's in-flight fences in submission order.
type Timeline struct {
	mu         sync.Mutex
	list       *queue.Queue
	nextSeqno  uint32
	curSeqno   uint32
}

func newTimeline() *Timeline {
	return &Timeline{list: queue.New()}
}

// Tracker coordinates every ring's Timeline for one context: submission,
// the driver's async on_retire callback, and the periodic retire_all
// sweep. busyMask has bit ringIdx set while that ring's timeline holds
// at least one unretired fence.
type Tracker struct {
	mu        sync.Mutex
	timelines map[uint8]*Timeline
	busyMask  uint64
	free      *pool.SyncPool[*Fence]
	onRetire  RetireFunc
}

// NewTracker constructs a Tracker. onRetire is invoked, in submission
// order, once per fence as it is observed retired.
func NewTracker(onRetire RetireFunc) *Tracker {
	return &Tracker{
		timelines: make(map[uint8]*Timeline),
		free:      pool.NewSyncPool(func() *Fence { return &Fence{} }),
		onRetire:  onRetire,
	}
}

func (t *Tracker) timelineFor(ringIdx uint8) *Timeline {
	t.mu.Lock()
	defer t.mu.Unlock()
	tl, ok := t.timelines[ringIdx]
	if !ok {
		tl = newTimeline()
		t.timelines[ringIdx] = tl
	}
	return tl
}

// SubmitFence allocates a fence (reusing the free list where possible),
// assigns it the timeline's next seqno, appends it to the in-order list,
// sets the busy-mask bit for ringIdx, and forwards the submission to the
// driver. On driver failure the list insertion and busy bit are rolled
// back and the driver's error is returned; on success SubmitFence
// returns immediately — retirement happens asynchronously via OnRetire.
func (t *Tracker) SubmitFence(drv driver.Driver, ringIdx uint8, fenceID uint64, flags uint32) error {
	tl := t.timelineFor(ringIdx)

	tl.mu.Lock()
	f := t.free.Get()
	f.FenceID = fenceID
	f.SeqNo = tl.nextSeqno
	tl.nextSeqno++
	tl.list.Add(f)
	tl.mu.Unlock()

	t.setBusy(ringIdx)

	if err := drv.SubmitFence(ringIdx, fenceID, flags); err != nil {
		tl.mu.Lock()
		t.removeLast(tl, f)
		empty := tl.list.Length() == 0
		tl.mu.Unlock()
		if empty {
			t.clearBusy(ringIdx)
		}
		return fmt.Errorf("fence: driver rejected submission: %w", err)
	}
	return nil
}

// removeLast undoes the Add in SubmitFence's rollback path. Submission
// order guarantees f is the last element, so this pops the tail by
// draining and re-adding every other entry — acceptable since rollback
// only happens on driver rejection, never on the retirement hot path.
func (t *Tracker) removeLast(tl *Timeline, f *Fence) {
	n := tl.list.Length()
	rest := make([]*Fence, 0, n-1)
	for i := 0; i < n; i++ {
		v := tl.list.Remove().(*Fence)
		if v != f {
			rest = append(rest, v)
		}
	}
	for _, v := range rest {
		tl.list.Add(v)
	}
	tl.nextSeqno--
	t.free.Put(f)
}

// OnRetire is the driver's asynchronous completion callback: it reduces
// fenceID to its low 32 bits as the observed seqno, updates the
// timeline's current seqno, and walks the in-order fence list retiring
// every fence the wraparound rule signals as done, stopping at the
// first unsignaled fence.
func (t *Tracker) OnRetire(ringIdx uint8, fenceID uint64) {
	tl := t.timelineFor(ringIdx)
	observed := uint32(fenceID)

	tl.mu.Lock()
	tl.curSeqno = observed
	retired := t.drainSignaled(tl, observed)
	empty := tl.list.Length() == 0
	tl.mu.Unlock()

	for _, f := range retired {
		if t.onRetire != nil {
			t.onRetire(ringIdx, f.FenceID)
		}
		t.free.Put(f)
	}
	if empty {
		t.clearBusy(ringIdx)
	}
}

// RetireAll is the periodic host-driven sweep: for every ring whose busy
// bit is set, it asks loadSeqno for that ring's current shared-memory
// seqno and runs the same in-order retirement walk, clearing the busy
// bit once a timeline's fence list is empty.
func (t *Tracker) RetireAll(loadSeqno func(ringIdx uint8) uint32) {
	for _, ringIdx := range t.busyRings() {
		cur := loadSeqno(ringIdx)
		tl := t.timelineFor(ringIdx)

		tl.mu.Lock()
		tl.curSeqno = cur
		retired := t.drainSignaled(tl, cur)
		empty := tl.list.Length() == 0
		tl.mu.Unlock()

		for _, f := range retired {
			if t.onRetire != nil {
				t.onRetire(ringIdx, f.FenceID)
			}
			t.free.Put(f)
		}
		if empty {
			t.clearBusy(ringIdx)
		}
	}
}

// drainSignaled must be called with tl.mu held. It pops and returns
// every fence at the front of tl.list that cur has passed, stopping at
// the first unsignaled one to preserve in-order retirement.
func (t *Tracker) drainSignaled(tl *Timeline, cur uint32) []*Fence {
	var retired []*Fence
	for tl.list.Length() > 0 {
		front := tl.list.Peek().(*Fence)
		if !seqno.AtOrPast32(cur, front.SeqNo) {
			break
		}
		tl.list.Remove()
		retired = append(retired, front)
	}
	return retired
}

func (t *Tracker) setBusy(ringIdx uint8) {
	t.mu.Lock()
	t.busyMask |= 1 << ringIdx
	t.mu.Unlock()
}

func (t *Tracker) clearBusy(ringIdx uint8) {
	t.mu.Lock()
	t.busyMask &^= 1 << ringIdx
	t.mu.Unlock()
}

// BusyMask returns a snapshot of the busy mask, for debug/stats
// surfaces only. Bit i is set iff timeline i's fence list is
// non-empty; submission/retirement maintain that invariant.
func (t *Tracker) BusyMask() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.busyMask
}

func (t *Tracker) busyRings() []uint8 {
	t.mu.Lock()
	defer t.mu.Unlock()
	var rings []uint8
	for i := uint8(0); i < 64; i++ {
		if t.busyMask&(1<<i) != 0 {
			rings = append(rings, i)
		}
	}
	return rings
}
