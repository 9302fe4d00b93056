// File: core/ring/set.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

import (
	"errors"
	"sync"

	"github.com/momentics/vrend/core/seqno"
)

// ErrAlreadyAttached is returned by Attach for a ring id already tracked.
var ErrAlreadyAttached = errors.New("ring: already attached")

// ErrUnknownRing is returned by Detach/WaitForSeqno for an untracked id.
var ErrUnknownRing = errors.New("ring: unknown ring id")

// ErrWaitAlreadyActive is returned by WaitForSeqno when another wait is
// already in progress on this set — only one ring may be waited on at a
// time per context.
var ErrWaitAlreadyActive = errors.New("ring: a wait is already active")

// ErrSetClosed is returned by Attach/WaitForSeqno once Shutdown has
// run. A waiter blocked at shutdown time is woken and sees this error.
var ErrSetClosed = errors.New("ring: set shut down")

// Set is the per-context collection of attached rings, guarded by a
// single mutex, with a condition variable for the single-waiter
// protocol: the waiter blocks keyed on (ring id, target seqno);
// OnHeadUpdate signals once per update whose ring id matches and whose
// head is at-or-past the waited seqno.
type Set struct {
	mu    sync.Mutex
	cond  *sync.Cond
	rings map[uint64]*Ring

	waiting    bool
	waitRingID uint64
	waitTarget uint64
	closed     bool
}

// NewSet constructs an empty ring set.
func NewSet() *Set {
	s := &Set{rings: make(map[uint64]*Ring)}
	s.cond = sync.NewCond(&s.mu)
	return s
}

// Attach begins tracking r.
func (s *Set) Attach(r *Ring) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSetClosed
	}
	if _, exists := s.rings[r.ID]; exists {
		return ErrAlreadyAttached
	}
	s.rings[r.ID] = r
	return nil
}

// Shutdown marks the set closed and wakes any blocked waiter, which
// returns ErrSetClosed. Called by context teardown so the dispatch
// thread cannot stay parked in WaitForSeqno while the context is being
// destroyed. Idempotent.
func (s *Set) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.cond.Broadcast()
}

// Detach stops tracking ringID. If a wait is active on this ring, it is
// woken with ErrUnknownRing left for the waiter to discover on recheck.
func (s *Set) Detach(ringID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rings[ringID]; !exists {
		return ErrUnknownRing
	}
	delete(s.rings, ringID)
	if s.waiting && s.waitRingID == ringID {
		s.cond.Broadcast()
	}
	return nil
}

// OnHeadUpdate records a new head seqno for ringID and wakes a waiter
// blocked on this ring if the update satisfies its target, per the
// wraparound rule (uint32)(new_head - wait_seqno) < 2^31.
func (s *Set) OnHeadUpdate(ringID uint64, newHead uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.rings[ringID]
	if !ok {
		return
	}
	r.setHeadSeqno(newHead)
	if s.waiting && s.waitRingID == ringID && seqno.AtOrPast(newHead, s.waitTarget) {
		s.cond.Broadcast()
	}
}

// WaitForSeqno blocks until ringID's head seqno reaches or passes
// target, or until an error condition (set shut down, ring detached,
// another wait already active) is discovered. Spurious wakeups are
// tolerated internally; callers always see either a satisfied wait or
// an error.
func (s *Set) WaitForSeqno(ringID uint64, target uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return ErrSetClosed
	}
	if s.waiting {
		return ErrWaitAlreadyActive
	}
	if _, ok := s.rings[ringID]; !ok {
		return ErrUnknownRing
	}

	s.waiting = true
	s.waitRingID = ringID
	s.waitTarget = target
	defer func() {
		s.waiting = false
	}()

	for {
		if s.closed {
			return ErrSetClosed
		}
		r, ok := s.rings[ringID]
		if !ok {
			return ErrUnknownRing
		}
		if seqno.AtOrPast(r.HeadSeqno(), target) {
			return nil
		}
		s.cond.Wait()
	}
}

// Snapshot returns the attached ring ids, for debug/stats surfaces.
func (s *Set) Snapshot() []uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]uint64, 0, len(s.rings))
	for id := range s.rings {
		ids = append(ids, id)
	}
	return ids
}
