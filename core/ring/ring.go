// File: core/ring/ring.go
// Package ring implements the per-context ring set and its liveness
// monitor: tracking attached rings' head seqnos, waking a single
// blocked waiter on a matching head update, and periodically telling
// the driver which rings are still alive.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package ring

import (
	"sync/atomic"
)

// Ring is one attached command ring: its id and the host-visible head
// seqno the guest last reported. The liveness reporting period is a
// property of the Monitor, not of individual rings — see monitor.go.
type Ring struct {
	ID uint64

	headSeqno uint64
	_         [56]byte // cache-line pad, keeps headSeqno off the monitor's read-mostly fields
}

// NewRing constructs a ring entry.
func NewRing(id uint64) *Ring {
	return &Ring{ID: id}
}

// HeadSeqno returns the most recently reported head seqno.
func (r *Ring) HeadSeqno() uint64 {
	return atomic.LoadUint64(&r.headSeqno)
}

func (r *Ring) setHeadSeqno(v uint64) {
	atomic.StoreUint64(&r.headSeqno, v)
}
