// File: core/seqno/seqno.go
// Package seqno implements wrap-safe 32-bit sequence number comparison.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Ring head/tail seqnos are 64-bit on the wire and fence seqnos are
// 32-bit; the delta between any two live values never exceeds 2^31, so
// comparisons truncate to 32 bits and use the standard wraparound rule. This is the
// single place that rule is implemented; every ring and timeline
// comparison in this module goes through it.

package seqno

// AtOrPast reports whether seqno a is at or past seqno b, using the
// wraparound-safe delta rule (uint32)(a-b) < 2^31. Both a and b are
// truncated to their low 32 bits before comparison, matching the wire
// protocol's 32-bit seqno fields.
func AtOrPast(a, b uint64) bool {
	return uint32(a)-uint32(b) < 1<<31
}

// AtOrPast32 is the 32-bit-native form, used where values are already
// truncated (fence seqnos, which are 32-bit timeline-local counters).
func AtOrPast32(a, b uint32) bool {
	return a-b < 1<<31
}
