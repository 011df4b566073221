// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package monitor

import (
	"sync"

	"packetdriver.org/dmasafe/coherency"
)

// RollbackDepth is the number of downgrade records kept. With five
// tiers a boot can only downgrade four times, the spare slots absorb
// forced re-probes.
const RollbackDepth = 8

// RollbackEvent records one tier downgrade.
type RollbackEvent struct {
	Seq    uint32         `json:"seq"`
	Reason Event          `json:"reason"`
	From   coherency.Tier `json:"from"`
	To     coherency.Tier `json:"to"`
}

// RollbackLog is a fixed ring of downgrade records. Appends happen in
// setup context only; Events may race with an append and takes the
// lock too.
type RollbackLog struct {
	mu   sync.Mutex
	ring [RollbackDepth]RollbackEvent
	seq  uint32
}

// Append records a downgrade and returns its sequence number,
// starting at 1. The oldest record is overwritten once the ring is
// full.
func (l *RollbackLog) Append(reason Event, from, to coherency.Tier) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.seq++
	l.ring[(l.seq-1)%RollbackDepth] = RollbackEvent{
		Seq:    l.seq,
		Reason: reason,
		From:   from,
		To:     to,
	}

	return l.seq
}

// Len returns the number of downgrades recorded since boot,
// including any that have rotated out of the ring.
func (l *RollbackLog) Len() uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()

	return l.seq
}

// Events returns the retained records, oldest first.
func (l *RollbackLog) Events() []RollbackEvent {
	l.mu.Lock()
	defer l.mu.Unlock()

	n := l.seq
	if n > RollbackDepth {
		n = RollbackDepth
	}

	out := make([]RollbackEvent, 0, n)
	start := l.seq - n
	for i := uint32(0); i < n; i++ {
		out = append(out, l.ring[(start+i)%RollbackDepth])
	}

	return out
}
