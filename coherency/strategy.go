// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coherency

import (
	"sync/atomic"

	"packetdriver.org/dmasafe/nic"
)

// Strategy is one coherency tier in executable form. PreDma runs before
// the card masters the bus for a transfer, PostDma after it finished.
// Both are called on the interrupt-driven transfer path and must stay
// allocation free.
type Strategy interface {
	Tier() Tier
	PreDma(addr uint32, n int, dir nic.Direction)
	PostDma(addr uint32, n int, dir nic.Direction)
	// Ops reports how many maintenance operations the strategy issued.
	Ops() uint64
}

// ForTier builds the Strategy implementing tier on top of the CPU cache
// hooks. TierUnset and TierDisabled yield a no-op strategy.
func ForTier(tier Tier, ops nic.CacheOps) Strategy {
	switch tier {
	case TierLineFlush:
		return &lineFlush{ops: ops}
	case TierWholeCache:
		return &wholeCache{ops: ops}
	case TierSoftwareBarrier:
		return &softwareBarrier{ops: ops}
	case TierConservativeDelay:
		return &conservativeDelay{ops: ops}
	default:
		return &noop{tier: TierDisabled}
	}
}

type lineFlush struct {
	ops   nic.CacheOps
	count uint64
}

func (s *lineFlush) Tier() Tier { return TierLineFlush }

func (s *lineFlush) PreDma(addr uint32, n int, dir nic.Direction) {
	// Write back dirty lines before the card reads, invalidate before
	// it writes. FlushLines does both.
	s.ops.FlushLines(addr, n)
	atomic.AddUint64(&s.count, 1)
}

func (s *lineFlush) PostDma(addr uint32, n int, dir nic.Direction) {
	if dir == nic.FromDevice {
		// Lines cached during the transfer hold stale data now.
		s.ops.FlushLines(addr, n)
		atomic.AddUint64(&s.count, 1)
	}
}

func (s *lineFlush) Ops() uint64 { return atomic.LoadUint64(&s.count) }

type wholeCache struct {
	ops   nic.CacheOps
	count uint64
}

func (s *wholeCache) Tier() Tier { return TierWholeCache }

func (s *wholeCache) PreDma(addr uint32, n int, dir nic.Direction) {
	s.ops.FlushAll()
	atomic.AddUint64(&s.count, 1)
}

func (s *wholeCache) PostDma(addr uint32, n int, dir nic.Direction) {
	if dir == nic.FromDevice {
		s.ops.FlushAll()
		atomic.AddUint64(&s.count, 1)
	}
}

func (s *wholeCache) Ops() uint64 { return atomic.LoadUint64(&s.count) }

type softwareBarrier struct {
	ops   nic.CacheOps
	count uint64
}

func (s *softwareBarrier) Tier() Tier { return TierSoftwareBarrier }

func (s *softwareBarrier) PreDma(addr uint32, n int, dir nic.Direction) {
	s.ops.Barrier()
	atomic.AddUint64(&s.count, 1)
}

func (s *softwareBarrier) PostDma(addr uint32, n int, dir nic.Direction) {
	if dir == nic.FromDevice {
		s.ops.Barrier()
		atomic.AddUint64(&s.count, 1)
	}
}

func (s *softwareBarrier) Ops() uint64 { return atomic.LoadUint64(&s.count) }

type conservativeDelay struct {
	ops   nic.CacheOps
	count uint64
}

func (s *conservativeDelay) Tier() Tier { return TierConservativeDelay }

func (s *conservativeDelay) PreDma(addr uint32, n int, dir nic.Direction) {
	s.ops.Delay()
	atomic.AddUint64(&s.count, 1)
}

func (s *conservativeDelay) PostDma(addr uint32, n int, dir nic.Direction) {
	s.ops.Delay()
	atomic.AddUint64(&s.count, 1)
}

func (s *conservativeDelay) Ops() uint64 { return atomic.LoadUint64(&s.count) }

type noop struct {
	tier Tier
}

func (s *noop) Tier() Tier                                   { return s.tier }
func (s *noop) PreDma(addr uint32, n int, dir nic.Direction) {}
func (s *noop) PostDma(addr uint32, n int, dir nic.Direction) {
}
func (s *noop) Ops() uint64 { return 0 }
