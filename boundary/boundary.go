// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package boundary keeps DMA transfers inside the addresses the bus
// can actually reach. Every transfer passes the guard regardless of
// the active coherency tier: a buffer that straddles the hardware
// segment-wrap granularity or sits above the bus addressing limit is
// silently substituted with a bounce buffer from a fixed pool, and
// rejected whole when no bounce buffer is free.
package boundary

import (
	"errors"
	"sync/atomic"

	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/dslog"
	"packetdriver.org/dmasafe/hwinfo"
	"packetdriver.org/dmasafe/nic"
)

var (
	ErrZeroLength    = errors.New("transfer length must be positive")
	ErrFrameTooLong  = errors.New("unsafe buffer exceeds bounce buffer size")
	ErrAddressWrap   = errors.New("transfer wraps the physical address space")
	ErrWrapSize      = errors.New("segment wrap size must be a power of two")
	ErrUnsafePoolMem = errors.New("bounce pool region is not DMA-safe")
)

// Descriptor names one DMA transfer by physical address.
type Descriptor struct {
	Addr uint32
	Len  uint32
	Dir  nic.Direction
}

func (d Descriptor) end() uint32 {
	return d.Addr + d.Len - 1
}

// Bounce tracks a transfer that was redirected through a pool buffer.
// The caller must call Complete (or Cancel) exactly once to copy data
// back out and return the buffer.
type Bounce struct {
	guard *Guard
	idx   int
	orig  Descriptor
	addr  uint32
	done  bool
}

// Addr returns the bounce buffer's physical address.
func (b *Bounce) Addr() uint32 {
	return b.addr
}

// Complete finishes the bounced transfer. For device-to-memory
// transfers it copies n received bytes back to the original buffer;
// for memory-to-device transfers there is nothing to copy. Either way
// the buffer returns to the pool.
func (b *Bounce) Complete(n int) {
	if b == nil || b.done {
		return
	}
	b.done = true

	if b.orig.Dir == nic.FromDevice && n > 0 {
		if uint32(n) > b.orig.Len {
			n = int(b.orig.Len)
		}
		b.guard.mem.Write(b.orig.Addr, b.guard.mem.Read(b.addr, n))
	}

	b.guard.pool.release(b.idx)
}

// Cancel returns the buffer without copying anything back. Used when
// the transfer itself failed.
func (b *Bounce) Cancel() {
	if b == nil || b.done {
		return
	}
	b.done = true
	b.guard.pool.release(b.idx)
}

// Stats are the guard's running counters.
type Stats struct {
	Checks          uint64 `json:"checks"`
	WrapViolations  uint64 `json:"wrap_violations"`
	LimitViolations uint64 `json:"limit_violations"`
	Bounces         uint64 `json:"bounces"`
	Rejects         uint64 `json:"rejects"`
}

// Guard validates transfer descriptors against the chipset's bus
// facts. Prepare is safe from interrupt context: it takes no locks
// and touches only atomic counters and the lock-free pool.
type Guard struct {
	wrapMask uint32
	limit    uint32
	mem      nic.Memory
	pool     *Pool

	checks          uint64
	wrapViolations  uint64
	limitViolations uint64
	bounces         uint64
	rejects         uint64
}

// NewGuard builds a guard from the chipset facts. Every pool buffer
// is itself checked against the same wrap and limit rules; a pool
// that could hand out an unsafe bounce buffer is refused outright.
func NewGuard(facts hwinfo.ChipsetFacts, mem nic.Memory, pool *Pool) (*Guard, error) {
	const op = dserror.Op("boundary.NewGuard")

	if err := facts.Validate(); err != nil {
		return nil, dserror.E(op, dserror.Boundary, err)
	}
	if facts.SegmentWrapSize&(facts.SegmentWrapSize-1) != 0 {
		return nil, dserror.E(op, dserror.Boundary, ErrWrapSize)
	}

	g := &Guard{
		wrapMask: ^(facts.SegmentWrapSize - 1),
		limit:    facts.DmaAddressLimit,
		mem:      mem,
		pool:     pool,
	}

	for i := 0; i < pool.Count(); i++ {
		d := Descriptor{Addr: pool.bufferAddr(i), Len: pool.BufferSize()}
		if g.crossesWrap(d) || g.exceedsLimit(d) {
			return nil, dserror.E(op, dserror.Boundary, ErrUnsafePoolMem)
		}
	}

	return g, nil
}

// crossesWrap reports whether the transfer straddles a segment-wrap
// boundary. Start and end in different wrap-sized windows means the
// hardware address counter would roll over mid-transfer.
func (g *Guard) crossesWrap(d Descriptor) bool {
	return (d.Addr^d.end())&g.wrapMask != 0
}

func (g *Guard) exceedsLimit(d Descriptor) bool {
	return d.Addr > g.limit || d.end() > g.limit
}

// Prepare validates one transfer. A safe descriptor comes back
// unchanged with a nil bounce. An unsafe one comes back redirected to
// a bounce buffer, with memory-to-device data already copied in. The
// transfer is rejected whole when the buffer cannot be made safe.
func (g *Guard) Prepare(d Descriptor) (Descriptor, *Bounce, error) {
	const op = dserror.Op("boundary.Prepare")

	atomic.AddUint64(&g.checks, 1)

	if d.Len == 0 {
		atomic.AddUint64(&g.rejects, 1)

		return d, nil, dserror.E(op, dserror.Boundary, ErrZeroLength)
	}
	if d.Addr > ^uint32(0)-d.Len+1 {
		atomic.AddUint64(&g.rejects, 1)

		return d, nil, dserror.E(op, dserror.Boundary, ErrAddressWrap)
	}

	needsBounce := false
	if g.crossesWrap(d) {
		atomic.AddUint64(&g.wrapViolations, 1)
		needsBounce = true
	}
	if g.exceedsLimit(d) {
		atomic.AddUint64(&g.limitViolations, 1)
		needsBounce = true
	}

	if !needsBounce {
		return d, nil, nil
	}

	if d.Len > g.pool.BufferSize() {
		atomic.AddUint64(&g.rejects, 1)

		return d, nil, dserror.E(op, dserror.Boundary, ErrFrameTooLong)
	}

	idx := g.pool.acquire()
	if idx < 0 {
		atomic.AddUint64(&g.rejects, 1)
		dslog.Warn("boundary: bounce pool exhausted, transfer at %08x rejected", d.Addr)

		return d, nil, dserror.E(op, dserror.Boundary, ErrPoolExhausted)
	}

	atomic.AddUint64(&g.bounces, 1)

	b := &Bounce{
		guard: g,
		idx:   idx,
		orig:  d,
		addr:  g.pool.bufferAddr(idx),
	}
	if d.Dir == nic.ToDevice {
		g.mem.Write(b.addr, g.mem.Read(d.Addr, int(d.Len)))
	}

	safe := Descriptor{Addr: b.addr, Len: d.Len, Dir: d.Dir}
	dslog.Debug("boundary: %08x+%d redirected to bounce buffer %d at %08x",
		d.Addr, d.Len, idx, b.addr)

	return safe, b, nil
}

// Snapshot returns the counters at a point in time.
func (g *Guard) Snapshot() Stats {
	return Stats{
		Checks:          atomic.LoadUint64(&g.checks),
		WrapViolations:  atomic.LoadUint64(&g.wrapViolations),
		LimitViolations: atomic.LoadUint64(&g.limitViolations),
		Bounces:         atomic.LoadUint64(&g.bounces),
		Rejects:         atomic.LoadUint64(&g.rejects),
	}
}
