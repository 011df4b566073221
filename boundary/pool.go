// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package boundary

import (
	"errors"
	"math/bits"
	"sync/atomic"

	"packetdriver.org/dmasafe/dserror"
)

// MaxPoolBuffers caps a pool at the width of the acquire bitmap.
const MaxPoolBuffers = 64

// DefaultPoolBuffers and DefaultBufferSize mirror the pre-sized pools
// the driver allocates in conventional memory at load time.
const (
	DefaultPoolBuffers = 8
	DefaultBufferSize  = 1600
)

var (
	// ErrPoolExhausted reports that no bounce buffer was free. The
	// transfer is rejected whole; the pool never blocks and never
	// hands out partial buffers.
	ErrPoolExhausted = errors.New("bounce pool exhausted")

	ErrPoolSize   = errors.New("bounce pool buffer count out of range")
	ErrBufferSize = errors.New("bounce buffer size must be positive")
)

// Pool is a fixed set of pre-sized bounce buffers carved out of a
// contiguous DMA-safe region. Acquire and release are lock-free so
// the receive interrupt can take a buffer without a critical section.
type Pool struct {
	base    uint32
	bufSize uint32
	count   int
	mask    uint64
	bitmap  uint64
	used    uint64
	refused uint64
}

// NewPool carves count buffers of bufSize bytes starting at base.
// Whether the region itself is DMA-safe is the guard's concern; see
// Guard's pool validation.
func NewPool(base uint32, count int, bufSize uint32) (*Pool, error) {
	const op = dserror.Op("boundary.NewPool")

	if count <= 0 || count > MaxPoolBuffers {
		return nil, dserror.E(op, dserror.Boundary, ErrPoolSize)
	}
	if bufSize == 0 {
		return nil, dserror.E(op, dserror.Boundary, ErrBufferSize)
	}

	var mask uint64 = ^uint64(0)
	if count < MaxPoolBuffers {
		mask = (1 << uint(count)) - 1
	}

	return &Pool{
		base:    base,
		bufSize: bufSize,
		count:   count,
		mask:    mask,
	}, nil
}

// BufferSize returns the fixed size of each bounce buffer.
func (p *Pool) BufferSize() uint32 {
	return p.bufSize
}

// Count returns the number of buffers in the pool.
func (p *Pool) Count() int {
	return p.count
}

// Free returns the number of currently unclaimed buffers.
func (p *Pool) Free() int {
	claimed := atomic.LoadUint64(&p.bitmap) & p.mask

	return p.count - bits.OnesCount64(claimed)
}

func (p *Pool) bufferAddr(idx int) uint32 {
	return p.base + uint32(idx)*p.bufSize
}

// acquire claims one buffer and returns its index, or -1 when the
// pool is exhausted. Single CAS per attempt, no locks.
func (p *Pool) acquire() int {
	for {
		cur := atomic.LoadUint64(&p.bitmap)

		free := ^cur & p.mask
		if free == 0 {
			atomic.AddUint64(&p.refused, 1)

			return -1
		}

		idx := bits.TrailingZeros64(free)
		if atomic.CompareAndSwapUint64(&p.bitmap, cur, cur|uint64(1)<<uint(idx)) {
			atomic.AddUint64(&p.used, 1)

			return idx
		}
	}
}

// release returns a buffer to the pool. Double release is a
// programming error and is ignored.
func (p *Pool) release(idx int) {
	if idx < 0 || idx >= p.count {
		return
	}

	bit := uint64(1) << uint(idx)
	for {
		cur := atomic.LoadUint64(&p.bitmap)
		if cur&bit == 0 {
			return
		}
		if atomic.CompareAndSwapUint64(&p.bitmap, cur, cur&^bit) {
			return
		}
	}
}
