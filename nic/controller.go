// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package nic defines the register-level hardware abstraction the DMA
// safety core drives. Production code supplies a Controller backed by a
// real card; Sim provides a software model for the capability test and
// the test suite.
package nic

import (
	"errors"
	"time"
)

var (
	ErrNoDmaEngine  = errors.New("bus-master DMA engine not responding")
	ErrEngineHang   = errors.New("DMA engine hang")
	ErrBadTransfer  = errors.New("transfer rejected by controller")
	ErrNoRxPending  = errors.New("no received frame pending")
)

// Direction of a DMA transfer relative to host memory.
type Direction int

const (
	// ToDevice is a transmit: the card masters a read of host memory.
	ToDevice Direction = iota
	// FromDevice is a receive: the card masters a write to host memory.
	FromDevice
)

// String implements fmt.Stringer.
func (d Direction) String() string {
	return [...]string{"to-device", "from-device"}[d]
}

// Controller is the register-level NIC interface the safety core is
// handed at setup. All methods are called from setup context except
// Transmit and Receive, which run on the interrupt-driven transfer path.
type Controller interface {
	// ProbeDmaEngine checks that the bus-master engine responds at all.
	// It returns ErrNoDmaEngine when the card cannot master the bus.
	ProbeDmaEngine() error

	// ResetEngines reinitializes the RX/TX engines. The capability test
	// calls it on every exit path so an interrupted test never leaves
	// hardware needing a cold restart.
	ResetEngines() error

	// SetLoopback switches the MAC into internal loopback. The
	// capability test transfers run entirely inside the card.
	SetLoopback(enabled bool) error

	// Transmit starts a device-mastered read of n bytes of host memory
	// at physical address addr.
	Transmit(addr uint32, n int) error

	// Receive places the next pending frame into host memory at addr,
	// mastering the bus for the write. It returns the frame length and
	// ErrNoRxPending when nothing is queued.
	Receive(addr uint32, max int) (int, error)

	// LastBurstLatency reports the duration of the most recent DMA
	// burst, for timing-constraint scoring.
	LastBurstLatency() time.Duration

	// Interrupt gate. Patching and tier changes happen only while the
	// source is disabled.
	EnableInterrupts()
	DisableInterrupts()
	InterruptsEnabled() bool
}

// Memory is the CPU-side view of host memory the transfer buffers live
// in. On the real driver these are plain loads and stores; the
// simulation routes them through a cache model so coherency hazards are
// observable.
type Memory interface {
	// Write stores p at physical address addr through the CPU cache.
	Write(addr uint32, p []byte)
	// Read loads n bytes at physical address addr through the CPU cache.
	Read(addr uint32, n int) []byte
}

// CacheOps are the CPU cache-maintenance hooks the coherency tiers call.
// Which subset actually works is a property of the CPU generation; the
// tier selector only wires up operations the CpuProfile advertises.
type CacheOps interface {
	// FlushLines writes back and invalidates the cache lines covering
	// [addr, addr+n).
	FlushLines(addr uint32, n int)
	// FlushAll writes back and invalidates the entire cache.
	FlushAll()
	// Barrier is the software fallback: forces outstanding CPU writes
	// to memory and discards cached reads without hardware assist.
	Barrier()
	// Delay settles outstanding traffic by waiting out a generous fixed
	// margin. Always correct, always slow.
	Delay()
}
