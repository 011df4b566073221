// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package nic

import (
	"math/rand"
	"sync"
	"time"
)

const (
	defaultMemSize   = 32 << 20
	defaultLineSize  = 16
	baseBurstLatency = time.Microsecond
	burstChunk       = 64
)

// Faults select the misbehaviors a simulated card or platform exhibits.
// The zero value is a healthy machine.
type Faults struct {
	// NoDmaEngine makes the bus-master engine unreachable.
	NoDmaEngine bool
	// BrokenLineFlush makes per-line cache flushes silently do nothing.
	BrokenLineFlush bool
	// BrokenFullFlush makes whole-cache flushes silently do nothing.
	BrokenFullFlush bool
	// HangAfter hangs the DMA engine on the nth transfer. Zero never hangs.
	HangAfter int
	// CorruptEvery flips a bit in every nth transmitted frame. Zero
	// corrupts nothing.
	CorruptEvery int
	// RemappedMemory models an address-remapping memory manager: the
	// bus master reaches different physical pages than the CPU's view
	// of the same addresses.
	RemappedMemory bool
	// JitterPct adds deterministic pseudo-random burst latency jitter.
	JitterPct int
}

// SimConfig parameterizes the simulated machine.
type SimConfig struct {
	MemSize       uint32
	CacheLineSize uint32
	// CacheEnabled models a write-back CPU cache between the CPU and
	// host memory. Disabled matches cacheless 286-class parts, which
	// are trivially coherent.
	CacheEnabled bool
	Seed         int64
	Faults       Faults
}

// Sim is a software NIC plus the host memory and CPU cache it transfers
// against. It implements Controller, Memory and CacheOps.
//
// The cache model is deliberately adversarial: CPU stores sit in dirty
// lines invisible to device-mastered reads, and device-mastered writes
// do not invalidate lines the CPU has cached. Exactly the two hazards
// the coherency tiers exist to close.
type Sim struct {
	mu  sync.Mutex
	cfg SimConfig
	rnd *rand.Rand

	ram   []byte
	dirty map[uint32][]byte
	clean map[uint32][]byte

	loopback    bool
	rxQueue     [][]byte
	lastTx      []byte
	transfers   int
	lastLatency time.Duration

	intrEnabled bool
}

// NewSim returns a simulated machine. Zero config fields get defaults.
func NewSim(cfg SimConfig) *Sim {
	if cfg.MemSize == 0 {
		cfg.MemSize = defaultMemSize
	}

	if cfg.CacheLineSize == 0 {
		cfg.CacheLineSize = defaultLineSize
	}

	return &Sim{
		cfg:   cfg,
		rnd:   rand.New(rand.NewSource(cfg.Seed)),
		ram:   make([]byte, cfg.MemSize),
		dirty: make(map[uint32][]byte),
		clean: make(map[uint32][]byte),
	}
}

func (s *Sim) lineBase(addr uint32) uint32 {
	return addr &^ (s.cfg.CacheLineSize - 1)
}

// mergedLine returns the CPU-visible content of the line at base.
func (s *Sim) mergedLine(base uint32) []byte {
	if l, ok := s.dirty[base]; ok {
		return l
	}

	if l, ok := s.clean[base]; ok {
		return l
	}

	line := make([]byte, s.cfg.CacheLineSize)
	copy(line, s.ram[base:base+s.cfg.CacheLineSize])

	return line
}

// Write implements Memory.
func (s *Sim) Write(addr uint32, p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.inRange(addr, len(p)) {
		return
	}

	if !s.cfg.CacheEnabled {
		copy(s.ram[addr:], p)

		return
	}

	for off := 0; off < len(p); {
		base := s.lineBase(addr + uint32(off))
		line := s.mergedLine(base)
		start := addr + uint32(off) - base
		n := copy(line[start:], p[off:])

		s.dirty[base] = line
		delete(s.clean, base)

		off += n
	}
}

// Read implements Memory.
func (s *Sim) Read(addr uint32, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, n)

	if !s.inRange(addr, n) {
		return out
	}

	if !s.cfg.CacheEnabled {
		copy(out, s.ram[addr:])

		return out
	}

	for off := 0; off < n; {
		base := s.lineBase(addr + uint32(off))

		line, ok := s.dirty[base]
		if !ok {
			line, ok = s.clean[base]
		}

		if !ok {
			line = make([]byte, s.cfg.CacheLineSize)
			copy(line, s.ram[base:base+s.cfg.CacheLineSize])
			s.clean[base] = line
		}

		start := addr + uint32(off) - base
		off += copy(out[off:], line[start:])
	}

	return out
}

func (s *Sim) inRange(addr uint32, n int) bool {
	return n >= 0 && uint64(addr)+uint64(n) <= uint64(len(s.ram))
}

func (s *Sim) drainLine(base uint32) {
	if l, ok := s.dirty[base]; ok {
		copy(s.ram[base:], l)
		delete(s.dirty, base)
	}

	delete(s.clean, base)
}

func (s *Sim) drainAll() {
	for base, l := range s.dirty {
		copy(s.ram[base:], l)
	}

	s.dirty = make(map[uint32][]byte)
	s.clean = make(map[uint32][]byte)
}

// FlushLines implements CacheOps.
func (s *Sim) FlushLines(addr uint32, n int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Faults.BrokenLineFlush || !s.cfg.CacheEnabled {
		return
	}

	end := addr + uint32(n)
	for base := s.lineBase(addr); base < end; base += s.cfg.CacheLineSize {
		s.drainLine(base)
	}
}

// FlushAll implements CacheOps.
func (s *Sim) FlushAll() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Faults.BrokenFullFlush || !s.cfg.CacheEnabled {
		return
	}

	s.drainAll()
}

// Barrier implements CacheOps. The software fallback works without
// hardware assist, so it drains regardless of the flush faults.
func (s *Sim) Barrier() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.drainAll()
}

// Delay implements CacheOps.
func (s *Sim) Delay() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lastLatency += baseBurstLatency
	s.drainAll()
}

// ProbeDmaEngine implements Controller.
func (s *Sim) ProbeDmaEngine() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Faults.NoDmaEngine {
		return ErrNoDmaEngine
	}

	return nil
}

// ResetEngines implements Controller.
func (s *Sim) ResetEngines() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.rxQueue = nil
	s.lastTx = nil

	return nil
}

// SetLoopback implements Controller.
func (s *Sim) SetLoopback(enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.loopback = enabled

	return nil
}

// Transmit implements Controller. The device masters a read of host
// memory: it sees RAM, never the CPU's dirty cache lines.
func (s *Sim) Transmit(addr uint32, n int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Faults.NoDmaEngine {
		return ErrNoDmaEngine
	}

	s.transfers++
	if s.cfg.Faults.HangAfter > 0 && s.transfers >= s.cfg.Faults.HangAfter {
		return ErrEngineHang
	}

	addr = s.busAddr(addr)
	if !s.inRange(addr, n) {
		return ErrBadTransfer
	}

	frame := make([]byte, n)
	copy(frame, s.ram[addr:])

	if s.cfg.Faults.CorruptEvery > 0 && s.transfers%s.cfg.Faults.CorruptEvery == 0 && n > 0 {
		frame[s.rnd.Intn(n)] ^= 0x01
	}

	s.lastTx = frame
	if s.loopback {
		s.rxQueue = append(s.rxQueue, frame)
	}

	s.lastLatency = s.burstLatency(n)

	return nil
}

// Receive implements Controller. The device masters a write to host
// memory: RAM changes, stale CPU-cached lines do not.
func (s *Sim) Receive(addr uint32, max int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cfg.Faults.NoDmaEngine {
		return 0, ErrNoDmaEngine
	}

	if len(s.rxQueue) == 0 {
		return 0, ErrNoRxPending
	}

	frame := s.rxQueue[0]
	s.rxQueue = s.rxQueue[1:]

	if len(frame) > max {
		frame = frame[:max]
	}

	addr = s.busAddr(addr)
	if !s.inRange(addr, len(frame)) {
		return 0, ErrBadTransfer
	}

	copy(s.ram[addr:], frame)
	s.lastLatency = s.burstLatency(len(frame))

	return len(frame), nil
}

// busAddr translates a host address to the address the bus master
// actually reaches.
func (s *Sim) busAddr(addr uint32) uint32 {
	if s.cfg.Faults.RemappedMemory {
		return addr ^ 0x4000
	}

	return addr
}

func (s *Sim) burstLatency(n int) time.Duration {
	bursts := (n + burstChunk - 1) / burstChunk
	lat := time.Duration(bursts) * baseBurstLatency

	if s.cfg.Faults.JitterPct > 0 && lat > 0 {
		span := int64(lat) * int64(s.cfg.Faults.JitterPct) / 100
		lat += time.Duration(s.rnd.Int63n(2*span+1) - span)
	}

	return lat
}

// LastBurstLatency implements Controller.
func (s *Sim) LastBurstLatency() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.lastLatency
}

// EnableInterrupts implements Controller.
func (s *Sim) EnableInterrupts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.intrEnabled = true
}

// DisableInterrupts implements Controller.
func (s *Sim) DisableInterrupts() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.intrEnabled = false
}

// InterruptsEnabled implements Controller.
func (s *Sim) InterruptsEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.intrEnabled
}

// InjectFrame queues a frame as if the wire delivered it.
func (s *Sim) InjectFrame(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()

	frame := make([]byte, len(p))
	copy(frame, p)
	s.rxQueue = append(s.rxQueue, frame)
}

// LastTransmitted returns the device's view of the last transmitted
// frame. Test helper.
func (s *Sim) LastTransmitted() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, len(s.lastTx))
	copy(out, s.lastTx)

	return out
}

// DeviceView reads RAM the way a bus master would. Test helper.
func (s *Sim) DeviceView(addr uint32, n int) []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]byte, n)
	if s.inRange(addr, n) {
		copy(out, s.ram[addr:])
	}

	return out
}
