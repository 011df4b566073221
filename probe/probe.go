// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package probe implements the bounded hardware capability test that
// decides whether bus-master DMA can be trusted on this machine.
//
// The test is a three phase state machine, basic -> stress ->
// stability, with an early exit to failed when the basic phase cannot
// reach the minimum viable total. Every exit path restores the NIC
// RX/TX engines, so an interrupted test never leaves hardware needing a
// cold restart.
package probe

import (
	"bytes"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"

	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/dslog"
	"packetdriver.org/dmasafe/hwinfo"
	"packetdriver.org/dmasafe/nic"
)

var (
	ErrNilTarget        = errors.New("probe target must not be nil")
	ErrPolicyThresholds = errors.New("probe policy thresholds are not ordered")
	ErrStepBudget       = errors.New("probe step budget exhausted")
)

// Target is everything the capability test needs from the platform: the
// card's registers, the CPU view of host memory and the cache hooks.
type Target interface {
	nic.Controller
	nic.Memory
	nic.CacheOps
}

// Scratch region used for loopback test transfers. Both buffers start
// mid cache line on purpose, so transfers straddle line boundaries.
const (
	txScratch = 0x1008
	rxScratch = 0x2008

	maxTestFrame = 1024
)

// Run executes the capability test and returns its Score. Hardware
// trouble never surfaces as an error: timeouts and faults resolve to a
// FAILED score, which the caller must treat as "disable DMA". An error
// return means the inputs were unusable.
func Run(cpu *hwinfo.CpuProfile, chipset *hwinfo.ChipsetFacts, target Target, mode Mode, policy Policy) (*Score, error) {
	const op = dserror.Op("probe.Run")

	if target == nil {
		return nil, dserror.E(op, dserror.Probe, ErrNilTarget)
	}

	if err := cpu.Validate(); err != nil {
		return nil, dserror.E(op, dserror.Probe, err)
	}

	if err := chipset.Validate(); err != nil {
		return nil, dserror.E(op, dserror.Probe, err)
	}

	if err := policy.Validate(); err != nil {
		return nil, dserror.E(op, dserror.Probe, err)
	}

	if mode == ModeUnset {
		if cpu.QuickTestCapable() {
			mode = ModeQuick
		} else {
			mode = ModeFull
		}
	}

	seed := policy.Seed
	if seed == 0 {
		seed = int64(hwinfo.Fingerprint(cpu, chipset))
	}

	r := &runner{
		target: target,
		policy: policy,
		rnd:    newPatternSource(seed),
		budget: 4 * policy.FullSoakSteps,
		score:  &Score{Mode: mode, Phase: PhaseBasic},
	}

	if mode == ModeQuick {
		r.soakSteps = policy.QuickSoakSteps
	} else {
		r.soakSteps = policy.FullSoakSteps
	}

	dslog.Info("probe: starting capability test, mode %s", mode)

	defer r.restoreHardware()

	for r.score.Phase != PhaseDone && r.score.Phase != PhaseFailed {
		switch r.score.Phase {
		case PhaseBasic:
			r.runBasic()
		case PhaseStress:
			r.runStress()
		case PhaseStability:
			r.runStability()
		}
	}

	r.score.Total = r.score.sum()
	r.score.Level = policy.Level(r.score.Total)
	r.score.Completed = r.score.Phase == PhaseDone

	if r.hwFault {
		// A phase that could not complete is a failed test, full stop.
		r.score.Level = ConfidenceFailed
	}

	dslog.Info("probe: verdict %s, score %d/%d", r.score.Level, r.score.Total, MaxTotal)

	return r.score, nil
}

type runner struct {
	target    Target
	policy    Policy
	rnd       *patternSource
	budget    int
	soakSteps int
	score     *Score
	hwFault   bool
}

// step burns one unit of the bounded budget. The capability test has no
// cancellation; running out of budget is a hardware fault verdict.
func (r *runner) step() bool {
	if r.budget <= 0 {
		r.failHardware(ErrStepBudget.Error())

		return false
	}

	r.budget--

	return true
}

func (r *runner) failHardware(reason string) {
	if !r.hwFault {
		dslog.Error("probe: hardware fault: %s", reason)
	}

	r.hwFault = true
	r.score.FailureReason = reason
	r.score.Phase = PhaseFailed
}

// restoreHardware reinitializes the RX/TX engines on every exit path.
func (r *runner) restoreHardware() {
	_ = r.target.SetLoopback(false)

	reset := func() error { return r.target.ResetEngines() }
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)

	if err := backoff.Retry(reset, bo); err != nil {
		dslog.Error("probe: engine reset failed during restore: %v", err)
	}
}

func (r *runner) runBasic() {
	r.score.DmaController = r.checkDmaController()
	dslog.Debug("probe: DMA controller check: %d/%d", r.score.DmaController, MaxDmaController)

	r.score.MemoryCoherency = r.checkMemoryCoherency()
	r.score.CoherencyPassed = r.score.MemoryCoherency == MaxMemoryCoherency
	dslog.Debug("probe: coherency check: %d/%d", r.score.MemoryCoherency, MaxMemoryCoherency)

	if r.score.Phase == PhaseFailed {
		return
	}

	// Timing measured over a broken transfer path means nothing; skip
	// it so an incoherent machine cannot scrape past the early exit.
	if r.score.MemoryCoherency > 0 {
		r.score.TimingConstraints = r.checkTimingConstraints()
		dslog.Debug("probe: timing check: %d/%d", r.score.TimingConstraints, MaxTimingConstraints)
	}

	if r.score.Phase == PhaseFailed {
		return
	}

	if r.score.basicTotal() < r.policy.MinimumBasic {
		dslog.Warn("probe: basic phase %d below minimum %d, stopping early",
			r.score.basicTotal(), r.policy.MinimumBasic)

		if r.score.FailureReason == "" {
			r.score.FailureReason = "basic phase below minimum viable total"
		}

		r.score.Phase = PhaseFailed

		return
	}

	r.score.Phase = PhaseStress
}

func (r *runner) runStress() {
	r.score.DataIntegrity = r.checkDataIntegrity()
	dslog.Debug("probe: data integrity check: %d/%d", r.score.DataIntegrity, MaxDataIntegrity)

	if r.score.Phase == PhaseFailed {
		return
	}

	r.score.BurstTransfer = r.checkBurstTiming()
	r.score.BurstTimingPassed = r.score.BurstTransfer >= MaxBurstTransfer/2
	dslog.Debug("probe: burst timing check: %d/%d", r.score.BurstTransfer, MaxBurstTransfer)

	if r.score.Phase == PhaseFailed {
		return
	}

	r.score.ErrorRecovery = r.checkErrorRecovery()
	r.score.RecoveryPassed = r.score.ErrorRecovery >= MaxErrorRecovery/2
	dslog.Debug("probe: error recovery check: %d/%d", r.score.ErrorRecovery, MaxErrorRecovery)

	if r.score.Phase != PhaseFailed {
		r.score.Phase = PhaseStability
	}
}

func (r *runner) runStability() {
	r.score.Stability = r.checkStability()
	r.score.StabilityPassed = r.score.Stability >= MaxStability/2
	dslog.Debug("probe: stability check: %d/%d", r.score.Stability, MaxStability)

	if r.score.Phase != PhaseFailed {
		r.score.Phase = PhaseDone
	}
}

// checkDmaController verifies the bus-master engine responds and the
// RX/TX engines take commands.
func (r *runner) checkDmaController() uint16 {
	var score uint16

	if !r.step() {
		return 0
	}

	if err := r.target.ProbeDmaEngine(); err != nil {
		r.failHardware("bus-master engine not responding")

		return 0
	}

	score += 40

	if err := r.target.ResetEngines(); err == nil {
		score += 15
	} else {
		r.score.ErrorCount++
	}

	if err := r.target.SetLoopback(true); err == nil {
		score += 15
	} else {
		r.score.ErrorCount++
	}

	return score
}

// roundTrip pushes pattern through the loopback path with the always
// correct software barrier as maintenance, and reports whether the CPU
// reads back exactly what it wrote. This isolates addressing and DMA
// faults from cache effects.
func (r *runner) roundTrip(pattern []byte) bool {
	if !r.step() {
		return false
	}

	r.target.Write(txScratch, pattern)
	r.target.Barrier()

	if err := r.target.Transmit(txScratch, len(pattern)); err != nil {
		if errors.Is(err, nic.ErrEngineHang) {
			r.failHardware("DMA engine hang during test transfer")
		}

		r.score.ErrorCount++

		return false
	}

	n, err := r.target.Receive(rxScratch, maxTestFrame)
	if err != nil || n != len(pattern) {
		r.score.ErrorCount++

		return false
	}

	r.target.Barrier()

	got := r.target.Read(rxScratch, n)
	ok := bytes.Equal(got, pattern)

	if ok {
		r.score.PatternsVerified++
	} else {
		r.score.ErrorCount++
	}

	r.score.TransfersCompleted++
	r.score.BytesTransferred += uint32(n)

	return ok
}

// checkMemoryCoherency runs the cross-cache-boundary coherency check:
// four canonical patterns through buffers that straddle cache lines.
func (r *runner) checkMemoryCoherency() uint16 {
	patterns := [][]byte{
		r.rnd.alternating(0x55, 256),
		r.rnd.alternating(0xAA, 256),
		r.rnd.walkingOnes(256),
		r.rnd.addressPattern(txScratch, 256),
	}

	var score uint16

	for _, p := range patterns {
		if r.score.Phase == PhaseFailed {
			return score
		}

		if r.roundTrip(p) {
			score += MaxMemoryCoherency / 4
		}
	}

	return score
}

// checkTimingConstraints verifies burst latency stays proportional to
// burst size within tolerance.
func (r *runner) checkTimingConstraints() uint16 {
	sizes := []int{64, 128, 256, 512, 1024}

	var score uint16

	for _, n := range sizes {
		if !r.roundTrip(r.rnd.random(n)) {
			continue
		}

		lat := r.target.LastBurstLatency()
		if withinTolerance(lat, n) {
			score += MaxTimingConstraints / 5
		}
	}

	return score
}

// Nominal ISA burst budget: one microsecond per 64-byte chunk, with a
// quarter slack for refresh stealing cycles.
func withinTolerance(lat time.Duration, n int) bool {
	chunks := (n + 63) / 64
	nominal := time.Duration(chunks) * time.Microsecond
	slack := nominal / 4

	return lat >= nominal-slack && lat <= nominal+slack
}

// checkDataIntegrity pushes rotating patterns at increasing sizes.
func (r *runner) checkDataIntegrity() uint16 {
	sizes := []int{64, 128, 256, 512, 1024}

	var score uint16

	for i := 0; i < 11; i++ {
		if r.score.Phase == PhaseFailed {
			return score
		}

		n := sizes[i%len(sizes)]

		var p []byte

		switch i % 3 {
		case 0:
			p = r.rnd.random(n)
		case 1:
			p = r.rnd.walkingOnes(n)
		default:
			p = r.rnd.addressPattern(uint32(i), n)
		}

		if r.roundTrip(p) {
			score += MaxDataIntegrity / 11
		}
	}

	return score
}

// checkBurstTiming measures latency variance across identical bursts.
func (r *runner) checkBurstTiming() uint16 {
	const rounds = 6

	var lats []time.Duration

	for i := 0; i < rounds; i++ {
		if !r.roundTrip(r.rnd.random(1024)) {
			if r.score.Phase == PhaseFailed {
				return 0
			}

			continue
		}

		lats = append(lats, r.target.LastBurstLatency())
	}

	if len(lats) < rounds {
		return 0
	}

	var sum time.Duration
	for _, l := range lats {
		sum += l
	}

	mean := sum / time.Duration(len(lats))

	var worst time.Duration

	for _, l := range lats {
		dev := l - mean
		if dev < 0 {
			dev = -dev
		}

		if dev > worst {
			worst = dev
		}
	}

	switch {
	case worst*10 <= mean: // within 10%
		return MaxBurstTransfer
	case worst*4 <= mean: // within 25%
		return MaxBurstTransfer / 2
	default:
		return 0
	}
}

// checkErrorRecovery deliberately misprograms a transfer and verifies
// the controller rejects it and comes back after an engine reset.
func (r *runner) checkErrorRecovery() uint16 {
	var score uint16

	if !r.step() {
		return 0
	}

	// A transfer the bus master cannot satisfy must fail loudly.
	if err := r.target.Transmit(0xFFFFFFF0, 64); err != nil {
		score += 15
	} else {
		r.score.ErrorCount++
	}

	reset := func() error {
		r.score.RecoveryAttempts++

		return r.target.ResetEngines()
	}
	bo := backoff.WithMaxRetries(backoff.NewConstantBackOff(time.Millisecond), 3)

	if err := backoff.Retry(reset, bo); err == nil {
		score += 20
	}

	if err := r.target.SetLoopback(true); err != nil {
		return score
	}

	if r.roundTrip(r.rnd.random(128)) {
		score += 20
	}

	return score
}

// checkStability soaks the loopback path for the mode's step budget,
// watching for cumulative corruption or hangs.
func (r *runner) checkStability() uint16 {
	var failures int

	for i := 0; i < r.soakSteps; i++ {
		p := r.rnd.alternating(byte(i), 256)

		if !r.roundTrip(p) {
			if r.score.Phase == PhaseFailed {
				return 0
			}

			failures++
		}
	}

	penalty := failures * int(MaxStability) / 10
	if penalty >= int(MaxStability) {
		return 0
	}

	return MaxStability - uint16(penalty)
}
