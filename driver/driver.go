// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package driver owns the DMA safety pipeline: probe the machine once,
// select a coherency tier, patch the hot path, guard every transfer
// and retreat to a safer tier when the runtime monitor trips.
//
// All reconfiguration happens in setup context behind a mutex with the
// interrupt gate closed. The transfer path reads the published tier
// and strategy through an atomic and never blocks on setup.
package driver

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"packetdriver.org/dmasafe/boundary"
	"packetdriver.org/dmasafe/coherency"
	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/dslog"
	"packetdriver.org/dmasafe/host"
	"packetdriver.org/dmasafe/hwinfo"
	"packetdriver.org/dmasafe/monitor"
	"packetdriver.org/dmasafe/opts"
	"packetdriver.org/dmasafe/patch"
	"packetdriver.org/dmasafe/probe"
)

// Config carries everything a Core needs. Target and Slot are
// injected so the same pipeline runs against real hardware, the
// simulator and the tests.
type Config struct {
	Cpu     hwinfo.CpuProfile
	Chipset hwinfo.ChipsetFacts
	Target  probe.Target
	Slot    host.Slot
	Opts    *opts.Opts
}

// Status is the driver's queryable view, serialized as-is by dmactl.
type Status struct {
	Tier          coherency.Tier          `json:"tier"`
	Confidence    probe.Confidence        `json:"confidence"`
	Score         uint16                  `json:"score"`
	Probed        bool                    `json:"probed"`
	LastTest      time.Time               `json:"last_test"`
	RollbackCount uint8                   `json:"rollback_count"`
	Rollbacks     []monitor.RollbackEvent `json:"rollbacks,omitempty"`
	Boundary      boundary.Stats          `json:"boundary"`
}

// published is the state the transfer path reads lock-free.
type published struct {
	tier     coherency.Tier
	strategy coherency.Strategy
}

// Core drives the pipeline. Construct with New, bring up with Setup.
type Core struct {
	cfg         Config
	fingerprint uint32
	guard       *boundary.Guard
	engine      *patch.Engine
	mon         *monitor.Monitor
	rollbacks   monitor.RollbackLog

	// mu serializes setup context: Setup, downgrades and the force
	// entry points. Never taken on the transfer path.
	mu     sync.Mutex
	state  host.State
	probed bool
	active atomic.Value
	ready  uint32
}

var (
	ErrNotSetUp = errors.New("setup has not completed")
	ErrNilSlot  = errors.New("qualification slot is nil")
)

// New validates the configuration and builds the pipeline parts. The
// hardware is not touched until Setup.
func New(cfg Config) (*Core, error) {
	const op = dserror.Op("driver.New")

	if cfg.Target == nil {
		return nil, dserror.E(op, dserror.Driver, probe.ErrNilTarget)
	}
	if cfg.Slot == nil {
		return nil, dserror.E(op, dserror.Driver, ErrNilSlot)
	}

	if err := cfg.Cpu.Validate(); err != nil {
		return nil, err
	}
	if err := cfg.Chipset.Validate(); err != nil {
		return nil, err
	}
	if err := opts.DriverValidation().Validate(cfg.Opts); err != nil {
		return nil, err
	}

	pool, err := boundary.NewPool(cfg.Opts.PoolBase, cfg.Opts.PoolBuffers, cfg.Opts.PoolBufferSize)
	if err != nil {
		return nil, err
	}

	guard, err := boundary.NewGuard(cfg.Chipset, cfg.Target, pool)
	if err != nil {
		return nil, err
	}

	engine, err := patch.NewEngine(nil, nil)
	if err != nil {
		return nil, err
	}

	mon, err := monitor.New(cfg.Opts.Thresholds)
	if err != nil {
		return nil, err
	}

	c := &Core{
		cfg:         cfg,
		fingerprint: hwinfo.Fingerprint(&cfg.Cpu, &cfg.Chipset),
		guard:       guard,
		engine:      engine,
		mon:         mon,
	}
	c.active.Store(published{
		tier:     coherency.TierDisabled,
		strategy: coherency.ForTier(coherency.TierDisabled, cfg.Target),
	})

	return c, nil
}

// Setup brings the pipeline up: restore a persisted qualification or
// run the prober, select the tier, patch the hot path, persist and
// open the interrupt gate. DMA staying off is not an error; Setup only
// fails when the pipeline itself cannot be brought up.
func (c *Core) Setup() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.cfg.Opts.Reprobe {
		if err := c.cfg.Slot.Invalidate(); err != nil {
			return err
		}
	}

	tier, err := c.restoreOrProbe()
	if err != nil {
		return err
	}

	tier = c.applyLocked(tier)

	if c.state.Tier != tier {
		c.state.Tier = tier
		c.saveStateLocked()
	}

	c.cfg.Target.EnableInterrupts()
	atomic.StoreUint32(&c.ready, 1)

	dslog.Info("driver: up, tier %s, confidence %s",
		tier, c.cfg.Opts.Policy.Level(c.state.ConfidenceScore))

	return nil
}

// restoreOrProbe fills c.state, from the slot when a valid
// qualification for this hardware exists, from a fresh probe run
// otherwise. Returns the selected tier. Call with mu held.
func (c *Core) restoreOrProbe() (coherency.Tier, error) {
	state, err := c.cfg.Slot.Load(c.fingerprint)
	if err == nil {
		c.state = state
		c.probed = false
		dslog.Info("driver: restored qualification, tier %s", state.Tier)

		return state.Tier, nil
	}

	dslog.Debug("driver: no usable persisted state: %v", err)

	score, err := probe.Run(&c.cfg.Cpu, &c.cfg.Chipset, c.cfg.Target, c.cfg.Opts.Mode, c.cfg.Opts.Policy)
	if err != nil {
		return coherency.TierUnset, err
	}

	tier := coherency.Select(&c.cfg.Cpu, score)
	c.state = host.State{
		Tier:            tier,
		ConfidenceScore: score.Total,
		LastTest:        time.Now().UTC(),
	}
	c.probed = true
	c.saveStateLocked()

	dslog.Info("driver: probed %d/%d (%s), tier %s",
		score.Total, probe.MaxTotal, score.Level, tier)

	return tier, nil
}

// applyLocked patches the hot path for the tier and publishes the
// matching strategy. A patch verification failure is final: the
// engine has already forced the disabled encodings, so the published
// tier follows it down. Call with mu held and the gate closed.
func (c *Core) applyLocked(tier coherency.Tier) coherency.Tier {
	if _, err := c.engine.Apply(tier); err != nil {
		dslog.Error("driver: patching for tier %s failed: %v", tier, err)
		tier = coherency.TierDisabled
	}

	c.active.Store(published{
		tier:     tier,
		strategy: coherency.ForTier(tier, c.cfg.Target),
	})

	return tier
}

func (c *Core) saveStateLocked() {
	if err := c.cfg.Slot.Save(c.state, c.fingerprint); err != nil {
		// Persistence trouble costs a re-probe next boot, nothing
		// worse. Keep running.
		dslog.Warn("driver: persisting state failed: %v", err)
	}
}

func (c *Core) publishedState() published {
	return c.active.Load().(published)
}

// Tier returns the active coherency tier. Lock-free.
func (c *Core) Tier() coherency.Tier {
	return c.publishedState().tier
}

// Query returns the driver's current status.
func (c *Core) Query() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	return Status{
		Tier:          c.publishedState().tier,
		Confidence:    c.cfg.Opts.Policy.Level(c.state.ConfidenceScore),
		Score:         c.state.ConfidenceScore,
		Probed:        c.probed,
		LastTest:      c.state.LastTest,
		RollbackCount: c.state.RollbackCount,
		Rollbacks:     c.rollbacks.Events(),
		Boundary:      c.guard.Snapshot(),
	}
}

// quiesce closes the interrupt gate and returns a function restoring
// its previous state. In-flight transfers have completed by the time
// the gate is closed; new ones see the republished state only after
// the mutation is done. Call with mu held.
func (c *Core) quiesce() func() {
	wasEnabled := c.cfg.Target.InterruptsEnabled()
	c.cfg.Target.DisableInterrupts()

	return func() {
		if wasEnabled {
			c.cfg.Target.EnableInterrupts()
		}
	}
}

// ForceReprobe discards the persisted qualification and runs the full
// pipeline again. Setup context only.
func (c *Core) ForceReprobe() error {
	const op = dserror.Op("driver.ForceReprobe")

	c.mu.Lock()
	defer c.mu.Unlock()

	if atomic.LoadUint32(&c.ready) == 0 {
		return dserror.E(op, dserror.Driver, ErrNotSetUp)
	}

	reopen := c.quiesce()
	defer reopen()

	if err := c.cfg.Slot.Invalidate(); err != nil {
		return err
	}

	tier, err := c.restoreOrProbe()
	if err != nil {
		return err
	}

	tier = c.applyLocked(tier)
	if c.state.Tier != tier {
		c.state.Tier = tier
		c.saveStateLocked()
	}
	c.mon.Reset()

	dslog.Info("driver: re-probe complete, tier %s", tier)

	return nil
}

// ForceDisable drops to the disabled tier and persists it. Setup
// context only.
func (c *Core) ForceDisable() error {
	const op = dserror.Op("driver.ForceDisable")

	c.mu.Lock()
	defer c.mu.Unlock()

	if atomic.LoadUint32(&c.ready) == 0 {
		return dserror.E(op, dserror.Driver, ErrNotSetUp)
	}

	reopen := c.quiesce()
	defer reopen()

	c.applyLocked(coherency.TierDisabled)
	c.state.Tier = coherency.TierDisabled
	c.saveStateLocked()
	c.mon.Reset()

	dslog.Info("driver: DMA disabled by request")

	return nil
}

// RecordStaleRead notes a receive whose payload turned out stale, as
// detected by the caller's integrity checks. Safe from interrupt
// context; the downgrade itself happens on the next main-loop pass.
func (c *Core) RecordStaleRead() {
	c.mon.Record(monitor.EventStaleRead)
}

// Poll runs deferred maintenance from the main loop: if the monitor
// has tripped, the tier is downgraded one step under quiesce. Returns
// true when a downgrade happened.
func (c *Core) Poll() bool {
	ev, pending := c.mon.TripPending()
	if !pending {
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	// Re-check under the lock, another caller may have handled it.
	ev, pending = c.mon.TripPending()
	if !pending {
		return false
	}

	from := c.publishedState().tier
	to := coherency.Next(from)
	if to == from {
		// Terminal tier, nothing further to retreat to.
		c.mon.Reset()

		return false
	}

	reopen := c.quiesce()
	defer reopen()

	to = c.applyLocked(to)
	seq := c.rollbacks.Append(ev, from, to)

	c.state.Tier = to
	if c.state.RollbackCount < ^uint8(0) {
		c.state.RollbackCount++
	}
	c.saveStateLocked()
	c.mon.Reset()

	dslog.Warn("driver: rollback %d: %s, %s -> %s", seq, ev, from, to)

	return true
}
