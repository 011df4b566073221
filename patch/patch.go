// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package patch rewrites the driver's hot-path patch windows to the
// instruction sequence of the selected coherency tier.
//
// Applying a tier is a setup-context operation: the caller quiesces
// the hardware first, the engine writes each window, serializes the
// instruction pipeline after every write and verifies all windows by
// reading them back. A verification mismatch is fatal and leaves every
// window in the disabled encoding.
package patch

import (
	"bytes"
	"errors"
	"sync/atomic"

	"packetdriver.org/dmasafe/coherency"
	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/dslog"
)

// MaxSites bounds the registry. The hot path has five windows; a few
// spares cover driver variants.
const MaxSites = 8

var (
	// ErrVerifyMismatch reports that a patched window read back
	// different bytes than were written. Fatal; not retried.
	ErrVerifyMismatch = errors.New("patch window read-back mismatch")

	ErrEmptySiteName = errors.New("patch site name must be set")
	ErrRegistryFull  = errors.New("patch site registry full")
	ErrDuplicateSite = errors.New("patch site already registered")
)

// Site describes one patchable window in the hot path.
type Site struct {
	Name string
	Desc string
}

type window struct {
	site  Site
	bytes [SiteLen]byte
}

// Serializer flushes the instruction pipeline after a code write. On
// the real hardware this is the far-jump idiom; the default models it
// with a full memory fence.
type Serializer func()

// WriteHook intercepts window writes. Production engines pass none;
// tests use it to model memory that does not take writes.
type WriteHook func(site string, b [SiteLen]byte) [SiteLen]byte

// Report summarizes one Apply run.
type Report struct {
	Tier       coherency.Tier `json:"tier"`
	Patched    int            `json:"patched"`
	Mismatches int            `json:"mismatches"`
	Serialized int            `json:"serialized"`
}

// Engine owns the patch windows. Apply runs in setup context only;
// the applied tier is published atomically so the interrupt path can
// read it without locks.
type Engine struct {
	windows   []*window
	serialize Serializer
	hook      WriteHook
	applied   uint32
}

var fenceWord uint32

func defaultSerializer() {
	atomic.AddUint32(&fenceWord, 1)
	_ = atomic.LoadUint32(&fenceWord)
}

// NewEngine returns an engine with the standard five hot-path sites
// registered and every window in the disabled encoding. A nil
// serializer selects the default fence.
func NewEngine(s Serializer, hook WriteHook) (*Engine, error) {
	if s == nil {
		s = defaultSerializer
	}

	e := &Engine{
		serialize: s,
		hook:      hook,
		applied:   uint32(coherency.TierDisabled),
	}

	defaults := []Site{
		{Name: SiteTxPrepare, Desc: "before handing a frame to the DMA engine"},
		{Name: SiteTxComplete, Desc: "after transmit completion"},
		{Name: SiteRxPrepare, Desc: "before posting a receive buffer"},
		{Name: SiteRxComplete, Desc: "after a receive lands"},
		{Name: SiteDispatch, Desc: "interrupt dispatch ordering point"},
	}
	for _, s := range defaults {
		if err := e.Register(s); err != nil {
			return nil, err
		}
	}

	return e, nil
}

// Register adds a patch window to the registry. Registration happens
// before the first Apply; names are unique.
func (e *Engine) Register(s Site) error {
	const op = dserror.Op("patch.Register")

	if s.Name == "" {
		return dserror.E(op, dserror.Patch, ErrEmptySiteName)
	}
	if len(e.windows) >= MaxSites {
		return dserror.E(op, dserror.Patch, ErrRegistryFull)
	}
	for _, w := range e.windows {
		if w.site.Name == s.Name {
			return dserror.E(op, dserror.Patch, ErrDuplicateSite)
		}
	}

	e.windows = append(e.windows, &window{
		site:  s,
		bytes: Encoding(coherency.TierDisabled, s.Name),
	})

	return nil
}

// Sites returns the registered sites in registration order.
func (e *Engine) Sites() []Site {
	out := make([]Site, len(e.windows))
	for i, w := range e.windows {
		out[i] = w.site
	}

	return out
}

// SiteBytes returns a copy of the named window's current bytes.
func (e *Engine) SiteBytes(name string) ([SiteLen]byte, bool) {
	for _, w := range e.windows {
		if w.site.Name == name {
			return w.bytes, true
		}
	}

	return [SiteLen]byte{}, false
}

// AppliedTier returns the last successfully applied tier. Safe from
// interrupt context.
func (e *Engine) AppliedTier() coherency.Tier {
	return coherency.Tier(atomic.LoadUint32(&e.applied))
}

func (e *Engine) write(w *window, b [SiteLen]byte) {
	if e.hook != nil {
		b = e.hook(w.site.Name, b)
	}
	w.bytes = b
	e.serialize()
}

// Apply rewrites every window to the tier's canonical encoding, one
// serialized write per site, then verifies all windows by read-back.
// Any mismatch forces every window back to the disabled encoding and
// returns ErrVerifyMismatch; the caller must not retry.
func (e *Engine) Apply(tier coherency.Tier) (Report, error) {
	const op = dserror.Op("patch.Apply")

	report := Report{Tier: tier}

	for _, w := range e.windows {
		e.write(w, Encoding(tier, w.site.Name))
		report.Patched++
		report.Serialized++
	}

	for _, w := range e.windows {
		want := Encoding(tier, w.site.Name)
		if !bytes.Equal(w.bytes[:], want[:]) {
			report.Mismatches++
			dslog.Error("patch: site %s read back %x, want %x", w.site.Name, w.bytes, want)
		}
	}

	if report.Mismatches > 0 {
		// Unpatchable memory still gets the safe default. The disabled
		// encoding is the NOP filler the windows boot with, so even a
		// failed write leaves executable code behind.
		for _, w := range e.windows {
			w.bytes = Encoding(coherency.TierDisabled, w.site.Name)
			e.serialize()
			report.Serialized++
		}
		atomic.StoreUint32(&e.applied, uint32(coherency.TierDisabled))
		report.Tier = coherency.TierDisabled

		return report, dserror.E(op, dserror.Patch, ErrVerifyMismatch)
	}

	atomic.StoreUint32(&e.applied, uint32(tier))
	dslog.Info("patch: %d sites patched for tier %s", report.Patched, tier)

	return report, nil
}
