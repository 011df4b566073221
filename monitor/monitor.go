// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor watches the transfer path for signs that the probed
// coherency tier was too optimistic. Event recording is lock-free and
// safe from interrupt context; a tripped monitor only raises a flag,
// the actual tier downgrade runs later in setup context with the
// interrupt gate closed.
package monitor

import (
	"encoding/json"
	"errors"
	"reflect"
	"sync/atomic"

	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/internal/jsonutil"
)

// Event classifies one runtime anomaly.
type Event int

const (
	EventUnset Event = iota
	// EventStaleRead is a receive whose data did not match what the
	// device wrote, the classic symptom of a missed invalidate.
	EventStaleRead
	// EventBoundaryViolation is a transfer the boundary guard had to
	// redirect or reject.
	EventBoundaryViolation
	// EventExcessiveRetry is a transfer that needed repeated engine
	// restarts to complete.
	EventExcessiveRetry
)

const numEvents = 3

// String implements fmt.Stringer.
func (e Event) String() string {
	return [...]string{
		"unset",
		"stale read",
		"boundary violation",
		"excessive retry",
	}[e]
}

// MarshalJSON implements json.Marshaler.
func (e Event) MarshalJSON() ([]byte, error) {
	if e != EventUnset {
		return json.Marshal(e.String())
	}

	return []byte(jsonutil.Null), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *Event) UnmarshalJSON(data []byte) error {
	if string(data) == jsonutil.Null {
		*e = EventUnset

		return nil
	}

	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	toID := map[string]Event{
		"stale read":         EventStaleRead,
		"boundary violation": EventBoundaryViolation,
		"excessive retry":    EventExcessiveRetry,
	}
	ev, ok := toID[s]
	if !ok {
		return &json.UnmarshalTypeError{
			Value: string(data),
			Type:  reflect.TypeOf(*e),
		}
	}
	*e = ev

	return nil
}

// Thresholds are the per-kind trip counts within one observation
// window. A zero threshold disables tripping on that kind.
type Thresholds struct {
	StaleRead         uint32 `json:"stale_read"`
	BoundaryViolation uint32 `json:"boundary_violation"`
	ExcessiveRetry    uint32 `json:"excessive_retry"`
	// Window is the number of recorded observations after which the
	// per-kind counts reset. Observation counts stand in for wall
	// time so the monitor stays deterministic.
	Window uint32 `json:"window"`
}

// DefaultThresholds returns the stock trip policy.
func DefaultThresholds() Thresholds {
	return Thresholds{
		StaleRead:         20,
		BoundaryViolation: 40,
		ExcessiveRetry:    10,
		Window:            1000,
	}
}

var ErrZeroWindow = errors.New("monitor window must be positive")

// Validate implements opts.Validater.
func (t *Thresholds) Validate() error {
	const op = dserror.Op("Thresholds.Validate")

	if t.Window == 0 {
		return dserror.E(op, dserror.Monitor, ErrZeroWindow)
	}

	return nil
}

// Monitor counts anomalies in a sliding observation window and trips
// once any kind reaches its threshold. All state is atomic: Record
// runs from the interrupt path, TripPending and Reset from setup
// context.
type Monitor struct {
	thresholds Thresholds
	counts     [numEvents]uint32
	observed   uint32
	tripped    uint32
	reason     uint32
}

// New returns a monitor with the given trip policy.
func New(t Thresholds) (*Monitor, error) {
	if err := t.Validate(); err != nil {
		return nil, err
	}

	return &Monitor{thresholds: t}, nil
}

func (m *Monitor) threshold(e Event) uint32 {
	switch e {
	case EventStaleRead:
		return m.thresholds.StaleRead
	case EventBoundaryViolation:
		return m.thresholds.BoundaryViolation
	case EventExcessiveRetry:
		return m.thresholds.ExcessiveRetry
	}

	return 0
}

// Record notes one anomaly. It returns true when this observation
// tripped the monitor. Once tripped, further events are still counted
// but cannot trip again until Reset.
func (m *Monitor) Record(e Event) bool {
	if e <= EventUnset || e > EventExcessiveRetry {
		return false
	}

	m.advanceWindow()

	n := atomic.AddUint32(&m.counts[e-1], 1)

	limit := m.threshold(e)
	if limit == 0 || n < limit {
		return false
	}

	if atomic.CompareAndSwapUint32(&m.tripped, 0, 1) {
		atomic.StoreUint32(&m.reason, uint32(e))

		return true
	}

	return false
}

// Observe advances the window without recording an anomaly. The
// transfer path calls it once per clean transfer so windows track
// traffic, not time.
func (m *Monitor) Observe() {
	m.advanceWindow()
}

func (m *Monitor) advanceWindow() {
	if atomic.AddUint32(&m.observed, 1) < m.thresholds.Window {
		return
	}

	// Window rollover. Counts reset unless a trip is waiting for the
	// setup context to act on it.
	if atomic.LoadUint32(&m.tripped) != 0 {
		return
	}

	atomic.StoreUint32(&m.observed, 0)
	for i := range m.counts {
		atomic.StoreUint32(&m.counts[i], 0)
	}
}

// TripPending reports whether a trip awaits handling, and its reason.
func (m *Monitor) TripPending() (Event, bool) {
	if atomic.LoadUint32(&m.tripped) == 0 {
		return EventUnset, false
	}

	return Event(atomic.LoadUint32(&m.reason)), true
}

// Count returns the current window's count for the given kind.
func (m *Monitor) Count(e Event) uint32 {
	if e <= EventUnset || e > EventExcessiveRetry {
		return 0
	}

	return atomic.LoadUint32(&m.counts[e-1])
}

// Reset clears the trip flag and all window state. Called after the
// downgrade completes so the new tier starts with a clean slate.
func (m *Monitor) Reset() {
	atomic.StoreUint32(&m.observed, 0)
	for i := range m.counts {
		atomic.StoreUint32(&m.counts[i], 0)
	}
	atomic.StoreUint32(&m.reason, 0)
	atomic.StoreUint32(&m.tripped, 0)
}
