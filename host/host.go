// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package host persists the probed DMA capability across boots so the
// driver can skip the full prober on machines it has already
// qualified. The stored state is wrapped in an envelope carrying a
// format version, the hardware fingerprint it was measured on and a
// checksum; any mismatch invalidates the slot and forces a re-probe.
package host

import (
	"encoding/json"
	"errors"
	"hash/crc32"
	"time"

	"packetdriver.org/dmasafe/coherency"
	"packetdriver.org/dmasafe/dserror"
	"packetdriver.org/dmasafe/probe"
)

// EnvelopeVersion is bumped whenever the persisted layout changes.
// Older envelopes are discarded, never migrated.
const EnvelopeVersion = 1

var (
	// ErrNoState reports an empty or missing slot. Not a fault, the
	// caller probes and fills it.
	ErrNoState = errors.New("no persisted state")

	ErrVersionMismatch     = errors.New("persisted state has a different envelope version")
	ErrChecksumMismatch    = errors.New("persisted state failed its checksum")
	ErrFingerprintMismatch = errors.New("persisted state was measured on different hardware")
	ErrBadTier             = errors.New("persisted tier is not valid")
	ErrScoreRange          = errors.New("persisted confidence score is out of range")
)

// State is what survives a reboot.
type State struct {
	Tier            coherency.Tier `json:"tier"`
	ConfidenceScore uint16         `json:"confidence_score"`
	LastTest        time.Time      `json:"last_test"`
	RollbackCount   uint8          `json:"rollback_count"`
}

// Validate reports whether the state is internally consistent.
func (s *State) Validate() error {
	const op = dserror.Op("State.Validate")

	if s.Tier == coherency.TierUnset {
		return dserror.E(op, dserror.Host, ErrBadTier)
	}

	if int(s.ConfidenceScore) > probe.MaxTotal {
		return dserror.E(op, dserror.Host, ErrScoreRange)
	}

	return nil
}

type envelope struct {
	Version     int    `json:"version"`
	Fingerprint uint32 `json:"hardware_fingerprint"`
	State       State  `json:"state"`
	Checksum    uint32 `json:"checksum"`
}

func (e *envelope) payload() ([]byte, error) {
	stripped := *e
	stripped.Checksum = 0

	return json.Marshal(stripped)
}

// Seal wraps a state for persistence, binding it to the hardware
// fingerprint it was measured on.
func Seal(s State, fingerprint uint32) ([]byte, error) {
	const op = dserror.Op("host.Seal")

	if err := s.Validate(); err != nil {
		return nil, err
	}

	env := envelope{
		Version:     EnvelopeVersion,
		Fingerprint: fingerprint,
		State:       s,
	}

	payload, err := env.payload()
	if err != nil {
		return nil, dserror.E(op, dserror.Host, err)
	}
	env.Checksum = crc32.ChecksumIEEE(payload)

	data, err := json.Marshal(env)
	if err != nil {
		return nil, dserror.E(op, dserror.Host, err)
	}

	return data, nil
}

// Open unwraps persisted bytes and validates them against the running
// hardware. Every failure mode maps to its own error so the caller
// can log why the slot was discarded.
func Open(data []byte, fingerprint uint32) (State, error) {
	const op = dserror.Op("host.Open")

	state, sealedFor, err := Inspect(data)
	if err != nil {
		return State{}, err
	}

	if sealedFor != fingerprint {
		return State{}, dserror.E(op, dserror.Host, ErrFingerprintMismatch)
	}

	return state, nil
}

// Inspect unwraps persisted bytes without binding them to hardware,
// returning the state and the fingerprint it was sealed for. Offline
// tooling uses it where the live hardware is not available.
func Inspect(data []byte) (State, uint32, error) {
	const op = dserror.Op("host.Inspect")

	if len(data) == 0 {
		return State{}, 0, dserror.E(op, dserror.Host, ErrNoState)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return State{}, 0, dserror.E(op, dserror.Host, err)
	}

	if env.Version != EnvelopeVersion {
		return State{}, 0, dserror.E(op, dserror.Host, ErrVersionMismatch)
	}

	payload, err := env.payload()
	if err != nil {
		return State{}, 0, dserror.E(op, dserror.Host, err)
	}
	if crc32.ChecksumIEEE(payload) != env.Checksum {
		return State{}, 0, dserror.E(op, dserror.Host, ErrChecksumMismatch)
	}

	if err := env.State.Validate(); err != nil {
		return State{}, 0, err
	}

	return env.State, env.Fingerprint, nil
}
