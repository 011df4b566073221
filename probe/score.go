// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package probe

import (
	"encoding/json"
	"fmt"
	"reflect"

	"packetdriver.org/dmasafe/internal/jsonutil"
)

// Per-check scoring maxima. The basic phase can reach 250 points, the
// stress phase 152 and the stability soak 50, for a full scale of 452.
const (
	MaxDmaController     = 70
	MaxMemoryCoherency   = 80
	MaxTimingConstraints = 100
	MaxDataIntegrity     = 55
	MaxBurstTransfer     = 42
	MaxErrorRecovery     = 55
	MaxStability         = 50

	MaxBasic  = MaxDmaController + MaxMemoryCoherency + MaxTimingConstraints
	MaxStress = MaxDataIntegrity + MaxBurstTransfer + MaxErrorRecovery
	MaxTotal  = MaxBasic + MaxStress + MaxStability
)

// Confidence grades the capability test verdict.
type Confidence int

const (
	// ConfidenceFailed always resolves to disabling DMA.
	ConfidenceFailed Confidence = iota
	ConfidenceLow
	ConfidenceMedium
	ConfidenceHigh
)

// String implements fmt.Stringer.
func (c Confidence) String() string {
	return [...]string{"failed", "low", "medium", "high"}[c]
}

// MarshalJSON implements json.Marshaler.
func (c Confidence) MarshalJSON() ([]byte, error) {
	return json.Marshal(c.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (c *Confidence) UnmarshalJSON(data []byte) error {
	var str string
	if err := json.Unmarshal(data, &str); err != nil {
		return err
	}

	toID := map[string]Confidence{
		"failed": ConfidenceFailed,
		"low":    ConfidenceLow,
		"medium": ConfidenceMedium,
		"high":   ConfidenceHigh,
	}
	conf, ok := toID[str]
	if !ok {
		return &json.UnmarshalTypeError{
			Value: fmt.Sprintf("string %q", str),
			Type:  reflect.TypeOf(c),
		}
	}
	*c = conf

	return nil
}

// Mode selects the capability test duration.
type Mode int

const (
	// ModeUnset lets the prober pick: quick on CPU classes fast enough,
	// full on the slow parts where mistakes hurt most.
	ModeUnset Mode = iota
	ModeQuick
	ModeFull
)

// String implements fmt.Stringer.
func (m Mode) String() string {
	return [...]string{"unset", "quick", "full"}[m]
}

// MarshalJSON implements json.Marshaler.
func (m Mode) MarshalJSON() ([]byte, error) {
	if m != ModeUnset {
		return json.Marshal(m.String())
	}

	return []byte(jsonutil.Null), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Mode) UnmarshalJSON(data []byte) error {
	if string(data) == jsonutil.Null {
		*m = ModeUnset
	} else {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		toID := map[string]Mode{
			"quick": ModeQuick,
			"full":  ModeFull,
		}
		mode, ok := toID[str]
		if !ok {
			return &json.UnmarshalTypeError{
				Value: fmt.Sprintf("string %q", str),
				Type:  reflect.TypeOf(m),
			}
		}
		*m = mode
	}

	return nil
}

// Phase is the capability test state machine position.
type Phase int

const (
	PhaseBasic Phase = iota
	PhaseStress
	PhaseStability
	PhaseDone
	PhaseFailed
)

// String implements fmt.Stringer.
func (p Phase) String() string {
	return [...]string{"basic", "stress", "stability", "done", "failed"}[p]
}

// Policy holds the scoring thresholds. They are empirically chosen
// constants, not physics; keep them adjustable and validate against the
// hardware matrix actually shipped to.
type Policy struct {
	HighThreshold   uint16 `json:"high_threshold"`
	MediumThreshold uint16 `json:"medium_threshold"`
	LowThreshold    uint16 `json:"low_threshold"`
	// MinimumBasic is the early-exit bar: a basic phase below it fails
	// the whole test without running stress or stability.
	MinimumBasic uint16 `json:"minimum_basic"`
	// Soak step budgets stand in for the wall-clock soak durations; the
	// prober never sleeps, it spends bounded steps.
	FullSoakSteps  int `json:"full_soak_steps"`
	QuickSoakSteps int `json:"quick_soak_steps"`
	// Seed pins the pseudo-random pattern inputs. Zero derives the seed
	// from the hardware fingerprint, which keeps repeated runs on the
	// same machine identical.
	Seed int64 `json:"seed"`
}

// DefaultPolicy returns the stock thresholds: HIGH >=400, MEDIUM >=300,
// LOW >=200, below that FAILED.
func DefaultPolicy() Policy {
	return Policy{
		HighThreshold:   400,
		MediumThreshold: 300,
		LowThreshold:    200,
		MinimumBasic:    150,
		FullSoakSteps:   3000,
		QuickSoakSteps:  500,
	}
}

// Validate reports whether the thresholds are ordered sanely.
func (p *Policy) Validate() error {
	if p.HighThreshold > MaxTotal {
		return ErrPolicyThresholds
	}

	if p.HighThreshold <= p.MediumThreshold || p.MediumThreshold <= p.LowThreshold {
		return ErrPolicyThresholds
	}

	if p.MinimumBasic == 0 || p.MinimumBasic > MaxBasic {
		return ErrPolicyThresholds
	}

	if p.FullSoakSteps <= 0 || p.QuickSoakSteps <= 0 {
		return ErrPolicyThresholds
	}

	return nil
}

// Level grades a total score against the policy.
func (p *Policy) Level(total uint16) Confidence {
	switch {
	case total >= p.HighThreshold:
		return ConfidenceHigh
	case total >= p.MediumThreshold:
		return ConfidenceMedium
	case total >= p.LowThreshold:
		return ConfidenceLow
	default:
		return ConfidenceFailed
	}
}

// Score is the capability test result. Produced once by Run, consumed
// by the tier selector and kept around for diagnostics.
type Score struct {
	Total     uint16     `json:"total"`
	Level     Confidence `json:"level"`
	Phase     Phase      `json:"-"`
	Completed bool       `json:"completed"`
	Mode      Mode       `json:"mode"`

	// Basic phase.
	DmaController     uint16 `json:"dma_controller"`
	MemoryCoherency   uint16 `json:"memory_coherency"`
	TimingConstraints uint16 `json:"timing_constraints"`

	// Stress phase.
	DataIntegrity uint16 `json:"data_integrity"`
	BurstTransfer uint16 `json:"burst_transfer"`
	ErrorRecovery uint16 `json:"error_recovery"`

	// Stability phase.
	Stability uint16 `json:"stability"`

	// Pass flags and raw metrics for the diagnostics report.
	CoherencyPassed    bool   `json:"coherency_passed"`
	BurstTimingPassed  bool   `json:"burst_timing_passed"`
	RecoveryPassed     bool   `json:"recovery_passed"`
	StabilityPassed    bool   `json:"stability_passed"`
	PatternsVerified   uint32 `json:"patterns_verified"`
	ErrorCount         uint16 `json:"error_count"`
	RecoveryAttempts   uint16 `json:"recovery_attempts"`
	BytesTransferred   uint32 `json:"bytes_transferred"`
	TransfersCompleted uint32 `json:"transfers_completed"`
	FailureReason      string `json:"failure_reason,omitempty"`
}

func (s *Score) basicTotal() uint16 {
	return s.DmaController + s.MemoryCoherency + s.TimingConstraints
}

func (s *Score) sum() uint16 {
	return s.basicTotal() + s.DataIntegrity + s.BurstTransfer + s.ErrorRecovery + s.Stability
}
