// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package coherency decides how DMA-visible memory is kept consistent
// with the CPU cache, and implements each of the maintenance tiers.
package coherency

import (
	"encoding/json"
	"fmt"
	"reflect"

	"packetdriver.org/dmasafe/internal/jsonutil"
)

// Tier is a cache-coherency maintenance strategy. Exactly one tier is
// active system-wide; it is selected once per boot and changes only
// through the quiesced downgrade path.
type Tier int

const (
	TierUnset Tier = iota
	// TierLineFlush flushes exactly the lines a transfer touches.
	TierLineFlush
	// TierWholeCache flushes the entire cache around each transfer.
	TierWholeCache
	// TierSoftwareBarrier forces coherency with inline software
	// barriers, no hardware flush assist.
	TierSoftwareBarrier
	// TierConservativeDelay waits out a generous fixed settle margin.
	TierConservativeDelay
	// TierDisabled turns DMA off entirely; transfers fall back to
	// programmed I/O. Terminal: nothing downgrades past it.
	TierDisabled
)

// String implements fmt.Stringer.
func (t Tier) String() string {
	return [...]string{
		"unset",
		"line-flush",
		"whole-cache-flush",
		"software-barrier",
		"conservative-delay",
		"disabled",
	}[t]
}

// MarshalJSON implements json.Marshaler.
func (t Tier) MarshalJSON() ([]byte, error) {
	if t != TierUnset {
		return json.Marshal(t.String())
	}

	return []byte(jsonutil.Null), nil
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Tier) UnmarshalJSON(data []byte) error {
	if string(data) == jsonutil.Null {
		*t = TierUnset
	} else {
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}

		toID := map[string]Tier{
			"line-flush":         TierLineFlush,
			"whole-cache-flush":  TierWholeCache,
			"software-barrier":   TierSoftwareBarrier,
			"conservative-delay": TierConservativeDelay,
			"disabled":           TierDisabled,
		}
		tier, ok := toID[str]
		if !ok {
			return &json.UnmarshalTypeError{
				Value: fmt.Sprintf("string %q", str),
				Type:  reflect.TypeOf(t),
			}
		}
		*t = tier
	}

	return nil
}

// UsesDma reports whether the tier permits bus-master transfers at all.
func (t Tier) UsesDma() bool {
	return t != TierDisabled && t != TierUnset
}

// Next returns the next-safer tier below t. Downgrades walk this
// ordering and stop at TierDisabled.
func Next(t Tier) Tier {
	switch t {
	case TierLineFlush:
		return TierWholeCache
	case TierWholeCache:
		return TierSoftwareBarrier
	case TierSoftwareBarrier:
		return TierConservativeDelay
	default:
		return TierDisabled
	}
}
