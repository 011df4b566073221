// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package coherency

import (
	"packetdriver.org/dmasafe/dslog"
	"packetdriver.org/dmasafe/hwinfo"
	"packetdriver.org/dmasafe/probe"
)

// Select picks the coherency tier for this machine. Deterministic,
// first match wins: the cheapest mechanism that is still correct.
// Hardware flush beats software barrier beats blanket delay on cost;
// all three are equivalent on correctness.
func Select(cpu *hwinfo.CpuProfile, score *probe.Score) Tier {
	tier := selectTier(cpu, score)

	dslog.Info("coherency: selected tier %s", tier)

	return tier
}

func selectTier(cpu *hwinfo.CpuProfile, score *probe.Score) Tier {
	switch {
	case score == nil || score.Level == probe.ConfidenceFailed:
		return TierDisabled

	case cpu.Cache == hwinfo.CacheLineFlush:
		return TierLineFlush

	case cpu.Cache == hwinfo.CacheWholeFlush && score.Level >= probe.ConfidenceLow:
		return TierWholeCache

	case barrierHeadroom(cpu):
		return TierSoftwareBarrier

	default:
		return TierConservativeDelay
	}
}

// barrierHeadroom reports whether the CPU class can afford inline
// software barriers on the hot path. The 16-bit parts cannot; they get
// the fixed delay margin instead.
func barrierHeadroom(cpu *hwinfo.CpuProfile) bool {
	return cpu.Family >= hwinfo.Family386
}
