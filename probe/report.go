// Copyright 2026 the dmasafe Authors. All rights reserved
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

package probe

import (
	"fmt"
	"strings"
)

// Report renders a human-readable summary of the score for the
// diagnostics tooling.
func (s *Score) Report() string {
	var b strings.Builder

	fmt.Fprintf(&b, "capability test: %s (%d/%d points, mode %s)\n",
		strings.ToUpper(s.Level.String()), s.Total, MaxTotal, s.Mode)

	if !s.Completed {
		fmt.Fprintf(&b, "  test did not complete (stopped in %s phase)\n", s.Phase)
	}

	if s.FailureReason != "" {
		fmt.Fprintf(&b, "  failure: %s\n", s.FailureReason)
	}

	fmt.Fprintf(&b, "  basic:     dma-controller %d/%d, coherency %d/%d, timing %d/%d\n",
		s.DmaController, MaxDmaController,
		s.MemoryCoherency, MaxMemoryCoherency,
		s.TimingConstraints, MaxTimingConstraints)
	fmt.Fprintf(&b, "  stress:    integrity %d/%d, burst %d/%d, recovery %d/%d\n",
		s.DataIntegrity, MaxDataIntegrity,
		s.BurstTransfer, MaxBurstTransfer,
		s.ErrorRecovery, MaxErrorRecovery)
	fmt.Fprintf(&b, "  stability: %d/%d\n", s.Stability, MaxStability)
	fmt.Fprintf(&b, "  transfers: %d (%d bytes), patterns verified %d, errors %d, recoveries %d\n",
		s.TransfersCompleted, s.BytesTransferred,
		s.PatternsVerified, s.ErrorCount, s.RecoveryAttempts)

	return b.String()
}
